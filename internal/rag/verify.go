package rag

import (
	"context"
	"fmt"

	"github.com/katakuxiko/smeplug/internal/model"
)

// DefaultThreshold is the maximum cosine distance accepted as evidence.
const DefaultThreshold = 0.5

// Verify gates generation on the best match. Distances are lower-is-better, so a
// match is accepted when best <= threshold, including equality.
func Verify(retrieved []model.ScoredChunk, threshold float64) (Verification, string) {
	if len(retrieved) == 0 {
		return Verification{ContextOK: false, Threshold: threshold}, "No chunks retrieved from vector store."
	}
	best := retrieved[0].Distance
	ok := best <= threshold
	detail := fmt.Sprintf("Best distance %.4f vs threshold %.4f -> context_ok=%t", best, threshold, ok)
	return Verification{ContextOK: ok, BestDistance: best, Threshold: threshold}, detail
}

// Verifier is the verify stage.
type Verifier struct {
	threshold float64
}

// NewVerifier создаёт шаг проверки с порогом расстояния
func NewVerifier(threshold float64) *Verifier {
	return &Verifier{threshold: threshold}
}

// Name возвращает имя шага
func (v *Verifier) Name() string { return StageVerify }

// Run принимает контекст, если лучшее расстояние не больше порога
func (v *Verifier) Run(_ context.Context, st QueryState) (Delta, error) {
	res, detail := Verify(st.Retrieved(), v.threshold)
	status := StatusOK
	if !res.ContextOK {
		status = StatusRejected
	}
	return Delta{Verification: &res, Status: status, Detail: detail}, nil
}
