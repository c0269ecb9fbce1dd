package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/logging"
)

// Stage is one step of the pipeline. It reads a snapshot of the state and
// returns only the fields it owns.
type Stage interface {
	Name() string
	Run(ctx context.Context, st QueryState) (Delta, error)
}

// Pipeline runs retrieve, verify and compose in order, unconditionally.
// Branching on the verification outcome happens inside compose, so every run
// leaves exactly one trace entry per stage.
type Pipeline struct {
	stages []Stage
	log    *zap.Logger
}

// NewPipeline собирает конвейер из трёх шагов
func NewPipeline(r *Retriever, v *Verifier, c *Composer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{stages: []Stage{r, v, c}, log: log.Named("pipeline")}
}

// Run executes the pipeline for one request. On a generation failure the
// returned state still carries the full trace and the error is a *GenerationError.
func (p *Pipeline) Run(ctx context.Context, question, domain string) (*QueryState, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	st := newState(question, domain)

	for _, stage := range p.stages {
		delta, runErr := stage.Run(ctx, *st)
		if err := st.merge(stage.Name(), delta); err != nil {
			return st, err
		}
		if runErr != nil {
			return st, runErr
		}
	}

	p.log.Info("pipeline finished",
		zap.String("domain", st.Domain),
		logging.Preview(question),
		zap.Int("retrieved", len(st.Retrieved())),
		zap.Bool("context_ok", st.ContextOK()),
		zap.Int("citations", len(st.Citations())))
	return st, nil
}
