package rag

import (
	"errors"
	"fmt"

	"github.com/katakuxiko/smeplug/internal/model"
)

// Stage names as they appear in the trace.
const (
	StageRetrieve = "retrieve_docs"
	StageVerify   = "verify_context"
	StageCompose  = "format_output"
)

// Trace statuses.
const (
	StatusOK         = "ok"
	StatusRejected   = "rejected"
	StatusSkippedLLM = "skipped_llm"
	StatusError      = "error"
)

var errFieldOwned = errors.New("rag: state field already written by an earlier stage")

// TraceEntry records one stage execution.
type TraceEntry struct {
	Stage  string `json:"node"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Retrieval is written by the retrieve stage.
type Retrieval struct {
	Chunks []model.ScoredChunk
}

// Verification is written by the verify stage.
type Verification struct {
	ContextOK    bool
	BestDistance float64 // meaningless when no chunks were retrieved
	Threshold    float64
}

// Composition is written by the compose stage.
type Composition struct {
	Answer    string
	Citations []string
	Generated bool // false on the refusal path
}

// QueryState is threaded through the pipeline. Each optional field is nil until
// the stage that owns it has run, and is never overwritten afterwards.
type QueryState struct {
	Question string
	Domain   string

	Retrieval    *Retrieval
	Verification *Verification
	Composition  *Composition

	Trace []TraceEntry
}

// Delta is what a stage returns; the orchestrator merges it with merge.
type Delta struct {
	Retrieval    *Retrieval
	Verification *Verification
	Composition  *Composition

	Status string
	Detail string
}

func newState(question, domain string) *QueryState {
	return &QueryState{
		Question: question,
		Domain:   model.NormalizeDomain(domain),
		Trace:    []TraceEntry{},
	}
}

// merge applies d to s. A field can only be set once; the trace only grows.
func (s *QueryState) merge(stage string, d Delta) error {
	if d.Retrieval != nil {
		if s.Retrieval != nil {
			return fmt.Errorf("%w: retrieval (%s)", errFieldOwned, stage)
		}
		s.Retrieval = d.Retrieval
	}
	if d.Verification != nil {
		if s.Verification != nil {
			return fmt.Errorf("%w: verification (%s)", errFieldOwned, stage)
		}
		s.Verification = d.Verification
	}
	if d.Composition != nil {
		if s.Composition != nil {
			return fmt.Errorf("%w: composition (%s)", errFieldOwned, stage)
		}
		s.Composition = d.Composition
	}
	s.Trace = append(s.Trace, TraceEntry{Stage: stage, Status: d.Status, Detail: d.Detail})
	return nil
}

// Retrieved returns the ranked chunks, or nil before retrieval.
func (s *QueryState) Retrieved() []model.ScoredChunk {
	if s.Retrieval == nil {
		return nil
	}
	return s.Retrieval.Chunks
}

// ContextOK reports the verification outcome; false before verification.
func (s *QueryState) ContextOK() bool {
	return s.Verification != nil && s.Verification.ContextOK
}

// Answer возвращает ответ или пустую строку
func (s *QueryState) Answer() string {
	if s.Composition == nil {
		return ""
	}
	return s.Composition.Answer
}

// Citations возвращает цитаты, никогда nil
func (s *QueryState) Citations() []string {
	if s.Composition == nil || s.Composition.Citations == nil {
		return []string{}
	}
	return s.Composition.Citations
}

// Response shapes the final state for the HTTP boundary.
func (s *QueryState) Response() model.AskResponse {
	steps := make([]model.StepLog, 0, len(s.Trace))
	for _, e := range s.Trace {
		steps = append(steps, model.StepLog{Node: e.Stage, Status: e.Status, Detail: e.Detail})
	}
	return model.AskResponse{
		Answer:    s.Answer(),
		Citations: s.Citations(),
		Steps:     steps,
	}
}
