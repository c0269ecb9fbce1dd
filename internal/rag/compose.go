package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/logging"
	"github.com/katakuxiko/smeplug/internal/model"
)

const defaultPersona = "You are SME-Plug, a subject-matter expert assistant."

const groundingRules = "You must answer ONLY using the provided context from the knowledge base documents. " +
	"If the context is insufficient, explicitly say you cannot answer from the available documents.\n\n" +
	"Every substantive statement MUST be grounded in the context and accompanied by a citation " +
	"in the form [Source: DocName, Page X]. Do not invent citations."

// Refusal is the fixed answer returned when the context is rejected.
func Refusal(domain string) string {
	scope := "domain-specific"
	if d := model.NormalizeDomain(domain); d != model.NoDomain {
		scope = "'" + d + "'"
	}
	return "I cannot safely answer this from the current knowledge base. " +
		fmt.Sprintf("The retrieved %s documents do not contain a clearly relevant ", scope) +
		"section for your question. Please provide additional or more specific source documents."
}

// Composer builds the grounded answer, or refuses without calling the model.
type Composer struct {
	gen      Generator
	personas PersonaSource
	log      *zap.Logger
}

// NewComposer wires the generation collaborator. personas may be nil.
func NewComposer(gen Generator, personas PersonaSource, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{gen: gen, personas: personas, log: log.Named("compose")}
}

// Name возвращает имя шага
func (c *Composer) Name() string { return StageCompose }

// SystemInstruction returns the grounding instruction for a domain.
func (c *Composer) SystemInstruction(domain string) string {
	persona := defaultPersona
	if c.personas != nil {
		if d, ok := c.personas.Directive(domain); ok && strings.TrimSpace(d) != "" {
			persona = strings.TrimSpace(d)
		}
	}
	return persona + " " + groundingRules
}

func userMessage(question, contextText string) string {
	return "User question:\n" + question + "\n\n" +
		"Relevant context from your knowledge base:\n" + contextText + "\n\n" +
		"Answer using only this context. Be concise but precise, and attach citations for each key claim."
}

// Compose implements both branches. The error is always a *GenerationError.
func (c *Composer) Compose(ctx context.Context, st QueryState) (Composition, error) {
	if !st.ContextOK() {
		return Composition{Answer: Refusal(st.Domain), Citations: []string{}}, nil
	}

	chunks := st.Retrieved()
	p := Prompt{
		System:      c.SystemInstruction(st.Domain),
		User:        userMessage(st.Question, ContextText(chunks)),
		Temperature: 0,
	}
	answer, err := c.gen.Generate(ctx, p)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		c.log.Error("generation failed",
			zap.String("domain", st.Domain),
			logging.Preview(st.Question),
			zap.Error(err))
		return Composition{}, &GenerationError{Err: err}
	}
	return Composition{
		Answer:    strings.TrimSpace(answer),
		Citations: Citations(chunks),
		Generated: true,
	}, nil
}

// Run формирует ответ или отказ без вызова модели
func (c *Composer) Run(ctx context.Context, st QueryState) (Delta, error) {
	comp, err := c.Compose(ctx, st)
	if err != nil {
		return Delta{Status: StatusError, Detail: "LLM generation failed."}, err
	}
	if !comp.Generated {
		return Delta{
			Composition: &comp,
			Status:      StatusSkippedLLM,
			Detail:      "Context rejected, returned safe fallback without LLM call.",
		}, nil
	}
	return Delta{
		Composition: &comp,
		Status:      StatusOK,
		Detail:      "LLM generated answer using retrieved context.",
	}, nil
}
