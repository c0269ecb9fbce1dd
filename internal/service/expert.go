package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/expert"
	"github.com/katakuxiko/smeplug/internal/logging"
	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/rag"
)

var (
	ErrUnknownRole    = errors.New("service: unknown role")
	ErrMissingAnswers = errors.New("service: both answers are required")
)

const generalAssistantPrompt = `You are a helpful general-purpose AI assistant.
Provide a structured response in JSON format with these keys:
- "answer": A detailed Markdown string responding to the user's question.
- "accuracy": Integer 0-100 representing your confidence.
- "citations": List of strings citing relevant sources.`

// ExpertService answers in persona mode and audits base-model answers.
type ExpertService struct {
	roles *expert.Resolver
	gen   rag.Generator
	log   *zap.Logger
}

// NewExpertService создаёт сервис экспертных ролей
func NewExpertService(roles *expert.Resolver, gen rag.Generator, log *zap.Logger) *ExpertService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpertService{roles: roles, gen: gen, log: log.Named("expert")}
}

// RoleRules returns the profile behind a role, or ErrUnknownRole.
func (s *ExpertService) RoleRules(role string) (expert.Profile, error) {
	l := s.roles.Lookup(role)
	if !l.Found {
		return expert.Profile{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return l.Profile, nil
}

// Roles lists every role persona mode accepts.
func (s *ExpertService) Roles() []string {
	return s.roles.Roles()
}

func personaPrompt(p expert.Profile) string {
	role := expert.PrettyRole(p.Name)
	var b strings.Builder
	b.WriteString(p.CoreDirective)
	fmt.Fprintf(&b, "\n\nYou MUST answer every question strictly from the perspective of a %s.\n", role)
	fmt.Fprintf(&b, "Even if a question spans multiple domains, focus on the aspects that fall under %s expertise.\n", role)

	b.WriteString("\nYOUR MANDATORY EXPERT RULES (follow ALL of these in every answer):\n")
	for i, r := range p.ExpertRules {
		fmt.Fprintf(&b, "  Rule %d: %s\n", i+1, r)
	}
	b.WriteString("\nYOUR MANDATORY ROADMAP STRUCTURE (reference or follow this):\n")
	for i, st := range p.Roadmap {
		fmt.Fprintf(&b, "  Step %d - %s: %s\n", i+1, st.Step, st.Desc)
	}

	fmt.Fprintf(&b, `
When answering:
- Filter the question through your %[1]s expertise only.
- Highlight the risks and best practices a %[1]s would prioritise.
- If the question touches areas outside your domain, acknowledge them briefly.
- Explicitly reference your rules and roadmap steps where relevant.

Provide a structured response in JSON format with these exact keys:
- "answer": A detailed Markdown string answering from your %[1]s perspective.
- "accuracy": Integer 0-100 representing your domain-specific confidence.
- "citations": List of strings citing relevant standards, codes, papers or frameworks from the %[1]s field.`, role)
	return b.String()
}

// AskPersona answers as the named role. An unknown role gets the general
// assistant with empty rules and roadmap.
func (s *ExpertService) AskPersona(ctx context.Context, question, role string) (model.PersonaAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return model.PersonaAnswer{}, rag.ErrEmptyQuestion
	}

	lookup := s.roles.Lookup(role)
	system := generalAssistantPrompt
	if lookup.Found {
		system = personaPrompt(lookup.Profile)
	}

	var out model.PersonaAnswer
	if err := s.generateJSON(ctx, rag.Prompt{System: system, User: question, JSON: true, Temperature: 0.2}, &out); err != nil {
		s.log.Error("persona answer failed", zap.String("role", role), logging.Preview(question), zap.Error(err))
		return model.PersonaAnswer{}, err
	}

	out.ExpertRules = []string{}
	out.Roadmap = []model.RoadmapStep{}
	if lookup.Found {
		out.ExpertRules = append(out.ExpertRules, lookup.Profile.ExpertRules...)
		out.Roadmap = append(out.Roadmap, lookup.Profile.Roadmap...)
	}
	if out.Citations == nil {
		out.Citations = []string{}
	}
	out.Accuracy = out.Accuracy.Clamp()
	return out, nil
}

// AnalyzeHallucination compares a base-model answer against an expert answer.
func (s *ExpertService) AnalyzeHallucination(ctx context.Context, req model.AnalyzeRequest) (model.AnalyzeResponse, error) {
	if strings.TrimSpace(req.ExpertAnswer) == "" || strings.TrimSpace(req.BaseAnswer) == "" {
		return model.AnalyzeResponse{}, ErrMissingAnswers
	}
	system := fmt.Sprintf(`You are an AI auditor.
A user asked: %q
An expert (%s) provided an answer.
A general-purpose base model also provided an answer.

Analyze how much the base model hallucinated, assumed context, or went off-topic compared to the domain-specific expert answer.

Provide a structured response in JSON format with these exact keys:
- "analysis": A short Markdown string (2-3 sentences) explaining the base model's shortcomings compared to the expert.
- "hallucination_score": Integer 0-100 (100 = completely off-topic or hallucinated, 0 = accurate and on-topic).`,
		req.Question, expert.PrettyRole(req.Role))
	user := fmt.Sprintf("Expert Answer (%s):\n%s\n\nBase Model Answer:\n%s\n", req.Role, req.ExpertAnswer, req.BaseAnswer)

	var out model.AnalyzeResponse
	if err := s.generateJSON(ctx, rag.Prompt{System: system, User: user, JSON: true, Temperature: 0.1}, &out); err != nil {
		s.log.Error("hallucination analysis failed", zap.String("role", req.Role), zap.Error(err))
		return model.AnalyzeResponse{}, err
	}
	out.HallucinationScore = out.HallucinationScore.Clamp()
	return out, nil
}

// generateJSON runs a JSON-mode prompt and decodes the reply into v.
// Transport failures and malformed replies are both generation failures.
func (s *ExpertService) generateJSON(ctx context.Context, p rag.Prompt, v any) error {
	raw, err := s.gen.Generate(ctx, p)
	if err != nil {
		return &rag.GenerationError{Err: err}
	}
	raw = stripCodeFence(raw)
	if raw == "" {
		return &rag.GenerationError{Err: rag.ErrEmptyCompletion}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &rag.GenerationError{Err: fmt.Errorf("decode model reply: %w", err)}
	}
	return nil
}

// stripCodeFence removes a ```json fence some local models wrap around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
