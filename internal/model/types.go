package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NoDomain is the sentinel that disables domain filtering. It is never a tag.
const NoDomain = "none"

// NormalizeDomain maps empty or sentinel-like values to NoDomain.
func NormalizeDomain(d string) string {
	d = strings.TrimSpace(d)
	if d == "" || strings.EqualFold(d, NoDomain) {
		return NoDomain
	}
	return d
}

// Page is a 1-based page number. Zero means unknown and renders as "?".
type Page int

// String печатает номер страницы или "?"
func (p Page) String() string {
	if p <= 0 {
		return "?"
	}
	return strconv.Itoa(int(p))
}

// MarshalJSON пишет неизвестную страницу как "?"
func (p Page) MarshalJSON() ([]byte, error) {
	if p <= 0 {
		return []byte(`"?"`), nil
	}
	return []byte(strconv.Itoa(int(p))), nil
}

// UnmarshalJSON accepts a number, a numeric string, "?" or null.
func (p *Page) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*p = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" || s == "?" {
			*p = 0
			return nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("page_number %q: %w", s, err)
	}
	if n < 0 {
		n = 0
	}
	*p = Page(int(n))
	return nil
}

// Metadata is the provenance attached to every chunk at ingestion time.
type Metadata struct {
	DocName    string `json:"doc_name,omitempty"`
	PageNumber Page   `json:"page_number"`
	Domain     string `json:"domain,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
}

// Chunk is an immutable slice of indexed document text.
type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// ScoredChunk pairs a chunk with its cosine distance to a query (lower is closer).
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// AskRequest — вопрос пользователя и выбранный домен
type AskRequest struct {
	Question string `json:"question"`
	Plugin   string `json:"plugin,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// Selected returns the requested domain; "domain" wins over the legacy "plugin" field.
func (r AskRequest) Selected() string {
	if strings.TrimSpace(r.Domain) != "" {
		return NormalizeDomain(r.Domain)
	}
	return NormalizeDomain(r.Plugin)
}

// StepLog — запись трассировки в ответе API
type StepLog struct {
	Node   string `json:"node"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// AskResponse — ответ с цитатами и шагами конвейера
type AskResponse struct {
	Answer    string    `json:"answer"`
	Citations []string  `json:"citations"`
	Steps     []StepLog `json:"steps"`
}

// RoadmapStep — шаг дорожной карты эксперта
type RoadmapStep struct {
	Step string `json:"step" yaml:"step"`
	Desc string `json:"desc" yaml:"desc"`
}

// PersonaAnswer is the JSON document produced by persona and base-model modes.
type PersonaAnswer struct {
	Answer      string        `json:"answer"`
	Accuracy    Percent       `json:"accuracy"`
	Citations   []string      `json:"citations"`
	ExpertRules []string      `json:"expert_rules"`
	Roadmap     []RoadmapStep `json:"roadmap"`
}

// AnalyzeRequest — пара ответов для проверки на галлюцинации
type AnalyzeRequest struct {
	ExpertAnswer string `json:"expert_answer"`
	BaseAnswer   string `json:"base_answer"`
	Question     string `json:"question"`
	Role         string `json:"role"`
}

// AnalyzeResponse — вердикт аудитора
type AnalyzeResponse struct {
	Analysis           string  `json:"analysis"`
	HallucinationScore Percent `json:"hallucination_score"`
}

// Percent is a 0-100 score reported by a model. Models are loose about its
// JSON type, so fractions, numeric strings, a trailing "%" and null all decode.
type Percent int

// UnmarshalJSON rounds fractional values to the nearest integer.
func (p *Percent) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*p = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(str), "%"))
		if s == "" {
			*p = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("score %q: %w", s, err)
	}
	*p = Percent(math.Round(f))
	return nil
}

// Clamp bounds the score to 0..100.
func (p Percent) Clamp() Percent {
	return min(max(p, 0), 100)
}
