package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/expert"
	"github.com/katakuxiko/smeplug/internal/ingest"
	"github.com/katakuxiko/smeplug/internal/logging"
	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/rag"
	"github.com/katakuxiko/smeplug/internal/service"
	"github.com/katakuxiko/smeplug/internal/store"
	"github.com/katakuxiko/smeplug/internal/util"
)

const (
	msgBackendFailed = "The SME-Plug backend failed while processing this question."
	msgEmptyQuestion = "question must not be empty"
)

var domainTag = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Asker — вопросы к конвейеру и к базовой модели
type Asker interface {
	Ask(ctx context.Context, req model.AskRequest) (*rag.QueryState, error)
	AskBase(ctx context.Context, question string) (model.AskResponse, error)
}

// Experts — режим экспертных ролей
type Experts interface {
	AskPersona(ctx context.Context, question, role string) (model.PersonaAnswer, error)
	AnalyzeHallucination(ctx context.Context, req model.AnalyzeRequest) (model.AnalyzeResponse, error)
	RoleRules(role string) (expert.Profile, error)
	Roles() []string
}

// Ingester индексирует один загруженный документ
type Ingester interface {
	IngestFile(ctx context.Context, path, domain string) (int, error)
}

// Deps — зависимости обработчиков; Models может быть nil
type Deps struct {
	RAG         Asker
	Experts     Experts
	Index       store.Index
	Ingest      Ingester
	Models      service.ModelLister
	Provider    string
	VectorStore string
	UploadDir   string
	Log         *zap.Logger
}

// Handler хранит зависимости для обработчиков
type Handler struct {
	d   Deps
	log *zap.Logger
}

// NewHandler конструктор
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	if d.UploadDir == "" {
		d.UploadDir = filepath.Join("data", "pdfs")
	}
	return &Handler{d: d, log: log.Named("api")}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// fail maps service errors onto HTTP statuses. Upstream detail is logged, never returned.
func (h *Handler) fail(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, rag.ErrEmptyQuestion):
		return errorJSON(c, fiber.StatusBadRequest, msgEmptyQuestion)
	case errors.Is(err, context.Canceled):
		return errorJSON(c, fiber.StatusRequestTimeout, "request cancelled")
	}
	h.log.Error(op+" failed",
		zap.String("request_id", requestID(c)),
		zap.Bool("generation", rag.IsGenerationFailure(err)),
		zap.Error(err))
	return errorJSON(c, fiber.StatusInternalServerError, msgBackendFailed)
}

// Health — провайдер, хранилище и размер индекса
func (h *Handler) Health(c *fiber.Ctx) error {
	chunks, err := h.d.Index.Count(c.UserContext())
	if err != nil {
		h.log.Warn("health: index unavailable", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":       "degraded",
			"llm_provider": h.d.Provider,
			"vector_store": h.d.VectorStore,
		})
	}
	return c.JSON(fiber.Map{
		"status":       "ok",
		"llm_provider": h.d.Provider,
		"vector_store": h.d.VectorStore,
		"chunks":       chunks,
	})
}

// Domains — домены из индекса и список ролей
func (h *Handler) Domains(c *fiber.Ctx) error {
	domains, err := h.d.Index.Domains(c.UserContext())
	if err != nil {
		return h.fail(c, "list domains", err)
	}
	sort.Strings(domains)
	roles := h.d.Experts.Roles()
	sort.Strings(roles)
	return c.JSON(fiber.Map{"domains": domains, "roles": roles})
}

// AskExpert — RAG: поиск, проверка, ответ с цитатами
func (h *Handler) AskExpert(c *fiber.Ctx) error {
	var req model.AskRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, `invalid request, expected JSON: {"question":"...","plugin":"..."}`)
	}
	st, err := h.d.RAG.Ask(c.UserContext(), req)
	if err != nil {
		if st != nil {
			h.log.Debug("partial trace", zap.Any("steps", st.Trace))
		}
		return h.fail(c, "ask-expert", err)
	}
	h.log.Info("ask-expert",
		zap.String("request_id", requestID(c)),
		zap.String("domain", st.Domain),
		logging.Preview(st.Question),
		zap.Bool("context_ok", st.ContextOK()))
	return c.JSON(st.Response())
}

// AskBase — ответ базовой модели без контекста
func (h *Handler) AskBase(c *fiber.Ctx) error {
	var req model.AskRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, `invalid request, expected JSON: {"question":"..."}`)
	}
	resp, err := h.d.RAG.AskBase(c.UserContext(), req.Question)
	if err != nil {
		return h.fail(c, "ask-base", err)
	}
	return c.JSON(resp)
}

// AskPersona — ответ от лица роли из plugin (или domain)
func (h *Handler) AskPersona(c *fiber.Ctx) error {
	var req model.AskRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, `invalid request, expected JSON: {"question":"...","plugin":"..."}`)
	}
	role := strings.TrimSpace(req.Plugin)
	if role == "" {
		role = strings.TrimSpace(req.Domain)
	}
	out, err := h.d.Experts.AskPersona(c.UserContext(), req.Question, role)
	if err != nil {
		return h.fail(c, "ask-persona", err)
	}
	return c.JSON(out)
}

// RoleRules — правила и дорожная карта роли
func (h *Handler) RoleRules(c *fiber.Ctx) error {
	role := c.Params("role")
	p, err := h.d.Experts.RoleRules(role)
	if errors.Is(err, service.ErrUnknownRole) {
		return errorJSON(c, fiber.StatusNotFound, "Unknown role: "+role)
	}
	if err != nil {
		return h.fail(c, "role-rules", err)
	}
	return c.JSON(fiber.Map{"expert_rules": p.ExpertRules, "roadmap": p.Roadmap})
}

// AnalyzeHallucination — оценка ответа базовой модели против экспертного
func (h *Handler) AnalyzeHallucination(c *fiber.Ctx) error {
	var req model.AnalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	out, err := h.d.Experts.AnalyzeHallucination(c.UserContext(), req)
	if errors.Is(err, service.ErrMissingAnswers) {
		return errorJSON(c, fiber.StatusBadRequest, "expert_answer and base_answer are required")
	}
	if err != nil {
		return h.fail(c, "analyze-hallucination", err)
	}
	return c.JSON(out)
}

// ListModels — проксирование списка моделей провайдера
func (h *Handler) ListModels(c *fiber.Ctx) error {
	if h.d.Models == nil {
		return errorJSON(c, fiber.StatusNotImplemented, "the configured provider cannot list models")
	}
	models, err := h.d.Models.ListModels(c.UserContext())
	if err != nil {
		h.log.Error("list models", zap.Error(err))
		return errorJSON(c, fiber.StatusBadGateway, "failed to list models")
	}
	return c.JSON(models)
}

// IngestPDF — сохранение PDF в папку домена и индексация
func (h *Handler) IngestPDF(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "file is required (form field: file)")
	}
	domain := strings.TrimSpace(c.FormValue("domain"))
	if !domainTag.MatchString(domain) || model.NormalizeDomain(domain) == model.NoDomain {
		return errorJSON(c, fiber.StatusBadRequest, "domain is required (letters, digits, '_' or '-')")
	}
	name := filepath.Base(file.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return errorJSON(c, fiber.StatusBadRequest, "only .pdf files are accepted")
	}

	saveDir := filepath.Join(h.d.UploadDir, domain)
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		h.log.Error("prepare upload dir", zap.String("dir", saveDir), zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to prepare storage")
	}
	savePath := filepath.Join(saveDir, util.Timestamped(name))
	if err := c.SaveFile(file, savePath); err != nil {
		h.log.Error("save upload", zap.String("path", savePath), zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to save file")
	}

	n, err := h.d.Ingest.IngestFile(c.UserContext(), savePath, domain)
	if ingest.IsUnreadable(err) {
		_ = os.Remove(savePath)
		h.log.Warn("unreadable upload", zap.String("file", name), zap.Error(err))
		return errorJSON(c, fiber.StatusUnprocessableEntity, "no text could be extracted from the PDF")
	}
	if err != nil {
		_ = os.Remove(savePath)
		return h.fail(c, "ingest", err)
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"doc":    util.DocStem(savePath),
		"domain": domain,
		"chunks": n,
	})
}
