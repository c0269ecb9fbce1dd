package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/katakuxiko/smeplug/internal/expert"
	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/rag"
	"github.com/katakuxiko/smeplug/internal/service"
	"github.com/katakuxiko/smeplug/internal/store"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (g *scriptedGenerator) Generate(context.Context, rag.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, g.err
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

type recordingIngester struct {
	path, domain string
	n            int
	err          error
}

func (r *recordingIngester) IngestFile(_ context.Context, path, domain string) (int, error) {
	r.path, r.domain = path, domain
	return r.n, r.err
}

type harness struct {
	app    *fiber.App
	gen    *scriptedGenerator
	ingest *recordingIngester
	upload string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	idx := store.NewMemoryStore()
	require.NoError(t, idx.Add(ctx, []model.Chunk{
		{ID: "c1", Text: "Use MFA everywhere.", Metadata: model.Metadata{DocName: "NIST", PageNumber: 12, Domain: "Cyber"}},
		{ID: "c2", Text: "Keep soil pH near 6.5.", Metadata: model.Metadata{DocName: "FAO", PageNumber: 3, Domain: "Agri"}},
	}, [][]float32{{1, 0}, {0, 1}}))

	gen := &scriptedGenerator{reply: "Enable MFA [Source: NIST, Page 12]."}
	roles := expert.NewResolver(nil)
	h := &harness{gen: gen, ingest: &recordingIngester{n: 7}, upload: t.TempDir()}
	h.app = New(Deps{
		RAG:         service.NewRAGService(idx, unitEmbedder{}, gen, roles, service.RAGOptions{TopK: 5, Threshold: 0.5}, log),
		Experts:     service.NewExpertService(roles, gen, log),
		Index:       idx,
		Ingest:      h.ingest,
		Provider:    "openai",
		VectorStore: "memory",
		UploadDir:   h.upload,
		Log:         log,
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestAskExpertGrounded(t *testing.T) {
	h := newHarness(t)
	resp, out := h.do(t, http.MethodPost, "/api/ask-expert", map[string]string{"question": "How do I secure logins?", "plugin": "Cyber"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))

	assert.Equal(t, "Enable MFA [Source: NIST, Page 12].", out["answer"])
	assert.Equal(t, []any{"[Source: NIST, Page 12]"}, out["citations"])
	steps := out["steps"].([]any)
	require.Len(t, steps, 3)
	assert.Equal(t, "format_output", steps[2].(map[string]any)["node"])
	assert.Equal(t, "ok", steps[2].(map[string]any)["status"])
}

func TestAskExpertRejectsWithoutGenerating(t *testing.T) {
	h := newHarness(t)
	resp, out := h.do(t, http.MethodPost, "/api/ask-expert", map[string]string{"question": "What is HIPAA?", "domain": "Legal"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, rag.Refusal("Legal"), out["answer"])
	assert.Equal(t, []any{}, out["citations"])
	assert.Equal(t, "skipped_llm", out["steps"].([]any)[2].(map[string]any)["status"])
	assert.Zero(t, h.gen.calls)
}

func TestAskExpertErrors(t *testing.T) {
	h := newHarness(t)
	resp, out := h.do(t, http.MethodPost, "/api/ask-expert", map[string]string{"question": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, msgEmptyQuestion, out["error"])

	h.gen.err = errors.New("401 invalid api key sk-live-123")
	resp, out = h.do(t, http.MethodPost, "/api/ask-expert", map[string]string{"question": "MFA?", "plugin": "Cyber"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, msgBackendFailed, out["error"])
	assert.NotContains(t, out["error"], "sk-live")

	req := httptest.NewRequest(http.MethodPost, "/api/ask-expert", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	r, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestAskBase(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = "Cloud computing is renting servers."
	resp, out := h.do(t, http.MethodPost, "/api/ask-base", map[string]string{"question": "What is cloud computing?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Cloud computing is renting servers.", out["answer"])
	step := out["steps"].([]any)[0].(map[string]any)
	assert.Equal(t, "Base Model Only", step["detail"])
}

func TestPersonaRoutes(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = `{"answer":"Test the soil first.","accuracy":88,"citations":["FAO Soils Bulletin"]}`
	resp, out := h.do(t, http.MethodPost, "/api/ask-persona", map[string]string{"question": "How to raise yields?", "plugin": "AgricultureExpert"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(88), out["accuracy"])
	assert.Len(t, out["expert_rules"], 3)

	resp, out = h.do(t, http.MethodGet, "/api/role-rules/Educator", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["roadmap"], 3)

	resp, out = h.do(t, http.MethodGet, "/api/role-rules/Astronaut", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Unknown role: Astronaut", out["error"])

	h.gen.reply = `{"analysis":"Generic advice.","hallucination_score":65}`
	resp, out = h.do(t, http.MethodPost, "/api/analyze-hallucination", model.AnalyzeRequest{
		Question: "q", Role: "Educator", ExpertAnswer: "expert", BaseAnswer: "base",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(65), out["hallucination_score"])

	resp, _ = h.do(t, http.MethodPost, "/api/analyze-hallucination", model.AnalyzeRequest{Question: "q"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndDomains(t *testing.T) {
	h := newHarness(t)
	resp, out := h.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "memory", out["vector_store"])
	assert.Equal(t, float64(2), out["chunks"])

	resp, out = h.do(t, http.MethodGet, "/api/domains", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Agri", "Cyber"}, out["domains"])

	resp, _ = h.do(t, http.MethodGet, "/models", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func upload(t *testing.T, app *fiber.App, filename, domain string) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	if domain != "" {
		require.NoError(t, w.WriteField("domain", domain))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestIngestUpload(t *testing.T) {
	h := newHarness(t)
	resp, out := upload(t, h.app, "ISO27001.pdf", "Cyber")
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "ISO27001", out["doc"])
	assert.Equal(t, float64(7), out["chunks"])
	assert.Equal(t, "Cyber", h.ingest.domain)
	assert.Equal(t, filepath.Join(h.upload, "Cyber"), filepath.Dir(h.ingest.path))
	_, err := os.Stat(h.ingest.path)
	assert.NoError(t, err)

	resp, _ = upload(t, h.app, "notes.txt", "Cyber")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = upload(t, h.app, "a.pdf", "none")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = upload(t, h.app, "a.pdf", "../etc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecoverMiddleware(t *testing.T) {
	h := newHarness(t)
	h.app.Get("/boom", func(*fiber.Ctx) error { panic("nil map write") })
	resp, out := h.do(t, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, msgBackendFailed, out["error"])
}
