package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config — настройки сервиса из файла и окружения
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	LLMProvider       string        `yaml:"llm_provider"`
	OpenAIKey         string        `yaml:"openai_api_key"`
	OpenAIModel       string        `yaml:"openai_model"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	GroqKey           string        `yaml:"groq_api_key"`
	GroqModel         string        `yaml:"groq_model"`
	GoogleKey         string        `yaml:"google_api_key"`
	GeminiModel       string        `yaml:"gemini_model"`
	LMBaseURL         string        `yaml:"lmstudio_base_url"`
	ChatModel         string        `yaml:"chat_model"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	EmbedProvider string  `yaml:"embed_provider"`
	EmbedModel    string  `yaml:"embed_model"`
	EmbedDim      int     `yaml:"embed_dim"`
	EmbedRPS      float64 `yaml:"embed_rps"`

	VectorStore string `yaml:"vector_store"`
	PgConn      string `yaml:"pg_conn"`
	SQLitePath  string `yaml:"sqlite_path"`
	Collection  string `yaml:"collection"`

	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	PDFSourceDir  string `yaml:"pdf_source_dir"`
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	IngestWorkers int    `yaml:"ingest_workers"`

	CustomRolesFile string `yaml:"custom_roles_file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerAddr:          ":8000",
		LogLevel:            "info",
		LogFormat:           "json",
		LLMProvider:         "openai",
		OpenAIModel:         "gpt-4o-mini",
		GroqModel:           "llama-3.3-70b-versatile",
		GeminiModel:         "gemini-2.0-flash",
		LMBaseURL:           "http://localhost:1234/v1",
		ChatModel:           "google/gemma-3n-e4b",
		GenerationTimeout:   60 * time.Second,
		EmbedProvider:       "openai",
		VectorStore:         "sqlite",
		PgConn:              "host=localhost port=5432 user=postgres password=postgres dbname=sme_plug sslmode=disable",
		SQLitePath:          "data/index.db",
		Collection:          "sme_plug",
		TopK:                5,
		SimilarityThreshold: 0.5,
		PDFSourceDir:        "DATA",
		ChunkSize:           300,
		ChunkOverlap:        60,
		IngestWorkers:       4,
	}
}

// Load reads .env (if present), then the optional YAML or TOML file, then the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("SME_CONFIG")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if data, err = tomlToYAML(data); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// tomlToYAML re-encodes a TOML document so both formats share the yaml tags
// and yaml's duration parsing.
func tomlToYAML(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

func (c *Config) applyEnv() {
	c.ServerAddr = getenv("SERVER_ADDR", c.ServerAddr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)

	c.LLMProvider = strings.ToLower(getenv("LLM_PROVIDER", c.LLMProvider))
	c.OpenAIKey = getenv("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIModel = getenv("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.GroqKey = getenv("GROQ_API_KEY", c.GroqKey)
	c.GroqModel = getenv("GROQ_MODEL", c.GroqModel)
	c.GoogleKey = getenv("GOOGLE_API_KEY", c.GoogleKey)
	c.GeminiModel = getenv("GEMINI_MODEL", c.GeminiModel)
	c.LMBaseURL = getenv("LMSTUDIO_BASE_URL", c.LMBaseURL)
	c.ChatModel = getenv("LLM_MODEL", c.ChatModel)
	c.GenerationTimeout = getduration("GENERATION_TIMEOUT", c.GenerationTimeout)

	c.EmbedProvider = strings.ToLower(getenv("EMBED_PROVIDER", c.EmbedProvider))
	c.EmbedModel = getenv("EMBED_MODEL", c.EmbedModel)
	c.EmbedDim = getint("EMBED_DIM", c.EmbedDim)
	c.EmbedRPS = getfloat("EMBED_RPS", c.EmbedRPS)

	c.VectorStore = strings.ToLower(getenv("VECTOR_STORE", c.VectorStore))
	c.PgConn = getenv("PG_CONN", c.PgConn)
	c.SQLitePath = getenv("SQLITE_PATH", c.SQLitePath)
	c.Collection = getenv("COLLECTION", c.Collection)

	c.TopK = getint("TOP_K", c.TopK)
	c.SimilarityThreshold = getfloat("SIMILARITY_THRESHOLD", c.SimilarityThreshold)

	c.PDFSourceDir = getenv("PDF_SOURCE_DIR", c.PDFSourceDir)
	c.ChunkSize = getint("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getint("CHUNK_OVERLAP", c.ChunkOverlap)
	c.IngestWorkers = getint("INGEST_WORKERS", c.IngestWorkers)

	c.CustomRolesFile = getenv("CUSTOM_ROLES_FILE", c.CustomRolesFile)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openai", "groq", "gemini", "lmstudio":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (use openai, groq, gemini or lmstudio)", c.LLMProvider)
	}
	switch c.EmbedProvider {
	case "openai", "gemini", "lmstudio":
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q (use openai, gemini or lmstudio)", c.EmbedProvider)
	}
	switch c.VectorStore {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown VECTOR_STORE %q (use sqlite, postgres or memory)", c.VectorStore)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}
	if c.SimilarityThreshold < 0 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must not be negative, got %v", c.SimilarityThreshold)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("invalid chunking: size=%d overlap=%d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.EmbedRPS < 0 {
		return fmt.Errorf("EMBED_RPS must not be negative, got %v", c.EmbedRPS)
	}
	if c.IngestWorkers <= 0 {
		c.IngestWorkers = 1
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return f
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return d
	}
	return def
}
