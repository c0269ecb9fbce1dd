package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/katakuxiko/smeplug/internal/app"
	"github.com/katakuxiko/smeplug/internal/config"
	"github.com/katakuxiko/smeplug/internal/logging"
	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/rag"
)

var (
	configPath string
	logger     *zap.Logger
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sme-plug",
	Short: "SME-Plug - grounded, domain-scoped question answering over PDF corpora",
	Long: `SME-Plug answers questions from an indexed PDF corpus partitioned by domain.

Answers are generated only when retrieved evidence passes a similarity
threshold; otherwise a fixed refusal is returned without calling the model.

Run without a subcommand to start the HTTP server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var (
	ingestDir   string
	ingestReset bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index every PDF under <dir>/<Domain>/",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context())
	},
}

var (
	askQuestion string
	askDomain   string
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Run one question through the grounded pipeline and print the JSON response",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $SME_CONFIG)")

	ingestCmd.Flags().StringVarP(&ingestDir, "dir", "d", "", "corpus root (default PDF_SOURCE_DIR)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "clear the index before ingesting")

	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to ask")
	askCmd.Flags().StringVar(&askDomain, "domain", "none", "domain to search, or none for the whole corpus")
	_ = askCmd.MarkFlagRequired("question")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd)
}

func runServe(ctx context.Context) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := a.HTTP()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started",
			zap.String("addr", cfg.ServerAddr),
			zap.String("llm_provider", cfg.LLMProvider),
			zap.String("vector_store", cfg.VectorStore))
		errCh <- srv.Listen(cfg.ServerAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

func runIngest(ctx context.Context) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := ingestDir
	if dir == "" {
		dir = cfg.PDFSourceDir
	}
	if ingestReset {
		if err := a.Index.Clear(ctx); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
		logger.Info("index cleared", zap.String("collection", cfg.Collection))
	}

	report, err := a.Ingest.Run(ctx, dir)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runAsk(ctx context.Context) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.RAG.Ask(ctx, model.AskRequest{Question: askQuestion, Domain: askDomain})
	if err != nil {
		if rag.IsGenerationFailure(err) {
			return errors.New("the language model failed; see the log for details")
		}
		return err
	}
	return printJSON(st.Response())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
