package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/audit"
	"github.com/lexreview/lexreview/internal/bias"
	"github.com/lexreview/lexreview/internal/review"
	"github.com/lexreview/lexreview/internal/server"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	Long: `Starts the lexreview REST API: the bias review workflow with its
websocket event stream, letter generation, law explanation and the review
audit trail.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 0, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := openWorkspace(ctx, cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	provider := optionalLLMProvider(cfg)

	gen, err := ws.letterGenerator(asProvider(provider))
	if err != nil {
		return err
	}
	chain, err := ws.explainChain(asProvider(provider))
	if err != nil {
		return err
	}

	features := server.Features{Letters: gen, Explain: chain, Audit: audit.NewStore(ws.db)}

	store, closeStore, err := sessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if provider != nil {
		hub := review.NewHub()
		suggester := bias.NewLLMSuggester(provider)
		manager := review.NewManager(store,
			review.WithSuggester(suggester),
			review.WithPublisher(hub),
			review.WithPublisher(audit.NewRecorder(features.Audit)),
		)
		ingestor := review.NewIngestor(manager, bias.NewLLMClassifier(provider), suggester, cfg.Review.MaxConcurrency)
		features.Review = review.NewHandler(manager, ingestor, hub, cfg.Review.ConfidenceThreshold)
	} else {
		fmt.Fprintln(os.Stderr, "Warning: bias review is disabled until an LLM provider is configured.")
	}

	srv := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowAll:       cfg.Server.AllowAllOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, features)

	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "lexreview server %s starting on port %d\n", Version, cfg.Server.Port)
	fmt.Fprintf(os.Stderr, "  Database: %s\n", ws.db.Path())
	fmt.Fprintf(os.Stderr, "  Vector backend: %s\n", cfg.Vector.Backend)
	fmt.Fprintf(os.Stderr, "  Session store: %s\n", cfg.Review.Store)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if provider != nil {
		u := provider.Usage()
		zap.L().Info("llm usage", zap.Int("calls", u.Calls), zap.Float64("cost_usd", u.CostUSD))
	}
	return nil
}
