package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/config"
	"github.com/lexreview/lexreview/internal/db"
	"github.com/lexreview/lexreview/internal/embeddings"
	"github.com/lexreview/lexreview/internal/explain"
	"github.com/lexreview/lexreview/internal/letters"
	"github.com/lexreview/lexreview/internal/llm"
	"github.com/lexreview/lexreview/internal/logging"
	"github.com/lexreview/lexreview/internal/retrieval"
	"github.com/lexreview/lexreview/internal/review"
	"github.com/lexreview/lexreview/internal/textstore"
	"github.com/lexreview/lexreview/internal/vectorindex"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, eris.Wrap(err, "loading config (run `lexreview init` to create a config file)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrapf(err, "invalid config %s", cfgFile)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if _, err := logging.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// workspace holds the shared resources a command opens from config.
type workspace struct {
	cfg      *config.Config
	db       *db.DB
	texts    *textstore.Store
	embedder embeddings.Embedder
	chromem  *vectorindex.ChromemBackend
	pool     *pgxpool.Pool
}

// openWorkspace opens the text store database, the embedder and the vector
// backend selected by cfg. Callers must Close the result.
func openWorkspace(ctx context.Context, cfg *config.Config) (*workspace, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, eris.Wrapf(err, "creating data dir %s", cfg.DataDir)
	}

	embedder, err := embeddings.New(cfg.Embedding)
	if err != nil {
		return nil, eris.Wrap(err, "creating embedder")
	}

	database, err := db.Open(filepath.Join(cfg.DataDir, "lexreview.db"))
	if err != nil {
		return nil, eris.Wrap(err, "opening database")
	}
	rt := &workspace{cfg: cfg, db: database, texts: textstore.NewStore(database), embedder: embedder}

	switch cfg.Vector.Backend {
	case config.BackendPGVector:
		rt.pool, err = vectorindex.ConnectPostgres(ctx, cfg.Vector.PostgresDSN)
		if err == nil {
			err = vectorindex.EnsureSchema(ctx, rt.pool, cfg.Vector.Table, embedder.Dimensions())
		}
	default:
		rt.chromem, err = vectorindex.NewChromemBackend(filepath.Join(cfg.DataDir, "vectors"), cfg.Vector.Compress)
	}
	if err != nil {
		rt.Close()
		return nil, eris.Wrap(err, "opening vector backend")
	}

	zap.L().Debug("workspace opened",
		zap.String("data_dir", cfg.DataDir),
		zap.String("embedder", embedder.Name()),
		zap.String("vector_backend", string(cfg.Vector.Backend)))
	return rt, nil
}

// Close releases the database and any Postgres pool.
func (rt *workspace) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

// pipeline returns the retrieval pipeline for one corpus.
func (rt *workspace) pipeline(corpus string) (*retrieval.Pipeline, error) {
	var (
		ix  vectorindex.Index
		err error
	)
	if rt.pool != nil {
		ix, err = vectorindex.NewPGVectorIndex(rt.pool, rt.cfg.Vector.Table, corpus)
	} else {
		ix, err = rt.chromem.Index(corpus)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "opening %s index", corpus)
	}
	return retrieval.New(corpus, rt.embedder, ix, rt.texts, retrieval.Options{
		MinScore:     rt.cfg.Retrieval.MinScore,
		PreviewChars: rt.cfg.Retrieval.PreviewChars,
	}), nil
}

// letterGenerator builds the letter generator. provider may be nil.
func (rt *workspace) letterGenerator(provider llm.Provider) (*letters.Generator, error) {
	p, err := rt.pipeline(letters.Corpus)
	if err != nil {
		return nil, err
	}
	return letters.NewGenerator(letters.NewLoader(rt.cfg.TemplatesDir), p, provider), nil
}

// explainChain builds the law explanation chain. provider may be nil.
func (rt *workspace) explainChain(provider llm.Provider) (*explain.Chain, error) {
	p, err := rt.pipeline(explain.Corpus)
	if err != nil {
		return nil, err
	}
	return explain.NewChain(p, provider, rt.cfg.Retrieval.DefaultK), nil
}

// createLLMProvider creates the metered LLM provider from config.
func createLLMProvider(cfg *config.Config) (*llm.MeteredProvider, error) {
	return llm.NewProvider(cfg.LLM)
}

// optionalLLMProvider returns nil with a warning when the provider cannot
// be created, so features without LLM needs keep working.
func optionalLLMProvider(cfg *config.Config) *llm.MeteredProvider {
	p, err := createLLMProvider(cfg)
	if err != nil {
		zap.L().Warn("LLM provider unavailable", zap.Error(err))
		return nil
	}
	return p
}

// asProvider converts a possibly nil metered provider to an interface
// value that compares equal to nil when absent.
func asProvider(p *llm.MeteredProvider) llm.Provider {
	if p == nil {
		return nil
	}
	return p
}

// sessionStore creates the review session store selected by cfg.
func sessionStore(ctx context.Context, cfg *config.Config) (review.SessionStore, func(), error) {
	if cfg.Review.Store == config.SessionStoreRedis {
		rs, err := review.NewRedisStore(ctx, cfg.Review.RedisURL, cfg.Review.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	}
	return review.NewMemoryStore(cfg.Review.SessionTTL, cfg.Review.SweepInterval), func() {}, nil
}

// printUsage writes LLM usage totals to stderr.
func printUsage(p *llm.MeteredProvider) {
	if p == nil {
		return
	}
	u := p.Usage()
	fmt.Fprintf(os.Stderr, "\nLLM usage: %d call(s), %d failed, %d input / %d output tokens, ~$%.4f\n",
		u.Calls, u.Failures, u.InputTokens, u.OutputTokens, u.CostUSD)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
