package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/mall-resolver/internal/adjudicate"
	"github.com/mall-resolver/internal/audit"
	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/config"
	"github.com/mall-resolver/internal/dataset"
	"github.com/mall-resolver/internal/db"
	"github.com/mall-resolver/internal/decisions"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/resilience"
)

// workspace loads and saves the catalog from the configured source
type workspace struct {
	cfg   *config.Config
	fs    afero.Fs
	conn  *db.Connection
	repo  *db.Repository
	cache decisions.Cache
	close []func()
}

func openWorkspace(ctx context.Context, cfg *config.Config) (*workspace, error) {
	w := &workspace{cfg: cfg, fs: afero.NewOsFs()}

	if cfg.Data.Source == "postgres" {
		conn, err := connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		w.conn = conn
		w.repo = db.NewRepository(conn.DB)
		w.close = append(w.close, func() { _ = conn.Close() })
	}

	cache, closeCache, err := newCache(ctx, cfg, w.fs)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.cache = cache
	w.close = append(w.close, closeCache)

	return w, nil
}

func (w *workspace) Close() {
	for i := len(w.close) - 1; i >= 0; i-- {
		w.close[i]()
	}
}

func connect(ctx context.Context, cfg *config.Config) (*db.Connection, error) {
	pool := db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	return db.NewConnection(ctx, cfg.Database.URL, pool)
}

func newCache(ctx context.Context, cfg *config.Config, fs afero.Fs) (decisions.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		cache := decisions.NewRedisCache(client,
			decisions.WithPrefix(cfg.Cache.KeyPrefix),
			decisions.WithTTL(cfg.Cache.TTL))
		return cache, func() { _ = client.Close() }, nil

	case "file":
		cache, err := decisions.NewFileCache(fs, cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		return cache, func() {}, nil

	default:
		return decisions.NewMemoryCache(), func() {}, nil
	}
}

// loadCatalog reads stores and malls from the configured source. Skipped rows
// and integrity violations are returned as record errors for the run report.
func (w *workspace) loadCatalog(ctx context.Context) (*catalog.Catalog, []match.RecordError, error) {
	var (
		stores []*models.Store
		malls  []*models.Mall
		issues []match.RecordError
		err    error
	)

	if w.repo != nil {
		if stores, err = w.repo.LoadStores(ctx); err != nil {
			return nil, nil, err
		}
		if malls, err = w.repo.LoadMalls(ctx); err != nil {
			return nil, nil, err
		}
	} else {
		var rowErrs []dataset.RowError
		if stores, rowErrs, err = dataset.ReadStores(w.fs, w.cfg.Data.Stores); err != nil {
			return nil, nil, err
		}
		logRowErrors(w.cfg.Data.Stores, rowErrs)
		for _, e := range rowErrs {
			issues = append(issues, match.RecordError{Kind: match.KindIntegrity, StoreID: e.ID, Message: w.cfg.Data.Stores + " " + e.Error()})
		}

		if malls, rowErrs, err = dataset.ReadMalls(w.fs, w.cfg.Data.Malls); err != nil {
			return nil, nil, err
		}
		logRowErrors(w.cfg.Data.Malls, rowErrs)
		for _, e := range rowErrs {
			issues = append(issues, match.RecordError{Kind: match.KindIntegrity, MallID: e.ID, Message: w.cfg.Data.Malls + " " + e.Error()})
		}
	}

	cat, err := catalog.New(stores, malls, catalog.WithIDPrefix(w.cfg.Match.IDPrefix))
	if err != nil {
		return nil, nil, err
	}

	for _, v := range cat.Validate() {
		log.Warn().Str("violation", v.String()).Msg("catalog integrity")
		issues = append(issues, match.RecordError{Kind: match.KindIntegrity, StoreID: v.StoreID, MallID: v.MallID, Message: v.Reason})
	}

	nStores, nMalls, assigned := cat.Counts()
	log.Info().Int("stores", nStores).Int("malls", nMalls).Int("assigned", assigned).
		Int("issues", len(issues)).Str("source", w.cfg.Data.Source).Msg("loaded catalog")
	return cat, issues, nil
}

func logRowErrors(path string, errs []dataset.RowError) {
	for _, e := range errs {
		log.Warn().Str("file", path).Int("line", e.Line).Str("id", e.ID).Err(e.Err).Msg("skipped row")
	}
}

// saveCatalog writes every assignment and mall back to the source
func (w *workspace) saveCatalog(ctx context.Context, cat *catalog.Catalog) error {
	if w.repo != nil {
		return w.repo.SaveAssignments(ctx, cat.Malls(), cat.Stores())
	}
	if err := dataset.WriteMalls(w.fs, w.cfg.Data.Malls, cat.Malls()); err != nil {
		return err
	}
	return dataset.WriteStores(w.fs, w.cfg.Data.Stores, cat.Stores())
}

// saveMerges persists an applied merge plan
func (w *workspace) saveMerges(ctx context.Context, cat *catalog.Catalog, merges []catalog.Merge) error {
	if w.repo != nil {
		return w.repo.ApplyMerges(ctx, merges)
	}
	return w.saveCatalog(ctx, cat)
}

// saveReport writes the review queues and, for postgres, the run summary
func (w *workspace) saveReport(ctx context.Context, report *match.Report) error {
	items := append(append([]match.QueueItem(nil), report.Medium...), report.Low...)

	if w.repo != nil {
		if err := w.repo.SaveReview(ctx, report.RunID, items); err != nil {
			return err
		}
		return w.repo.RecordRun(ctx, report)
	}
	return dataset.WriteReview(w.fs, w.cfg.Data.Review, items)
}

// tracker returns the audit trail when it is enabled and a database is open
func (w *workspace) tracker() *audit.Tracker {
	if w.conn == nil || !w.cfg.Audit.Enabled {
		return nil
	}
	return audit.NewTracker(w.conn.DB, localDebug)
}

func (w *workspace) retryPolicy() *resilience.Policy {
	r := w.cfg.Retry
	return resilience.NewPolicy(resilience.Config{
		Attempts:        r.Attempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Timeout:         r.Timeout,
		RatePerSecond:   r.RatePerSecond,
		Burst:           r.Burst,
	})
}

// newAdjudicator builds the configured adjudicator. Console sessions read in and write out.
func (w *workspace) newAdjudicator(mode string, in io.Reader, out io.Writer) (match.Adjudicator, error) {
	a := w.cfg.Adjudicator
	switch mode {
	case "console":
		return adjudicate.NewConsole(in, out, a.Reviewer), nil
	case "llm":
		if a.APIKey == "" {
			return nil, fmt.Errorf("adjudicator.api_key is required for llm mode")
		}
		llm := adjudicate.NewLLM(adjudicate.LLMConfig{
			Endpoint:      a.Endpoint,
			APIKey:        a.APIKey,
			Model:         a.Model,
			MaxCandidates: a.MaxCandidates,
			Timeout:       a.Timeout,
		})
		return adjudicate.NewRetrying(llm, w.retryPolicy()), nil
	case "policy":
		return &adjudicate.Policy{
			MaxDistanceKm: a.PolicyMaxDistanceKm,
			MinSimilarity: a.PolicyMinSimilarity,
			IncludeLow:    a.PolicyIncludeLow,
		}, nil
	default:
		return nil, fmt.Errorf("unknown adjudicator mode %q", mode)
	}
}

// newEngine wires the engine to the configured thresholds, cache, adjudicator and audit trail
func (w *workspace) newEngine(cat *catalog.Catalog, adj match.Adjudicator) *match.Engine {
	m := w.cfg.Match
	minConfidence, _ := match.ParseTier(m.MinAdjudicatorConfidence)

	engineConfig := match.EngineConfig{
		Weights:                  w.cfg.Weights(),
		Tiers:                    w.cfg.Tiers(),
		Neighbors:                m.Neighbors,
		Workers:                  m.Workers,
		WidenSearch:              m.WidenSearch,
		Reassign:                 m.Reassign,
		Filter:                   w.cfg.CategoryFilter(),
		Cache:                    w.cache,
		Adjudicator:              adj,
		MinAdjudicatorConfidence: minConfidence,
	}
	if t := w.tracker(); t != nil {
		engineConfig.Recorder = t
	}
	return match.NewEngine(cat, engineConfig)
}
