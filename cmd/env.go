package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/dedupe"
	"github.com/sells-group/catalog-enricher/internal/extract"
	"github.com/sells-group/catalog-enricher/internal/monitoring"
	"github.com/sells-group/catalog-enricher/internal/pipeline"
	"github.com/sells-group/catalog-enricher/internal/quality"
	"github.com/sells-group/catalog-enricher/internal/resilience"
	"github.com/sells-group/catalog-enricher/internal/retrysched"
	"github.com/sells-group/catalog-enricher/internal/review"
	"github.com/sells-group/catalog-enricher/internal/store"
	anthropicpkg "github.com/sells-group/catalog-enricher/pkg/anthropic"
	"github.com/sells-group/catalog-enricher/pkg/firecrawl"
	"github.com/sells-group/catalog-enricher/pkg/jina"
)

// enrichEnv holds the initialized store, providers, and pipeline shared
// by the enrich/import/serve/retry commands.
type enrichEnv struct {
	Store    store.Store
	Enricher *pipeline.Enricher
	Board    *pipeline.StatusBoard
	Reviews  *review.Queue
	Retry    retrysched.Policy
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// initStore opens the configured backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// serviceConfig maps the shared scheduler settings onto one provider.
func serviceConfig(name, probeURL string) resilience.ServiceConfig {
	sc := resilience.ServiceConfig{
		Name: name,
		RateLimit: resilience.RateLimiterConfig{
			MaxCalls: cfg.Scheduler.MaxCallsPerMinute,
			Window:   time.Minute,
			BurstMax: cfg.Scheduler.BurstMax,
		},
		Circuit: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Scheduler.FailureThreshold,
			RecoveryTimeout:  secs(cfg.Scheduler.RecoverySecs),
		},
		Timeout:          secs(cfg.Scheduler.TimeoutSecs),
		MaxRetries:       cfg.Scheduler.MaxRetries,
		MaxAdmissionWait: secs(cfg.Scheduler.MaxAdmissionSecs),
		ProbeURL:         probeURL,
		ProbeInterval:    secs(cfg.Monitoring.ProbeIntervalSecs),
	}

	// Only the model provider is credit-metered.
	if name == pipeline.ProviderAnthropic && cfg.Scheduler.BudgetCredits > 0 {
		sc.Budget = &resilience.BudgetConfig{
			MaxCredits:       cfg.Scheduler.BudgetCredits,
			EmergencyReserve: cfg.Scheduler.BudgetReserve,
		}
	}
	return sc
}

// initEnv wires the store, the provider schedulers, and the enricher.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*enrichEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	// Seed the duplicate index from the known catalog.
	matcher := dedupe.NewMatcher()
	known, err := st.KnownIdentifiers(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	matcher.Load(known)
	zap.L().Info("duplicate index loaded", zap.Int("identifiers", matcher.Len()))

	registry := resilience.NewRegistry()
	board := pipeline.NewStatusBoard(registry, monitoring.NewAlerter(cfg.Monitoring.WebhookURL))
	board.RegisterProvider(ctx, serviceConfig(pipeline.ProviderJina, cfg.Jina.BaseURL))
	board.RegisterProvider(ctx, serviceConfig(pipeline.ProviderFirecrawl, ""))
	board.RegisterProvider(ctx, serviceConfig(pipeline.ProviderAnthropic, ""))

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL), jina.WithRPS(float64(cfg.Jina.RPS))}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)
	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key,
		firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL),
		firecrawl.WithRPS(float64(cfg.Firecrawl.RPS)))
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	gateCfg := quality.Config{Policy: quality.Policy(cfg.Quality.Policy)}
	if cfg.Quality.ConfigPath != "" {
		gateCfg, err = quality.LoadConfig(cfg.Quality.ConfigPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	reviews := review.NewQueue()
	retryPolicy := retrysched.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   secs(cfg.Retry.BaseDelaySecs),
		MaxDelay:    secs(cfg.Retry.MaxDelaySecs),
	}

	enricher := pipeline.NewEnricher(pipeline.Config{}, pipeline.Deps{
		Store:     st,
		Registry:  registry,
		Jina:      jinaClient,
		Firecrawl: firecrawlClient,
		Extractor: extract.NewExtractor(anthropicClient, cfg.Anthropic.Model),
		Matcher:   matcher,
		Gate:      quality.NewGate(gateCfg, matcher),
		Reviews:   reviews,
		Retry:     retryPolicy,
		Alerts:    pipeline.NewAlerts(board.Alerter()),
	})

	return &enrichEnv{
		Store:    st,
		Enricher: enricher,
		Board:    board,
		Reviews:  reviews,
		Retry:    retryPolicy,
	}, nil
}
