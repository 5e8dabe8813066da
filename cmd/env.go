package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/config"
	"github.com/sells-group/property-research/internal/cost"
	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/portal"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/resilience"
	"github.com/sells-group/property-research/internal/store"
	"github.com/sells-group/property-research/internal/synth"
	"github.com/sells-group/property-research/internal/workers"
	anthropicpkg "github.com/sells-group/property-research/pkg/anthropic"
	"github.com/sells-group/property-research/pkg/geocode"
	"github.com/sells-group/property-research/pkg/jina"
	"github.com/sells-group/property-research/pkg/perplexity"
	"github.com/sells-group/property-research/pkg/propdata"
)

// researchEnv holds the store and orchestrator needed by the research,
// resume and serve commands.
type researchEnv struct {
	Store        store.Store
	Orchestrator *research.Orchestrator
	Registry     *research.Registry
}

// Close releases resources held by the environment.
func (e *researchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "research.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initResearch validates config for mode, opens the store, builds the
// provider clients and registers every worker. Callers should defer
// env.Close().
func initResearch(ctx context.Context, mode string) (*researchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine := research.NewEngine(st, &research.Aggregator{}, research.Options{
		PoolSize:      cfg.Research.PoolSize,
		WorkerTimeout: cfg.Research.WorkerTimeout(),
		Weights:       cfg.Research.WorkerWeights,
	})
	orch := research.NewOrchestrator(st, reg, engine, research.Defaults{
		Strategy:    model.Strategy(cfg.Underwriting.DefaultStrategy),
		Groups:      cfg.Research.DefaultGroups,
		MaxWorkers:  cfg.Research.MaxWorkers,
		MaxCostUSD:  cfg.Research.MaxCostUSD,
		MaxDuration: cfg.Research.MaxDuration(),
	}, workers.RefreshProfile)

	zap.L().Info("research environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("workers", reg.Names()),
		zap.Strings("groups", reg.Groups()),
	)

	return &researchEnv{Store: st, Orchestrator: orch, Registry: reg}, nil
}

// buildRegistry constructs the provider clients from c and registers the
// workers. Providers without credentials are left nil; their workers
// record unknowns instead of failing.
func buildRegistry(c *config.Config, st store.Store) (*research.Registry, error) {
	profiles, err := synth.LoadProfiles(c.Underwriting.AssumptionsFile)
	if err != nil {
		return nil, err
	}
	costs := cost.NewCalculator(cost.RatesFromConfig(c.Pricing))

	fetcher := portal.NewHTTPFetcher(portal.HTTPOptions{
		UserAgent:         c.Portal.UserAgent,
		Timeout:           time.Duration(c.Portal.TimeoutSecs) * time.Second,
		RequestsPerSecond: c.Portal.RequestsPerSecond,
		MaxBodyBytes:      c.Portal.MaxBodyBytes,
	})

	deps := workers.Deps{
		Store:           st,
		Geocoder:        geocode.NewClient(geocode.WithBaseURL(c.Geocode.BaseURL), geocode.WithBenchmark(c.Geocode.Benchmark), geocode.WithRateLimit(c.Geocode.RateLimit)),
		Portal:          portal.NewCache(st, fetcher, c.Portal.CacheTTL()),
		Costs:           costs,
		Profiles:        profiles,
		ParcelURL:       c.Portal.ParcelURL,
		FloodURL:        c.Portal.FloodURL,
		PermitURL:       c.Portal.PermitURL,
		CompRadiusMiles: c.PropData.RadiusMiles,
		MaxComps:        c.PropData.MaxComps,
	}

	if c.Jina.Key != "" {
		deps.Search = jina.NewClient(c.Jina.Key,
			jina.WithSearchBaseURL(c.Jina.SearchBaseURL),
			jina.WithBreaker(resilience.NewBreaker("jina", 5, 30*time.Second)),
		)
	} else {
		zap.L().Debug("RESEARCH_JINA_KEY not set, web search disabled")
	}

	if c.Perplexity.Key != "" {
		deps.Perplexity = perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
			perplexity.WithBreaker(resilience.NewBreaker("perplexity", 5, 30*time.Second)),
		)
	} else {
		zap.L().Debug("RESEARCH_PERPLEXITY_KEY not set, market research disabled")
	}

	if c.PropData.Key != "" {
		policy := resilience.DefaultPolicy("propdata")
		policy.Attempts = c.PropData.MaxRetries + 1
		deps.PropData = propdata.NewClient(c.PropData.Key,
			propdata.WithBaseURL(c.PropData.BaseURL),
			propdata.WithRetryPolicy(policy),
			propdata.WithBreaker(resilience.NewBreaker("propdata", 5, time.Minute)),
		)
	} else {
		zap.L().Debug("RESEARCH_PROPDATA_KEY not set, comps disabled")
	}

	deps.Narrator = synth.TemplateNarrator{}
	if c.Anthropic.Key != "" {
		deps.Narrator = synth.FallbackNarrator{
			Primary: &synth.AnthropicNarrator{
				Client:    anthropicpkg.NewClient(c.Anthropic.Key),
				Model:     c.Anthropic.Model,
				MaxTokens: c.Anthropic.MaxTokens,
				Costs:     costs,
			},
			Fallback: synth.TemplateNarrator{},
		}
	} else {
		zap.L().Debug("RESEARCH_ANTHROPIC_KEY not set, dossiers use the template narrator")
	}

	reg := research.NewRegistry()
	if err := workers.Register(reg, deps); err != nil {
		return nil, err
	}
	if err := reg.ApplyFatal(c.Research.FatalWorkers); err != nil {
		return nil, eris.Wrap(err, "research.fatal_workers")
	}
	return reg, nil
}
