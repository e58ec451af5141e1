package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/config"
	"github.com/nstogner/padawan/pkg/controller"
	"github.com/nstogner/padawan/pkg/invoker"
	"github.com/nstogner/padawan/pkg/ledger"
	"github.com/nstogner/padawan/pkg/model"
	"github.com/nstogner/padawan/pkg/model/gemini"
	"github.com/nstogner/padawan/pkg/model/openai"
	"github.com/nstogner/padawan/pkg/planner"
	"github.com/nstogner/padawan/pkg/report"
	reportbleve "github.com/nstogner/padawan/pkg/report/bleve"
	"github.com/nstogner/padawan/pkg/report/httpindex"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/store/postgres"
	"github.com/nstogner/padawan/pkg/store/redis"
	"github.com/nstogner/padawan/pkg/store/sqlite"
	"github.com/nstogner/padawan/pkg/telemetry"
	"github.com/nstogner/padawan/pkg/tools"
)

func setupLogging(cfg config.LogConfig, w io.Writer) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:          cfg.Store.Postgres.DSN(),
			MaxOpenConns: cfg.Store.Postgres.MaxOpenConns,
			AutoMigrate:  cfg.Store.Postgres.AutoMigrate,
		})
	default:
		return sqlite.New(cfg.Store.SQLite.Path)
	}
}

// openTokens returns the configured token backend behind the token cache.
// The returned close function releases a dedicated backend, if any.
func openTokens(ctx context.Context, cfg *config.Config, st store.Store) (store.TokenStore, func() error, error) {
	var (
		next    store.TokenStore = st
		closeFn                  = func() error { return nil }
	)
	if cfg.Tokens.Backend == "redis" {
		r, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Tokens.Redis.Addr,
			Password: cfg.Tokens.Redis.Password,
			DB:       cfg.Tokens.Redis.DB,
			Key:      cfg.Tokens.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		next, closeFn = r, r.Close
	}
	return store.NewCachedTokens(next, cfg.Tokens.CacheSize, cfg.Tokens.CacheTTL), closeFn, nil
}

func newProvider(ctx context.Context, cfg config.LLMConfig) (model.Provider, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			HTTPClient: httpClient,
		})
	default:
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("gemini api key not configured (llm.gemini.api_key or GEMINI_API_KEY)")
		}
		opts := []gemini.Option{gemini.WithHTTPClient(httpClient)}
		if cfg.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
		}
		return gemini.New(ctx, cfg.Gemini.APIKey, opts...)
	}
}

// runtime holds everything needed to run missions.
type runtime struct {
	cfg        *config.Config
	store      store.Store
	metrics    *telemetry.Metrics
	index      *reportbleve.Index
	controller *controller.Controller
	closers    []func() error
}

// newRuntime wires the mission loop. padawanAPI overrides tools.padawan_api
// when not empty.
func newRuntime(ctx context.Context, cfg *config.Config, padawanAPI string) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	if cfg.Telemetry.MetricsEnabled {
		rt.metrics = telemetry.NewMetrics()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	tokens, closeTokens, err := openTokens(ctx, cfg, st)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("opening token store: %w", err)
	}
	rt.closers = append(rt.closers, closeTokens)

	c := caller.New(caller.Config{
		Concurrency:   cfg.Caller.Concurrency,
		MaxRetries:    cfg.Caller.MaxRetries,
		BaseDelay:     cfg.Caller.BaseDelay,
		MaxDelay:      cfg.Caller.MaxDelay,
		RatePerSecond: cfg.Caller.RatePerSecond,
		Burst:         cfg.Caller.Burst,
	}, caller.WithMetrics(rt.metrics))

	provider, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("creating %s provider: %w", cfg.LLM.Provider, err)
	}

	var publisher report.Publisher
	switch cfg.Report.Backend {
	case "bleve":
		idx, err := reportbleve.Open(cfg.Report.Bleve.Path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.index = idx
		rt.closers = append(rt.closers, idx.Close)
		publisher = idx
	case "http":
		publisher = httpindex.New(cfg.Report.HTTP.URL, cfg.Report.HTTP.APIKey, c)
	}

	if padawanAPI == "" {
		padawanAPI = cfg.Tools.PadawanAPI
	}
	inv := invoker.New(c, tokens, padawanAPI,
		invoker.WithHTTPClient(&http.Client{Timeout: cfg.Tools.Timeout}),
		invoker.WithMetrics(rt.metrics),
	)

	rt.controller = controller.New(
		st, st, st,
		ledger.New(st),
		planner.New(provider, c),
		inv,
		report.NewGenerator(st, st, publisher),
		controller.WithMetrics(rt.metrics),
	)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// registerBuiltinTools adds the built-in workspace tools to the catalog.
func registerBuiltinTools(ctx context.Context, catalog store.ToolCatalog, reg *tools.Registry) error {
	for _, def := range reg.Definitions() {
		if err := catalog.PutTool(ctx, &def); err != nil {
			return fmt.Errorf("registering %s: %w", def.Name, err)
		}
	}
	slog.Debug("Registered built-in tools", "count", len(reg.List()))
	return nil
}
