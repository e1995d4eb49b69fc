package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sells-group/reconcile-cli/internal/fetcher"
	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/finalize"
	"github.com/sells-group/reconcile-cli/internal/resilience"
	"github.com/sells-group/reconcile-cli/internal/review"
	"github.com/sells-group/reconcile-cli/internal/snapshot"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// appEnv holds the components shared by review commands.
type appEnv struct {
	Store   store.Store
	Engine  *filter.Engine
	Manager *review.Manager
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "reconcile.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv opens and migrates the store and wires the review manager.
func initEnv(ctx context.Context) (*appEnv, error) {
	mapping, err := filter.ParseMapping(cfg.Categories)
	if err != nil {
		return nil, eris.Wrap(err, "config: categories")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	engine := filter.NewEngine(mapping)
	fin := finalize.New(st, finalize.Options{
		PageSize: cfg.Review.PageSize,
		Retry: resilience.FromRetryConfig(
			cfg.Finalize.MaxAttempts,
			cfg.Finalize.InitialBackoffMs,
			cfg.Finalize.MaxBackoffMs,
		),
	})

	return &appEnv{
		Store:  st,
		Engine: engine,
		Manager: review.NewManager(st, fin, review.Options{
			Engine:              engine,
			AutoAcceptThreshold: cfg.Review.AutoAcceptThreshold,
		}),
	}, nil
}

func newLoader() *snapshot.Loader {
	timeout := time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
	return snapshot.NewLoader(fetcher.NewOpener(fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			Timeout:     timeout,
			MaxRetries:  cfg.Fetch.MaxRetries,
			RatePerHost: rate.Limit(cfg.Fetch.RatePerHost),
		},
		FTP: fetcher.FTPOptions{Timeout: timeout},
	}))
}

// reviewerFlag returns --reviewer or the configured default.
func reviewerFlag(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("reviewer"); v != "" {
		return v
	}
	return cfg.Review.Reviewer
}
