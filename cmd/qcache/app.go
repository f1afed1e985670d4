package main

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/factlog"
	"github.com/goliatone/go-query-cache/internal/config"
	"github.com/goliatone/go-query-cache/internal/logging"
	"github.com/goliatone/go-query-cache/pkg/di"
)

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	journal    string
}

// app is the wired runtime of one command invocation.
type app struct {
	config    config.File
	logger    logging.Logger
	container *di.Container
	journal   *factlog.BunStore
}

func (f globalFlags) load() (config.File, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.File{}, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.jsonLogs {
		cfg.Log.JSON = true
	}
	if f.journal != "" {
		cfg.Journal.Enabled = true
		cfg.Journal.DSN = f.journal
	}
	if err := cfg.Validate(); err != nil {
		return config.File{}, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg config.File) (*app, error) {
	cacheCfg, err := cfg.CacheConfig()
	if err != nil {
		return nil, err
	}
	a := &app{config: cfg, logger: logging.New(cfg.LogOptions())}

	opts := []di.Option{di.WithLogger(a.logger)}
	if kinds := cfg.Kinds(); kinds != nil {
		opts = append(opts, di.WithPreservedKinds(kinds...))
	}
	if cfg.Journal.Enabled {
		db, err := factlog.OpenSQLite(ctx, cfg.Journal.DSN)
		if err != nil {
			return nil, err
		}
		if a.journal, err = factlog.NewBunStore(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, di.WithJournalStore(a.journal))
	}

	if a.container, err = di.NewContainer(cacheCfg, opts...); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.container != nil {
		if err := a.container.Close(ctx); err != nil {
			a.logger.Warn("container close failed", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("journal close failed", "error", err)
		}
	}
}
