package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
	"github.com/seanchatmangpt/wrkflo/internal/loader"
	"github.com/seanchatmangpt/wrkflo/internal/logging"
	"github.com/seanchatmangpt/wrkflo/internal/service"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/internal/transport"
)

// app is the wired dependency graph behind a command.
type app struct {
	cfg    Config
	logger *slog.Logger
	store  *store.LibSQLStore
	svc    *service.Service
}

// newApp wires transport, history store, engine and service from cfg.
// Logs go to logOut so stdout stays clean for command output.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger := logging.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)

	tcfg := transport.Config{
		MaxResponseBody: cfg.MaxResponseBody,
		RateLimit:       cfg.RateLimit,
		Burst:           cfg.RateBurst,
		Logger:          logger,
	}
	if cfg.CircuitBreaker {
		bc := transport.DefaultBreakerConfig()
		tcfg.Breaker = &bc
	}
	client := transport.NewHTTPClient(tcfg)

	a := &app{cfg: cfg, logger: logger}
	var st store.Store
	if cfg.History {
		ls, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.store = ls
		st = ls
	}

	a.svc = service.New(service.Deps{
		Loader: loader.New(client, logger),
		Engine: engine.New(service.EngineConfig(client, st, cfg.MaxSteps, logger)),
		Store:  st,
		Logger: logger,
	})
	return a, nil
}

func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	ls, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := ls.Migrate(ctx); err != nil {
		ls.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return ls, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// setup loads configuration and wires the app. Commands that never touch
// run history pass needHistory false to skip opening the database.
func (o *rootOptions) setup(ctx context.Context, logOut io.Writer, needHistory bool) (*app, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !needHistory {
		cfg.History = false
	}
	return newApp(ctx, cfg, logOut)
}
