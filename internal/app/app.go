// Package app owns the process-wide storage handle: it is opened once,
// migrated, handed to the engine and closed on shutdown.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"ganttline/internal/config"
	"ganttline/internal/db"
	"ganttline/internal/engine"
	"ganttline/internal/migrate"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *slog.Logger
}

type Options struct {
	Workspace string
	// Config overrides the workspace file when set.
	Config *config.Config
	// LogOutput receives log lines; io.Discard when nil.
	LogOutput io.Writer
}

// Open loads config, opens and migrates the workspace database and builds
// the engine on top of it.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	out := opts.LogOutput
	if out == nil {
		out = io.Discard
	}
	logger := config.NewLogger(out, cfg.Log)

	conn, err := db.Open(ctx, db.Config{Workspace: opts.Workspace, BusyTimeoutMS: cfg.Storage.BusyTimeoutMS})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", db.Classify(err))
	}
	if err := migrate.RequireCurrent(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("storage opened", "path", db.Path(opts.Workspace))
	return &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg, logger),
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	err := a.DB.Close()
	a.DB = nil
	return err
}
