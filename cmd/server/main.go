// Command server runs the user administration web application.
//
//	server -config settings.yaml
//
// Every setting can be overridden with a USERADMIN_* environment variable
// (see package config).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Skryldev/useradmin/config"
	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/mapper"
	"github.com/Skryldev/useradmin/model"
	"github.com/Skryldev/useradmin/server"
	"github.com/Skryldev/useradmin/session"
	"github.com/Skryldev/useradmin/table"

	// Blank-import the drivers so they self-register with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to the YAML settings file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ── 0. Structured logger ──────────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})).With("service", cfg.App.Name, "version", cfg.App.Version)
	slog.SetDefault(logger)

	// ── 1. Database ───────────────────────────────────────────────────────
	//
	// The connection is opened lazily on the first statement; New only
	// checks that the driver's required parameters are present.
	stats := &db.QueryStats{}
	dbCfg := cfg.Database
	dbCfg.Hooks = []db.Hook{
		db.NewLogHook(db.LogHookConfig{
			Logger:             logger,
			SlowQueryThreshold: cfg.Log.SlowQuery,
			ContextAttrs:       server.LogAttrs,
		}),
		db.NewMetricsHook(stats),
	}
	database, err := db.New(dbCfg)
	if err != nil {
		fatalf("database: %v", err)
	}
	defer database.Close()

	// ── 2. Users ──────────────────────────────────────────────────────────
	desc := model.UserDescriptor()
	_, tableName := model.Conventional("user")
	users := mapper.New(table.New(database, tableName), desc)

	// ── 3. HTTP ───────────────────────────────────────────────────────────
	srv, err := server.New(server.Options{
		Logger:   logger,
		Name:     cfg.App.Name,
		Version:  cfg.App.Version,
		DB:       database,
		Users:    users,
		Sessions: session.NewStore(cfg.Session),
		Stats:    stats,
	})
	if err != nil {
		fatalf("server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.Run(ctx, logger, server.RunConfig{
		Service:         cfg.App.Name,
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, srv.Handler())
	if err != nil {
		fatalf("http: %v", err)
	}

	snap := stats.Snapshot()
	logger.Info("shutdown complete", "queries", snap.Queries, "failures", snap.Failures)
}

func fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
