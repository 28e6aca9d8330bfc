package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teamforge/internal/app/migrate"
	"github.com/splax/teamforge/internal/repository/postgres"
	"github.com/splax/teamforge/pkg/config"
	"github.com/splax/teamforge/pkg/logger"
)

type job struct {
	runner  migrate.Runner
	pool    *pgxpool.Pool
	log     *slog.Logger
	target  int64
	catalog string
}

var commands = map[string]func(context.Context, job) error{
	"up":     func(ctx context.Context, j job) error { return j.runner.Up(ctx) },
	"status": func(ctx context.Context, j job) error { return j.runner.Status(ctx) },
	"down":   func(ctx context.Context, j job) error { return j.runner.Down(ctx, j.target) },
	"seed":   seedCatalog,
}

func main() {
	command := flag.String("command", "up", "one of up, status, down or seed")
	timeout := flag.Duration("timeout", time.Minute, "deadline for the whole command")
	target := flag.Int64("target", 0, "version to roll back to with down; 0 undoes one step")
	catalogPath := flag.String("catalog", "", "faculty and project catalog for seed (defaults to CATALOG_FILE)")
	configPath := flag.String("config", "", "YAML config file (defaults to $TEAMFORGE_CONFIG)")
	flag.Parse()

	cfg, err := config.LoadAPIConfig(*configPath)
	if err != nil {
		logger.New("migrate", slog.LevelInfo).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel)).With("command", *command)

	run, ok := commands[*command]
	if !ok {
		log.Error("unknown command")
		os.Exit(2)
	}
	if *catalogPath == "" {
		*catalogPath = cfg.CatalogFile
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := execute(ctx, cfg, log, run, *target, *catalogPath); err != nil {
		log.Error("migrate failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrate finished")
}

func execute(ctx context.Context, cfg config.APIConfig, log *slog.Logger, run func(context.Context, job) error, target int64, catalog string) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return fmt.Errorf("prepare runner: %w", err)
	}
	defer runner.Close()

	return run(ctx, job{runner: runner, pool: pool, log: log, target: target, catalog: catalog})
}

func seedCatalog(ctx context.Context, j job) error {
	if j.catalog == "" {
		return errors.New("seed needs -catalog or CATALOG_FILE")
	}
	catalog, err := migrate.LoadCatalog(j.catalog)
	if err != nil {
		return err
	}
	_, err = migrate.Seed(ctx, postgres.New(j.pool), catalog, j.log)
	return err
}
