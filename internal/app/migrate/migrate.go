// Package migrate applies the goose schema migrations and loads the faculty
// and project catalog.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const runTimeout = time.Minute

// Runner drives goose over the same pool the store uses.
type Runner struct {
	pool *pgxpool.Pool
	dir  string
	src  fs.FS
	log  *slog.Logger
}

// New checks that dir holds the migrations and returns a Runner for pool.
func New(pool *pgxpool.Pool, dir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("migrate: pool is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Runner{}, fmt.Errorf("migrate: %w", err)
	}
	if !info.IsDir() {
		return Runner{}, fmt.Errorf("migrate: %s is not a directory", dir)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dir: dir, src: os.DirFS(dir), log: log.With("component", "migrate")}, nil
}

// Up applies every pending migration.
func (r Runner) Up(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	return r.withProvider(func(p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, res := range results {
			r.log.Info("schema version applied", "version", res.Source.Version, "took", res.Duration)
		}
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		r.log.Info("schema up to date", "dir", r.dir, "applied", len(results))
		return nil
	})
}

// Status logs every known migration with its state.
func (r Runner) Status(ctx context.Context) error {
	return r.withProvider(func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		for _, st := range statuses {
			attrs := []any{"version", st.Source.Version, "file", st.Source.Path, "state", st.State}
			if st.State == goose.StateApplied {
				attrs = append(attrs, "applied_at", st.AppliedAt)
			}
			r.log.Info("schema version", attrs...)
		}
		return nil
	})
}

// Down undoes the newest migration, or every migration above target when
// target is positive.
func (r Runner) Down(ctx context.Context, target int64) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	return r.withProvider(func(p *goose.Provider) error {
		var results []*goose.MigrationResult
		var err error
		if target > 0 {
			results, err = p.DownTo(ctx, target)
		} else {
			var res *goose.MigrationResult
			if res, err = p.Down(ctx); res != nil {
				results = append(results, res)
			}
		}
		for _, res := range results {
			r.log.Info("schema version reverted", "version", res.Source.Version)
		}
		if err != nil {
			return fmt.Errorf("migrate down to %d: %w", target, err)
		}
		return nil
	})
}

// Ping checks the database within a short deadline.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}

// Close closes the pool the runner was built with.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) withProvider(fn func(*goose.Provider) error) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()
	provider, err := goose.NewProvider(goose.DialectPostgres, db, r.src)
	if err != nil {
		return fmt.Errorf("migrate: load %s: %w", r.dir, err)
	}
	return fn(provider)
}
