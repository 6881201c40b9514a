// Package migrations embeds the schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

// Command names accepted by Run.
const (
	CommandUp     = "up"
	CommandDown   = "down"
	CommandStatus = "status"
)

func prepare() error {
	goose.SetBaseFS(files)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("postgres")
}

// Run executes a goose command against the pool.
func Run(ctx context.Context, pool *pgxpool.Pool, command string, logger *slog.Logger) error {
	if err := prepare(); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	return run(ctx, db, command, logger)
}

func run(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	var err error
	switch command {
	case CommandUp:
		err = goose.UpContext(ctx, db, dir)
	case CommandDown:
		err = goose.DownContext(ctx, db, dir)
	case CommandStatus:
		err = goose.StatusContext(ctx, db, dir)
	default:
		return fmt.Errorf("migrations: unknown command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migrations: %s: %w", command, err)
	}
	version, verr := goose.GetDBVersionContext(ctx, db)
	if verr == nil && logger != nil {
		logger.Info("migrations applied", slog.String("command", command), slog.Int64("version", version))
	}
	return nil
}
