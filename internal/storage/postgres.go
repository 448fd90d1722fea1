// Package storage opens the Postgres connection and applies migrations.
package storage

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jrsteele09/go-user-management/internal/migrations"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

// Open connects to Postgres and runs the embedded migrations to the latest
// version before returning the handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[storage.Open] sql.Open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[storage.Open] ping")
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[storage.Open] goose dialect")
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[storage.Open] migrations")
	}

	return db, nil
}
