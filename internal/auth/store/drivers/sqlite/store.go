// Package sqlite is a self-hosted identity directory for deployments that do
// not sit next to the portal database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/edportal/sessionauth/internal/auth/store"
	_ "modernc.org/sqlite"
)

type Directory struct {
	db  *sql.DB
	dsn string
}

var _ store.Directory = (*Directory)(nil)

func Open(dsn string) (*Directory, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Directory{db: db, dsn: dsn}, nil
}

func (d *Directory) Close() error { return d.db.Close() }

// Ping verifies the database connection is still alive.
func (d *Directory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
