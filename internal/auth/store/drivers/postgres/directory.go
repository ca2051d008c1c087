// Package postgres reads identities straight from the portal's users table.
// The schema is owned by the portal; this driver only selects from it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Flag columns are nullable in the portal schema, hence the COALESCEs.
const selectIdentity = `
	SELECT id::text, email, COALESCE(full_name, ''), COALESCE(institution_id::text, ''), COALESCE(password, ''),
	       COALESCE(is_admin, false), COALESCE(is_manager, false), COALESCE(is_coordinator, false),
	       COALESCE(is_guardian, false), COALESCE(is_teacher, false), COALESCE(is_student, false),
	       COALESCE(enabled, true), COALESCE(account_locked, false), COALESCE(account_expired, false)
	FROM users
`

type Directory struct {
	pool *pgxpool.Pool
}

var _ store.Directory = (*Directory)(nil)

// Open creates a pool for databaseURL and pings it.
func Open(ctx context.Context, databaseURL string) (*Directory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) VerifyCredentials(ctx context.Context, email, password string) (domain.Identity, error) {
	row := d.pool.QueryRow(ctx, selectIdentity+`WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	ident, err := scanIdentity(row)
	if err != nil {
		return domain.Identity{}, err
	}

	if err := cryptox.VerifyPassword(password, ident.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) || errors.Is(err, cryptox.ErrUnknownHashFormat) {
			// Accounts imported without a usable hash cannot log in.
			return domain.Identity{}, store.ErrPasswordMismatch
		}
		return domain.Identity{}, err
	}
	return ident, nil
}

func (d *Directory) GetIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	return scanIdentity(d.pool.QueryRow(ctx, selectIdentity+`WHERE id::text = $1`, userID))
}

func (d *Directory) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *Directory) Close() error {
	d.pool.Close()
	return nil
}

func scanIdentity(row pgx.Row) (domain.Identity, error) {
	var i domain.Identity
	err := row.Scan(
		&i.ID, &i.Email, &i.Name, &i.InstitutionID, &i.PasswordHash,
		&i.Flags.Administrator, &i.Flags.InstitutionManager, &i.Flags.Coordinator,
		&i.Flags.Guardian, &i.Flags.Teacher, &i.Flags.Student,
		&i.Enabled, &i.Locked, &i.Expired,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, store.ErrNotFound
	}
	return i, err
}
