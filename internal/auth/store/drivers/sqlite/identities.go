package sqlite

import (
	"context"
	"errors"
	"strings"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/rbac"
)

const identityColumns = `id, email, full_name, institution_id, password_hash,
	is_admin, is_institution_manager, is_coordinator, is_guardian, is_teacher, is_student,
	enabled, account_locked, account_expired`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (domain.Identity, error) {
	var i domain.Identity
	err := row.Scan(
		&i.ID, &i.Email, &i.Name, &i.InstitutionID, &i.PasswordHash,
		&i.Flags.Administrator, &i.Flags.InstitutionManager, &i.Flags.Coordinator,
		&i.Flags.Guardian, &i.Flags.Teacher, &i.Flags.Student,
		&i.Enabled, &i.Locked, &i.Expired,
	)
	return i, err
}

func (d *Directory) VerifyCredentials(ctx context.Context, email, password string) (domain.Identity, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ?`,
		strings.TrimSpace(email),
	)
	ident, err := scanIdentity(row)
	if err != nil {
		return domain.Identity{}, mapNotFound(err)
	}

	if err := cryptox.VerifyPassword(password, ident.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.Identity{}, store.ErrPasswordMismatch
		}
		return domain.Identity{}, err
	}
	return ident, nil
}

func (d *Directory) GetIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, userID)
	ident, err := scanIdentity(row)
	if err != nil {
		return domain.Identity{}, mapNotFound(err)
	}
	return ident, nil
}

// CreateIdentity inserts an account. PasswordHash must already be encoded.
func (d *Directory) CreateIdentity(ctx context.Context, i domain.Identity) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.Email, i.Name, i.InstitutionID, i.PasswordHash,
		i.Flags.Administrator, i.Flags.InstitutionManager, i.Flags.Coordinator,
		i.Flags.Guardian, i.Flags.Teacher, i.Flags.Student,
		i.Enabled, i.Locked, i.Expired,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// SetFlags replaces the capability flags of an account.
func (d *Directory) SetFlags(ctx context.Context, userID string, f rbac.Flags) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE identities SET
			is_admin = ?, is_institution_manager = ?, is_coordinator = ?,
			is_guardian = ?, is_teacher = ?, is_student = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		f.Administrator, f.InstitutionManager, f.Coordinator,
		f.Guardian, f.Teacher, f.Student, userID,
	)
	return requireRow(res, err)
}

// SetEnabled enables or disables an account.
func (d *Directory) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE identities SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, userID,
	)
	return requireRow(res, err)
}

func requireRow(res interface{ RowsAffected() (int64, error) }, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
