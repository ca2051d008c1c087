package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/cryptox"
)

// Directory is an in-memory user directory.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]domain.Identity
	byEmail map[string]string
}

var _ store.Directory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		byID:    make(map[string]domain.Identity),
		byEmail: make(map[string]string),
	}
}

// AddIdentity stores ident with password hashed. Emails are matched
// case-insensitively.
func (d *Directory) AddIdentity(ident domain.Identity, password string) error {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return err
	}
	ident.PasswordHash = hash
	return d.Put(ident)
}

// Put stores ident as-is, replacing any record with the same ID.
func (d *Directory) Put(ident domain.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	email := strings.ToLower(ident.Email)
	if owner, ok := d.byEmail[email]; ok && owner != ident.ID {
		return store.ErrAlreadyExists
	}
	if prev, ok := d.byID[ident.ID]; ok {
		delete(d.byEmail, strings.ToLower(prev.Email))
	}
	d.byID[ident.ID] = ident
	d.byEmail[email] = ident.ID
	return nil
}

// Delete removes the identity, as the portal does when an account is purged.
func (d *Directory) Delete(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ident, ok := d.byID[userID]; ok {
		delete(d.byEmail, strings.ToLower(ident.Email))
		delete(d.byID, userID)
	}
}

func (d *Directory) VerifyCredentials(_ context.Context, email, password string) (domain.Identity, error) {
	d.mu.RLock()
	id, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	ident := d.byID[id]
	d.mu.RUnlock()

	if !ok {
		return domain.Identity{}, store.ErrNotFound
	}
	if err := cryptox.VerifyPassword(password, ident.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.Identity{}, store.ErrPasswordMismatch
		}
		return domain.Identity{}, err
	}
	return ident, nil
}

func (d *Directory) GetIdentity(_ context.Context, userID string) (domain.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ident, ok := d.byID[userID]
	if !ok {
		return domain.Identity{}, store.ErrNotFound
	}
	return ident, nil
}

func (d *Directory) Ping(context.Context) error { return nil }

func (d *Directory) Close() error { return nil }
