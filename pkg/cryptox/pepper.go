package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	pepperMu sync.RWMutex
	pepper   string
)

// Pepper returns the process-wide pepper mixed into Argon2id hashes. It is
// empty until SetPepper or LoadPepperFile is called.
func Pepper() string {
	pepperMu.RLock()
	defer pepperMu.RUnlock()
	return pepper
}

// SetPepper replaces the process-wide pepper.
func SetPepper(p string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepper = p
}

// LoadPepperFile reads the pepper from path, creating the file with a fresh
// random pepper when it does not exist yet. An empty path leaves the pepper
// unset.
func LoadPepperFile(path string) error {
	if path == "" {
		return nil
	}
	path = filepath.Clean(path)

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		SetPepper(strings.TrimSpace(string(raw)))
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	buf := make([]byte, keyLength)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	generated := base64.RawURLEncoding.EncodeToString(buf)

	if err := os.WriteFile(path, []byte(generated), 0o600); err != nil {
		return err
	}
	SetPepper(generated)
	return nil
}
