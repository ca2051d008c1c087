package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

// FileBackend keeps keys in a single JSON file so they survive restarts and
// are visible to other processes using the same path. Writes replace the
// file atomically with a rename. Every read-modify-write holds an exclusive
// OS lock on a sibling ".lock" file, so CompareAndSwap is atomic across
// processes sharing the path.
type FileBackend struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates the parent directory if needed. The file itself is
// created on first write with mode 0600.
func NewFileBackend(path string) (*FileBackend, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("authsdk: create storage dir: %w", err)
	}
	return &FileBackend{path: path, lock: flock.New(path + ".lock")}, nil
}

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Get(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (b *FileBackend) Set(key, value string) error {
	return b.update(func(data map[string]string) bool {
		if data[key] == value {
			return false
		}
		data[key] = value
		return true
	})
}

func (b *FileBackend) Delete(keys ...string) error {
	return b.update(func(data map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := data[k]; ok {
				delete(data, k)
				changed = true
			}
		}
		return changed
	})
}

func (b *FileBackend) CompareAndSwap(key, prev, next string) (bool, error) {
	swapped := false
	err := b.update(func(data map[string]string) bool {
		if data[key] != prev {
			return false
		}
		if next == "" {
			delete(data, key)
		} else {
			data[key] = next
		}
		swapped = true
		return true
	})
	return swapped, err
}

// Watch follows the file with fsnotify and reports keys whose value changed
// since the previous event. The directory is watched rather than the file
// because writes replace it.
func (b *FileBackend) Watch(ctx context.Context) (<-chan string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("authsdk: watch storage: %w", err)
	}
	if err := w.Add(filepath.Dir(b.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("authsdk: watch storage: %w", err)
	}

	b.mu.Lock()
	last, err := b.load()
	b.mu.Unlock()
	if err != nil {
		last = map[string]string{}
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != b.path {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
					!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}

				b.mu.Lock()
				cur, err := b.load()
				b.mu.Unlock()
				if err != nil {
					// Partially written by a foreign writer; the next event has it.
					continue
				}

				for _, k := range changedKeys(last, cur) {
					select {
					case out <- k:
					case <-ctx.Done():
						return
					}
				}
				last = cur

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Default().Warn("authsdk: storage watch error", "path", b.path, "error", err)
			}
		}
	}()

	return out, nil
}

// update applies fn to the current contents and persists them when fn
// reports a change.
func (b *FileBackend) update(fn func(map[string]string) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("authsdk: lock storage: %w", err)
	}
	defer func() { _ = b.lock.Unlock() }()

	data, err := b.load()
	if err != nil {
		return err
	}
	if !fn(data) {
		return nil
	}
	return b.store(data)
}

// load must be called with mu held. A missing file is empty storage.
func (b *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authsdk: read storage: %w", err)
	}

	data := map[string]string{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("authsdk: decode storage: %w", err)
	}
	return data, nil
}

// store must be called with mu held.
func (b *FileBackend) store(data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+filepath.Base(b.path)+".*")
	if err != nil {
		return fmt.Errorf("authsdk: write storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("authsdk: write storage: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("authsdk: write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("authsdk: write storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("authsdk: write storage: %w", err)
	}
	return nil
}

func changedKeys(prev, cur map[string]string) []string {
	var keys []string
	for k, v := range cur {
		if old, ok := prev[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
