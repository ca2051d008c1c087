package authsdk

import (
	"context"
	"maps"
	"sync"
)

// Backend is key/value storage shared by every Manager that points at it,
// the analogue of browser localStorage (durable) or sessionStorage.
//
// Watch reports keys changed by any writer, including the watcher's own
// writes. The channel closes when ctx ends.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
	// CompareAndSwap sets key to next if its current value is prev. An empty
	// prev matches a missing key; an empty next deletes it.
	CompareAndSwap(key, prev, next string) (bool, error)
	Watch(ctx context.Context) (<-chan string, error)
}

// MemoryBackend is a process-local Backend. Sessions kept here do not
// survive a restart.
type MemoryBackend struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[int]chan string
	nextID   int
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string]string),
		watchers: make(map[int]chan string),
	}
}

func (b *MemoryBackend) Get(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *MemoryBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	b.notify(key)
	return nil
}

func (b *MemoryBackend) Delete(keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		if _, ok := b.data[k]; ok {
			delete(b.data, k)
			b.notify(k)
		}
	}
	return nil
}

func (b *MemoryBackend) CompareAndSwap(key, prev, next string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data[key] != prev {
		return false, nil
	}
	if next == "" {
		delete(b.data, key)
	} else {
		b.data[key] = next
	}
	b.notify(key)
	return true, nil
}

// Clear wipes every key, not just one namespace. It exists for callers that
// reset the whole store; a Manager restores its keys afterwards.
func (b *MemoryBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := maps.Clone(b.data)
	clear(b.data)
	for k := range old {
		b.notify(k)
	}
}

func (b *MemoryBackend) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 64)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// notify must be called with mu held. Slow watchers miss events rather than
// block writers.
func (b *MemoryBackend) notify(key string) {
	for _, ch := range b.watchers {
		select {
		case ch <- key:
		default:
		}
	}
}
