package taskboard

import (
	"context"
	"sync"

	"github.com/halcyon-surgical/portal/internal/store"
)

// Registry hands out one Board per storage key, loading each on first use.
type Registry struct {
	kv     store.Store
	opts   []Option
	mu     sync.Mutex
	boards map[string]*Board
}

// NewRegistry creates a Registry over kv. opts apply to every board it opens.
func NewRegistry(kv store.Store, opts ...Option) *Registry {
	return &Registry{kv: kv, opts: opts, boards: make(map[string]*Board)}
}

// Board returns the board stored under key.
func (r *Registry) Board(ctx context.Context, key string) *Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boards[key]; ok {
		return b
	}
	b := Open(ctx, r.kv, key, r.opts...)
	r.boards[key] = b
	return b
}

// Evict drops the cached board for key; the next Board call reloads it.
func (r *Registry) Evict(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boards, key)
}

// Stored lists the keys of every board with tasks in storage.
func (r *Registry) Stored(ctx context.Context) ([]string, error) {
	return r.kv.Keys(ctx, DefaultKey)
}
