package storage

import (
	"context"
	"fmt"
)

// NamedStore associates a store with a stable backend name.
type NamedStore struct {
	Name  string
	Store BlobStore
}

// ReplicatingStore writes to all configured backends.
//
// Reads fall back in order. Writes go to all backends and require every
// returned id to match the first backend's id (otherwise ErrIDMismatch), so
// only backends sharing an addressing scheme should be combined.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ BlobStore = ReplicatingStore{}

// PutAll writes data to every backend and returns the agreed id plus the
// per-backend ids.
func (r ReplicatingStore) PutAll(ctx context.Context, data []byte) (string, map[string]string, error) {
	if len(r.Backends) == 0 {
		return "", nil, fmt.Errorf("storage: ReplicatingStore has no backends")
	}
	out := make(map[string]string, len(r.Backends))
	var want string
	for i, b := range r.Backends {
		if b.Store == nil {
			return "", nil, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(ctx, data)
		if err != nil {
			return "", out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			return "", out, ErrIDMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingStore) Put(ctx context.Context, data []byte) (string, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r ReplicatingStore) Get(ctx context.Context, id string) ([]byte, error) {
	stores := make([]BlobStore, 0, len(r.Backends))
	for _, b := range r.Backends {
		stores = append(stores, b.Store)
	}
	return getFirst(ctx, id, stores)
}
