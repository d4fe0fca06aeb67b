package storage

import (
	"context"
	"errors"
)

// MultiStore provides deterministic, ordered fallback across several stores.
//
// Read order is the slice order in Stores; callers MUST supply a fixed order.
// Put writes only to the first store.
type MultiStore struct {
	Stores []BlobStore
}

func (m MultiStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(m.Stores) == 0 {
		return "", errors.New("storage: MultiStore has no stores")
	}
	return m.Stores[0].Put(ctx, data)
}

func (m MultiStore) Get(ctx context.Context, id string) ([]byte, error) {
	return getFirst(ctx, id, m.Stores)
}

func getFirst(ctx context.Context, id string, stores []BlobStore) ([]byte, error) {
	for _, s := range stores {
		if s == nil {
			continue
		}
		b, err := s.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}
