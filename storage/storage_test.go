package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/getwalmarket/walmarket/storage"
	"github.com/getwalmarket/walmarket/storage/testkit"
)

func TestMemoryStoreConformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.BlobStore {
		return storage.NewMemoryStore()
	}, testkit.Options{CIDKeyed: true, InvalidID: "not-a-cid"})
}

func TestMultiStoreConformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.BlobStore {
		return storage.MultiStore{Stores: []storage.BlobStore{storage.NewMemoryStore(), storage.NewMemoryStore()}}
	}, testkit.Options{CIDKeyed: true, InvalidID: "not-a-cid"})
}

func TestReplicatingStoreConformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.BlobStore {
		return storage.ReplicatingStore{Backends: []storage.NamedStore{
			{Name: "a", Store: storage.NewMemoryStore()},
			{Name: "b", Store: storage.NewMemoryStore()},
		}}
	}, testkit.Options{CIDKeyed: true, InvalidID: "not-a-cid"})
}

func TestMultiStoreFallsBackInOrder(t *testing.T) {
	ctx := context.Background()
	first, second := storage.NewMemoryStore(), storage.NewMemoryStore()
	id, err := second.Put(ctx, []byte("only in second"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	m := storage.MultiStore{Stores: []storage.BlobStore{first, second}}
	got, err := m.Get(ctx, id)
	if err != nil || string(got) != "only in second" {
		t.Fatalf("Get: %q %v", got, err)
	}
	if _, err := m.Put(ctx, []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first.Len() != 1 || second.Len() != 1 {
		t.Fatalf("Put should only write to the first store")
	}
}

type fixedIDStore struct{ id string }

func (f fixedIDStore) Put(context.Context, []byte) (string, error) { return f.id, nil }
func (f fixedIDStore) Get(context.Context, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}

type failingStore struct{}

func (failingStore) Put(context.Context, []byte) (string, error) {
	return "", errors.New("backend down")
}
func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend down")
}

func TestReplicatingStoreDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	r := storage.ReplicatingStore{Backends: []storage.NamedStore{
		{Name: "mem", Store: storage.NewMemoryStore()},
		{Name: "other", Store: fixedIDStore{id: "different"}},
	}}
	_, ids, err := r.PutAll(ctx, []byte("x"))
	if !errors.Is(err, storage.ErrIDMismatch) {
		t.Fatalf("expected ErrIDMismatch, got %v", err)
	}
	if ids["other"] != "different" {
		t.Fatalf("expected per-backend ids, got %v", ids)
	}

	r = storage.ReplicatingStore{Backends: []storage.NamedStore{{Name: "down", Store: failingStore{}}}}
	if _, err := r.Put(ctx, []byte("x")); err == nil {
		t.Fatalf("expected backend error")
	}
	if _, err := (storage.MultiStore{Stores: []storage.BlobStore{failingStore{}}}).Get(ctx, "id"); err == nil || storage.IsNotFound(err) {
		t.Fatalf("expected non-NotFound error to propagate, got %v", err)
	}
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	data := []byte("abc")
	id, _ := s.Put(ctx, data)
	data[0] = 'z'
	got, _ := s.Get(ctx, id)
	if string(got) != "abc" {
		t.Fatalf("store aliased caller buffer")
	}
}
