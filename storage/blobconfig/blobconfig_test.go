package blobconfig

import (
	"context"
	"strings"
	"testing"

	"github.com/getwalmarket/walmarket/storage"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty", Config{}, "at least one backend"},
		{"unknown type", Config{Backends: []BackendConfig{{Type: "s3"}}}, "unknown backend type"},
		{"localfs without dir", Config{Backends: []BackendConfig{{Type: TypeLocalFS}}}, "requires dir"},
		{"grpc without target", Config{Backends: []BackendConfig{{Type: TypeGRPC}}}, "requires target"},
		{"duplicate", Config{Backends: []BackendConfig{{Type: TypeMemory}, {Type: TypeMemory}}}, "duplicate backend id"},
		{"bad policy", Config{WritePolicy: "some", Backends: []BackendConfig{{Type: TypeMemory}}}, "invalid write_policy"},
		{"mixed replication", Config{WritePolicy: WriteAll, Backends: []BackendConfig{{Type: TypeMemory}, {Type: TypeWalrus}}}, "cannot mix walrus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestOpen_SingleBackendIsReturnedDirectly(t *testing.T) {
	s, closeFn, err := Config{Backends: []BackendConfig{{Type: TypeMemory}}}.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*storage.MemoryStore); !ok {
		t.Fatalf("expected *storage.MemoryStore, got %T", s)
	}
}

func TestOpen_WriteAllReplicates(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		WritePolicy: WriteAll,
		Backends: []BackendConfig{
			{Type: TypeMemory, ID: "hot"},
			{Type: TypeLocalFS, Dir: t.TempDir()},
		},
	}
	s, closeFn, err := cfg.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	rs, ok := s.(storage.ReplicatingStore)
	if !ok {
		t.Fatalf("expected storage.ReplicatingStore, got %T", s)
	}
	id, ids, err := rs.PutAll(ctx, []byte("bundle"))
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if ids["hot"] != id || ids[TypeLocalFS] != id {
		t.Fatalf("unexpected per-backend ids: %v", ids)
	}
}

func TestOpen_FirstPolicyFallsBack(t *testing.T) {
	s, closeFn, err := Config{Backends: []BackendConfig{
		{Type: TypeMemory, ID: "a"},
		{Type: TypeMemory, ID: "b"},
	}}.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := s.(storage.MultiStore); !ok {
		t.Fatalf("expected storage.MultiStore, got %T", s)
	}
}
