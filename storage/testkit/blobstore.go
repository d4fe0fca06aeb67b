// Package testkit holds conformance tests shared by every BlobStore backend.
package testkit

import (
	"bytes"
	"context"
	"testing"

	"github.com/getwalmarket/walmarket/cidutil"
	"github.com/getwalmarket/walmarket/storage"
)

// NewStore constructs a fresh, empty store for a test.
// The returned store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.BlobStore

type Options struct {
	// CIDKeyed asserts that ids are CIDv1 raw/sha2-256 of the stored bytes.
	CIDKeyed bool
	// MissingID is a well-formed id that is never stored. Defaults to the CID of "missing".
	MissingID string
	// InvalidID is an id the store must reject. Empty skips the check.
	InvalidID string
}

func RunConformance(t *testing.T, newStore NewStore, opts Options) {
	t.Helper()
	ctx := context.Background()
	if opts.MissingID == "" {
		opts.MissingID = cidutil.CIDv1RawSHA256([]byte("missing"))
	}

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := []byte(`{"version":"1.0","timestamp":1730000000}`)

		id, err := s.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if id == "" {
			t.Fatalf("Put returned empty id")
		}
		if opts.CIDKeyed && !cidutil.Matches(id, want) {
			t.Fatalf("Put id %s is not the CID of the stored bytes", id)
		}

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		s := newStore(t)
		b := []byte("same bytes")

		id1, err := s.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := s.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, opts.MissingID)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("RejectInvalidID", func(t *testing.T) {
		if opts.InvalidID == "" {
			t.Skip("store accepts any id")
		}
		s := newStore(t)
		if _, err := s.Get(ctx, opts.InvalidID); err == nil {
			t.Fatalf("Get should fail for invalid id")
		}
	})
}
