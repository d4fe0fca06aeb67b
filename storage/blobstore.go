// Package storage defines the blob-store capability used to persist evidence
// bundles, plus in-process and composite implementations.
package storage

import "context"

// BlobStore is a minimal immutable blob store.
//
// Contract:
// - Put MUST be idempotent for content-addressed backends.
// - Stored blobs MUST be immutable.
// - Get MUST return ErrNotFound when the id is absent.
// - ids are opaque to callers; CID-keyed backends return CIDv1 raw/sha2-256 strings.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}
