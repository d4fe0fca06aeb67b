// Package evidence packages the inputs and outputs of an inference run into a
// canonical, hash-addressed bundle.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/oracle"
)

// Version is the bundle format version.
const Version = "1.0"

// Bundle is immutable once created.
type Bundle struct {
	Version   string         `json:"version"`
	Timestamp int64          `json:"timestamp"`
	Input     any            `json:"input"`
	Output    any            `json:"output"`
	Metadata  map[string]any `json:"metadata"`
}

// Create builds a bundle. The bundle timestamp is taken from
// metadata["timestamp"] and is 0 when absent.
func Create(input, output any, metadata map[string]any) *Bundle {
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Bundle{
		Version:   Version,
		Timestamp: timestampOf(md["timestamp"]),
		Input:     input,
		Output:    output,
		Metadata:  md,
	}
}

func timestampOf(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return int64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

// Hash is the canonical hash of the bundle.
func (b *Bundle) Hash() (string, error) {
	return canon.Hash(b)
}

// Bytes is the canonical encoding handed to storage. canon.HashBytes(Bytes())
// equals Hash().
func (b *Bundle) Bytes() ([]byte, error) {
	return canon.Canonicalize(b)
}

// Decode parses stored bundle bytes.
func Decode(data []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-EVID-001", "stored content is not an evidence bundle", err)
	}
	return &b, nil
}

// FetchFunc retrieves stored bytes by blob id.
type FetchFunc func(ctx context.Context, blobID string) ([]byte, error)

// Verify fetches blobID and checks that the stored bytes hash to
// expectedHash. Bundles are stored in canonical form, so the stored bytes are
// hashed as-is and any re-encoding counts as a mismatch.
func Verify(ctx context.Context, blobID, expectedHash string, fetch FetchFunc) error {
	if fetch == nil {
		return oracle.NewError(oracle.KindInternal, "ORACLE-EVID-004", "no fetch function")
	}
	data, err := fetch(ctx, blobID)
	if err != nil {
		return oracle.WrapError(oracle.KindStorageUnavailable, "ORACLE-EVID-002", "fetching evidence blob "+blobID+" failed", err)
	}
	actual := canon.HashBytes(data)
	if _, err := Decode(data); err != nil {
		return oracle.Mismatch("ORACLE-EVID-003", expectedHash, actual)
	}
	if actual != expectedHash {
		return oracle.Mismatch("ORACLE-EVID-003", expectedHash, actual)
	}
	return nil
}
