// Package localfs is a filesystem-backed, CID-keyed blob store.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"github.com/getwalmarket/walmarket/cidutil"
	"github.com/getwalmarket/walmarket/storage"
)

// Store keeps blobs immutably under root, keyed strictly by CID.
// It never uses the network and never depends on wall-clock time.
type Store struct {
	root string
}

var _ storage.BlobStore = (*Store)(nil)

// New constructs a store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return "", err
	}

	path := s.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := s.get(id)
			if rerr != nil || !bytes.Equal(existing, data) {
				// An unreadable or corrupted existing object is never repaired.
				return "", storage.ErrImmutable
			}
			return id.String(), nil
		}
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return id.String(), nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := cidutil.ParseCID(id)
	if err != nil {
		return nil, storage.ErrInvalidID
	}
	return s.get(c)
}

func (s *Store) get(id cid.Cid) ([]byte, error) {
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !cidutil.Matches(id.String(), b) {
		return nil, storage.ErrIDMismatch
	}
	return b, nil
}

func (s *Store) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}
