// Package ipfs is a blob store backed by the local Kubo "ipfs" CLI.
//
// It operates on the local IPFS repo and does not require a daemon. Ids are
// CIDv1 raw + sha2-256, matching cidutil, and every read is re-verified.
// Reachability is not validity; CID verification is.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/getwalmarket/walmarket/cidutil"
	"github.com/getwalmarket/walmarket/storage"
)

type Store struct {
	bin string
	env []string
}

var _ storage.BlobStore = (*Store)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string `yaml:"bin" json:"bin,omitempty"`
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	// If nil, the process environment is used.
	Env []string `yaml:"env" json:"env,omitempty"`
}

func New(opts Options) *Store {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Store{bin: bin, env: opts.Env}
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return "", err
	}

	// Explicit parameters keep the block CID on the raw/sha2-256 contract.
	out, err := s.run(ctx, data,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		"/dev/stdin",
	)
	if err != nil {
		return "", err
	}

	got, err := cidutil.ParseCID(strings.TrimSpace(string(out)))
	if err != nil {
		return "", fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	if got.String() != want.String() {
		return "", storage.ErrIDMismatch
	}
	return want.String(), nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	c, err := cidutil.ParseCID(id)
	if err != nil {
		return nil, storage.ErrInvalidID
	}

	out, err := s.run(ctx, nil, "block", "get", c.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !cidutil.Matches(c.String(), out) {
		return nil, storage.ErrIDMismatch
	}
	return out, nil
}

func (s *Store) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			return nil, fmt.Errorf("ipfs: %v", err)
		}
		return nil, fmt.Errorf("ipfs: %s", msg)
	}
	return nil, err
}

func isLikelyNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}
