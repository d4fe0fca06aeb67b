package ipfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getwalmarket/walmarket/cidutil"
	"github.com/getwalmarket/walmarket/storage"
	"github.com/getwalmarket/walmarket/storage/testkit"
)

const fakeEnv = "WALMARKET_FAKE_IPFS_DIR"

// TestMain lets the test binary stand in for the ipfs CLI.
func TestMain(m *testing.M) {
	if dir := os.Getenv(fakeEnv); dir != "" {
		os.Exit(fakeKubo(dir, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeKubo(dir string, args []string) int {
	if len(args) < 2 || args[0] != "block" {
		fmt.Fprintf(os.Stderr, "unsupported: %v\n", args)
		return 2
	}
	switch args[1] {
	case "put":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		id := cidutil.CIDv1RawSHA256(b)
		if err := os.WriteFile(filepath.Join(dir, id), b, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(id)
		return 0
	case "get":
		b, err := os.ReadFile(filepath.Join(dir, args[2]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: block was not found locally (offline): %s\n", args[2])
			return 1
		}
		_, _ = os.Stdout.Write(b)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unsupported: %v\n", args)
		return 2
	}
}

func newFakeStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		Bin: os.Args[0],
		Env: append(os.Environ(), fakeEnv+"="+dir),
	}), dir
}

func TestIPFS_Conformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.BlobStore {
		s, _ := newFakeStore(t)
		return s
	}, testkit.Options{CIDKeyed: true, InvalidID: "not-a-cid"})
}

func TestIPFS_GetDetectsCorruptBlock(t *testing.T) {
	ctx := context.Background()
	s, dir := newFakeStore(t)
	id, err := s.Put(ctx, []byte("evidence"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Get(ctx, id); err != storage.ErrIDMismatch {
		t.Fatalf("expected ErrIDMismatch, got %v", err)
	}
}

func TestIPFS_MissingBinary(t *testing.T) {
	s := New(Options{Bin: filepath.Join(t.TempDir(), "no-such-ipfs")})
	_, err := s.Put(context.Background(), []byte("x"))
	if err == nil || strings.Contains(err.Error(), "not found locally") {
		t.Fatalf("expected exec error, got %v", err)
	}
}
