package walrus

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/getwalmarket/walmarket/storage"
	"github.com/getwalmarket/walmarket/storage/testkit"
)

// fakeWalrus serves both publisher and aggregator routes from memory.
type fakeWalrus struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	epochs []string
}

func (f *fakeWalrus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/v1/blobs":
		body, _ := io.ReadAll(r.Body)
		sum := sha256.Sum256(body)
		id := base64.RawURLEncoding.EncodeToString(sum[:])

		f.mu.Lock()
		f.epochs = append(f.epochs, r.URL.Query().Get("epochs"))
		_, exists := f.blobs[id]
		f.blobs[id] = body
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if exists {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"alreadyCertified": map[string]any{"blobId": id},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"newlyCreated": map[string]any{"blobObject": map[string]any{"blobId": id}},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/blobs/"):
		f.mu.Lock()
		b, ok := f.blobs[strings.TrimPrefix(r.URL.Path, "/v1/blobs/")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	default:
		http.Error(w, "unexpected route", http.StatusBadRequest)
	}
}

func newFake(t *testing.T) (*fakeWalrus, *Store) {
	t.Helper()
	fake := &fakeWalrus{blobs: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := New(Config{Publisher: srv.URL, Aggregator: srv.URL, Epochs: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fake, s
}

func TestWalrus_Conformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.BlobStore {
		_, s := newFake(t)
		return s
	}, testkit.Options{MissingID: "bWlzc2luZw", InvalidID: "../etc/passwd"})
}

func TestWalrus_PutSendsEpochs(t *testing.T) {
	fake, s := newFake(t)
	if _, err := s.Put(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(fake.epochs) != 1 || fake.epochs[0] != "3" {
		t.Fatalf("unexpected epochs query: %v", fake.epochs)
	}
}

func TestWalrus_PublisherErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(Config{Publisher: srv.URL, Aggregator: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Put(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "insufficient funds") {
		t.Fatalf("expected publisher error, got %v", err)
	}
}

func TestWalrus_Defaults(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.aggregator != DefaultAggregator || s.publisher != DefaultPublisher || s.epochs != DefaultEpochs {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if _, err := New(Config{Epochs: -1}); err == nil {
		t.Fatalf("expected error for negative epochs")
	}
}
