// Package walrus stores blobs on Walrus through its publisher and aggregator
// HTTP APIs.
package walrus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getwalmarket/walmarket/storage"
)

const (
	DefaultAggregator = "https://aggregator.walrus-testnet.walrus.space"
	DefaultPublisher  = "https://publisher.walrus-testnet.walrus.space"
	DefaultEpochs     = 5

	defaultTimeout = 60 * time.Second
	// Cap on bytes read back from an aggregator.
	maxBlobBytes = 64 << 20
)

// Walrus blob ids are unpadded base64url.
var blobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type Config struct {
	Publisher  string        `yaml:"publisher" json:"publisher,omitempty"`
	Aggregator string        `yaml:"aggregator" json:"aggregator,omitempty"`
	Epochs     int           `yaml:"epochs" json:"epochs,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Store implements storage.BlobStore against a Walrus publisher (writes) and
// aggregator (reads). Ids are Walrus blob ids, not CIDs.
type Store struct {
	publisher  string
	aggregator string
	epochs     int
	httpClient *http.Client
}

var _ storage.BlobStore = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	publisher := strings.TrimRight(strings.TrimSpace(cfg.Publisher), "/")
	if publisher == "" {
		publisher = DefaultPublisher
	}
	aggregator := strings.TrimRight(strings.TrimSpace(cfg.Aggregator), "/")
	if aggregator == "" {
		aggregator = DefaultAggregator
	}
	for _, u := range []string{publisher, aggregator} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return nil, fmt.Errorf("walrus: invalid endpoint %q: %w", u, err)
		}
	}
	epochs := cfg.Epochs
	if epochs < 0 {
		return nil, errors.New("walrus: epochs must be positive")
	}
	if epochs == 0 {
		epochs = DefaultEpochs
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		publisher:  publisher,
		aggregator: aggregator,
		epochs:     epochs,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	endpoint := s.publisher + "/v1/blobs?epochs=" + strconv.Itoa(s.epochs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("walrus: build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("walrus: store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("walrus: publisher returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("walrus: decode store response: %w", err)
	}
	var id string
	switch {
	case decoded.NewlyCreated != nil:
		id = decoded.NewlyCreated.BlobObject.BlobID
	case decoded.AlreadyCertified != nil:
		id = decoded.AlreadyCertified.BlobID
	}
	if !blobIDPattern.MatchString(id) {
		return "", fmt.Errorf("walrus: publisher returned no usable blob id: %w", storage.ErrInvalidID)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if !blobIDPattern.MatchString(id) {
		return nil, storage.ErrInvalidID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.aggregator+"/v1/blobs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("walrus: build read request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("walrus: read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, storage.ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("walrus: aggregator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes+1))
	if err != nil {
		return nil, fmt.Errorf("walrus: read body: %w", err)
	}
	if len(b) > maxBlobBytes {
		return nil, fmt.Errorf("walrus: blob %s exceeds %d bytes", id, maxBlobBytes)
	}
	return b, nil
}
