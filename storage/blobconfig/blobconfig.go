// Package blobconfig opens one or more blob store backends from configuration.
package blobconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getwalmarket/walmarket/storage"
	"github.com/getwalmarket/walmarket/storage/grpcblob"
	"github.com/getwalmarket/walmarket/storage/ipfs"
	"github.com/getwalmarket/walmarket/storage/localfs"
	"github.com/getwalmarket/walmarket/storage/walrus"
)

const (
	TypeMemory  = "memory"
	TypeLocalFS = "localfs"
	TypeGRPC    = "grpc"
	TypeWalrus  = "walrus"
	TypeIPFS    = "ipfs"

	WriteFirst = "first"
	WriteAll   = "all"
)

// Config selects blob backends at runtime.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back in order
//   - "all": write to every backend and require id equality (see storage.ReplicatingStore)
//
// Example (YAML):
//
//	write_policy: all
//	backends:
//	  - type: localfs
//	    dir: /var/lib/walmarket/blobs
//	  - type: grpc
//	    target: blobd.internal:7443
type Config struct {
	WritePolicy string          `yaml:"write_policy" json:"write_policy,omitempty"`
	Backends    []BackendConfig `yaml:"backends" json:"backends"`
}

type BackendConfig struct {
	Type string `yaml:"type" json:"type"`
	// ID is an optional alias used in replication results. Defaults to Type.
	ID string `yaml:"id" json:"id,omitempty"`

	// localfs
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// grpc
	Target      string        `yaml:"target" json:"target,omitempty"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	MaxMsgBytes int           `yaml:"max_msg_bytes" json:"max_msg_bytes,omitempty"`

	// walrus
	Walrus walrus.Config `yaml:"walrus" json:"walrus,omitempty"`

	// ipfs
	IPFS ipfs.Options `yaml:"ipfs" json:"ipfs,omitempty"`
}

func (b BackendConfig) name() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Type
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("blobconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	walrusCount := 0
	for _, b := range c.Backends {
		switch b.Type {
		case TypeMemory, TypeWalrus, TypeIPFS:
		case TypeLocalFS:
			if b.Dir == "" {
				return fmt.Errorf("blobconfig: backend %q requires dir", b.name())
			}
		case TypeGRPC:
			if b.Target == "" {
				return fmt.Errorf("blobconfig: backend %q requires target", b.name())
			}
		case "":
			return errors.New("blobconfig: backend type is required")
		default:
			return fmt.Errorf("blobconfig: unknown backend type %q", b.Type)
		}
		if b.Type == TypeWalrus {
			walrusCount++
		}
		if _, ok := seen[b.name()]; ok {
			return fmt.Errorf("blobconfig: duplicate backend id %q", b.name())
		}
		seen[b.name()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", WriteFirst:
		return nil
	case WriteAll:
		// Walrus ids are not CIDs, so replicas could never agree on an id.
		if walrusCount > 0 && walrusCount != len(c.Backends) {
			return errors.New("blobconfig: write_policy \"all\" cannot mix walrus with CID-keyed backends")
		}
		return nil
	default:
		return fmt.Errorf("blobconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open constructs the configured store. The returned close function releases
// every backend connection and is never nil.
func (c Config) Open(ctx context.Context) (storage.BlobStore, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	named := make([]storage.NamedStore, 0, len(c.Backends))
	closers := make([]func() error, 0, len(c.Backends))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range c.Backends {
		if err := ctx.Err(); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		s, closeFn, err := openBackend(b)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("blobconfig: open %q: %w", b.name(), err)
		}
		named = append(named, storage.NamedStore{Name: b.name(), Store: s})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return storage.ReplicatingStore{Backends: named}, closeAll, nil
	}
	stores := make([]storage.BlobStore, 0, len(named))
	for _, n := range named {
		stores = append(stores, n.Store)
	}
	return storage.MultiStore{Stores: stores}, closeAll, nil
}

func openBackend(b BackendConfig) (storage.BlobStore, func() error, error) {
	switch b.Type {
	case TypeMemory:
		return storage.NewMemoryStore(), nil, nil
	case TypeLocalFS:
		s, err := localfs.New(b.Dir)
		return s, nil, err
	case TypeGRPC:
		c, err := grpcblob.Dial(b.Target, grpcblob.DialOptions{Timeout: b.Timeout, MaxMsgBytes: b.MaxMsgBytes})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case TypeWalrus:
		s, err := walrus.New(b.Walrus)
		return s, nil, err
	case TypeIPFS:
		return ipfs.New(b.IPFS), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", b.Type)
	}
}
