// Package archive exports and imports deterministic TAR archives of
// CID-keyed blobs, used to hand an auditor every evidence bundle behind a set
// of reports without network access.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/getwalmarket/walmarket/cidutil"
	"github.com/getwalmarket/walmarket/storage"
)

var epoch0 = time.Unix(0, 0).UTC()

// FormatVersion is the current archive index schema version.
const FormatVersion = 1

// ExportOptions controls archive export behavior.
type ExportOptions struct {
	// Labels is optional, non-authoritative metadata mapping names (for
	// example market ids) to blob ids.
	Labels map[string]string
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

// Export writes a deterministic TAR archive containing the blobs for ids.
//
// Entry order is lexicographic and TAR headers are normalized, so the same id
// set always yields the same bytes. Every exported blob is checked against
// its CID.
func Export(ctx context.Context, w io.Writer, store storage.BlobStore, ids []string, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("archive: nil store")
	}

	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, err := cidutil.ParseCID(id); err != nil {
			return storage.ErrInvalidID
		}
		uniq[id] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	tw := tar.NewWriter(w)

	blocks := make([]indexBlock, 0, len(sorted))
	for _, id := range sorted {
		b, err := store.Get(ctx, id)
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("archive: get %s: %w", id, err)
		}
		if !cidutil.Matches(id, b) {
			_ = tw.Close()
			return storage.ErrIDMismatch
		}
		if err := writeFile(tw, "blocks/"+id, b); err != nil {
			_ = tw.Close()
			return err
		}
		blocks = append(blocks, indexBlock{CID: id, Size: len(b)})
	}

	if opts.IncludeIndex {
		idx := indexJSON{
			Version:   FormatVersion,
			CIDCodec:  "raw",
			Multihash: "sha2-256",
			Blocks:    blocks,
		}

		if len(opts.Labels) > 0 {
			keys := make([]string, 0, len(opts.Labels))
			for k := range opts.Labels {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			labels := make([]indexLabel, 0, len(keys))
			for _, k := range keys {
				if k == "" {
					_ = tw.Close()
					return fmt.Errorf("archive: empty label key")
				}
				v := opts.Labels[k]
				if _, err := cidutil.ParseCID(v); err != nil {
					_ = tw.Close()
					return storage.ErrInvalidID
				}
				labels = append(labels, indexLabel{Name: k, CID: v})
			}
			idx.Labels = labels
		}

		b, err := json.Marshal(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", append(b, '\n')); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls archive import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	// The default fails closed.
	IgnoreUnknown bool
}

// Import reads an archive from r and stores every blob in store, returning
// the imported ids in archive order.
//
// Each blob must match both its entry name and the id the store assigns.
func Import(ctx context.Context, r io.Reader, store storage.BlobStore, opts ImportOptions) ([]string, error) {
	if store == nil {
		return nil, fmt.Errorf("archive: nil store")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var imported []string

	for {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		h, err := tr.Next()
		if err == io.EOF {
			return imported, nil
		}
		if err != nil {
			return imported, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return imported, fmt.Errorf("archive: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return imported, fmt.Errorf("archive: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		// Non-authoritative metadata.
		if name == "index.json" {
			_, _ = io.Copy(io.Discard, tr)
			continue
		}

		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return imported, fmt.Errorf("archive: unknown entry: %s", name)
		}

		id := strings.TrimPrefix(name, "blocks/")
		if _, err := cidutil.ParseCID(id); err != nil {
			return imported, storage.ErrInvalidID
		}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return imported, err
		}
		if !cidutil.Matches(id, payload) {
			return imported, storage.ErrIDMismatch
		}
		if _, ok := seen[id]; ok {
			return imported, fmt.Errorf("archive: duplicate block entry: %s", id)
		}
		seen[id] = struct{}{}

		putID, err := store.Put(ctx, payload)
		if err != nil {
			return imported, err
		}
		if putID != id {
			return imported, storage.ErrIDMismatch
		}
		imported = append(imported, id)
	}
}

type indexJSON struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []indexBlock `json:"blocks"`
	Labels    []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		Uid:      0,
		Gid:      0,
		Uname:    "",
		Gname:    "",
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			return ""
		}
		if part == ".." {
			return ""
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
