package report

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/local"
)

// FailedList keeps a JSON-lines file of every path whose latest outcome has
// issues. Each report replaces the entries of its subdomain.
type FailedList struct {
	path    string
	mu      sync.Mutex
	entries map[string][]mirror.FailedPath
}

// NewFailedList loads path if it exists.
func NewFailedList(path string) (*FailedList, error) {
	if path == "" {
		return nil, fmt.Errorf("failed list path is required")
	}
	f := &FailedList{path: path, entries: map[string][]mirror.FailedPath{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failed list: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var fp mirror.FailedPath
		if err := dec.Decode(&fp); err != nil {
			return nil, fmt.Errorf("decode failed list %s: %w", path, err)
		}
		f.entries[fp.Subdomain] = append(f.entries[fp.Subdomain], fp)
	}
	return f, nil
}

// Report implements Reporter. Aborted runs leave the previous entries alone.
func (f *FailedList) Report(_ context.Context, s mirror.RunSummary) error {
	if s.Err != "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(s.Failed) == 0 {
		delete(f.entries, s.Subdomain)
	} else {
		f.entries[s.Subdomain] = append([]mirror.FailedPath(nil), s.Failed...)
	}
	return f.flushLocked()
}

// Entries returns every failed path ordered by subdomain then path.
func (f *FailedList) Entries() []mirror.FailedPath {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

func (f *FailedList) sortedLocked() []mirror.FailedPath {
	var out []mirror.FailedPath
	for _, fps := range f.entries {
		out = append(out, fps...)
	}
	slices.SortFunc(out, func(a, b mirror.FailedPath) int {
		return cmp.Or(cmp.Compare(a.Subdomain, b.Subdomain), cmp.Compare(a.Path, b.Path))
	})
	return out
}

func (f *FailedList) flushLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, fp := range f.sortedLocked() {
		if err := enc.Encode(fp); err != nil {
			return fmt.Errorf("encode failed path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create failed list dir: %w", err)
	}
	if err := local.WriteFileAtomic(f.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write failed list: %w", err)
	}
	return nil
}
