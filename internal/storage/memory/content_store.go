package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// ContentStore is an in-memory mirror.ContentStore. One lock covers all
// namespaces, so a key's content, mimetype and timestamp change together.
type ContentStore struct {
	mu        sync.RWMutex
	content   map[string][]byte
	mimetype  map[string]string
	timestamp map[string]string
	closed    bool
}

// NewContentStore creates an empty store.
func NewContentStore() *ContentStore {
	return &ContentStore{
		content:   make(map[string][]byte),
		mimetype:  make(map[string]string),
		timestamp: make(map[string]string),
	}
}

// Put overwrites all namespaces for key.
func (s *ContentStore) Put(_ context.Context, key string, payload []byte, mimetype, timestamp string) error {
	if key == "" {
		return fmt.Errorf("put: empty key: %w", mirror.ErrStoreIO)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("put %q: store closed: %w", key, mirror.ErrStoreIO)
	}
	s.content[key] = append([]byte{}, payload...)
	s.mimetype[key] = mimetype
	s.timestamp[key] = timestamp
	return nil
}

// PutRedirect stores targetPath under the redirect sentinel.
func (s *ContentStore) PutRedirect(ctx context.Context, key, targetPath, timestamp string) error {
	return s.Put(ctx, key, []byte(targetPath), mirror.RedirectSentinel, timestamp)
}

// Get returns the entry for key or mirror.ErrNotFound.
func (s *ContentStore) Get(_ context.Context, key string) (mirror.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return mirror.Entry{}, fmt.Errorf("get %q: store closed", key)
	}
	payload, ok := s.content[key]
	if !ok {
		return mirror.Entry{}, mirror.ErrNotFound
	}
	return mirror.Entry{
		Payload:   append([]byte{}, payload...),
		MimeType:  s.mimetype[key],
		Timestamp: s.timestamp[key],
	}, nil
}

// Keys returns the number of content keys.
func (s *ContentStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.content)
}

// Close marks the store closed.
func (s *ContentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
