package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Records are copied on the way in
// and on the way out.
type MemoryStore struct {
	mu       sync.RWMutex
	byURI    map[string]*Identity
	byKey    map[string]string
	byHandle map[string]string
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil now defaults to
// time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		byURI:    make(map[string]*Identity),
		byKey:    make(map[string]string),
		byHandle: make(map[string]string),
		now:      now,
	}
}

func (s *MemoryStore) FindByKeyID(_ context.Context, keyID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uri, ok := s.byKey[keyID]; ok {
		return s.byURI[uri].Clone(), nil
	}

	if ident, ok := s.byURI[StripFragment(keyID)]; ok {
		return ident.Clone(), nil
	}

	return nil, nil
}

func (s *MemoryStore) FindByURI(_ context.Context, uri string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byURI[uri].Clone(), nil
}

func (s *MemoryStore) FindByHandle(_ context.Context, username, domain string) (*Identity, error) {
	if username == "" || domain == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if uri, ok := s.byHandle[HandleKey(username, domain)]; ok {
		return s.byURI[uri].Clone(), nil
	}

	return nil, nil
}

func (s *MemoryStore) Save(_ context.Context, ident *Identity) (*Identity, error) {
	if ident == nil || ident.URI == "" {
		return nil, errors.New("identity: uri is required")
	}

	rec := ident.Clone()
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byURI[rec.URI]; ok {
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
		unindex(s.byKey, prev.KeyID, rec.URI)
		unindex(s.byHandle, handleOf(prev), rec.URI)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	s.byURI[rec.URI] = rec
	if rec.KeyID != "" {
		s.byKey[rec.KeyID] = rec.URI
	}

	if h := handleOf(rec); h != "" {
		s.byHandle[h] = rec.URI
	}

	return rec.Clone(), nil
}

// unindex drops key from index only while it still points at uri.
func unindex(index map[string]string, key, uri string) {
	if key != "" && index[key] == uri {
		delete(index, key)
	}
}

func handleOf(ident *Identity) string {
	if ident.Username == "" || ident.Domain == "" {
		return ""
	}

	return HandleKey(ident.Username, ident.Domain)
}

// Len returns the number of stored identities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byURI)
}

var _ Store = (*MemoryStore)(nil)
