// Package content is the boundary to the site's content documents. Each
// domain ("home", "pricing", ...) holds one opaque JSON snapshot; schemas
// and rendering live elsewhere.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("content: not found")
	ErrInvalidDomain = errors.New("content: invalid domain")
	ErrInvalidBody   = errors.New("content: body must be a JSON value")
)

var domainPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// ValidDomain reports whether name is an acceptable domain key.
func ValidDomain(name string) bool {
	return domainPattern.MatchString(name)
}

// Document is the current snapshot of one domain.
type Document struct {
	Domain    string          `json:"domain"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by,omitempty"`
}

// Store reads and replaces domain snapshots.
type Store interface {
	Current(ctx context.Context, domain string) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Current(ctx context.Context, domain string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if !ValidDomain(domain) {
		return Document{}, ErrInvalidDomain
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[domain]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Body = append(json.RawMessage(nil), doc.Body...)
	return doc, nil
}

func (s *MemoryStore) Save(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidDomain(doc.Domain) {
		return ErrInvalidDomain
	}
	if !json.Valid(doc.Body) {
		return ErrInvalidBody
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	doc.Body = append(json.RawMessage(nil), doc.Body...)
	s.mu.Lock()
	s.docs[doc.Domain] = doc
	s.mu.Unlock()
	return nil
}
