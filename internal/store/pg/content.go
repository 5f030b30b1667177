package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sitekeeper.io/internal/content"
)

// ContentStore keeps one jsonb document per content domain.
type ContentStore struct {
	db *sql.DB
}

var _ content.Store = (*ContentStore)(nil)

func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{db: db}
}

func (s *ContentStore) Current(ctx context.Context, domain string) (content.Document, error) {
	if !content.ValidDomain(domain) {
		return content.Document{}, content.ErrInvalidDomain
	}
	var (
		body      []byte
		updatedAt time.Time
		updatedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select body, updated_at, updated_by from content_documents where domain = $1`, domain,
	).Scan(&body, &updatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Document{}, content.ErrNotFound
	}
	if err != nil {
		return content.Document{}, fmt.Errorf("load content %s: %w", domain, err)
	}
	return content.Document{
		Domain:    domain,
		Body:      json.RawMessage(body),
		UpdatedAt: updatedAt,
		UpdatedBy: updatedBy.String,
	}, nil
}

func (s *ContentStore) Save(ctx context.Context, doc content.Document) error {
	if !content.ValidDomain(doc.Domain) {
		return content.ErrInvalidDomain
	}
	if !json.Valid(doc.Body) {
		return content.ErrInvalidBody
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into content_documents (domain, body, updated_at, updated_by)
		values ($1, $2::jsonb, $3, $4)
		on conflict (domain) do update
		set body = excluded.body, updated_at = excluded.updated_at, updated_by = excluded.updated_by`,
		doc.Domain, string(doc.Body), doc.UpdatedAt, nullString(doc.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("save content %s: %w", doc.Domain, err)
	}
	return nil
}
