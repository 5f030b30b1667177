package content

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidDomain(t *testing.T) {
	for _, ok := range []string{"home", "pricing", "case-studies", "faq_v2"} {
		require.True(t, ValidDomain(ok), ok)
	}
	for _, bad := range []string{"", "Home", "9lives", "a/b", "../etc", "has space"} {
		require.False(t, ValidDomain(bad), bad)
	}
}

func TestMemoryStoreSaveAndCurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Current(ctx, "home")
	require.ErrorIs(t, err, ErrNotFound)

	body := json.RawMessage(`{"hero":{"title":"Hello"}}`)
	require.NoError(t, store.Save(ctx, Document{Domain: "home", Body: body, UpdatedBy: "owner"}))

	body[2] = 'X'
	doc, err := store.Current(ctx, "home")
	require.NoError(t, err)
	require.JSONEq(t, `{"hero":{"title":"Hello"}}`, string(doc.Body))
	require.Equal(t, "owner", doc.UpdatedBy)
	require.False(t, doc.UpdatedAt.IsZero())
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.ErrorIs(t, store.Save(ctx, Document{Domain: "Bad", Body: json.RawMessage(`{}`)}), ErrInvalidDomain)
	require.ErrorIs(t, store.Save(ctx, Document{Domain: "home", Body: json.RawMessage(`{`)}), ErrInvalidBody)
	_, err := store.Current(ctx, "../x")
	require.ErrorIs(t, err, ErrInvalidDomain)
}
