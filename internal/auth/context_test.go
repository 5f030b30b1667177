package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionContext(t *testing.T) {
	_, ok := SessionFromContext(context.Background())
	require.False(t, ok)

	want := Session{ActorID: "owner", IssuedAt: time.Unix(100, 0), SessionID: "abc"}
	ctx := ContextWithSession(context.Background(), want)
	got, ok := SessionFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, want, got)
}
