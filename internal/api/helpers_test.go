package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctf-platform/ctf/internal/session"
)

// withClock reloads sc with a clock fixed at now.
func withClock(t *testing.T, sc *session.Context, now time.Time) *session.Context {
	t.Helper()
	store := &memStore{}
	require.NoError(t, store.Put(context.Background(), session.TokenSlot, sc.Token()))
	reloaded, err := session.Load(context.Background(), store, session.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return reloaded
}
