package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echocall/internal/app/call"
	"echocall/internal/domain"
)

func newIdleSession(t *testing.T) *call.Session {
	t.Helper()
	s, err := call.NewSession(context.Background(), call.Config{
		ID:       domain.CallID{Room: testRoom, Caller: testCaller, Call: "call-1"},
		Engine:   &stubEngine{},
		Sender:   newStubSender(),
		Clips:    stubClips{},
		Timeline: fastTimeline(),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Hangup)
	return s
}

func TestRegistryFirstSessionWins(t *testing.T) {
	reg := NewRegistry()
	id := domain.CallID{Room: testRoom, Caller: testCaller, Call: "call-1"}
	first := newIdleSession(t)
	second := newIdleSession(t)

	assert.True(t, reg.Register(id, first))
	assert.False(t, reg.Register(id, second))
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistryRemoveGuardsOwnership(t *testing.T) {
	reg := NewRegistry()
	id := domain.CallID{Room: testRoom, Caller: testCaller, Call: "call-1"}
	winner := newIdleSession(t)
	loser := newIdleSession(t)

	require.True(t, reg.Register(id, winner))

	// A discarded duplicate tearing down must not evict the live session.
	reg.Remove(id, loser)
	got, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Same(t, winner, got)

	reg.Remove(id, winner)
	_, ok = reg.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())

	// Stray repeats are no-ops.
	reg.Remove(id, winner)
	reg.Remove(id, nil)
}

func TestRegistrySnapshot(t *testing.T) {
	reg := NewRegistry()
	id := domain.CallID{Room: testRoom, Caller: testCaller, Call: "call-1"}
	require.True(t, reg.Register(id, newIdleSession(t)))

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, testRoom, snap[0].Room)
	assert.Equal(t, testCaller, snap[0].Caller)
	assert.Equal(t, "call-1", snap[0].CallID)
	assert.Equal(t, call.StateCreated, snap[0].State)
}
