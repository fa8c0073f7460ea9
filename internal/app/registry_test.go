package app

import (
	"errors"
	"testing"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BindAndUnbind(t *testing.T) {
	h := newTestHost(t, "h1", "Alice")
	s1, err := h.build("s1", "h2", false)
	require.NoError(t, err)
	other, err := h.build("s1", "h3", false)
	require.NoError(t, err)

	r := NewRegistry()
	assert.True(t, r.Bind(s1))
	assert.False(t, r.Bind(other))

	got, ok := r.FindByRemote("h2")
	require.True(t, ok)
	assert.Same(t, s1, got)
	_, ok = r.FindByRemote("")
	assert.False(t, ok)
	_, ok = r.ConnectedTo("h2")
	assert.False(t, ok, "never opened")

	assert.False(t, r.Unbind(other))
	assert.True(t, r.Unbind(s1))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ClaimRemote(t *testing.T) {
	h := newTestHost(t, "h1", "Alice")
	r := NewRegistry()

	builds := 0
	build := func() (*Session, error) {
		builds++
		return h.build(core.SessionID("relay"), "h3", true)
	}

	first, created, err := r.ClaimRemote("h3", build)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := r.ClaimRemote("h3", build)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, again)
	assert.Equal(t, 1, builds)

	boom := errors.New("boom")
	_, _, err = r.ClaimRemote("h4", func() (*Session, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.Len())
}
