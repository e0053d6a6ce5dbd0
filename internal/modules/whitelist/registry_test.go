package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRemoveIdempotence(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.AddUser("g1", "u1"))
	assert.ErrorIs(t, reg.AddUser("g1", "u1"), ErrAlreadyPresent)
	assert.Equal(t, []string{"u1"}, reg.List("g1").Users)

	assert.ErrorIs(t, reg.RemoveUser("g1", "u2"), ErrNotPresent)
	assert.Equal(t, 1, reg.Status("g1").Users)

	require.NoError(t, reg.RemoveUser("g1", "u1"))
	assert.Empty(t, reg.List("g1").Users)

	require.NoError(t, reg.AddRole("g1", "r1"))
	assert.ErrorIs(t, reg.AddRole("g1", "r1"), ErrAlreadyPresent)
	assert.ErrorIs(t, reg.RemoveRole("g1", "r2"), ErrNotPresent)
}

func TestClear(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Clear("g1")
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, reg.AddUser("g1", "u1"))
	require.NoError(t, reg.AddRole("g1", "r1"))
	removed, err := reg.Clear("g1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	status := reg.Status("g1")
	assert.Zero(t, status.Users)
	assert.Zero(t, status.Roles)
}

func TestIsWhitelisted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddUser("g1", "u1"))
	require.NoError(t, reg.AddRole("g1", "mods"))

	assert.False(t, reg.IsWhitelisted("g1", "u1", nil), "disabled list exempts nobody")

	reg.Enable("g1")
	assert.True(t, reg.IsWhitelisted("g1", "u1", nil))
	assert.True(t, reg.IsWhitelisted("g1", "u2", []string{"everyone", "mods"}))
	assert.False(t, reg.IsWhitelisted("g1", "u2", []string{"everyone"}))
	assert.False(t, reg.IsWhitelisted("g2", "u1", nil), "guilds are isolated")

	reg.Disable("g1")
	assert.False(t, reg.IsWhitelisted("g1", "u1", nil))
}
