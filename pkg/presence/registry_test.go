package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arush/chatcore/pkg/model"
)

func TestOnlineOfflineLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	on, err := m.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, m.SetOnline(ctx, model.PresenceRecord{IdentityID: "u1", Name: "Alice"}))

	on, err = m.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, m.SetOffline(ctx, "u1"))

	on, err = m.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, on)

	// lastSeen survives the disconnect.
	seen, err := m.LastSeen(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, seen.IsZero())
}

func TestListOnlineSorted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetOnline(ctx, model.PresenceRecord{IdentityID: "charlie"}))
	require.NoError(t, m.SetOnline(ctx, model.PresenceRecord{IdentityID: "alice"}))
	require.NoError(t, m.SetOnline(ctx, model.PresenceRecord{IdentityID: "bob"}))

	recs, err := m.ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "alice", recs[0].IdentityID)
	assert.Equal(t, "bob", recs[1].IdentityID)
	assert.Equal(t, "charlie", recs[2].IdentityID)
}

func TestSetStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetOnline(ctx, model.PresenceRecord{IdentityID: "u1"}))
	require.NoError(t, m.SetStatus(ctx, "u1", model.StatusAway))

	recs, err := m.ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusAway, recs[0].Status)

	// Status updates for unknown identities are ignored.
	require.NoError(t, m.SetStatus(ctx, "ghost", model.StatusBusy))
	on, _ := m.IsOnline(ctx, "ghost")
	assert.False(t, on)
}

func TestSetOnlineDefaultsStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetOnline(ctx, model.PresenceRecord{IdentityID: "u1"}))
	recs, _ := m.ListOnline(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusOnline, recs[0].Status)
}
