package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/insteond/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	require.NoError(t, l.AppendWithSource(ctx, EventCommandSent, "timer", "gen-1", "08.2F.5C",
		map[string]any{"state": "on", "frame": "02 62 08 2F 5C 0F 12 FF"}))
	require.NoError(t, l.AppendWithSource(ctx, EventCommandFailed, "catchup", "gen-1", "08.2F.5C",
		map[string]any{"state": "off", "error": "write: broken pipe"}))
	require.NoError(t, l.Append(ctx, EventRefreshCompleted, map[string]any{"armed": 2}))

	sent, err := l.GetByType(ctx, EventCommandSent, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "timer", sent[0].Source)
	assert.Equal(t, "gen-1", sent[0].Generation)
	assert.Equal(t, "08.2F.5C", sent[0].Address)
	assert.Equal(t, "on", sent[0].Payload["state"])

	byAddr, err := l.GetByAddress(ctx, "08.2F.5C", 10)
	require.NoError(t, err)
	require.Len(t, byAddr, 2)
	assert.Equal(t, EventCommandFailed, byAddr[0].EventType, "newest first")

	refreshes, err := l.GetByType(ctx, EventRefreshCompleted, 10)
	require.NoError(t, err)
	require.Len(t, refreshes, 1)
	assert.Empty(t, refreshes[0].Address)
	assert.EqualValues(t, 2, refreshes[0].Payload["armed"])
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	base := time.Date(2024, time.October, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	require.NoError(t, l.Append(ctx, EventRefreshCompleted, nil))

	l.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }
	require.NoError(t, l.Append(ctx, EventRefreshCompleted, nil))

	deleted, err := l.DeleteOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rest, err := l.GetByTimeRange(ctx, base, base.Add(41*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Nil(t, rest[0].Payload)
}
