package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklytotals/internal/replica"
)

type recorder struct {
	mu    sync.Mutex
	snaps []replica.Snapshot
}

func (r *recorder) handle(_ context.Context, s replica.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() replica.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func TestSetGetNormalizesNumbers(t *testing.T) {
	ctx := context.Background()
	tree := New()

	require.NoError(t, tree.Set(ctx, "transactions/1000", map[string]any{
		"weekKey": "2025-02-08", "amount": 12, "createdAt": int64(1000),
	}))
	snap, err := tree.Get(ctx, "transactions")
	require.NoError(t, err)
	entry := snap.Children()["1000"].(map[string]any)
	assert.Equal(t, float64(12), entry["amount"])
	assert.Equal(t, float64(1000), entry["createdAt"])
}

func TestRemovePrunesEmptyParents(t *testing.T) {
	ctx := context.Background()
	tree := New()

	require.NoError(t, tree.Set(ctx, "categories/GAS", map[string]any{"name": "GAS"}))
	require.NoError(t, tree.Remove(ctx, "categories/GAS"))
	snap, err := tree.Get(ctx, "categories")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, tree.Set(ctx, "budget", map[string]any{"amount": 1.0, "isSet": true}))
	require.NoError(t, tree.Remove(ctx, ""))
	snap, err = tree.Get(ctx, "budget")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree := New()
	require.NoError(t, tree.Set(ctx, "transactions/1", map[string]any{"amount": 1.0}))

	var rec recorder
	require.NoError(t, tree.Subscribe(ctx, "transactions", rec.handle))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, rec.last().Children(), 1)

	require.NoError(t, tree.Set(ctx, "transactions/2", map[string]any{"amount": 2.0}))
	require.Eventually(t, func() bool {
		return rec.len() >= 2 && len(rec.last().Children()) == 2
	}, time.Second, 5*time.Millisecond)

	// unrelated subtree and no-op writes are not delivered
	before := rec.len()
	require.NoError(t, tree.Set(ctx, "budget", map[string]any{"amount": 5.0}))
	require.NoError(t, tree.Set(ctx, "transactions/2", map[string]any{"amount": 2.0}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, rec.len())
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tree := New()

	var rec recorder
	require.NoError(t, tree.Subscribe(ctx, "budget", rec.handle))
	require.Eventually(t, func() bool { return tree.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return tree.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWriteErrorInjection(t *testing.T) {
	ctx := context.Background()
	tree := New()
	boom := errors.New("offline")
	tree.SetWriteError(boom)

	assert.ErrorIs(t, tree.Set(ctx, "budget", map[string]any{"isSet": true}), boom)
	assert.ErrorIs(t, tree.Remove(ctx, "budget"), boom)

	tree.SetWriteError(nil)
	assert.NoError(t, tree.Set(ctx, "budget", map[string]any{"isSet": true}))
}
