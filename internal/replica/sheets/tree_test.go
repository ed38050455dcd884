package sheets

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

type noticeRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *noticeRecorder) PublishChange(_ context.Context, path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

func newTestTree(opts Options) (*Tree, *fakeValues) {
	api := newFakeValues()
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	return newTree(api, opts), api
}

func txValue(amount float64) map[string]any {
	return map[string]any{"weekKey": "2025-02-08", "category": "GAS", "amount": amount, "isAdjustment": false}
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(Options{})

	require.NoError(t, tree.Set(ctx, "transactions/1000", txValue(12.5)))
	require.NoError(t, tree.Set(ctx, "transactions/2000", txValue(3)))
	require.NoError(t, tree.Set(ctx, "budget", map[string]any{"amount": 100.0, "isSet": true}))

	snap, err := tree.Get(ctx, "transactions")
	require.NoError(t, err)
	children := snap.Children()
	require.Len(t, children, 2)
	assert.Equal(t, 12.5, children["1000"].(map[string]any)["amount"])

	budget, err := tree.Get(ctx, "budget")
	require.NoError(t, err)
	assert.Equal(t, true, budget.Value.(map[string]any)["isSet"])

	root, err := tree.Get(ctx, "")
	require.NoError(t, err)
	assert.Len(t, root.Children(), 2)
}

func TestSetOverwritesExistingRow(t *testing.T) {
	ctx := context.Background()
	tree, api := newTestTree(Options{})

	require.NoError(t, tree.Set(ctx, "categories/GAS", map[string]any{"name": "GAS", "color": "#111111"}))
	require.NoError(t, tree.Set(ctx, "categories/GAS", map[string]any{"name": "GAS", "color": "#222222"}))

	assert.Equal(t, 1, api.count("append"))
	assert.Equal(t, 1, api.count("update"))
	snap, err := tree.Get(ctx, "categories/GAS")
	require.NoError(t, err)
	assert.Equal(t, "#222222", snap.Value.(map[string]any)["color"])
}

func TestStaleRowCacheIsRevalidated(t *testing.T) {
	ctx := context.Background()
	tree, api := newTestTree(Options{})

	require.NoError(t, tree.Set(ctx, "categories/A", map[string]any{"name": "A"}))
	require.NoError(t, tree.Set(ctx, "categories/B", map[string]any{"name": "B"}))
	_, err := tree.Get(ctx, "categories") // caches A->1, B->2

	require.NoError(t, err)
	// another device rewrote the tab with rows swapped
	api.mu.Lock()
	api.tabs["categories"] = [][]any{{"B", `{"name":"B"}`}, {"A", `{"name":"A"}`}}
	api.mu.Unlock()

	require.NoError(t, tree.Set(ctx, "categories/A", map[string]any{"name": "A", "color": "#FFFFFF"}))
	snap, err := tree.Get(ctx, "categories")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "B"}, snap.Children()["B"])
	assert.Equal(t, "#FFFFFF", snap.Children()["A"].(map[string]any)["color"])
}

func TestDuplicateRowsCollapse(t *testing.T) {
	ctx := context.Background()
	tree, api := newTestTree(Options{})
	api.tabs["transactions"] = [][]any{
		{"1000", `{"amount":1}`},
		{"1000", `{"amount":2}`},
	}

	snap, err := tree.Get(ctx, "transactions/1000")
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap.Value.(map[string]any)["amount"])

	require.NoError(t, tree.Remove(ctx, "transactions/1000"))
	snap, err = tree.Get(ctx, "transactions")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestRemoveRootClearsEveryTab(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(Options{})
	require.NoError(t, tree.Set(ctx, "transactions/1", txValue(1)))
	require.NoError(t, tree.Set(ctx, "budget", map[string]any{"isSet": true}))

	require.NoError(t, tree.Remove(ctx, ""))
	root, err := tree.Get(ctx, "")
	require.NoError(t, err)
	assert.False(t, root.Exists())
}

func TestReplaceSubtree(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(Options{})
	require.NoError(t, tree.Set(ctx, "transactions/1", txValue(1)))

	require.NoError(t, tree.Set(ctx, "transactions", map[string]any{"2": txValue(2), "3": txValue(3)}))
	snap, err := tree.Get(ctx, "transactions")
	require.NoError(t, err)
	assert.Len(t, snap.Children(), 2)
	assert.NotContains(t, snap.Children(), "1")
}

func TestUnreadableRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	tree, api := newTestTree(Options{})
	api.tabs["transactions"] = [][]any{{"1", "not json"}, {"2", `{"amount":2}`}}

	snap, err := tree.Get(ctx, "transactions")
	require.NoError(t, err)
	assert.Len(t, snap.Children(), 1)
}

func TestInvalidPaths(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(Options{})
	assert.Error(t, tree.Set(ctx, "transactions/1/amount", 1))
	assert.Error(t, tree.Set(ctx, "budget/amount", 1))
	assert.Error(t, tree.Set(ctx, "unknown/1", 1))
}

func TestWritesPublishNoticesAndWakeSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notices := &noticeRecorder{}
	tree, _ := newTestTree(Options{Publisher: notices})

	var (
		mu    sync.Mutex
		snaps []replica.Snapshot
	)
	require.NoError(t, tree.Subscribe(ctx, "transactions", func(_ context.Context, s replica.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tree.Set(ctx, "transactions/1", txValue(1)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) == 2 && len(snaps[1].Children()) == 1
	}, time.Second, 5*time.Millisecond)

	notices.mu.Lock()
	assert.Equal(t, []string{"transactions/1"}, notices.paths)
	notices.mu.Unlock()
}

func TestRefreshPicksUpRemoteWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree, api := newTestTree(Options{})

	got := make(chan replica.Snapshot, 4)
	require.NoError(t, tree.Subscribe(ctx, "budget", func(_ context.Context, s replica.Snapshot) { got <- s }))
	first := <-got
	assert.False(t, first.Exists())

	api.mu.Lock()
	api.tabs["budget"] = [][]any{{"_", `{"amount":80,"isSet":true}`}}
	api.mu.Unlock()
	tree.Refresh("budget")

	select {
	case s := <-got:
		assert.Equal(t, 80.0, s.Value.(map[string]any)["amount"])
	case <-time.After(time.Second):
		t.Fatal("refresh did not deliver a snapshot")
	}
}

func TestPollErrorsDoNotStopSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree, api := newTestTree(Options{PollInterval: 5 * time.Millisecond})
	api.fail = errors.New("quota exceeded")

	got := make(chan replica.Snapshot, 4)
	require.NoError(t, tree.Subscribe(ctx, "categories", func(_ context.Context, s replica.Snapshot) { got <- s }))
	time.Sleep(20 * time.Millisecond)

	api.mu.Lock()
	api.fail = nil
	api.tabs["categories"] = [][]any{{"GAS", `{"name":"GAS"}`}}
	api.mu.Unlock()

	select {
	case s := <-got:
		assert.Len(t, s.Children(), 1)
	case <-time.After(time.Second):
		t.Fatal("subscription did not recover after poll errors")
	}
}
