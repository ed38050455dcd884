package reconcile

import (
	"fmt"
	"sort"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklytotals/internal/core"
)

const weekW = "2025-02-08"

func tx(id, createdAt int64, week, category, amount string, adj bool) core.Transaction {
	return core.Transaction{
		ID:           id,
		WeekKey:      week,
		Category:     category,
		Amount:       decimal.RequireFromString(amount),
		IsAdjustment: adj,
		CreatedAt:    createdAt,
	}
}

func remoteOf(txs ...core.Transaction) map[int64]core.Transaction {
	m := make(map[int64]core.Transaction, len(txs))
	for _, t := range txs {
		t.ID = 0
		m[t.CreatedAt] = t
	}
	return m
}

// ledger is a minimal local store that enforces one adjustment per week on
// every write, the way the SQLite store does.
type ledger struct {
	nextID int64
	rows   map[int64]core.Transaction
}

func newLedger(txs ...core.Transaction) *ledger {
	l := &ledger{rows: map[int64]core.Transaction{}}
	for _, t := range txs {
		if t.ID > l.nextID {
			l.nextID = t.ID
		}
		l.rows[t.ID] = t
	}
	return l
}

func (l *ledger) list() []core.Transaction {
	out := make([]core.Transaction, 0, len(l.rows))
	for _, t := range l.rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *ledger) checkAdjustment(t core.Transaction) error {
	if !t.IsAdjustment {
		return nil
	}
	for id, other := range l.rows {
		if id != t.ID && other.IsAdjustment && other.WeekKey == t.WeekKey {
			return fmt.Errorf("second adjustment for %s (ids %d, %d)", t.WeekKey, id, t.ID)
		}
	}
	return nil
}

func (l *ledger) apply(p TransactionPlan) error {
	for _, d := range p.Deletes {
		if _, ok := l.rows[d.ID]; !ok {
			return fmt.Errorf("delete of unknown id %d", d.ID)
		}
		delete(l.rows, d.ID)
	}
	for _, u := range p.Updates {
		if _, ok := l.rows[u.Transaction.ID]; !ok {
			return fmt.Errorf("update of unknown id %d", u.Transaction.ID)
		}
		if err := l.checkAdjustment(u.Transaction); err != nil {
			return err
		}
		l.rows[u.Transaction.ID] = u.Transaction
	}
	for _, ins := range p.Inserts {
		l.nextID++
		ins.ID = l.nextID
		if err := l.checkAdjustment(ins); err != nil {
			return err
		}
		l.rows[ins.ID] = ins
	}
	return nil
}

func TestRealignment(t *testing.T) {
	local := []core.Transaction{tx(1, 1000, weekW, core.AdjustmentCategory, "50", true)}
	remote := remoteOf(tx(0, 2000, weekW, core.AdjustmentCategory, "60", true))

	plan := Transactions(local, remote)
	require.Len(t, plan.Updates, 1)
	assert.True(t, plan.Updates[0].Realign)
	assert.Empty(t, plan.Inserts)
	assert.Empty(t, plan.Deletes)

	l := newLedger(local...)
	require.NoError(t, l.apply(plan))
	got := l.list()
	require.Len(t, got, 1)
	assert.Equal(t, int64(2000), got[0].CreatedAt)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(60)))
	assert.True(t, got[0].IsAdjustment)
}

func TestEmptyRemoteDeletesNothing(t *testing.T) {
	local := []core.Transaction{
		tx(1, 1000, weekW, "GAS", "10", false),
		tx(2, 1001, weekW, core.AdjustmentCategory, "5", true),
	}
	plan := Transactions(local, map[int64]core.Transaction{})
	assert.True(t, plan.Empty())
}

func TestDeletionPropagation(t *testing.T) {
	local := []core.Transaction{
		tx(1, 1000, weekW, "GAS", "10", false),
		tx(2, 1001, weekW, "GROCERY", "20", false),
	}
	remote := remoteOf(local[1])

	plan := Transactions(local, remote)
	require.Len(t, plan.Deletes, 1)
	assert.Equal(t, int64(1), plan.Deletes[0].ID)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Inserts)
}

func TestRealignedAdjustmentIsNotDeleted(t *testing.T) {
	local := []core.Transaction{
		tx(1, 1000, weekW, core.AdjustmentCategory, "50", true),
		tx(2, 1500, weekW, "GAS", "10", false),
	}
	remote := remoteOf(
		tx(0, 1500, weekW, "GAS", "10", false),
		tx(0, 2000, weekW, core.AdjustmentCategory, "60", true),
	)

	plan := Transactions(local, remote)
	assert.Empty(t, plan.Deletes)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(1), plan.Updates[0].Transaction.ID)
}

func TestRemoteWinsOnContent(t *testing.T) {
	local := []core.Transaction{tx(7, 1000, weekW, "GAS", "10", false)}
	remote := remoteOf(tx(0, 1000, "2025-02-15", "TRAVEL", "-4.5", false))

	plan := Transactions(local, remote)
	require.Len(t, plan.Updates, 1)
	u := plan.Updates[0]
	assert.False(t, u.Realign)
	assert.Equal(t, int64(7), u.Transaction.ID)
	assert.Equal(t, "TRAVEL", u.Transaction.Category)
	assert.Equal(t, "2025-02-15", u.Transaction.WeekKey)
}

func TestEchoOfOwnPushIsNoop(t *testing.T) {
	local := []core.Transaction{
		tx(1, 1000, weekW, "GAS", "12.34", false),
		tx(2, 1001, weekW, core.AdjustmentCategory, "20", true),
	}
	children := map[string]any{}
	for _, l := range local {
		children[l.RemoteKey()] = roundTrip(t, EncodeTransaction(l))
	}
	remote, skipped := DecodeTransactions(children)
	require.Zero(t, skipped)

	assert.True(t, Transactions(local, remote).Empty())
}

func TestDuplicateRemoteAdjustmentsNewestWins(t *testing.T) {
	remote := remoteOf(
		tx(0, 1000, weekW, core.AdjustmentCategory, "10", true),
		tx(0, 3000, weekW, core.AdjustmentCategory, "30", true),
		tx(0, 2000, weekW, core.AdjustmentCategory, "20", true),
	)

	plan := Transactions(nil, remote)
	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, int64(3000), plan.Inserts[0].CreatedAt)
	require.Len(t, plan.Superseded, 2)
	assert.Equal(t, int64(1000), plan.Superseded[0].CreatedAt)

	// a device still holding an older adjustment moves onto the newest one
	local := []core.Transaction{tx(4, 1000, weekW, core.AdjustmentCategory, "10", true)}
	plan = Transactions(local, remote)
	require.Len(t, plan.Updates, 1)
	assert.True(t, plan.Updates[0].Realign)
	assert.Equal(t, int64(3000), plan.Updates[0].Transaction.CreatedAt)
	assert.Empty(t, plan.Deletes)
}

func TestRemoteTurnsRecordIntoAdjustment(t *testing.T) {
	// local has its own adjustment for W and a plain record that the
	// remote now says is W's adjustment
	local := []core.Transaction{
		tx(1, 1000, weekW, core.AdjustmentCategory, "5", true),
		tx(2, 2000, weekW, "GAS", "7", false),
	}
	remote := remoteOf(tx(0, 2000, weekW, core.AdjustmentCategory, "7", true))

	plan := Transactions(local, remote)
	l := newLedger(local...)
	require.NoError(t, l.apply(plan))
	got := l.list()
	require.Len(t, got, 1)
	assert.Equal(t, int64(2000), got[0].CreatedAt)
}

func TestAdjustmentMovesAwayBeforeAnotherArrives(t *testing.T) {
	local := []core.Transaction{tx(1, 1000, weekW, core.AdjustmentCategory, "5", true)}
	remote := remoteOf(
		tx(0, 1000, weekW, "GAS", "5", false),
		tx(0, 2000, weekW, core.AdjustmentCategory, "9", true),
	)

	plan := Transactions(local, remote)
	l := newLedger(local...)
	require.NoError(t, l.apply(plan))
	assert.Len(t, l.list(), 2)
	assert.True(t, Transactions(l.list(), remote).Empty())
}

func TestDecodeSkipsMalformedEntries(t *testing.T) {
	children := map[string]any{
		"1000": map[string]any{"weekKey": weekW, "category": "GAS", "amount": 10.0},
		"1001": map[string]any{"category": "GAS", "amount": 10.0},
		"1002": map[string]any{"weekKey": weekW, "amount": 10.0},
		"1003": map[string]any{"weekKey": weekW, "category": "GAS", "amount": "ten"},
		"1004": "not an object",
		"abc":  map[string]any{"weekKey": weekW, "category": "GAS", "amount": 1.0},
		"x":    map[string]any{"weekKey": weekW, "category": "GAS", "amount": "2.50", "createdAt": 1005.0, "isAdjustment": true},
	}
	remote, skipped := DecodeTransactions(children)
	assert.Equal(t, 5, skipped)
	require.Len(t, remote, 2)
	assert.False(t, remote[1000].IsAdjustment)
	assert.True(t, remote[1005].IsAdjustment)
	assert.True(t, remote[1005].Amount.Equal(decimal.RequireFromString("2.5")))
}

func randomTransaction(f *gofakeit.Faker, createdAt int64) core.Transaction {
	weeks := []string{"2025-02-01", "2025-02-08", "2025-02-15"}
	adj := f.Number(0, 4) == 0
	category := f.RandomString([]string{"GAS", "GROCERY", "TRAVEL"})
	if adj {
		category = core.AdjustmentCategory
	}
	return core.Transaction{
		WeekKey:      f.RandomString(weeks),
		Category:     category,
		Amount:       core.FromFloat(f.Price(-20, 200)),
		IsAdjustment: adj,
		CreatedAt:    createdAt,
	}
}

// randomLedger builds a local set that already satisfies the one
// adjustment per week rule.
func randomLedger(f *gofakeit.Faker, n int, base int64) []core.Transaction {
	var out []core.Transaction
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		t := randomTransaction(f, base+int64(f.Number(0, 40)))
		if t.IsAdjustment && seen[t.WeekKey] {
			t.IsAdjustment = false
			t.Category = "GAS"
		}
		if t.IsAdjustment {
			seen[t.WeekKey] = true
		}
		t.ID = int64(i + 1)
		out = append(out, t)
	}
	return out
}

func randomRemote(f *gofakeit.Faker, n int, base int64) map[int64]core.Transaction {
	out := map[int64]core.Transaction{}
	for i := 0; i < n; i++ {
		t := randomTransaction(f, base+int64(f.Number(0, 40)))
		out[t.CreatedAt] = t
	}
	return out
}

func TestPropertyIdempotentAndConvergent(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		f := gofakeit.New(seed)
		local := randomLedger(f, f.Number(0, 12), 1000)
		remote := randomRemote(f, f.Number(0, 12), 1000)

		l := newLedger(local...)
		first := Transactions(l.list(), remote)
		require.NoError(t, l.apply(first), "seed %d", seed)

		second := Transactions(l.list(), remote)
		require.True(t, second.Empty(), "seed %d: second pass not empty: %+v", seed, second)

		effective, _ := canonicalAdjustments(remote)
		if len(effective) == 0 {
			continue
		}
		got := map[int64]core.Transaction{}
		for _, row := range l.list() {
			_, dup := got[row.CreatedAt]
			require.False(t, dup, "seed %d: duplicate createdAt %d", seed, row.CreatedAt)
			row.ID = 0
			got[row.CreatedAt] = row
		}
		require.Len(t, got, len(effective), "seed %d", seed)
		for k, want := range effective {
			require.True(t, got[k].SameContent(want), "seed %d: createdAt %d", seed, k)
		}
	}
}

func TestPropertyTwoDevicesConverge(t *testing.T) {
	for seed := int64(1); seed <= 100; seed++ {
		f := gofakeit.New(seed)
		remote := randomRemote(f, f.Number(1, 10), 5000)
		a := newLedger(randomLedger(f, f.Number(0, 8), 5000)...)
		b := newLedger(randomLedger(f, f.Number(0, 8), 5000)...)

		require.NoError(t, a.apply(Transactions(a.list(), remote)), "seed %d", seed)
		require.NoError(t, b.apply(Transactions(b.list(), remote)), "seed %d", seed)

		require.Equal(t, contentSet(a.list()), contentSet(b.list()), "seed %d", seed)
	}
}

func contentSet(txs []core.Transaction) map[int64]string {
	out := map[int64]string{}
	for _, t := range txs {
		out[t.CreatedAt] = fmt.Sprintf("%s|%s|%s|%v", t.WeekKey, t.Category, t.Amount.String(), t.IsAdjustment)
	}
	return out
}

func TestAdjustmentsTradingWeeks(t *testing.T) {
	const weekV = "2025-02-15"
	local := []core.Transaction{
		tx(1, 1000, weekW, core.AdjustmentCategory, "5", true),
		tx(2, 2000, weekV, core.AdjustmentCategory, "6", true),
	}
	remote := remoteOf(
		tx(0, 1000, weekV, core.AdjustmentCategory, "5", true),
		tx(0, 2000, weekW, core.AdjustmentCategory, "6", true),
	)

	plan := Transactions(local, remote)
	l := newLedger(local...)
	require.NoError(t, l.apply(plan))
	assert.True(t, Transactions(l.list(), remote).Empty())
}
