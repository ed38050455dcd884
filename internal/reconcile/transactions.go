// Package reconcile computes, without side effects, the local writes that
// bring a ledger in line with a replica snapshot.
//
// A pass is a full-snapshot comparison, so applying its plan and running it
// again against the same snapshot yields an empty plan. Replays and
// out-of-order snapshots are therefore harmless.
package reconcile

import (
	"sort"

	"weeklytotals/internal/core"
)

// TransactionUpdate overwrites the local record with ID Transaction.ID.
// Realign marks an adjustment that took over a remote adjustment's
// identity instead of being duplicated.
type TransactionUpdate struct {
	Transaction core.Transaction
	Realign     bool
}

type TransactionPlan struct {
	// Deletes must be applied first, then Updates in order, then Inserts.
	Deletes []core.Transaction
	Updates []TransactionUpdate
	Inserts []core.Transaction
	// Superseded are remote adjustments that lost to a newer adjustment for
	// the same week. They are ignored locally.
	Superseded []core.Transaction
}

func (p TransactionPlan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Updates) == 0 && len(p.Inserts) == 0
}

// Writes counts the local mutations the plan performs.
func (p TransactionPlan) Writes() int {
	return len(p.Deletes) + len(p.Updates) + len(p.Inserts)
}

// Transactions plans the reconciliation of local against remote, where
// remote is keyed by createdAt as produced by DecodeTransactions.
//
// When several remote adjustments exist for one week, the one with the
// greatest createdAt is authoritative, so every device converges on the
// same record whatever order snapshots arrive in.
func Transactions(local []core.Transaction, remote map[int64]core.Transaction) TransactionPlan {
	var plan TransactionPlan

	effective, superseded := canonicalAdjustments(remote)
	plan.Superseded = superseded

	local = append([]core.Transaction(nil), local...)
	sort.Slice(local, func(i, j int) bool { return local[i].ID < local[j].ID })

	byCreatedAt := make(map[int64]core.Transaction, len(local))
	adjByWeek := make(map[string]core.Transaction)
	for _, l := range local {
		if _, dup := byCreatedAt[l.CreatedAt]; !dup {
			byCreatedAt[l.CreatedAt] = l
		}
		if l.IsAdjustment {
			if _, dup := adjByWeek[l.WeekKey]; !dup {
				adjByWeek[l.WeekKey] = l
			}
		}
	}

	claimed := make(map[int64]bool, len(local))
	keys := sortedCreatedAt(effective)

	// Records present on both sides: remote wins on content.
	for _, k := range keys {
		r := effective[k]
		l, ok := byCreatedAt[k]
		if !ok {
			continue
		}
		claimed[l.ID] = true
		if !l.SameContent(r) {
			r.ID = l.ID
			plan.Updates = append(plan.Updates, TransactionUpdate{Transaction: r})
		}
	}

	// Remote-only records: adjustments take over the week's local
	// adjustment, everything else is inserted.
	for _, k := range keys {
		r := effective[k]
		if _, ok := byCreatedAt[k]; ok {
			continue
		}
		if r.IsAdjustment {
			if l, ok := adjByWeek[r.WeekKey]; ok && !claimed[l.ID] {
				claimed[l.ID] = true
				r.ID = l.ID
				plan.Updates = append(plan.Updates, TransactionUpdate{Transaction: r, Realign: true})
				continue
			}
		}
		plan.Inserts = append(plan.Inserts, r)
	}

	// An empty remote never authorizes deleting the local ledger.
	if len(effective) > 0 {
		for _, l := range local {
			if !claimed[l.ID] {
				plan.Deletes = append(plan.Deletes, l)
			}
		}
	}

	survivors := make(map[int64]core.Transaction, len(claimed))
	for _, l := range local {
		if claimed[l.ID] {
			survivors[l.ID] = l
		}
	}
	plan.Updates = orderUpdates(survivors, plan.Updates)
	return plan
}

// orderUpdates sequences updates so that no step leaves two adjustments in
// one week. Updates that make a record a plain entry run first; an
// adjustment moves into a week only once that week's holder has left.
// Cycles (two adjustments trading weeks) are broken by first demoting one
// record to a plain entry.
func orderUpdates(state map[int64]core.Transaction, updates []TransactionUpdate) []TransactionUpdate {
	out := make([]TransactionUpdate, 0, len(updates))
	var pending []TransactionUpdate
	for _, u := range updates {
		if u.Transaction.IsAdjustment {
			pending = append(pending, u)
			continue
		}
		out = append(out, u)
		state[u.Transaction.ID] = u.Transaction
	}

	holders := make(map[string]int64)
	for id, t := range state {
		if t.IsAdjustment {
			holders[t.WeekKey] = id
		}
	}
	set := func(t core.Transaction) {
		if old := state[t.ID]; old.IsAdjustment && holders[old.WeekKey] == t.ID {
			delete(holders, old.WeekKey)
		}
		state[t.ID] = t
		if t.IsAdjustment {
			holders[t.WeekKey] = t.ID
		}
	}

	for len(pending) > 0 {
		progressed := false
		for i := 0; i < len(pending); {
			u := pending[i]
			if h, ok := holders[u.Transaction.WeekKey]; ok && h != u.Transaction.ID {
				i++
				continue
			}
			out = append(out, u)
			set(u.Transaction)
			pending = append(pending[:i], pending[i+1:]...)
			progressed = true
		}
		if !progressed {
			demoted := state[pending[0].Transaction.ID]
			demoted.IsAdjustment = false
			out = append(out, TransactionUpdate{Transaction: demoted})
			set(demoted)
		}
	}
	return out
}

// canonicalAdjustments keeps one adjustment per week, the newest.
func canonicalAdjustments(remote map[int64]core.Transaction) (map[int64]core.Transaction, []core.Transaction) {
	newest := make(map[string]int64)
	for k, r := range remote {
		if !r.IsAdjustment {
			continue
		}
		if cur, ok := newest[r.WeekKey]; !ok || k > cur {
			newest[r.WeekKey] = k
		}
	}

	effective := make(map[int64]core.Transaction, len(remote))
	var superseded []core.Transaction
	for k, r := range remote {
		if r.IsAdjustment && newest[r.WeekKey] != k {
			superseded = append(superseded, r)
			continue
		}
		effective[k] = r
	}
	sort.Slice(superseded, func(i, j int) bool { return superseded[i].CreatedAt < superseded[j].CreatedAt })
	return effective, superseded
}

func sortedCreatedAt(m map[int64]core.Transaction) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// AdjustmentWeeks returns the weeks that have a remote adjustment.
func AdjustmentWeeks(remote map[int64]core.Transaction) map[string]bool {
	weeks := make(map[string]bool)
	for _, r := range remote {
		if r.IsAdjustment {
			weeks[r.WeekKey] = true
		}
	}
	return weeks
}
