package reconcile

import (
	"sort"

	"weeklytotals/internal/core"
)

type CategoryPlan struct {
	Deletes []core.Category
	Updates []core.Category
	Inserts []core.Category
}

func (p CategoryPlan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Updates) == 0 && len(p.Inserts) == 0
}

func (p CategoryPlan) Writes() int {
	return len(p.Deletes) + len(p.Updates) + len(p.Inserts)
}

// Categories plans the reconciliation of local categories against remote,
// keyed by name. Like transactions, an empty remote deletes nothing.
func Categories(local []core.Category, remote map[string]core.Category) CategoryPlan {
	var plan CategoryPlan

	byName := make(map[string]core.Category, len(local))
	for _, l := range local {
		byName[l.Name] = l
	}

	names := make([]string, 0, len(remote))
	for name := range remote {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := remote[name]
		l, ok := byName[name]
		switch {
		case !ok:
			plan.Inserts = append(plan.Inserts, r)
		case !l.SameContent(r):
			plan.Updates = append(plan.Updates, r)
		}
	}

	if len(remote) > 0 {
		for _, l := range local {
			if _, ok := remote[l.Name]; !ok {
				plan.Deletes = append(plan.Deletes, l)
			}
		}
	}
	return plan
}
