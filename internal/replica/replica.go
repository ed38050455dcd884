// Package replica defines the remote keyed tree that devices share.
//
// Layout:
//
//	transactions/{createdAt} -> {weekKey, category, amount, isAdjustment, createdAt}
//	categories/{name}        -> {name, displayName, color, isSystem}
//	budget                   -> {amount, isSet}
//
// Values are JSON-shaped: map[string]any, []any, float64, string, bool.
// Subscribers receive the full current snapshot of their subtree on every
// change, never a diff, and may see the same snapshot more than once.
package replica

import (
	"context"
	"strings"
)

const (
	TransactionsPath = "transactions"
	CategoriesPath   = "categories"
	BudgetPath       = "budget"
)

// Snapshot is the full content of a subtree at a point in time.
type Snapshot struct {
	Path  string
	Value any
}

func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Children returns the direct children of a map-valued snapshot, or nil.
func (s Snapshot) Children() map[string]any {
	m, _ := s.Value.(map[string]any)
	return m
}

// Handler is invoked with each delivered snapshot.
type Handler func(ctx context.Context, snap Snapshot)

// Tree is the remote replica.
type Tree interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set writes the full value at path. A nil value removes the key.
	Set(ctx context.Context, path string, value any) error
	// Remove deletes path; the empty path clears the whole tree.
	Remove(ctx context.Context, path string) error
	// Subscribe registers h for path and returns once registration is done.
	// The current snapshot is delivered first. Delivery stops when ctx ends.
	Subscribe(ctx context.Context, path string, h Handler) error
}

// Join builds a path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split breaks a path into its segments. The root path has none.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Overlaps reports whether a change at one path can affect a subscriber
// of the other, i.e. one is an ancestor of (or equal to) the other.
func Overlaps(a, b string) bool {
	sa, sb := Split(a), Split(b)
	n := len(sa)
	if len(sb) < n {
		n = len(sb)
	}
	for i := 0; i < n; i++ {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
