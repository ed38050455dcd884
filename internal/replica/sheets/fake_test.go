package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// fakeValues keeps each tab as rows of two cells, mimicking the subset of
// A1 ranges the tree uses.
type fakeValues struct {
	mu    sync.Mutex
	tabs  map[string][][]any
	calls map[string]int
	fail  error
}

func newFakeValues() *fakeValues {
	return &fakeValues{tabs: map[string][][]any{}, calls: map[string]int{}}
}

// parseRange understands "tab!A:B", "tab!A:A", "tab!A5", "tab!A5:B5" and
// "tab!A1:B9". Rows are 1-based; 0 means the whole column.
func parseRange(rng string) (tab string, from, to int) {
	tab, cells, _ := strings.Cut(rng, "!")
	start, end, hasEnd := strings.Cut(cells, ":")
	from, _ = strconv.Atoi(strings.TrimLeft(start, "AB"))
	if hasEnd {
		to, _ = strconv.Atoi(strings.TrimLeft(end, "AB"))
	} else {
		to = from
	}
	return tab, from, to
}

func (f *fakeValues) get(_ context.Context, rng string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	if f.fail != nil {
		return nil, f.fail
	}
	tab, from, to := parseRange(rng)
	rows := f.tabs[tab]
	if from == 0 {
		out := make([][]any, len(rows))
		for i, r := range rows {
			out[i] = append([]any(nil), r...)
		}
		return out, nil
	}
	var out [][]any
	for i := from; i <= to && i <= len(rows); i++ {
		out = append(out, append([]any(nil), rows[i-1]...))
	}
	return out, nil
}

func (f *fakeValues) update(_ context.Context, rng string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	if f.fail != nil {
		return f.fail
	}
	tab, from, _ := parseRange(rng)
	for i, r := range rows {
		idx := from - 1 + i
		for len(f.tabs[tab]) <= idx {
			f.tabs[tab] = append(f.tabs[tab], []any{})
		}
		f.tabs[tab][idx] = toStrings(r)
	}
	return nil
}

func (f *fakeValues) append(_ context.Context, rng string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["append"]++
	if f.fail != nil {
		return f.fail
	}
	tab, _, _ := parseRange(rng)
	for _, r := range rows {
		f.tabs[tab] = append(f.tabs[tab], toStrings(r))
	}
	return nil
}

func (f *fakeValues) clear(_ context.Context, rng string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["clear"]++
	if f.fail != nil {
		return f.fail
	}
	tab, from, to := parseRange(rng)
	if from == 0 {
		delete(f.tabs, tab)
		return nil
	}
	for i := from; i <= to && i <= len(f.tabs[tab]); i++ {
		f.tabs[tab][i-1] = []any{}
	}
	return nil
}

func (f *fakeValues) ensureTabs(context.Context, []string) error { return nil }

func (f *fakeValues) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// toStrings mirrors Sheets returning formatted strings for every cell.
func toStrings(r []any) []any {
	out := make([]any, len(r))
	for i, v := range r {
		out[i] = fmt.Sprint(v)
	}
	return out
}
