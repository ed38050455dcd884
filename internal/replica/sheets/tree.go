// Package sheets stores the replica tree in a Google Sheets spreadsheet.
//
// Each top-level subtree is a tab whose rows are (key, JSON value). The
// budget singleton lives in the row keyed "_" of the budget tab. Sheets
// has no push channel, so subscriptions poll, and Refresh lets a change
// notice from another device trigger an immediate re-read.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"weeklytotals/internal/cache"
	"weeklytotals/internal/replica"
)

const (
	singletonKey        = "_"
	defaultPollInterval = 15 * time.Second
	defaultRowCacheSize = 4096
	defaultRowCacheTTL  = 10 * time.Minute
)

// Tabs are the subtrees a spreadsheet replica can hold.
var Tabs = []string{replica.TransactionsPath, replica.CategoriesPath, replica.BudgetPath}

// ChangePublisher announces local writes to other devices.
type ChangePublisher interface {
	PublishChange(ctx context.Context, path string) error
}

type Options struct {
	PollInterval time.Duration
	Publisher    ChangePublisher
	RowCacheSize int
	RowCacheTTL  time.Duration
	Logger       *slog.Logger
}

type Tree struct {
	api       valuesAPI
	poll      time.Duration
	publisher ChangePublisher
	rows      *cache.LRU[int] // "tab/key" -> 1-based row
	logger    *slog.Logger

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
}

type subscription struct {
	path string
	wake chan struct{}
}

var _ replica.Tree = (*Tree)(nil)

// New connects to the spreadsheet and makes sure every tab exists.
func New(ctx context.Context, spreadsheetID string, creds Credentials, opts Options) (*Tree, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	api := &gsheetValues{svc: svc, spreadsheetID: spreadsheetID}
	if err := api.ensureTabs(ctx, Tabs); err != nil {
		return nil, err
	}
	return newTree(api, opts), nil
}

func newTree(api valuesAPI, opts Options) *Tree {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RowCacheSize <= 0 {
		opts.RowCacheSize = defaultRowCacheSize
	}
	if opts.RowCacheTTL <= 0 {
		opts.RowCacheTTL = defaultRowCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tree{
		api:       api,
		poll:      opts.PollInterval,
		publisher: opts.Publisher,
		rows:      cache.NewLRU[int](opts.RowCacheSize, opts.RowCacheTTL),
		logger:    opts.Logger,
		subs:      map[uint64]*subscription{},
	}
}

// RowCache exposes the key-to-row cache so it can be swept periodically.
func (t *Tree) RowCache() cache.Cleaner {
	return t.rows
}

// location splits a path into its tab and row key. The budget singleton
// maps to the reserved key; subtree paths return an empty key.
func location(path string) (tab, key string, err error) {
	segs := replica.Split(path)
	switch len(segs) {
	case 0:
		return "", "", nil
	case 1:
		if segs[0] == replica.BudgetPath {
			return segs[0], singletonKey, nil
		}
		return segs[0], "", nil
	case 2:
		if segs[0] == replica.BudgetPath {
			return "", "", fmt.Errorf("path %q: budget has no children", path)
		}
		return segs[0], segs[1], nil
	default:
		return "", "", fmt.Errorf("path %q: nesting deeper than two levels is not supported", path)
	}
}

func knownTab(tab string) bool {
	for _, t := range Tabs {
		if t == tab {
			return true
		}
	}
	return false
}

type tabRow struct {
	row   int
	key   string
	value any
}

// readTab returns the live rows of tab in sheet order.
func (t *Tree) readTab(ctx context.Context, tab string) ([]tabRow, error) {
	values, err := t.api.get(ctx, tab+"!A:B")
	if err != nil {
		return nil, err
	}
	out := make([]tabRow, 0, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		key := strings.TrimSpace(fmt.Sprint(row[0]))
		if key == "" {
			continue
		}
		var value any
		if len(row) > 1 {
			raw := fmt.Sprint(row[1])
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				t.logger.WarnContext(ctx, "Skipping unreadable replica row",
					"tab", tab, "row", i+1, "key", key, "error", err)
				continue
			}
		}
		out = append(out, tabRow{row: i + 1, key: key, value: value})
		t.rows.Set(tab+"/"+key, i+1)
	}
	return out, nil
}

func (t *Tree) Get(ctx context.Context, path string) (replica.Snapshot, error) {
	value, err := t.read(ctx, path)
	if err != nil {
		return replica.Snapshot{}, err
	}
	return replica.Snapshot{Path: path, Value: value}, nil
}

func (t *Tree) read(ctx context.Context, path string) (any, error) {
	tab, key, err := location(path)
	if err != nil {
		return nil, err
	}
	if tab == "" {
		root := map[string]any{}
		for _, tab := range Tabs {
			v, err := t.read(ctx, tab)
			if err != nil {
				return nil, err
			}
			if v != nil {
				root[tab] = v
			}
		}
		if len(root) == 0 {
			return nil, nil
		}
		return root, nil
	}
	if !knownTab(tab) {
		return nil, nil
	}

	rows, err := t.readTab(ctx, tab)
	if err != nil {
		return nil, err
	}
	if key != "" {
		var found any
		for _, r := range rows {
			if r.key == key {
				found = r.value // later duplicates win
			}
		}
		return found, nil
	}
	children := map[string]any{}
	for _, r := range rows {
		if r.value != nil {
			children[r.key] = r.value
		}
	}
	if len(children) == 0 {
		return nil, nil
	}
	return children, nil
}

func (t *Tree) Set(ctx context.Context, path string, value any) error {
	if value == nil {
		return t.Remove(ctx, path)
	}
	tab, key, err := location(path)
	if err != nil {
		return err
	}
	if tab == "" {
		return errors.New("set root: not supported, write subtrees individually")
	}
	if !knownTab(tab) {
		return fmt.Errorf("set %s: unknown subtree %q", path, tab)
	}

	t.writeMu.Lock()
	if key == "" {
		err = t.replaceTab(ctx, tab, value)
	} else {
		err = t.writeRow(ctx, tab, key, value)
	}
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	t.changed(ctx, path)
	return nil
}

func (t *Tree) Remove(ctx context.Context, path string) error {
	tab, key, err := location(path)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	switch {
	case tab == "":
		for _, tab := range Tabs {
			if err = t.clearTab(ctx, tab); err != nil {
				break
			}
		}
	case key == "":
		err = t.clearTab(ctx, tab)
	default:
		err = t.clearRow(ctx, tab, key)
	}
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	t.changed(ctx, path)
	return nil
}

func encode(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(raw), nil
}

// findRow locates key in tab, trusting the cache only after the cached row
// is confirmed to still hold key. Older duplicate rows are cleared.
func (t *Tree) findRow(ctx context.Context, tab, key string) (int, error) {
	cacheKey := tab + "/" + key
	if row, ok := t.rows.Get(cacheKey); ok {
		cell, err := t.api.get(ctx, fmt.Sprintf("%s!A%d", tab, row))
		if err != nil {
			return 0, err
		}
		if len(cell) > 0 && len(cell[0]) > 0 && strings.TrimSpace(fmt.Sprint(cell[0][0])) == key {
			return row, nil
		}
		t.rows.Delete(cacheKey)
	}

	values, err := t.api.get(ctx, tab+"!A:A")
	if err != nil {
		return 0, err
	}
	var matches []int
	for i, row := range values {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == key {
			matches = append(matches, i+1)
		}
	}
	if len(matches) == 0 {
		return 0, nil
	}
	for _, dup := range matches[:len(matches)-1] {
		if err := t.api.clear(ctx, fmt.Sprintf("%s!A%d:B%d", tab, dup, dup)); err != nil {
			return 0, err
		}
	}
	row := matches[len(matches)-1]
	t.rows.Set(cacheKey, row)
	return row, nil
}

func (t *Tree) writeRow(ctx context.Context, tab, key string, value any) error {
	encoded, err := encode(value)
	if err != nil {
		return err
	}
	row, err := t.findRow(ctx, tab, key)
	if err != nil {
		return err
	}
	cells := [][]any{{key, encoded}}
	if row > 0 {
		return t.api.update(ctx, fmt.Sprintf("%s!A%d:B%d", tab, row, row), cells)
	}
	// The appended row number is unknown until the next scan.
	return t.api.append(ctx, tab+"!A:B", cells)
}

// clearRow blanks every row holding key.
func (t *Tree) clearRow(ctx context.Context, tab, key string) error {
	for {
		row, err := t.findRow(ctx, tab, key)
		if err != nil || row == 0 {
			return err
		}
		if err := t.api.clear(ctx, fmt.Sprintf("%s!A%d:B%d", tab, row, row)); err != nil {
			return err
		}
		t.rows.Delete(tab + "/" + key)
	}
}

func (t *Tree) clearTab(ctx context.Context, tab string) error {
	if err := t.api.clear(ctx, tab+"!A:B"); err != nil {
		return err
	}
	t.rows.DeletePrefix(tab + "/")
	return nil
}

func (t *Tree) replaceTab(ctx context.Context, tab string, value any) error {
	var rows [][]any
	if tab == replica.BudgetPath {
		encoded, err := encode(value)
		if err != nil {
			return err
		}
		rows = [][]any{{singletonKey, encoded}}
	} else {
		children, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("subtree %s must be an object, got %T", tab, value)
		}
		for key, child := range children {
			encoded, err := encode(child)
			if err != nil {
				return err
			}
			rows = append(rows, []any{key, encoded})
		}
	}
	if err := t.clearTab(ctx, tab); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return t.api.update(ctx, fmt.Sprintf("%s!A1:B%d", tab, len(rows)), rows)
}

// changed wakes local subscribers and tells other devices.
func (t *Tree) changed(ctx context.Context, path string) {
	t.Refresh(path)
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishChange(ctx, path); err != nil {
		t.logger.WarnContext(ctx, "Failed to publish change notice", "path", path, "error", err)
	}
}

// Refresh makes every subscription overlapping path re-read now.
func (t *Tree) Refresh(path string) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, sub := range t.subs {
		if !replica.Overlaps(sub.path, path) {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

func (t *Tree) Subscribe(ctx context.Context, path string, h replica.Handler) error {
	if _, _, err := location(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sub := &subscription{path: path, wake: make(chan struct{}, 1)}
	sub.wake <- struct{}{}

	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = sub
	t.subMu.Unlock()

	go t.watch(ctx, id, sub, h)
	return nil
}

func (t *Tree) watch(ctx context.Context, id uint64, sub *subscription, h replica.Handler) {
	defer func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}()

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	var (
		last      any
		delivered bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sub.wake:
		}

		value, err := t.read(ctx, sub.path)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.ErrorContext(ctx, "Replica poll failed", "path", sub.path, "error", err)
			}
			continue
		}
		if delivered && reflect.DeepEqual(last, value) {
			continue
		}
		delivered = true
		last = value
		h(ctx, replica.Snapshot{Path: sub.path, Value: value})
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Tree) Subscribers() int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return len(t.subs)
}
