// Package memory is an in-process replica tree for single-process setups
// and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"weeklytotals/internal/replica"
)

type Tree struct {
	mu       sync.Mutex
	root     map[string]any
	subs     map[uint64]*subscription
	nextID   uint64
	writeErr error
}

type subscription struct {
	path string
	wake chan struct{}
}

var _ replica.Tree = (*Tree)(nil)

func New() *Tree {
	return &Tree{
		root: map[string]any{},
		subs: map[uint64]*subscription{},
	}
}

// SetWriteError makes every subsequent Set and Remove fail with err until
// it is reset with nil.
func (t *Tree) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Subscribers returns the number of live subscriptions.
func (t *Tree) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Tree) Get(ctx context.Context, path string) (replica.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return replica.Snapshot{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return replica.Snapshot{Path: path, Value: t.lookup(path)}, nil
}

func (t *Tree) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if normalized == nil {
		return t.Remove(ctx, path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return fmt.Errorf("set %s: %w", path, t.writeErr)
	}

	segs := replica.Split(path)
	if len(segs) == 0 {
		m, ok := normalized.(map[string]any)
		if !ok {
			return fmt.Errorf("set root: value must be an object, got %T", normalized)
		}
		t.root = m
		t.notifyLocked(path)
		return nil
	}

	node := t.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = normalized
	t.notifyLocked(path)
	return nil
}

func (t *Tree) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return fmt.Errorf("remove %s: %w", path, t.writeErr)
	}

	segs := replica.Split(path)
	if len(segs) == 0 {
		t.root = map[string]any{}
		t.notifyLocked(path)
		return nil
	}
	removeAt(t.root, segs)
	t.notifyLocked(path)
	return nil
}

func (t *Tree) Subscribe(ctx context.Context, path string, h replica.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sub := &subscription{path: path, wake: make(chan struct{}, 1)}
	sub.wake <- struct{}{}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = sub
	t.mu.Unlock()

	go t.deliver(ctx, id, sub, h)
	return nil
}

func (t *Tree) deliver(ctx context.Context, id uint64, sub *subscription, h replica.Handler) {
	defer func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}()

	var (
		last      any
		delivered bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		}

		t.mu.Lock()
		current := t.lookup(sub.path)
		t.mu.Unlock()

		if delivered && reflect.DeepEqual(last, current) {
			continue
		}
		delivered = true
		last = current
		h(ctx, replica.Snapshot{Path: sub.path, Value: deepCopy(current)})
	}
}

// notifyLocked wakes every subscriber whose subtree overlaps path. Wakeups
// coalesce: a subscriber that is busy sees only the latest state.
func (t *Tree) notifyLocked(path string) {
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

// lookup returns a private copy of the value at path, nil when absent.
func (t *Tree) lookup(path string) any {
	var node any = t.root
	for _, seg := range replica.Split(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return deepCopy(node)
}

// removeAt deletes segs under node and prunes parents left empty.
func removeAt(node map[string]any, segs []string) {
	if len(segs) == 1 {
		delete(node, segs[0])
		return
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return
	}
	removeAt(child, segs[1:])
	if len(child) == 0 {
		delete(node, segs[0])
	}
}

// normalize round-trips v through JSON so stored values have the same
// shape a networked replica would hand back.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
