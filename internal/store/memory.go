package store

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store hosting the canonical tree for every session
// on this server. Snapshots handed to subscribers are fresh copies; callbacks
// for one subscription never run concurrently with each other and may safely
// call back into the store.
type Memory struct {
	mu     sync.RWMutex
	root   *node
	subs   map[int64]*subscription
	nextID int64
}

type node struct {
	children map[string]*node
	value    any
	leaf     bool
}

type subscription struct {
	segs []string
	fn   func(any)
	mu   sync.Mutex // serializes delivery per subscriber
}

func NewMemory() *Memory {
	return &Memory{
		root: &node{children: make(map[string]*node)},
		subs: make(map[int64]*subscription),
	}
}

func (m *Memory) Set(ctx context.Context, path string, value Fields) error {
	segs := splitPath(path)
	m.mu.Lock()
	n := m.makeNode(segs)
	n.children = make(map[string]*node)
	n.value, n.leaf = nil, false
	setFields(n, value)
	deliveries := m.collect(segs)
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) Get(ctx context.Context, path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.lookup(splitPath(path))), nil
}

func (m *Memory) Update(ctx context.Context, path string, fields Fields) error {
	segs := splitPath(path)
	m.mu.Lock()
	n := m.makeNode(segs)
	setFields(n, fields)
	deliveries := m.collect(segs)
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	segs := splitPath(path)
	m.mu.Lock()
	m.remove(segs)
	deliveries := m.collect(segs)
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (m *Memory) Subscribe(path string, fn func(any)) CancelFunc {
	sub := &subscription{segs: splitPath(path), fn: fn}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	initial := snapshot(m.lookup(sub.segs))
	m.mu.Unlock()

	sub.mu.Lock()
	sub.fn(initial)
	sub.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// lookup returns the node at segs or nil.
func (m *Memory) lookup(segs []string) *node {
	n := m.root
	for _, s := range segs {
		n = n.children[s]
		if n == nil {
			return nil
		}
	}
	return n
}

// makeNode returns the node at segs, creating missing branches.
func (m *Memory) makeNode(segs []string) *node {
	n := m.root
	for _, s := range segs {
		child := n.children[s]
		if child == nil {
			child = &node{children: make(map[string]*node)}
			n.children[s] = child
		}
		// a leaf being descended into becomes a branch
		child.value, child.leaf = nil, false
		n = child
	}
	return n
}

// remove deletes the node at segs and prunes emptied ancestors.
func (m *Memory) remove(segs []string) {
	if len(segs) == 0 {
		m.root = &node{children: make(map[string]*node)}
		return
	}
	chain := make([]*node, 0, len(segs))
	n := m.root
	for _, s := range segs {
		chain = append(chain, n)
		n = n.children[s]
		if n == nil {
			return
		}
	}
	delete(chain[len(chain)-1].children, segs[len(segs)-1])
	for i := len(chain) - 1; i > 0; i-- {
		if len(chain[i].children) == 0 && !chain[i].leaf {
			delete(chain[i-1].children, segs[i-1])
		}
	}
}

type delivery struct {
	sub  *subscription
	snap any
}

// collect gathers every subscription affected by a change at segs, paired
// with the post-change snapshot at its own path. A subscription is affected
// when its path is an ancestor or descendant of (or equal to) the changed
// path. Must be called with mu held.
func (m *Memory) collect(segs []string) []delivery {
	var out []delivery
	for _, sub := range m.subs {
		if !overlaps(segs, sub.segs) {
			continue
		}
		out = append(out, delivery{sub: sub, snap: snapshot(m.lookup(sub.segs))})
	}
	return out
}

// dispatch runs deliveries outside the tree lock so callbacks may re-enter
// the store. Snapshots were taken under the lock; per-writer order is kept
// for each subscriber by delivering on the writer's goroutine.
func dispatch(deliveries []delivery) {
	for _, d := range deliveries {
		d.sub.mu.Lock()
		d.sub.fn(d.snap)
		d.sub.mu.Unlock()
	}
}

func setFields(n *node, fields Fields) {
	for k, v := range fields {
		child := &node{children: make(map[string]*node)}
		switch nested := v.(type) {
		case Fields:
			setFields(child, nested)
		case map[string]any:
			setFields(child, nested)
		default:
			child.value, child.leaf = v, true
		}
		n.children[k] = child
	}
}

func snapshot(n *node) any {
	if n == nil {
		return nil
	}
	if n.leaf {
		return n.value
	}
	if len(n.children) == 0 {
		return nil
	}
	out := make(map[string]any, len(n.children))
	for k, c := range n.children {
		out[k] = snapshot(c)
	}
	return out
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
