package trie

import (
	"slices"
	"sync"
	"sync/atomic"
	"weak"
)

// Child describes a child edge restored by a Loader
type Child struct {
	Char rune
	ID   uint32
}

// Loader restores the children and items of a node that is not in memory
type Loader[K comparable] interface {
	LoadNode(id uint32) ([]Child, map[K][]int, error)
}

// Node is one character of an indexed word. A node belongs to exactly one
// Trie. Nodes of a trie with a Loader start unpopulated and load their
// contents on first access.
type Node[K comparable] struct {
	trie   *Trie[K]
	char   rune
	id     uint32
	parent weak.Pointer[Node[K]]

	// A single child lives in one/oneChar; children is used from two on
	one      *Node[K]
	oneChar  rune
	children map[rune]*Node[K]

	// items maps each item ending a word here to its sorted distinct positions
	items map[K][]int

	// mu guards the populate and clear transitions
	mu        sync.Mutex
	populated atomic.Bool
}

func newNode[K comparable](t *Trie[K], c rune, parent *Node[K]) *Node[K] {
	n := &Node[K]{trie: t, char: c}
	if parent != nil {
		n.parent = weak.Make(parent)
	}
	return n
}

// Char returns the character the node matches
func (n *Node[K]) Char() rune { return n.char }

// ID returns the node's stable id; the root is 0
func (n *Node[K]) ID() uint32 { return n.id }

// SetID assigns the node's stable id
func (n *Node[K]) SetID(id uint32) { n.id = id }

// Parent returns the parent node, or nil for the root and for pruned nodes
func (n *Node[K]) Parent() *Node[K] { return n.parent.Value() }

// IsRoot reports whether n is the root of its trie
func (n *Node[K]) IsRoot() bool { return n == n.trie.root }

// Populated reports whether the node's contents are in memory
func (n *Node[K]) Populated() bool { return n.populated.Load() }

// Populate loads the node's contents if they are not in memory yet
func (n *Node[K]) Populate() error {
	if n.populated.Load() {
		return nil
	}

	n.mu.Lock()
	if n.populated.Load() {
		n.mu.Unlock()
		return nil
	}
	children, items, err := n.trie.loader.LoadNode(n.id)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	for _, c := range children {
		child := newNode(n.trie, c.Char, n)
		child.id = c.ID
		n.addChild(child)
	}
	for item, positions := range items {
		sorted := slices.Clone(positions)
		slices.Sort(sorted)
		if n.items == nil {
			n.items = make(map[K][]int, len(items))
		}
		n.items[item] = slices.Compact(sorted)
		n.trie.trackItem(item, n)
	}
	n.populated.Store(true)
	n.mu.Unlock()

	for _, o := range n.trie.observers {
		o.NodeRestored(n)
	}
	return nil
}

// Match returns the child matching c, or nil
func (n *Node[K]) Match(c rune) (*Node[K], error) {
	if err := n.Populate(); err != nil {
		return nil, err
	}
	return n.child(c), nil
}

// Children returns the children ordered by character
func (n *Node[K]) Children() ([]*Node[K], error) {
	if err := n.Populate(); err != nil {
		return nil, err
	}
	return n.childList(), nil
}

// Items returns a copy of the items ending a word at n with their positions
func (n *Node[K]) Items() (map[K][]int, error) {
	if err := n.Populate(); err != nil {
		return nil, err
	}
	out := make(map[K][]int, len(n.items))
	for item, positions := range n.items {
		out[item] = slices.Clone(positions)
	}
	return out, nil
}

// HasItem reports whether item ends a word at n
func (n *Node[K]) HasItem(item K) (bool, error) {
	if err := n.Populate(); err != nil {
		return false, err
	}
	_, ok := n.items[item]
	return ok, nil
}

// Clear discards the node's contents and marks it unpopulated. Populated
// descendants are cleared first. The root, and nodes of a trie without a
// Loader, cannot be cleared.
func (n *Node[K]) Clear() {
	if n.IsRoot() || n.trie.loader == nil || !n.populated.Load() {
		return
	}
	for _, child := range n.childList() {
		child.Clear()
	}

	for _, o := range n.trie.observers {
		o.NodeInvalidating(n)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for item := range n.items {
		n.trie.untrackItem(item, n)
	}
	n.one, n.oneChar, n.children = nil, 0, nil
	n.items = nil
	n.populated.Store(false)
}

// Word returns the characters from the root to n
func (n *Node[K]) Word() string {
	var rs []rune
	for cur := n; cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		rs = append(rs, cur.char)
	}
	slices.Reverse(rs)
	return string(rs)
}

func (n *Node[K]) child(c rune) *Node[K] {
	if n.one != nil {
		if n.oneChar == c {
			return n.one
		}
		return nil
	}
	return n.children[c]
}

func (n *Node[K]) childList() []*Node[K] {
	if n.one != nil {
		return []*Node[K]{n.one}
	}
	out := make([]*Node[K], 0, len(n.children))
	for _, child := range n.children {
		out = append(out, child)
	}
	slices.SortFunc(out, func(a, b *Node[K]) int { return int(a.char - b.char) })
	return out
}

func (n *Node[K]) childCount() int {
	if n.one != nil {
		return 1
	}
	return len(n.children)
}

func (n *Node[K]) addChild(child *Node[K]) {
	switch {
	case n.one == nil && len(n.children) == 0:
		n.one, n.oneChar = child, child.char
	case n.one != nil:
		n.children = map[rune]*Node[K]{n.oneChar: n.one, child.char: child}
		n.one, n.oneChar = nil, 0
	default:
		n.children[child.char] = child
	}
}

func (n *Node[K]) removeChild(child *Node[K]) {
	if n.one == child {
		n.one, n.oneChar = nil, 0
		return
	}
	delete(n.children, child.char)
	if len(n.children) == 1 {
		for c, last := range n.children {
			n.one, n.oneChar = last, c
		}
		n.children = nil
	}
}

// empty reports whether a populated node holds nothing
func (n *Node[K]) empty() bool {
	return n.childCount() == 0 && len(n.items) == 0
}
