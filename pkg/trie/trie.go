// Package trie implements a character trie mapping words to the items and
// positions they occur at, with optional lazy loading of node contents
package trie

import (
	"errors"
	"slices"
	"sync"

	"github.com/nainya/triestore/pkg/tokenize"
)

// ErrEmptyWord is returned when indexing a word without characters
var ErrEmptyWord = errors.New("trie: empty word")

// Trie is a character trie over items of type K. Mutations must be
// serialized by the caller; lookups may run concurrently with each other.
type Trie[K comparable] struct {
	root      *Node[K]
	loader    Loader[K]
	observers []Observer[K]

	// itemNodes indexes the populated nodes holding each item
	mu        sync.Mutex
	itemNodes map[K]map[*Node[K]]struct{}
}

// New creates a trie. With a nil loader the trie lives only in memory;
// otherwise the root and every node reached through it load lazily.
func New[K comparable](loader Loader[K]) *Trie[K] {
	t := &Trie[K]{
		loader:    loader,
		itemNodes: make(map[K]map[*Node[K]]struct{}),
	}
	t.root = newNode(t, 0, nil)
	if loader == nil {
		t.root.populated.Store(true)
	}
	return t
}

// Root returns the root node
func (t *Trie[K]) Root() *Node[K] { return t.root }

// Subscribe registers an observer
func (t *Trie[K]) Subscribe(o Observer[K]) {
	t.observers = append(t.observers, o)
}

// Find returns the node ending word, or nil
func (t *Trie[K]) Find(word string) (*Node[K], error) {
	n := t.root
	for _, c := range word {
		next, err := n.Match(c)
		if err != nil || next == nil {
			return nil, err
		}
		n = next
	}
	return n, nil
}

// Lookup returns the items of word with their positions. With prefix set,
// every word starting with word matches.
func (t *Trie[K]) Lookup(word string, prefix bool) (map[K][]int, error) {
	n, err := t.Find(word)
	if err != nil || n == nil {
		return nil, err
	}
	if !prefix {
		return n.Items()
	}

	out := make(map[K][]int)
	err = Walk(n, func(node *Node[K]) error {
		items, err := node.Items()
		if err != nil {
			return err
		}
		for item, positions := range items {
			out[item] = append(out[item], positions...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for item, positions := range out {
		slices.Sort(positions)
		out[item] = slices.Compact(positions)
	}
	return out, nil
}

// Walk visits n and its descendants depth first, populating as it goes
func Walk[K comparable](n *Node[K], fn func(*Node[K]) error) error {
	if err := fn(n); err != nil {
		return err
	}
	children, err := n.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Index attaches every token of text to item, bracketed by the indexing
// started and completed notifications
func (t *Trie[K]) Index(item K, tokens []tokenize.Token) error {
	for _, o := range t.observers {
		if err := o.ItemIndexingStarted(item); err != nil {
			return err
		}
	}
	for _, tok := range tokens {
		if err := t.IndexItem(item, tok.Word, tok.Positions); err != nil {
			return err
		}
	}
	for _, o := range t.observers {
		if err := o.ItemIndexingCompleted(item); err != nil {
			return err
		}
	}
	return nil
}

// IndexItem records that word occurs in item at positions, creating nodes
// as needed
func (t *Trie[K]) IndexItem(item K, word string, positions []int) error {
	if word == "" {
		return ErrEmptyWord
	}

	n := t.root
	for _, c := range word {
		next, err := n.Match(c)
		if err != nil {
			return err
		}
		if next == nil {
			next = newNode(t, c, n)
			next.populated.Store(true)
			n.addChild(next)
			for _, o := range t.observers {
				if err := o.NodeCreated(next); err != nil {
					return err
				}
			}
		}
		n = next
	}
	if err := n.Populate(); err != nil {
		return err
	}

	existing := n.items[item]
	var added []int
	for _, p := range positions {
		if _, found := slices.BinarySearch(existing, p); !found && !slices.Contains(added, p) {
			added = append(added, p)
		}
	}
	if len(added) == 0 {
		return nil
	}
	merged := append(slices.Clone(existing), added...)
	slices.Sort(merged)
	slices.Sort(added)
	if n.items == nil {
		n.items = make(map[K][]int)
	}
	n.items[item] = merged
	t.trackItem(item, n)

	for _, o := range t.observers {
		if err := o.ItemWordIndexed(n, item, added); err != nil {
			return err
		}
	}
	return nil
}

// DeindexItem removes item from every populated node holding it and prunes
// nodes left empty. The removal completed notification always fires.
func (t *Trie[K]) DeindexItem(item K) error {
	for _, n := range t.NodesOf(item) {
		if err := t.deindexAt(item, n); err != nil {
			return err
		}
	}
	for _, o := range t.observers {
		if err := o.ItemRemovalCompleted(item); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trie[K]) deindexAt(item K, n *Node[K]) error {
	if _, ok := n.items[item]; !ok {
		return nil
	}
	delete(n.items, item)
	t.untrackItem(item, n)

	for _, o := range t.observers {
		if err := o.ItemWordRemoved(n, item); err != nil {
			return err
		}
	}
	return t.Prune(n)
}

// Prune detaches n if it holds nothing, then continues with its parent.
// The root is never pruned.
func (t *Trie[K]) Prune(n *Node[K]) error {
	for n != nil && !n.IsRoot() {
		if err := n.Populate(); err != nil {
			return err
		}
		if !n.empty() {
			return nil
		}
		parent := n.Parent()
		if parent == nil {
			return nil
		}
		parent.removeChild(n)
		for _, o := range t.observers {
			if err := o.NodeRemoved(n); err != nil {
				return err
			}
		}
		n = parent
	}
	return nil
}

// NodesOf returns the populated nodes holding item
func (t *Trie[K]) NodesOf(item K) []*Node[K] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node[K], 0, len(t.itemNodes[item]))
	for n := range t.itemNodes[item] {
		out = append(out, n)
	}
	return out
}

// Clear drops every node below the root from memory. For a lazily loaded
// trie the nodes reload on the next access.
func (t *Trie[K]) Clear() error {
	children, err := t.root.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		child.Clear()
	}
	return nil
}

func (t *Trie[K]) trackItem(item K, n *Node[K]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.itemNodes[item]
	if set == nil {
		set = make(map[*Node[K]]struct{})
		t.itemNodes[item] = set
	}
	set[n] = struct{}{}
}

func (t *Trie[K]) untrackItem(item K, n *Node[K]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.itemNodes[item]
	delete(set, n)
	if len(set) == 0 {
		delete(t.itemNodes, item)
	}
}
