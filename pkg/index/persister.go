package index

import (
	"fmt"
	"sync"

	"github.com/nainya/triestore/pkg/storage"
	"github.com/nainya/triestore/pkg/trie"
	"github.com/rs/zerolog"
)

// persister mirrors trie mutations into the entry manager and restores
// nodes from it. It is both the trie's Loader and its Observer.
type persister[K comparable] struct {
	pm   *storage.PageManager
	em   *storage.EntryManager[K]
	trie *trie.Trie[K]
	log  zerolog.Logger

	items *idPool
	nodes *idPool

	// resident maps node ids to the node objects in memory, stubs included.
	// Readers populating nodes concurrently add to it.
	mu       sync.Mutex
	resident map[uint32]*trie.Node[K]
}

func newPersister[K comparable](pm *storage.PageManager, em *storage.EntryManager[K], log zerolog.Logger) *persister[K] {
	return &persister[K]{
		pm:       pm,
		em:       em,
		log:      log,
		items:    newIDPool(pm.AllocateNewItemID),
		nodes:    newIDPool(pm.AllocateNewIndexNodeID),
		resident: make(map[uint32]*trie.Node[K]),
	}
}

// LoadNode reads the edges and item references of node id
func (p *persister[K]) LoadNode(id uint32) ([]trie.Child, map[K][]int, error) {
	entries, err := p.em.GetIndexNodeEntries(id)
	if err != nil {
		return nil, nil, err
	}

	var children []trie.Child
	items := make(map[K][]int)
	for _, e := range entries {
		switch e := e.(type) {
		case storage.NodeRefEntry:
			children = append(children, trie.Child{Char: e.Char, ID: e.ChildID})
		case storage.ItemRefEntry:
			key, ok := p.em.ItemKey(e.ItemID)
			if !ok {
				return nil, nil, fmt.Errorf("%w: node %d references unknown item %d", storage.ErrCorrupted, id, e.ItemID)
			}
			items[key] = append(items[key], int(e.Position))
		}
	}
	return children, items, nil
}

func (p *persister[K]) ItemIndexingStarted(key K) error {
	id, err := p.items.get()
	if err != nil {
		return err
	}
	return p.em.AddItemIndexEntry(id, key)
}

func (p *persister[K]) ItemWordIndexed(n *trie.Node[K], key K, positions []int) error {
	id, ok := p.em.ItemID(key)
	if !ok {
		return fmt.Errorf("%w: item has no record", storage.ErrInvalidArgument)
	}
	for _, pos := range positions {
		if err := p.em.AddNodeItemEntry(n.ID(), id, uint32(pos)); err != nil {
			return err
		}
	}
	return nil
}

func (p *persister[K]) ItemIndexingCompleted(K) error {
	return p.pm.Flush()
}

func (p *persister[K]) ItemWordRemoved(n *trie.Node[K], key K) error {
	id, ok := p.em.ItemID(key)
	if !ok {
		return nil
	}
	return p.em.RemoveNodeItemEntry(n.ID(), id)
}

// ItemRemovalCompleted drops the item record together with whatever the
// trie did not have in memory, then prunes the nodes that held it.
func (p *persister[K]) ItemRemovalCompleted(key K) error {
	id, ok := p.em.ItemID(key)
	if !ok {
		return nil
	}
	nodes, err := p.em.RemoveItemEntry(id)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := p.pruneStored(node); err != nil {
			return err
		}
	}
	p.items.put(id)
	return p.pm.Flush()
}

// pruneStored prunes node id and then its ancestors while they are empty.
// Nodes in memory go through the trie; the rest are pruned in storage.
func (p *persister[K]) pruneStored(id uint32) error {
	for id != 0 {
		if n := p.node(id); n != nil {
			return p.trie.Prune(n)
		}

		entries, err := p.em.GetIndexNodeEntries(id)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		ref, found, err := p.em.FindParentReference(id)
		if err != nil || !found {
			return err
		}
		if err := p.em.RemoveIndexNodeReferenceEntry(ref.NodeID, id); err != nil {
			return err
		}
		p.nodes.put(id)
		p.log.Debug().Uint32("node", id).Msg("Pruned stored node")
		id = ref.NodeID
	}
	return nil
}

func (p *persister[K]) NodeCreated(n *trie.Node[K]) error {
	id, err := p.nodes.get()
	if err != nil {
		return err
	}
	n.SetID(id)
	if err := p.em.AddIndexNodeReferenceEntry(n.Parent().ID(), id, n.Char()); err != nil {
		return err
	}
	p.mu.Lock()
	p.resident[id] = n
	p.mu.Unlock()
	return nil
}

func (p *persister[K]) NodeRemoved(n *trie.Node[K]) error {
	parent := n.Parent()
	if parent == nil {
		return fmt.Errorf("%w: pruned node %d has no parent", storage.ErrInvalidArgument, n.ID())
	}
	if err := p.em.RemoveIndexNodeReferenceEntry(parent.ID(), n.ID()); err != nil {
		return err
	}
	p.nodes.put(n.ID())
	p.mu.Lock()
	delete(p.resident, n.ID())
	p.mu.Unlock()
	return nil
}

// NodeInvalidating forgets the children n is about to drop
func (p *persister[K]) NodeInvalidating(n *trie.Node[K]) {
	children, _ := n.Children()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, child := range children {
		delete(p.resident, child.ID())
	}
}

// NodeRestored records the child stubs n was populated with
func (p *persister[K]) NodeRestored(n *trie.Node[K]) {
	children, _ := n.Children()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, child := range children {
		p.resident[child.ID()] = child
	}
}

func (p *persister[K]) node(id uint32) *trie.Node[K] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resident[id]
}

func (p *persister[K]) residentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resident)
}
