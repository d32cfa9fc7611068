// ABOUTME: Entry-level CRUD over the item, node and reverse item-node record sets
// ABOUTME: Hides page placement: splits full pages and coalesces sparse neighbours

package storage

import (
	"fmt"
	"slices"

	"github.com/nainya/triestore/internal/metrics"
	"github.com/rs/zerolog"
)

// EntryManager maintains the four record sets of an index on top of a
// PageManager. Callers flush the page manager at operation boundaries.
type EntryManager[K comparable] struct {
	pm      *PageManager
	keys    KeySerializer[K]
	log     zerolog.Logger
	metrics *metrics.Metrics

	itemIDs  map[K]uint32
	itemKeys map[uint32]K
}

// NewEntryManager wraps an initialized page manager and rebuilds the item
// lookups from the Items chain.
func NewEntryManager[K comparable](pm *PageManager, keys KeySerializer[K]) (*EntryManager[K], error) {
	if err := pm.ready(); err != nil {
		return nil, err
	}
	em := &EntryManager[K]{
		pm:       pm,
		keys:     keys,
		log:      pm.log,
		metrics:  pm.metrics,
		itemIDs:  make(map[K]uint32),
		itemKeys: make(map[uint32]K),
	}

	for _, h := range slices.Clone(pm.Collection(PageItems).Pages()) {
		page, err := pm.GetPage(h.Number)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			ie := e.(ItemEntry)
			key, _, err := keys.Read(ie.Key)
			if err != nil {
				return nil, &CorruptionError{Page: h.Number, Reason: fmt.Sprintf("item %d key: %v", ie.ItemID, err)}
			}
			em.itemIDs[key] = ie.ItemID
			em.itemKeys[ie.ItemID] = key
		}
	}
	return em, nil
}

// AddItemIndexEntry stores the key of item id
func (em *EntryManager[K]) AddItemIndexEntry(id uint32, key K) error {
	if _, ok := em.itemIDs[key]; ok {
		return fmt.Errorf("%w: key already stored", ErrInvalidArgument)
	}
	if _, ok := em.itemKeys[id]; ok {
		return fmt.Errorf("%w: item id %d already stored", ErrInvalidArgument, id)
	}

	if err := em.insert(PageItems, ItemEntry{ItemID: id, Key: EncodeKey(em.keys, key)}); err != nil {
		return err
	}
	em.itemIDs[key] = id
	em.itemKeys[id] = key
	return nil
}

// RemoveItemEntry removes item id, its reverse entries and the node entries
// they point at. It returns the ids of the nodes that referenced the item.
func (em *EntryManager[K]) RemoveItemEntry(id uint32) ([]uint32, error) {
	key, ok := em.itemKeys[id]
	if !ok {
		panic(fmt.Sprintf("storage: removing unknown item %d", id))
	}

	nodes, err := em.ItemNodeIDs(id)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if _, err := em.removeWhere(PageIndexNode, node, func(e Entry) bool {
			ref, ok := e.(ItemRefEntry)
			return ok && ref.ItemID == id
		}); err != nil {
			return nil, err
		}
	}
	if _, err := em.removeWhere(PageItemNodeIndex, id, func(Entry) bool { return true }); err != nil {
		return nil, err
	}
	if _, err := em.removeWhere(PageItems, id, func(Entry) bool { return true }); err != nil {
		return nil, err
	}

	delete(em.itemIDs, key)
	delete(em.itemKeys, id)
	return nodes, nil
}

// AddNodeItemEntry records that a word ending at node occurs in item at pos.
// The reverse entry is added once per (item, node) pair.
func (em *EntryManager[K]) AddNodeItemEntry(node, item, pos uint32) error {
	if err := em.insert(PageIndexNode, ItemRefEntry{NodeID: node, ItemID: item, Position: pos}); err != nil {
		return err
	}

	nodes, err := em.ItemNodeIDs(item)
	if err != nil {
		return err
	}
	if slices.Contains(nodes, node) {
		return nil
	}
	return em.insert(PageItemNodeIndex, ItemNodeEntry{ItemID: item, NodeID: node})
}

// RemoveNodeItemEntry removes every position of item at node and the
// reverse entry. The relationship must exist.
func (em *EntryManager[K]) RemoveNodeItemEntry(node, item uint32) error {
	n, err := em.removeWhere(PageIndexNode, node, func(e Entry) bool {
		ref, ok := e.(ItemRefEntry)
		return ok && ref.ItemID == item
	})
	if err != nil {
		return err
	}
	if n == 0 {
		panic(fmt.Sprintf("storage: node %d holds no entry for item %d", node, item))
	}

	n, err = em.removeWhere(PageItemNodeIndex, item, func(e Entry) bool {
		return e.(ItemNodeEntry).NodeID == node
	})
	if err != nil {
		return err
	}
	if n == 0 {
		panic(fmt.Sprintf("storage: item %d has no reverse entry for node %d", item, node))
	}
	return nil
}

// AddIndexNodeReferenceEntry stores the edge parent -c-> child
func (em *EntryManager[K]) AddIndexNodeReferenceEntry(parent, child uint32, c rune) error {
	return em.insert(PageIndexNode, NodeRefEntry{NodeID: parent, ChildID: child, Char: c})
}

// RemoveIndexNodeReferenceEntry removes the edge parent -> child. The edge
// must exist.
func (em *EntryManager[K]) RemoveIndexNodeReferenceEntry(parent, child uint32) error {
	n, err := em.removeWhere(PageIndexNode, parent, func(e Entry) bool {
		ref, ok := e.(NodeRefEntry)
		return ok && ref.ChildID == child
	})
	if err != nil {
		return err
	}
	if n == 0 {
		panic(fmt.Sprintf("storage: node %d has no edge to %d", parent, child))
	}
	return nil
}

// GetIndexNodeEntries returns the edges and item references of node id
func (em *EntryManager[K]) GetIndexNodeEntries(id uint32) ([]Entry, error) {
	var out []Entry
	for _, h := range em.pm.Collection(PageIndexNode).FindPagesForEntry(id) {
		page, err := em.pm.GetPage(h.Number)
		if err != nil {
			return nil, err
		}
		out = append(out, page.EntriesFor(id)...)
	}
	return out, nil
}

// ItemNodeIDs returns the nodes referencing item, in stored order
func (em *EntryManager[K]) ItemNodeIDs(item uint32) ([]uint32, error) {
	var out []uint32
	for _, h := range em.pm.Collection(PageItemNodeIndex).FindPagesForEntry(item) {
		page, err := em.pm.GetPage(h.Number)
		if err != nil {
			return nil, err
		}
		for _, e := range page.EntriesFor(item) {
			out = append(out, e.(ItemNodeEntry).NodeID)
		}
	}
	return out, nil
}

// FindParentReference scans every node page for the edge pointing at child.
// Edges are only indexed by parent, so this is a full scan.
func (em *EntryManager[K]) FindParentReference(child uint32) (NodeRefEntry, bool, error) {
	for _, h := range slices.Clone(em.pm.Collection(PageIndexNode).Pages()) {
		page, err := em.pm.GetPage(h.Number)
		if err != nil {
			return NodeRefEntry{}, false, err
		}
		for _, e := range page.Entries {
			if ref, ok := e.(NodeRefEntry); ok && ref.ChildID == child {
				return ref, true, nil
			}
		}
	}
	return NodeRefEntry{}, false, nil
}

// ItemID returns the internal id of key
func (em *EntryManager[K]) ItemID(key K) (uint32, bool) {
	id, ok := em.itemIDs[key]
	return id, ok
}

// ItemKey returns the key of internal item id
func (em *EntryManager[K]) ItemKey(id uint32) (K, bool) {
	key, ok := em.itemKeys[id]
	return key, ok
}

// ItemIDs returns every stored item id in ascending order
func (em *EntryManager[K]) ItemIDs() []uint32 {
	ids := make([]uint32, 0, len(em.itemKeys))
	for id := range em.itemKeys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ItemCount returns the number of stored items
func (em *EntryManager[K]) ItemCount() int {
	return len(em.itemKeys)
}

// insert places e in the chain of type t, splitting when no page has room
func (em *EntryManager[K]) insert(t PageType, e Entry) error {
	pageSize := em.pm.PageSize()
	if PageHeaderSize+e.Size() > pageSize {
		return fmt.Errorf("%w: %d byte entry, %d byte pages", ErrEntryTooLarge, e.Size(), pageSize)
	}

	id := e.EntryID()
	h := em.pm.Collection(t).FindClosestPageForEntry(id)
	if h == nil {
		panic(fmt.Sprintf("storage: %s chain is empty", t))
	}
	page, err := em.pm.GetPage(h.Number)
	if err != nil {
		return err
	}
	if page.Fits(e, pageSize) {
		page.Insert(e)
		return em.pm.SavePage(page)
	}

	// Later pages starting at id can take it at their front
	for next := h.Next; next != NoPage; {
		nh := em.pm.header(next)
		if nh.EntryCount == 0 || nh.FirstEntry > id {
			break
		}
		if int(nh.Size)+e.Size() <= pageSize {
			np, err := em.pm.GetPage(next)
			if err != nil {
				return err
			}
			np.Insert(e)
			return em.pm.SavePage(np)
		}
		next = nh.Next
	}

	// An entry going to the very front can end the previous page instead
	if page.insertIndex(id) == 0 && h.Prev != NoPage {
		ph := em.pm.header(h.Prev)
		if int(ph.Size)+e.Size() <= pageSize {
			pp, err := em.pm.GetPage(h.Prev)
			if err != nil {
				return err
			}
			pp.Insert(e)
			return em.pm.SavePage(pp)
		}
	}

	return em.split(page, e)
}

// split creates a page after page and places e so that ranges stay ordered
func (em *EntryManager[K]) split(page *DataPage, e Entry) error {
	pageSize := em.pm.PageSize()
	id := e.EntryID()

	np, err := em.pm.CreatePage(page)
	if err != nil {
		return err
	}
	em.metrics.PageSplit()

	if id >= page.Header.LastEntry {
		np.Insert(e)
		em.log.Debug().Int32("page", page.Header.Number).Int32("new", np.Header.Number).Uint32("id", id).Msg("Split page at end")
		return em.pm.SavePage(np)
	}

	// Move everything above id to the new page
	cut := page.insertIndex(id)
	np.Entries = append(np.Entries, page.Entries[cut:]...)
	clear(page.Entries[cut:])
	page.Entries = page.Entries[:cut]
	page.refresh()
	np.refresh()

	target := page
	switch lower, upper := page.Fits(e, pageSize), np.Fits(e, pageSize); {
	case lower && upper:
		if np.Header.Size < page.Header.Size {
			target = np
		}
	case upper:
		target = np
	case !lower:
		// Neither half has room: e gets a page of its own in between
		dp, err := em.pm.CreatePage(page)
		if err != nil {
			return err
		}
		target = dp
	}
	target.Insert(e)

	em.log.Debug().
		Int32("page", page.Header.Number).
		Int32("new", np.Header.Number).
		Uint32("id", id).
		Int("moved", len(np.Entries)).
		Msg("Split page")

	if err := em.pm.SavePage(page); err != nil {
		return err
	}
	if err := em.pm.SavePage(np); err != nil {
		return err
	}
	if target != page && target != np {
		return em.pm.SavePage(target)
	}
	return nil
}

// removeWhere deletes the entries with id matching fn from the chain of
// type t and returns how many were removed. Emptied pages are invalidated
// and sparse pages are merged with their successor.
func (em *EntryManager[K]) removeWhere(t PageType, id uint32, fn func(Entry) bool) (int, error) {
	// Changed pages stay here until saved; the cache may evict them meanwhile
	var touched []*DataPage
	held := make(map[int32]*DataPage)
	removed := 0
	for _, h := range slices.Clone(em.pm.Collection(t).FindPagesForEntry(id)) {
		page, err := em.pm.GetPage(h.Number)
		if err != nil {
			return removed, err
		}
		if n := page.RemoveWhere(id, fn); n > 0 {
			removed += n
			touched = append(touched, page)
			held[page.Header.Number] = page
		}
	}

	for _, page := range touched {
		if _, ok := em.pm.GetPageHeader(page.Header.Number); !ok {
			// Merged into its predecessor
			continue
		}
		if len(page.Entries) == 0 {
			if err := em.pm.SavePage(page); err != nil {
				return removed, err
			}
			continue
		}
		if err := em.coalesce(page, held); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// coalesce saves page, first absorbing its successor when both together
// use at most three quarters of a page. held lists unsaved pages that must
// be used instead of their file contents.
func (em *EntryManager[K]) coalesce(page *DataPage, held map[int32]*DataPage) error {
	next := page.Header.Next
	if next == NoPage {
		return em.pm.SavePage(page)
	}
	nh := em.pm.header(next)
	combined := int(page.Header.Size) + int(nh.Size) - PageHeaderSize
	if combined > em.pm.PageSize()*3/4 {
		return em.pm.SavePage(page)
	}

	np, ok := held[next]
	if !ok {
		var err error
		if np, err = em.pm.GetPage(next); err != nil {
			return err
		}
	}
	page.Entries = append(page.Entries, np.Entries...)
	page.refresh()
	np.Entries = nil
	np.refresh()

	em.metrics.PageMerged()
	em.log.Debug().Int32("page", page.Header.Number).Int32("merged", next).Msg("Coalesced pages")

	if err := em.pm.SavePage(page); err != nil {
		return err
	}
	return em.pm.SavePage(np)
}
