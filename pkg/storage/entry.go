// ABOUTME: Entry variants stored in data pages
// ABOUTME: Item records, node edges and the reverse item-node index

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Entry is a variable-size record inside a data page. The set of
// implementations is closed: ItemEntry, ItemRefEntry, NodeRefEntry and
// ItemNodeEntry.
type Entry interface {
	EntryID() uint32
	Size() int
	put(buf []byte) int
}

const (
	tagItemRef byte = 1
	tagNodeRef byte = 2

	itemRefEntrySize  = 13
	nodeRefHeaderSize = 9
	itemNodeEntrySize = 8
)

var errShortEntry = errors.New("entry truncated")

// ItemEntry maps an internal item id to its serialized key (Items pages).
type ItemEntry struct {
	ItemID uint32
	Key    []byte
}

func (e ItemEntry) EntryID() uint32 { return e.ItemID }
func (e ItemEntry) Size() int       { return 4 + len(e.Key) }

func (e ItemEntry) put(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], e.ItemID)
	copy(buf[4:], e.Key)
	return e.Size()
}

// ItemRefEntry records that a word ending at NodeID occurs in ItemID at
// Position (IndexNode pages).
type ItemRefEntry struct {
	NodeID   uint32
	ItemID   uint32
	Position uint32
}

func (e ItemRefEntry) EntryID() uint32 { return e.NodeID }
func (e ItemRefEntry) Size() int       { return itemRefEntrySize }

func (e ItemRefEntry) put(buf []byte) int {
	buf[0] = tagItemRef
	binary.LittleEndian.PutUint32(buf[1:5], e.NodeID)
	binary.LittleEndian.PutUint32(buf[5:9], e.ItemID)
	binary.LittleEndian.PutUint32(buf[9:13], e.Position)
	return itemRefEntrySize
}

// NodeRefEntry is a parent to child edge matched by Char (IndexNode pages).
type NodeRefEntry struct {
	NodeID  uint32
	ChildID uint32
	Char    rune
}

func (e NodeRefEntry) EntryID() uint32 { return e.NodeID }
func (e NodeRefEntry) Size() int       { return nodeRefHeaderSize + utf8.RuneLen(e.Char) }

func (e NodeRefEntry) put(buf []byte) int {
	buf[0] = tagNodeRef
	binary.LittleEndian.PutUint32(buf[1:5], e.NodeID)
	binary.LittleEndian.PutUint32(buf[5:9], e.ChildID)
	n := utf8.EncodeRune(buf[nodeRefHeaderSize:], e.Char)
	return nodeRefHeaderSize + n
}

// ItemNodeEntry is the inverse of an ItemRefEntry (ItemNodeIndex pages).
type ItemNodeEntry struct {
	ItemID uint32
	NodeID uint32
}

func (e ItemNodeEntry) EntryID() uint32 { return e.ItemID }
func (e ItemNodeEntry) Size() int       { return itemNodeEntrySize }

func (e ItemNodeEntry) put(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], e.ItemID)
	binary.LittleEndian.PutUint32(buf[4:8], e.NodeID)
	return itemNodeEntrySize
}

func decodeEntry(t PageType, buf []byte, keyLen func([]byte) (int, error)) (Entry, int, error) {
	switch t {
	case PageItems:
		if len(buf) < 4 {
			return nil, 0, errShortEntry
		}
		n, err := keyLen(buf[4:])
		if err != nil {
			return nil, 0, fmt.Errorf("key: %w", err)
		}
		if 4+n > len(buf) {
			return nil, 0, errShortEntry
		}
		key := make([]byte, n)
		copy(key, buf[4:4+n])
		return ItemEntry{ItemID: binary.LittleEndian.Uint32(buf[0:4]), Key: key}, 4 + n, nil

	case PageIndexNode:
		if len(buf) < nodeRefHeaderSize {
			return nil, 0, errShortEntry
		}
		id := binary.LittleEndian.Uint32(buf[1:5])
		ref := binary.LittleEndian.Uint32(buf[5:9])
		switch buf[0] {
		case tagItemRef:
			if len(buf) < itemRefEntrySize {
				return nil, 0, errShortEntry
			}
			pos := binary.LittleEndian.Uint32(buf[9:13])
			return ItemRefEntry{NodeID: id, ItemID: ref, Position: pos}, itemRefEntrySize, nil
		case tagNodeRef:
			r, n := utf8.DecodeRune(buf[nodeRefHeaderSize:])
			if r == utf8.RuneError && n <= 1 {
				return nil, 0, errors.New("invalid character encoding")
			}
			return NodeRefEntry{NodeID: id, ChildID: ref, Char: r}, nodeRefHeaderSize + n, nil
		default:
			return nil, 0, fmt.Errorf("unknown node entry tag %d", buf[0])
		}

	case PageItemNodeIndex:
		if len(buf) < itemNodeEntrySize {
			return nil, 0, errShortEntry
		}
		return ItemNodeEntry{
			ItemID: binary.LittleEndian.Uint32(buf[0:4]),
			NodeID: binary.LittleEndian.Uint32(buf[4:8]),
		}, itemNodeEntrySize, nil

	default:
		return nil, 0, fmt.Errorf("unknown page type %s", t)
	}
}
