package trie

import (
	"fmt"
	"testing"

	"github.com/nainya/triestore/pkg/tokenize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs every notification as a short string
type recorder struct {
	events []string
	nextID uint32
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) ItemIndexingStarted(item string) error {
	r.add("started %s", item)
	return nil
}

func (r *recorder) ItemWordIndexed(n *Node[string], item string, positions []int) error {
	r.add("indexed %s %s %v", n.Word(), item, positions)
	return nil
}

func (r *recorder) ItemIndexingCompleted(item string) error {
	r.add("completed %s", item)
	return nil
}

func (r *recorder) ItemWordRemoved(n *Node[string], item string) error {
	r.add("removed %s %s", n.Word(), item)
	return nil
}

func (r *recorder) ItemRemovalCompleted(item string) error {
	r.add("removal completed %s", item)
	return nil
}

func (r *recorder) NodeCreated(n *Node[string]) error {
	r.nextID++
	n.SetID(r.nextID)
	r.add("created %s", n.Word())
	return nil
}

func (r *recorder) NodeRemoved(n *Node[string]) error {
	r.add("pruned %c", n.Char())
	return nil
}

func (r *recorder) NodeInvalidating(n *Node[string]) { r.add("invalidating %d", n.ID()) }
func (r *recorder) NodeRestored(n *Node[string])     { r.add("restored %d", n.ID()) }

func TestIndexAndLookup(t *testing.T) {
	tr := New[string](nil)
	require.NoError(t, tr.IndexItem("A", "hello", []int{0}))
	require.NoError(t, tr.IndexItem("A", "help", []int{3, 1, 3}))
	require.NoError(t, tr.IndexItem("B", "hello", []int{2}))

	items, err := tr.Lookup("hello", false)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"A": {0}, "B": {2}}, items)

	items, err = tr.Lookup("help", false)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"A": {1, 3}}, items)

	items, err = tr.Lookup("hel", true)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"A": {0, 1, 3}, "B": {2}}, items)

	items, err = tr.Lookup("hel", false)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = tr.Lookup("world", true)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, tr.IndexItem("A", "", nil), ErrEmptyWord)
}

func TestSingleChildPromotion(t *testing.T) {
	tr := New[string](nil)
	require.NoError(t, tr.IndexItem("A", "ab", []int{0}))
	require.NoError(t, tr.IndexItem("A", "ac", []int{1}))
	require.NoError(t, tr.IndexItem("A", "ad", []int{2}))

	a, err := tr.Find("a")
	require.NoError(t, err)
	children, err := a.Children()
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, []rune{'b', 'c', 'd'}, []rune{children[0].Char(), children[1].Char(), children[2].Char()})

	require.NoError(t, tr.DeindexItem("A"))
	assert.Equal(t, 0, tr.Root().childCount())
}

func TestNotificationOrder(t *testing.T) {
	tr := New[string](nil)
	rec := &recorder{}
	tr.Subscribe(rec)

	require.NoError(t, tr.Index("A", tokenize.Default{}.Tokenize("hi ho hi")))
	assert.Equal(t, []string{
		"started A",
		"created h",
		"created hi",
		"indexed hi A [0 2]",
		"created ho",
		"indexed ho A [1]",
		"completed A",
	}, rec.events)

	// Re-adding known positions is silent
	rec.events = nil
	require.NoError(t, tr.IndexItem("A", "hi", []int{2, 5}))
	assert.Equal(t, []string{"indexed hi A [5]"}, rec.events)

	rec.events = nil
	require.NoError(t, tr.IndexItem("B", "hi", []int{0}))
	require.NoError(t, tr.DeindexItem("A"))
	assert.Contains(t, rec.events, "removed ho A")
	assert.Contains(t, rec.events, "pruned o")
	assert.Contains(t, rec.events, "removed hi A")
	assert.NotContains(t, rec.events, "pruned i")
	assert.NotContains(t, rec.events, "pruned h")
	assert.Equal(t, "removal completed A", rec.events[len(rec.events)-1])
}

func TestDeindexPrunesToRoot(t *testing.T) {
	tr := New[string](nil)
	require.NoError(t, tr.IndexItem("A", "world", []int{1}))
	require.NoError(t, tr.IndexItem("B", "hello", []int{0}))

	require.NoError(t, tr.DeindexItem("A"))
	w, err := tr.Root().Match('w')
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Empty(t, tr.NodesOf("A"))

	// Removing an unknown item still completes
	rec := &recorder{}
	tr.Subscribe(rec)
	require.NoError(t, tr.DeindexItem("missing"))
	assert.Equal(t, []string{"removal completed missing"}, rec.events)
}

func TestParentLinks(t *testing.T) {
	tr := New[string](nil)
	require.NoError(t, tr.IndexItem("A", "ab", []int{0}))

	b, err := tr.Find("ab")
	require.NoError(t, err)
	a := b.Parent()
	require.NotNil(t, a)
	assert.Equal(t, 'a', a.Char())
	assert.Same(t, tr.Root(), a.Parent())
	assert.Nil(t, tr.Root().Parent())
	assert.Equal(t, "ab", b.Word())
}

// mapLoader serves node contents from fixed tables
type mapLoader struct {
	children map[uint32][]Child
	items    map[uint32]map[string][]int
	loads    map[uint32]int
}

func (l *mapLoader) LoadNode(id uint32) ([]Child, map[string][]int, error) {
	l.loads[id]++
	return l.children[id], l.items[id], nil
}

func newLoader() *mapLoader {
	// root -h(1)-> -i(2): "hi" in X at [0, 4]; root -o(3): "o" in Y at [1]
	return &mapLoader{
		children: map[uint32][]Child{
			0: {{Char: 'h', ID: 1}, {Char: 'o', ID: 3}},
			1: {{Char: 'i', ID: 2}},
		},
		items: map[uint32]map[string][]int{
			2: {"X": {4, 0, 4}},
			3: {"Y": {1}},
		},
		loads: make(map[uint32]int),
	}
}

func TestLazyPopulate(t *testing.T) {
	l := newLoader()
	tr := New[string](l)
	rec := &recorder{}
	tr.Subscribe(rec)

	assert.False(t, tr.Root().Populated())
	items, err := tr.Lookup("hi", false)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"X": {0, 4}}, items)
	assert.Equal(t, map[uint32]int{0: 1, 1: 1, 2: 1}, l.loads)
	assert.Equal(t, []string{"restored 0", "restored 1", "restored 2"}, rec.events)

	o, err := tr.Find("o")
	require.NoError(t, err)
	assert.False(t, o.Populated(), "unvisited children stay unloaded")

	// A second lookup does not reload
	_, err = tr.Lookup("hi", false)
	require.NoError(t, err)
	assert.Equal(t, 1, l.loads[2])
	assert.Len(t, tr.NodesOf("X"), 1)
}

func TestClearReloads(t *testing.T) {
	l := newLoader()
	tr := New[string](l)
	rec := &recorder{}
	tr.Subscribe(rec)

	_, err := tr.Lookup("hi", false)
	require.NoError(t, err)
	rec.events = nil

	require.NoError(t, tr.Clear())
	assert.Equal(t, []string{"invalidating 2", "invalidating 1"}, rec.events)
	assert.Empty(t, tr.NodesOf("X"))
	assert.True(t, tr.Root().Populated(), "the root is never cleared")

	items, err := tr.Lookup("hi", false)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"X": {0, 4}}, items)
	assert.Equal(t, 2, l.loads[1])
	assert.Equal(t, 2, l.loads[2])
}

func TestInMemoryClearIsNoop(t *testing.T) {
	tr := New[string](nil)
	require.NoError(t, tr.IndexItem("A", "ab", []int{0}))
	require.NoError(t, tr.Clear())

	items, err := tr.Lookup("ab", false)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"A": {0}}, items)
}

type nodeCounter struct {
	NopObserver[string]
	created, removed int
}

func (c *nodeCounter) NodeCreated(*Node[string]) error {
	c.created++
	return nil
}

func (c *nodeCounter) NodeRemoved(*Node[string]) error {
	c.removed++
	return nil
}

func TestPartialObserver(t *testing.T) {
	tr := New[string](nil)
	c := &nodeCounter{}
	tr.Subscribe(c)

	require.NoError(t, tr.IndexItem("A", "tea", []int{0}))
	require.NoError(t, tr.IndexItem("A", "ten", []int{1}))
	assert.Equal(t, 4, c.created)

	require.NoError(t, tr.DeindexItem("A"))
	assert.Equal(t, 4, c.removed)
}
