package index

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nainya/triestore/internal/metrics"
	"github.com/nainya/triestore/pkg/lock"
	"github.com/nainya/triestore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.PageSize = 256
	opts.GrowPageCount = 4
	opts.CachePageLimit = 8
	opts.Buffered = false
	return opts
}

func indexPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.idx")
}

func openIndex(t *testing.T, path string, opts Options) *Index[string] {
	t.Helper()
	ix, err := Open[string](path, storage.StringKeys{}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

// storedEdges returns the characters of the edges stored for node id
func storedEdges(t *testing.T, ix *Index[string], id uint32) []rune {
	t.Helper()
	entries, err := ix.em.GetIndexNodeEntries(id)
	require.NoError(t, err)
	var out []rune
	for _, e := range entries {
		if ref, ok := e.(storage.NodeRefEntry); ok {
			out = append(out, ref.Char)
		}
	}
	slices.Sort(out)
	return out
}

func assertNoOrphans(t *testing.T, ix *Index[string]) {
	t.Helper()
	pm := ix.pm
	live := pm.PageCount(storage.PageItems) + pm.PageCount(storage.PageIndexNode) + pm.PageCount(storage.PageItemNodeIndex)
	assert.Equal(t, pm.TotalPageCount(), pm.UnusedPageCount()+live)
}

func TestSingleItem(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())

	require.NoError(t, ix.Index("Test", "Test"))

	keys, err := ix.Search("Test")
	require.NoError(t, err)
	assert.Equal(t, []string{"Test"}, keys)

	ok, err := ix.Contains("Test")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemovePrunesOrphanedBranch(t *testing.T) {
	for _, evict := range []bool{false, true} {
		t.Run(fmt.Sprintf("evict=%v", evict), func(t *testing.T) {
			ix := openIndex(t, indexPath(t), testOptions())
			require.NoError(t, ix.Index("A", "hello world"))
			require.NoError(t, ix.Index("B", "hello there"))

			keys, err := ix.Search("hello")
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, keys)
			assert.Equal(t, []rune{'h', 't', 'w'}, storedEdges(t, ix, 0))

			if evict {
				require.NoError(t, ix.Evict())
			}
			require.NoError(t, ix.Remove("A"))

			keys, err = ix.Search("hello")
			require.NoError(t, err)
			assert.Equal(t, []string{"B"}, keys)

			keys, err = ix.Search("world")
			require.NoError(t, err)
			assert.Empty(t, keys)

			assert.Equal(t, []rune{'h', 't'}, storedEdges(t, ix, 0))
			w, err := ix.trie.Root().Match('w')
			require.NoError(t, err)
			assert.Nil(t, w)
			assertNoOrphans(t, ix)
		})
	}
}

func TestRemoveUnknownKey(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	assert.ErrorIs(t, ix.Remove("nope"), ErrNotIndexed)
}

func TestRemoveLastItemLeavesEmptyIndex(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	require.NoError(t, ix.Index("A", "one two three"))
	require.NoError(t, ix.Remove("A"))

	assert.Empty(t, storedEdges(t, ix, 0))
	assert.Equal(t, 0, ix.em.ItemCount())
	for _, typ := range []storage.PageType{storage.PageItems, storage.PageIndexNode, storage.PageItemNodeIndex} {
		assert.Equal(t, 1, ix.pm.PageCount(typ), "last page of %v is kept", typ)
	}
	assertNoOrphans(t, ix)
}

func TestSearchSemantics(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	_, err := ix.IndexAll(maps.All(map[string]string{
		"a": "Hello there, world",
		"b": "help is on the way",
		"c": "HELLO again",
	}))
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{"hello", []string{"a", "c"}},
		{"HeLLo", []string{"a", "c"}},
		{"hel", nil},
		{"hel*", []string{"a", "b", "c"}},
		{"hello world", []string{"a"}},
		{"hel* the*", []string{"a", "b"}},
		{"hello missing", nil},
		{"", nil},
		{"  ,  ", nil},
	}
	for _, tc := range tests {
		got, err := ix.Search(tc.query)
		require.NoError(t, err, tc.query)
		got = slices.Sorted(slices.Values(got))
		if tc.want == nil {
			assert.Empty(t, got, tc.query)
			continue
		}
		assert.Equal(t, tc.want, got, tc.query)
	}
}

func TestResultsInIndexingOrder(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	for _, key := range []string{"z", "m", "a"} {
		require.NoError(t, ix.Index(key, "common"))
	}
	keys, err := ix.Search("common")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m", "a"}, keys)

	all, err := ix.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m", "a"}, all)
}

func TestReindexReplacesText(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	require.NoError(t, ix.Index("A", "hello world"))
	require.NoError(t, ix.Index("A", "goodbye"))

	keys, err := ix.Search("hello")
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = ix.Search("goodbye")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)

	n, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []rune{'g'}, storedEdges(t, ix, 0))
}

func TestReindexIsIdempotent(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	require.NoError(t, ix.Index("A", "alpha beta alpha"))
	require.NoError(t, ix.Index("B", "beta gamma"))
	stats, err := ix.Stats()
	require.NoError(t, err)
	nextNode := ix.pm.NextIndexNodeID()

	require.NoError(t, ix.Index("A", "alpha beta alpha"))

	again, err := ix.Stats()
	require.NoError(t, err)
	assert.Equal(t, stats.Items, again.Items)
	assert.Equal(t, stats.ResidentNodes, again.ResidentNodes)
	assert.Equal(t, nextNode, ix.pm.NextIndexNodeID(), "node ids are recycled")

	items, err := ix.trie.Lookup("alpha", false)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"A": {0, 2}}, items)
}

func TestReopenRoundTrip(t *testing.T) {
	for _, buffered := range []bool{false, true} {
		t.Run(fmt.Sprintf("buffered=%v", buffered), func(t *testing.T) {
			path := indexPath(t)
			opts := testOptions()
			opts.Buffered = buffered

			docs := make(map[string]string)
			for i := range 60 {
				docs[fmt.Sprintf("doc-%02d", i)] = fmt.Sprintf("word%d shared group%d tail", i, i%5)
			}
			queries := []string{"shared", "group3", "word4*", "group1 tail", "word59", "absent"}

			ix := openIndex(t, path, opts)
			_, err := ix.IndexAll(maps.All(docs))
			require.NoError(t, err)
			require.NoError(t, ix.Remove("doc-07"))
			want := make(map[string][]string)
			for _, q := range queries {
				want[q], err = ix.Search(q)
				require.NoError(t, err)
			}
			assert.Len(t, want["shared"], 59)
			require.NoError(t, ix.Close())

			ix = openIndex(t, path, opts)
			assert.False(t, ix.pm.LastRollback().Performed())
			n, err := ix.Count()
			require.NoError(t, err)
			assert.Equal(t, 59, n)
			for _, q := range queries {
				got, err := ix.Search(q)
				require.NoError(t, err)
				assert.Equal(t, want[q], got, q)
			}
			assertNoOrphans(t, ix)
		})
	}
}

func TestEvictReloadsFromFile(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	require.NoError(t, ix.Index("A", "apple apricot"))
	require.NoError(t, ix.Index("B", "banana"))

	before, err := ix.Stats()
	require.NoError(t, err)
	require.NoError(t, ix.Evict())
	after, err := ix.Stats()
	require.NoError(t, err)
	assert.Less(t, after.ResidentNodes, before.ResidentNodes)

	keys, err := ix.Search("ap*")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)

	// Indexing below evicted nodes extends the stored branch
	require.NoError(t, ix.Evict())
	require.NoError(t, ix.Index("C", "applesauce"))
	assert.Equal(t, []rune{'a', 'b'}, storedEdges(t, ix, 0))
	keys, err = ix.Search("apple*")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, keys)
}

func TestConcurrentSearches(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	for i := range 20 {
		require.NoError(t, ix.Index(fmt.Sprintf("k%d", i), fmt.Sprintf("term%d common", i)))
	}
	require.NoError(t, ix.Evict())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := ix.Search(fmt.Sprintf("term%d common", g))
			if err != nil {
				errs <- err
				return
			}
			if len(keys) != 1 || keys[0] != fmt.Sprintf("k%d", g) {
				errs <- fmt.Errorf("query %d: got %v", g, keys)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSearchCacheClearedOnWrite(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	keys, err := ix.Search("fresh")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, ix.Index("A", "fresh"))
	keys, err = ix.Search("fresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)

	// Callers cannot corrupt cached results
	keys[0] = "mutated"
	keys, err = ix.Search("fresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)
}

func TestLockModes(t *testing.T) {
	var reads, writes atomic.Int32
	locks := lock.NewRWManager()
	locks.OnAcquired = func(m lock.Mode) {
		if m == lock.Write {
			writes.Add(1)
		} else {
			reads.Add(1)
		}
	}
	opts := testOptions()
	opts.Locks = locks
	ix := openIndex(t, indexPath(t), opts)

	require.NoError(t, ix.Index("A", "x"))
	_, err := ix.Search("x")
	require.NoError(t, err)
	_, err = ix.Contains("A")
	require.NoError(t, err)

	assert.Equal(t, int32(1), writes.Load())
	assert.Equal(t, int32(2), reads.Load())
}

func TestClosedIndex(t *testing.T) {
	ix := openIndex(t, indexPath(t), testOptions())
	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	assert.ErrorIs(t, ix.Index("A", "x"), ErrClosed)
	assert.ErrorIs(t, ix.Remove("A"), ErrClosed)
	_, err := ix.Search("x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ix.Count()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ix.Evict(), ErrClosed)
}

func TestSecondOpenIsLocked(t *testing.T) {
	path := indexPath(t)
	openIndex(t, path, testOptions())
	_, err := Open[string](path, storage.StringKeys{}, testOptions())
	assert.ErrorIs(t, err, storage.ErrFileLocked)
}

func TestIntegerKeys(t *testing.T) {
	path := indexPath(t)
	ix, err := Open[uint32](path, storage.Uint32Keys{}, testOptions())
	require.NoError(t, err)
	require.NoError(t, ix.Index(7, "seven"))
	require.NoError(t, ix.Index(3, "three seven"))
	require.NoError(t, ix.Close())

	ix, err = Open[uint32](path, storage.Uint32Keys{}, testOptions())
	require.NoError(t, err)
	defer ix.Close()
	keys, err := ix.Search("seven")
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 3}, keys)
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.NewMetrics(nil)
	opts := testOptions()
	opts.Metrics = m
	ix := openIndex(t, indexPath(t), opts)

	require.NoError(t, ix.Index("A", "one"))
	require.NoError(t, ix.Index("B", "two"))
	assert.ErrorIs(t, ix.Remove("C"), ErrNotIndexed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexedItems))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexOperationsTotal.WithLabelValues("index", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexOperationsTotal.WithLabelValues("remove", "error")))
}

func TestRemoveWithSingleCachedPage(t *testing.T) {
	for _, buffered := range []bool{false, true} {
		t.Run(fmt.Sprintf("buffered=%v", buffered), func(t *testing.T) {
			opts := testOptions()
			opts.CachePageLimit = 1
			opts.Buffered = buffered
			ix := openIndex(t, indexPath(t), opts)

			words := make([]string, 120)
			for i := range words {
				words[i] = fmt.Sprintf("w%03d", i)
			}
			require.NoError(t, ix.Index("A", "keep"))
			require.NoError(t, ix.Index("B", strings.Join(words, " ")))
			id, ok := ix.em.ItemID("B")
			require.True(t, ok)

			require.NoError(t, ix.Evict())
			require.NoError(t, ix.Remove("B"))

			rest, err := ix.em.ItemNodeIDs(id)
			require.NoError(t, err)
			assert.Empty(t, rest)

			keys, err := ix.Search("w0*")
			require.NoError(t, err)
			assert.Empty(t, keys)
			keys, err = ix.Search("keep")
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, keys)
			assertNoOrphans(t, ix)
		})
	}
}
