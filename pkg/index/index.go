// Package index is a full-text index over keyed items persisted in a single
// paged file. Words live in a character trie whose nodes load from the file
// on demand.
package index

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/nainya/triestore/internal/logger"
	"github.com/nainya/triestore/internal/metrics"
	"github.com/nainya/triestore/pkg/lock"
	"github.com/nainya/triestore/pkg/storage"
	"github.com/nainya/triestore/pkg/tokenize"
	"github.com/nainya/triestore/pkg/trie"
	"github.com/rs/zerolog"
)

// DefaultSearchCacheSize is the number of query results kept by default
const DefaultSearchCacheSize = 1024

// Options configures an Index
type Options struct {
	PageSize       int  // bytes per page (default: 4096)
	GrowPageCount  int  // pages added when the file grows (default: 16)
	CachePageLimit int  // decoded pages kept in memory
	Buffered       bool // batch each operation's writes behind the transaction log

	// SearchCacheSize bounds the memoized query results; 0 disables the cache
	SearchCacheSize int64

	Tokenizer tokenize.Tokenizer // default: tokenize.Default
	Locks     lock.Manager       // default: a new lock.RWManager
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// DefaultOptions returns buffered options with the default page geometry
func DefaultOptions() Options {
	return Options{
		PageSize:        storage.DefaultPageSize,
		GrowPageCount:   storage.DefaultGrowPageCount,
		CachePageLimit:  storage.DefaultCachePageLimit,
		Buffered:        true,
		SearchCacheSize: DefaultSearchCacheSize,
	}
}

// Index is a persisted full-text index. All methods are safe for concurrent
// use: searches share the lock manager's read lock, changes take its write
// lock.
type Index[K comparable] struct {
	path      string
	locks     lock.Manager
	tokenizer tokenize.Tokenizer
	logger    *logger.Logger
	log       zerolog.Logger
	metrics   *metrics.Metrics

	pm        *storage.PageManager
	em        *storage.EntryManager[K]
	trie      *trie.Trie[K]
	persister *persister[K]
	results   *ristretto.Cache[string, []K]

	closed bool
}

// Open opens or creates the index file at path. keys serializes the item
// keys stored in the file.
func Open[K comparable](path string, keys storage.KeySerializer[K], opts Options) (*Index[K], error) {
	if opts.Tokenizer == nil {
		opts.Tokenizer = tokenize.Default{}
	}
	if opts.Locks == nil {
		opts.Locks = lock.NewRWManager()
	}

	pm := storage.NewPageManager(path, storage.Options{
		PageSize:       opts.PageSize,
		GrowPageCount:  opts.GrowPageCount,
		CachePageLimit: opts.CachePageLimit,
		Buffered:       opts.Buffered,
		KeyLength:      storage.KeyLength(keys),
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	})
	if err := pm.Initialize(); err != nil {
		return nil, err
	}
	em, err := storage.NewEntryManager(pm, keys)
	if err != nil {
		return nil, errors.Join(err, pm.Close())
	}

	ix := &Index[K]{
		path:      path,
		locks:     opts.Locks,
		tokenizer: opts.Tokenizer,
		logger:    opts.Logger,
		log:       opts.Logger.IndexLogger(path),
		metrics:   opts.Metrics,
		pm:        pm,
		em:        em,
	}
	ix.persister = newPersister(pm, em, ix.log)
	ix.trie = trie.New[K](ix.persister)
	ix.trie.Subscribe(ix.persister)
	ix.persister.trie = ix.trie
	ix.persister.resident[0] = ix.trie.Root()

	if opts.SearchCacheSize > 0 {
		ix.results, err = ristretto.NewCache(&ristretto.Config[string, []K]{
			NumCounters: opts.SearchCacheSize * 10,
			MaxCost:     opts.SearchCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("create search cache: %w", err), pm.Close())
		}
	}

	ix.log.Info().
		Int("items", em.ItemCount()).
		Int("pages", pm.TotalPageCount()).
		Bool("buffered", opts.Buffered).
		Msg("Opened index")
	ix.updateStats()
	return ix, nil
}

// Index replaces whatever key was indexed with before by the words of text
func (ix *Index[K]) Index(key K, text string) (err error) {
	start := time.Now()
	defer func() { ix.observe("index", start, 1, err) }()

	h := ix.locks.AcquireWrite()
	defer h.Release()
	if ix.closed {
		return ErrClosed
	}
	defer ix.changed()
	return ix.indexLocked(key, text)
}

// IndexAll indexes every key and text of docs under one write lock and
// returns how many were indexed before the first error
func (ix *Index[K]) IndexAll(docs iter.Seq2[K, string]) (n int, err error) {
	start := time.Now()
	defer func() { ix.observe("index_all", start, n, err) }()

	h := ix.locks.AcquireWrite()
	defer h.Release()
	if ix.closed {
		return 0, ErrClosed
	}
	defer ix.changed()
	for key, text := range docs {
		if err := ix.indexLocked(key, text); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (ix *Index[K]) indexLocked(key K, text string) error {
	if _, ok := ix.em.ItemID(key); ok {
		if err := ix.removeLocked(key); err != nil {
			return err
		}
	}
	return ix.trie.Index(key, ix.tokenizer.Tokenize(text))
}

// Remove drops key from the index
func (ix *Index[K]) Remove(key K) (err error) {
	start := time.Now()
	defer func() { ix.observe("remove", start, 1, err) }()

	h := ix.locks.AcquireWrite()
	defer h.Release()
	if ix.closed {
		return ErrClosed
	}
	if _, ok := ix.em.ItemID(key); !ok {
		return ErrNotIndexed
	}
	defer ix.changed()
	return ix.removeLocked(key)
}

func (ix *Index[K]) removeLocked(key K) error {
	return ix.trie.DeindexItem(key)
}

// Search returns the keys holding every word of query, in indexing order.
// A word ending in * matches every indexed word it is a prefix of.
func (ix *Index[K]) Search(query string) (keys []K, err error) {
	start := time.Now()
	defer func() { ix.observe("search", start, len(keys), err) }()

	h := ix.locks.AcquireRead()
	defer h.Release()
	if ix.closed {
		return nil, ErrClosed
	}

	if ix.results != nil {
		if cached, ok := ix.results.Get(query); ok {
			return slices.Clone(cached), nil
		}
	}

	keys, err = ix.search(query)
	if err != nil {
		return nil, err
	}
	if ix.results != nil {
		ix.results.Set(query, slices.Clone(keys), 1)
		ix.results.Wait()
	}
	return keys, nil
}

type term struct {
	word   string
	prefix bool
}

func (ix *Index[K]) parse(query string) []term {
	var terms []term
	for _, field := range strings.Fields(query) {
		prefix := strings.HasSuffix(field, "*")
		tokens := ix.tokenizer.Tokenize(strings.TrimRight(field, "*"))
		for i, tok := range tokens {
			terms = append(terms, term{word: tok.Word, prefix: prefix && i == len(tokens)-1})
		}
	}
	return terms
}

func (ix *Index[K]) search(query string) ([]K, error) {
	terms := ix.parse(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var matched map[K]struct{}
	for _, t := range terms {
		items, err := ix.trie.Lookup(t.word, t.prefix)
		if err != nil {
			return nil, err
		}
		next := make(map[K]struct{}, len(items))
		for key := range items {
			if _, ok := matched[key]; matched == nil || ok {
				next[key] = struct{}{}
			}
		}
		matched = next
		if len(matched) == 0 {
			return nil, nil
		}
	}

	ids := make([]uint32, 0, len(matched))
	for key := range matched {
		id, _ := ix.em.ItemID(key)
		ids = append(ids, id)
	}
	slices.Sort(ids)
	keys := make([]K, len(ids))
	for i, id := range ids {
		keys[i], _ = ix.em.ItemKey(id)
	}
	return keys, nil
}

// Contains reports whether key is indexed
func (ix *Index[K]) Contains(key K) (bool, error) {
	h := ix.locks.AcquireRead()
	defer h.Release()
	if ix.closed {
		return false, ErrClosed
	}
	_, ok := ix.em.ItemID(key)
	return ok, nil
}

// Count returns the number of indexed keys
func (ix *Index[K]) Count() (int, error) {
	h := ix.locks.AcquireRead()
	defer h.Release()
	if ix.closed {
		return 0, ErrClosed
	}
	return ix.em.ItemCount(), nil
}

// Keys returns every indexed key in indexing order
func (ix *Index[K]) Keys() ([]K, error) {
	h := ix.locks.AcquireRead()
	defer h.Release()
	if ix.closed {
		return nil, ErrClosed
	}
	ids := ix.em.ItemIDs()
	keys := make([]K, len(ids))
	for i, id := range ids {
		keys[i], _ = ix.em.ItemKey(id)
	}
	return keys, nil
}

// Evict drops every trie node below the root from memory. They reload from
// the file on the next search.
func (ix *Index[K]) Evict() (err error) {
	start := time.Now()
	defer func() { ix.observe("evict", start, 0, err) }()

	h := ix.locks.AcquireWrite()
	defer h.Release()
	if ix.closed {
		return ErrClosed
	}
	before := ix.persister.residentCount()
	if err := ix.trie.Clear(); err != nil {
		return err
	}
	ix.log.Debug().
		Int("before", before).
		Int("after", ix.persister.residentCount()).
		Msg("Evicted resident nodes")
	ix.updateStats()
	return nil
}

// Stats describes the state of an open index
type Stats struct {
	Items         int
	ResidentNodes int
	TotalPages    int
	UnusedPages   int
	CachedPages   int
}

// Stats returns counters of the index and its file
func (ix *Index[K]) Stats() (Stats, error) {
	h := ix.locks.AcquireRead()
	defer h.Release()
	if ix.closed {
		return Stats{}, ErrClosed
	}
	return Stats{
		Items:         ix.em.ItemCount(),
		ResidentNodes: ix.persister.residentCount(),
		TotalPages:    ix.pm.TotalPageCount(),
		UnusedPages:   ix.pm.UnusedPageCount(),
		CachedPages:   ix.pm.Cache().PageCount(),
	}, nil
}

// Close flushes pending writes and closes the file
func (ix *Index[K]) Close() error {
	h := ix.locks.AcquireWrite()
	defer h.Release()
	if ix.closed {
		return nil
	}
	ix.closed = true
	if ix.results != nil {
		ix.results.Close()
	}
	err := ix.pm.Close()
	ix.log.Info().Err(err).Msg("Closed index")
	return err
}

// changed runs after every write: cached results may be stale
func (ix *Index[K]) changed() {
	if ix.results != nil {
		ix.results.Clear()
	}
	ix.updateStats()
}

func (ix *Index[K]) updateStats() {
	ix.metrics.UpdateIndexStats(ix.em.ItemCount(), ix.persister.residentCount())
}

func (ix *Index[K]) observe(op string, start time.Time, count int, err error) {
	d := time.Since(start)
	ix.metrics.RecordIndexOperation(op, err, d)
	ix.logger.LogIndexOperation(op, d, count, err)
}
