// ABOUTME: Tests for the page cache
// ABOUTME: Verifies eviction order and header bookkeeping

package storage

import (
	"testing"
	"time"

	"github.com/nainya/triestore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedTestPage(n int32) *DataPage {
	return &DataPage{Header: newPageHeader(n, PageItems)}
}

func TestCacheEvictionOrder(t *testing.T) {
	m := metrics.NewMetrics(nil)
	c := NewPageCache(2, m)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.CachePage(cachedTestPage(1))
	c.CachePage(cachedTestPage(2))
	_, ok := c.GetPage(2)
	require.True(t, ok)

	// Same access second: fewer accesses goes first
	c.CachePage(cachedTestPage(3))
	_, ok = c.GetPage(1)
	assert.False(t, ok)

	// Older access goes first
	now = now.Add(5 * time.Second)
	_, ok = c.GetPage(2)
	require.True(t, ok)
	c.CachePage(cachedTestPage(4))
	_, ok = c.GetPage(3)
	assert.False(t, ok)
	_, ok = c.GetPage(4)
	assert.True(t, ok)
	assert.Equal(t, 2, c.PageCount())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheEvictionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheMissesTotal))
}

func TestCacheEvictionTieBreaksOnPageNumber(t *testing.T) {
	c := NewPageCache(2, nil)
	c.now = func() time.Time { return time.Unix(50, 0) }

	c.CachePage(cachedTestPage(6))
	c.CachePage(cachedTestPage(5))
	c.CachePage(cachedTestPage(7))

	_, ok := c.GetPage(5)
	assert.False(t, ok)
	_, ok = c.GetPage(6)
	assert.True(t, ok)
}

func TestCacheReplaceAndPurge(t *testing.T) {
	c := NewPageCache(4, nil)

	old := cachedTestPage(1)
	c.CachePage(old)
	fresh := cachedTestPage(1)
	c.CachePage(fresh)
	got, ok := c.GetPage(1)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, 1, c.PageCount())

	c.CacheHeader(fresh.Header)
	h, ok := c.GetHeader(1)
	require.True(t, ok)
	assert.Same(t, fresh.Header, h)

	c.PurgePages(1)
	c.PurgeHeaders(1)
	_, ok = c.GetPage(1)
	assert.False(t, ok)
	_, ok = c.GetHeader(1)
	assert.False(t, ok)
}
