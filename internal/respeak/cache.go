package respeak

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is used when NewCached gets a non-positive size.
const DefaultCacheSize = 1024

// Cached memoises another Respeaker. Concurrent requests for the same text
// share one call, and the most recently used results are kept up to a fixed
// number of entries. Errors are not cached.
type Cached struct {
	next Respeaker
	size int

	group singleflight.Group

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	text    string
	respeak string
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewCached wraps next with a cache holding at most size entries.
func NewCached(next Respeaker, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cached{
		next:    next,
		size:    size,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Respeak implements Respeaker.
func (c *Cached) Respeak(ctx context.Context, text string) (string, error) {
	if v, ok := c.lookup(text); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	// The shared call must not die with whichever caller started it.
	ch := c.group.DoChan(text, func() (any, error) {
		v, err := c.next.Respeak(context.WithoutCancel(ctx), text)
		if err != nil {
			return "", err
		}
		c.store(text, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Stats returns the current entry count and hit/miss counters.
func (c *Cached) Stats() CacheStats {
	c.mu.Lock()
	n := c.order.Len()
	c.mu.Unlock()
	return CacheStats{Size: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *Cached) lookup(text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[text]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).respeak, true
}

func (c *Cached) store(text, respeak string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[text]; ok {
		el.Value.(*cacheEntry).respeak = respeak
		c.order.MoveToFront(el)
		return
	}
	c.entries[text] = c.order.PushFront(&cacheEntry{text: text, respeak: respeak})
	for c.order.Len() > c.size {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).text)
	}
}
