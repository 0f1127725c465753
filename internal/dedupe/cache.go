// ABOUTME: Thread-safe TTL cache that remembers recently seen keys
// ABOUTME: Lets the message router drop frames the broker redelivers after a reconnect

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable] struct {
	key    K
	seenAt time.Time
}

// Cache remembers keys for a bounded time and a bounded count. When full,
// the least recently marked key is forgotten first.
type Cache[K comparable] struct {
	mu      sync.Mutex
	index   map[K]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	sweepEvery time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

// Option configures a Cache.
type Option[K comparable] func(*Cache[K])

// WithClock replaces time.Now, mainly for tests.
func WithClock[K comparable](now func() time.Time) Option[K] {
	return func(c *Cache[K]) { c.now = now }
}

// WithSweepInterval sets how often expired keys are purged in the background.
// Zero disables the sweeper; expired keys are then only dropped lazily.
func WithSweepInterval[K comparable](d time.Duration) Option[K] {
	return func(c *Cache[K]) { c.sweepEvery = d }
}

// New creates a cache holding at most maxSize keys, each for ttl.
// A maxSize of zero or less means unbounded.
func New[K comparable](ttl time.Duration, maxSize int, opts ...Option[K]) *Cache[K] {
	c := &Cache[K]{
		index:      make(map[K]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxSize:    maxSize,
		now:        time.Now,
		sweepEvery: time.Minute,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepEvery > 0 {
		go c.sweep()
	}
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// Remember marks key as seen now, refreshing it if already present.
func (c *Cache[K]) Remember(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(key, c.now())
}

// Observe atomically checks and marks key. It returns true when key was
// already live, meaning the caller holds a duplicate.
func (c *Cache[K]) Observe(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(key, now) {
		return true
	}
	c.rememberLocked(key, now)
	return false
}

// Forget drops key so the next Observe treats it as new.
func (c *Cache[K]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

// Reset forgets every key.
func (c *Cache[K]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of keys held, expired or not.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache[K]) liveLocked(key K, now time.Time) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	return now.Sub(el.Value.(*entry[K]).seenAt) < c.ttl
}

func (c *Cache[K]) rememberLocked(key K, now time.Time) {
	if el, ok := c.index[key]; ok {
		el.Value.(*entry[K]).seenAt = now
		c.order.MoveToBack(el)
		return
	}

	if c.maxSize > 0 && len(c.index) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.index, front.Value.(*entry[K]).key)
		}
	}

	c.index[key] = c.order.PushBack(&entry[K]{key: key, seenAt: now})
}

func (c *Cache[K]) sweep() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.done:
			return
		}
	}
}

// purgeExpired walks from the oldest entry and stops at the first live one,
// since entries are ordered by their last mark.
func (c *Cache[K]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry[K])
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, e.key)
		el = next
	}
}

// Close stops the background sweeper. It is safe to call more than once.
func (c *Cache[K]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
