package cache

import (
	"errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"sync"
	"time"
)

// LRU is a size-bounded cache whose entries also lapse after sitting unused
// for idleTTL. It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	c       *lru.Cache[K, item[V]]
	mu      sync.Mutex
	idleTTL time.Duration
	now     func() time.Time
}
type item[V any] struct {
	val        V
	lastAccess time.Time
}

func NewLRU[K comparable, V any](size int, idleTTL time.Duration) (*LRU[K, V], error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[K, item[V]](size)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{c: c, idleTTL: idleTTL, now: time.Now}, nil
}
func (l *LRU[K, V]) expired(it item[V], now time.Time) bool {
	return l.idleTTL > 0 && now.Sub(it.lastAccess) > l.idleTTL
}
// GetOrAdd returns the live value for key, creating it with mk when absent.
// Adding may evict the least recently used entry.
func (l *LRU[K, V]) GetOrAdd(key K, mk func() V) V {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if it, ok := l.c.Get(key); ok && !l.expired(it, now) {
		it.lastAccess = now
		l.c.Add(key, it)
		return it.val
	}
	v := mk()
	l.c.Add(key, item[V]{val: v, lastAccess: now})
	return v
}
func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Len()
}

// PurgeExpired drops idle entries and reports how many it removed.
func (l *LRU[K, V]) PurgeExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for _, k := range l.c.Keys() {
		if it, ok := l.c.Peek(k); ok && l.expired(it, now) {
			l.c.Remove(k)
			removed++
		}
	}
	return removed
}
