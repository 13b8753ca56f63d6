package cache

import (
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Size() int
}

// InMemoryCache 带 TTL 的内存缓存
type InMemoryCache[K comparable, V any] struct {
	items      map[K]cacheItem[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
	now        func() time.Time

	stopC    chan struct{}
	stopOnce sync.Once
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache cleanupEvery > 0 时启动后台清理，用完需要 Close
func NewInMemoryCache[K comparable, V any](defaultTTL, cleanupEvery time.Duration) *InMemoryCache[K, V] {
	c := &InMemoryCache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stopC:      make(chan struct{}),
	}
	if cleanupEvery > 0 {
		go c.startCleanup(cleanupEvery)
	}
	return c
}

// SetClock 测试用
func (c *InMemoryCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get 过期项视为不存在
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	if !ok || c.now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set ttl 为 0 时使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.items[key] = cacheItem[V]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Size 包含尚未清理的过期项
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close 停止后台清理
func (c *InMemoryCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stopC) })
}

func (c *InMemoryCache[K, V]) startCleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopC:
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Cleanup 删除过期项，返回删除数量
func (c *InMemoryCache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			n++
		}
	}
	return n
}
