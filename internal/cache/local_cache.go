package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地内存过期存储
//
// 特点：
// - 单实例一把互斥锁，读取续期与删除之间不会出现半更新状态
// - 过期条目在访问时惰性清理，Len 在下一次清理前可能偏大
// - 可选后台清理协程，用于需要精确计数的场景
type LocalCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[V]
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	ttl       time.Duration
	sliding   bool
	expiresAt time.Time
}

// Option LocalCache 构造选项
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换时间来源，主要用于测试
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewLocalCache 创建本地过期存储
func NewLocalCache[V any](opts ...Option) *LocalCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &LocalCache[V]{
		entries: make(map[string]*cacheEntry[V]),
		now:     o.now,
	}
}

// Set 写入条目，覆盖已存在的同名条目
func (c *LocalCache[V]) Set(key string, value V, exp Expiration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry[V]{
		value:     value,
		ttl:       exp.ttl,
		sliding:   exp.sliding,
		expiresAt: c.now().Add(exp.ttl),
	}
	return nil
}

// TryGet 读取条目
//
// 滑动条目读取成功后截止时间更新为 now + ttl；已过期条目被删除并返回未找到。
func (c *LocalCache[V]) TryGet(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	now := c.now()
	if !now.Before(entry.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}

	if entry.sliding {
		entry.expiresAt = now.Add(entry.ttl)
	}

	return entry.value, true
}

// Remove 删除条目
func (c *LocalCache[V]) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len 返回当前条目数（包含尚未被清理的过期条目）
func (c *LocalCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys 列出所有未过期的键，不会触发续期
func (c *LocalCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if now.Before(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Purge 删除所有已过期条目，返回删除数量
func (c *LocalCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper 启动定期清理协程，ctx 取消后退出
func (c *LocalCache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Purge()
			}
		}
	}()
}
