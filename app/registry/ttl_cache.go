package registry

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// TTLCache 带过期时间的类型化缓存，只在读取时惰性判断过期，不做后台清理
type TTLCache[T any] struct {
	c *cache.Cache
}

// NewTTLCache 创建缓存
func NewTTLCache[T any]() *TTLCache[T] {
	// 清理间隔为 0 时 go-cache 不启动后台清理协程
	return &TTLCache[T]{c: cache.New(cache.NoExpiration, 0)}
}

// Get 读取未过期的值
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set 写入值并设置有效期
func (c *TTLCache[T]) Set(key string, value T, ttl time.Duration) {
	c.c.Set(key, value, ttl)
}

// Delete 删除值
func (c *TTLCache[T]) Delete(key string) {
	c.c.Delete(key)
}

// Items 返回所有未过期的值
func (c *TTLCache[T]) Items() map[string]T {
	items := c.c.Items()
	out := make(map[string]T, len(items))
	now := time.Now().UnixNano()
	for k, item := range items {
		if item.Expiration > 0 && now > item.Expiration {
			continue
		}
		if typed, ok := item.Object.(T); ok {
			out[k] = typed
		}
	}
	return out
}

// GetOrRefresh 命中未过期的缓存直接返回，否则同步调用 probe 并写回缓存。
// 并发的过期读取不会合并，可能各自触发一次 probe。
func (c *TTLCache[T]) GetOrRefresh(key string, ttl time.Duration, probe func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := probe()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
