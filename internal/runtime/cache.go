package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	scanerrors "chainscan/internal/errors"
)

// LoadFunc 缓存未命中时的加载函数
type LoadFunc func(ctx context.Context) (interface{}, error)

// Cache 带TTL与过期兜底的读穿缓存
// 同一个key的并发未命中只触发一次加载;刷新失败且存在过期数据时,
// 返回过期数据并附带ErrStaleDataServed供调用方识别
// 时钟通过注入传入,测试可用模拟时钟拨动时间
type Cache struct {
	clk    clock.Clock
	ttl    time.Duration
	logger *logrus.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	value     interface{}
	fetchedAt time.Time
}

// NewCache 创建缓存
func NewCache(ttl time.Duration, clk clock.Clock, logger *logrus.Logger) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{
		clk:     clk,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
	}
}

// Get 读取key对应的值,缺失或过期时调用loader加载
// loader失败时: 有过期数据则返回(过期值, ErrStaleDataServed),否则返回加载错误
func (c *Cache) Get(ctx context.Context, key string, loader LoadFunc) (interface{}, error) {
	if entry, ok := c.lookup(key); ok {
		return entry.value, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// 排队期间可能已被并发加载填充
		if entry, ok := c.lookup(key); ok {
			return entry.value, nil
		}

		value, loadErr := loader(ctx)
		if loadErr != nil {
			c.mu.RLock()
			stale, exists := c.entries[key]
			c.mu.RUnlock()
			if exists {
				c.logger.Warnf("缓存key %s 刷新失败，返回过期数据: %v", key, loadErr)
				return stale.value, scanerrors.WrapError(loadErr,
					scanerrors.ErrorTypeStaleData, scanerrors.SeverityLow,
					"STALE_DATA_SERVED", fmt.Sprintf("key %s 刷新失败,返回过期数据", key))
			}
			return nil, loadErr
		}

		c.mu.Lock()
		c.entries[key] = &cacheEntry{value: value, fetchedAt: c.clk.Now()}
		c.mu.Unlock()
		return value, nil
	})

	return v, err
}

// lookup 查找未过期的条目
func (c *Cache) lookup(key string) (*cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clk.Since(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry, true
}

// Invalidate 移除key对应的条目
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len 当前缓存的条目数,含已过期未清除的
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
