// Package cache 提供执行结果的内存缓存，挡在外部执行服务之前。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// ResultCache 是一个带固定容量和条目寿命的 LRU 缓存。
// 键由 (code, language, input) 三元组构成，值是上一次执行的输出。
//
// 约束：
//   - 过期条目在查找时惰性淘汰
//   - 命中会把条目刷新到最近使用位置
//   - 容量已满时插入新键会淘汰最久未使用的条目
//   - 所有操作并发安全，由单个互斥锁保护
type ResultCache struct {
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // 头部为最近使用
	mu       sync.Mutex

	// 可注入的时钟，测试时替换
	now func() time.Time
}

type cacheEntry struct {
	key    string
	value  string
	expiry time.Time // 绝对过期时刻
}

// NewResultCache 创建 ResultCache 实例。
// capacity 或 ttl 非正数时使用默认值 (1000 条 / 1 小时)。
func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Key 由提交的三元组构造缓存键。
func Key(code, language, input string) string {
	return fmt.Sprintf("%s:%s:%s", language, input, code)
}

// Get 查找缓存。未命中或已过期返回 ("", false)；过期条目当场淘汰。
func (c *ResultCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiry) {
		c.order.Remove(elem)
		delete(c.items, key)
		return "", false
	}
	// 命中，刷新到最近使用位置
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Set 写入缓存。键已存在时替换并刷新寿命；容量已满时先淘汰 LRU 条目。
func (c *ResultCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiry = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		// 淘汰最久未使用的条目
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.order.PushFront(&cacheEntry{
		key:    key,
		value:  value,
		expiry: c.now().Add(c.ttl),
	})
	c.items[key] = elem
}

// Len 返回当前缓存的条目数（含尚未被惰性淘汰的过期条目）。
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
