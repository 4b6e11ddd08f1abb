package utils

import (
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// 圈子帖子流每次读取都要重建整棵回应树，是最热的读路径。
// 条目按 TTL 过期，发帖/回复/移动/AI 回应落地时主动失效。
const feedCacheSize = 256

// CacheItem 缓存值与其过期时刻
type CacheItem struct {
	Data      interface{}
	ExpiresAt time.Time
}

// GlobalCache 进程内 TTL LRU 缓存
type GlobalCache struct {
	entries *lru.Cache[string, CacheItem]
}

var cacheInstance *GlobalCache

// GetCache 获取单例缓存实例
func GetCache() *GlobalCache {
	if cacheInstance == nil {
		entries, err := lru.New[string, CacheItem](feedCacheSize)
		if err != nil {
			log.Fatalf("Failed to create LRU cache: %v", err)
		}
		cacheInstance = &GlobalCache{entries: entries}
	}
	return cacheInstance
}

// CirclePostsCacheKey 圈子帖子流的缓存键。写路径和调度器失效时共用
func CirclePostsCacheKey(circleID uint) string {
	return fmt.Sprintf("circle_posts_%d", circleID)
}

// Set 写入缓存，ttl 后过期
func (c *GlobalCache) Set(key string, data interface{}, ttl time.Duration) {
	c.entries.Add(key, CacheItem{
		Data:      data,
		ExpiresAt: time.Now().Add(ttl),
	})
}

// Get 读取缓存；不存在或已过期返回 nil，过期条目顺手清掉
func (c *GlobalCache) Get(key string) interface{} {
	item, ok := c.entries.Get(key)
	if !ok {
		return nil
	}
	if time.Now().After(item.ExpiresAt) {
		c.entries.Remove(key)
		return nil
	}
	return item.Data
}

// Delete 删除指定缓存
func (c *GlobalCache) Delete(key string) {
	c.entries.Remove(key)
}
