package embedding

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// Cache is a bounded LRU of embeddings keyed by a hash of the trimmed text.
// It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, []float32]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(text string) ([]float32, bool) {
	return c.entries.Get(cacheKey(text))
}

func (c *Cache) Add(text string, vector []float32) {
	c.entries.Add(cacheKey(text), vector)
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func cacheKey(text string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
