package metadata

import (
	"sync"
	"time"

	"github.com/soycharroup/memoryreel/internal/content"
)

type (
	cacheEntry struct {
		metadata  *content.Metadata
		expiresAt time.Time
	}

	// Cache stores extracted metadata keyed by content checksum so that
	// re-submissions of byte-identical payloads (retries, duplicate uploads)
	// skip the extraction work entirely. Entries expire after the configured
	// TTL; expired entries are dropped lazily on lookup.
	Cache struct {
		mutex   sync.Mutex
		ttl     time.Duration
		entries map[string]cacheEntry
	}
)

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// RetrieveItem returns the metadata cached for the checksum provided, or nil
// if no live entry exists.
func (cache *Cache) RetrieveItem(checksum string) *content.Metadata {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	entry, ok := cache.entries[checksum]
	if !ok {
		return nil
	}

	if time.Now().After(entry.expiresAt) {
		delete(cache.entries, checksum)
		return nil
	}

	return entry.metadata
}

// PushItem stores metadata for the given checksum, overwriting any data
// already stored at that key and resetting its expiry.
func (cache *Cache) PushItem(checksum string, metadata *content.Metadata) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	cache.entries[checksum] = cacheEntry{
		metadata:  metadata,
		expiresAt: time.Now().Add(cache.ttl),
	}
}

// DeleteItem removes the cache data at the key provided, returning true if
// an item was deleted and false if there was no data to delete.
func (cache *Cache) DeleteItem(checksum string) bool {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if _, ok := cache.entries[checksum]; !ok {
		return false
	}

	delete(cache.entries, checksum)
	return true
}

func (cache *Cache) Len() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return len(cache.entries)
}
