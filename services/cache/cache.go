package cache

// Cache is a TTL and capacity bounded key-value store.
// Values are never mutated in place; Set replaces the whole entry.
type Cache[V any] interface {
	// Get retrieves a live value from the cache
	Get(key string) (V, bool)

	// Set stores a value, evicting the least recently used entry when full
	Set(key string, value V)

	// Delete removes a value from the cache
	Delete(key string)

	// Stats reports counters for health output
	Stats() Stats
}

// Stats holds cache counters
type Stats struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	TTLMs    int64  `json:"ttlMs"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Removed  uint64 `json:"removed"`
}
