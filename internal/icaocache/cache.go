// Package icaocache is the time-windowed set of addresses proven valid by
// a recently-decoded format-11/17/18 frame, used to authorize
// residual-recovered addresses from short replies (DF 0/4/5/16/20/21).
//
// Grounded on Regentag-go1090's mode_s.Decoder, which guards exactly this
// decision with a patrickmn/go-cache instance keyed by address string.
package icaocache

import (
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// DefaultTTL is the address-validity window (spec: 60 seconds).
const DefaultTTL = 60 * time.Second

// Cache tracks addresses seen in validated long/explicit-address frames.
type Cache struct {
	c *cache.Cache
}

// New builds a cache with the given TTL and a cleanup sweep at ttl/6
// (matching the teacher's cleanupInterval-proportional-to-ttl pattern).
func New(ttl time.Duration) *Cache {
	cleanup := ttl / 6
	if cleanup <= 0 {
		cleanup = time.Second
	}
	return &Cache{c: cache.New(ttl, cleanup)}
}

func key(addr uint32) string {
	return strconv.FormatUint(uint64(addr), 10)
}

// Add registers addr as validated as of now; it expires after the cache's TTL.
func (c *Cache) Add(addr uint32) {
	c.c.SetDefault(key(addr), struct{}{})
}

// Seen reports whether addr was validated within the TTL window.
func (c *Cache) Seen(addr uint32) bool {
	_, found := c.c.Get(key(addr))
	return found
}

// Len reports the number of currently-cached addresses (test/diagnostic use).
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
