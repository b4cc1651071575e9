package api

import (
	"time"

	"github.com/maypok86/otter"
)

// ResponseCache is a small TTL cache for the last-by-target endpoint, keyed
// by region filter. Dashboards poll that endpoint aggressively; a short TTL
// keeps the datastore out of the hot path without serving stale state.
type ResponseCache struct {
	cache otter.Cache[string, []MeasurementDTO]
}

// NewResponseCache creates a cache holding up to maxEntries region views for
// ttl each.
func NewResponseCache(maxEntries int, ttl time.Duration) *ResponseCache {
	cache, err := otter.MustBuilder[string, []MeasurementDTO](maxEntries).
		Cost(func(_ string, _ []MeasurementDTO) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		panic("api: failed to create response cache: " + err.Error())
	}
	return &ResponseCache{cache: cache}
}

// Get returns the cached view for a region filter, if fresh.
func (c *ResponseCache) Get(region string) ([]MeasurementDTO, bool) {
	return c.cache.Get(region)
}

// Set stores a view for a region filter.
func (c *ResponseCache) Set(region string, rows []MeasurementDTO) {
	c.cache.Set(region, rows)
}

// Close releases the underlying cache resources.
func (c *ResponseCache) Close() {
	c.cache.Close()
}
