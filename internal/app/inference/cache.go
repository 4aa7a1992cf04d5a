package inference

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/r3e-network/fraudctl/internal/platform"
)

// entry is one in-process cache slot with its own expiry.
type entry struct {
	value   []byte
	expires time.Time
}

// FeatureCache is a two-tier lookup: an in-process map first, an external
// platform.CacheDriver second, and the caller is expected to recompute on a
// miss of both. A failure of the external tier degrades to "treat as a
// miss" rather than failing the prediction.
type FeatureCache struct {
	mu    sync.Mutex
	local map[string]entry
	ttl   time.Duration

	external platform.CacheDriver
}

// NewFeatureCache builds a cache with the given in-process TTL. external may
// be nil, in which case only the in-process tier is consulted.
func NewFeatureCache(ttl time.Duration, external platform.CacheDriver) *FeatureCache {
	return &FeatureCache{local: make(map[string]entry), ttl: ttl, external: external}
}

// Lookup result. Degraded is set when the value came from neither cache tier
// and feature computation is the caller's fallback.
type Lookup struct {
	Value    map[string]float64
	Hit      bool
	Degraded bool
}

// Get checks the in-process tier, then the external tier, recording a
// successful external hit back into the in-process tier for next time.
func (c *FeatureCache) Get(ctx context.Context, key string) Lookup {
	if v, ok := c.getLocal(key); ok {
		return Lookup{Value: v, Hit: true}
	}

	if c.external == nil {
		return Lookup{Degraded: true}
	}

	raw, err := c.external.Get(ctx, key)
	if err != nil || raw == nil {
		return Lookup{Degraded: true}
	}

	var v map[string]float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return Lookup{Degraded: true}
	}

	c.setLocal(key, raw)
	return Lookup{Value: v, Hit: true}
}

// Set writes through both tiers. External-tier failures are swallowed: a
// slow or unavailable Redis must never fail a prediction.
func (c *FeatureCache) Set(ctx context.Context, key string, value map[string]float64) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.setLocal(key, raw)
	if c.external != nil {
		_ = c.external.Set(ctx, key, raw, c.ttl)
	}
}

func (c *FeatureCache) getLocal(key string) (map[string]float64, bool) {
	c.mu.Lock()
	e, ok := c.local[key]
	c.mu.Unlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	var v map[string]float64
	if err := json.Unmarshal(e.value, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *FeatureCache) setLocal(key string, raw []byte) {
	c.mu.Lock()
	c.local[key] = entry{value: raw, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
