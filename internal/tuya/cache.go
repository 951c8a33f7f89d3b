package tuya

import (
	"maps"
	"time"
)

// UpdatedAtKey is the reserved cached-state key holding the time of the last
// successful refresh as Unix seconds. Zero or absent means never refreshed.
const UpdatedAtKey = "updated_at"

// pendingEntry is an optimistic write not yet confirmed by a refresh.
type pendingEntry struct {
	value     any
	updatedAt time.Time
}

// stateCache holds the last confirmed device state and the pending overlay.
// It is not safe for concurrent use; Session guards it with stateMu.
type stateCache struct {
	cached  map[string]any
	pending map[string]pendingEntry
	fakeIt  time.Duration
}

func newStateCache(fakeIt time.Duration) *stateCache {
	c := &stateCache{
		pending: make(map[string]pendingEntry),
		fakeIt:  fakeIt,
	}
	c.resetCached()
	return c
}

// resetCached drops every cached property and marks the cache as never
// refreshed. Pending entries are kept and age out on their own.
func (c *stateCache) resetCached() {
	c.cached = map[string]any{UpdatedAtKey: float64(0)}
}

// compact evicts pending entries older than the fake-it timeout.
func (c *stateCache) compact(now time.Time) {
	for id, entry := range c.pending {
		if now.Sub(entry.updatedAt) >= c.fakeIt {
			delete(c.pending, id)
		}
	}
}

// lookup resolves a property through the layers: pending, then cached.
func (c *stateCache) lookup(id string, now time.Time) (any, bool) {
	c.compact(now)
	if entry, ok := c.pending[id]; ok {
		return entry.value, true
	}
	v, ok := c.cached[id]
	return v, ok
}

// merged returns a fresh copy of cached state overlaid with pending values.
func (c *stateCache) merged(now time.Time) map[string]any {
	c.compact(now)
	out := make(map[string]any, len(c.cached)+len(c.pending))
	maps.Copy(out, c.cached)
	for id, entry := range c.pending {
		out[id] = entry.value
	}
	return out
}

// pendingProperties returns the values of live pending entries.
func (c *stateCache) pendingProperties(now time.Time) map[string]any {
	c.compact(now)
	out := make(map[string]any, len(c.pending))
	for id, entry := range c.pending {
		out[id] = entry.value
	}
	return out
}

func (c *stateCache) addPending(props map[string]any, now time.Time) {
	c.compact(now)
	for id, v := range props {
		c.pending[id] = pendingEntry{value: v, updatedAt: now}
	}
}

// stampPending moves every pending entry's timestamp forward to now.
// Applied after a confirmed send, so flushed values stay visible until a
// refresh reports them.
// TODO: revisit whether a confirmed send should clear pending entries
// instead of extending them.
func (c *stateCache) stampPending(now time.Time) {
	for id, entry := range c.pending {
		entry.updatedAt = now
		c.pending[id] = entry
	}
}

// applyRefresh merges freshly fetched data points over the cached state.
// Keys absent from dps keep their previous values.
func (c *stateCache) applyRefresh(dps map[string]any, now time.Time) {
	maps.Copy(c.cached, dps)
	c.cached[UpdatedAtKey] = unixSeconds(now)
}

func (c *stateCache) anticipate(id string, v any) {
	c.cached[id] = v
}

// markStale zeroes the refresh timestamp so the next refresh fetches.
func (c *stateCache) markStale() {
	c.cached[UpdatedAtKey] = float64(0)
}

// updatedAt returns the last refresh time, or the zero time if never.
func (c *stateCache) updatedAt() time.Time {
	secs, ok := c.cached[UpdatedAtKey].(float64)
	if !ok || secs == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(secs*float64(time.Second)))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
