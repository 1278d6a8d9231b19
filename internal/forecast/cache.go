package forecast

import "sync"

// Cache retains the most recent forecast result per device for the query
// interface. Older cycles are discarded on overwrite.
type Cache struct {
	mu     sync.RWMutex
	latest map[string]*Result
}

// NewCache creates an empty forecast cache.
func NewCache() *Cache {
	return &Cache{latest: make(map[string]*Result)}
}

// Put replaces the cached result for the result's device.
func (c *Cache) Put(r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[r.DeviceID] = r
}

// Latest returns the most recent result for a device, if any.
func (c *Cache) Latest(deviceID string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.latest[deviceID]
	return r, ok
}

// Remove drops the cached result for a removed device.
func (c *Cache) Remove(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, deviceID)
}
