package timezone

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Cache loads IANA locations once.
type Cache struct {
	mu        sync.RWMutex
	locations map[string]*time.Location
}

func NewCache() *Cache {
	return &Cache{locations: make(map[string]*time.Location)}
}

// Get returns the location for the zone name. An empty name is UTC.
func (c *Cache) Get(timeZone string) (*time.Location, error) {
	if len(timeZone) == 0 {
		return time.UTC, nil
	}
	c.mu.RLock()
	l, ok := c.locations[timeZone]
	c.mu.RUnlock()
	if ok {
		return l, nil
	}
	location, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown time zone %v", timeZone)
	}
	c.mu.Lock()
	c.locations[timeZone] = location
	c.mu.Unlock()
	return location, nil
}

// GetOr falls back to def when the zone cannot be loaded.
func (c *Cache) GetOr(timeZone string, def *time.Location) *time.Location {
	l, err := c.Get(timeZone)
	if err != nil {
		return def
	}
	return l
}
