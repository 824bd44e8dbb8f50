package alert

import (
	"fmt"
	"sync"
	"time"
)

// Default cooldown windows per alert type.
var defaultWindows = map[string]time.Duration{
	TypeAccident:    90 * time.Second,
	TypeAlcoholWarn: 3 * time.Minute,
	TypeAlcoholHigh: 2 * time.Minute,
}

const (
	defaultWindow   = 2 * time.Minute
	defaultCapacity = 2000
	defaultStaleAge = time.Hour
)

// Cooldown tracks the last time each (owner, vehicle, type) alert fired and
// suppresses repeats inside the type's window. Process-local; entries are
// evicted when the tracked-key count outgrows the capacity.
type Cooldown struct {
	mu       sync.Mutex
	lastSent map[string]time.Time

	windows  map[string]time.Duration
	fallback time.Duration
	capacity int
	staleAge time.Duration
	now      func() time.Time
}

// NewCooldown creates a tracker with the default windows, capacity and stale
// age.
func NewCooldown() *Cooldown {
	return &Cooldown{
		lastSent: make(map[string]time.Time),
		windows:  defaultWindows,
		fallback: defaultWindow,
		capacity: defaultCapacity,
		staleAge: defaultStaleAge,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (c *Cooldown) SetClock(now func() time.Time) {
	c.now = now
}

// SetCapacity overrides the eviction threshold.
func (c *Cooldown) SetCapacity(capacity int) {
	c.capacity = capacity
}

// Allow reports whether an alert of the given type may fire for the vehicle.
// A true result resets the cooldown clock immediately, regardless of whether
// the notification is later delivered.
func (c *Cooldown) Allow(ownerID int64, vehicleUUID, alertType string) bool {
	window, ok := c.windows[alertType]
	if !ok {
		window = c.fallback
	}

	key := fmt.Sprintf("%d:%s:%s", ownerID, vehicleUUID, alertType)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if previous, ok := c.lastSent[key]; ok && now.Sub(previous) < window {
		return false
	}

	if len(c.lastSent) > c.capacity {
		staleBefore := now.Add(-c.staleAge)
		for entryKey, timestamp := range c.lastSent {
			if timestamp.Before(staleBefore) {
				delete(c.lastSent, entryKey)
			}
		}
	}

	c.lastSent[key] = now
	return true
}

// Len returns the tracked-key count, for tests.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastSent)
}
