package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownSuppressesRepeats(t *testing.T) {
	c := NewCooldown()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	assert.True(t, c.Allow(1, "veh-1", TypeAccident))
	assert.False(t, c.Allow(1, "veh-1", TypeAccident))

	// Just inside the 90s accident window.
	now = now.Add(89 * time.Second)
	assert.False(t, c.Allow(1, "veh-1", TypeAccident))

	now = now.Add(2 * time.Second)
	assert.True(t, c.Allow(1, "veh-1", TypeAccident))
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	c := NewCooldown()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	assert.True(t, c.Allow(1, "veh-1", TypeAlcoholHigh))

	// Other vehicles, owners and types are untouched.
	assert.True(t, c.Allow(1, "veh-2", TypeAlcoholHigh))
	assert.True(t, c.Allow(2, "veh-1", TypeAlcoholHigh))
	assert.True(t, c.Allow(1, "veh-1", TypeAlcoholWarn))

	assert.False(t, c.Allow(1, "veh-1", TypeAlcoholHigh))
}

func TestCooldownUnknownTypeUsesFallback(t *testing.T) {
	c := NewCooldown()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	assert.True(t, c.Allow(1, "veh-1", "SOMETHING_ELSE"))
	assert.False(t, c.Allow(1, "veh-1", "SOMETHING_ELSE"))

	now = now.Add(defaultWindow + time.Second)
	assert.True(t, c.Allow(1, "veh-1", "SOMETHING_ELSE"))
}

func TestCooldownEvictsStaleEntries(t *testing.T) {
	c := NewCooldown()
	c.SetCapacity(2)

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		assert.True(t, c.Allow(1, fmt.Sprintf("veh-%d", i), TypeAccident))
	}
	assert.Equal(t, 5, c.Len())

	// Once every entry is stale, the next insert sweeps them out.
	now = now.Add(defaultStaleAge + time.Minute)
	assert.True(t, c.Allow(1, "veh-new", TypeAccident))
	assert.Equal(t, 1, c.Len())
}
