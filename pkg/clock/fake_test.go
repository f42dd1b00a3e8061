package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_AdvanceFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)

	var order []string
	var seen []time.Duration
	c.AfterFunc(80*time.Millisecond, func() {
		order = append(order, "late")
		seen = append(seen, c.Now().Sub(epoch))
	})
	c.AfterFunc(50*time.Millisecond, func() {
		order = append(order, "early")
		seen = append(seen, c.Now().Sub(epoch))
	})

	c.Advance(40 * time.Millisecond)
	assert.Empty(t, order)
	assert.Equal(t, 2, c.Pending())

	c.Advance(60 * time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 80 * time.Millisecond}, seen)
	assert.Equal(t, 100*time.Millisecond, c.Now().Sub(epoch))
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_StopPreventsCallback(t *testing.T) {
	c := Fake(epoch)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	c := Fake(epoch)

	fired := 0
	timer := c.AfterFunc(time.Second, func() { fired++ })
	c.Advance(time.Second)
	c.Advance(time.Second)

	assert.Equal(t, 1, fired)
	assert.False(t, timer.Stop())
}

func TestFakeClock_NonPositiveDurationRunsImmediately(t *testing.T) {
	c := Fake(epoch)

	fired := false
	timer := c.AfterFunc(0, func() { fired = true })

	assert.True(t, fired)
	assert.False(t, timer.Stop())
}
