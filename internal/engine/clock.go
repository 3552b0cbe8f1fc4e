package engine

import "time"

// clock is the ClockState from §3. elapsed is computed from a closed
// accumulated duration and an open startWall so that pause/resume is
// monotonic regardless of how many pause cycles occur: accumulated
// never needs adjusting once a segment closes, and resuming just opens
// a fresh segment on top of it.
type clock struct {
	accumulated time.Duration
	startWall   time.Time // zero value means "not running"
	running     bool
}

// begin starts the clock at zero.
func (c *clock) begin(now time.Time) {
	c.accumulated = 0
	c.startWall = now
	c.running = true
}

// pause closes the current segment into accumulated.
func (c *clock) pause(now time.Time) {
	if c.running {
		c.accumulated += now.Sub(c.startWall)
	}
	c.startWall = time.Time{}
	c.running = false
}

// resume opens a fresh segment on top of accumulated.
func (c *clock) resume(now time.Time) {
	c.startWall = now
	c.running = true
}

// freeze stops the clock without resetting accumulated, used by finish.
func (c *clock) freeze(now time.Time) {
	c.pause(now)
}

// elapsed returns the floored exercise-relative seconds at now.
func (c *clock) elapsed(now time.Time) int {
	d := c.accumulated
	if c.running {
		d += now.Sub(c.startWall)
	}
	return int(d / time.Second)
}
