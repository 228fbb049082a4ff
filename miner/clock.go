package miner

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TimeState is the part of the clock a snapshot restores.
type TimeState struct {
	// Adjustment is the total offset in seconds added by increaseTime/setTime.
	Adjustment int64
	// Applied is the part of Adjustment already folded into fixed-step timestamps.
	Applied int64
}

// Clock decides block timestamps.
type Clock struct {
	mu        sync.Mutex
	clock     clock.Clock
	blockTime uint64
	state     TimeState
}

// NewClock returns a Clock over c. With blockTime > 0 every block is
// blockTime seconds after its parent; otherwise blocks follow the wall clock.
func NewClock(c clock.Clock, blockTime uint64) *Clock {
	if c == nil {
		c = clock.New()
	}
	return &Clock{clock: c, blockTime: blockTime}
}

// Now returns the adjusted wall clock time in unix seconds.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Clock) now() uint64 {
	t := c.clock.Now().Unix() + c.state.Adjustment
	if t < 0 {
		return 0
	}
	return uint64(t)
}

// Timestamp returns the timestamp of the block following a parent with
// timestamp parent. An explicit timestamp wins but may not precede the parent;
// derived timestamps never do.
func (c *Clock) Timestamp(parent uint64, explicit *uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if explicit != nil {
		if *explicit < parent {
			return 0, fmt.Errorf("timestamp %d is before the previous block timestamp %d", *explicit, parent)
		}
		return *explicit, nil
	}
	if c.blockTime == 0 {
		if now := c.now(); now > parent {
			return now, nil
		}
		return parent, nil
	}
	t := int64(parent) + int64(c.blockTime) + c.state.Adjustment - c.state.Applied
	if t < int64(parent) {
		t = int64(parent)
	}
	return uint64(t), nil
}

// Advance marks the current adjustment as spent by a sealed block.
func (c *Clock) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Applied = c.state.Adjustment
}

// Increase moves the clock forward by seconds and returns the total adjustment.
func (c *Clock) Increase(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Adjustment += seconds
	return c.state.Adjustment
}

// Set makes the adjusted clock read t and returns the new total adjustment.
func (c *Clock) Set(t time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Adjustment = t.Unix() - c.clock.Now().Unix()
	return c.state.Adjustment
}

func (c *Clock) State() TimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Clock) Restore(s TimeState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Ticker returns a ticker firing every block time, or every d when no block
// time is configured.
func (c *Clock) Ticker(d time.Duration) *clock.Ticker {
	if c.blockTime > 0 {
		d = time.Duration(c.blockTime) * time.Second
	}
	return c.clock.Ticker(d)
}
