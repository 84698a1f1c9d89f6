package book

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Asks Side = "asks"
	Bids Side = "bids"
)

const DefaultDepth = 5

type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Snapshot is never mutated after it is published.
type Snapshot struct {
	Asks []Level
	Bids []Level
	Time time.Time
}

func (s *Snapshot) Side(side Side) []Level {
	if s == nil {
		return nil
	}
	if side == Asks {
		return s.Asks
	}
	return s.Bids
}

// Cache holds the latest order book. Update and UpdateSide must be called
// from a single writer; readers never block.
type Cache struct {
	depth int
	snap  atomic.Pointer[Snapshot]
	ready chan struct{}
	once  sync.Once
}

func NewCache(depth int) *Cache {
	if depth <= 0 {
		depth = DefaultDepth
	}
	c := &Cache{depth: depth, ready: make(chan struct{})}
	c.snap.Store(&Snapshot{})
	return c
}

func (c *Cache) Load() *Snapshot {
	return c.snap.Load()
}

func (c *Cache) Best(side Side) (Level, bool) {
	levels := c.Load().Side(side)
	if len(levels) == 0 {
		return Level{}, false
	}
	return levels[0], true
}

func (c *Cache) Update(asks, bids []Level, at time.Time) {
	c.publish(&Snapshot{
		Asks: c.truncate(asks),
		Bids: c.truncate(bids),
		Time: at,
	})
}

func (c *Cache) UpdateSide(side Side, levels []Level, at time.Time) {
	prev := c.Load()
	next := &Snapshot{Asks: prev.Asks, Bids: prev.Bids, Time: at}
	if side == Asks {
		next.Asks = c.truncate(levels)
	} else {
		next.Bids = c.truncate(levels)
	}
	c.publish(next)
}

func (c *Cache) Ready() bool {
	snap := c.Load()
	return len(snap.Asks) > 0 && len(snap.Bids) > 0
}

// WaitReady blocks until both sides carry at least one level.
func (c *Cache) WaitReady(ctx context.Context) error {
	if c.Ready() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ready:
		return nil
	}
}

func (c *Cache) publish(snap *Snapshot) {
	c.snap.Store(snap)
	if len(snap.Asks) > 0 && len(snap.Bids) > 0 {
		c.once.Do(func() { close(c.ready) })
	}
}

func (c *Cache) truncate(levels []Level) []Level {
	n := len(levels)
	if n > c.depth {
		n = c.depth
	}
	out := make([]Level, n)
	copy(out, levels[:n])
	return out
}
