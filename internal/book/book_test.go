package book

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func levels(pairs ...float64) []Level {
	out := make([]Level, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Level{Price: decimal.NewFromFloat(pairs[i]), Size: decimal.NewFromFloat(pairs[i+1])})
	}
	return out
}

func TestCacheBestAndDepth(t *testing.T) {
	c := NewCache(2)
	c.Update(levels(100, 5, 101, 3, 102, 1), levels(99, 2), time.Now())
	best, ok := c.Best(Asks)
	if !ok || !best.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected best ask 100, got %v (ok=%v)", best.Price, ok)
	}
	if got := len(c.Load().Asks); got != 2 {
		t.Fatalf("expected asks truncated to 2 levels, got %d", got)
	}
	bid, ok := c.Best(Bids)
	if !ok || !bid.Price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected best bid 99, got %v", bid.Price)
	}
}

func TestCacheSnapshotIsolation(t *testing.T) {
	c := NewCache(5)
	src := levels(100, 1)
	c.Update(src, levels(99, 1), time.Now())
	held := c.Load()
	src[0].Price = decimal.NewFromInt(1)
	c.UpdateSide(Asks, levels(98, 1), time.Now())
	if !held.Asks[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("held snapshot mutated: %v", held.Asks[0].Price)
	}
	best, _ := c.Best(Asks)
	if !best.Price.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("expected updated ask 98, got %v", best.Price)
	}
	bid, _ := c.Best(Bids)
	if !bid.Price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected bids preserved, got %v", bid.Price)
	}
}

func TestCacheWaitReady(t *testing.T) {
	c := NewCache(5)
	if _, ok := c.Best(Asks); ok {
		t.Fatalf("expected empty cache")
	}
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- c.WaitReady(ctx)
	}()
	c.UpdateSide(Asks, levels(100, 1), time.Now())
	if c.Ready() {
		t.Fatalf("expected not ready with one side")
	}
	c.UpdateSide(Bids, levels(99, 1), time.Now())
	if err := <-done; err != nil {
		t.Fatalf("wait ready: %v", err)
	}
}

func TestCacheWaitReadyTimeout(t *testing.T) {
	c := NewCache(5)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.WaitReady(ctx); err == nil {
		t.Fatalf("expected timeout error")
	}
}
