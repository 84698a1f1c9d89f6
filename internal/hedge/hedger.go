package hedge

import (
	"context"
	"sync"
	"time"

	"hl-delta-neutral/internal/amount"
	"hl-delta-neutral/internal/coalesce"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultQuietWindow = 2 * time.Second

type swapper interface {
	Execute(ctx context.Context, amountUI decimal.Decimal) (uint64, error)
	BaseDecimals() int
}

// Hedger coalesces position deltas and hands the merged amount to the
// executor once the position has been quiet for the configured window.
type Hedger struct {
	exec swapper
	slot *coalesce.Slot[decimal.Decimal]
	log  *zap.Logger

	mu      sync.Mutex
	offered decimal.Decimal
	swapped decimal.Decimal
}

// NewHedger builds a hedger with the given quiet window. A nil merge sums
// pending deltas; pass coalesce.Latest to keep only the newest.
func NewHedger(exec swapper, quiet time.Duration, merge coalesce.MergeFunc[decimal.Decimal], log *zap.Logger) *Hedger {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	if merge == nil {
		merge = coalesce.Sum[decimal.Decimal]
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hedger{
		exec: exec,
		slot: coalesce.New(quiet, merge),
		log:  log,
	}
}

// Offer queues a base delta. It is safe to call from the watcher callback.
func (h *Hedger) Offer(delta decimal.Decimal) {
	if delta.Sign() <= 0 {
		return
	}
	h.mu.Lock()
	h.offered = h.offered.Add(delta)
	h.mu.Unlock()
	if !h.slot.Offer(delta) {
		h.log.Warn("hedger closed, delta dropped", zap.String("delta", delta.String()))
	}
}

// Run drives swaps until Close has flushed the slot or ctx ends.
func (h *Hedger) Run(ctx context.Context) error {
	return h.slot.Run(ctx, h.execute)
}

func (h *Hedger) execute(ctx context.Context, amountUI decimal.Decimal) {
	h.log.Info("hedging delta", zap.String("amount", amountUI.String()))
	raw, err := h.exec.Execute(ctx, amountUI)
	done := amount.FromRaw(int64(raw), h.exec.BaseDecimals())
	h.mu.Lock()
	h.swapped = h.swapped.Add(done)
	h.mu.Unlock()
	if err != nil {
		h.log.Warn("hedge interrupted",
			zap.String("amount", amountUI.String()),
			zap.String("swapped", done.String()),
			zap.Error(err),
		)
	}
}

// Close flushes any pending delta and waits for the worker to finish.
func (h *Hedger) Close(ctx context.Context) error {
	h.slot.Close()
	select {
	case <-h.slot.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offered is the total delta handed to Offer.
func (h *Hedger) Offered() decimal.Decimal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offered
}

// Swapped is the total base amount the router resolved, including the
// partial progress of interrupted swaps.
func (h *Hedger) Swapped() decimal.Decimal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.swapped
}
