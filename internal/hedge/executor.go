package hedge

import (
	"context"
	"errors"
	"time"

	"hl-delta-neutral/internal/amount"
	"hl-delta-neutral/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultRetryDelay = 500 * time.Millisecond

type Side string

const (
	// Buy acquires base with quote (opening hedge).
	Buy Side = "buy"
	// Sell disposes of base for quote (closing hedge).
	Sell Side = "sell"
)

type ExecutorConfig struct {
	Side         Side
	BaseMint     string
	QuoteMint    string
	BaseDecimals int
	SlippageBps  int
	RetryDelay   time.Duration
}

type Executor struct {
	router  Router
	cfg     ExecutorConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	sleep   func(context.Context, time.Duration) error
}

func NewExecutor(router Router, cfg ExecutorConfig, log *zap.Logger, m *metrics.Metrics) (*Executor, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.Side != Buy && cfg.Side != Sell {
		return nil, errors.New("hedge side must be buy or sell")
	}
	if cfg.BaseMint == "" || cfg.QuoteMint == "" {
		return nil, errors.New("base and quote mints are required")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		router:  router,
		cfg:     cfg,
		log:     log,
		metrics: metrics.OrNoop(m),
		sleep:   sleepCtx,
	}, nil
}

// Execute swaps amountUI of base, retrying until the full raw amount has been
// resolved or ctx ends. It returns the total raw base amount swapped.
func (e *Executor) Execute(ctx context.Context, amountUI decimal.Decimal) (uint64, error) {
	raw := amount.ToRaw(amountUI, e.cfg.BaseDecimals)
	if raw <= 0 {
		e.log.Debug("hedge amount below base precision", zap.String("amount", amountUI.String()))
		return 0, nil
	}
	remaining := uint64(raw)
	var done uint64
	attempt := 0
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if attempt > 0 {
			e.metrics.SwapRetries.Inc()
		}
		attempt++
		req := e.request(remaining)
		res, err := e.router.Swap(ctx, req)
		if err != nil {
			e.log.Warn("swap attempt failed",
				zap.Int("attempt", attempt),
				zap.Uint64("amount_raw", remaining),
				zap.Error(err),
			)
		}
		if res != nil {
			resolved := e.resolvedBase(res)
			if resolved > remaining {
				resolved = remaining
			}
			done += resolved
			remaining -= resolved
			e.metrics.SwapsExecuted.Inc()
			e.log.Info("swap executed",
				zap.String("tx", res.TxID),
				zap.String("side", string(e.cfg.Side)),
				zap.Uint64("in", res.InputAmount),
				zap.Uint64("out", res.OutputAmount),
				zap.Uint64("remaining_raw", remaining),
			)
			if remaining == 0 {
				return done, nil
			}
			if resolved > 0 {
				continue
			}
		}
		if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
			return done, err
		}
	}
	return done, nil
}

func (e *Executor) BaseDecimals() int {
	return e.cfg.BaseDecimals
}

func (e *Executor) request(amountRaw uint64) SwapRequest {
	if e.cfg.Side == Buy {
		return SwapRequest{
			InputMint:   e.cfg.QuoteMint,
			OutputMint:  e.cfg.BaseMint,
			AmountRaw:   amountRaw,
			Mode:        ExactOut,
			SlippageBps: e.cfg.SlippageBps,
		}
	}
	return SwapRequest{
		InputMint:   e.cfg.BaseMint,
		OutputMint:  e.cfg.QuoteMint,
		AmountRaw:   amountRaw,
		Mode:        ExactIn,
		SlippageBps: e.cfg.SlippageBps,
	}
}

// resolvedBase is the base amount a result accounts for.
func (e *Executor) resolvedBase(res *SwapResult) uint64 {
	if e.cfg.Side == Buy {
		return res.OutputAmount
	}
	return res.InputAmount
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
