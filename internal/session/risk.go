package session

import (
	"errors"
	"fmt"

	"hl-delta-neutral/internal/amount"
	"hl-delta-neutral/internal/config"

	"github.com/shopspring/decimal"
)

var (
	ErrNotionalLimit   = errors.New("notional exceeds configured maximum")
	ErrOpenOrdersLimit = errors.New("open orders exceed configured maximum")
)

type RiskSnapshot struct {
	Size           decimal.Decimal
	Price          decimal.Decimal
	OpenOrderCount int
}

func (s RiskSnapshot) NotionalUSD() decimal.Decimal {
	return s.Size.Mul(s.Price).Abs()
}

func CheckRisk(cfg config.RiskConfig, snap RiskSnapshot) error {
	if cfg.MaxNotionalUSD > 0 {
		limit := decimal.NewFromFloat(cfg.MaxNotionalUSD)
		if notional := snap.NotionalUSD(); notional.GreaterThan(limit) {
			return fmt.Errorf("notional %s above %s: %w", notional.StringFixed(2), limit.StringFixed(2), ErrNotionalLimit)
		}
	}
	if cfg.MaxOpenOrders > 0 && snap.OpenOrderCount > cfg.MaxOpenOrders {
		return fmt.Errorf("%d open orders above %d: %w", snap.OpenOrderCount, cfg.MaxOpenOrders, ErrOpenOrdersLimit)
	}
	return nil
}

// DefaultSize sizes a session from a USD notional at the best ask, floored to
// two decimals.
func DefaultSize(notionalUSD float64, bestAsk decimal.Decimal) (decimal.Decimal, error) {
	if bestAsk.Sign() <= 0 {
		return decimal.Zero, errors.New("best ask unavailable")
	}
	size := amount.Floor(decimal.NewFromFloat(notionalUSD).Div(bestAsk), 2)
	if size.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("notional %.2f too small at price %s", notionalUSD, bestAsk)
	}
	return size, nil
}
