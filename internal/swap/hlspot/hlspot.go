package hlspot

import (
	"context"
	"errors"
	"fmt"

	"hl-delta-neutral/internal/amount"
	"hl-delta-neutral/internal/hedge"
	"hl-delta-neutral/internal/hl/exchange"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Pricer interface {
	Mid(ctx context.Context, key string) (decimal.Decimal, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (exchange.OrderStatus, error)
}

type Config struct {
	// Asset is the spot asset id (10000 + spot index).
	Asset  int
	MidKey string
	// BaseMint and QuoteMint are the token names used in swap requests.
	BaseMint      string
	QuoteMint     string
	SzDecimals    int
	BaseDecimals  int
	QuoteDecimals int
}

// Router hedges with an IOC limit order on the Hyperliquid spot book.
type Router struct {
	prices Pricer
	orders OrderPlacer
	cfg    Config
	log    *zap.Logger
	cloid  func() string
}

func New(prices Pricer, orders OrderPlacer, cfg Config, log *zap.Logger) (*Router, error) {
	if prices == nil || orders == nil {
		return nil, errors.New("pricer and order placer are required")
	}
	if cfg.MidKey == "" || cfg.BaseMint == "" || cfg.QuoteMint == "" {
		return nil, errors.New("spot market is not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{prices: prices, orders: orders, cfg: cfg, log: log, cloid: exchange.NewCloid}, nil
}

func (r *Router) Swap(ctx context.Context, req hedge.SwapRequest) (*hedge.SwapResult, error) {
	var isBuy bool
	switch {
	case req.OutputMint == r.cfg.BaseMint && req.InputMint == r.cfg.QuoteMint:
		isBuy = true
	case req.InputMint == r.cfg.BaseMint && req.OutputMint == r.cfg.QuoteMint:
		isBuy = false
	default:
		return nil, fmt.Errorf("unsupported pair %s -> %s", req.InputMint, req.OutputMint)
	}
	size := amount.Floor(amount.FromRaw(int64(req.AmountRaw), r.cfg.BaseDecimals), r.cfg.SzDecimals)
	if size.Sign() <= 0 {
		return nil, nil
	}
	mid, err := r.prices.Mid(ctx, r.cfg.MidKey)
	if err != nil {
		return nil, fmt.Errorf("spot mid: %w", err)
	}
	slip := decimal.New(int64(req.SlippageBps), -4)
	limit := mid.Mul(decimal.NewFromInt(1).Sub(slip))
	if isBuy {
		limit = mid.Mul(decimal.NewFromInt(1).Add(slip))
	}
	limit = exchange.NormalizePrice(limit, r.cfg.SzDecimals, true)

	wire, err := exchange.LimitOrderWire(r.cfg.Asset, isBuy, size, limit, false, exchange.TifIoc, r.cloid())
	if err != nil {
		return nil, err
	}
	status, err := r.orders.PlaceOrder(ctx, wire)
	if err != nil {
		return nil, err
	}
	if !status.Filled() {
		r.log.Info("spot ioc not filled",
			zap.Bool("buy", isBuy),
			zap.String("size", size.String()),
			zap.String("limit", limit.String()),
		)
		return nil, nil
	}
	baseRaw := uint64(amount.ToRaw(status.FilledSize, r.cfg.BaseDecimals))
	quoteRaw := uint64(amount.ToRaw(status.FilledSize.Mul(status.AvgPrice), r.cfg.QuoteDecimals))
	res := &hedge.SwapResult{TxID: status.OrderID}
	if isBuy {
		res.InputAmount, res.OutputAmount = quoteRaw, baseRaw
	} else {
		res.InputAmount, res.OutputAmount = baseRaw, quoteRaw
	}
	return res, nil
}
