package hlspot

import (
	"context"
	"testing"

	"hl-delta-neutral/internal/hedge"
	"hl-delta-neutral/internal/hl/exchange"

	"github.com/shopspring/decimal"
)

type fixedMid struct {
	key string
	mid decimal.Decimal
}

func (f *fixedMid) Mid(_ context.Context, key string) (decimal.Decimal, error) {
	f.key = key
	return f.mid, nil
}

type fakePlacer struct {
	orders []exchange.OrderWire
	status exchange.OrderStatus
}

func (f *fakePlacer) PlaceOrder(_ context.Context, order exchange.OrderWire) (exchange.OrderStatus, error) {
	f.orders = append(f.orders, order)
	return f.status, nil
}

func newTestRouter(t *testing.T, placer *fakePlacer) (*Router, *fixedMid) {
	t.Helper()
	prices := &fixedMid{mid: decimal.RequireFromString("20")}
	router, err := New(prices, placer, Config{
		Asset:         10107,
		MidKey:        "@107",
		BaseMint:      "HYPE",
		QuoteMint:     "USDC",
		SzDecimals:    2,
		BaseDecimals:  8,
		QuoteDecimals: 6,
	}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	router.cloid = func() string { return "0x000000000000000000000000000000aa" }
	return router, prices
}

func TestSwapBuyPlacesIocAboveMid(t *testing.T) {
	placer := &fakePlacer{status: exchange.OrderStatus{
		OrderID:    "77",
		FilledSize: decimal.RequireFromString("1.5"),
		AvgPrice:   decimal.RequireFromString("20.01"),
	}}
	router, prices := newTestRouter(t, placer)

	res, err := router.Swap(context.Background(), hedge.SwapRequest{
		InputMint:   "USDC",
		OutputMint:  "HYPE",
		AmountRaw:   150_000_000,
		Mode:        hedge.ExactOut,
		SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if prices.key != "@107" {
		t.Fatalf("unexpected mid key %s", prices.key)
	}
	if len(placer.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(placer.orders))
	}
	order := placer.orders[0]
	if !order.IsBuy || order.Asset != 10107 || order.Size != "1.5" || order.Price != "20.1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.OrderType.Limit == nil || order.OrderType.Limit.Tif != exchange.TifIoc {
		t.Fatalf("expected IOC order")
	}
	if res == nil || res.OutputAmount != 150_000_000 || res.InputAmount != 30_015_000 || res.TxID != "77" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSwapSellBelowMid(t *testing.T) {
	placer := &fakePlacer{status: exchange.OrderStatus{
		FilledSize: decimal.RequireFromString("0.5"),
		AvgPrice:   decimal.RequireFromString("20"),
	}}
	router, _ := newTestRouter(t, placer)

	res, err := router.Swap(context.Background(), hedge.SwapRequest{
		InputMint:   "HYPE",
		OutputMint:  "USDC",
		AmountRaw:   50_000_000,
		Mode:        hedge.ExactIn,
		SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	order := placer.orders[0]
	if order.IsBuy || order.Price != "19.8" {
		t.Fatalf("unexpected order %+v", order)
	}
	if res.InputAmount != 50_000_000 || res.OutputAmount != 10_000_000 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSwapUnfilledReturnsNil(t *testing.T) {
	placer := &fakePlacer{}
	router, _ := newTestRouter(t, placer)
	res, err := router.Swap(context.Background(), hedge.SwapRequest{InputMint: "HYPE", OutputMint: "USDC", AmountRaw: 50_000_000})
	if err != nil || res != nil {
		t.Fatalf("expected nil result, got %+v %v", res, err)
	}
}

func TestSwapRejectsUnknownPair(t *testing.T) {
	router, _ := newTestRouter(t, &fakePlacer{})
	if _, err := router.Swap(context.Background(), hedge.SwapRequest{InputMint: "SOL", OutputMint: "USDC", AmountRaw: 1}); err == nil {
		t.Fatalf("expected pair error")
	}
}

func TestSwapDustSkipsOrder(t *testing.T) {
	placer := &fakePlacer{}
	router, _ := newTestRouter(t, placer)
	res, err := router.Swap(context.Background(), hedge.SwapRequest{InputMint: "HYPE", OutputMint: "USDC", AmountRaw: 10})
	if err != nil || res != nil || len(placer.orders) != 0 {
		t.Fatalf("expected dust no-op, got %+v %v", res, err)
	}
}
