package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrTransactionFailed marks a venue-level rejection. It is never retried here;
// callers decide how to recover.
var ErrTransactionFailed = errors.New("transaction failed")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) IsBuy() bool {
	return s == SideBuy
}

type Order struct {
	Asset         int
	Coin          string
	Side          Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	ClientOrderID string
	Tif           string
	ReduceOnly    bool
}

type OpenOrder struct {
	Cloid   string
	OrderID string
	Coin    string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

type Placement struct {
	OrderID    string
	Resting    bool
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
}

type RestClient interface {
	PlaceOrder(ctx context.Context, order Order) (Placement, error)
	ModifyOrder(ctx context.Context, order Order) error
	CancelOrder(ctx context.Context, asset int, cloid string) error
}

type OrderLister interface {
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
}

type Executor struct {
	rest   RestClient
	orders OrderLister
	log    *zap.Logger

	attempts int
	backoff  time.Duration

	mu    sync.Mutex
	cache map[string]Placement
}

func New(rest RestClient, orders OrderLister, log *zap.Logger) *Executor {
	return &Executor{
		rest:     rest,
		orders:   orders,
		log:      log,
		attempts: 5,
		backoff:  200 * time.Millisecond,
		cache:    make(map[string]Placement),
	}
}

// PlaceOrder submits order once per client order id for the life of the process.
func (e *Executor) PlaceOrder(ctx context.Context, order Order) (Placement, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	e.mu.Lock()
	if placed, ok := e.cache[order.ClientOrderID]; ok {
		e.mu.Unlock()
		return placed, nil
	}
	e.mu.Unlock()
	placed, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return Placement{}, err
	}
	e.mu.Lock()
	e.cache[order.ClientOrderID] = placed
	e.mu.Unlock()
	return placed, nil
}

func (e *Executor) ModifyOrder(ctx context.Context, order Order) error {
	if order.ClientOrderID == "" {
		return errors.New("modify requires a client order id")
	}
	return e.retry(ctx, "modify", func() error {
		return e.rest.ModifyOrder(ctx, order)
	})
}

func (e *Executor) CancelOrder(ctx context.Context, asset int, cloid string) error {
	if cloid == "" {
		return errors.New("cancel requires a client order id")
	}
	return e.retry(ctx, "cancel", func() error {
		return e.rest.CancelOrder(ctx, asset, cloid)
	})
}

func (e *Executor) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if e.orders == nil {
		return nil, errors.New("open order source is required")
	}
	var orders []OpenOrder
	err := e.retry(ctx, "open orders", func() error {
		var err error
		orders, err = e.orders.OpenOrders(ctx)
		return err
	})
	return orders, err
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (Placement, error) {
	var placed Placement
	err := e.retry(ctx, "place", func() error {
		var err error
		placed, err = e.rest.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return Placement{}, err
	}
	return placed, nil
}

func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	backoff := e.backoff
	for attempt := 0; attempt < e.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransactionFailed) || ctx.Err() != nil {
			return err
		}
		if attempt == e.attempts-1 {
			return fmt.Errorf("%s retry failed: %w", op, err)
		}
		if e.log != nil {
			e.log.Debug("venue call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
