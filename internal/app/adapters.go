package app

import (
	"context"
	"errors"
	"fmt"

	"hl-delta-neutral/internal/account"
	"hl-delta-neutral/internal/exec"
	"hl-delta-neutral/internal/hedge"
	"hl-delta-neutral/internal/hl/exchange"
	"hl-delta-neutral/internal/watcher"
)

type orderClient interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (exchange.OrderStatus, error)
	ModifyOrder(ctx context.Context, cloid string, order exchange.OrderWire) error
	CancelByCloid(ctx context.Context, asset int, cloid string) error
}

// exchangeAdapter maps executor orders onto signed exchange actions. Venue
// rejections surface as exec.ErrTransactionFailed.
type exchangeAdapter struct {
	client orderClient
}

func (e *exchangeAdapter) PlaceOrder(ctx context.Context, order exec.Order) (exec.Placement, error) {
	if e.client == nil {
		return exec.Placement{}, errors.New("exchange client is required")
	}
	wire, err := orderWire(order)
	if err != nil {
		return exec.Placement{}, err
	}
	status, err := e.client.PlaceOrder(ctx, wire)
	if err != nil {
		return exec.Placement{}, venueError(err)
	}
	return exec.Placement{
		OrderID:    status.OrderID,
		Resting:    status.Resting,
		FilledSize: status.FilledSize,
		AvgPrice:   status.AvgPrice,
	}, nil
}

func (e *exchangeAdapter) ModifyOrder(ctx context.Context, order exec.Order) error {
	if e.client == nil {
		return errors.New("exchange client is required")
	}
	wire, err := orderWire(order)
	if err != nil {
		return err
	}
	return venueError(e.client.ModifyOrder(ctx, order.ClientOrderID, wire))
}

func (e *exchangeAdapter) CancelOrder(ctx context.Context, asset int, cloid string) error {
	if e.client == nil {
		return errors.New("exchange client is required")
	}
	if cloid == "" {
		return errors.New("cancel cloid is required")
	}
	return venueError(e.client.CancelByCloid(ctx, asset, cloid))
}

func orderWire(order exec.Order) (exchange.OrderWire, error) {
	tif := exchange.TifGtc
	if order.Tif != "" {
		tif = exchange.Tif(order.Tif)
	}
	return exchange.LimitOrderWire(order.Asset, order.Side.IsBuy(), order.Size, order.Price, order.ReduceOnly, tif, order.ClientOrderID)
}

func venueError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrRejected) {
		return fmt.Errorf("%w: %v", exec.ErrTransactionFailed, err)
	}
	return err
}

// accountStream exposes the account push stream as a watcher.Stream. It never
// hands back a typed nil subscription.
type accountStream struct {
	account *account.Account
}

func (s accountStream) Subscribe(handler func([]byte)) (watcher.Subscription, error) {
	sub, err := s.account.Subscribe(handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// journalRouter records every confirmed swap before handing it back.
type journalRouter struct {
	next hedge.Router
	app  *App
}

func (r *journalRouter) Swap(ctx context.Context, req hedge.SwapRequest) (*hedge.SwapResult, error) {
	res, err := r.next.Swap(ctx, req)
	if err == nil && res != nil {
		r.app.recordSwap(req, res)
	}
	return res, err
}
