package trail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/exec"
	"hl-delta-neutral/internal/hl/exchange"
	"hl-delta-neutral/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultRecheckDelay = 10 * time.Second
)

type State string

const (
	StatePlacing   State = "PLACING"
	StateTrailing  State = "TRAILING"
	StateFilled    State = "FILLED"
	StateCancelled State = "CANCELLED"
	StateAnomaly   State = "ANOMALY"
)

type Orders interface {
	PlaceOrder(ctx context.Context, order exec.Order) (exec.Placement, error)
	ModifyOrder(ctx context.Context, order exec.Order) error
	CancelOrder(ctx context.Context, asset int, cloid string) error
	OpenOrders(ctx context.Context) ([]exec.OpenOrder, error)
}

type Book interface {
	Best(side book.Side) (book.Level, bool)
}

type EventKind string

const (
	EventPlaced       EventKind = "order_placed"
	EventRepriced     EventKind = "order_repriced"
	EventStalePrice   EventKind = "stale_price"
	EventModifyFailed EventKind = "modify_failed"
	EventFilled       EventKind = "order_filled"
	EventCancelled    EventKind = "order_cancelled"
)

type Event struct {
	Kind          EventKind
	ClientOrderID string
	Side          exec.Side
	Price         decimal.Decimal
	// VenuePrice is the price the venue reported for a stale-price event.
	VenuePrice decimal.Decimal
	Size       decimal.Decimal
	Err        error
	At         time.Time
}

type Request struct {
	Asset      int
	Coin       string
	Side       exec.Side
	Size       decimal.Decimal
	ReduceOnly bool
}

type Result struct {
	ClientOrderID string
	FinalPrice    decimal.Decimal
	Reprices      int
	State         State
}

type Config struct {
	PollInterval time.Duration
	RecheckDelay time.Duration
}

type Engine struct {
	orders  Orders
	book    Book
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	observe func(Event)
	newID   func() string
	sleep   func(context.Context, time.Duration) error
}

func New(orders Orders, bk Book, cfg Config, log *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RecheckDelay <= 0 {
		cfg.RecheckDelay = DefaultRecheckDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		orders:  orders,
		book:    bk,
		cfg:     cfg,
		log:     log,
		metrics: metrics.OrNoop(m),
		observe: func(Event) {},
		newID:   exchange.NewCloid,
		sleep:   sleepCtx,
	}
}

// OnEvent registers an observer for order lifecycle events. It must not block.
func (e *Engine) OnEvent(fn func(Event)) {
	if fn == nil {
		fn = func(Event) {}
	}
	e.observe = fn
}

// Run places a resting limit order for the full size and keeps it at the best
// price on its side until the venue no longer lists it. Cancelling ctx cancels
// the order on a best-effort basis.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if req.Side != exec.SideBuy && req.Side != exec.SideSell {
		return Result{State: StateAnomaly}, fmt.Errorf("unknown side %q", req.Side)
	}
	if req.Size.Sign() <= 0 {
		return Result{State: StateAnomaly}, errors.New("order size must be positive")
	}
	res := Result{ClientOrderID: e.newID(), State: StatePlacing}

	price, err := e.waitBest(ctx, req.Side)
	if err != nil {
		res.State = StateCancelled
		return res, err
	}
	order := exec.Order{
		Asset:         req.Asset,
		Coin:          req.Coin,
		Side:          req.Side,
		Price:         price,
		Size:          req.Size,
		ClientOrderID: res.ClientOrderID,
		Tif:           string(exchange.TifGtc),
		ReduceOnly:    req.ReduceOnly,
	}
	if _, err := e.orders.PlaceOrder(ctx, order); err != nil {
		// a retried placement can fail after an earlier attempt landed
		if ctx.Err() != nil {
			return e.cancel(req, res), ctx.Err()
		}
		open, found, findErr := e.find(ctx, res.ClientOrderID)
		if findErr != nil || !found {
			res = e.cancel(req, res)
			res.State = StateAnomaly
			return res, fmt.Errorf("place trailing order: %w", err)
		}
		e.log.Warn("placement reported an error but the order is resting",
			zap.String("cloid", res.ClientOrderID),
			zap.String("venue_price", open.Price.String()),
			zap.Error(err),
		)
		if open.Price.Sign() > 0 {
			price = open.Price
		}
	}
	res.FinalPrice = price
	res.State = StateTrailing
	e.metrics.OrdersPlaced.Inc()
	e.log.Info("order placed",
		zap.String("cloid", res.ClientOrderID),
		zap.String("coin", req.Coin),
		zap.String("side", string(req.Side)),
		zap.String("price", price.String()),
		zap.String("size", req.Size.String()),
	)
	e.emit(Event{Kind: EventPlaced, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: price, Size: req.Size})

	for {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return e.cancel(req, res), err
		}
		done, err := e.poll(ctx, req, &res)
		if err != nil {
			if ctx.Err() != nil {
				return e.cancel(req, res), ctx.Err()
			}
			e.log.Warn("trailing poll failed", zap.String("cloid", res.ClientOrderID), zap.Error(err))
			continue
		}
		if done {
			res.State = StateFilled
			e.log.Info("order filled",
				zap.String("cloid", res.ClientOrderID),
				zap.String("price", res.FinalPrice.String()),
				zap.Int("reprices", res.Reprices),
			)
			e.emit(Event{Kind: EventFilled, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: res.FinalPrice, Size: req.Size})
			return res, nil
		}
	}
}

// poll runs one trailing tick and reports whether the order is gone.
func (e *Engine) poll(ctx context.Context, req Request, res *Result) (bool, error) {
	open, found, err := e.find(ctx, res.ClientOrderID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	if !open.Price.Equal(res.FinalPrice) {
		e.metrics.StalePrice.Inc()
		e.log.Debug("resting price differs from venue",
			zap.String("cloid", res.ClientOrderID),
			zap.String("local", res.FinalPrice.String()),
			zap.String("venue", open.Price.String()),
		)
		e.emit(Event{Kind: EventStalePrice, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: res.FinalPrice, VenuePrice: open.Price})
		return false, nil
	}
	best, ok := e.bestPrice(req.Side)
	if !ok || !improves(req.Side, best, res.FinalPrice) {
		return false, nil
	}

	size := open.Size
	if size.Sign() <= 0 {
		size = req.Size
	}
	err = e.orders.ModifyOrder(ctx, exec.Order{
		Asset:         req.Asset,
		Coin:          req.Coin,
		Side:          req.Side,
		Price:         best,
		Size:          size,
		ClientOrderID: res.ClientOrderID,
		Tif:           string(exchange.TifGtc),
		ReduceOnly:    req.ReduceOnly,
	})
	switch {
	case err == nil:
		prev := res.FinalPrice
		res.FinalPrice = best
		res.Reprices++
		e.metrics.OrdersRepriced.Inc()
		e.log.Info("order repriced",
			zap.String("cloid", res.ClientOrderID),
			zap.String("from", prev.String()),
			zap.String("to", best.String()),
		)
		e.emit(Event{Kind: EventRepriced, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: best, Size: size})
		return false, nil
	case errors.Is(err, exec.ErrTransactionFailed):
		e.metrics.ModifyFailed.Inc()
		e.log.Warn("modify failed, rechecking",
			zap.String("cloid", res.ClientOrderID),
			zap.Duration("delay", e.cfg.RecheckDelay),
			zap.Error(err),
		)
		e.emit(Event{Kind: EventModifyFailed, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: best, Err: err})
		if err := e.sleep(ctx, e.cfg.RecheckDelay); err != nil {
			return false, err
		}
		_, found, err := e.find(ctx, res.ClientOrderID)
		if err != nil {
			return false, err
		}
		return !found, nil
	default:
		e.metrics.ModifyFailed.Inc()
		e.emit(Event{Kind: EventModifyFailed, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: best, Err: err})
		return false, fmt.Errorf("modify order: %w", err)
	}
}

func (e *Engine) find(ctx context.Context, cloid string) (exec.OpenOrder, bool, error) {
	orders, err := e.orders.OpenOrders(ctx)
	if err != nil {
		return exec.OpenOrder{}, false, fmt.Errorf("open orders: %w", err)
	}
	for _, o := range orders {
		if o.Cloid == cloid {
			return o, true, nil
		}
	}
	return exec.OpenOrder{}, false, nil
}

// cancel runs with a fresh context because ctx is already done.
func (e *Engine) cancel(req Request, res Result) Result {
	res.State = StateCancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.orders.CancelOrder(ctx, req.Asset, res.ClientOrderID); err != nil {
		e.log.Warn("cancel trailing order failed", zap.String("cloid", res.ClientOrderID), zap.Error(err))
	} else {
		e.log.Info("order cancelled", zap.String("cloid", res.ClientOrderID))
	}
	e.emit(Event{Kind: EventCancelled, ClientOrderID: res.ClientOrderID, Side: req.Side, Price: res.FinalPrice})
	return res
}

func (e *Engine) waitBest(ctx context.Context, side exec.Side) (decimal.Decimal, error) {
	for {
		if px, ok := e.bestPrice(side); ok {
			return px, nil
		}
		e.log.Debug("waiting for book", zap.String("side", string(side)))
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return decimal.Zero, err
		}
	}
}

func (e *Engine) bestPrice(side exec.Side) (decimal.Decimal, bool) {
	lvl, ok := e.book.Best(bookSide(side))
	if !ok || lvl.Price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	e.observe(ev)
}

// bookSide maps an order side to the side it rests on: sells join the asks.
func bookSide(side exec.Side) book.Side {
	if side == exec.SideSell {
		return book.Asks
	}
	return book.Bids
}

// improves reports whether best has moved past resting in the order's favor:
// sells chase a falling ask, buys chase a rising bid.
func improves(side exec.Side, best, resting decimal.Decimal) bool {
	if side == exec.SideSell {
		return best.LessThan(resting)
	}
	return best.GreaterThan(resting)
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
