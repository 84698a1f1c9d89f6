package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/config"
	"hl-delta-neutral/internal/exec"
	"hl-delta-neutral/internal/hedge"
	"hl-delta-neutral/internal/metrics"
	"hl-delta-neutral/internal/trail"
	"hl-delta-neutral/internal/watcher"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrBusy = errors.New("session already running")

type Positions interface {
	Position(ctx context.Context, coin string) (decimal.Decimal, error)
}

type OpenOrders interface {
	OpenOrders(ctx context.Context) ([]exec.OpenOrder, error)
}

type Trailer interface {
	Run(ctx context.Context, req trail.Request) (trail.Result, error)
}

type Hedger interface {
	Offer(delta decimal.Decimal)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Swapped() decimal.Decimal
}

type Book interface {
	Best(side book.Side) (book.Level, bool)
}

type Deps struct {
	Positions Positions
	Orders    OpenOrders
	Stream    watcher.Stream
	// Decode builds the position decoder for a coin.
	Decode  func(coin string) watcher.Decoder
	Trailer Trailer
	Book    Book
	// Hedgers builds a fresh hedger for the swap side of one session.
	Hedgers   func(side hedge.Side) (Hedger, error)
	OnAnomaly func(watcher.Anomaly)
}

type Config struct {
	Coin              string
	Asset             int
	SettleDelay       time.Duration
	CompletionTimeout time.Duration
	AnomalyPolicy     string
	Risk              config.RiskConfig
}

type Orchestrator struct {
	deps    Deps
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	sm      *StateMachine
	sleep   func(context.Context, time.Duration) error
}

func New(deps Deps, cfg Config, log *zap.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	switch {
	case deps.Positions == nil, deps.Stream == nil, deps.Decode == nil, deps.Trailer == nil, deps.Hedgers == nil, deps.Book == nil:
		return nil, errors.New("session dependencies are incomplete")
	case cfg.Coin == "":
		return nil, errors.New("session coin is required")
	}
	if cfg.AnomalyPolicy == "" {
		cfg.AnomalyPolicy = config.AnomalyLog
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 2 * time.Minute
	}
	if deps.OnAnomaly == nil {
		deps.OnAnomaly = func(watcher.Anomaly) {}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		metrics: metrics.OrNoop(m),
		sm:      NewStateMachine(),
		sleep:   sleepCtx,
	}, nil
}

func (o *Orchestrator) State() State {
	return o.sm.State()
}

// Open sells size on the perp while buying the same base amount with swaps.
func (o *Orchestrator) Open(ctx context.Context, size decimal.Decimal) (Result, error) {
	return o.Run(ctx, Session{Direction: Open, TargetBaseSizeUI: size, TokenIndex: o.cfg.Asset, Coin: o.cfg.Coin})
}

// Close buys size back on the perp while selling the base amount with swaps.
func (o *Orchestrator) Close(ctx context.Context, size decimal.Decimal) (Result, error) {
	return o.Run(ctx, Session{Direction: Close, TargetBaseSizeUI: size, TokenIndex: o.cfg.Asset, Coin: o.cfg.Coin})
}

func (o *Orchestrator) Run(ctx context.Context, s Session) (Result, error) {
	res := Result{Session: s}
	if s.TargetBaseSizeUI.Sign() <= 0 {
		return res, errors.New("target size must be positive")
	}
	if !o.sm.Begin() {
		return res, ErrBusy
	}
	defer o.sm.Apply(EventReset)

	err := o.run(ctx, s, &res)
	if err != nil {
		res.State = o.sm.Apply(EventAbort)
		o.metrics.SessionsFailed.Inc()
		o.log.Warn("session aborted",
			zap.String("direction", string(s.Direction)),
			zap.String("coin", s.Coin),
			zap.String("hedged", res.Hedged.String()),
			zap.Error(err),
		)
		return res, err
	}
	res.State = o.sm.Apply(EventComplete)
	o.metrics.SessionsCompleted.Inc()
	msg := "position opened"
	if s.Direction == Close {
		msg = "position closed"
	}
	o.log.Info(msg,
		zap.String("coin", s.Coin),
		zap.String("target", s.TargetBaseSizeUI.String()),
		zap.String("hedged", res.Hedged.String()),
		zap.String("swapped", res.Swapped.String()),
		zap.String("final_price", res.Order.FinalPrice.String()),
		zap.Int("reprices", res.Order.Reprices),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, s Session, res *Result) error {
	orderSide, swapSide := exec.SideSell, hedge.Buy
	if s.Direction == Close {
		orderSide, swapSide = exec.SideBuy, hedge.Sell
	}
	if err := o.checkRisk(ctx, s, orderSide); err != nil {
		return err
	}
	baseline, err := o.deps.Positions.Position(ctx, s.Coin)
	if err != nil {
		return fmt.Errorf("baseline position: %w", err)
	}
	res.Baseline = baseline
	if s.Direction == Close && baseline.Abs().LessThan(s.TargetBaseSizeUI) {
		return fmt.Errorf("close size %s exceeds position %s", s.TargetBaseSizeUI, baseline.Abs())
	}

	hedger, err := o.deps.Hedgers(swapSide)
	if err != nil {
		return fmt.Errorf("hedger: %w", err)
	}
	w, err := watcher.New(watcher.Config{
		Direction: s.Direction,
		Baseline:  baseline,
		Target:    s.TargetBaseSizeUI,
		OnDelta:   hedger.Offer,
	}, o.deps.Decode(s.Coin), o.log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hedger.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("hedger: %w", err)
		}
		return nil
	})
	if err := w.Start(o.deps.Stream); err != nil {
		_ = hedger.Close(gctx)
		_ = g.Wait()
		return fmt.Errorf("subscribe account: %w", err)
	}
	defer w.Stop()
	o.log.Info("session started",
		zap.String("direction", string(s.Direction)),
		zap.String("coin", s.Coin),
		zap.String("baseline", baseline.String()),
		zap.String("target", s.TargetBaseSizeUI.String()),
	)

	g.Go(func() error {
		return o.superviseWatcher(gctx, w, res)
	})
	g.Go(func() error {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), o.cfg.CompletionTimeout)
			defer cancel()
			if err := hedger.Close(closeCtx); err != nil {
				o.log.Warn("hedger flush incomplete", zap.Error(err))
			}
		}()
		if err := o.sleep(gctx, o.cfg.SettleDelay); err != nil {
			return err
		}
		o.sm.Apply(EventSettled)
		order, err := o.deps.Trailer.Run(gctx, trail.Request{
			Asset:      s.TokenIndex,
			Coin:       s.Coin,
			Side:       orderSide,
			Size:       s.TargetBaseSizeUI,
			ReduceOnly: s.Direction == Close,
		})
		res.Order = order
		if err != nil {
			return fmt.Errorf("trailing order: %w", err)
		}
		o.sm.Apply(EventFilled)
		return o.awaitWatcher(gctx, w)
	})

	err = g.Wait()
	w.Stop()
	res.Hedged = w.Hedged()
	res.Swapped = hedger.Swapped()
	return err
}

// superviseWatcher applies the anomaly policy and surfaces stream failures.
func (o *Orchestrator) superviseWatcher(ctx context.Context, w *watcher.Watcher, res *Result) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-w.Anomalies():
			if err := o.observeAnomaly(a, res); err != nil {
				return err
			}
		case <-w.Done():
			for {
				select {
				case a := <-w.Anomalies():
					if err := o.observeAnomaly(a, res); err != nil {
						return err
					}
				default:
					return w.Err()
				}
			}
		}
	}
}

func (o *Orchestrator) observeAnomaly(a watcher.Anomaly, res *Result) error {
	res.Anomalies++
	o.metrics.Anomalies.Inc()
	o.deps.OnAnomaly(a)
	if o.cfg.AnomalyPolicy == config.AnomalyAbort {
		return a
	}
	return nil
}

func (o *Orchestrator) awaitWatcher(ctx context.Context, w *watcher.Watcher) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.CompletionTimeout)
	defer cancel()
	err := w.Wait(waitCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		o.log.Warn("position did not reach target before timeout",
			zap.String("hedged", w.Hedged().String()),
			zap.Duration("timeout", o.cfg.CompletionTimeout),
		)
		w.Stop()
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) checkRisk(ctx context.Context, s Session, side exec.Side) error {
	bookSide := book.Bids
	if side == exec.SideSell {
		bookSide = book.Asks
	}
	snap := RiskSnapshot{Size: s.TargetBaseSizeUI}
	if lvl, ok := o.deps.Book.Best(bookSide); ok {
		snap.Price = lvl.Price
	}
	if o.deps.Orders != nil && o.cfg.Risk.MaxOpenOrders > 0 {
		orders, err := o.deps.Orders.OpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("open orders: %w", err)
		}
		snap.OpenOrderCount = len(orders)
	}
	return CheckRisk(o.cfg.Risk, snap)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
