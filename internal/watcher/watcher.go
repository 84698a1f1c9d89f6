package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hl-delta-neutral/internal/amount"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrAnomaly      = errors.New("position moved against session direction")
	ErrStreamClosed = errors.New("account stream closed")
)

type Direction string

const (
	Open  Direction = "open"
	Close Direction = "close"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Open, Close:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Expects reports whether a position change of delta moves in d's direction.
func (d Direction) Expects(delta decimal.Decimal) bool {
	if d == Open {
		return delta.Sign() > 0
	}
	return delta.Sign() < 0
}

// Anomaly is a position change against the session direction. It is reported,
// never hedged.
type Anomaly struct {
	Direction Direction
	Previous  decimal.Decimal
	Observed  decimal.Decimal
	At        time.Time
}

func (a Anomaly) Error() string {
	return fmt.Sprintf("%s: %s session saw position %s -> %s", ErrAnomaly, a.Direction, a.Previous, a.Observed)
}

func (a Anomaly) Unwrap() error {
	return ErrAnomaly
}

type Subscription interface {
	Unsubscribe()
	Done() <-chan struct{}
	Err() error
}

type Stream interface {
	Subscribe(handler func(raw []byte)) (Subscription, error)
}

// Decoder extracts the signed base position size from a raw account payload.
type Decoder func(raw []byte) (decimal.Decimal, error)

type Config struct {
	Direction Direction
	// Baseline is the absolute position size before the session starts.
	Baseline decimal.Decimal
	// Target is the cumulative size change that completes the session.
	Target  decimal.Decimal
	OnDelta func(delta decimal.Decimal)
}

type Watcher struct {
	cfg    Config
	decode Decoder
	log    *zap.Logger

	anomalies chan Anomaly

	mu           sync.Mutex
	lastObserved decimal.Decimal
	hedged       decimal.Decimal
	sub          Subscription
	err          error

	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, decode Decoder, log *zap.Logger) (*Watcher, error) {
	if cfg.Direction != Open && cfg.Direction != Close {
		return nil, fmt.Errorf("unknown direction %q", cfg.Direction)
	}
	if decode == nil {
		return nil, errors.New("decoder is required")
	}
	if cfg.OnDelta == nil {
		return nil, errors.New("delta callback is required")
	}
	if cfg.Target.Sign() <= 0 {
		return nil, errors.New("target must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		cfg:          cfg,
		decode:       decode,
		log:          log,
		anomalies:    make(chan Anomaly, 16),
		lastObserved: cfg.Baseline.Abs(),
		done:         make(chan struct{}),
	}, nil
}

// Start registers the subscription. Notifications may arrive before Start returns.
func (w *Watcher) Start(stream Stream) error {
	sub, err := stream.Subscribe(w.handle)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sub = sub
	stopped := false
	select {
	case <-w.done:
		// Stopped before the subscription was recorded.
		stopped = true
	default:
	}
	w.mu.Unlock()
	if stopped {
		sub.Unsubscribe()
		return nil
	}
	go func() {
		select {
		case <-w.done:
		case <-sub.Done():
			err := sub.Err()
			if err == nil {
				err = ErrStreamClosed
			} else if !errors.Is(err, ErrStreamClosed) {
				err = fmt.Errorf("%w: %v", ErrStreamClosed, err)
			}
			w.stop(err)
		}
	}()
	return nil
}

func (w *Watcher) handle(raw []byte) {
	signed, err := w.decode(raw)
	if err != nil {
		w.log.Warn("position decode failed", zap.Error(err))
		return
	}
	size := signed.Abs()

	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return
	default:
	}
	delta := size.Sub(w.lastObserved)
	if delta.IsZero() {
		w.mu.Unlock()
		return
	}
	if !w.cfg.Direction.Expects(delta) {
		anomaly := Anomaly{Direction: w.cfg.Direction, Previous: w.lastObserved, Observed: size, At: time.Now().UTC()}
		w.mu.Unlock()
		w.reportAnomaly(anomaly)
		return
	}
	w.lastObserved = size
	w.hedged = size.Sub(w.cfg.Baseline.Abs()).Abs()
	hedged := w.hedged
	w.mu.Unlock()

	w.log.Info("position changed",
		zap.String("direction", string(w.cfg.Direction)),
		zap.String("size", size.String()),
		zap.String("delta", delta.Abs().String()),
		zap.String("cumulative", hedged.String()),
	)
	w.cfg.OnDelta(delta.Abs())

	floored := amount.Floor(hedged, 2)
	if floored.GreaterThanOrEqual(w.cfg.Target) {
		if floored.GreaterThan(w.cfg.Target) {
			w.log.Warn("position overshot target",
				zap.String("cumulative", hedged.String()),
				zap.String("target", w.cfg.Target.String()),
			)
		}
		w.stop(nil)
	}
}

func (w *Watcher) reportAnomaly(a Anomaly) {
	w.log.Warn("position anomaly",
		zap.String("direction", string(a.Direction)),
		zap.String("previous", a.Previous.String()),
		zap.String("observed", a.Observed.String()),
	)
	select {
	case w.anomalies <- a:
	default:
		w.log.Warn("anomaly channel full, dropping report")
	}
}

// Stop tears the subscription down without marking the target reached.
func (w *Watcher) Stop() {
	w.stop(nil)
}

func (w *Watcher) stop(err error) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		sub := w.sub
		close(w.done)
		w.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

// Wait blocks until the watcher finishes or ctx ends.
func (w *Watcher) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return w.Err()
	}
}

func (w *Watcher) Anomalies() <-chan Anomaly {
	return w.anomalies
}

func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Hedged is the cumulative position change handed to the delta callback.
func (w *Watcher) Hedged() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hedged
}

func (w *Watcher) Reached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return amount.Floor(w.hedged, 2).GreaterThanOrEqual(w.cfg.Target)
}
