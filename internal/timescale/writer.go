package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hl-delta-neutral/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Event is one execution journal row. Price and Size are decimal strings.
type Event struct {
	Time          time.Time
	Session       string
	Kind          string
	Coin          string
	Side          string
	ClientOrderID string
	TxID          string
	Price         string
	Size          string
	Detail        string
}

// Writer journals execution events asynchronously. A nil *Writer is a valid
// disabled journal.
type Writer struct {
	db     *sql.DB
	log    *zap.Logger
	schema string
	events chan Event

	started atomic.Bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	if !schemaPattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid timescale schema %q", schema)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	w := newWriter(db, schema, cfg.QueueSize, log)
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		events: make(chan Event, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for the worker to drain once its context is done, then closes
// the database.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.wg.Wait()
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record queues an event without blocking. Events are dropped when the queue
// is full.
func (w *Writer) Record(ev Event) {
	if w == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	select {
	case w.events <- ev:
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("timescale event queue full")
		}
	}
}

// Dropped reports how many events were discarded.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case ev := <-w.events:
			w.write(ctx, ev)
		}
	}
}

// drain flushes queued events with a fresh deadline after shutdown.
func (w *Writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case ev := <-w.events:
			w.write(ctx, ev)
		default:
			return
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		session TEXT NOT NULL,
		kind TEXT NOT NULL,
		coin TEXT NOT NULL,
		side TEXT NOT NULL DEFAULT '',
		cloid TEXT NOT NULL DEFAULT '',
		tx_id TEXT NOT NULL DEFAULT '',
		price NUMERIC,
		size NUMERIC,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("execution_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("execution_events"))); err != nil {
		w.log.Warn("timescale execution_events hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) write(ctx context.Context, ev Event) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, session, kind, coin, side, cloid, tx_id, price, size, detail
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("execution_events"))
	if _, err := w.db.ExecContext(ctx, query,
		ev.Time,
		ev.Session,
		ev.Kind,
		ev.Coin,
		ev.Side,
		ev.ClientOrderID,
		ev.TxID,
		nullableNumeric(ev.Price),
		nullableNumeric(ev.Size),
		ev.Detail,
	); err != nil {
		w.log.Warn("timescale event insert failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func nullableNumeric(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
