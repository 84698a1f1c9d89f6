package timescale

import (
	"context"
	"testing"

	"hl-delta-neutral/internal/config"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer for disabled journal, got %v %v", w, err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected dsn error")
	}
	if _, err := New(config.TimescaleConfig{Enabled: true, DSN: "postgres://x", Schema: "bad;schema"}, nil); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *Writer
	w.Start(context.Background())
	w.Record(Event{Kind: "order_placed"})
	if w.Dropped() != 0 {
		t.Fatalf("nil writer should report no drops")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	w := newWriter(nil, "public", 2, nil)
	for i := 0; i < 5; i++ {
		w.Record(Event{Kind: "order_repriced"})
	}
	if got := w.Dropped(); got != 3 {
		t.Fatalf("expected 3 drops, got %d", got)
	}
	ev := <-w.events
	if ev.Time.IsZero() {
		t.Fatalf("expected record to stamp time")
	}
}

func TestRunDrainsOnShutdown(t *testing.T) {
	w := newWriter(nil, "public", 4, nil)
	w.Record(Event{Kind: "swap_executed"})
	w.Record(Event{Kind: "order_filled"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(w.events) != 0 {
		t.Fatalf("expected queue drained, %d left", len(w.events))
	}
}

func TestTableQualifiesSchema(t *testing.T) {
	w := newWriter(nil, "journal", 1, nil)
	if got := w.table("execution_events"); got != "journal.execution_events" {
		t.Fatalf("unexpected table %s", got)
	}
}
