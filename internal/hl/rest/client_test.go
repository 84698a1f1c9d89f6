package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestL2BookDecodesLevels(t *testing.T) {
	var got InfoRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"coin":"SOL","time":1700000000000,"levels":[[{"px":"99","sz":"1","n":1}],[{"px":"100","sz":"2.5","n":3}]]}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", time.Second, zap.NewNop())
	snap, err := client.L2Book(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("l2book: %v", err)
	}
	if got.Type != "l2Book" || got.Coin != "SOL" {
		t.Fatalf("unexpected request %+v", got)
	}
	if snap.Coin != "SOL" || snap.Time != 1700000000000 || len(snap.Levels) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	ask := snap.Levels[1][0]
	if !ask.Px.Equal(decimal.NewFromInt(100)) || !ask.Sz.Equal(decimal.RequireFromString("2.5")) || ask.N != 3 {
		t.Fatalf("unexpected ask %+v", ask)
	}
}

func TestAllMids(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"SOL":"99.5","@107":"1.01"}`))
	}))
	defer server.Close()

	mids, err := New(server.URL, time.Second, nil).AllMids(context.Background())
	if err != nil {
		t.Fatalf("all mids: %v", err)
	}
	if !mids["@107"].Equal(decimal.RequireFromString("1.01")) || len(mids) != 2 {
		t.Fatalf("unexpected mids %v", mids)
	}
}

func TestInfoHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, zap.NewNop())
	_, err := client.InfoAny(context.Background(), InfoRequest{Type: "meta"})
	if err == nil || !strings.Contains(err.Error(), "info meta: http 429") {
		t.Fatalf("expected http 429 error, got %v", err)
	}
}

func TestDefaultBaseURL(t *testing.T) {
	if got := New("  ", time.Second, nil).BaseURL(); got != DefaultBaseURL {
		t.Fatalf("expected default base url, got %s", got)
	}
}
