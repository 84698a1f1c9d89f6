package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/hl/rest"
	"hl-delta-neutral/internal/hl/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func infoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rest.InfoRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Type {
		case "l2Book":
			_, _ = w.Write([]byte(`{"coin":"SOL","time":1,"levels":[[{"px":"99","sz":"1","n":1}],[{"px":"100","sz":"5","n":1},{"px":"101","sz":"3","n":1}]]}`))
		case "allMids":
			_, _ = w.Write([]byte(`{"SOL":"99.5","@0":"1.01"}`))
		case "metaAndAssetCtxs":
			_, _ = w.Write([]byte(`[{"universe":[{"name":"BTC","szDecimals":5},{"name":"SOL","szDecimals":2}]},[{"markPx":"30000"},{"markPx":"99.5"}]]`))
		case "spotMeta":
			_, _ = w.Write([]byte(`{"universe":[{"name":"@0","index":0,"tokens":[1,0]}],"tokens":[{"name":"USDC","index":0,"szDecimals":8},{"name":"SOL","index":1,"szDecimals":3}]}`))
		default:
			http.Error(w, "unknown", http.StatusBadRequest)
		}
	}))
}

func TestTrackBookSeedsFromSnapshotThenStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	restServer := infoServer(t)
	defer restServer.Close()

	subscribed := make(chan struct{}, 1)
	wsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if !strings.Contains(string(data), `"l2Book"`) {
				continue
			}
			push := `{"channel":"l2Book","data":{"coin":"SOL","time":2,"levels":[[{"px":"98","sz":"1","n":1}],[{"px":"99","sz":"2","n":1}]]}}`
			if err := conn.Write(ctx, websocket.MessageText, []byte(push)); err != nil {
				return
			}
			select {
			case subscribed <- struct{}{}:
			default:
			}
		}
	}))
	defer wsServer.Close()

	restClient := rest.New(restServer.URL, time.Second, zap.NewNop())
	wsClient := ws.New("ws"+strings.TrimPrefix(wsServer.URL, "http"), 10*time.Millisecond, 0, zap.NewNop())
	md := New(restClient, wsClient, 5, zap.NewNop())
	if err := md.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	cache, err := md.TrackBook(ctx, "SOL")
	if err != nil {
		t.Fatalf("track book: %v", err)
	}
	if err := cache.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	<-subscribed
	deadline := time.Now().Add(time.Second)
	for {
		best, _ := cache.Best(book.Asks)
		if best.Price.Equal(decimal.NewFromInt(99)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected streamed ask 99, got %s", best.Price)
		}
		time.Sleep(10 * time.Millisecond)
	}
	again, err := md.TrackBook(ctx, "SOL")
	if err != nil || again != cache {
		t.Fatalf("expected same cache on second track, err=%v", err)
	}
}

func TestRefreshContextsAndLookups(t *testing.T) {
	restServer := infoServer(t)
	defer restServer.Close()

	md := New(rest.New(restServer.URL, time.Second, zap.NewNop()), nil, 0, zap.NewNop())
	ctx := context.Background()
	if err := md.RefreshContexts(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if name, ok := md.PerpName(1); !ok || name != "SOL" {
		t.Fatalf("expected index 1 -> SOL, got %q ok=%v", name, ok)
	}
	if perp, ok := md.PerpContext("SOL"); !ok || perp.SzDecimals != 2 {
		t.Fatalf("unexpected SOL perp context %+v", perp)
	}
	if id, ok := md.SpotAssetID("SOL"); !ok || id != 10000 {
		t.Fatalf("expected spot asset id 10000, got %d ok=%v", id, ok)
	}
	spot, ok := md.SpotContext("SOL")
	if !ok || spot.BaseSzDecimals != 3 || spot.MidKey != "@0" {
		t.Fatalf("unexpected spot context %+v", spot)
	}
	mid, err := md.Mid(ctx, spot.MidKey)
	if err != nil || !mid.Equal(decimal.RequireFromString("1.01")) {
		t.Fatalf("expected mid 1.01, got %s err=%v", mid, err)
	}
	if _, err := md.Mid(ctx, "NOPE"); err == nil {
		t.Fatalf("expected missing mid error")
	}
}
