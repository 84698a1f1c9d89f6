package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"hl-delta-neutral/internal/state/sqlite"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestInitNonceStoreSeedsAndPersists(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	store, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	ctx := context.Background()
	client, err := NewClient("https://api.hyperliquid.xyz", 2*time.Second, signer, "")
	if err != nil {
		t.Fatalf("client init: %v", err)
	}
	client.SetLogger(zap.NewNop())
	seed := uint64(time.Now().UnixMilli()) + 10_000
	key := nonceStoreKey(client.baseURL, client.signer, client.vault)
	if err := store.Set(ctx, key, strconv.FormatUint(seed, 10)); err != nil {
		t.Fatalf("store seed: %v", err)
	}
	if err := client.InitNonceStore(ctx, store); err != nil {
		t.Fatalf("init nonce store: %v", err)
	}
	if state, ok := client.NonceState(); !ok {
		t.Fatalf("expected nonce state")
	} else if state.Key == "" || state.Last != seed || state.Persisted != seed {
		t.Fatalf("unexpected nonce state: %+v", state)
	}
	nonce := client.nonces.next()
	if nonce != seed+1 {
		t.Fatalf("expected nonce %d, got %d", seed+1, nonce)
	}
	if state, ok := client.NonceState(); !ok {
		t.Fatalf("expected nonce state after update")
	} else if state.Last != nonce || state.Persisted != nonce {
		t.Fatalf("expected nonce state %d, got %+v", nonce, state)
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !ok {
		t.Fatalf("expected stored nonce")
	}
	persisted, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		t.Fatalf("parse stored nonce: %v", err)
	}
	if persisted != nonce {
		t.Fatalf("expected stored nonce %d, got %d", nonce, persisted)
	}
}

func TestClientActionsPostSignedPayloads(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", false)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	var mu sync.Mutex
	var actions []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		action, _ := payload["action"].(map[string]any)
		mu.Lock()
		actions = append(actions, action)
		mu.Unlock()
		switch action["type"] {
		case "order":
			_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":42}}]}}}`))
		case "modify":
			_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"default"}}`))
		default:
			_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Order was never placed, already canceled, or filled."}]}}}`))
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second, signer, "")
	if err != nil {
		t.Fatalf("client init: %v", err)
	}
	ctx := context.Background()
	cloid := NewCloid()
	order, err := LimitOrderWire(5, false, decimal.RequireFromString("2"), decimal.RequireFromString("100"), false, TifGtc, cloid)
	if err != nil {
		t.Fatalf("order wire: %v", err)
	}
	status, err := client.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !status.Resting || status.OrderID != "42" {
		t.Fatalf("unexpected status %+v", status)
	}
	order.Price = "99"
	if err := client.ModifyOrder(ctx, cloid, order); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if err := client.CancelByCloid(ctx, 5, cloid); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejected cancel, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	if actions[1]["oid"] != cloid {
		t.Fatalf("expected modify by cloid, got %v", actions[1]["oid"])
	}
	cancels, _ := actions[2]["cancels"].([]any)
	if len(cancels) != 1 {
		t.Fatalf("expected one cancel, got %v", actions[2])
	}
}
