package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hl-delta-neutral/internal/hedge"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type fakeRPC struct {
	mu       sync.Mutex
	sent     []*solana.Transaction
	statuses []rpc.ConfirmationStatusType
	txErr    any
}

func (f *fakeRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(_ context.Context, _ bool, _ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := rpc.ConfirmationStatusType("")
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{ConfirmationStatus: status, Err: f.txErr}},
	}, nil
}

func unsignedSwapTx(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{solana.Meta(payer).WRITE().SIGNER()}, []byte{2, 0, 0, 0})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func newJupiterServer(t *testing.T, payer solana.PublicKey, route bool) (*httptest.Server, *quoteParams) {
	t.Helper()
	seen := &quoteParams{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v6/quote":
			seen.set(r.URL.Query().Get("swapMode"), r.URL.Query().Get("amount"))
			if !route {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"Could not find any route"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"inputMint":  r.URL.Query().Get("inputMint"),
				"outputMint": r.URL.Query().Get("outputMint"),
				"inAmount":   "2010000",
				"outAmount":  r.URL.Query().Get("amount"),
				"swapMode":   r.URL.Query().Get("swapMode"),
				"routePlan":  []any{map[string]any{"percent": 100}},
			})
		case "/v6/swap":
			var body map[string]json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode swap body: %v", err)
			}
			if len(body["quoteResponse"]) == 0 {
				t.Errorf("swap request missing quoteResponse")
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"swapTransaction": unsignedSwapTx(t, payer)})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	return server, seen
}

type quoteParams struct {
	mu     sync.Mutex
	mode   string
	amount string
}

func (u *quoteParams) set(mode, amount string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mode, u.amount = mode, amount
}

func (u *quoteParams) get() (string, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode, u.amount
}

func TestRouterSwapExactOut(t *testing.T) {
	wallet := solana.NewWallet()
	server, seen := newJupiterServer(t, wallet.PublicKey(), true)
	defer server.Close()
	chain := &fakeRPC{statuses: []rpc.ConfirmationStatusType{"", rpc.ConfirmationStatusProcessed, rpc.ConfirmationStatusConfirmed}}
	router := newRouter(Config{BaseURL: server.URL, PollInterval: time.Millisecond}, wallet.PrivateKey, chain, nil)

	res, err := router.Swap(context.Background(), hedge.SwapRequest{
		InputMint:   "USDC",
		OutputMint:  "SOL",
		AmountRaw:   1_500_000_000,
		Mode:        hedge.ExactOut,
		SlippageBps: 10,
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if res == nil {
		t.Fatalf("expected swap result")
	}
	if res.InputAmount != 2010000 || res.OutputAmount != 1_500_000_000 {
		t.Fatalf("unexpected amounts %+v", res)
	}
	if mode, amount := seen.get(); mode != "ExactOut" || amount != "1500000000" {
		t.Fatalf("unexpected quote params mode=%s amount=%s", mode, amount)
	}
	if len(chain.sent) != 1 {
		t.Fatalf("expected one transaction sent, got %d", len(chain.sent))
	}
	if err := chain.sent[0].VerifySignatures(); err != nil {
		t.Fatalf("transaction not signed by owner: %v", err)
	}
	if res.TxID != chain.sent[0].Signatures[0].String() {
		t.Fatalf("unexpected tx id %s", res.TxID)
	}
}

func TestRouterNoRouteReturnsNil(t *testing.T) {
	wallet := solana.NewWallet()
	server, _ := newJupiterServer(t, wallet.PublicKey(), false)
	defer server.Close()
	chain := &fakeRPC{}
	router := newRouter(Config{BaseURL: server.URL}, wallet.PrivateKey, chain, nil)

	res, err := router.Swap(context.Background(), hedge.SwapRequest{InputMint: "A", OutputMint: "B", AmountRaw: 1, Mode: hedge.ExactIn})
	if err != nil || res != nil {
		t.Fatalf("expected nil result without error, got %+v %v", res, err)
	}
	if len(chain.sent) != 0 {
		t.Fatalf("nothing should be sent without a route")
	}
}

func TestRouterChainFailure(t *testing.T) {
	wallet := solana.NewWallet()
	server, _ := newJupiterServer(t, wallet.PublicKey(), true)
	defer server.Close()
	chain := &fakeRPC{txErr: map[string]any{"InstructionError": []any{0, "Custom"}}}
	router := newRouter(Config{BaseURL: server.URL, PollInterval: time.Millisecond}, wallet.PrivateKey, chain, nil)

	res, err := router.Swap(context.Background(), hedge.SwapRequest{InputMint: "A", OutputMint: "B", AmountRaw: 5, Mode: hedge.ExactIn})
	if err == nil || res != nil {
		t.Fatalf("expected chain failure, got %+v %v", res, err)
	}
}

func TestRouterConfirmTimeout(t *testing.T) {
	wallet := solana.NewWallet()
	server, _ := newJupiterServer(t, wallet.PublicKey(), true)
	defer server.Close()
	chain := &fakeRPC{}
	router := newRouter(Config{BaseURL: server.URL, PollInterval: time.Millisecond, ConfirmTimeout: 20 * time.Millisecond}, wallet.PrivateKey, chain, nil)

	_, err := router.Swap(context.Background(), hedge.SwapRequest{InputMint: "A", OutputMint: "B", AmountRaw: 5, Mode: hedge.ExactIn})
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected not confirmed, got %v", err)
	}
}

func TestCommitment(t *testing.T) {
	if commitment("finalized") != rpc.CommitmentFinalized {
		t.Fatalf("expected finalized")
	}
	if commitment("") != rpc.CommitmentConfirmed {
		t.Fatalf("expected confirmed default")
	}
	if reached(rpc.ConfirmationStatusProcessed, rpc.CommitmentConfirmed) {
		t.Fatalf("processed must not satisfy confirmed")
	}
}
