package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hl-delta-neutral/internal/hedge"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL        = "https://quote-api.jup.ag"
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = time.Second
)

var ErrNotConfirmed = errors.New("swap transaction not confirmed")

// RPC is the subset of the Solana JSON-RPC client the router needs.
type RPC interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type Config struct {
	BaseURL        string
	RPCURL         string
	Commitment     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	HTTPTimeout    time.Duration
}

type Router struct {
	base           string
	rpc            RPC
	owner          solana.PrivateKey
	commit         rpc.CommitmentType
	http           *http.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            *zap.Logger
}

type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	OtherAmount    string `json:"otherAmountThreshold"`
	SwapMode       string `json:"swapMode"`
	SlippageBps    int    `json:"slippageBps"`
	RoutePlan      []any  `json:"routePlan"`
	PriceImpactPct string `json:"priceImpactPct"`

	raw json.RawMessage
}

func New(cfg Config, owner solana.PrivateKey, log *zap.Logger) *Router {
	return newRouter(cfg, owner, rpc.New(rpcURL(cfg.RPCURL)), log)
}

func newRouter(cfg Config, owner solana.PrivateKey, client RPC, log *zap.Logger) *Router {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 8 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		base:           cfg.BaseURL,
		rpc:            client,
		owner:          owner,
		commit:         commitment(cfg.Commitment),
		http:           &http.Client{Timeout: cfg.HTTPTimeout},
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		log:            log,
	}
}

func rpcURL(u string) string {
	if u == "" {
		return rpc.MainNetBeta_RPC
	}
	return u
}

func commitment(c string) rpc.CommitmentType {
	switch c {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// Swap quotes, signs, sends and confirms one swap. No route yields a nil result.
func (r *Router) Swap(ctx context.Context, req hedge.SwapRequest) (*hedge.SwapResult, error) {
	quote, err := r.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		r.log.Info("no jupiter route",
			zap.String("input", req.InputMint),
			zap.String("output", req.OutputMint),
			zap.Uint64("amount_raw", req.AmountRaw),
		)
		return nil, nil
	}
	tx, err := r.swapTransaction(ctx, quote)
	if err != nil {
		return nil, err
	}
	sig, err := r.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: r.commit,
	})
	if err != nil {
		return nil, fmt.Errorf("send swap: %w", err)
	}
	if err := r.confirm(ctx, sig); err != nil {
		return nil, err
	}
	in, err := parseAmount(quote.InAmount)
	if err != nil {
		return nil, fmt.Errorf("quote inAmount: %w", err)
	}
	out, err := parseAmount(quote.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("quote outAmount: %w", err)
	}
	return &hedge.SwapResult{TxID: sig.String(), InputAmount: in, OutputAmount: out}, nil
}

// Quote returns nil when Jupiter has no route for the request.
func (r *Router) Quote(ctx context.Context, req hedge.SwapRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.AmountRaw, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	q.Set("swapMode", string(req.Mode))
	q.Set("onlyDirectRoutes", "false")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/v6/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("jupiter quote status %d", resp.StatusCode)
	}
	var out Quote
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if len(out.RoutePlan) == 0 {
		return nil, nil
	}
	out.raw = body
	return &out, nil
}

func (r *Router) swapTransaction(ctx context.Context, quote *Quote) (*solana.Transaction, error) {
	payload := map[string]any{
		"userPublicKey":             r.owner.PublicKey().String(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       false,
		"useTokenLedger":            false,
		"prioritizationFeeLamports": 0,
		"quoteResponse":             quote.raw,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/v6/swap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter swap status %d", resp.StatusCode)
	}
	var sr struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	owner := r.owner.PublicKey()
	// The owner is the only signer; drop the placeholder signatures.
	tx.Signatures = nil
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &r.owner
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return tx, nil
}

func (r *Router) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		res, err := r.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			r.log.Debug("signature status failed", zap.String("tx", sig.String()), zap.Error(err))
		} else if res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("swap %s failed on chain: %v", sig, status.Err)
			}
			if reached(status.ConfirmationStatus, r.commit) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrNotConfirmed, sig)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentProcessed:
		return status != ""
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	default:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}

func parseAmount(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
