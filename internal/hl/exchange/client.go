package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	vault   *common.Address
	nonces  *nonceClock
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, vaultAddress string) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	var vault *common.Address
	if strings.TrimSpace(vaultAddress) != "" {
		addr := common.HexToAddress(vaultAddress)
		vault = &addr
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		signer: signer,
		vault:  vault,
		nonces: newNonceClock(),
		log:    zap.NewNop(),
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log != nil {
		c.log = log
	}
}

func (c *Client) PlaceOrder(ctx context.Context, order OrderWire) (OrderStatus, error) {
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	resp, err := c.sendAction(ctx, action)
	if err != nil {
		return OrderStatus{}, err
	}
	return ParseOrderStatus(resp)
}

// ModifyOrder replaces the resting order identified by cloid with order.
// order.Cloid should carry the same id so the order keeps its identity.
func (c *Client) ModifyOrder(ctx context.Context, cloid string, order OrderWire) error {
	action := ModifyAction{Type: "modify", Oid: cloid, Order: order}
	resp, err := c.sendAction(ctx, action)
	if err != nil {
		return err
	}
	return CheckResponse(resp)
}

func (c *Client) CancelByCloid(ctx context.Context, asset int, cloid string) error {
	action := CancelByCloidAction{Type: "cancelByCloid", Cancels: []CancelByCloidWire{{Asset: asset, Cloid: cloid}}}
	resp, err := c.sendAction(ctx, action)
	if err != nil {
		return err
	}
	return CheckResponse(resp)
}

func (c *Client) sendAction(ctx context.Context, action msgpack.CustomEncoder) (map[string]any, error) {
	nonce := c.nonces.next()
	sig, err := c.signer.SignL1Action(action, nonce, c.vault)
	if err != nil {
		return nil, err
	}
	return c.postAction(ctx, action, sig, nonce)
}

// InitNonceStore resumes nonces from store and persists every nonce issued
// afterwards. Keys are scoped by venue, signer and vault.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	return c.nonces.bind(ctx, store, nonceStoreKey(c.baseURL, c.signer, c.vault), c.log)
}

func (c *Client) NonceState() (NonceState, bool) {
	return c.nonces.state()
}

func nonceStoreKey(baseURL string, signer *Signer, vaultAddress *common.Address) string {
	addr := "unknown"
	if signer != nil {
		addr = strings.ToLower(signer.Address().Hex())
	}
	vault := "none"
	if vaultAddress != nil {
		vault = strings.ToLower(vaultAddress.Hex())
	}
	return fmt.Sprintf("exchange:nonce:%s:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), addr, vault)
}

func (c *Client) postAction(ctx context.Context, action any, sig Signature, nonce uint64) (map[string]any, error) {
	payload := SignedAction{Action: action, Nonce: nonce, Signature: sig}
	if c.vault != nil {
		addr := c.vault.Hex()
		payload.VaultAddress = &addr
	}
	return c.post(ctx, "/exchange", payload)
}

func (c *Client) post(ctx context.Context, path string, req any) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(payload))
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
