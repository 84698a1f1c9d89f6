package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.hyperliquid.xyz"

// Client talks to the venue's unauthenticated /info endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}, log: log}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

// L2Level is one aggregated price level. N is the number of resting orders.
type L2Level struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int             `json:"n"`
}

// L2Snapshot is the l2Book payload, shared by the info endpoint and the push
// channel. Levels holds bids then asks, best first.
type L2Snapshot struct {
	Coin   string      `json:"coin"`
	Time   int64       `json:"time"`
	Levels [][]L2Level `json:"levels"`
}

// Do posts req to /info and decodes the reply into out.
func (c *Client) Do(ctx context.Context, req any, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("info %s: http %d: %s", infoType(req), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("info %s: decode: %w", infoType(req), err)
	}
	return nil
}

// Info decodes an object reply.
func (c *Client) Info(ctx context.Context, req any) (map[string]any, error) {
	var data map[string]any
	if err := c.Do(ctx, req, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// InfoAny decodes a reply whose top-level shape varies by request type.
func (c *Client) InfoAny(ctx context.Context, req any) (any, error) {
	var data any
	if err := c.Do(ctx, req, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) L2Book(ctx context.Context, coin string) (L2Snapshot, error) {
	var snap L2Snapshot
	err := c.Do(ctx, InfoRequest{Type: "l2Book", Coin: coin}, &snap)
	return snap, err
}

// AllMids returns the mid price of every listed market keyed by coin (perps)
// or pair name (spot, e.g. "@107").
func (c *Client) AllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	var mids map[string]decimal.Decimal
	if err := c.Do(ctx, InfoRequest{Type: "allMids"}, &mids); err != nil {
		return nil, err
	}
	return mids, nil
}

func infoType(req any) string {
	if r, ok := req.(InfoRequest); ok {
		return r.Type
	}
	return "request"
}
