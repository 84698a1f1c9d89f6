package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"hl-delta-neutral/internal/exec"
	"hl-delta-neutral/internal/hl/rest"
	"hl-delta-neutral/internal/hl/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoTradingAccount is returned when the configured user has no account on the venue.
var ErrNoTradingAccount = errors.New("no trading account")

// Account streams clearinghouseState pushes for one user and answers REST
// queries about its positions and open orders.
type Account struct {
	rest *rest.Client
	ws   *ws.Client
	log  *zap.Logger
	user string

	mu       sync.Mutex
	handlers map[uint64]func([]byte)
	nextID   uint64
	started  bool
	done     chan struct{}
	err      error
}

func New(restClient *rest.Client, wsClient *ws.Client, log *zap.Logger, user string) *Account {
	return &Account{
		rest:     restClient,
		ws:       wsClient,
		log:      log,
		user:     strings.TrimSpace(user),
		handlers: make(map[uint64]func([]byte)),
		done:     make(chan struct{}),
	}
}

func (a *Account) User() string {
	return a.user
}

// Start subscribes to the user's clearinghouseState channel. Handlers added
// with Subscribe receive each push's data payload on the stream goroutine.
func (a *Account) Start(ctx context.Context) error {
	if a.ws == nil {
		return errors.New("ws client is required")
	}
	if a.user == "" {
		return errors.New("account user is required for ws subscriptions")
	}
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()
	if err := a.ws.Connect(ctx); err != nil {
		return err
	}
	if err := a.ws.Subscribe(ctx, ws.Subscription{Type: "clearinghouseState", User: a.user}); err != nil {
		return err
	}
	go func() {
		err := a.ws.Run(ctx, a.handleMessage)
		a.fail(err)
	}()
	return nil
}

func (a *Account) Subscribe(handler func(raw []byte)) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
		return nil, fmt.Errorf("account stream stopped: %w", a.err)
	default:
	}
	a.nextID++
	id := a.nextID
	a.handlers[id] = handler
	return &Subscription{account: a, id: id}, nil
}

type Subscription struct {
	account *Account
	id      uint64
	once    sync.Once
}

// Unsubscribe removes the handler. Later calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.account.mu.Lock()
		delete(s.account.handlers, s.id)
		s.account.mu.Unlock()
	})
}

// Done is closed when the underlying stream stops for good.
func (s *Subscription) Done() <-chan struct{} {
	return s.account.done
}

func (s *Subscription) Err() error {
	s.account.mu.Lock()
	defer s.account.mu.Unlock()
	return s.account.err
}

func (a *Account) fail(err error) {
	if err == nil {
		err = errors.New("account stream closed")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
		return
	default:
	}
	a.err = err
	close(a.done)
	if a.log != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("account stream stopped", zap.Error(err))
	}
}

func (a *Account) handleMessage(msg json.RawMessage) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		if a.log != nil {
			a.log.Debug("account ws decode failed", zap.Error(err))
		}
		return
	}
	if envelope.Channel != "clearinghouseState" || len(envelope.Data) == 0 {
		return
	}
	a.mu.Lock()
	handlers := make([]func([]byte), 0, len(a.handlers))
	for _, h := range a.handlers {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()
	for _, h := range handlers {
		h(envelope.Data)
	}
}

// DecodePosition returns the signed position size (szi) for coin from a
// clearinghouseState payload. A coin without a position decodes to zero.
func DecodePosition(raw []byte, coin string) (decimal.Decimal, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode clearinghouse state: %w", err)
	}
	state := clearinghouseState(payload)
	if state == nil {
		return decimal.Zero, errors.New("clearinghouse state missing")
	}
	return parsePositions(state)[coin], nil
}

func (a *Account) Position(ctx context.Context, coin string) (decimal.Decimal, error) {
	state, err := a.clearinghouse(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return parsePositions(state)[coin], nil
}

// Exists fails with ErrNoTradingAccount when the venue does not know the user.
func (a *Account) Exists(ctx context.Context) error {
	if a.rest == nil {
		return errors.New("rest client is required")
	}
	if a.user == "" {
		return fmt.Errorf("%w: account user is empty", ErrNoTradingAccount)
	}
	role, err := a.rest.Info(ctx, rest.InfoRequest{Type: "userRole", User: a.user})
	if err != nil {
		return err
	}
	if strings.EqualFold(stringFromAny(role["role"]), "missing") {
		return fmt.Errorf("%w: %s", ErrNoTradingAccount, a.user)
	}
	state, err := a.clearinghouse(ctx)
	if err != nil {
		return err
	}
	if _, ok := state["marginSummary"].(map[string]any); !ok {
		return fmt.Errorf("%w: clearinghouse state unreadable for %s", ErrNoTradingAccount, a.user)
	}
	return nil
}

func (a *Account) AccountValue(ctx context.Context) (decimal.Decimal, error) {
	state, err := a.clearinghouse(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	summary, _ := state["marginSummary"].(map[string]any)
	value, _ := decimalFromAny(summary["accountValue"])
	return value, nil
}

func (a *Account) SpotBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	resp, err := a.rest.Info(ctx, rest.InfoRequest{Type: "spotClearinghouseState", User: a.user})
	if err != nil {
		return nil, err
	}
	return parseBalances(resp), nil
}

// OpenOrders lists resting orders through frontendOpenOrders, which carries cloids.
func (a *Account) OpenOrders(ctx context.Context) ([]exec.OpenOrder, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	if a.user == "" {
		return nil, errors.New("account user is required")
	}
	resp, err := a.rest.InfoAny(ctx, rest.InfoRequest{Type: "frontendOpenOrders", User: a.user})
	if err != nil {
		return nil, err
	}
	return parseOpenOrders(resp), nil
}

func (a *Account) clearinghouse(ctx context.Context) (map[string]any, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	resp, err := a.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: a.user})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// clearinghouseState unwraps the ws envelope {"user", "clearinghouseState": {...}}
// and accepts the flat REST shape as is.
func clearinghouseState(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	if nested, ok := payload["clearinghouseState"].(map[string]any); ok {
		return nested
	}
	if nested, ok := payload["data"].(map[string]any); ok {
		return clearinghouseState(nested)
	}
	if _, ok := payload["assetPositions"]; ok {
		return payload
	}
	if _, ok := payload["marginSummary"]; ok {
		return payload
	}
	return nil
}

func parsePositions(payload map[string]any) map[string]decimal.Decimal {
	positions := make(map[string]decimal.Decimal)
	raw, ok := payload["assetPositions"].([]any)
	if !ok {
		return positions
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		asset := stringFromAny(pos["coin"])
		if asset == "" {
			continue
		}
		size, ok := decimalFromAny(pos["szi"])
		if !ok {
			size, _ = decimalFromAny(pos["size"])
		}
		positions[asset] = size
	}
	return positions
}

func parseBalances(payload map[string]any) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal)
	raw, ok := payload["balances"].([]any)
	if !ok {
		return balances
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		coin := stringFromAny(entry["coin"])
		if coin == "" {
			coin = stringFromAny(entry["token"])
		}
		if coin == "" {
			continue
		}
		total, ok := decimalFromAny(entry["total"])
		if !ok {
			continue
		}
		balances[coin] = total
	}
	return balances
}

func parseOpenOrders(payload any) []exec.OpenOrder {
	var raw []any
	switch val := payload.(type) {
	case []any:
		raw = val
	case map[string]any:
		raw, _ = val["openOrders"].([]any)
	}
	orders := make([]exec.OpenOrder, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		order := exec.OpenOrder{
			Cloid:   strings.ToLower(stringFromAny(entry["cloid"])),
			OrderID: stringFromAny(entry["oid"]),
			Coin:    stringFromAny(entry["coin"]),
			Side:    sideFromAny(entry["side"]),
		}
		order.Price, _ = decimalFromAny(entry["limitPx"])
		order.Size, _ = decimalFromAny(entry["sz"])
		if order.OrderID == "" && order.Cloid == "" {
			continue
		}
		orders = append(orders, order)
	}
	return orders
}

// sideFromAny maps the venue's "B"/"A" (bid/ask) markers.
func sideFromAny(v any) exec.Side {
	switch strings.ToUpper(stringFromAny(v)) {
	case "B", "BUY", "BID":
		return exec.SideBuy
	default:
		return exec.SideSell
	}
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', 0, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
