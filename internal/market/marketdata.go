package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/hl/rest"
	"hl-delta-neutral/internal/hl/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	spotAssetOffset = 10000
	metaTTL         = 30 * time.Second
)

type PerpContext struct {
	Name        string
	Index       int
	SzDecimals  int
	OraclePrice decimal.Decimal
	MarkPrice   decimal.Decimal
}

// SpotContext describes a spot pair. Size decimals are -1 when the token
// table did not list the token.
type SpotContext struct {
	Symbol          string
	Base            string
	Quote           string
	Index           int
	BaseSzDecimals  int
	QuoteSzDecimals int
	RawName         string
	MidKey          string
}

// MarketData owns the book caches and the asset metadata for one venue.
type MarketData struct {
	rest  *rest.Client
	ws    *ws.Client
	log   *zap.Logger
	depth int

	mu        sync.RWMutex
	mids      map[string]decimal.Decimal
	books     map[string]*book.Cache
	perps     map[string]PerpContext
	perpByIdx map[int]string
	spots     map[string]SpotContext
	metaAt    time.Time
}

func New(restClient *rest.Client, wsClient *ws.Client, depth int, log *zap.Logger) *MarketData {
	if depth <= 0 {
		depth = book.DefaultDepth
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketData{
		rest:      restClient,
		ws:        wsClient,
		log:       log,
		depth:     depth,
		mids:      make(map[string]decimal.Decimal),
		books:     make(map[string]*book.Cache),
		perps:     make(map[string]PerpContext),
		perpByIdx: make(map[int]string),
		spots:     make(map[string]SpotContext),
	}
}

// Start loads metadata, connects the push stream and subscribes to mids.
// Books are added with TrackBook.
func (m *MarketData) Start(ctx context.Context) error {
	if err := m.RefreshContexts(ctx); err != nil {
		m.log.Warn("context refresh failed", zap.Error(err))
	}
	if m.ws == nil {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	if err := m.ws.Subscribe(ctx, ws.Subscription{Type: "allMids"}); err != nil {
		return err
	}
	go func() {
		err := m.ws.Run(ctx, m.handleMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("market stream stopped", zap.Error(err))
		}
	}()
	return nil
}

// TrackBook returns the cache for coin, seeding it from a REST snapshot and
// subscribing it to the l2Book channel on first use.
func (m *MarketData) TrackBook(ctx context.Context, coin string) (*book.Cache, error) {
	coin = strings.TrimSpace(coin)
	if coin == "" {
		return nil, errors.New("coin is required")
	}
	if cache, ok := m.Book(coin); ok {
		return cache, nil
	}

	cache := book.NewCache(m.depth)
	if m.rest != nil {
		if snap, err := m.rest.L2Book(ctx, coin); err != nil {
			m.log.Warn("l2 book snapshot failed", zap.String("coin", coin), zap.Error(err))
		} else if bids, asks, at, ok := bookLevels(snap); ok {
			cache.Update(asks, bids, at)
		}
	}

	m.mu.Lock()
	if existing, ok := m.books[coin]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.books[coin] = cache
	m.mu.Unlock()

	if m.ws != nil {
		if err := m.ws.Subscribe(ctx, ws.Subscription{Type: "l2Book", Coin: coin}); err != nil {
			return nil, fmt.Errorf("subscribe l2Book %s: %w", coin, err)
		}
	}
	return cache, nil
}

func (m *MarketData) Book(coin string) (*book.Cache, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cache, ok := m.books[coin]
	return cache, ok
}

// RefreshContexts reloads perp and spot metadata. Calls within metaTTL of
// the last successful load are no-ops.
func (m *MarketData) RefreshContexts(ctx context.Context) error {
	if m.rest == nil {
		return nil
	}
	m.mu.RLock()
	fresh := !m.metaAt.IsZero() && time.Since(m.metaAt) < metaTTL
	m.mu.RUnlock()
	if fresh {
		return nil
	}

	var perpRaw, spotRaw json.RawMessage
	if err := m.rest.Do(ctx, rest.InfoRequest{Type: "metaAndAssetCtxs"}, &perpRaw); err != nil {
		return err
	}
	if err := m.rest.Do(ctx, rest.InfoRequest{Type: "spotMeta"}, &spotRaw); err != nil {
		return err
	}
	perps, err := decodePerpContexts(perpRaw)
	if err != nil {
		return err
	}
	spots, err := decodeSpotContexts(spotRaw)
	if err != nil {
		return err
	}
	byIdx := make(map[int]string, len(perps))
	for name, pc := range perps {
		byIdx[pc.Index] = name
	}

	m.mu.Lock()
	m.perps, m.perpByIdx, m.spots = perps, byIdx, spots
	m.metaAt = time.Now()
	m.mu.Unlock()
	return nil
}

// Mid returns the last pushed mid for key, falling back to allMids over REST.
func (m *MarketData) Mid(ctx context.Context, key string) (decimal.Decimal, error) {
	if price, ok := m.cachedMid(key); ok {
		return price, nil
	}
	if m.rest == nil {
		return decimal.Zero, fmt.Errorf("mid price not found for %s", key)
	}
	mids, err := m.rest.AllMids(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	m.storeMids(mids)
	if price, ok := m.cachedMid(key); ok {
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("mid price not found for %s", key)
}

func (m *MarketData) cachedMid(key string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.mids[key]
	return price, ok
}

func (m *MarketData) storeMids(mids map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, price := range mids {
		m.mids[key] = price
	}
}

// SpotContext looks a pair up by symbol, raw name or base token. A bare
// token name also matches its USDC pair.
func (m *MarketData) SpotContext(name string) (SpotContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.spots[name]
	if !ok && !strings.Contains(name, "/") {
		sc, ok = m.spots[name+"/USDC"]
	}
	return sc, ok
}

func (m *MarketData) PerpContext(name string) (PerpContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.perps[name]
	return pc, ok
}

// PerpName resolves a perp asset index to its coin name.
func (m *MarketData) PerpName(index int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.perpByIdx[index]
	return name, ok
}

// SpotAssetID is the asset number spot orders are signed with.
func (m *MarketData) SpotAssetID(name string) (int, bool) {
	sc, ok := m.SpotContext(name)
	if !ok {
		return 0, false
	}
	return spotAssetOffset + sc.Index, true
}

func (m *MarketData) handleMessage(raw json.RawMessage) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.log.Debug("ws decode error", zap.Error(err))
		return
	}
	switch msg.Channel {
	case "l2Book":
		var snap rest.L2Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			m.log.Debug("l2Book decode error", zap.Error(err))
			return
		}
		m.applyBook(snap)
	case "allMids":
		var data wsMids
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			m.log.Debug("allMids decode error", zap.Error(err))
			return
		}
		m.storeMids(data.Mids)
	}
}

func (m *MarketData) applyBook(snap rest.L2Snapshot) {
	cache, tracked := m.Book(snap.Coin)
	if !tracked {
		return
	}
	if bids, asks, at, ok := bookLevels(snap); ok {
		cache.Update(asks, bids, at)
	}
}
