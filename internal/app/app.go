package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hl-delta-neutral/internal/account"
	"hl-delta-neutral/internal/alerts"
	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/coalesce"
	"hl-delta-neutral/internal/config"
	"hl-delta-neutral/internal/exec"
	"hl-delta-neutral/internal/hedge"
	"hl-delta-neutral/internal/hl/exchange"
	"hl-delta-neutral/internal/hl/rest"
	"hl-delta-neutral/internal/hl/ws"
	"hl-delta-neutral/internal/market"
	"hl-delta-neutral/internal/metrics"
	"hl-delta-neutral/internal/session"
	persist "hl-delta-neutral/internal/state"
	"hl-delta-neutral/internal/state/sqlite"
	"hl-delta-neutral/internal/swap/hlspot"
	"hl-delta-neutral/internal/swap/jupiter"
	"hl-delta-neutral/internal/timescale"
	"hl-delta-neutral/internal/trail"
	"hl-delta-neutral/internal/watcher"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const bookReadyTimeout = 10 * time.Second

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	rest      *rest.Client
	exchange  *exchange.Client
	market    *market.MarketData
	account   *account.Account
	executor  *exec.Executor
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	journal   *timescale.Writer
	solanaKey solana.PrivateKey
	sessionID string
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	wallet := cfg.Wallet
	if wallet.Address == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	if wallet.PrivateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(wallet.PrivateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(wallet.Address, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet.Address, signer.Address().Hex())
	}
	var solanaKey solana.PrivateKey
	if cfg.Hedge.Router == config.RouterJupiter {
		if wallet.SolanaPrivateKey == "" {
			return nil, errors.New("SOLANA_PRIVATE_KEY_BASE58 is required for the jupiter router")
		}
		solanaKey, err = solana.PrivateKeyFromBase58(wallet.SolanaPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("solana private key: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, wallet.VaultAddress)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	exClient.SetLogger(log)
	journal, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	marketWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	accountWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	accountClient := account.New(restClient, accountWS, log, wallet.AccountAddress)

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		rest:      restClient,
		exchange:  exClient,
		market:    market.New(restClient, marketWS, cfg.Session.BookDepth, log),
		account:   accountClient,
		executor:  exec.New(&exchangeAdapter{client: exClient}, accountClient, log),
		metrics:   m,
		prom:      prom,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		journal:   journal,
		solanaKey: solanaKey,
		sessionID: uuid.NewString(),
	}, nil
}

// Run executes one session in direction. A zero size is derived from the
// configured notional at the best ask.
func (a *App) Run(ctx context.Context, direction session.Direction, size decimal.Decimal) (session.Result, error) {
	defer a.store.Close()
	if a.journal != nil {
		a.journal.Start(ctx)
		defer func() {
			if err := a.journal.Close(); err != nil {
				a.log.Warn("journal close failed", zap.Error(err))
			}
		}()
	}
	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if state, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
	}
	if err := a.account.Exists(ctx); err != nil {
		return session.Result{}, err
	}
	if last, ok, err := persist.LoadLastSession(ctx, a.store); err != nil {
		a.log.Warn("last session unreadable", zap.Error(err))
	} else if ok {
		a.log.Info("previous session",
			zap.String("direction", last.Direction),
			zap.String("coin", last.Coin),
			zap.String("outcome", last.Outcome),
			zap.String("hedged", last.HedgedSize),
		)
	}

	if err := a.market.Start(ctx); err != nil {
		return session.Result{}, err
	}
	coin := a.cfg.Session.Coin
	perp, ok := a.market.PerpContext(coin)
	if !ok {
		return session.Result{}, fmt.Errorf("perp context not found for %s", coin)
	}
	cache, err := a.market.TrackBook(ctx, coin)
	if err != nil {
		return session.Result{}, err
	}
	readyCtx, cancel := context.WithTimeout(ctx, bookReadyTimeout)
	err = cache.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return session.Result{}, fmt.Errorf("order book for %s not ready: %w", coin, err)
	}
	if err := a.account.Start(ctx); err != nil {
		return session.Result{}, err
	}

	if size.Sign() <= 0 {
		ask, _ := cache.Best(book.Asks)
		size, err = session.DefaultSize(a.cfg.Session.NotionalUSD, ask.Price)
		if err != nil {
			return session.Result{}, err
		}
	}
	router, err := a.router(ctx)
	if err != nil {
		return session.Result{}, err
	}
	orch, err := a.orchestrator(cache, router, perp.Index)
	if err != nil {
		return session.Result{}, err
	}

	started := time.Now().UTC()
	var res session.Result
	if direction == session.Close {
		res, err = orch.Close(ctx, size)
	} else {
		res, err = orch.Open(ctx, size)
	}
	a.finish(res, err, started)
	return res, err
}

func (a *App) orchestrator(cache *book.Cache, router hedge.Router, asset int) (*session.Orchestrator, error) {
	engine := trail.New(a.executor, cache, trail.Config{
		PollInterval: a.cfg.Session.PollInterval,
		RecheckDelay: a.cfg.Session.RecheckDelay,
	}, a.log, a.metrics)
	engine.OnEvent(a.recordOrderEvent)

	return session.New(session.Deps{
		Positions: a.account,
		Orders:    a.account,
		Stream:    accountStream{account: a.account},
		Decode:    positionDecoder,
		Trailer:   engine,
		Book:      cache,
		Hedgers: func(side hedge.Side) (session.Hedger, error) {
			h, err := a.hedger(router, side)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
		OnAnomaly: a.recordAnomaly,
	}, session.Config{
		Coin:              a.cfg.Session.Coin,
		Asset:             asset,
		SettleDelay:       a.cfg.Session.SettleDelay,
		CompletionTimeout: a.cfg.Session.CompletionTimeout,
		AnomalyPolicy:     a.cfg.Session.AnomalyPolicy,
		Risk:              a.cfg.Risk,
	}, a.log, a.metrics)
}

func (a *App) hedger(router hedge.Router, side hedge.Side) (*hedge.Hedger, error) {
	h := a.cfg.Hedge
	executor, err := hedge.NewExecutor(router, hedge.ExecutorConfig{
		Side:         side,
		BaseMint:     h.BaseMint,
		QuoteMint:    h.QuoteMint,
		BaseDecimals: h.BaseDecimals,
		SlippageBps:  h.SlippageBps,
		RetryDelay:   h.RetryDelay,
	}, a.log, a.metrics)
	if err != nil {
		return nil, err
	}
	merge := coalesce.Sum[decimal.Decimal]
	if h.Merge == config.MergeLatest {
		merge = coalesce.Latest[decimal.Decimal]
	}
	return hedge.NewHedger(executor, h.QuietWindow, merge, a.log), nil
}

// router builds the configured swap venue, wrapped so confirmed swaps reach
// the journal.
func (a *App) router(ctx context.Context) (hedge.Router, error) {
	h := &a.cfg.Hedge
	switch h.Router {
	case config.RouterJupiter:
		j := jupiter.New(jupiter.Config{
			BaseURL:        h.Jupiter.BaseURL,
			RPCURL:         h.Jupiter.RPCURL,
			Commitment:     h.Jupiter.Commitment,
			ConfirmTimeout: h.Jupiter.ConfirmTimeout,
		}, a.solanaKey, a.log)
		return &journalRouter{next: j, app: a}, nil
	case config.RouterHLSpot:
		if err := a.market.RefreshContexts(ctx); err != nil {
			a.log.Warn("context refresh failed", zap.Error(err))
		}
		spot, ok := a.market.SpotContext(h.Spot.Market)
		if !ok {
			return nil, fmt.Errorf("spot market not found for %s", h.Spot.Market)
		}
		assetID, _ := a.market.SpotAssetID(h.Spot.Market)
		if h.BaseMint == "" {
			h.BaseMint = spot.Base
		}
		if h.QuoteMint == "" {
			h.QuoteMint = spot.Quote
		}
		if h.BaseDecimals <= 0 {
			h.BaseDecimals = spot.BaseSzDecimals
		}
		midKey := spot.MidKey
		if midKey == "" {
			midKey = spot.Symbol
		}
		r, err := hlspot.New(a.market, a.exchange, hlspot.Config{
			Asset:         assetID,
			MidKey:        midKey,
			BaseMint:      h.BaseMint,
			QuoteMint:     h.QuoteMint,
			SzDecimals:    spot.BaseSzDecimals,
			BaseDecimals:  h.BaseDecimals,
			QuoteDecimals: h.QuoteDecimals,
		}, a.log)
		if err != nil {
			return nil, err
		}
		return &journalRouter{next: r, app: a}, nil
	default:
		return nil, fmt.Errorf("unknown hedge router %q", h.Router)
	}
}

func (a *App) finish(res session.Result, runErr error, started time.Time) {
	record := sessionRecord(res, runErr, started, time.Now().UTC())
	// A fresh context: the run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := persist.SaveLastSession(ctx, a.store, record); err != nil {
		a.log.Warn("last session save failed", zap.Error(err))
	}
	a.recordSession(res, runErr)

	coin := res.Session.Coin
	switch {
	case runErr != nil:
		a.alerts.Alarm(ctx, "%s %s aborted after hedging %s: %v", res.Session.Direction, coin, res.Hedged, runErr)
	case res.Session.Direction == session.Close:
		a.alerts.Notify(ctx, "Closed %s %s at %s (hedged %s)", coin, res.Session.TargetBaseSizeUI, res.Order.FinalPrice, res.Hedged)
	default:
		a.alerts.Notify(ctx, "Opened %s %s at %s (hedged %s)", coin, res.Session.TargetBaseSizeUI, res.Order.FinalPrice, res.Hedged)
	}
}

func sessionRecord(res session.Result, runErr error, started, ended time.Time) persist.SessionRecord {
	record := persist.SessionRecord{
		Direction:   string(res.Session.Direction),
		Coin:        res.Session.Coin,
		TargetSize:  res.Session.TargetBaseSizeUI.String(),
		HedgedSize:  res.Hedged.String(),
		FinalPrice:  res.Order.FinalPrice.String(),
		Reprices:    res.Order.Reprices,
		Outcome:     string(res.State),
		StartedAtMS: started.UnixMilli(),
		EndedAtMS:   ended.UnixMilli(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
		if record.Outcome == "" {
			record.Outcome = string(session.StateAborted)
		}
	}
	return record
}

func (a *App) serveMetrics() func() {
	if a.prom == nil {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("metrics enabled", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// positionDecoder reads the signed perp size for coin from a
// clearinghouseState push.
func positionDecoder(coin string) watcher.Decoder {
	return func(raw []byte) (decimal.Decimal, error) {
		return account.DecodePosition(raw, coin)
	}
}
