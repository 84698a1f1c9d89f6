package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"hl-delta-neutral/internal/account"
	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/config"
	"hl-delta-neutral/internal/hl/rest"
	"hl-delta-neutral/internal/logging"
	"hl-delta-neutral/internal/market"
	persist "hl-delta-neutral/internal/state"
	"hl-delta-neutral/internal/state/sqlite"

	"go.uber.org/zap"
)

const defaultRESTTimeout = 10 * time.Second

// inspect prints the top of book, the account position and resting orders
// for one perp without trading.
func main() {
	configPath := flag.String("config", "", "optional config path for REST settings")
	coinFlag := flag.String("coin", "", "perp coin; defaults to session.coin")
	depth := flag.Int("depth", book.DefaultDepth, "book levels to print")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	logCfg := config.LoggingConfig{Level: "warn"}
	baseURL := rest.DefaultBaseURL
	timeout := defaultRESTTimeout
	coin := *coinFlag
	statePath := ""
	user := os.Getenv("HL_ACCOUNT_ADDRESS")
	if user == "" {
		user = os.Getenv("HL_WALLET_ADDRESS")
	}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		baseURL = cfg.REST.BaseURL
		timeout = cfg.REST.Timeout
		if coin == "" {
			coin = cfg.Session.Coin
		}
		user = cfg.Wallet.AccountAddress
		statePath = cfg.State.SQLitePath
	}
	if coin == "" {
		fatal(errors.New("-coin or a config with session.coin is required"))
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*timeout)
	defer cancel()
	restClient := rest.New(baseURL, timeout, log)
	md := market.New(restClient, nil, *depth, log)
	if err := md.RefreshContexts(ctx); err != nil {
		log.Warn("context refresh failed", zap.Error(err))
	}
	if perp, ok := md.PerpContext(coin); ok {
		fmt.Printf("perp %s: asset=%d sz_decimals=%d mark=%s oracle=%s\n", coin, perp.Index, perp.SzDecimals, perp.MarkPrice, perp.OraclePrice)
	}
	cache, err := md.TrackBook(ctx, coin)
	if err != nil {
		fatal(err)
	}
	snap := cache.Load()
	fmt.Printf("book %s:\n", coin)
	for _, side := range []book.Side{book.Asks, book.Bids} {
		for i, lvl := range snap.Side(side) {
			fmt.Printf("  %-4s %d  %s x %s\n", side, i, lvl.Price, lvl.Size)
		}
	}

	if statePath != "" {
		printState(ctx, statePath)
	}

	if user == "" {
		fmt.Println("no HL_ACCOUNT_ADDRESS or HL_WALLET_ADDRESS set; skipping account")
		return
	}
	acct := account.New(restClient, nil, log, user)
	if err := acct.Exists(ctx); err != nil {
		fatal(err)
	}
	position, err := acct.Position(ctx, coin)
	if err != nil {
		fatal(err)
	}
	value, err := acct.AccountValue(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("account %s: value=%s position=%s\n", user, value, position)
	orders, err := acct.OpenOrders(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("open orders: %d\n", len(orders))
	for _, o := range orders {
		fmt.Printf("  %s %s %s @ %s cloid=%s oid=%s\n", o.Coin, o.Side, o.Size, o.Price, o.Cloid, o.OrderID)
	}
}

// printState shows what the bot left in its local store. A missing database
// is not an error; the bot has simply never run here.
func printState(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("state %s: not found\n", path)
		return
	}
	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	last, ok, err := persist.LoadLastSession(ctx, store)
	switch {
	case err != nil:
		fmt.Printf("last session: unreadable: %v\n", err)
	case !ok:
		fmt.Println("last session: none")
	default:
		fmt.Printf("last session: %s %s %s outcome=%s hedged=%s price=%s\n",
			last.Direction, last.TargetSize, last.Coin, last.Outcome, last.HedgedSize, last.FinalPrice)
	}
	keys, err := store.Keys(ctx, "exchange:nonce:")
	if err != nil {
		fatal(err)
	}
	for _, key := range keys {
		value, _, err := store.Get(ctx, key)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("nonce %s = %s\n", key, value)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
