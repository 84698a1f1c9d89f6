package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hl-delta-neutral/internal/account"
	"hl-delta-neutral/internal/app"
	"hl-delta-neutral/internal/config"
	"hl-delta-neutral/internal/logging"
	"hl-delta-neutral/internal/watcher"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (.yaml or .toml)")
	directionFlag := flag.String("direction", "open", "session direction: open or close")
	sizeFlag := flag.String("size", "", "base size to trade; defaults to session.notional_usd at the best ask")
	flag.Parse()

	direction, err := watcher.ParseDirection(*directionFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	size := decimal.Zero
	if *sizeFlag != "" {
		size, err = decimal.NewFromString(*sizeFlag)
		if err != nil || size.Sign() <= 0 {
			fmt.Fprintf(os.Stderr, "invalid -size %q\n", *sizeFlag)
			os.Exit(2)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := application.Run(ctx, direction, size)
	switch {
	case err == nil:
		log.Info("session finished",
			zap.String("state", string(res.State)),
			zap.String("hedged", res.Hedged.String()),
			zap.String("swapped", res.Swapped.String()),
		)
	case errors.Is(err, account.ErrNoTradingAccount):
		log.Error("no trading account for wallet", zap.Error(err))
		os.Exit(1)
	case errors.Is(err, context.Canceled):
		log.Warn("session interrupted", zap.String("hedged", res.Hedged.String()))
		os.Exit(1)
	default:
		log.Error("session failed", zap.Error(err))
		os.Exit(1)
	}
}
