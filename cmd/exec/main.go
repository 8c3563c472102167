// Command exec wires the Trading Framework core together with a
// simulated exchange adapter and a SQLite-backed store, exposing the §6
// HTTP surface. Grounded on cmd/bot/main.go's boot sequence: load
// config, build logger, build store, build adapter, build services,
// hydrate, install OS signal handling, start background loops, start the
// HTTP server, block until signalled, shut down gracefully.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/tradeexec/internal/config"
	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/exchange"
	"github.com/vitos/tradeexec/internal/httpapi"
	"github.com/vitos/tradeexec/internal/logging"
	"github.com/vitos/tradeexec/internal/monitor"
	"github.com/vitos/tradeexec/internal/position"
	"github.com/vitos/tradeexec/internal/pricecache"
	"github.com/vitos/tradeexec/internal/reporting"
	"github.com/vitos/tradeexec/internal/risk"
	"github.com/vitos/tradeexec/internal/router"
	"github.com/vitos/tradeexec/internal/sizing"
	"github.com/vitos/tradeexec/internal/store"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Printf("using default config: %v\n", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		log.Fatal("failed to init sqlite store", zap.Error(err))
	}
	defer db.Close()

	adapter := exchange.NewSimulated()
	prices := pricecache.New()

	mgr := position.New(db, adapter, prices, log, position.Config{
		Sizing:            sizing.Config{RoundUpToMinSize: true},
		AdapterTimeout:    cfg.AdapterTimeout(),
		RetryBackoffs:     []time.Duration{200 * time.Millisecond, 800 * time.Millisecond, 2 * time.Second},
		EntryPricePolicy:  cfg.Trading.EntryPricePolicy,
		MaxConcurrentOpen: cfg.Risk.MaxConcurrentOpen,
	})

	if cfg.AuditLogPath != "" {
		auditLog, err := logging.NewFile(cfg.AuditLogPath)
		if err != nil {
			log.Warn("failed to init audit log", zap.Error(err))
		} else {
			mgr.WithAuditLog(auditLog)
			defer auditLog.Sync()
		}
	}

	if err := mgr.Hydrate(context.Background()); err != nil {
		log.Error("hydrate failed", zap.Error(err))
	}

	whitelist := make(map[string]bool, len(cfg.Risk.Whitelist))
	for _, sym := range cfg.Risk.Whitelist {
		whitelist[sym] = true
	}
	rtr := router.New(mgr, router.GateConfig{
		WhitelistEnabled:  cfg.Risk.WhitelistEnabled,
		Whitelist:         whitelist,
		CooldownPeriod:    time.Duration(cfg.Risk.CoolingPeriodMin) * time.Minute,
		MaxDailyTrades:    cfg.Risk.MaxDailyTrades,
		MaxDailyLossPct:   decimal.NewFromFloat(cfg.Risk.MaxDailyLossPct / 100.0),
		MaxConcurrentOpen: cfg.Risk.MaxConcurrentOpen,
	}, log)

	resolve := func(ctx context.Context, symbol string, sig domain.TradeSignal) (*domain.Position, error) {
		switch sig.Action {
		case domain.ActionOpen:
			inst, err := adapter.GetContractSpec(ctx, symbol)
			if err != nil {
				return nil, err
			}
			price, err := adapter.GetMarkPrice(ctx, symbol)
			if err != nil {
				return nil, err
			}
			return mgr.Open(ctx, sig, inst, price)
		case domain.ActionClose, domain.ActionTP, domain.ActionSL:
			_, err := mgr.Close(ctx, symbol, domain.ReasonManual)
			return nil, err
		case domain.ActionModify:
			return nil, mgr.Modify(ctx, symbol, sig)
		default:
			return mgr.Snapshot(symbol), nil
		}
	}

	riskCfg := risk.Config{
		MaxPriceAge:     time.Duration(cfg.MaxPriceAgeSec) * time.Second,
		MaxHoldDuration: time.Duration(cfg.MaxHoldSeconds) * time.Second,
	}
	loop := monitor.New(mgr, prices, log, cfg.MonitorInterval(), riskCfg)
	loop.OnClose(func(symbol string, reason domain.CloseReason, pnlPct decimal.Decimal) {
		rtr.RecordRealizedPnL(pnlPct)
	})

	rep := reporting.New(mgr, db, prices)

	closeAll := func(ctx context.Context) map[string]bool {
		outcomes := mgr.CloseAll(ctx, domain.ReasonForced)
		out := make(map[string]bool, len(outcomes))
		for sym, o := range outcomes {
			out[sym] = o.Closed
		}
		return out
	}

	server := httpapi.NewServer(cfg.HTTPAddr, rtr, rep, resolve, closeAll, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-stop
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
}
