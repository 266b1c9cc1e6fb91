package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holtzen/adaptrade/api"
	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/engine"
	"github.com/holtzen/adaptrade/executor"
	"github.com/holtzen/adaptrade/feed"
	"github.com/holtzen/adaptrade/ledger"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/notify"
	"github.com/holtzen/adaptrade/position"
	"github.com/holtzen/adaptrade/risk"
	"github.com/holtzen/adaptrade/sizing"
)

var (
	cfgPath   string
	feedURL   string
	paperCash float64
)

func main() {
	root := &cobra.Command{
		Use:   "adaptrade",
		Short: "Adaptive trading decision and position lifecycle engine",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop against a live candle feed",
		RunE:  runEngine,
	}
	run.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML config")
	run.Flags().StringVar(&feedURL, "feed-url", "", "websocket trade stream URL")
	run.Flags().Float64Var(&paperCash, "cash", 10_000, "starting cash for the paper executor")
	_ = run.MarkFlagRequired("feed-url")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(cfgPath)
	if err != nil {
		return err
	}

	var log logger.Logger
	if cfg.Logging.File != "" {
		log = logger.NewRotatingLogger(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Level)
	} else {
		log, err = logger.NewZapLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
	}

	interval, err := time.ParseDuration(cfg.Engine.Interval)
	if err != nil {
		return fmt.Errorf("parse engine interval: %w", err)
	}

	var led ledger.TradeLedger
	switch cfg.Ledger.Backend {
	case "redis":
		rl := ledger.NewRedis(cfg.Ledger.Redis.Addr, cfg.Ledger.Redis.Password, cfg.Ledger.Redis.DB)
		defer rl.Close()
		led = rl
	default:
		led = ledger.NewMemory()
	}

	notifier, err := notify.New(cfg.Notify, log)
	if err != nil {
		return err
	}
	defer notifier.Close()

	ex := executor.NewPaperExecutor(paperCash, cfg.Sizing.MinOrderUSD)
	mgr := position.NewManager(cfg.Lifecycle, ex, led, log)
	gate := risk.NewGate(cfg.Risk, led)
	sizer := sizing.New(cfg.Sizing)
	wsFeed := feed.NewWSFeed(feedURL, cfg.Symbols, interval, cfg.Engine.CandleLimit, log)

	eng, err := engine.New(cfg, wsFeed, ex, gate, sizer, mgr, led, notifier, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := wsFeed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("feed_stopped", logger.Err(err))
		}
	}()

	var srv *api.Server
	if cfg.API.Enabled {
		srv = api.NewServer(cfg.API.Addr, eng, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("api_stopped", logger.Err(err))
			}
		}()
	}

	err = eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	eng.Stop(shutdownCtx)
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
