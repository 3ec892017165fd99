package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/lmsrmarket/config"
	"github.com/alejandrodnm/lmsrmarket/internal/adapters/httpapi"
	"github.com/alejandrodnm/lmsrmarket/internal/adapters/notify"
	"github.com/alejandrodnm/lmsrmarket/internal/adapters/storage"
	"github.com/alejandrodnm/lmsrmarket/internal/adapters/transfer"
	"github.com/alejandrodnm/lmsrmarket/internal/application/market"
	"github.com/alejandrodnm/lmsrmarket/internal/application/settlement"
	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/alejandrodnm/lmsrmarket/internal/ports"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	mode := flag.String("mode", "serve", "serve | show | settle")
	marketID := flag.Int64("market", -1, "show: print one market in detail")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("lmsrmarket starting",
		"config", *configPath,
		"mode", *mode,
		"storage", cfg.Storage.Driver,
		"dry_run", cfg.Settlement.DryRun,
	)

	store, err := openStorage(cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "driver", cfg.Storage.Driver)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "serve":
		err = serve(ctx, cfg, store)
	case "show":
		err = show(ctx, store, *marketID)
	case "settle":
		err = settleOnce(ctx, cfg, store)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		slog.Error("lmsrmarket exited with error", "err", err, "mode", *mode)
		os.Exit(1)
	}

	slog.Info("lmsrmarket stopped cleanly")
}

// serve runs the HTTP API and the settlement worker until a signal arrives.
func serve(ctx context.Context, cfg *config.Config, store ports.Storage) error {
	worker, err := newWorker(cfg, store)
	if err != nil {
		return err
	}
	svc := market.New(market.Config{DefaultLiquidity: cfg.DefaultLiquidity()}, store, store)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpapi.New(svc).Router(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	return g.Wait()
}

// show prints every market, or one market with its transfers.
func show(ctx context.Context, store ports.Storage, id int64) error {
	console := notify.NewConsole()
	if id >= 0 {
		m, err := store.GetMarket(ctx, domain.MarketID(id))
		if err != nil {
			return err
		}
		transfers, err := store.ListTransfers(ctx, m.ID)
		if err != nil {
			return err
		}
		console.PrintMarket(m)
		console.PrintTransfers(transfers)
		return nil
	}

	return notifyAll(ctx, store, console)
}

// notifyAll pages through every market and hands them to n.
func notifyAll(ctx context.Context, store ports.MarketStore, n ports.Notifier) error {
	var markets []domain.Market
	var offset domain.MarketID
	for {
		page, err := store.ListMarkets(ctx, offset, 100)
		if err != nil {
			return err
		}
		markets = append(markets, page...)
		if len(page) < 100 {
			break
		}
		offset = page[len(page)-1].ID + 1
	}
	return n.NotifyMarkets(ctx, markets)
}

// settleOnce drains one batch of pending transfers and exits.
func settleOnce(ctx context.Context, cfg *config.Config, store ports.Storage) error {
	worker, err := newWorker(cfg, store)
	if err != nil {
		return err
	}
	sum, err := worker.RunOnce(ctx)
	if err != nil {
		return err
	}
	slog.Info("settlement pass complete", "confirmed", sum.Confirmed, "failed", sum.Failed)
	return nil
}

func openStorage(cfg config.StorageConfig) (ports.Storage, error) {
	switch cfg.Driver {
	case "badger":
		return storage.NewBadgerStorage(cfg.Path)
	default:
		return storage.NewSQLiteStorage(cfg.DSN)
	}
}

func newWorker(cfg *config.Config, store ports.Storage) (*settlement.Worker, error) {
	var executor ports.TransferExecutor
	if cfg.Settlement.DryRun {
		executor = transfer.NewDryRun()
	} else {
		hook, err := transfer.NewWebhook(transfer.WebhookConfig{
			URL:        cfg.Settlement.WebhookURL,
			Token:      cfg.Settlement.Token,
			Timeout:    cfg.SettlementTimeout(),
			RatePerSec: cfg.Settlement.RatePerSec,
		})
		if err != nil {
			return nil, err
		}
		executor = hook
	}
	return settlement.New(settlement.Config{
		Interval:   cfg.SettlementInterval(),
		BatchSize:  cfg.Settlement.BatchSize,
		RatePerSec: cfg.Settlement.RatePerSec,
	}, store, executor), nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}
