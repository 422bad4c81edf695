package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"advert_bot/internal/bot"
	"advert_bot/internal/config"
	"advert_bot/internal/dispatch"
	"advert_bot/internal/fetcher"
	"advert_bot/internal/persist"
	"advert_bot/internal/ratelimit"
	"advert_bot/internal/scheduler"
	"advert_bot/internal/store"
)

// sqliteFile is the snapshot history database inside BACKUP_PATH.
const sqliteFile = "snapshots.db"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log, os.Args[1:]); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func run(cfg *config.Config, log *slog.Logger, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	extra, err := parseKeys(args)
	if err != nil {
		return err
	}

	st := store.New(cfg.MaxFreeSubscriptions)

	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}

	var snapshots *persist.Manager
	if backend != nil {
		defer func() { _ = backend.Close() }()
		snapshots = persist.NewManager(st, backend, cfg.BackupInterval, log)
		snapshots.Restore(ctx)
	}

	now := time.Now()
	st.Seed(append(cfg.InitSubscribers, extra...), now)
	if cfg.ChannelChatID != 0 {
		st.AddChannel(cfg.ChannelChatID, now)
	}

	api, err := bot.NewAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	limiter := ratelimit.New(cfg.SendLimit, cfg.SendWindow)
	defer limiter.Stop()

	dispatcher := dispatch.New(bot.NewSender(api), limiter, st, bot.RenderAdvert, log)

	mode, err := scheduler.ParseMode(cfg.DispatchMode)
	if err != nil {
		return err
	}
	tiers := scheduler.Tiers{
		Regular: cfg.RegularIntervalPrime,
		Premium: cfg.PremiumIntervalPrime,
		Buyer:   cfg.BuyerIntervalPrime,
	}
	sched := scheduler.New(st, newSource(cfg, log), dispatcher, scheduler.Config{
		Quantum:     cfg.UpdateInterval,
		Tiers:       tiers,
		Mode:        mode,
		Concurrency: cfg.DispatchConcurrency,
	}, log)

	if snapshots != nil {
		if err := snapshots.Start(ctx); err != nil {
			return fmt.Errorf("start snapshots: %w", err)
		}
	}

	log.Info("starting bot",
		"subscribers", st.Len(),
		"feed", cfg.FeedKind,
		"quantum", cfg.UpdateInterval,
		"backup", cfg.BackupDriver,
	)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	bot.New(api, st, sched, cfg, log).Run(ctx)

	cancel()
	<-schedDone
	sched.Wait()

	if snapshots != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := snapshots.Stop(stopCtx); err != nil {
			return fmt.Errorf("final snapshot: %w", err)
		}
	}
	return nil
}

// openBackend returns nil when backups are disabled.
func openBackend(cfg *config.Config) (persist.Backend, error) {
	if !cfg.BackupEnabled() {
		return nil, nil
	}
	switch cfg.BackupDriver {
	case config.BackupSQLite:
		if err := os.MkdirAll(cfg.BackupPath, 0o750); err != nil {
			return nil, fmt.Errorf("create backup directory: %w", err)
		}
		return persist.NewSQLite(filepath.Join(cfg.BackupPath, sqliteFile), cfg.BackupKeep)
	default:
		return persist.NewFileBackend(cfg.BackupPath)
	}
}

func newSource(cfg *config.Config, log *slog.Logger) fetcher.Source {
	if cfg.FeedKind == config.FeedRSS {
		return fetcher.NewRSS(http.DefaultClient, cfg.FeedRSSURL)
	}
	return fetcher.NewGraphQL(http.DefaultClient, cfg.FeedAPIURL, cfg.FetchRatePerSec, log)
}

func parseKeys(args []string) ([]int64, error) {
	keys := make([]int64, 0, len(args))
	for _, a := range args {
		k, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid subscriber key %q: %w", a, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
