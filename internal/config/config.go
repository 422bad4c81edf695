// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed kinds.
const (
	FeedGraphQL = "graphql"
	FeedRSS     = "rss"
)

// Backup drivers.
const (
	BackupFile   = "file"
	BackupSQLite = "sqlite"
	BackupNone   = "none"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	LogLevel         string
	AllowedUsers     []int64
	AdminUsers       []int64

	FeedKind        string
	FeedAPIURL      string
	FeedRSSURL      string
	FetchRatePerSec float64

	UpdateInterval       time.Duration
	RegularIntervalPrime int
	PremiumIntervalPrime int
	BuyerIntervalPrime   int

	SendLimit           int
	SendWindow          time.Duration
	DispatchMode        string
	DispatchConcurrency int

	MaxFreeSubscriptions int

	BackupDriver   string
	BackupPath     string
	BackupInterval time.Duration
	BackupKeep     int

	InitSubscribers []int64
	ChannelChatID   int64
}

// Load reads configuration from environment variables. Outside production
// a .env file in the working directory is read first; variables already
// set in the environment win.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		LogLevel:         stringOr("LOG_LEVEL", "info"),
		FeedKind:         stringOr("FEED_KIND", FeedGraphQL),
		FeedAPIURL:       stringOr("FEED_API_URL", "https://api.bezrealitky.cz/graphql/"),
		FeedRSSURL:       os.Getenv("FEED_RSS_URL"),
		DispatchMode:     stringOr("DISPATCH_MODE", "await"),
		BackupDriver:     stringOr("BACKUP_DRIVER", BackupFile),
		BackupPath:       os.Getenv("BACKUP_PATH"),
	}

	var err error
	if cfg.AllowedUsers, err = idList("ALLOWED_USERS"); err != nil {
		return nil, err
	}
	if cfg.AdminUsers, err = idList("ADMIN_USERS"); err != nil {
		return nil, err
	}
	if cfg.InitSubscribers, err = idList("INIT_SUBSCRIBERS"); err != nil {
		return nil, err
	}
	if cfg.ChannelChatID, err = int64Or("CHANNEL_CHAT_ID", 0); err != nil {
		return nil, err
	}
	if cfg.FetchRatePerSec, err = floatOr("FETCH_RATE_PER_SEC", 5); err != nil {
		return nil, err
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"UPDATE_INTERVAL", time.Minute, &cfg.UpdateInterval},
		{"SEND_WINDOW", time.Minute, &cfg.SendWindow},
		{"BACKUP_INTERVAL", 5 * time.Minute, &cfg.BackupInterval},
	}
	for _, d := range durations {
		if *d.dest, err = durationOr(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"REGULAR_INTERVAL_PRIME", 10, &cfg.RegularIntervalPrime},
		{"PREMIUM_INTERVAL_PRIME", 2, &cfg.PremiumIntervalPrime},
		{"BUYER_INTERVAL_PRIME", 1, &cfg.BuyerIntervalPrime},
		{"SEND_LIMIT", 19, &cfg.SendLimit},
		{"DISPATCH_CONCURRENCY", 4, &cfg.DispatchConcurrency},
		{"MAX_FREE_SUBSCRIPTIONS", 1, &cfg.MaxFreeSubscriptions},
		{"BACKUP_KEEP", 10, &cfg.BackupKeep},
	}
	for _, n := range ints {
		if *n.dest, err = positiveIntOr(n.key, n.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.FeedKind {
	case FeedGraphQL:
		if c.FeedAPIURL == "" {
			return fmt.Errorf("FEED_API_URL is required for FEED_KIND=%s", FeedGraphQL)
		}
	case FeedRSS:
		if c.FeedRSSURL == "" {
			return fmt.Errorf("FEED_RSS_URL is required for FEED_KIND=%s", FeedRSS)
		}
	default:
		return fmt.Errorf("invalid FEED_KIND %q: want %s or %s", c.FeedKind, FeedGraphQL, FeedRSS)
	}

	switch c.BackupDriver {
	case BackupFile, BackupSQLite, BackupNone:
	default:
		return fmt.Errorf("invalid BACKUP_DRIVER %q", c.BackupDriver)
	}

	if c.DispatchMode != "await" && c.DispatchMode != "detach" {
		return fmt.Errorf("invalid DISPATCH_MODE %q: want await or detach", c.DispatchMode)
	}
	if c.UpdateInterval < time.Second {
		return fmt.Errorf("UPDATE_INTERVAL must be at least 1s, got %s", c.UpdateInterval)
	}
	return nil
}

// BackupEnabled reports whether snapshots are taken.
func (c *Config) BackupEnabled() bool {
	return c.BackupDriver != BackupNone && c.BackupPath != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	return len(c.AllowedUsers) == 0 || slices.Contains(c.AllowedUsers, userID)
}

// IsAdmin checks whether a user may run the admin commands.
// Returns true if the admin list is empty.
func (c *Config) IsAdmin(userID int64) bool {
	return len(c.AdminUsers) == 0 || slices.Contains(c.AdminUsers, userID)
}

func stringOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func idList(key string) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func int64Or(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func positiveIntOr(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func floatOr(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

// durationOr accepts Go duration strings ("90s") and bare integers, which
// are read as milliseconds.
func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	var d time.Duration
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else if d, err = time.ParseDuration(raw); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
