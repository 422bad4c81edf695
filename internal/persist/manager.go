package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"advert_bot/internal/store"
)

// Backend stores encoded snapshots.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Registry is the part of the subscription store that gets persisted.
type Registry interface {
	Snapshot() []store.Entry
	Restore(entries []store.Entry)
}

// Manager snapshots the registry on a fixed timer that runs independently
// of the poll loop.
type Manager struct {
	registry Registry
	backend  Backend
	interval time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewManager creates a Manager saving every interval.
func NewManager(registry Registry, backend Backend, interval time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		registry: registry,
		backend:  backend,
		interval: interval,
		log:      log,
	}
}

// Restore loads the latest snapshot into the registry and returns the
// number of restored subscribers. A missing or unreadable snapshot is not
// an error: the registry is left empty and a warning is logged.
func (m *Manager) Restore(ctx context.Context) int {
	data, err := m.backend.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		m.log.Warn("no snapshot to restore, starting empty")
		return 0
	}
	if err != nil {
		m.log.Warn("load snapshot, starting empty", "error", err)
		return 0
	}

	entries, err := Decode(data)
	if err != nil {
		m.log.Warn("corrupt snapshot, starting empty", "error", err)
		return 0
	}
	m.registry.Restore(entries)
	m.log.Info("restored snapshot", "subscribers", len(entries))
	return len(entries)
}

// Snapshot writes the current registry to the backend.
func (m *Manager) Snapshot(ctx context.Context) error {
	entries := m.registry.Snapshot()
	data, err := Encode(entries)
	if err != nil {
		return err
	}
	if err := m.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	m.log.Debug("snapshot saved", "subscribers", len(entries), "bytes", len(data))
	return nil
}

// Start schedules periodic snapshots.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return errors.New("snapshot timer already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		if err := m.Snapshot(ctx); err != nil {
			m.log.Warn("periodic snapshot", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule snapshots: %w", err)
	}
	c.Start()
	m.cron = c
	m.log.Info("snapshot timer started", "interval", m.interval)
	return nil
}

// Stop stops the timer, waits for a running snapshot and writes a final one.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Snapshot(ctx)
}
