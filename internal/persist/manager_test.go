package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

type memBackend struct {
	mu      sync.Mutex
	data    []byte
	loadErr error
	saves   int
}

func (m *memBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	return m.data, nil
}

func (m *memBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	src := store.New(1)
	if _, err := src.CreateOrUpdateSubscription(1, -1, model.Query{Radius: 500}, now); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := src.SetTier(2, model.TierBuyer, now); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	if err := NewManager(src, backend, time.Minute, discardLogger()).Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	dst := store.New(1)
	n := NewManager(dst, backend, time.Minute, discardLogger()).Restore(ctx)

	if diff := cmp.Diff(2, n); diff != "" {
		t.Errorf("restored count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Errorf("restored registry mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerRestoreNonFatal(t *testing.T) {
	tests := []struct {
		name    string
		backend *memBackend
	}{
		{name: "missing snapshot", backend: &memBackend{}},
		{name: "corrupt snapshot", backend: &memBackend{data: []byte(`[[1, {"subscriptions": 5}]]`)}},
		{name: "backend error", backend: &memBackend{loadErr: errors.New("disk on fire")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := store.New(1)
			reg.Seed([]int64{9}, time.Now())

			n := NewManager(reg, tt.backend, time.Minute, discardLogger()).Restore(context.Background())
			if n != 0 {
				t.Errorf("restored %d subscribers, want 0", n)
			}
			if diff := cmp.Diff(1, reg.Len()); diff != "" {
				t.Errorf("registry was modified (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManagerStopWritesFinalSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	m := NewManager(store.New(1), backend, time.Hour, discardLogger())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second start should fail")
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if diff := cmp.Diff(1, backend.saveCount()); diff != "" {
		t.Errorf("save count mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerPeriodicSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	m := NewManager(store.New(1), backend, time.Second, discardLogger())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = m.Stop(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for backend.saveCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no periodic snapshot within 5s")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
