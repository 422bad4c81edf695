// Package scheduler polls the feed on a fixed wall-clock quantum and hands
// new items to the dispatcher.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"advert_bot/internal/detect"
	"advert_bot/internal/dispatch"
	"advert_bot/internal/fetcher"
	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

// Registry is the part of the subscription store the scheduler needs.
type Registry interface {
	Snapshot() []store.Entry
	UpdateCursor(key, subID int64, c model.Cursor) bool
}

// Deliverer queues batches of items per subscriber. Batches reserved for
// one subscriber are delivered in reservation order.
type Deliverer interface {
	Reserve(key int64) dispatch.DeliverFunc
}

// Mode controls whether a tick waits for its dispatch tasks.
type Mode string

// Dispatch modes.
const (
	ModeAwait  Mode = "await"
	ModeDetach Mode = "detach"
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAwait, ModeDetach:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown dispatch mode %q", s)
}

// Tiers holds the polling interval of every tier, in quanta.
type Tiers struct {
	Regular int
	Premium int
	Buyer   int
}

// Config configures a Scheduler.
type Config struct {
	Quantum     time.Duration
	Tiers       Tiers
	Mode        Mode
	Concurrency int
}

// Interval returns the polling interval of tier.
func (c Config) Interval(tier model.Tier) time.Duration {
	n := c.Tiers.Regular
	switch tier {
	case model.TierPremium:
		n = c.Tiers.Premium
	case model.TierBuyer:
		n = c.Tiers.Buyer
	}
	return time.Duration(max(n, 1)) * c.Quantum
}

// Due reports whether a subscription with the given interval is polled at t.
// Time is counted from the Unix epoch, so every process agrees on it.
func Due(t time.Time, interval time.Duration) bool {
	ms := interval.Milliseconds()
	return ms > 0 && t.UnixMilli()%ms == 0
}

// dueBetween reports whether a boundary of interval falls in (from, to].
func dueBetween(from, to time.Time, interval time.Duration) bool {
	return interval > 0 && align(to, interval).After(from)
}

// Scheduler runs the poll loop.
type Scheduler struct {
	registry  Registry
	source    fetcher.Source
	deliverer Deliverer
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastTick time.Time

	detached sync.WaitGroup
}

// New creates a Scheduler.
func New(registry Registry, source fetcher.Source, deliverer Deliverer, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Quantum <= 0 {
		cfg.Quantum = time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAwait
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		registry:  registry,
		source:    source,
		deliverer: deliverer,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run runs one tick immediately and then one on every quantum boundary,
// blocking until ctx is cancelled. When a tick runs past the next
// boundary, the following tick covers every boundary that was missed.
func (s *Scheduler) Run(ctx context.Context) {
	q := s.cfg.Quantum
	last := align(s.now(), q)
	s.poll(ctx, last.Add(-q), last)

	for ctx.Err() == nil {
		next := last.Add(q)
		if now := s.now(); !now.Before(next) {
			latest := align(now, q)
			s.log.Warn("tick overran quantum", "from", last, "to", latest, "missed", int(latest.Sub(last)/q))
			s.poll(ctx, last, latest)
			last = latest
			continue
		}

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.poll(ctx, last, next)
			last = next
		}
	}
}

// Wait blocks until all detached dispatch tasks have finished.
func (s *Scheduler) Wait() {
	s.detached.Wait()
}

// LastTick returns the time of the most recent tick, or the zero time.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// NextRun returns the first tick after now at which a subscription of tier
// is polled.
func (s *Scheduler) NextRun(tier model.Tier, now time.Time) time.Time {
	return align(now, s.cfg.Interval(tier)).Add(s.cfg.Interval(tier)).In(now.Location())
}

type job struct {
	key     int64
	items   []model.Item
	deliver dispatch.DeliverFunc
}

type fetchResult struct {
	items []model.Item
	err   error
}

// tick polls the subscriptions due at the boundary t.
func (s *Scheduler) tick(ctx context.Context, t time.Time) {
	s.poll(ctx, t.Add(-s.cfg.Quantum), t)
}

// poll polls every subscription with a boundary in (from, t].
func (s *Scheduler) poll(ctx context.Context, from, t time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panic", "time", t, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	s.mu.Lock()
	s.lastTick = t
	s.mu.Unlock()

	cache := make(map[string]fetchResult)
	var jobs []job
	for _, e := range s.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if items := s.collect(ctx, from, t, e, cache); len(items) > 0 {
			jobs = append(jobs, job{key: e.Key, items: items})
		}
	}
	s.log.Debug("tick", "time", t, "fetches", len(cache), "subscribers", len(jobs))

	if len(jobs) == 0 {
		return
	}
	// Reserved in tick order before any dispatch starts, so a later tick
	// never overtakes this one for the same subscriber.
	for i := range jobs {
		jobs[i].deliver = s.deliverer.Reserve(jobs[i].key)
	}
	if s.cfg.Mode == ModeDetach {
		s.detached.Add(1)
		go func() {
			defer s.detached.Done()
			s.dispatch(ctx, t, jobs)
		}()
		return
	}
	s.dispatch(ctx, t, jobs)
}

// collect polls the due subscriptions of one subscriber, advances their
// cursors and returns the new items without duplicates.
func (s *Scheduler) collect(ctx context.Context, from, t time.Time, e store.Entry, cache map[string]fetchResult) []model.Item {
	var out []model.Item
	seen := make(map[string]bool)

	for _, sub := range e.Subscriber.Subscriptions {
		if !dueBetween(from, t, s.cfg.Interval(e.Subscriber.TierFor(sub))) {
			continue
		}

		fetched, err := s.fetch(ctx, fetcher.Request{Query: sub.Query, Buyer: sub.Buyer}, cache)
		if err != nil {
			s.log.Error("fetch", "chat_id", e.Key, "subscription_id", sub.ID, "error", err)
			continue
		}

		fresh := detect.ComputeNew(fetched, sub.Cursor)
		if next := detect.Advance(sub.Cursor, fetched, fresh); !next.Equal(sub.Cursor) {
			s.registry.UpdateCursor(e.Key, sub.ID, next)
		}

		for _, item := range fresh {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			out = append(out, item)
		}
	}
	return out
}

func (s *Scheduler) fetch(ctx context.Context, req fetcher.Request, cache map[string]fetchResult) ([]model.Item, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	key := string(raw)
	if r, ok := cache[key]; ok {
		return r.items, r.err
	}
	items, err := s.source.Fetch(ctx, req)
	cache[key] = fetchResult{items: items, err: err}
	return items, err
}

func (s *Scheduler) dispatch(ctx context.Context, t time.Time, jobs []job) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, j := range jobs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("dispatch panic", "chat_id", j.key, "panic", r, "stack", string(debug.Stack()))
				}
			}()
			outcomes := j.deliver(ctx, j.items)
			s.log.Info("delivered items",
				"chat_id", j.key,
				"sent", dispatch.Count(outcomes, dispatch.StatusSent),
				"failed", dispatch.Count(outcomes, dispatch.StatusFailed),
				"skipped", dispatch.Count(outcomes, dispatch.StatusSkipped),
			)
			return nil
		})
	}
	_ = g.Wait()
	s.log.Debug("tick dispatch finished", "time", t, "subscribers", len(jobs))
}

// align returns t minus t mod d, counted from the Unix epoch.
func align(t time.Time, d time.Duration) time.Time {
	return t.Add(-time.Duration(t.UnixNano() % int64(d)))
}
