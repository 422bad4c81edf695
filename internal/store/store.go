// Package store holds the in-memory registry of subscribers and their
// subscriptions.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"advert_bot/internal/model"
)

// Errors returned by the mutators.
var (
	ErrNoSubscriber         = errors.New("subscriber not found")
	ErrNoSubscription       = errors.New("subscription not found")
	ErrTooManySubscriptions = errors.New("too many subscriptions")
)

// Entry is a single subscriber record keyed by its chat id.
type Entry struct {
	Key        int64
	Subscriber model.Subscriber
}

// Store is the registry of subscribers. It is safe for concurrent use.
// Every method that returns records returns copies.
type Store struct {
	maxFree int

	mu     sync.RWMutex
	order  []int64
	byKey  map[int64]*model.Subscriber
	nextID int64
}

// New creates an empty Store. Non-premium subscribers may hold at most
// maxFree regular subscriptions.
func New(maxFree int) *Store {
	return &Store{
		maxFree: maxFree,
		byKey:   make(map[int64]*model.Subscriber),
		nextID:  1,
	}
}

// Len returns the number of subscribers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get returns the subscriber with the given key.
func (s *Store) Get(key int64) (model.Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byKey[key]
	if !ok {
		return model.Subscriber{}, false
	}
	return sub.Clone(), true
}

// Touch returns the subscriber with the given key, creating it if needed.
func (s *Store) Touch(key int64, now time.Time) model.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(key, now).Clone()
}

// Seed creates an empty subscriber for every key that does not exist yet.
func (s *Store) Seed(keys []int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.touchLocked(key, now)
	}
}

// AddChannel registers key as a broadcast channel with a single
// subscription over the whole feed. It is a no-op if the channel already
// has one.
func (s *Store) AddChannel(key int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.touchLocked(key, now)
	if slices.ContainsFunc(sub.Subscriptions, func(x model.Subscription) bool { return x.Channel }) {
		return
	}
	sub.Subscriptions = append(sub.Subscriptions, model.Subscription{
		ID:      s.allocIDLocked(),
		Cursor:  model.Cursor{Kind: model.CursorSeenSet},
		Channel: true,
	})
}

// CreateOrUpdateSubscription adds a new subscription with query when
// index is negative, otherwise it replaces the query of the subscription
// at index. The cursor of an updated subscription is kept.
func (s *Store) CreateOrUpdateSubscription(key int64, index int, query model.Query, now time.Time) (model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.touchLocked(key, now)

	if index >= 0 {
		if index >= len(sub.Subscriptions) {
			return model.Subscription{}, fmt.Errorf("subscription #%d: %w", index+1, ErrNoSubscription)
		}
		sub.Subscriptions[index].Query = query.Clone()
		return sub.Subscriptions[index].Clone(), nil
	}

	if !sub.Premium && countRegular(sub.Subscriptions) >= s.maxFree {
		return model.Subscription{}, ErrTooManySubscriptions
	}
	created := model.Subscription{
		ID:     s.allocIDLocked(),
		Cursor: model.Cursor{Kind: model.CursorLastSeen},
		Query:  query.Clone(),
	}
	sub.Subscriptions = append(sub.Subscriptions, created)
	return created.Clone(), nil
}

// CancelSubscription removes the subscription at index.
func (s *Store) CancelSubscription(key int64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byKey[key]
	if !ok {
		return ErrNoSubscriber
	}
	if index < 0 || index >= len(sub.Subscriptions) {
		return fmt.Errorf("subscription #%d: %w", index+1, ErrNoSubscription)
	}
	sub.Subscriptions = slices.Delete(sub.Subscriptions, index, index+1)
	return nil
}

// SetTier changes the tier of a subscriber. The buyer tier adds the
// buyer subscription if the subscriber does not have one yet.
func (s *Store) SetTier(key int64, tier model.Tier, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.touchLocked(key, now)

	switch tier {
	case model.TierRegular:
		sub.Premium = false
	case model.TierPremium:
		sub.Premium = true
	case model.TierBuyer:
		if !slices.ContainsFunc(sub.Subscriptions, func(x model.Subscription) bool { return x.Buyer }) {
			sub.Subscriptions = append(sub.Subscriptions, model.Subscription{
				ID:     s.allocIDLocked(),
				Cursor: model.Cursor{Kind: model.CursorLastSeen},
				Buyer:  true,
			})
		}
	default:
		return fmt.Errorf("set tier: unknown tier %q", tier)
	}
	return nil
}

// RemoveSubscriber deletes a subscriber and all its subscriptions.
// It reports whether the subscriber existed.
func (s *Store) RemoveSubscriber(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[key]; !ok {
		return false
	}
	delete(s.byKey, key)
	s.order = slices.DeleteFunc(s.order, func(k int64) bool { return k == key })
	return true
}

// UpdateCursor stores c as the cursor of subscription subID. It reports
// false if the subscriber or subscription no longer exists.
func (s *Store) UpdateCursor(key, subID int64, c model.Cursor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byKey[key]
	if !ok {
		return false
	}
	for i := range sub.Subscriptions {
		if sub.Subscriptions[i].ID == subID {
			sub.Subscriptions[i].Cursor = c.Clone()
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time deep copy of the registry in
// insertion order.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, Entry{Key: key, Subscriber: s.byKey[key].Clone()})
	}
	return out
}

// Dump returns the registry for the admin monitor command.
func (s *Store) Dump() []Entry {
	return s.Snapshot()
}

// Restore replaces the registry with entries. Subscriptions without an id
// (older backups) get a fresh one.
func (s *Store) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.byKey = make(map[int64]*model.Subscriber, len(entries))
	s.nextID = 1
	for _, e := range entries {
		for _, sub := range e.Subscriber.Subscriptions {
			s.nextID = max(s.nextID, sub.ID+1)
		}
	}

	for _, e := range entries {
		rec := e.Subscriber.Clone()
		rec.Key = e.Key
		for i := range rec.Subscriptions {
			if rec.Subscriptions[i].ID == 0 {
				rec.Subscriptions[i].ID = s.allocIDLocked()
			}
		}
		if _, dup := s.byKey[e.Key]; !dup {
			s.order = append(s.order, e.Key)
		}
		s.byKey[e.Key] = &rec
	}
}

func (s *Store) touchLocked(key int64, now time.Time) *model.Subscriber {
	if sub, ok := s.byKey[key]; ok {
		return sub
	}
	sub := &model.Subscriber{Key: key, Subscriptions: []model.Subscription{}, CreatedAt: now.UTC()}
	s.byKey[key] = sub
	s.order = append(s.order, key)
	return sub
}

func (s *Store) allocIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func countRegular(subs []model.Subscription) int {
	n := 0
	for _, sub := range subs {
		if !sub.Buyer && !sub.Channel {
			n++
		}
	}
	return n
}
