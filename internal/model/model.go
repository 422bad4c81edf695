// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Item is a single listing returned by the feed.
// Display fields are passed through to the formatter untouched.
type Item struct {
	ID       string
	Title    string
	Price    string
	Address  string
	URL      string
	ImageURL string
}

// CursorKind selects how a Cursor tracks progress through the feed.
type CursorKind string

// Supported cursor kinds.
const (
	CursorLastSeen CursorKind = "last_seen"
	CursorSeenSet  CursorKind = "seen_set"
)

// Cursor marks how far a subscription has progressed through the feed.
// An empty Kind behaves as CursorLastSeen.
type Cursor struct {
	Kind     CursorKind `json:"kind"`
	LastSeen string     `json:"last_seen,omitempty"`
	Seen     []string   `json:"seen,omitempty"`
}

// IsEmpty reports whether nothing has been observed yet.
func (c Cursor) IsEmpty() bool {
	return c.LastSeen == "" && len(c.Seen) == 0
}

// Mode returns the effective kind of the cursor.
func (c Cursor) Mode() CursorKind {
	if c.Kind == CursorSeenSet {
		return CursorSeenSet
	}
	return CursorLastSeen
}

// Equal reports whether two cursors describe the same position.
func (c Cursor) Equal(o Cursor) bool {
	return c.Mode() == o.Mode() && c.LastSeen == o.LastSeen && slices.Equal(c.Seen, o.Seen)
}

// Clone returns a deep copy of the cursor.
func (c Cursor) Clone() Cursor {
	c.Seen = slices.Clone(c.Seen)
	return c
}

// UnmarshalJSON accepts both the object form and the scalar form
// (null, number or string last-seen id) written by older backups.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	switch v := raw.(type) {
	case nil:
		*c = Cursor{Kind: CursorLastSeen}
	case float64:
		*c = Cursor{Kind: CursorLastSeen, LastSeen: strconv.FormatFloat(v, 'f', -1, 64)}
	case string:
		*c = Cursor{Kind: CursorLastSeen, LastSeen: v}
	case map[string]any:
		type plain Cursor
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode cursor: %w", err)
		}
		*c = Cursor(p)
	default:
		return fmt.Errorf("decode cursor: unsupported value %s", data)
	}
	return nil
}

// Location is a geographic point.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Query holds the feed filter parameters of a subscription.
// Exactly one of Location, Boundary or IDs is normally set.
type Query struct {
	Location *Location    `json:"location,omitempty"`
	Radius   int          `json:"radius,omitempty"`
	Boundary [][2]float64 `json:"boundary,omitempty"`
	IDs      []string     `json:"ids,omitempty"`
}

// Clone returns a deep copy of the query.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	cp := *q
	if q.Location != nil {
		loc := *q.Location
		cp.Location = &loc
	}
	cp.Boundary = slices.Clone(q.Boundary)
	cp.IDs = slices.Clone(q.IDs)
	return &cp
}

// Tier selects the polling interval of a subscription.
type Tier string

// Supported tiers.
const (
	TierRegular Tier = "regular"
	TierPremium Tier = "premium"
	TierBuyer   Tier = "buyer"
)

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierRegular, TierPremium, TierBuyer:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Subscription is a single feed query owned by a subscriber.
type Subscription struct {
	ID      int64  `json:"id"`
	Cursor  Cursor `json:"cursor"`
	Query   *Query `json:"variables"`
	Buyer   bool   `json:"isBuyer"`
	Channel bool   `json:"isChannel,omitempty"`
}

// Clone returns a deep copy of the subscription.
func (s Subscription) Clone() Subscription {
	s.Cursor = s.Cursor.Clone()
	s.Query = s.Query.Clone()
	return s
}

// Subscriber is a chat that receives notifications.
type Subscriber struct {
	Key           int64          `json:"-"`
	Premium       bool           `json:"isPremium"`
	Subscriptions []Subscription `json:"subscriptions"`
	CreatedAt     time.Time      `json:"createdAt,omitzero"`
}

// Clone returns a deep copy of the subscriber.
func (s Subscriber) Clone() Subscriber {
	subs := make([]Subscription, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		subs[i] = sub.Clone()
	}
	s.Subscriptions = subs
	return s
}

// TierFor returns the tier that drives the polling interval of sub.
func (s Subscriber) TierFor(sub Subscription) Tier {
	switch {
	case sub.Buyer:
		return TierBuyer
	case s.Premium:
		return TierPremium
	default:
		return TierRegular
	}
}

// Tier returns the subscriber-level tier.
func (s Subscriber) Tier() Tier {
	if s.Premium {
		return TierPremium
	}
	return TierRegular
}
