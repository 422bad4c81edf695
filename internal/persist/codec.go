// Package persist snapshots the subscription registry and restores it on
// startup.
//
// A snapshot is a JSON array of [key, record] pairs in registry order:
//
//	[[123456, {"isPremium": false, "subscriptions": [{"id": 1, "cursor": {...}, "variables": {...}, "isBuyer": false}]}]]
//
// Decode also reads snapshots written by older versions of the bot, where
// cursors are bare ids (or null) and subscriptions carry no id.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

// ErrNoSnapshot is returned by a backend that has nothing stored yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Encode serializes entries into the snapshot format.
func Encode(entries []store.Entry) ([]byte, error) {
	pairs := make([][2]any, 0, len(entries))
	for _, e := range entries {
		sub := e.Subscriber
		if sub.Subscriptions == nil {
			sub.Subscriptions = []model.Subscription{}
		}
		pairs = append(pairs, [2]any{e.Key, sub})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot.
func Decode(data []byte) ([]store.Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("decode snapshot: %w", ErrNoSnapshot)
	}

	var pairs []json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	entries := make([]store.Entry, 0, len(pairs))
	for i, raw := range pairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("decode entry %d: want [key, record], got %d elements", i, len(pair))
		}

		key, err := decodeKey(pair[0])
		if err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		var sub model.Subscriber
		if err := json.Unmarshal(pair[1], &sub); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		sub.Key = key
		if sub.Subscriptions == nil {
			sub.Subscriptions = []model.Subscription{}
		}
		entries = append(entries, store.Entry{Key: key, Subscriber: sub})
	}
	return entries, nil
}

// decodeKey accepts both numeric and string chat ids.
func decodeKey(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("subscriber key %s: not a chat id", raw)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subscriber key %q: %w", s, err)
	}
	return n, nil
}
