// Package detect decides which items of a freshly fetched feed page are new.
//
// The first observation of a subscription depends on its cursor kind.
// A last-seen cursor yields the single most recent item, so a new
// subscriber gets an immediate sample. A seen-set cursor yields nothing
// and is seeded from the whole page, so a broadcast channel never
// replays history.
//
// When a last-seen id has scrolled off the page only the most recent
// item is reported. Items between the old cursor and that item are lost.
package detect

import (
	"slices"

	"advert_bot/internal/model"
)

// ComputeNew returns the items of fetched that are new relative to c.
// fetched is ordered most-recent-first and the result keeps that order.
// It does not modify its arguments.
func ComputeNew(fetched []model.Item, c model.Cursor) []model.Item {
	if c.Mode() == model.CursorSeenSet {
		return newSinceSet(fetched, c)
	}
	return newSinceLast(fetched, c)
}

func newSinceLast(fetched []model.Item, c model.Cursor) []model.Item {
	if len(fetched) == 0 {
		return nil
	}
	if c.LastSeen == "" {
		return slices.Clone(fetched[:1])
	}

	idx := slices.IndexFunc(fetched, func(it model.Item) bool { return it.ID == c.LastSeen })
	if idx == -1 {
		idx = 1
	}
	return slices.Clone(fetched[:idx])
}

func newSinceSet(fetched []model.Item, c model.Cursor) []model.Item {
	if len(c.Seen) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Seen))
	for _, id := range c.Seen {
		seen[id] = struct{}{}
	}
	var fresh []model.Item
	for _, it := range fetched {
		if _, ok := seen[it.ID]; !ok {
			fresh = append(fresh, it)
		}
	}
	return fresh
}

// Advance returns the cursor for the next round after fetched was
// observed and fresh was reported as new.
// A last-seen cursor only moves when something new was found. A seen-set
// cursor is replaced by the ids of fetched unless the page was empty.
func Advance(c model.Cursor, fetched, fresh []model.Item) model.Cursor {
	if c.Mode() == model.CursorSeenSet {
		if len(fetched) == 0 {
			return c.Clone()
		}
		ids := make([]string, len(fetched))
		for i, it := range fetched {
			ids[i] = it.ID
		}
		return model.Cursor{Kind: model.CursorSeenSet, LastSeen: fetched[0].ID, Seen: ids}
	}

	if len(fresh) == 0 {
		return c.Clone()
	}
	return model.Cursor{Kind: model.CursorLastSeen, LastSeen: fresh[0].ID}
}
