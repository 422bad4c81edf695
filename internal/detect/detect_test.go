package detect

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"advert_bot/internal/model"
)

func items(ids ...string) []model.Item {
	out := make([]model.Item, len(ids))
	for i, id := range ids {
		out[i] = model.Item{ID: id, Title: "advert " + id}
	}
	return out
}

func ids(list []model.Item) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, it := range list {
		out[i] = it.ID
	}
	return out
}

func lastSeen(id string) model.Cursor {
	return model.Cursor{Kind: model.CursorLastSeen, LastSeen: id}
}

func seenSet(list ...string) model.Cursor {
	c := model.Cursor{Kind: model.CursorSeenSet, Seen: list}
	if len(list) > 0 {
		c.LastSeen = list[0]
	}
	return c
}

func TestComputeNew(t *testing.T) {
	tests := []struct {
		name    string
		fetched []model.Item
		cursor  model.Cursor
		want    []string
	}{
		{
			name:    "cursor in the middle",
			fetched: items("5", "4", "3"),
			cursor:  lastSeen("4"),
			want:    []string{"5"},
		},
		{
			name:    "cursor at the head",
			fetched: items("5", "4", "3"),
			cursor:  lastSeen("5"),
			want:    nil,
		},
		{
			name:    "cursor at the tail",
			fetched: items("5", "4", "3"),
			cursor:  lastSeen("3"),
			want:    []string{"5", "4"},
		},
		{
			name:    "cursor scrolled off falls back to newest",
			fetched: items("9", "8", "7"),
			cursor:  lastSeen("4"),
			want:    []string{"9"},
		},
		{
			name:    "cursor scrolled off single item page",
			fetched: items("9"),
			cursor:  lastSeen("4"),
			want:    []string{"9"},
		},
		{
			name:    "first observation samples newest",
			fetched: items("3", "2", "1"),
			cursor:  model.Cursor{},
			want:    []string{"3"},
		},
		{
			name:    "empty fetch",
			fetched: nil,
			cursor:  lastSeen("4"),
			want:    nil,
		},
		{
			name:    "empty fetch first observation",
			fetched: nil,
			cursor:  model.Cursor{},
			want:    nil,
		},
		{
			name:    "seen set first observation seeds silently",
			fetched: items("3", "2", "1"),
			cursor:  model.Cursor{Kind: model.CursorSeenSet},
			want:    nil,
		},
		{
			name:    "seen set reports unseen ids in order",
			fetched: items("6", "3", "5", "2"),
			cursor:  seenSet("3", "2", "1"),
			want:    []string{"6", "5"},
		},
		{
			name:    "seen set nothing new",
			fetched: items("3", "2"),
			cursor:  seenSet("3", "2", "1"),
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeNew(tt.fetched, tt.cursor)
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ComputeNew mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputeNewIsSubsequence(t *testing.T) {
	pages := [][]model.Item{
		items("9", "8", "7", "6"),
		items("1"),
		items("4", "3", "2", "1"),
		nil,
	}
	cursors := []model.Cursor{
		{},
		lastSeen("7"),
		lastSeen("1"),
		lastSeen("100"),
		seenSet("8", "6"),
		seenSet("3"),
	}

	for _, page := range pages {
		for _, c := range cursors {
			got := ComputeNew(page, c)
			j := 0
			for _, it := range got {
				for j < len(page) && page[j].ID != it.ID {
					j++
				}
				if j == len(page) {
					t.Fatalf("ComputeNew(%v, %+v) = %v is not a subsequence", ids(page), c, ids(got))
				}
				j++
			}
		}
	}
}

func TestComputeNewIdempotent(t *testing.T) {
	page := items("5", "4", "3")
	for _, c := range []model.Cursor{{}, lastSeen("3"), lastSeen("x"), seenSet("4")} {
		first := ComputeNew(page, c)
		second := ComputeNew(page, c)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("second call differs for cursor %+v (-first +second):\n%s", c, diff)
		}
	}
	if diff := cmp.Diff(items("5", "4", "3"), page); diff != "" {
		t.Errorf("input was modified (-want +got):\n%s", diff)
	}
}

func TestCursorMonotonicAcrossTicks(t *testing.T) {
	for _, start := range []model.Cursor{{}, {Kind: model.CursorSeenSet}} {
		l1 := items("3", "2", "1")
		l2 := items("4", "3", "2", "1")

		c := start
		fresh := ComputeNew(l1, c)
		c = Advance(c, l1, fresh)

		fresh = ComputeNew(l2, c)
		if diff := cmp.Diff([]string{"4"}, ids(fresh)); diff != "" {
			t.Errorf("kind %q: second tick mismatch (-want +got):\n%s", start.Mode(), diff)
		}
		c = Advance(c, l2, fresh)
		if c.LastSeen != "4" {
			t.Errorf("kind %q: cursor = %q, want %q", start.Mode(), c.LastSeen, "4")
		}
	}
}

func TestFallbackReturnsExactlyOne(t *testing.T) {
	page := items("5", "4", "3", "2")
	c := lastSeen("3")

	withoutCursor := append(items("5", "4"), items("2")...)
	got := ComputeNew(withoutCursor, c)
	if diff := cmp.Diff([]string{"5"}, ids(got)); diff != "" {
		t.Errorf("fallback mismatch (-want +got):\n%s", diff)
	}
	if len(ComputeNew(page, c)) != 2 {
		t.Errorf("expected 2 new items while the cursor is on the page")
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name    string
		cursor  model.Cursor
		fetched []model.Item
		fresh   []model.Item
		want    model.Cursor
	}{
		{
			name:    "last seen moves to newest fresh item",
			cursor:  lastSeen("3"),
			fetched: items("5", "4", "3"),
			fresh:   items("5", "4"),
			want:    lastSeen("5"),
		},
		{
			name:    "last seen unchanged without fresh items",
			cursor:  lastSeen("5"),
			fetched: items("5", "4"),
			want:    lastSeen("5"),
		},
		{
			name:   "unset cursor unchanged on empty fetch",
			cursor: model.Cursor{},
			want:   model.Cursor{},
		},
		{
			name:    "seen set replaced by fetched ids",
			cursor:  seenSet("2", "1"),
			fetched: items("3", "2"),
			fresh:   items("3"),
			want:    seenSet("3", "2"),
		},
		{
			name:    "seen set kept on empty fetch",
			cursor:  seenSet("2", "1"),
			fetched: nil,
			want:    seenSet("2", "1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advance(tt.cursor, tt.fetched, tt.fresh)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Advance mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
