package persist

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

func sampleEntries() []store.Entry {
	created := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return []store.Entry{
		{Key: 42, Subscriber: model.Subscriber{
			Key:       42,
			Premium:   true,
			CreatedAt: created,
			Subscriptions: []model.Subscription{
				{
					ID:     1,
					Cursor: model.Cursor{Kind: model.CursorLastSeen, LastSeen: "905"},
					Query:  &model.Query{Location: &model.Location{Lat: 50.08, Lng: 14.42}, Radius: 2000},
				},
				{ID: 2, Cursor: model.Cursor{Kind: model.CursorLastSeen}, Buyer: true},
			},
		}},
		{Key: -1001, Subscriber: model.Subscriber{
			Key: -1001,
			Subscriptions: []model.Subscription{
				{ID: 3, Cursor: model.Cursor{Kind: model.CursorSeenSet, LastSeen: "9", Seen: []string{"9", "8"}}, Channel: true},
			},
		}},
		{Key: 7, Subscriber: model.Subscriber{Key: 7, Subscriptions: []model.Subscription{}}},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleEntries()

	data, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeOrderedPairs(t *testing.T) {
	data, err := Encode([]store.Entry{
		{Key: 2, Subscriber: model.Subscriber{}},
		{Key: 1, Subscriber: model.Subscriber{Premium: true}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := `[[2,{"isPremium":false,"subscriptions":[]}],[1,{"isPremium":true,"subscriptions":[]}]]`
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("encoded snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeLegacySnapshot(t *testing.T) {
	legacy := `[
	  [123456, {"isPremium": false, "subscriptions": [
	    {"cursor": 905, "isBuyer": false, "variables": {"location": {"lat": 50.1, "lng": 14.4}, "radius": 1500}},
	    {"cursor": null, "isBuyer": true, "variables": null}
	  ]}],
	  ["654321", {"isPremium": true, "subscriptions": [{"cursor": "abc", "isBuyer": false, "variables": {"location": {"lat": 1, "lng": 2}}}]}]
	]`

	got, err := Decode([]byte(legacy))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := []store.Entry{
		{Key: 123456, Subscriber: model.Subscriber{
			Key: 123456,
			Subscriptions: []model.Subscription{
				{
					Cursor: model.Cursor{Kind: model.CursorLastSeen, LastSeen: "905"},
					Query:  &model.Query{Location: &model.Location{Lat: 50.1, Lng: 14.4}, Radius: 1500},
				},
				{Cursor: model.Cursor{Kind: model.CursorLastSeen}, Buyer: true},
			},
		}},
		{Key: 654321, Subscriber: model.Subscriber{
			Key:     654321,
			Premium: true,
			Subscriptions: []model.Subscription{
				{
					Cursor: model.Cursor{Kind: model.CursorLastSeen, LastSeen: "abc"},
					Query:  &model.Query{Location: &model.Location{Lat: 1, Lng: 2}},
				},
			},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("legacy decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantNo bool
	}{
		{name: "empty", data: "  ", wantNo: true},
		{name: "not json", data: "{{{"},
		{name: "object instead of array", data: `{"1": {}}`},
		{name: "short pair", data: `[[1]]`},
		{name: "bad key", data: `[[true, {}]]`},
		{name: "non numeric key", data: `[["abc", {}]]`},
		{name: "bad record", data: `[[1, "nope"]]`},
		{name: "bad cursor", data: `[[1, {"subscriptions": [{"cursor": [1]}]}]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, ErrNoSnapshot); got != tt.wantNo {
				t.Errorf("errors.Is(err, ErrNoSnapshot) = %v, want %v (err: %v)", got, tt.wantNo, err)
			}
		})
	}
}
