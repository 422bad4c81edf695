package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"advert_bot/internal/model"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error

	lastBody []byte
	lastReq  *http.Request
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if req.Body != nil {
		m.lastBody, _ = io.ReadAll(req.Body)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const advertPage = `{"data":{"advertList":{"list":[
  {"id":"905","shortDescription":"Flat 2+kk, 54 m²","absoluteUrl":"https://example.com/905","priceFormatted":"18 000 Kč","addressUserInput":"Praha 3","mainImageUrl":"https://img.example.com/905.jpg"},
  {"id":904,"shortDescription":"Flat 1+1","absoluteUrl":"https://example.com/904","priceFormatted":"12 500 Kč","addressUserInput":"Praha 10","mainImageUrl":""}
]}}}`

func TestGraphQLFetch(t *testing.T) {
	tests := []struct {
		name      string
		transport *mockTransport
		want      []model.Item
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: advertPage, statusCode: 200},
			want: []model.Item{
				{ID: "905", Title: "Flat 2+kk, 54 m²", Price: "18 000 Kč", Address: "Praha 3", URL: "https://example.com/905", ImageURL: "https://img.example.com/905.jpg"},
				{ID: "904", Title: "Flat 1+1", Price: "12 500 Kč", Address: "Praha 10", URL: "https://example.com/904"},
			},
		},
		{
			name:      "empty list",
			transport: &mockTransport{body: `{"data":{"advertList":{"list":[]}}}`, statusCode: 200},
			want:      []model.Item{},
		},
		{
			name:      "null advert list",
			transport: &mockTransport{body: `{"data":{"advertList":null}}`, statusCode: 200},
			want:      nil,
		},
		{
			name: "partial response keeps data",
			transport: &mockTransport{
				body:       `{"data":{"advertList":{"list":[{"id":"1"}]}},"errors":[{"message":"image service down"}]}`,
				statusCode: 200,
			},
			want: []model.Item{{ID: "1"}},
		},
		{
			name:      "errors without data",
			transport: &mockTransport{body: `{"data":null,"errors":[{"message":"bad request"}]}`, statusCode: 200},
			wantErr:   true,
		},
		{
			name:      "null data without errors",
			transport: &mockTransport{body: `{"data":null}`, statusCode: 200},
			wantErr:   true,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "oops", statusCode: 502},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid json",
			transport: &mockTransport{body: "<html>", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraphQL(tt.transport, "https://api.example.com/graphql", 0, discardLogger())
			got, err := g.Fetch(context.Background(), Request{Query: &model.Query{Radius: 1000}})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGraphQLRequestBody(t *testing.T) {
	tests := []struct {
		name          string
		req           Request
		wantQuery     string
		wantVariables map[string]any
	}{
		{
			name: "location query",
			req: Request{Query: &model.Query{
				Location: &model.Location{Lat: 50.08, Lng: 14.42},
				Radius:   2000,
			}},
			wantQuery: advertListQuery,
			wantVariables: map[string]any{
				"location": map[string]any{"lat": 50.08, "lng": 14.42},
				"radius":   float64(2000),
			},
		},
		{
			name: "boundary and ids",
			req: Request{Query: &model.Query{
				Boundary: [][2]float64{{1, 2}, {3, 4}},
				IDs:      []string{"7"},
			}},
			wantQuery: advertListQuery,
			wantVariables: map[string]any{
				"boundary": []any{[]any{float64(1), float64(2)}, []any{float64(3), float64(4)}},
				"ids":      []any{"7"},
			},
		},
		{
			name:      "buyer query has no variables",
			req:       Request{Query: &model.Query{Radius: 5}, Buyer: true},
			wantQuery: advertListBuyQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTransport{body: advertPage, statusCode: 200}
			g := NewGraphQL(tr, "https://api.example.com/graphql", 0, discardLogger())
			if _, err := g.Fetch(context.Background(), tt.req); err != nil {
				t.Fatalf("fetch: %v", err)
			}

			if tr.lastReq.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", tr.lastReq.Method)
			}
			if got := tr.lastReq.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
				t.Errorf("content type = %q", got)
			}
			if got := tr.lastReq.Header.Get("User-Agent"); got != userAgent {
				t.Errorf("user agent = %q, want %q", got, userAgent)
			}

			var body struct {
				Query     string         `json:"query"`
				Variables map[string]any `json:"variables"`
			}
			if err := json.Unmarshal(tr.lastBody, &body); err != nil {
				t.Fatalf("decode request body: %v", err)
			}
			if diff := cmp.Diff(tt.wantQuery, body.Query); diff != "" {
				t.Errorf("query mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantVariables, body.Variables); diff != "" {
				t.Errorf("variables mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGraphQLFetchCancelled(t *testing.T) {
	g := NewGraphQL(&mockTransport{body: advertPage, statusCode: 200}, "https://api.example.com/graphql", 1, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Fetch(ctx, Request{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
