package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"advert_bot/internal/model"
)

// RSS reads listings from a single RSS or Atom feed. The query of the
// request is ignored; every subscriber receives the same page.
type RSS struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// NewRSS creates an RSS source for url.
func NewRSS(client HTTPClient, url string) *RSS {
	return &RSS{
		client:  client,
		url:     url,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses the feed.
func (r *RSS) Fetch(ctx context.Context, _ Request) ([]model.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, model.Item{
			ID:       ItemGUID(it),
			Title:    it.Title,
			URL:      it.Link,
			ImageURL: imageURL(it),
		})
	}
	return items, nil
}

// ItemGUID returns the GUID for an RSS item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func imageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
