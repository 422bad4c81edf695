// Package fetcher downloads listing pages from the external feed.
package fetcher

import (
	"context"
	"net/http"

	"advert_bot/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request selects the page to fetch for one subscription.
type Request struct {
	Query *model.Query
	Buyer bool
}

// Source returns the current page of listings, most recent first.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]model.Item, error)
}

const (
	userAgent    = "AdvertNotifyBot/1.0"
	maxBodyBytes = 5 * 1024 * 1024
)
