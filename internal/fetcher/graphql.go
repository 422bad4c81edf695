package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hasura/go-graphql-client"
	"golang.org/x/time/rate"

	"advert_bot/internal/model"
)

const advertFields = `id shortDescription absoluteUrl priceFormatted addressUserInput mainImageUrl`

const advertListQuery = `query AdvertList($location: LocationInput, $radius: Int, $boundary: [[Float!]!], $ids: [ID!]) {
  advertList(location: $location, radius: $radius, boundary: $boundary, ids: $ids, order: TIMEORDER_DESC) {
    list { ` + advertFields + ` }
  }
}`

const advertListBuyQuery = `query AdvertListBuy {
  advertList(offerType: PRODEJ, order: TIMEORDER_DESC) {
    list { ` + advertFields + ` }
  }
}`

// advertID accepts ids encoded as JSON strings or numbers.
type advertID string

func (id *advertID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = advertID(s)
		return nil
	}
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("advert id: %w", err)
	}
	*id = advertID(n.String())
	return nil
}

type advert struct {
	ID               advertID `json:"id"`
	ShortDescription string   `json:"shortDescription"`
	AbsoluteURL      string   `json:"absoluteUrl"`
	PriceFormatted   string   `json:"priceFormatted"`
	AddressUserInput string   `json:"addressUserInput"`
	MainImageURL     string   `json:"mainImageUrl"`
}

type advertListData struct {
	AdvertList *struct {
		List []advert `json:"list"`
	} `json:"advertList"`
}

// GraphQL fetches listings from the GraphQL listings API.
type GraphQL struct {
	client  *graphql.Client
	limiter *rate.Limiter
	log     *slog.Logger
	timeout time.Duration
}

// NewGraphQL creates a GraphQL source. At most perSecond requests are
// issued per second; perSecond <= 0 disables throttling.
func NewGraphQL(client HTTPClient, endpoint string, perSecond float64, log *slog.Logger) *GraphQL {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	gql := graphql.NewClient(endpoint, client).WithRequestModifier(func(r *http.Request) {
		r.Header.Set("User-Agent", userAgent)
	})
	return &GraphQL{
		client:  gql,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
		timeout: 30 * time.Second,
	}
}

// Fetch runs the listing query for req.
// A response carrying both data and errors is returned as data.
func (g *GraphQL) Fetch(ctx context.Context, req Request) ([]model.Item, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for fetch slot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query, vars := advertListQuery, variables(req.Query)
	if req.Buyer {
		query, vars = advertListBuyQuery, nil
	}

	raw, err := g.client.ExecRaw(ctx, query, vars)
	if err != nil {
		var gqlErrs graphql.Errors
		if !errors.As(err, &gqlErrs) || len(raw) == 0 {
			return nil, fmt.Errorf("graphql: %w", err)
		}
		g.log.Warn("partial graphql response", "buyer", req.Buyer, "error", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("graphql: empty response")
	}

	var out advertListData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.AdvertList == nil {
		return nil, nil
	}

	items := make([]model.Item, 0, len(out.AdvertList.List))
	for _, a := range out.AdvertList.List {
		if a.ID == "" {
			continue
		}
		items = append(items, model.Item{
			ID:       string(a.ID),
			Title:    a.ShortDescription,
			Price:    a.PriceFormatted,
			Address:  a.AddressUserInput,
			URL:      a.AbsoluteURL,
			ImageURL: a.MainImageURL,
		})
	}
	return items, nil
}

// variables maps a subscription query to the AdvertList arguments.
func variables(q *model.Query) map[string]any {
	if q == nil {
		return nil
	}
	vars := make(map[string]any)
	if q.Location != nil {
		vars["location"] = q.Location
	}
	if q.Radius != 0 {
		vars["radius"] = q.Radius
	}
	if len(q.Boundary) > 0 {
		vars["boundary"] = q.Boundary
	}
	if len(q.IDs) > 0 {
		vars["ids"] = q.IDs
	}
	return vars
}
