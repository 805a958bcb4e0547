// Package polymarket holds the REST clients for the Gamma (market
// discovery) and CLOB (order book) APIs.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfish/polyarb/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API. Requests
// share a token-bucket limiter so scan bursts stay under the public API's
// tolerance.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// requestsPerSecond caps outbound request rate; zero or negative disables
// throttling.
func NewGammaClient(baseURL string, requestsPerSecond float64) *GammaClient {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		now:        time.Now,
	}
}

// FetchSnapshot returns up to limit active markets ordered by 24h volume
// descending, normalized into snapshots.
func (g *GammaClient) FetchSnapshot(ctx context.Context, limit int) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: fetch markets: %w", err)
	}

	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	fetchedAt := g.now().UTC()
	snaps := make([]domain.MarketSnapshot, 0, len(markets))
	for i := range markets {
		snaps = append(snaps, markets[i].toSnapshot(fetchedAt))
	}
	return snaps, nil
}

// FetchDetail looks up a single market. The id may be a hex condition id, a
// numeric Gamma id, or a slug; each form uses its own query parameter.
func (g *GammaClient) FetchDetail(ctx context.Context, id string) (*domain.MarketSnapshot, error) {
	params := url.Values{}
	switch {
	case strings.HasPrefix(id, "0x"):
		params.Set("condition_id", id)
	case isNumeric(id):
		params.Set("id", id)
	default:
		params.Set("slug", id)
	}

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: fetch market %s: %w", id, err)
	}

	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("polymarket/gamma: %w: id=%s", domain.ErrNotFound, id)
	}

	snap := markets[0].toSnapshot(g.now().UTC())
	return &snap, nil
}

// SearchMarkets looks the query up as an event tag first and falls back to
// a case-insensitive question substring scan over the most active markets.
func (g *GammaClient) SearchMarkets(ctx context.Context, query string, limit int) ([]domain.MarketSnapshot, error) {
	out, err := g.searchByTag(ctx, query, limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("limit", "100")
	params.Set("active", "true")
	params.Set("closed", "false")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: search markets: %w", err)
	}

	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode search results: %w", err)
	}

	fetchedAt := g.now().UTC()
	needle := strings.ToLower(query)
	for i := range markets {
		if !strings.Contains(strings.ToLower(markets[i].Question), needle) {
			continue
		}
		out = append(out, markets[i].toSnapshot(fetchedAt))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// searchByTag lists the markets of events carrying the query as a tag slug.
// An unknown tag is an empty result, not an error.
func (g *GammaClient) searchByTag(ctx context.Context, query string, limit int) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("tag_slug", tagSlug(query))
	params.Set("active", "true")
	params.Set("closed", "false")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: search by tag: %w", err)
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode tag results: %w", err)
	}

	fetchedAt := g.now().UTC()
	var out []domain.MarketSnapshot
	for i := range events {
		for j := range events[i].Markets {
			out = append(out, events[i].Markets[j].toSnapshot(fetchedAt))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// tagSlug lowercases the query and joins words with hyphens, the form the
// Gamma tag index uses.
func tagSlug(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), "-")
}

// FetchNegRiskEvents returns active neg-risk events with at least three
// outcomes, ordered by 24h volume descending.
func (g *GammaClient) FetchNegRiskEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: fetch events: %w", err)
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	fetchedAt := g.now().UTC()
	var out []domain.Event
	for i := range events {
		if !events[i].NegRisk || len(events[i].Markets) < 3 {
			continue
		}
		out = append(out, events[i].toEvent(fetchedAt))
	}
	return out, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
