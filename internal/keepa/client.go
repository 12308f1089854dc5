// Package keepa implements the historical aggregator client: batched,
// cache-aware product history lookups against the Keepa product API.
package keepa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fba-scout/internal/executor"
	"fba-scout/internal/logger"
)

// maxBatch is the provider's per-request identifier ceiling.
const maxBatch = 100

// endpointClass names the executor bucket used for all Keepa calls.
const endpointClass = "history"

// HistoryCache persists raw product payloads between runs so repeated
// analyses skip paid provider tokens.
type HistoryCache interface {
	GetHistory(asin string, domain int, ttl time.Duration) ([]byte, bool)
	SetHistory(asin string, domain int, payload []byte)
}

// Client is the Keepa API client. All outbound calls go through the
// shared executor's "history" bucket.
type Client struct {
	// BaseURL is overridable in tests; defaults to the public API.
	BaseURL string

	exec     *executor.Executor
	key      string
	domain   int // Keepa domain ID: 1 = .com, 2 = .co.uk, 3 = .de, ...
	cache    HistoryCache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewClient creates a Keepa client. cache may be nil to disable caching.
func NewClient(exec *executor.Executor, key string, domain int, cache HistoryCache, cacheTTL time.Duration) *Client {
	return &Client{
		BaseURL:  "https://api.keepa.com",
		exec:     exec,
		key:      key,
		domain:   domain,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// BulkHistory fetches history series for the given ASINs, serving from
// cache where fresh and batching the rest into requests of at most 100
// identifiers. ASINs the provider has no data for are simply absent
// from the result; a transport failure returns the series gathered so
// far together with the error so the caller can continue with partial
// provider data.
func (c *Client) BulkHistory(ctx context.Context, asins []string) (map[string]*Series, error) {
	out := make(map[string]*Series, len(asins))
	now := c.now()

	var misses []string
	seen := make(map[string]bool, len(asins))
	for _, asin := range asins {
		if asin == "" || seen[asin] {
			continue
		}
		seen[asin] = true

		if c.cache != nil {
			if payload, ok := c.cache.GetHistory(asin, c.domain, c.cacheTTL); ok {
				var p Product
				if err := json.Unmarshal(payload, &p); err == nil && p.ASIN != "" {
					out[asin] = BuildSeries(&p, now)
					continue
				}
			}
		}
		misses = append(misses, asin)
	}

	for start := 0; start < len(misses); start += maxBatch {
		end := start + maxBatch
		if end > len(misses) {
			end = len(misses)
		}
		if err := c.fetchBatch(ctx, misses[start:end], now, out); err != nil {
			return out, err
		}
	}

	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, chunk []string, now time.Time, out map[string]*Series) error {
	q := url.Values{
		"key":     {c.key},
		"domain":  {fmt.Sprintf("%d", c.domain)},
		"asin":    {strings.Join(chunk, ",")},
		"stats":   {"180"},
		"history": {"1"},
	}
	reqURL := c.BaseURL + "/product?" + q.Encode()

	resp, err := c.exec.Do(ctx, endpointClass, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	})
	if err != nil {
		return fmt.Errorf("keepa batch of %d: %w", len(chunk), err)
	}
	defer resp.Body.Close()

	var payload Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("keepa decode: %w", err)
	}

	if payload.TokensLeft < payload.TokensConsumed {
		logger.Warn("KEEPA", fmt.Sprintf("token balance low: %d left", payload.TokensLeft))
	}

	for i := range payload.Products {
		p := &payload.Products[i]
		if p.ASIN == "" {
			continue
		}
		if c.cache != nil {
			if raw, err := json.Marshal(p); err == nil {
				c.cache.SetHistory(p.ASIN, c.domain, raw)
			}
		}
		out[p.ASIN] = BuildSeries(p, now)
	}
	return nil
}
