// Package spapi implements the marketplace data client: batched
// pricing and fee lookups, catalog item fetches and per-item offer
// listings against the Selling Partner API. All calls flow through the
// shared executor; bearer tokens come from the auth manager and are
// re-resolved on every attempt so retries pick up rotated tokens.
package spapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"fba-scout/internal/auth"
	"fba-scout/internal/config"
	"fba-scout/internal/executor"
)

// maxPricingBatch is the provider's per-call identifier ceiling for
// the batched pricing and fees endpoints.
const maxPricingBatch = 20

// CatalogCache persists catalog payloads keyed by (asin, marketplace).
type CatalogCache interface {
	GetCatalog(asin, marketplace string, ttl time.Duration) ([]byte, bool)
	SetCatalog(asin, marketplace string, payload []byte)
}

// Client is the SP-API client. MerchantID is optional; when set and a
// connected credential exists, seller-scoped endpoints use the
// merchant identity, otherwise the application identity is used.
type Client struct {
	// BaseURL is overridable in tests; defaults to the regional endpoint.
	BaseURL string

	exec        *executor.Executor
	tokens      *auth.Manager
	marketplace string
	merchantID  string

	catalogSem    *semaphore.Weighted
	catalogPacing time.Duration
	catalogGroup  singleflight.Group
	cache         CatalogCache
	cacheTTL      time.Duration
	now           func() time.Time
}

// NewClient creates an SP-API client for the configured region.
// cache may be nil to disable catalog caching.
func NewClient(exec *executor.Executor, tokens *auth.Manager, settings *config.Settings, merchantID string, cache CatalogCache) *Client {
	base, _ := settings.Endpoints()
	conc := int64(settings.CatalogConcurrency)
	if conc <= 0 {
		conc = 5
	}
	return &Client{
		BaseURL:       base,
		exec:          exec,
		tokens:        tokens,
		marketplace:   settings.MarketplaceID,
		merchantID:    merchantID,
		catalogSem:    semaphore.NewWeighted(conc),
		catalogPacing: settings.CatalogPacing,
		cache:         cache,
		cacheTTL:      settings.CatalogCacheTTL,
		now:           time.Now,
	}
}

// bearer resolves the token for one attempt. The merchant identity is
// preferred when connected; its absence silently falls back to the
// application identity so public-data calls keep working.
func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.merchantID != "" {
		tok, ok, err := c.tokens.MerchantToken(ctx, c.merchantID, c.marketplace)
		if err != nil {
			return "", err
		}
		if ok {
			return tok, nil
		}
	}
	return c.tokens.AppToken(ctx, c.marketplace)
}

// call runs one SP-API request through the executor and decodes the
// JSON response into out. body, when non-nil, is marshaled per attempt.
func (c *Client) call(ctx context.Context, class, method, path string, query url.Values, body interface{}, out interface{}) error {
	reqURL := c.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := c.exec.Do(ctx, class, func(ctx context.Context) (*http.Request, error) {
		tok, err := c.bearer(ctx)
		if err != nil {
			return nil, err
		}
		var rd io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("%s: encode request: %w", class, err)
			}
			rd = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-amz-access-token", tok)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", class, err)
	}
	return nil
}

// money is a price amount as the provider serializes it.
type money struct {
	CurrencyCode string  `json:"CurrencyCode"`
	Amount       float64 `json:"Amount"`
}

func chunkIdentifiers(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// dedupe preserves first-seen order and drops empties.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
