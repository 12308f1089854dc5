package keepa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fba-scout/internal/config"
	"fba-scout/internal/executor"
)

type memHistoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemHistoryCache() *memHistoryCache {
	return &memHistoryCache{data: make(map[string][]byte)}
}

func (c *memHistoryCache) GetHistory(asin string, domain int, ttl time.Duration) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.data[fmt.Sprintf("%s/%d", asin, domain)]
	return p, ok
}

func (c *memHistoryCache) SetHistory(asin string, domain int, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[fmt.Sprintf("%s/%d", asin, domain)] = payload
}

// historyServer answers /product with one minimal product per
// requested ASIN and records the batch sizes it saw.
func historyServer(t *testing.T) (*httptest.Server, *[]int) {
	t.Helper()
	var mu sync.Mutex
	var batches []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		asins := strings.Split(r.URL.Query().Get("asin"), ",")
		mu.Lock()
		batches = append(batches, len(asins))
		mu.Unlock()

		resp := Response{TokensLeft: 1000}
		for _, asin := range asins {
			resp.Products = append(resp.Products, Product{
				ASIN: asin,
				CSV: [][]int64{
					3: {ToKeepaTime(time.Now().Add(-time.Hour)), 42000},
					18: nil,
				},
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	return srv, &batches
}

func testHistoryClient(t *testing.T, baseURL string, cache HistoryCache) *Client {
	t.Helper()
	settings := config.Default()
	// Generous bucket so tests never wait on refill.
	settings.Buckets["history"] = config.BucketConfig{Capacity: 100, RefillRate: 100}
	exec := executor.New(settings)
	c := NewClient(exec, "test-key", 1, cache, 12*time.Hour)
	c.BaseURL = baseURL
	return c
}

func TestBulkHistory_SplitsIntoProviderSizedBatches(t *testing.T) {
	srv, batches := historyServer(t)
	defer srv.Close()

	asins := make([]string, 150)
	for i := range asins {
		asins[i] = fmt.Sprintf("B%09d", i)
	}

	c := testHistoryClient(t, srv.URL, nil)
	out, err := c.BulkHistory(context.Background(), asins)
	if err != nil {
		t.Fatalf("BulkHistory: %v", err)
	}
	if len(out) != 150 {
		t.Errorf("got %d series, want 150", len(out))
	}
	if len(*batches) != 2 || (*batches)[0] != 100 || (*batches)[1] != 50 {
		t.Errorf("batches = %v, want [100 50]", *batches)
	}
}

func TestBulkHistory_DeduplicatesInput(t *testing.T) {
	srv, batches := historyServer(t)
	defer srv.Close()

	c := testHistoryClient(t, srv.URL, nil)
	out, err := c.BulkHistory(context.Background(), []string{"B000000001", "B000000001", "", "B000000002"})
	if err != nil {
		t.Fatalf("BulkHistory: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("got %d series, want 2", len(out))
	}
	if len(*batches) != 1 || (*batches)[0] != 2 {
		t.Errorf("batches = %v, want [2]", *batches)
	}
}

func TestBulkHistory_ServesFromCache(t *testing.T) {
	srv, batches := historyServer(t)
	defer srv.Close()

	cache := newMemHistoryCache()
	c := testHistoryClient(t, srv.URL, cache)

	if _, err := c.BulkHistory(context.Background(), []string{"B000000001"}); err != nil {
		t.Fatalf("first BulkHistory: %v", err)
	}
	out, err := c.BulkHistory(context.Background(), []string{"B000000001"})
	if err != nil {
		t.Fatalf("second BulkHistory: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d series, want 1", len(out))
	}
	if len(*batches) != 1 {
		t.Errorf("server saw %d batches, want 1 (second call cached)", len(*batches))
	}
	if out["B000000001"].CurrentRank == nil || *out["B000000001"].CurrentRank != 42000 {
		t.Errorf("cached series lost rank: %+v", out["B000000001"])
	}
}

func TestBulkHistory_MissingProductsAbsentNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Provider knows nothing about the requested ASINs.
		json.NewEncoder(w).Encode(Response{TokensLeft: 1000})
	}))
	defer srv.Close()

	c := testHistoryClient(t, srv.URL, nil)
	out, err := c.BulkHistory(context.Background(), []string{"B000000001", "B000000002"})
	if err != nil {
		t.Fatalf("BulkHistory: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d series, want 0", len(out))
	}
}
