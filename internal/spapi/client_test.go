package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fba-scout/internal/auth"
	"fba-scout/internal/config"
	"fba-scout/internal/executor"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// testHarness wires a fake SP-API server, the token manager and an
// executor with generous buckets so tests never wait on refill.
type testHarness struct {
	client *Client
	srv    *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handler  http.HandlerFunc
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.requests = append(h.requests, r)
		h.bodies = append(h.bodies, string(body))
		handler := h.handler
		h.mu.Unlock()
		if handler != nil {
			handler(w, r)
			return
		}
		w.Write([]byte("{}"))
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	settings := config.Default()
	for class := range settings.Buckets {
		settings.Buckets[class] = config.BucketConfig{Capacity: 100, RefillRate: 100}
	}
	settings.CatalogPacing = 0

	tokens := auth.NewManager(auth.LWAConfig{
		ClientID:        "cid",
		ClientSecret:    "secret",
		TokenURL:        h.srv.URL + "/auth/o2/token",
		AppRefreshToken: "app-refresh",
	}, nil)

	h.client = NewClient(executor.New(settings), tokens, settings, "", nil)
	h.client.BaseURL = h.srv.URL
	return h
}

func (h *testHarness) respond(fn http.HandlerFunc) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

func (h *testHarness) apiRequests() []*http.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*http.Request(nil), h.requests...)
}

func fakeASINs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("B%09d", i)
	}
	return out
}

func TestCompetitivePricing_SplitsIntoBatchesOfTwenty(t *testing.T) {
	h := newHarness(t)
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		asins := strings.Split(r.URL.Query().Get("Asins"), ",")
		if len(asins) > 20 {
			t.Errorf("batch of %d exceeds provider limit", len(asins))
		}
		type item map[string]interface{}
		var payload []item
		for _, asin := range asins {
			payload = append(payload, item{"ASIN": asin, "status": "Success"})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"payload": payload})
	})

	_, err := h.client.CompetitivePricing(context.Background(), fakeASINs(45))
	if err != nil {
		t.Fatalf("CompetitivePricing: %v", err)
	}
	if got := len(h.apiRequests()); got != 3 {
		t.Errorf("made %d provider calls for 45 identifiers, want 3", got)
	}
}

func TestCompetitivePricing_ParsesBuyBoxAndLowestSeparately(t *testing.T) {
	h := newHarness(t)
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":[{"ASIN":"B000000001","status":"Success","Product":{"CompetitivePricing":{
			"CompetitivePrices":[
				{"CompetitivePriceId":"1","condition":"New","Price":{"LandedPrice":{"CurrencyCode":"USD","Amount":24.99}}},
				{"CompetitivePriceId":"2","condition":"New","Price":{"LandedPrice":{"CurrencyCode":"USD","Amount":19.99}}}
			],
			"NumberOfOfferListings":[{"condition":"New","Count":7}]
		}}}]}`))
	})

	out, err := h.client.CompetitivePricing(context.Background(), []string{"B000000001"})
	if err != nil {
		t.Fatalf("CompetitivePricing: %v", err)
	}
	d := out["B000000001"]
	if d == nil {
		t.Fatal("missing pricing data")
	}
	if d.BuyBoxPrice == nil || *d.BuyBoxPrice != 24.99 {
		t.Errorf("BuyBoxPrice = %v, want 24.99", d.BuyBoxPrice)
	}
	if d.LowestPrice == nil || *d.LowestPrice != 19.99 {
		t.Errorf("LowestPrice = %v, want 19.99", d.LowestPrice)
	}
	if d.OfferCount != 7 {
		t.Errorf("OfferCount = %d, want 7", d.OfferCount)
	}
}

func TestCompetitivePricing_NoDataIsAbsentNotError(t *testing.T) {
	h := newHarness(t)
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":[{"ASIN":"B000000001","status":"ClientError"}]}`))
	})

	out, err := h.client.CompetitivePricing(context.Background(), []string{"B000000001"})
	if err != nil {
		t.Fatalf("CompetitivePricing: %v", err)
	}
	if _, ok := out["B000000001"]; ok {
		t.Error("failed item should be absent from the result map")
	}
}

func TestSellPrice_ModeResolution(t *testing.T) {
	bb, low := 24.99, 19.99
	both := &PricingData{BuyBoxPrice: &bb, LowestPrice: &low}
	lowOnly := &PricingData{LowestPrice: &low}

	if p, src := both.SellPrice("buybox"); *p != bb || src != "buybox" {
		t.Errorf("buybox mode = (%v, %q)", *p, src)
	}
	if p, src := both.SellPrice("lowest"); *p != low || src != "lowest_offer" {
		t.Errorf("lowest mode = (%v, %q)", *p, src)
	}
	if p, src := lowOnly.SellPrice("buybox"); *p != low || src != "lowest_offer" {
		t.Errorf("buybox mode without buy box = (%v, %q)", *p, src)
	}
	if p, _ := (&PricingData{}).SellPrice("buybox"); p != nil {
		t.Errorf("no prices should resolve to nil, got %v", *p)
	}
}

func TestFeeEstimates_TopLevelIdentifierQuirk(t *testing.T) {
	h := newHarness(t)
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := h.client.FeeEstimates(context.Background(), []FeeRequest{{ASIN: "B000000001", Price: 29.99}})
	if err != nil {
		t.Fatalf("FeeEstimates: %v", err)
	}

	h.mu.Lock()
	body := h.bodies[len(h.bodies)-1]
	h.mu.Unlock()

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		t.Fatalf("request body not a JSON array: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	// IdType/IdValue must sit beside FeesEstimateRequest, not inside it.
	if _, ok := entries[0]["IdType"]; !ok {
		t.Error("IdType missing at the top level of the batch entry")
	}
	if _, ok := entries[0]["IdValue"]; !ok {
		t.Error("IdValue missing at the top level of the batch entry")
	}
	if _, ok := entries[0]["FeesEstimateRequest"]; !ok {
		t.Error("FeesEstimateRequest missing")
	}
}

func TestFeeEstimates_MatchesByEmbeddedIdentifier(t *testing.T) {
	h := newHarness(t)
	// Response order reversed relative to the request.
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"Status":"Success","FeesEstimateIdentifier":{"IdValue":"B000000002"},
			 "FeesEstimate":{"TotalFeesEstimate":{"CurrencyCode":"USD","Amount":9.00},
			  "FeeDetailList":[{"FeeType":"ReferralFee","FinalFee":{"CurrencyCode":"USD","Amount":4.50}},
			                   {"FeeType":"FBAFees","FinalFee":{"CurrencyCode":"USD","Amount":4.50}}]}},
			{"Status":"Success","FeesEstimateIdentifier":{"IdValue":"B000000001"},
			 "FeesEstimate":{"TotalFeesEstimate":{"CurrencyCode":"USD","Amount":6.00},
			  "FeeDetailList":[{"FeeType":"ReferralFee","FinalFee":{"CurrencyCode":"USD","Amount":3.00}},
			                   {"FeeType":"FBAFees","FinalFee":{"CurrencyCode":"USD","Amount":3.00}}]}}
		]`))
	})

	out, err := h.client.FeeEstimates(context.Background(), []FeeRequest{
		{ASIN: "B000000001", Price: 19.99},
		{ASIN: "B000000002", Price: 29.99},
	})
	if err != nil {
		t.Fatalf("FeeEstimates: %v", err)
	}
	if est := out["B000000001"]; est == nil || est.Total != 6.00 || est.ReferralFee != 3.00 {
		t.Errorf("B000000001 = %+v, want total 6.00 despite reversed response order", est)
	}
	if est := out["B000000002"]; est == nil || est.Total != 9.00 || est.FulfillmentFee != 4.50 {
		t.Errorf("B000000002 = %+v, want total 9.00", est)
	}
}

func TestFeeEstimates_ProviderErrorIsFailedNotZeroFee(t *testing.T) {
	h := newHarness(t)
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"Status":"ClientError","FeesEstimateIdentifier":{"IdValue":"B000000001"},
			"Error":{"Code":"InvalidInput","Message":"unknown ASIN"}}]`))
	})

	out, err := h.client.FeeEstimates(context.Background(), []FeeRequest{{ASIN: "B000000001", Price: 9.99}})
	if err != nil {
		t.Fatalf("FeeEstimates: %v", err)
	}
	est := out["B000000001"]
	if est == nil {
		t.Fatal("failed item must still appear in the result")
	}
	if !est.Failed {
		t.Error("provider error must mark the estimate failed")
	}
	if est.FailReason == "" {
		t.Error("failed estimate must carry a reason")
	}
	if est.Total != 0 || est.ReferralFee != 0 {
		t.Errorf("failed estimate must not carry fee amounts: %+v", est)
	}
}

func TestCatalogItem_ParsesAndCaches(t *testing.T) {
	h := newHarness(t)
	cache := newMemCatalogCache()
	h.client.cache = cache
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"asin":"B000000001",
			"summaries":[{"marketplaceId":"ATVPDKIKX0DER","itemName":"Travel Mug","brand":"Contigo"}],
			"images":[{"marketplaceId":"ATVPDKIKX0DER","images":[{"variant":"MAIN","link":"https://img/1.jpg"}]}],
			"salesRanks":[{"marketplaceId":"ATVPDKIKX0DER","displayGroupRanks":[{"title":"Kitchen & Dining","rank":1234}]}],
			"relationships":[{"marketplaceId":"ATVPDKIKX0DER","relationships":[{"type":"VARIATION","parentAsins":["B000000099"]}]}]}`))
	})

	d, err := h.client.CatalogItem(context.Background(), "B000000001")
	if err != nil {
		t.Fatalf("CatalogItem: %v", err)
	}
	if d.Title != "Travel Mug" || d.Brand != "Contigo" {
		t.Errorf("summary = %q / %q", d.Title, d.Brand)
	}
	if d.ImageURL != "https://img/1.jpg" {
		t.Errorf("ImageURL = %q", d.ImageURL)
	}
	if d.Category != "Kitchen & Dining" || d.SalesRank != 1234 {
		t.Errorf("rank = %q / %d", d.Category, d.SalesRank)
	}
	if d.ParentASIN != "B000000099" {
		t.Errorf("ParentASIN = %q", d.ParentASIN)
	}

	if _, err := h.client.CatalogItem(context.Background(), "B000000001"); err != nil {
		t.Fatalf("cached CatalogItem: %v", err)
	}
	if got := len(h.apiRequests()); got != 1 {
		t.Errorf("server saw %d catalog requests, want 1 (second served from cache)", got)
	}
}

func TestItemOffers_CountsAndLowestPrices(t *testing.T) {
	h := newHarness(t)
	h.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":{"ASIN":"B000000001","Offers":[
			{"SellerId":"ATVPDKIKX0DER","IsFulfilledByAmazon":true,"ListingPrice":{"CurrencyCode":"USD","Amount":22.99},"Shipping":{"CurrencyCode":"USD","Amount":0}},
			{"SellerId":"S1","IsFulfilledByAmazon":true,"ListingPrice":{"CurrencyCode":"USD","Amount":21.49},"Shipping":{"CurrencyCode":"USD","Amount":0}},
			{"SellerId":"S2","IsFulfilledByAmazon":false,"ListingPrice":{"CurrencyCode":"USD","Amount":18.00},"Shipping":{"CurrencyCode":"USD","Amount":4.99}}
		]}}`))
	})

	d, err := h.client.ItemOffers(context.Background(), "B000000001")
	if err != nil {
		t.Fatalf("ItemOffers: %v", err)
	}
	if d.FBASellerCount != 2 || d.FBMSellerCount != 1 {
		t.Errorf("counts = %d FBA / %d FBM, want 2 / 1", d.FBASellerCount, d.FBMSellerCount)
	}
	if !d.AmazonIsSeller {
		t.Error("AmazonIsSeller = false, want true")
	}
	if d.LowestFBAPrice == nil || !almostEqual(*d.LowestFBAPrice, 21.49) {
		t.Errorf("LowestFBAPrice = %v, want 21.49", deref(d.LowestFBAPrice))
	}
	if d.LowestFBMPrice == nil || !almostEqual(*d.LowestFBMPrice, 22.99) {
		t.Errorf("LowestFBMPrice = %v, want 22.99 (price + shipping)", deref(d.LowestFBMPrice))
	}
}

func TestHazmatFromAttributes(t *testing.T) {
	cases := []struct {
		name  string
		attrs string
		want  bool
	}{
		{"none", `{}`, false},
		{"ghs class", `{"ghs_classification_class":[{"value":"flammable"}]}`, true},
		{"regulation not applicable", `{"supplier_declared_dg_hz_regulation":[{"value":"not_applicable"}]}`, false},
		{"regulation ghs", `{"supplier_declared_dg_hz_regulation":[{"value":"ghs"}]}`, true},
	}
	for _, tc := range cases {
		var attrs map[string]json.RawMessage
		if err := json.Unmarshal([]byte(tc.attrs), &attrs); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := hazmatFromAttributes(attrs); got != tc.want {
			t.Errorf("%s: hazmatFromAttributes = %v, want %v", tc.name, got, tc.want)
		}
	}
}

type memCatalogCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCatalogCache() *memCatalogCache {
	return &memCatalogCache{data: make(map[string][]byte)}
}

func (c *memCatalogCache) GetCatalog(asin, marketplace string, ttl time.Duration) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.data[asin+"/"+marketplace]
	return p, ok
}

func (c *memCatalogCache) SetCatalog(asin, marketplace string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[asin+"/"+marketplace] = payload
}
