package config

import "time"

// MerchantConfig holds per-merchant analysis preferences supplied by the caller.
type MerchantConfig struct {
	MinROI        float64 `json:"min_roi"`         // minimum acceptable ROI percent
	MaxFBASellers int     `json:"max_fba_sellers"` // reject items with more FBA sellers than this
	HandlesHazmat bool    `json:"handles_hazmat"`
	PricingMode   string  `json:"pricing_mode"` // buybox | lowest

	// Optional per-merchant cost defaults applied when an item carries none.
	PrepCost        float64 `json:"prep_cost"`
	InboundShipping float64 `json:"inbound_shipping"`
}

// BucketConfig describes one endpoint-class token bucket.
type BucketConfig struct {
	Capacity   int     `json:"capacity"`    // burst size
	RefillRate float64 `json:"refill_rate"` // permits per second
}

// Settings holds application settings (in-memory representation).
// Credentials are resolved from env vars in main; see main.go.
type Settings struct {
	Region        string `json:"region"`         // NA | EU | FE
	MarketplaceID string `json:"marketplace_id"` // e.g. ATVPDKIKX0DER

	// Per-endpoint-class rate buckets. Keys: pricing, fees, catalog, offers, history.
	Buckets map[string]BucketConfig `json:"buckets"`

	// Executor behavior.
	BucketWaitTimeout time.Duration `json:"bucket_wait_timeout"`
	MaxAttempts       int           `json:"max_attempts"`

	// Catalog fetch throttling (hard 5 req/s ceiling upstream).
	CatalogConcurrency int           `json:"catalog_concurrency"`
	CatalogPacing      time.Duration `json:"catalog_pacing"`
	CatalogCacheTTL    time.Duration `json:"catalog_cache_ttl"`

	// Keepa history cache freshness window.
	HistoryCacheTTL time.Duration `json:"history_cache_ttl"`
}

// DefaultMerchant returns merchant preferences used when the caller supplies none.
func DefaultMerchant() *MerchantConfig {
	return &MerchantConfig{
		MinROI:          25,
		MaxFBASellers:   15,
		HandlesHazmat:   false,
		PricingMode:     "buybox",
		PrepCost:        0.50,
		InboundShipping: 0.50,
	}
}

// Default returns application settings with sensible defaults.
// Bucket rates mirror the published SP-API and Keepa plan limits.
func Default() *Settings {
	return &Settings{
		Region:        "NA",
		MarketplaceID: "ATVPDKIKX0DER",
		Buckets: map[string]BucketConfig{
			"pricing": {Capacity: 1, RefillRate: 0.5},
			"fees":    {Capacity: 2, RefillRate: 1},
			"catalog": {Capacity: 2, RefillRate: 2},
			"offers":  {Capacity: 1, RefillRate: 0.5},
			"history": {Capacity: 5, RefillRate: 1},
		},
		BucketWaitTimeout:  120 * time.Second,
		MaxAttempts:        5,
		CatalogConcurrency: 5,
		CatalogPacing:      200 * time.Millisecond,
		CatalogCacheTTL:    24 * time.Hour,
		HistoryCacheTTL:    12 * time.Hour,
	}
}

// Endpoints returns the SP-API and LWA base URLs for the configured region.
func (s *Settings) Endpoints() (spapi, lwa string) {
	switch s.Region {
	case "EU":
		return "https://sellingpartnerapi-eu.amazon.com", "https://api.amazon.co.uk/auth/o2/token"
	case "FE":
		return "https://sellingpartnerapi-fe.amazon.com", "https://api.amazon.co.jp/auth/o2/token"
	default:
		return "https://sellingpartnerapi-na.amazon.com", "https://api.amazon.com/auth/o2/token"
	}
}

// Valid reports whether the settings describe a usable region.
func (s *Settings) Valid() bool {
	switch s.Region {
	case "NA", "EU", "FE":
		return s.MarketplaceID != ""
	}
	return false
}
