// Package fusion merges marketplace and aggregator views of one ASIN
// into a single record. Marketplace data is authoritative; aggregator
// history is supplemental and never overrides a marketplace price.
package fusion

import (
	"fmt"

	"fba-scout/internal/keepa"
	"fba-scout/internal/spapi"
)

// Price source tags carried on every fused record.
const (
	SourceBuyBox      = "buybox"
	SourceLowestOffer = "lowest_offer"
	// SourceKeepaFallback marks a price taken from the aggregator
	// because the marketplace produced none. Downstream consumers
	// treat it with less confidence.
	SourceKeepaFallback = "keepa_fallback"
)

// NoPriceError means neither provider produced a usable sell price.
// The ASIN is marked failed for the run and skipped by scoring; it is
// distinct from a transport error.
type NoPriceError struct {
	ASIN string
}

func (e *NoPriceError) Error() string {
	return fmt.Sprintf("%s: no price available from any provider", e.ASIN)
}

// Inputs are the per-provider views of one ASIN. Any field may be nil
// when that provider had no data; fusion proceeds with what exists.
type Inputs struct {
	Pricing *spapi.PricingData
	Catalog *spapi.CatalogData
	Offers  *spapi.OffersData
	Fees    *spapi.FeeEstimate
	History *keepa.Series

	// BrandRestricted is caller-supplied: brand gating is reported by
	// the merchant's own listing eligibility, not by either provider.
	BrandRestricted bool
}

// Record is the merged per-ASIN view consumed by scoring and
// optimization. Pointer fields are nil when no provider had the datum.
type Record struct {
	ASIN       string
	Title      string
	Brand      string
	Category   string
	ImageURL   string
	ParentASIN string

	SellPrice   float64
	PriceSource string

	SalesRank  *int
	OfferCount *int

	FBASellerCount  *int
	FBMSellerCount  *int
	AmazonIsSeller  bool
	Hazmat          bool
	BrandRestricted bool

	ReferralFee    *float64
	FulfillmentFee *float64

	// History is the aggregator series, always supplemental.
	History *keepa.Series

	// Partial reports that exactly one provider side contributed.
	// It is informational, never an error.
	Partial bool
}

// Fuse merges the provider views for one ASIN. Pure: identical inputs
// yield identical outputs. pricingMode selects between buy-box and
// lowest-offer preference for the marketplace price.
func Fuse(asin string, in Inputs, pricingMode string) (*Record, error) {
	r := &Record{
		ASIN:            asin,
		BrandRestricted: in.BrandRestricted,
		History:         in.History,
	}

	marketplace := in.Pricing != nil || in.Catalog != nil || in.Offers != nil
	r.Partial = marketplace != (in.History != nil)

	// Rule 1: marketplace price wins; aggregator only as a flagged
	// fallback when the marketplace produced nothing.
	if p, src := in.Pricing.SellPrice(pricingMode); p != nil {
		r.SellPrice = *p
		r.PriceSource = src
	} else if in.Offers != nil && in.Offers.LowestFBAPrice != nil {
		r.SellPrice = *in.Offers.LowestFBAPrice
		r.PriceSource = SourceLowestOffer
	} else if in.Offers != nil && in.Offers.LowestFBMPrice != nil {
		r.SellPrice = *in.Offers.LowestFBMPrice
		r.PriceSource = SourceLowestOffer
	} else if in.History != nil && in.History.CurrentPrice != nil && *in.History.CurrentPrice > 0 {
		r.SellPrice = *in.History.CurrentPrice
		r.PriceSource = SourceKeepaFallback
	} else {
		return nil, &NoPriceError{ASIN: asin}
	}

	// Rule 2: descriptive fields, marketplace first.
	if in.Catalog != nil {
		r.Title = in.Catalog.Title
		r.Brand = in.Catalog.Brand
		r.Category = in.Catalog.Category
		r.ImageURL = in.Catalog.ImageURL
		r.ParentASIN = in.Catalog.ParentASIN
		r.Hazmat = in.Catalog.Hazmat
	}
	if in.History != nil {
		if r.Title == "" {
			r.Title = in.History.Title
		}
		if r.Brand == "" {
			r.Brand = in.History.Brand
		}
		if r.Category == "" {
			r.Category = in.History.Category
		}
		if r.ImageURL == "" {
			r.ImageURL = in.History.ImageURL
		}
		if r.ParentASIN == "" {
			r.ParentASIN = in.History.ParentASIN
		}
	}

	// Rule 3: sales rank, marketplace first.
	if in.Catalog != nil && in.Catalog.SalesRank > 0 {
		v := in.Catalog.SalesRank
		r.SalesRank = &v
	} else if in.History != nil && in.History.CurrentRank != nil {
		r.SalesRank = in.History.CurrentRank
	}

	// Rule 4: marketplace-only competition fields.
	if in.Offers != nil {
		fba, fbm := in.Offers.FBASellerCount, in.Offers.FBMSellerCount
		r.FBASellerCount = &fba
		r.FBMSellerCount = &fbm
		r.AmazonIsSeller = in.Offers.AmazonIsSeller
	}
	if in.Pricing != nil && in.Pricing.OfferCount > 0 {
		v := in.Pricing.OfferCount
		r.OfferCount = &v
	} else if in.History != nil && in.History.OfferCount != nil {
		r.OfferCount = in.History.OfferCount
	}

	// Fees: failed estimates stay absent so the calculator falls back
	// to category-rate estimation instead of assuming zero fees.
	if in.Fees != nil && !in.Fees.Failed {
		ref, ful := in.Fees.ReferralFee, in.Fees.FulfillmentFee
		r.ReferralFee = &ref
		r.FulfillmentFee = &ful
	}

	return r, nil
}
