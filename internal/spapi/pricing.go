package spapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// PricingData is the per-ASIN result of a competitive pricing lookup.
// Nil price fields mean the provider returned no offer of that kind.
type PricingData struct {
	ASIN        string
	BuyBoxPrice *float64
	LowestPrice *float64 // lowest listed "New" price
	OfferCount  int      // New offer listings
}

// SellPrice resolves a price per the merchant's pricing mode.
// Mode "lowest" prefers the lowest offer; anything else prefers the
// buy box. Both fall through to the other when their preference is
// absent. Returns nil when the provider produced no price at all.
func (p *PricingData) SellPrice(mode string) (*float64, string) {
	if p == nil {
		return nil, ""
	}
	if mode == "lowest" {
		if p.LowestPrice != nil {
			return p.LowestPrice, "lowest_offer"
		}
		if p.BuyBoxPrice != nil {
			return p.BuyBoxPrice, "buybox"
		}
		return nil, ""
	}
	if p.BuyBoxPrice != nil {
		return p.BuyBoxPrice, "buybox"
	}
	if p.LowestPrice != nil {
		return p.LowestPrice, "lowest_offer"
	}
	return nil, ""
}

// Competitive pricing wire types. Only the fields the pipeline
// consumes are declared; unknown fields decode to nothing.
type competitivePricingResponse struct {
	Payload []struct {
		ASIN    string `json:"ASIN"`
		Status  string `json:"status"`
		Product struct {
			CompetitivePricing struct {
				CompetitivePrices []struct {
					CompetitivePriceID string `json:"CompetitivePriceId"`
					Condition          string `json:"condition"`
					Price              struct {
						LandedPrice  *money `json:"LandedPrice"`
						ListingPrice *money `json:"ListingPrice"`
					} `json:"Price"`
				} `json:"CompetitivePrices"`
				NumberOfOfferListings []struct {
					Condition string `json:"condition"`
					Count     int    `json:"Count"`
				} `json:"NumberOfOfferListings"`
			} `json:"CompetitivePricing"`
		} `json:"Product"`
	} `json:"payload"`
}

// CompetitivePricing fetches buy-box and lowest-New prices for the
// given ASINs, batching into provider calls of at most 20. ASINs the
// provider has no data for are absent from the result, not errors.
func (c *Client) CompetitivePricing(ctx context.Context, asins []string) (map[string]*PricingData, error) {
	asins = dedupe(asins)
	out := make(map[string]*PricingData, len(asins))

	for _, chunk := range chunkIdentifiers(asins, maxPricingBatch) {
		q := url.Values{
			"MarketplaceId": {c.marketplace},
			"Asins":         {strings.Join(chunk, ",")},
			"ItemType":      {"Asin"},
		}
		var resp competitivePricingResponse
		if err := c.call(ctx, "pricing", "GET", "/products/pricing/v0/competitivePrice", q, nil, &resp); err != nil {
			return out, fmt.Errorf("competitive pricing batch of %d: %w", len(chunk), err)
		}

		for _, item := range resp.Payload {
			if item.ASIN == "" || !strings.EqualFold(item.Status, "Success") {
				continue
			}
			d := &PricingData{ASIN: item.ASIN}
			for _, cp := range item.Product.CompetitivePricing.CompetitivePrices {
				price := cp.Price.LandedPrice
				if price == nil {
					price = cp.Price.ListingPrice
				}
				if price == nil || price.Amount <= 0 {
					continue
				}
				// CompetitivePriceId "1" is the buy box.
				if cp.CompetitivePriceID == "1" {
					v := price.Amount
					d.BuyBoxPrice = &v
				}
				if cp.Condition == "" || strings.EqualFold(cp.Condition, "New") {
					if d.LowestPrice == nil || price.Amount < *d.LowestPrice {
						v := price.Amount
						d.LowestPrice = &v
					}
				}
			}
			for _, l := range item.Product.CompetitivePricing.NumberOfOfferListings {
				if strings.EqualFold(l.Condition, "New") {
					d.OfferCount = l.Count
				}
			}
			out[item.ASIN] = d
		}
	}
	return out, nil
}
