package spapi

import (
	"context"
	"fmt"
	"net/url"
)

// Amazon's own seller IDs per marketplace, used to detect Amazon as a
// competing seller on an offer listing.
var amazonSellerIDs = map[string]bool{
	"ATVPDKIKX0DER": true, // .com
	"A3P5ROKL5A1OLE": true, // .co.uk
	"A3JWKAKR8XB7XF": true, // .de
}

// OffersData summarizes the live offer listing for one ASIN.
type OffersData struct {
	ASIN           string
	FBASellerCount int
	FBMSellerCount int
	AmazonIsSeller bool
	LowestFBAPrice *float64
	LowestFBMPrice *float64
}

type itemOffersResponse struct {
	Payload struct {
		ASIN   string `json:"ASIN"`
		Offers []struct {
			SellerID            string `json:"SellerId"`
			IsBuyBoxWinner      bool   `json:"IsBuyBoxWinner"`
			IsFulfilledByAmazon bool   `json:"IsFulfilledByAmazon"`
			ListingPrice        *money `json:"ListingPrice"`
			Shipping            *money `json:"Shipping"`
		} `json:"Offers"`
	} `json:"payload"`
}

// ItemOffers fetches the New-condition offer listing for one ASIN and
// derives seller counts and lowest landed prices per fulfillment
// model. An empty listing yields zero counts, not an error.
func (c *Client) ItemOffers(ctx context.Context, asin string) (*OffersData, error) {
	q := url.Values{
		"MarketplaceId": {c.marketplace},
		"ItemCondition": {"New"},
	}
	var resp itemOffersResponse
	path := "/products/pricing/v0/items/" + url.PathEscape(asin) + "/offers"
	if err := c.call(ctx, "offers", "GET", path, q, nil, &resp); err != nil {
		return nil, fmt.Errorf("item offers %s: %w", asin, err)
	}

	d := &OffersData{ASIN: asin}
	for _, o := range resp.Payload.Offers {
		if amazonSellerIDs[o.SellerID] {
			d.AmazonIsSeller = true
		}

		var landed *float64
		if o.ListingPrice != nil && o.ListingPrice.Amount > 0 {
			v := o.ListingPrice.Amount
			if o.Shipping != nil {
				v += o.Shipping.Amount
			}
			landed = &v
		}

		if o.IsFulfilledByAmazon {
			d.FBASellerCount++
			if landed != nil && (d.LowestFBAPrice == nil || *landed < *d.LowestFBAPrice) {
				d.LowestFBAPrice = landed
			}
		} else {
			d.FBMSellerCount++
			if landed != nil && (d.LowestFBMPrice == nil || *landed < *d.LowestFBMPrice) {
				d.LowestFBMPrice = landed
			}
		}
	}
	return d, nil
}
