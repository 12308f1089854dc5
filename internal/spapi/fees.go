package spapi

import (
	"context"
	"fmt"
	"strings"
)

// FeeRequest is one item of a batched fee estimate.
type FeeRequest struct {
	ASIN  string
	Price float64
}

// FeeEstimate is the per-ASIN outcome of a fee lookup. Failed carries
// a provider-reported error; a failed item is never reported as
// zero-fee.
type FeeEstimate struct {
	ASIN           string
	Total          float64
	ReferralFee    float64
	FulfillmentFee float64
	Failed         bool
	FailReason     string
}

// Fee estimate wire types. The IdType/IdValue pair sits at the top
// level of each batch entry, beside FeesEstimateRequest, not inside
// it. The upstream rejects the nested placement.
type feesEstimateEntry struct {
	IDType              string `json:"IdType"`
	IDValue             string `json:"IdValue"`
	FeesEstimateRequest struct {
		MarketplaceID      string `json:"MarketplaceId"`
		IsAmazonFulfilled  bool   `json:"IsAmazonFulfilled"`
		Identifier         string `json:"Identifier"`
		PriceToEstimateFees struct {
			ListingPrice money `json:"ListingPrice"`
		} `json:"PriceToEstimateFees"`
	} `json:"FeesEstimateRequest"`
}

type feesEstimateResponse []struct {
	Status                  string `json:"Status"`
	FeesEstimateIdentifier  struct {
		IDValue    string `json:"IdValue"`
		Identifier string `json:"SellerInputIdentifier"`
	} `json:"FeesEstimateIdentifier"`
	FeesEstimate *struct {
		TotalFeesEstimate *money `json:"TotalFeesEstimate"`
		FeeDetailList     []struct {
			FeeType        string `json:"FeeType"`
			FinalFee       *money `json:"FinalFee"`
			FeeAmount      *money `json:"FeeAmount"`
		} `json:"FeeDetailList"`
	} `json:"FeesEstimate"`
	Error *struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Error"`
}

// FeeEstimates fetches referral and fulfillment fee estimates for the
// given (ASIN, price) pairs, batching into provider calls of at most
// 20. Response items are matched back positionally and by the embedded
// identifier, whichever yields an ASIN the batch actually contained.
func (c *Client) FeeEstimates(ctx context.Context, items []FeeRequest) (map[string]*FeeEstimate, error) {
	out := make(map[string]*FeeEstimate, len(items))

	for start := 0; start < len(items); start += maxPricingBatch {
		end := start + maxPricingBatch
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		entries := make([]feesEstimateEntry, 0, len(chunk))
		for _, it := range chunk {
			var e feesEstimateEntry
			e.IDType = "ASIN"
			e.IDValue = it.ASIN
			e.FeesEstimateRequest.MarketplaceID = c.marketplace
			e.FeesEstimateRequest.IsAmazonFulfilled = true
			e.FeesEstimateRequest.Identifier = it.ASIN
			e.FeesEstimateRequest.PriceToEstimateFees.ListingPrice = money{CurrencyCode: "USD", Amount: it.Price}
			entries = append(entries, e)
		}

		var resp feesEstimateResponse
		if err := c.call(ctx, "fees", "POST", "/products/fees/v0/feesEstimate", nil, entries, &resp); err != nil {
			return out, fmt.Errorf("fee estimate batch of %d: %w", len(chunk), err)
		}

		inChunk := make(map[string]bool, len(chunk))
		for _, it := range chunk {
			inChunk[it.ASIN] = true
		}

		for i, item := range resp {
			asin := ""
			if i < len(chunk) {
				asin = chunk[i].ASIN
			}
			// The response shape varies by upstream version; trust the
			// embedded identifier over position when both are present
			// and disagree.
			if id := item.FeesEstimateIdentifier.IDValue; id != "" && inChunk[id] {
				asin = id
			} else if id := item.FeesEstimateIdentifier.Identifier; id != "" && inChunk[id] {
				asin = id
			}
			if asin == "" {
				continue
			}

			est := &FeeEstimate{ASIN: asin}
			if item.Error != nil || !strings.EqualFold(item.Status, "Success") {
				est.Failed = true
				if item.Error != nil {
					est.FailReason = item.Error.Code
					if item.Error.Message != "" {
						est.FailReason = fmt.Sprintf("%s: %s", item.Error.Code, item.Error.Message)
					}
				} else {
					est.FailReason = item.Status
				}
				out[asin] = est
				continue
			}
			if item.FeesEstimate == nil || item.FeesEstimate.TotalFeesEstimate == nil {
				est.Failed = true
				est.FailReason = "no estimate in response"
				out[asin] = est
				continue
			}

			est.Total = item.FeesEstimate.TotalFeesEstimate.Amount
			for _, fee := range item.FeesEstimate.FeeDetailList {
				amount := 0.0
				if fee.FinalFee != nil {
					amount = fee.FinalFee.Amount
				} else if fee.FeeAmount != nil {
					amount = fee.FeeAmount.Amount
				}
				switch fee.FeeType {
				case "ReferralFee":
					est.ReferralFee = amount
				case "FBAFees", "FulfillmentFees", "FBAPerUnitFulfillmentFee":
					est.FulfillmentFee += amount
				}
			}
			out[asin] = est
		}
	}
	return out, nil
}
