// Package engine holds the pure analysis stages: profitability math,
// composite scoring and the goal-specific recommendation optimizers.
// Nothing in this package performs I/O.
package engine

import (
	"math"
	"strings"
)

// defaultReferralRate applies when no category keyword matches.
const defaultReferralRate = 0.15

// referralRates maps category keywords to referral fee percentages.
// Matched case-insensitively as substrings, first match wins.
var referralRates = []struct {
	keyword string
	rate    float64
}{
	{"electronic", 0.08},
	{"camera", 0.08},
	{"computer", 0.08},
	{"appliance", 0.08},
	{"clothing", 0.17},
	{"apparel", 0.17},
	{"jewelry", 0.20},
	{"watch", 0.16},
	{"grocery", 0.15},
	{"gourmet", 0.15},
	{"beauty", 0.15},
	{"health", 0.15},
	{"toys", 0.15},
	{"book", 0.15},
}

// ReferralRate returns the referral fee percentage for a category name.
func ReferralRate(category string) float64 {
	lower := strings.ToLower(category)
	for _, r := range referralRates {
		if strings.Contains(lower, r.keyword) {
			return r.rate
		}
	}
	return defaultReferralRate
}

// estimateFulfillmentFee approximates the FBA pick-pack fee from the
// sell price when no provider estimate is available.
func estimateFulfillmentFee(sellPrice float64) float64 {
	switch {
	case sellPrice < 10:
		return 3.00
	case sellPrice < 50:
		return 4.50
	case sellPrice < 100:
		return 7.00
	default:
		return 8.50
	}
}

// CostInput is the input to Calculate. Nil optional fields fall back
// to estimates; nil prep and inbound costs fall back to $0.50 each.
type CostInput struct {
	BuyCost   float64
	SellPrice float64
	Category  string

	PrepCost        *float64
	InboundShipping *float64
	ReferralFee     *float64 // from the fee estimate API when available
	FulfillmentFee  *float64
}

// ProfitabilityResult is the per-unit economics of one item. All
// monetary fields are rounded to cents.
type ProfitabilityResult struct {
	BuyCost         float64 `json:"buy_cost"`
	SellPrice       float64 `json:"sell_price"`
	PrepCost        float64 `json:"prep_cost"`
	InboundShipping float64 `json:"inbound_shipping"`
	ReferralFee     float64 `json:"referral_fee"`
	FulfillmentFee  float64 `json:"fulfillment_fee"`
	FeesEstimated   bool    `json:"fees_estimated"`

	TotalCost    float64 `json:"total_cost"`
	NetPayout    float64 `json:"net_payout"`
	NetProfit    float64 `json:"net_profit"`
	ROI          float64 `json:"roi"`
	Margin       float64 `json:"margin"`
	IsProfitable bool    `json:"is_profitable"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Calculate computes per-unit profitability. Pure function.
func Calculate(in CostInput) ProfitabilityResult {
	prep := 0.50
	if in.PrepCost != nil {
		prep = *in.PrepCost
	}
	inbound := 0.50
	if in.InboundShipping != nil {
		inbound = *in.InboundShipping
	}

	r := ProfitabilityResult{
		BuyCost:         round2(in.BuyCost),
		SellPrice:       round2(in.SellPrice),
		PrepCost:        round2(prep),
		InboundShipping: round2(inbound),
	}

	if in.ReferralFee != nil {
		r.ReferralFee = round2(*in.ReferralFee)
	} else {
		r.ReferralFee = round2(in.SellPrice * ReferralRate(in.Category))
		r.FeesEstimated = true
	}
	if in.FulfillmentFee != nil {
		r.FulfillmentFee = round2(*in.FulfillmentFee)
	} else {
		r.FulfillmentFee = round2(estimateFulfillmentFee(in.SellPrice))
		r.FeesEstimated = true
	}

	r.TotalCost = round2(r.BuyCost + r.PrepCost + r.InboundShipping)
	r.NetPayout = round2(r.SellPrice - r.ReferralFee - r.FulfillmentFee)
	r.NetProfit = round2(r.NetPayout - r.TotalCost)
	if r.TotalCost > 0 {
		r.ROI = round2(r.NetProfit / r.TotalCost * 100)
	}
	if r.SellPrice > 0 {
		r.Margin = round2(r.NetProfit / r.SellPrice * 100)
	}
	r.IsProfitable = r.NetProfit > 0
	return r
}
