package engine

import (
	"fmt"
	"math"
	"strings"

	"fba-scout/internal/config"
	"fba-scout/internal/fusion"
	"fba-scout/internal/keepa"
)

// volatilityGateCV is the price coefficient-of-variation past which an
// item is rejected outright.
const volatilityGateCV = 40.0

// DimensionScores is the per-dimension breakdown. Maxima: 30, 25, 15,
// 15, 15.
type DimensionScores struct {
	Profitability float64 `json:"profitability"`
	Velocity      float64 `json:"velocity"`
	Competition   float64 `json:"competition"`
	Risk          float64 `json:"risk"`
	Opportunity   float64 `json:"opportunity"`
}

// ScoreResult is the 0-100 composite score for one item.
type ScoreResult struct {
	Total      float64         `json:"total"`
	Grade      string          `json:"grade"`
	Gated      bool            `json:"gated"`
	GateReason string          `json:"gate_reason,omitempty"`
	Dimensions DimensionScores `json:"dimensions"`

	EstMonthlySales float64 `json:"est_monthly_sales"`
	SalesMethod     string  `json:"sales_method,omitempty"`

	Strengths     []string `json:"strengths,omitempty"`
	Weaknesses    []string `json:"weaknesses,omitempty"`
	Opportunities []string `json:"opportunities,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func gradeFor(total float64) string {
	switch {
	case total >= 85:
		return "Excellent"
	case total >= 70:
		return "Good"
	case total >= 50:
		return "Fair"
	default:
		return "Poor"
	}
}

func gated(reason string) *ScoreResult {
	return &ScoreResult{Gated: true, GateReason: reason, Grade: gradeFor(0)}
}

// Score computes the composite 0-100 score. Pure function; all inputs
// other than merchant may carry nil optional fields.
func Score(profit *ProfitabilityResult, rec *fusion.Record, merchant *config.MerchantConfig) *ScoreResult {
	hist := rec.History

	// Stage 1: pass/fail gates.
	if rec.BrandRestricted {
		return gated("brand is restricted for this merchant")
	}
	if rec.Hazmat && !merchant.HandlesHazmat {
		return gated("hazmat item and merchant does not handle hazmat")
	}
	if profit.ROI < merchant.MinROI {
		return gated(fmt.Sprintf("ROI %.1f%% below minimum %.1f%%", profit.ROI, merchant.MinROI))
	}
	if rec.FBASellerCount != nil && *rec.FBASellerCount > merchant.MaxFBASellers {
		return gated(fmt.Sprintf("%d FBA sellers exceeds maximum %d", *rec.FBASellerCount, merchant.MaxFBASellers))
	}
	if hist != nil && hist.PriceCV90 != nil && *hist.PriceCV90 > volatilityGateCV {
		return gated(fmt.Sprintf("price volatility %.0f%% exceeds %.0f%%", *hist.PriceCV90, volatilityGateCV))
	}

	r := &ScoreResult{}
	r.EstMonthlySales, r.SalesMethod = EstimateMonthlySales(hist, rec.Category)

	// Stage 2: weighted dimensions.
	r.Dimensions.Profitability = profitabilityPoints(profit)
	r.Dimensions.Velocity = velocityPoints(rec, hist, r.EstMonthlySales)
	r.Dimensions.Competition = competitionPoints(rec, hist)
	r.Dimensions.Risk = riskPoints(rec, hist, merchant)
	r.Dimensions.Opportunity = opportunityPoints(rec, hist)

	total := r.Dimensions.Profitability + r.Dimensions.Velocity +
		r.Dimensions.Competition + r.Dimensions.Risk + r.Dimensions.Opportunity

	// Stage 3: multipliers.
	if r.Dimensions.Profitability >= 25 && r.Dimensions.Velocity >= 20 {
		total *= 1.05
	}
	if r.Dimensions.Competition < 5 {
		total *= 0.90
	}
	if r.Dimensions.Risk < 8 {
		total *= 0.95
	}
	if total > 100 {
		total = 100
	}
	r.Total = math.Round(total*10) / 10
	r.Grade = gradeFor(r.Total)

	buildInsights(r, profit, rec, hist)
	return r
}

// profitabilityPoints: ROI 12, absolute profit 10, margin 8.
func profitabilityPoints(p *ProfitabilityResult) float64 {
	var pts float64
	switch {
	case p.ROI >= 100:
		pts += 12
	case p.ROI >= 75:
		pts += 10
	case p.ROI >= 50:
		pts += 8
	case p.ROI >= 35:
		pts += 6
	case p.ROI >= 25:
		pts += 4
	default:
		pts += 2
	}
	switch {
	case p.NetProfit >= 15:
		pts += 10
	case p.NetProfit >= 10:
		pts += 8
	case p.NetProfit >= 7:
		pts += 6
	case p.NetProfit >= 5:
		pts += 4
	case p.NetProfit >= 3:
		pts += 2
	}
	switch {
	case p.Margin >= 30:
		pts += 8
	case p.Margin >= 20:
		pts += 6
	case p.Margin >= 15:
		pts += 4
	case p.Margin >= 10:
		pts += 2
	}
	return pts
}

// velocityPoints: monthly sales 10, category-aware rank 7, days to
// sell a reference hundred units 5, sell-through proxy 3.
func velocityPoints(rec *fusion.Record, hist *keepa.Series, monthly float64) float64 {
	var pts float64
	switch {
	case monthly >= 300:
		pts += 10
	case monthly >= 150:
		pts += 8
	case monthly >= 75:
		pts += 6
	case monthly >= 30:
		pts += 4
	case monthly >= 10:
		pts += 2
	}

	if rec.SalesRank != nil && *rec.SalesRank > 0 {
		ceiling := rankCeiling(rec.Category)
		rank := *rec.SalesRank
		switch {
		case rank <= ceiling/20:
			pts += 7
		case rank <= ceiling/4:
			pts += 5
		case rank <= ceiling:
			pts += 3
		case rank <= 2*ceiling:
			pts += 1
		}
	}

	if monthly > 0 {
		days := referenceQuantity / (monthly / 30)
		switch {
		case days < 30:
			pts += 5
		case days < 60:
			pts += 3
		case days < 90:
			pts += 2
		}
	}

	if monthly > 0 && rec.OfferCount != nil && *rec.OfferCount > 0 {
		perSeller := monthly / float64(*rec.OfferCount)
		switch {
		case perSeller >= 20:
			pts += 3
		case perSeller >= 10:
			pts += 2
		case perSeller >= 5:
			pts += 1
		}
	}
	return pts
}

// referenceQuantity is the unit count velocity bands are anchored to.
const referenceQuantity = 100.0

// competitionPoints: FBA seller count 5, buy-box availability 3,
// seller-count trend 3, price compression 2, seller churn 2.
func competitionPoints(rec *fusion.Record, hist *keepa.Series) float64 {
	var pts float64
	if rec.FBASellerCount != nil {
		switch n := *rec.FBASellerCount; {
		case n <= 2:
			pts += 5
		case n <= 5:
			pts += 4
		case n <= 8:
			pts += 3
		case n <= 12:
			pts += 2
		default:
			pts += 1
		}
	}
	if hist == nil {
		return pts
	}

	if hist.BuyBoxShare90 != nil {
		switch share := *hist.BuyBoxShare90; {
		case share >= 0.95:
			pts += 3
		case share >= 0.80:
			pts += 2
		case share >= 0.50:
			pts += 1
		}
	}

	// Falling seller count means competitors are leaving.
	if hist.OfferCount != nil && hist.OfferCountAvg90 != nil && *hist.OfferCountAvg90 > 0 {
		ratio := float64(*hist.OfferCount) / *hist.OfferCountAvg90
		switch {
		case ratio <= 0.85:
			pts += 3
		case ratio <= 1.15:
			pts += 2
		}
	}

	if hist.PriceCV90 != nil {
		switch cv := *hist.PriceCV90; {
		case cv < 10:
			pts += 2
		case cv < 20:
			pts += 1
		}
	}

	if hist.OfferCountStd90 != nil {
		switch sd := *hist.OfferCountStd90; {
		case sd < 1:
			pts += 2
		case sd < 2:
			pts += 1
		}
	}
	return pts
}

// highRiskCategories are prone to IP complaints, sizing returns or
// expiry handling.
var highRiskCategories = []string{"jewelry", "watch", "clothing", "apparel", "shoes", "supplement", "topical"}

// riskPoints: volatility 4, stock-out band 3, hazmat 2, restriction 2,
// review stability 2, category risk 2. Higher is safer.
func riskPoints(rec *fusion.Record, hist *keepa.Series, merchant *config.MerchantConfig) float64 {
	var pts float64

	if hist != nil && hist.PriceCV90 != nil {
		switch cv := *hist.PriceCV90; {
		case cv < 10:
			pts += 4
		case cv < 20:
			pts += 3
		case cv < 30:
			pts += 2
		case cv < volatilityGateCV:
			pts += 1
		}
	}

	// A moderate Amazon out-of-stock rate is an opening for third
	// party sellers, not a pure risk.
	if hist != nil && hist.OutOfStock90 != nil {
		switch oos := *hist.OutOfStock90; {
		case oos >= 5 && oos <= 20:
			pts += 3
		case oos < 5:
			pts += 2
		case oos <= 35:
			pts += 1
		}
	}

	if !rec.Hazmat {
		pts += 2
	} else if merchant.HandlesHazmat {
		pts += 1
	}
	if !rec.BrandRestricted {
		pts += 2
	}

	if hist != nil && hist.ReviewCount != nil {
		n := *hist.ReviewCount
		growth := 0.0
		if hist.ReviewCountGrowth90 != nil {
			growth = *hist.ReviewCountGrowth90
		}
		switch {
		case n >= 50 && growth >= 0:
			pts += 2
		case n >= 10:
			pts += 1
		}
	}

	risky := false
	lower := strings.ToLower(rec.Category)
	for _, kw := range highRiskCategories {
		if strings.Contains(lower, kw) {
			risky = true
			break
		}
	}
	if !risky {
		pts += 2
	}
	return pts
}

// opportunityPoints: underpricing 4, low-competition window 4, upward
// trend 3, Amazon out-of-stock 2, new product potential 2.
func opportunityPoints(rec *fusion.Record, hist *keepa.Series) float64 {
	if hist == nil {
		return 0
	}
	var pts float64

	// Underpricing: a recent dip that has not yet persisted means the
	// price likely recovers; a sustained dip means the lower price is
	// the new normal.
	if hist.AvgPrice30 != nil && hist.AvgPrice90 != nil && *hist.AvgPrice90 > 0 && *hist.AvgPrice30 > 0 {
		disc90 := (*hist.AvgPrice90 - rec.SellPrice) / *hist.AvgPrice90
		disc30 := (*hist.AvgPrice30 - rec.SellPrice) / *hist.AvgPrice30
		switch {
		case disc90 > 0.10 && disc30 < 0.05:
			pts += 4
		case disc90 > 0.10 && disc30 < 0.10:
			pts += 2
		case disc90 > 0.10:
			// sustained dip, no points
		case disc90 > 0.03:
			pts += 1
		}
	}

	if rec.FBASellerCount != nil && hist.OfferCountAvg90 != nil {
		cur := float64(*rec.FBASellerCount)
		if rec.FBMSellerCount != nil {
			cur += float64(*rec.FBMSellerCount)
		}
		switch {
		case cur <= 3 && *hist.OfferCountAvg90 >= cur+2:
			pts += 4
		case *hist.OfferCountAvg90 >= cur+1:
			pts += 2
		}
	}

	if hist.AvgRank30 != nil && hist.AvgRank90 != nil && *hist.AvgRank90 > 0 {
		improvement := 1 - *hist.AvgRank30 / *hist.AvgRank90
		switch {
		case improvement >= 0.20:
			pts += 3
		case improvement > 0:
			pts += 2
		}
	}

	if hist.OutOfStock90 != nil {
		switch oos := *hist.OutOfStock90; {
		case oos >= 30:
			pts += 2
		case oos >= 10:
			pts += 1
		}
	}

	if hist.ReviewCount != nil && rec.SalesRank != nil {
		switch {
		case *hist.ReviewCount < 50 && *rec.SalesRank <= rankCeiling(rec.Category):
			pts += 2
		case *hist.ReviewCount < 200:
			pts += 1
		}
	}
	return pts
}

func buildInsights(r *ScoreResult, profit *ProfitabilityResult, rec *fusion.Record, hist *keepa.Series) {
	if profit.ROI >= 75 {
		r.Strengths = append(r.Strengths, fmt.Sprintf("strong ROI of %.0f%%", profit.ROI))
	}
	if profit.NetProfit >= 10 {
		r.Strengths = append(r.Strengths, fmt.Sprintf("$%.2f profit per unit", profit.NetProfit))
	}
	if r.EstMonthlySales >= 150 {
		r.Strengths = append(r.Strengths, fmt.Sprintf("fast mover, ~%.0f sales/month", r.EstMonthlySales))
	}
	if rec.FBASellerCount != nil && *rec.FBASellerCount <= 2 {
		r.Strengths = append(r.Strengths, fmt.Sprintf("only %d FBA sellers", *rec.FBASellerCount))
	}

	if r.EstMonthlySales > 0 && r.EstMonthlySales < 10 {
		r.Weaknesses = append(r.Weaknesses, fmt.Sprintf("slow mover, ~%.0f sales/month", r.EstMonthlySales))
	}
	if profit.Margin < 15 {
		r.Weaknesses = append(r.Weaknesses, fmt.Sprintf("thin margin of %.1f%%", profit.Margin))
	}
	if rec.FBASellerCount != nil && *rec.FBASellerCount > 8 {
		r.Weaknesses = append(r.Weaknesses, fmt.Sprintf("crowded listing with %d FBA sellers", *rec.FBASellerCount))
	}

	if hist != nil && hist.OutOfStock90 != nil && *hist.OutOfStock90 >= 10 {
		r.Opportunities = append(r.Opportunities,
			fmt.Sprintf("Amazon out of stock %.0f%% of the last 90 days", *hist.OutOfStock90))
	}
	if hist != nil && hist.AvgPrice90 != nil && *hist.AvgPrice90 > 0 {
		if disc := (*hist.AvgPrice90 - rec.SellPrice) / *hist.AvgPrice90; disc > 0.10 {
			r.Opportunities = append(r.Opportunities,
				fmt.Sprintf("price %.0f%% under the 90-day average", disc*100))
		}
	}

	if rec.AmazonIsSeller {
		r.Warnings = append(r.Warnings, "Amazon is selling on this listing")
	}
	if hist != nil && hist.PriceCV90 != nil && *hist.PriceCV90 >= 25 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("volatile pricing, CV %.0f%%", *hist.PriceCV90))
	}
	if profit.FeesEstimated {
		r.Warnings = append(r.Warnings, "fees are estimated, no marketplace fee data")
	}
	if rec.PriceSource == fusion.SourceKeepaFallback {
		r.Warnings = append(r.Warnings, "sell price from historical data, no live marketplace price")
	}
}
