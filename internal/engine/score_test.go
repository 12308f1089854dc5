package engine

import (
	"strings"
	"testing"

	"fba-scout/internal/config"
	"fba-scout/internal/fusion"
	"fba-scout/internal/keepa"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// strongRecord builds inputs that clear every gate comfortably.
func strongRecord() (*ProfitabilityResult, *fusion.Record) {
	profit := Calculate(CostInput{BuyCost: 10, SellPrice: 30, Category: "Grocery"})
	rec := &fusion.Record{
		ASIN:           "B000000001",
		Category:       "Grocery & Gourmet Food",
		SellPrice:      30,
		PriceSource:    fusion.SourceBuyBox,
		SalesRank:      iptr(4000),
		OfferCount:     iptr(5),
		FBASellerCount: iptr(3),
		FBMSellerCount: iptr(1),
		History: &keepa.Series{
			ASIN:            "B000000001",
			RankDrops30:     120,
			CurrentRank:     iptr(4000),
			AvgRank30:       fptr(4500),
			AvgRank90:       fptr(6000),
			AvgPrice30:      fptr(30.50),
			AvgPrice90:      fptr(31.00),
			PriceCV90:       fptr(6),
			OutOfStock90:    fptr(12),
			BuyBoxShare90:   fptr(0.97),
			OfferCount:      iptr(5),
			OfferCountAvg90: fptr(6),
			OfferCountStd90: fptr(0.5),
			ReviewCount:     iptr(420),
			ReviewCountGrowth90: fptr(0.08),
		},
	}
	return &profit, rec
}

func TestScore_ROIGateShortCircuits(t *testing.T) {
	profit, rec := strongRecord()
	merchant := config.DefaultMerchant()
	merchant.MinROI = 99999

	r := Score(profit, rec, merchant)
	if !r.Gated {
		t.Fatal("expected gated result")
	}
	if r.Total != 0 {
		t.Errorf("Total = %v, want 0 on gate", r.Total)
	}
	if r.GateReason == "" {
		t.Error("gate must carry a non-empty reason")
	}
	if !strings.Contains(r.GateReason, "ROI") {
		t.Errorf("GateReason = %q, want ROI mention", r.GateReason)
	}
}

func TestScore_Gates(t *testing.T) {
	merchant := config.DefaultMerchant()

	t.Run("brand restricted", func(t *testing.T) {
		profit, rec := strongRecord()
		rec.BrandRestricted = true
		if r := Score(profit, rec, merchant); !r.Gated || r.Total != 0 {
			t.Errorf("got %+v, want gated zero", r)
		}
	})

	t.Run("hazmat without handling", func(t *testing.T) {
		profit, rec := strongRecord()
		rec.Hazmat = true
		if r := Score(profit, rec, merchant); !r.Gated {
			t.Error("hazmat item must gate when merchant does not handle hazmat")
		}
	})

	t.Run("hazmat with handling passes", func(t *testing.T) {
		profit, rec := strongRecord()
		rec.Hazmat = true
		m := *merchant
		m.HandlesHazmat = true
		if r := Score(profit, rec, &m); r.Gated {
			t.Errorf("hazmat-capable merchant should not gate: %q", r.GateReason)
		}
	})

	t.Run("too many FBA sellers", func(t *testing.T) {
		profit, rec := strongRecord()
		rec.FBASellerCount = iptr(merchant.MaxFBASellers + 1)
		if r := Score(profit, rec, merchant); !r.Gated {
			t.Error("seller count past maximum must gate")
		}
	})

	t.Run("price volatility", func(t *testing.T) {
		profit, rec := strongRecord()
		rec.History.PriceCV90 = fptr(55)
		if r := Score(profit, rec, merchant); !r.Gated {
			t.Error("CV past 40% must gate")
		}
	})
}

func TestScore_StrongItemScoresHigh(t *testing.T) {
	profit, rec := strongRecord()
	r := Score(profit, rec, config.DefaultMerchant())

	if r.Gated {
		t.Fatalf("unexpected gate: %q", r.GateReason)
	}
	if r.Total < 70 {
		t.Errorf("Total = %v, want >= 70 for a strong item", r.Total)
	}
	if r.Total > 100 {
		t.Errorf("Total = %v, exceeds cap", r.Total)
	}
	if r.Grade != "Excellent" && r.Grade != "Good" {
		t.Errorf("Grade = %q for total %v", r.Grade, r.Total)
	}
	if r.SalesMethod != MethodRankDrops {
		t.Errorf("SalesMethod = %q, want rank drops preferred", r.SalesMethod)
	}
	if len(r.Strengths) == 0 {
		t.Error("strong item should list strengths")
	}
}

func TestScore_DimensionCeilings(t *testing.T) {
	profit, rec := strongRecord()
	r := Score(profit, rec, config.DefaultMerchant())

	d := r.Dimensions
	if d.Profitability > 30 || d.Velocity > 25 || d.Competition > 15 || d.Risk > 15 || d.Opportunity > 15 {
		t.Errorf("dimension past its ceiling: %+v", d)
	}
}

func TestScore_NoHistoryStillScores(t *testing.T) {
	profit, rec := strongRecord()
	rec.History = nil

	r := Score(profit, rec, config.DefaultMerchant())
	if r.Gated {
		t.Fatalf("missing history must not gate: %q", r.GateReason)
	}
	if r.Dimensions.Opportunity != 0 {
		t.Errorf("Opportunity = %v without history, want 0", r.Dimensions.Opportunity)
	}
	if r.Dimensions.Profitability == 0 {
		t.Error("profitability must still score without history")
	}
}

func TestScore_GradeBoundaries(t *testing.T) {
	cases := []struct {
		total float64
		want  string
	}{
		{85, "Excellent"}, {84.9, "Good"},
		{70, "Good"}, {69.9, "Fair"},
		{50, "Fair"}, {49.9, "Poor"}, {0, "Poor"},
	}
	for _, tc := range cases {
		if got := gradeFor(tc.total); got != tc.want {
			t.Errorf("gradeFor(%v) = %q, want %q", tc.total, got, tc.want)
		}
	}
}

func TestEstimateMonthlySales_TryInOrder(t *testing.T) {
	withDrops := &keepa.Series{RankDrops30: 90, CurrentRank: iptr(5000), MonthlySold: iptr(40)}
	if v, m := EstimateMonthlySales(withDrops, "Grocery"); m != MethodRankDrops || v != 90 {
		t.Errorf("got (%v, %q), want rank drops first", v, m)
	}

	rankOnly := &keepa.Series{CurrentRank: iptr(5000), MonthlySold: iptr(40)}
	if v, m := EstimateMonthlySales(rankOnly, "Grocery"); m != MethodPowerLaw || v <= 0 {
		t.Errorf("got (%v, %q), want power law second", v, m)
	}

	providerOnly := &keepa.Series{MonthlySold: iptr(40)}
	if v, m := EstimateMonthlySales(providerOnly, "Grocery"); m != MethodProviderEst || v != 40 {
		t.Errorf("got (%v, %q), want provider estimate last", v, m)
	}

	if v, m := EstimateMonthlySales(&keepa.Series{}, "Grocery"); v != 0 || m != "" {
		t.Errorf("got (%v, %q), want nothing estimable", v, m)
	}
	if v, m := EstimateMonthlySales(nil, "Grocery"); v != 0 || m != "" {
		t.Errorf("got (%v, %q) for nil series", v, m)
	}
}

func TestEstimateMonthlySales_PowerLawMonotonicInRank(t *testing.T) {
	low := &keepa.Series{CurrentRank: iptr(1000)}
	high := &keepa.Series{CurrentRank: iptr(100000)}
	lv, _ := EstimateMonthlySales(low, "Toys")
	hv, _ := EstimateMonthlySales(high, "Toys")
	if lv <= hv {
		t.Errorf("better rank must estimate more sales: rank 1000 -> %v, rank 100000 -> %v", lv, hv)
	}
}
