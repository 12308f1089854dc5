package engine

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func TestCalculate_GroceryWorkedExample(t *testing.T) {
	r := Calculate(CostInput{BuyCost: 10, SellPrice: 30, Category: "Grocery"})

	if !almostEqual(r.ReferralFee, 4.50) {
		t.Errorf("ReferralFee = %v, want 4.50", r.ReferralFee)
	}
	if !almostEqual(r.FulfillmentFee, 4.50) {
		t.Errorf("FulfillmentFee = %v, want 4.50", r.FulfillmentFee)
	}
	if !almostEqual(r.TotalCost, 11) {
		t.Errorf("TotalCost = %v, want 11.00", r.TotalCost)
	}
	if !almostEqual(r.NetPayout, 21) {
		t.Errorf("NetPayout = %v, want 21.00", r.NetPayout)
	}
	if !almostEqual(r.NetProfit, 10) {
		t.Errorf("NetProfit = %v, want 10.00", r.NetProfit)
	}
	if !almostEqual(r.ROI, 90.91) {
		t.Errorf("ROI = %v, want 90.91", r.ROI)
	}
	if !almostEqual(r.Margin, 33.33) {
		t.Errorf("Margin = %v, want 33.33", r.Margin)
	}
	if !r.IsProfitable {
		t.Error("IsProfitable = false, want true")
	}
	if !r.FeesEstimated {
		t.Error("FeesEstimated = false, want true with no provider fees")
	}
}

func TestCalculate_ProviderFeesOverrideEstimates(t *testing.T) {
	ref, ful := 3.75, 5.20
	r := Calculate(CostInput{
		BuyCost: 10, SellPrice: 30, Category: "Grocery",
		ReferralFee: &ref, FulfillmentFee: &ful,
	})
	if r.ReferralFee != 3.75 || r.FulfillmentFee != 5.20 {
		t.Errorf("fees = %v/%v, want provider values 3.75/5.20", r.ReferralFee, r.FulfillmentFee)
	}
	if r.FeesEstimated {
		t.Error("FeesEstimated = true with both provider fees present")
	}
}

func TestCalculate_ExplicitZeroPrepCost(t *testing.T) {
	zero := 0.0
	r := Calculate(CostInput{BuyCost: 10, SellPrice: 30, PrepCost: &zero, InboundShipping: &zero})
	if !almostEqual(r.TotalCost, 10) {
		t.Errorf("TotalCost = %v, want 10.00 with explicit zero handling costs", r.TotalCost)
	}
}

func TestCalculate_ZeroDenominators(t *testing.T) {
	zero := 0.0
	r := Calculate(CostInput{BuyCost: 0, SellPrice: 0, PrepCost: &zero, InboundShipping: &zero})
	if r.ROI != 0 || r.Margin != 0 {
		t.Errorf("ROI/Margin = %v/%v, want 0/0 on zero denominators", r.ROI, r.Margin)
	}
	if r.IsProfitable {
		t.Error("zero-value item must not be profitable")
	}
}

func TestReferralRate_SubstringMatch(t *testing.T) {
	cases := []struct {
		category string
		want     float64
	}{
		{"Grocery & Gourmet Food", 0.15},
		{"Consumer Electronics", 0.08},
		{"Clothing, Shoes & Jewelry", 0.17}, // first keyword hit wins
		{"CAMERA & Photo", 0.08},
		{"Something Unrecognized", 0.15},
		{"", 0.15},
	}
	for _, tc := range cases {
		if got := ReferralRate(tc.category); got != tc.want {
			t.Errorf("ReferralRate(%q) = %v, want %v", tc.category, got, tc.want)
		}
	}
}

func TestEstimateFulfillmentFee_Tiers(t *testing.T) {
	cases := []struct {
		price, want float64
	}{
		{5, 3.00},
		{9.99, 3.00},
		{10, 4.50},
		{30, 4.50},
		{49.99, 4.50},
		{50, 7.00},
		{99.99, 7.00},
		{100, 8.50},
		{250, 8.50},
	}
	for _, tc := range cases {
		if got := estimateFulfillmentFee(tc.price); got != tc.want {
			t.Errorf("estimateFulfillmentFee(%v) = %v, want %v", tc.price, got, tc.want)
		}
	}
}
