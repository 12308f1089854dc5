package engine

import (
	"math"
	"sort"
)

// Optimization goals.
const (
	GoalBudgetFill   = "budget_fill"
	GoalProfitTarget = "profit_target"
	GoalRestock      = "restock"
)

// Urgency classes for restock planning.
const (
	UrgencyCritical = "critical"
	UrgencyUrgent   = "urgent"
	UrgencyLow      = "low"
)

// Velocity tiers for profit-target planning, by estimated days to
// sell the reference quantity.
const (
	TierFast   = "fast"
	TierMedium = "medium"
	TierSlow   = "slow"
)

// Candidate is one scored, pre-filtered item offered to an optimizer.
type Candidate struct {
	ASIN      string
	BuyCost   float64
	NetProfit float64 // per unit
	ROI       float64
	Score     float64

	// PackSize is the supplier's case quantity; recommended
	// quantities are always multiples of it. Zero means 1.
	PackSize int

	EstMonthlySales float64

	// Restock-only fields.
	OnHand       int
	ReorderPoint int
}

func (c *Candidate) pack() int {
	if c.PackSize > 1 {
		return c.PackSize
	}
	return 1
}

func (c *Candidate) dailySales() float64 {
	return c.EstMonthlySales / 30
}

// daysToSellReference estimates days to move the reference quantity.
// Infinite when no sales estimate exists.
func (c *Candidate) daysToSellReference() float64 {
	if c.dailySales() <= 0 {
		return math.Inf(1)
	}
	return referenceQuantity / c.dailySales()
}

// reportedDaysToSell is daysToSellReference clamped for serialization;
// zero stands in for "unknown" since Inf has no JSON encoding.
func (c *Candidate) reportedDaysToSell() float64 {
	d := c.daysToSellReference()
	if math.IsInf(d, 1) {
		return 0
	}
	return round2(d)
}

// PlanEntry is one recommended purchase.
type PlanEntry struct {
	ASIN       string  `json:"asin"`
	Quantity   int     `json:"quantity"`
	UnitCost   float64 `json:"unit_cost"`
	Cost       float64 `json:"cost"`
	Profit     float64 `json:"profit"`
	Score      float64 `json:"score"`
	Tier       string  `json:"tier,omitempty"`
	Urgency    string  `json:"urgency,omitempty"`
	DaysToSell float64 `json:"days_to_sell,omitempty"`
}

// Plan is the output of one optimizer run.
type Plan struct {
	Goal        string      `json:"goal"`
	Entries     []PlanEntry `json:"entries"`
	TotalCost   float64     `json:"total_cost"`
	TotalProfit float64     `json:"total_profit"`
	TotalUnits  int         `json:"total_units"`
	ROI         float64     `json:"roi"`

	AvgDaysToSell float64        `json:"avg_days_to_sell,omitempty"`
	TierCounts    map[string]int `json:"tier_counts,omitempty"`
	UrgencyCounts map[string]int `json:"urgency_counts,omitempty"`
}

func (p *Plan) add(e PlanEntry) {
	p.Entries = append(p.Entries, e)
	p.TotalCost = round2(p.TotalCost + e.Cost)
	p.TotalProfit = round2(p.TotalProfit + e.Profit)
	p.TotalUnits += e.Quantity
}

func (p *Plan) finish() *Plan {
	if p.TotalCost > 0 {
		p.ROI = round2(p.TotalProfit / p.TotalCost * 100)
	}
	var weighted, units float64
	for _, e := range p.Entries {
		if !math.IsInf(e.DaysToSell, 1) && e.DaysToSell > 0 {
			weighted += e.DaysToSell * float64(e.Quantity)
			units += float64(e.Quantity)
		}
	}
	if units > 0 {
		p.AvgDaysToSell = round2(weighted / units)
	}
	return p
}

func sortByScore(items []Candidate) []Candidate {
	sorted := append([]Candidate(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return sorted
}

// roundDownToPack floors qty to a multiple of pack.
func roundDownToPack(qty, pack int) int {
	return qty / pack * pack
}

// roundUpToPack raises qty to the next multiple of pack.
func roundUpToPack(qty, pack int) int {
	if qty%pack == 0 {
		return qty
	}
	return (qty/pack + 1) * pack
}

// budgetStopFraction: allocation stops once this share of the budget
// is committed.
const budgetStopFraction = 0.95

// BudgetFill greedily spends a budget on the highest-scored items.
// deadlineDays, when positive, caps each quantity at what the item's
// sales velocity can clear within the deadline. Quantities are exact
// pack-size multiples and the aggregate never exceeds the budget.
func BudgetFill(items []Candidate, budget float64, deadlineDays int) *Plan {
	plan := &Plan{Goal: GoalBudgetFill}
	remaining := budget

	for _, c := range sortByScore(items) {
		if remaining < budget*(1-budgetStopFraction) {
			break
		}
		if c.BuyCost <= 0 {
			continue
		}
		qty := int(remaining / c.BuyCost)
		if deadlineDays > 0 && c.dailySales() > 0 {
			sellable := int(c.dailySales() * float64(deadlineDays))
			if sellable < qty {
				qty = sellable
			}
		}
		qty = roundDownToPack(qty, c.pack())
		if qty <= 0 {
			continue
		}
		cost := round2(float64(qty) * c.BuyCost)
		plan.add(PlanEntry{
			ASIN:       c.ASIN,
			Quantity:   qty,
			UnitCost:   c.BuyCost,
			Cost:       cost,
			Profit:     round2(float64(qty) * c.NetProfit),
			Score:      c.Score,
			DaysToSell: c.reportedDaysToSell(),
		})
		remaining -= cost
	}
	return plan.finish()
}

// Days-to-sell boundaries partitioning profit-target tiers.
const (
	fastTierDays   = 30
	mediumTierDays = 60
)

// Default share of the profit target assigned to each tier.
var defaultTierShares = map[string]float64{
	TierFast:   0.50,
	TierMedium: 0.30,
	TierSlow:   0.20,
}

func tierFor(days float64) string {
	switch {
	case days < fastTierDays:
		return TierFast
	case days < mediumTierDays:
		return TierMedium
	default:
		return TierSlow
	}
}

// ProfitTarget builds a plan expected to earn the target profit,
// partitioning items into fast/medium/slow movers and filling each
// tier's share of the target in order. shares may be nil for the
// default 50/30/20 split.
func ProfitTarget(items []Candidate, target float64, shares map[string]float64) *Plan {
	if shares == nil {
		shares = defaultTierShares
	}
	plan := &Plan{Goal: GoalProfitTarget, TierCounts: make(map[string]int)}
	if target <= 0 {
		return plan.finish()
	}

	byTier := map[string][]Candidate{}
	for _, c := range sortByScore(items) {
		tier := tierFor(c.daysToSellReference())
		byTier[tier] = append(byTier[tier], c)
	}

	// Unfilled remainder from earlier tiers rolls into later ones.
	carry := 0.0
	for _, tier := range []string{TierFast, TierMedium, TierSlow} {
		subTarget := target*shares[tier] + carry
		filled := 0.0
		for _, c := range byTier[tier] {
			if filled >= subTarget {
				break
			}
			if c.NetProfit <= 0 {
				continue
			}
			need := subTarget - filled
			qty := roundUpToPack(int(math.Ceil(need/c.NetProfit)), c.pack())
			// Never recommend more than the item moves in a quarter.
			if c.EstMonthlySales > 0 {
				quarterCap := roundDownToPack(int(c.EstMonthlySales*3), c.pack())
				if quarterCap > 0 && qty > quarterCap {
					qty = quarterCap
				}
			}
			if qty <= 0 {
				continue
			}
			profit := round2(float64(qty) * c.NetProfit)
			plan.add(PlanEntry{
				ASIN:       c.ASIN,
				Quantity:   qty,
				UnitCost:   c.BuyCost,
				Cost:       round2(float64(qty) * c.BuyCost),
				Profit:     profit,
				Score:      c.Score,
				Tier:       tier,
				DaysToSell: c.reportedDaysToSell(),
			})
			plan.TierCounts[tier]++
			filled += profit
		}
		carry = subTarget - filled
		if carry < 0 {
			carry = 0
		}
	}
	return plan.finish()
}

// Restock urgency boundaries, in days until stockout.
const (
	criticalDays = 7
	urgentDays   = 14
)

// restockRefillFactor: orders restore stock to this multiple of the
// reorder point.
const restockRefillFactor = 1.5

func urgencyFor(daysUntilStockout float64) string {
	switch {
	case daysUntilStockout < criticalDays:
		return UrgencyCritical
	case daysUntilStockout < urgentDays:
		return UrgencyUrgent
	default:
		return UrgencyLow
	}
}

var urgencyRank = map[string]int{UrgencyCritical: 0, UrgencyUrgent: 1, UrgencyLow: 2}

// Restock recommends order quantities that restore each item's stock
// to 150% of its reorder point, most urgent first. budget, when
// positive, caps the aggregate cost; a partial refill is ordered when
// the full quantity no longer fits.
func Restock(items []Candidate, budget float64) *Plan {
	plan := &Plan{Goal: GoalRestock, UrgencyCounts: make(map[string]int)}

	type restockItem struct {
		Candidate
		urgency string
		days    float64
	}
	var pending []restockItem
	for _, c := range items {
		target := int(math.Ceil(float64(c.ReorderPoint) * restockRefillFactor))
		if c.OnHand >= target {
			continue
		}
		days := math.Inf(1)
		if c.dailySales() > 0 {
			days = float64(c.OnHand) / c.dailySales()
		}
		pending = append(pending, restockItem{Candidate: c, urgency: urgencyFor(days), days: days})
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if urgencyRank[pending[i].urgency] != urgencyRank[pending[j].urgency] {
			return urgencyRank[pending[i].urgency] < urgencyRank[pending[j].urgency]
		}
		return pending[i].Score > pending[j].Score
	})

	remaining := budget
	for _, it := range pending {
		target := int(math.Ceil(float64(it.ReorderPoint) * restockRefillFactor))
		qty := roundUpToPack(target-it.OnHand, it.pack())
		if qty <= 0 {
			continue
		}
		cost := round2(float64(qty) * it.BuyCost)
		if budget > 0 {
			if cost > remaining {
				// Cap the refill to what the budget still affords.
				if it.BuyCost <= 0 {
					continue
				}
				qty = roundDownToPack(int(remaining/it.BuyCost), it.pack())
				if qty <= 0 {
					continue
				}
				cost = round2(float64(qty) * it.BuyCost)
			}
			remaining -= cost
		}
		plan.add(PlanEntry{
			ASIN:       it.ASIN,
			Quantity:   qty,
			UnitCost:   it.BuyCost,
			Cost:       cost,
			Profit:     round2(float64(qty) * it.NetProfit),
			Score:      it.Score,
			Urgency:    it.urgency,
			DaysToSell: it.reportedDaysToSell(),
		})
		plan.UrgencyCounts[it.urgency]++
	}
	return plan.finish()
}
