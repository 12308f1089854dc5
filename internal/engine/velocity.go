package engine

import (
	"math"
	"strings"

	"fba-scout/internal/keepa"
)

// Sales estimation methods, in the order they are attempted.
const (
	MethodRankDrops   = "rank_drops"
	MethodPowerLaw    = "power_law"
	MethodProviderEst = "provider_estimate"
)

// powerLawParams are the per-category coefficients of the fallback
// rank-to-sales formula: monthly ~= coefficient / rank^exponent.
// Heuristic fit, accuracy unverified; kept only as a fallback when no
// rank-drop data exists.
var powerLawParams = []struct {
	keyword     string
	coefficient float64
	exponent    float64
}{
	{"grocery", 280000, 0.85},
	{"health", 260000, 0.85},
	{"beauty", 240000, 0.85},
	{"home", 220000, 0.87},
	{"kitchen", 220000, 0.87},
	{"toys", 190000, 0.88},
	{"book", 120000, 0.90},
}

var defaultPowerLaw = struct{ coefficient, exponent float64 }{160000, 0.88}

// EstimateMonthlySales estimates units sold per month for one item,
// trying each method in order: rank-drop counting from the trailing
// 30 days, the category power-law formula, then the provider-supplied
// figure. Returns 0 and an empty method when nothing is estimable.
// None of the methods is authoritative; the method tag travels with
// the number so consumers can weigh it.
func EstimateMonthlySales(s *keepa.Series, category string) (float64, string) {
	if s == nil {
		return 0, ""
	}

	// Each counted rank drop is at least one sale; clusters of sales
	// inside one drop are invisible, so this undercounts for fast
	// movers and the banding below is calibrated accordingly.
	if s.RankDrops30 > 0 {
		return float64(s.RankDrops30), MethodRankDrops
	}

	if s.CurrentRank != nil && *s.CurrentRank > 0 {
		c, e := defaultPowerLaw.coefficient, defaultPowerLaw.exponent
		lower := strings.ToLower(category)
		for _, p := range powerLawParams {
			if strings.Contains(lower, p.keyword) {
				c, e = p.coefficient, p.exponent
				break
			}
		}
		return c / math.Pow(float64(*s.CurrentRank), e), MethodPowerLaw
	}

	if s.MonthlySold != nil && *s.MonthlySold > 0 {
		return float64(*s.MonthlySold), MethodProviderEst
	}
	return 0, ""
}

// categoryRankCeilings give the sales-rank value per category past
// which an item is considered a slow mover. Substring matched.
var categoryRankCeilings = []struct {
	keyword string
	ceiling int
}{
	{"grocery", 60000},
	{"beauty", 70000},
	{"health", 80000},
	{"home", 150000},
	{"kitchen", 150000},
	{"toys", 120000},
	{"book", 300000},
}

const defaultRankCeiling = 100000

func rankCeiling(category string) int {
	lower := strings.ToLower(category)
	for _, c := range categoryRankCeilings {
		if strings.Contains(lower, c.keyword) {
			return c.ceiling
		}
	}
	return defaultRankCeiling
}
