package keepa

import (
	"math"
	"time"
)

// rankDropThreshold is the minimum rank improvement (decrease) between
// consecutive samples counted as a sales event proxy.
const rankDropThreshold = 10000

// point is one decoded history sample. A value persists until the next
// sample (run-length encoding); -1 means no data / out of stock.
type point struct {
	t time.Time
	v float64
}

// Series is the computed per-ASIN view of Keepa history. Pointer fields
// are nil when the provider had no data for that dimension; parsers
// fail closed rather than guessing defaults.
type Series struct {
	ASIN       string
	Title      string
	Brand      string
	Category   string
	ImageURL   string
	ParentASIN string

	CurrentRank *int
	AvgRank30   *float64
	AvgRank90   *float64
	AvgRank180  *float64
	RankDrops30 int
	RankDrops90 int

	// CurrentPrice is the aggregator's view of the prevailing price.
	// Fusion uses it only as a fallback when the marketplace produced
	// no price; it never overrides a marketplace price.
	CurrentPrice *float64
	AvgPrice30   *float64
	AvgPrice90   *float64
	AvgPrice180  *float64
	PriceCV90    *float64 // coefficient of variation, percent

	OutOfStock90  *float64 // percent of trailing 90 days Amazon unavailable
	BuyBoxShare90 *float64 // fraction of trailing 90 days with a buy box present

	OfferCount      *int
	OfferCountAvg30 *float64
	OfferCountAvg90 *float64
	OfferCountStd90 *float64

	ReviewCount         *int
	ReviewCountGrowth90 *float64 // relative change over the window

	MonthlySold *int // provider-supplied sales estimate, when published
}

// BuildSeries computes a Series from a raw product at the given instant.
// Pure: identical inputs yield identical outputs.
func BuildSeries(p *Product, now time.Time) *Series {
	s := &Series{
		ASIN:       p.ASIN,
		Title:      p.Title,
		Brand:      p.Brand,
		Category:   p.categoryName(),
		ImageURL:   p.primaryImage(),
		ParentASIN: p.ParentASIN,
	}
	if p.MonthlySold > 0 {
		v := p.MonthlySold
		s.MonthlySold = &v
	}

	since30 := now.AddDate(0, 0, -30)
	since90 := now.AddDate(0, 0, -90)
	since180 := now.AddDate(0, 0, -180)

	// Sales rank.
	ranks := decodeChannel(p.CSV, csvSalesRank)
	if cur := lastValid(ranks); cur != nil {
		r := int(*cur)
		s.CurrentRank = &r
	}
	s.AvgRank30 = windowAvg(ranks, since30)
	s.AvgRank90 = windowAvg(ranks, since90)
	s.AvgRank180 = windowAvg(ranks, since180)
	s.RankDrops30 = countRankDrops(ranks, since30)
	s.RankDrops90 = countRankDrops(ranks, since90)
	s.fillRankFromStats(p.Stats)

	// Price: prefer the buy box channel, then lowest New, then Amazon.
	prices := decodeChannel(p.CSV, csvBuyBox)
	if !hasValid(prices) {
		prices = decodeChannel(p.CSV, csvNew)
	}
	if !hasValid(prices) {
		prices = decodeChannel(p.CSV, csvAmazon)
	}
	scaleCents(prices)
	if cur := lastValid(prices); cur != nil {
		s.CurrentPrice = cur
	}
	s.AvgPrice30 = windowAvg(prices, since30)
	s.AvgPrice90 = windowAvg(prices, since90)
	s.AvgPrice180 = windowAvg(prices, since180)
	s.PriceCV90 = coefficientOfVariation(prices, since90)

	// Amazon availability: value -1 in the Amazon price channel means
	// Amazon was out of stock for that run.
	s.OutOfStock90 = outOfStockPercent(decodeChannel(p.CSV, csvAmazon), since90, now)
	if s.OutOfStock90 == nil && p.Stats != nil && len(p.Stats.OutOfStockPercentage90) > csvAmazon {
		if v := p.Stats.OutOfStockPercentage90[csvAmazon]; v >= 0 {
			f := float64(v)
			s.OutOfStock90 = &f
		}
	}
	s.BuyBoxShare90 = presencePercentFraction(decodeChannel(p.CSV, csvBuyBox), since90, now)

	// Offer counts.
	offers := decodeChannel(p.CSV, csvOfferCount)
	if cur := lastValid(offers); cur != nil {
		n := int(*cur)
		s.OfferCount = &n
	}
	s.OfferCountAvg30 = windowAvg(offers, since30)
	s.OfferCountAvg90 = windowAvg(offers, since90)
	s.OfferCountStd90 = windowStd(offers, since90)

	// Review counts.
	reviews := decodeChannel(p.CSV, csvReviewCount)
	if cur := lastValid(reviews); cur != nil {
		n := int(*cur)
		s.ReviewCount = &n
	}
	s.ReviewCountGrowth90 = relativeGrowth(reviews, since90)

	return s
}

// fillRankFromStats backfills rank aggregates from the server-side
// stats block when the csv history was too sparse to compute them.
func (s *Series) fillRankFromStats(st *Stats) {
	if st == nil {
		return
	}
	pick := func(dst **float64, arr []int) {
		if *dst == nil && len(arr) > csvSalesRank && arr[csvSalesRank] >= 0 {
			v := float64(arr[csvSalesRank])
			*dst = &v
		}
	}
	pick(&s.AvgRank30, st.Avg30)
	pick(&s.AvgRank90, st.Avg90)
	pick(&s.AvgRank180, st.Avg180)
	if s.CurrentRank == nil && len(st.Current) > csvSalesRank && st.Current[csvSalesRank] >= 0 {
		r := st.Current[csvSalesRank]
		s.CurrentRank = &r
	}
	if s.RankDrops30 == 0 && st.SalesRankDrops30 > 0 {
		s.RankDrops30 = st.SalesRankDrops30
	}
	if s.RankDrops90 == 0 && st.SalesRankDrops90 > 0 {
		s.RankDrops90 = st.SalesRankDrops90
	}
}

// decodeChannel expands one csv channel into timestamped points.
func decodeChannel(csv [][]int64, idx int) []point {
	if idx >= len(csv) || len(csv[idx]) < 2 {
		return nil
	}
	raw := csv[idx]
	pts := make([]point, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		pts = append(pts, point{t: FromKeepaTime(raw[i]), v: float64(raw[i+1])})
	}
	return pts
}

func scaleCents(pts []point) {
	for i := range pts {
		if pts[i].v >= 0 {
			pts[i].v /= 100
		}
	}
}

func hasValid(pts []point) bool {
	for _, p := range pts {
		if p.v >= 0 {
			return true
		}
	}
	return false
}

func lastValid(pts []point) *float64 {
	for i := len(pts) - 1; i >= 0; i-- {
		if pts[i].v >= 0 {
			v := pts[i].v
			return &v
		}
	}
	return nil
}

func windowValues(pts []point, since time.Time) []float64 {
	var out []float64
	for _, p := range pts {
		if p.v >= 0 && !p.t.Before(since) {
			out = append(out, p.v)
		}
	}
	return out
}

func windowAvg(pts []point, since time.Time) *float64 {
	vals := windowValues(pts, since)
	if len(vals) == 0 {
		return nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	avg := sum / float64(len(vals))
	return &avg
}

func windowStd(pts []point, since time.Time) *float64 {
	vals := windowValues(pts, since)
	if len(vals) < 2 {
		return nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	m := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		sq += (v - m) * (v - m)
	}
	std := math.Sqrt(sq / float64(len(vals)-1))
	return &std
}

// coefficientOfVariation returns std/mean as a percentage for valid
// points in the window, or nil with fewer than 3 samples.
func coefficientOfVariation(pts []point, since time.Time) *float64 {
	vals := windowValues(pts, since)
	if len(vals) < 3 {
		return nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	m := sum / float64(len(vals))
	if m <= 0 {
		return nil
	}
	var sq float64
	for _, v := range vals {
		sq += (v - m) * (v - m)
	}
	cv := math.Sqrt(sq/float64(len(vals)-1)) / m * 100
	return &cv
}

// countRankDrops counts rank improvements exceeding the threshold
// between consecutive valid samples inside the window.
func countRankDrops(pts []point, since time.Time) int {
	drops := 0
	prev := -1.0
	for _, p := range pts {
		if p.v < 0 {
			continue
		}
		if !p.t.Before(since) && prev >= 0 && prev-p.v > rankDropThreshold {
			drops++
		}
		prev = p.v
	}
	return drops
}

// outOfStockPercent walks the run-length-encoded availability series
// and returns the percentage of [since, now] spent with value -1.
// Each state persists until the next sample; the last state extends to
// now. Returns nil when the series has no samples before now.
func outOfStockPercent(pts []point, since, now time.Time) *float64 {
	frac := stateFraction(pts, since, now, func(v float64) bool { return v < 0 })
	if frac == nil {
		return nil
	}
	pct := *frac * 100
	return &pct
}

// presencePercentFraction returns the fraction of the window where the
// channel held a valid (>= 0) value.
func presencePercentFraction(pts []point, since, now time.Time) *float64 {
	return stateFraction(pts, since, now, func(v float64) bool { return v >= 0 })
}

func stateFraction(pts []point, since, now time.Time, match func(float64) bool) *float64 {
	if len(pts) == 0 || !pts[0].t.Before(now) {
		return nil
	}
	window := now.Sub(since)
	if window <= 0 {
		return nil
	}

	var matched time.Duration
	for i, p := range pts {
		segStart := p.t
		segEnd := now
		if i+1 < len(pts) {
			segEnd = pts[i+1].t
		}
		// Clamp the run to the window.
		if segEnd.Before(since) || segStart.After(now) {
			continue
		}
		if segStart.Before(since) {
			segStart = since
		}
		if segEnd.After(now) {
			segEnd = now
		}
		if match(p.v) && segEnd.After(segStart) {
			matched += segEnd.Sub(segStart)
		}
	}

	frac := float64(matched) / float64(window)
	return &frac
}

// relativeGrowth compares the first and last valid samples in the
// window, returning (last-first)/first, or nil without two samples.
func relativeGrowth(pts []point, since time.Time) *float64 {
	var first, last *float64
	for _, p := range pts {
		if p.v < 0 || p.t.Before(since) {
			continue
		}
		if first == nil {
			v := p.v
			first = &v
		}
		v := p.v
		last = &v
	}
	if first == nil || last == nil || *first <= 0 {
		return nil
	}
	g := (*last - *first) / *first
	return &g
}
