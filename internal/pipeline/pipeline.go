// Package pipeline orchestrates one analysis run: fetch marketplace
// and historical data for a batch of ASINs, fuse, price, score and
// optionally build a purchase plan. The pipeline owns all
// process-lifetime state (token cache, rate buckets, response caches)
// so there is no ambient global state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fba-scout/internal/auth"
	"fba-scout/internal/config"
	"fba-scout/internal/engine"
	"fba-scout/internal/fusion"
	"fba-scout/internal/keepa"
	"fba-scout/internal/logger"
	"fba-scout/internal/spapi"
)

// batchSize is the per-batch identifier count. Cancellation is only
// honored on batch boundaries; in-flight batches run to completion.
const batchSize = 20

// Item statuses in a run result.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// MarketplaceClient is the SP-API surface the pipeline consumes.
type MarketplaceClient interface {
	CompetitivePricing(ctx context.Context, asins []string) (map[string]*spapi.PricingData, error)
	FeeEstimates(ctx context.Context, items []spapi.FeeRequest) (map[string]*spapi.FeeEstimate, error)
	CatalogItems(ctx context.Context, asins []string) map[string]*spapi.CatalogData
	ItemOffers(ctx context.Context, asin string) (*spapi.OffersData, error)
}

// HistoryClient is the aggregator surface the pipeline consumes.
type HistoryClient interface {
	BulkHistory(ctx context.Context, asins []string) (map[string]*keepa.Series, error)
}

// Item is one sourcing candidate submitted for analysis.
type Item struct {
	ASIN     string  `json:"asin"`
	BuyCost  float64 `json:"buy_cost"`
	Quantity int     `json:"quantity,omitempty"`
	PackSize int     `json:"pack_size,omitempty"`

	// BrandRestricted is supplied by the merchant's own gating data.
	BrandRestricted bool `json:"brand_restricted,omitempty"`

	// Restock-goal fields.
	OnHand       int `json:"on_hand,omitempty"`
	ReorderPoint int `json:"reorder_point,omitempty"`
}

// Goal selects an optimizer and its parameters. A zero Goal requests
// analysis only.
type Goal struct {
	Type         string  `json:"type,omitempty"` // budget_fill | profit_target | restock
	Budget       float64 `json:"budget,omitempty"`
	ProfitTarget float64 `json:"profit_target,omitempty"`
	DeadlineDays int     `json:"deadline_days,omitempty"`
}

// ItemResult is the per-ASIN outcome. Failed items carry a reason and
// nil payloads; they never abort sibling items.
type ItemResult struct {
	ASIN   string `json:"asin"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`

	Record *fusion.Record              `json:"record,omitempty"`
	Profit *engine.ProfitabilityResult `json:"profit,omitempty"`
	Score  *engine.ScoreResult         `json:"score,omitempty"`
}

// RunResult is one full pipeline invocation. Every submitted ASIN
// appears exactly once in Items, as a success or a typed failure.
type RunResult struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Items map[string]*ItemResult `json:"items"`
	Plan  *engine.Plan           `json:"plan,omitempty"`
}

// Pipeline wires the clients and configuration for analysis runs.
// Construct once at process start and reuse; the underlying executor
// buckets and token cache are process-lifetime state.
type Pipeline struct {
	marketplace MarketplaceClient
	history     HistoryClient
	settings    *config.Settings
	now         func() time.Time
}

// New creates a pipeline over the given provider clients.
func New(marketplace MarketplaceClient, history HistoryClient, settings *config.Settings) *Pipeline {
	return &Pipeline{
		marketplace: marketplace,
		history:     history,
		settings:    settings,
		now:         time.Now,
	}
}

func dedupeItems(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ASIN == "" || seen[it.ASIN] {
			continue
		}
		seen[it.ASIN] = true
		out = append(out, it)
	}
	return out
}

// Analyze runs the full pipeline for a list of items. Cancellation is
// checked between batches only: on cancellation the current batch
// finishes, remaining items are marked failed, and the partial result
// is returned alongside the context error. An application-identity
// AuthError fails the whole run since no public data is reachable.
func (p *Pipeline) Analyze(ctx context.Context, items []Item, merchant *config.MerchantConfig, goal Goal) (*RunResult, error) {
	if merchant == nil {
		merchant = config.DefaultMerchant()
	}
	items = dedupeItems(items)

	run := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
		Items:     make(map[string]*ItemResult, len(items)),
	}
	logger.Info("PIPELINE", fmt.Sprintf("run %s: analyzing %d items", run.RunID, len(items)))

	var runErr error
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			for _, it := range items[start:] {
				run.Items[it.ASIN] = &ItemResult{ASIN: it.ASIN, Status: StatusFailed, Reason: "run cancelled"}
			}
			runErr = err
			break
		}
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := p.analyzeBatch(ctx, items[start:end], merchant, run); err != nil {
			// Identity-level failure: public data is unreachable, mark
			// everything not yet processed and stop.
			for _, it := range items[start:] {
				if _, done := run.Items[it.ASIN]; !done {
					run.Items[it.ASIN] = &ItemResult{ASIN: it.ASIN, Status: StatusFailed, Reason: err.Error()}
				}
			}
			runErr = err
			break
		}
	}

	if runErr == nil && goal.Type != "" {
		run.Plan = p.buildPlan(items, run, goal)
	}
	run.Duration = p.now().Sub(run.StartedAt)

	ok, failed := 0, 0
	for _, r := range run.Items {
		if r.Status == StatusOK {
			ok++
		} else {
			failed++
		}
	}
	logger.Info("PIPELINE", fmt.Sprintf("run %s: %d analyzed, %d failed in %s", run.RunID, ok, failed, run.Duration.Round(time.Millisecond)))
	return run, runErr
}

// batchData is the fetched provider state for one batch.
type batchData struct {
	pricing map[string]*spapi.PricingData
	catalog map[string]*spapi.CatalogData
	offers  map[string]*spapi.OffersData
	history map[string]*keepa.Series
	fees    map[string]*spapi.FeeEstimate

	historyErr error
}

func (p *Pipeline) analyzeBatch(ctx context.Context, batch []Item, merchant *config.MerchantConfig, run *RunResult) error {
	asins := make([]string, len(batch))
	for i, it := range batch {
		asins[i] = it.ASIN
	}

	data := &batchData{offers: make(map[string]*spapi.OffersData, len(batch))}

	// The two providers and the catalog fetch are independent; fees
	// need prices and run afterwards.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := p.marketplace.CompetitivePricing(gctx, asins)
		data.pricing = m
		if err != nil {
			var authErr *auth.AuthError
			if errors.As(err, &authErr) && authErr.Identity == "app" {
				return err
			}
			// Items without a marketplace price can still fuse from
			// aggregator history; the rest fail per-item at fusion.
			logger.Warn("PIPELINE", fmt.Sprintf("pricing incomplete: %v", err))
		}
		return nil
	})
	g.Go(func() error {
		data.catalog = p.marketplace.CatalogItems(gctx, asins)
		return nil
	})
	g.Go(func() error {
		m, err := p.history.BulkHistory(gctx, asins)
		data.history = m
		// A failed aggregator is partial data, not a batch failure.
		data.historyErr = err
		return nil
	})

	offersGroup, octx := errgroup.WithContext(ctx)
	conc := p.settings.CatalogConcurrency
	if conc <= 0 {
		conc = 5
	}
	offersGroup.SetLimit(conc)
	var offersResults = make([]*spapi.OffersData, len(asins))
	for i, asin := range asins {
		i, asin := i, asin
		offersGroup.Go(func() error {
			d, err := p.marketplace.ItemOffers(octx, asin)
			if err != nil {
				var authErr *auth.AuthError
				if errors.As(err, &authErr) && authErr.Identity == "app" {
					return err
				}
				// Missing offer data degrades to absent fields.
				logger.Warn("PIPELINE", fmt.Sprintf("%s: offers unavailable: %v", asin, err))
				return nil
			}
			offersResults[i] = d
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		offersGroup.Wait()
		return fmt.Errorf("batch fetch: %w", err)
	}
	if err := offersGroup.Wait(); err != nil {
		return fmt.Errorf("batch fetch: %w", err)
	}
	for i, d := range offersResults {
		if d != nil {
			data.offers[asins[i]] = d
		}
	}
	if data.historyErr != nil {
		logger.Warn("PIPELINE", fmt.Sprintf("historical data incomplete: %v", data.historyErr))
	}

	// Fee estimates need a price per item; items without one fail at
	// fusion anyway.
	var feeReqs []spapi.FeeRequest
	for _, asin := range asins {
		if price, _ := data.pricing[asin].SellPrice(merchant.PricingMode); price != nil {
			feeReqs = append(feeReqs, spapi.FeeRequest{ASIN: asin, Price: *price})
		}
	}
	if len(feeReqs) > 0 {
		fees, err := p.marketplace.FeeEstimates(ctx, feeReqs)
		if err != nil {
			var authErr *auth.AuthError
			if errors.As(err, &authErr) && authErr.Identity == "app" {
				return fmt.Errorf("batch fetch: %w", err)
			}
			logger.Warn("PIPELINE", fmt.Sprintf("fee estimates unavailable: %v", err))
		}
		data.fees = fees
	}

	for _, it := range batch {
		run.Items[it.ASIN] = p.analyzeItem(it, merchant, data)
	}
	return nil
}

// analyzeItem fuses, prices and scores one item from fetched batch
// data. Pure given the data; failures become typed per-item outcomes.
func (p *Pipeline) analyzeItem(it Item, merchant *config.MerchantConfig, data *batchData) *ItemResult {
	res := &ItemResult{ASIN: it.ASIN}

	rec, err := fusion.Fuse(it.ASIN, fusion.Inputs{
		Pricing:         data.pricing[it.ASIN],
		Catalog:         data.catalog[it.ASIN],
		Offers:          data.offers[it.ASIN],
		Fees:            data.fees[it.ASIN],
		History:         data.history[it.ASIN],
		BrandRestricted: it.BrandRestricted,
	}, merchant.PricingMode)
	if err != nil {
		res.Status = StatusFailed
		res.Reason = err.Error()
		return res
	}
	res.Record = rec

	in := engine.CostInput{
		BuyCost:   it.BuyCost,
		SellPrice: rec.SellPrice,
		Category:  rec.Category,
	}
	if merchant.PrepCost >= 0 {
		prep := merchant.PrepCost
		in.PrepCost = &prep
	}
	if merchant.InboundShipping >= 0 {
		inbound := merchant.InboundShipping
		in.InboundShipping = &inbound
	}
	in.ReferralFee = rec.ReferralFee
	in.FulfillmentFee = rec.FulfillmentFee

	profit := engine.Calculate(in)
	res.Profit = &profit
	res.Score = engine.Score(&profit, rec, merchant)
	res.Status = StatusOK
	return res
}

// buildPlan runs the goal's optimizer over successfully scored,
// ungated, profitable items.
func (p *Pipeline) buildPlan(items []Item, run *RunResult, goal Goal) *engine.Plan {
	var candidates []engine.Candidate
	for _, it := range items {
		r := run.Items[it.ASIN]
		if r == nil || r.Status != StatusOK || r.Score.Gated || !r.Profit.IsProfitable {
			continue
		}
		candidates = append(candidates, engine.Candidate{
			ASIN:            it.ASIN,
			BuyCost:         it.BuyCost,
			NetProfit:       r.Profit.NetProfit,
			ROI:             r.Profit.ROI,
			Score:           r.Score.Total,
			PackSize:        it.PackSize,
			EstMonthlySales: r.Score.EstMonthlySales,
			OnHand:          it.OnHand,
			ReorderPoint:    it.ReorderPoint,
		})
	}

	switch goal.Type {
	case engine.GoalBudgetFill:
		return engine.BudgetFill(candidates, goal.Budget, goal.DeadlineDays)
	case engine.GoalProfitTarget:
		return engine.ProfitTarget(candidates, goal.ProfitTarget, nil)
	case engine.GoalRestock:
		return engine.Restock(candidates, goal.Budget)
	default:
		logger.Warn("PIPELINE", fmt.Sprintf("unknown goal %q, skipping optimization", goal.Type))
		return nil
	}
}
