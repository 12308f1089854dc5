package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fba-scout/internal/auth"
	"fba-scout/internal/config"
	"fba-scout/internal/db"
	"fba-scout/internal/engine"
	"fba-scout/internal/executor"
	"fba-scout/internal/keepa"
	"fba-scout/internal/logger"
	"fba-scout/internal/metrics"
	"fba-scout/internal/pipeline"
	"fba-scout/internal/spapi"
)

var version = "dev"

// inputFile is the analysis request read from -input.
type inputFile struct {
	Items    []pipeline.Item        `json:"items"`
	Merchant *config.MerchantConfig `json:"merchant,omitempty"`
	Goal     pipeline.Goal          `json:"goal,omitempty"`
}

func main() {
	input := flag.String("input", "", "path to the analysis request JSON (items, merchant, goal)")
	asins := flag.String("asins", "", "comma-separated ASINs to analyze (alternative to -input)")
	buyCost := flag.Float64("buy-cost", 0, "buy cost applied to every -asins item")
	region := flag.String("region", "NA", "SP-API region: NA, EU or FE")
	marketplaceID := flag.String("marketplace", "", "marketplace ID (defaults per region)")
	merchantID := flag.String("merchant", "", "merchant ID for seller-scoped calls, optional")
	goalType := flag.String("goal", "", "optimization goal: budget_fill, profit_target or restock")
	budget := flag.Float64("budget", 0, "budget for budget_fill and restock goals")
	profitTarget := flag.Float64("profit-target", 0, "target for the profit_target goal")
	deadlineDays := flag.Int("deadline-days", 0, "sell-by deadline in days for budget_fill")
	keepaDomain := flag.Int("keepa-domain", 1, "Keepa domain ID (1 = .com)")
	metricsAddr := flag.String("metrics-addr", "", "listen address for Prometheus metrics, e.g. :9090")
	showRuns := flag.Int("history", 0, "print the last N runs and exit")
	flag.Parse()

	logger.Banner(version)

	database, err := db.Open()
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	if *showRuns > 0 {
		printHistory(database, *showRuns)
		return
	}

	settings := config.Default()
	settings.Region = strings.ToUpper(*region)
	if *marketplaceID != "" {
		settings.MarketplaceID = *marketplaceID
	}
	if !settings.Valid() {
		logger.Error("CONFIG", fmt.Sprintf("Invalid region %q", settings.Region))
		os.Exit(1)
	}

	req, err := loadRequest(*input, *asins, *buyCost)
	if err != nil {
		logger.Error("INPUT", err.Error())
		os.Exit(1)
	}
	if *goalType != "" {
		req.Goal = pipeline.Goal{
			Type:         *goalType,
			Budget:       *budget,
			ProfitTarget: *profitTarget,
			DeadlineDays: *deadlineDays,
		}
	}
	if len(req.Items) == 0 {
		logger.Error("INPUT", "No items to analyze; pass -input or -asins")
		os.Exit(1)
	}
	switch req.Goal.Type {
	case "", engine.GoalBudgetFill, engine.GoalProfitTarget, engine.GoalRestock:
	default:
		logger.Error("INPUT", fmt.Sprintf("Unknown goal %q", req.Goal.Type))
		os.Exit(1)
	}

	_, lwaURL := settings.Endpoints()
	tokens := auth.NewManager(auth.LWAConfig{
		ClientID:        os.Getenv("LWA_CLIENT_ID"),
		ClientSecret:    os.Getenv("LWA_CLIENT_SECRET"),
		TokenURL:        envOrDefault("LWA_TOKEN_URL", lwaURL),
		AppRefreshToken: os.Getenv("LWA_REFRESH_TOKEN"),
	}, auth.NewCredentialStore(database.SqlDB()))

	exec := executor.New(settings)
	marketplace := spapi.NewClient(exec, tokens, settings, *merchantID, database)
	history := keepa.NewClient(exec, os.Getenv("KEEPA_API_KEY"), *keepaDomain, database, settings.HistoryCacheTTL)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(marketplace, history, settings)
	run, runErr := pipe.Analyze(ctx, req.Items, req.Merchant, req.Goal)
	if runErr != nil {
		logger.Warn("PIPELINE", fmt.Sprintf("Run finished with error: %v", runErr))
	}

	saveRun(database, settings, run, req.Goal)
	printSummary(run)

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		logger.Error("OUTPUT", fmt.Sprintf("Encode failed: %v", err))
		os.Exit(1)
	}
	fmt.Println(string(out))

	if runErr != nil {
		os.Exit(1)
	}
}

func loadRequest(path, asins string, buyCost float64) (*inputFile, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var req inputFile
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &req, nil
	}

	req := &inputFile{}
	for _, asin := range strings.Split(asins, ",") {
		asin = strings.TrimSpace(asin)
		if asin == "" {
			continue
		}
		req.Items = append(req.Items, pipeline.Item{ASIN: asin, BuyCost: buyCost})
	}
	return req, nil
}

func saveRun(database *db.DB, settings *config.Settings, run *pipeline.RunResult, goal pipeline.Goal) {
	summary := db.RunSummary{
		ID:          run.RunID,
		StartedAt:   run.StartedAt,
		DurationMs:  run.Duration.Milliseconds(),
		Marketplace: settings.MarketplaceID,
		Goal:        goal.Type,
		ItemCount:   len(run.Items),
	}
	var items []db.RunItem
	for _, r := range run.Items {
		item := db.RunItem{ASIN: r.ASIN, Status: r.Status, Reason: r.Reason}
		if r.Status == pipeline.StatusOK {
			summary.SuccessCount++
			item.SellPrice = r.Record.SellPrice
			item.NetProfit = r.Profit.NetProfit
			item.ROI = r.Profit.ROI
			item.Score = r.Score.Total
			item.Grade = r.Score.Grade
		} else {
			summary.FailedCount++
		}
		items = append(items, item)
	}
	if err := database.SaveRun(&summary, items); err != nil {
		logger.Warn("DB", fmt.Sprintf("Failed to persist run: %v", err))
	}
}

func printSummary(run *pipeline.RunResult) {
	logger.Section("Results")
	var best *pipeline.ItemResult
	ok := 0
	for _, r := range run.Items {
		if r.Status != pipeline.StatusOK {
			continue
		}
		ok++
		if best == nil || r.Score.Total > best.Score.Total {
			best = r
		}
	}
	logger.Stats("Analyzed", ok)
	logger.Stats("Failed", len(run.Items)-ok)
	if best != nil {
		logger.Stats("Top score", fmt.Sprintf("%s (%.1f, %s)", best.ASIN, best.Score.Total, best.Score.Grade))
	}
	if run.Plan != nil {
		logger.Stats("Plan cost", fmt.Sprintf("$%.2f", run.Plan.TotalCost))
		logger.Stats("Plan profit", fmt.Sprintf("$%.2f", run.Plan.TotalProfit))
		logger.Stats("Plan units", run.Plan.TotalUnits)
	}
}

func printHistory(database *db.DB, limit int) {
	runs := database.RecentRuns(limit)
	if len(runs) == 0 {
		logger.Info("DB", "No saved runs")
		return
	}
	logger.Section("Recent runs")
	for _, r := range runs {
		logger.Stats(r.ID, fmt.Sprintf("%s goal=%s items=%d ok=%d failed=%d",
			r.StartedAt.Format("2006-01-02 15:04"), emptyAs(r.Goal, "none"), r.ItemCount, r.SuccessCount, r.FailedCount))
	}
}

func emptyAs(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	logger.Info("METRICS", fmt.Sprintf("Serving Prometheus metrics on %s/metrics", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("METRICS", fmt.Sprintf("Metrics server stopped: %v", err))
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
