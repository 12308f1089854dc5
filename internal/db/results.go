package db

import (
	"fmt"
	"time"
)

// RunSummary is one saved pipeline invocation.
type RunSummary struct {
	ID           string
	StartedAt    time.Time
	DurationMs   int64
	Marketplace  string
	Goal         string
	ItemCount    int
	SuccessCount int
	FailedCount  int
}

// RunItem is one per-ASIN outcome row saved with a run.
type RunItem struct {
	ASIN      string
	Status    string // ok | failed
	Reason    string
	SellPrice float64
	NetProfit float64
	ROI       float64
	Score     float64
	Grade     string
}

// SaveRun persists a run summary and its per-item outcomes in one transaction.
func (d *DB) SaveRun(run *RunSummary, items []RunItem) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analysis_runs
			(id, started_at, duration_ms, marketplace, goal, item_count, success_count, failed_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339), run.DurationMs,
		run.Marketplace, run.Goal, run.ItemCount, run.SuccessCount, run.FailedCount)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(`
			INSERT INTO analysis_items
				(run_id, asin, status, reason, sell_price, net_profit, roi, score, grade)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, it.ASIN, it.Status, it.Reason, it.SellPrice, it.NetProfit, it.ROI, it.Score, it.Grade)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ASIN, err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the most recent run summaries, newest first.
func (d *DB) RecentRuns(limit int) []RunSummary {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.Query(`
		SELECT id, started_at, duration_ms, marketplace, goal, item_count, success_count, failed_count
		FROM analysis_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started string
		if err := rows.Scan(&r.ID, &started, &r.DurationMs, &r.Marketplace, &r.Goal,
			&r.ItemCount, &r.SuccessCount, &r.FailedCount); err != nil {
			continue
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		out = append(out, r)
	}
	return out
}

// RunItems returns the saved per-ASIN outcomes for a run.
func (d *DB) RunItems(runID string) []RunItem {
	rows, err := d.sql.Query(`
		SELECT asin, status, reason, sell_price, net_profit, roi, score, grade
		FROM analysis_items
		WHERE run_id = ?
		ORDER BY score DESC, asin ASC`, runID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []RunItem
	for rows.Next() {
		var it RunItem
		if err := rows.Scan(&it.ASIN, &it.Status, &it.Reason, &it.SellPrice,
			&it.NetProfit, &it.ROI, &it.Score, &it.Grade); err != nil {
			continue
		}
		out = append(out, it)
	}
	return out
}
