// Package monitoring watches recorded sync runs and raises alerts when the
// sync is failing or has gone stale.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-sync/internal/model"
)

// maxRunsScanned bounds how many recent runs a snapshot looks at.
const maxRunsScanned = 500

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Sync runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Deal totals from completed runs within the window.
	DealsFetched int `json:"deals_fetched"`
	DealsFailed  int `json:"deals_failed"`

	// LastSuccessAt is the finish time of the newest completed run, looking
	// past the window.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store method the collector reads.
type RunLister interface {
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)
}

// Collector gathers sync metrics from the store.
type Collector struct {
	runs    RunLister
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, nowFunc: time.Now}
}

// Collect summarizes the sync runs started in the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListSyncRuns(ctx, maxRunsScanned)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sync runs")
	}

	// Runs arrive newest first.
	for _, r := range runs {
		if r.Status == model.SyncStatusComplete && snap.LastSuccessAt == nil && r.FinishedAt != nil {
			finished := *r.FinishedAt
			snap.LastSuccessAt = &finished
		}
		if r.Status == model.SyncStatusFailed && snap.LastError == "" {
			snap.LastError = r.Error
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		switch r.Status {
		case model.SyncStatusComplete:
			snap.RunsComplete++
			if r.Result != nil {
				snap.DealsFetched += r.Result.Fetched
				snap.DealsFailed += r.Result.Failed
			}
		case model.SyncStatusFailed:
			snap.RunsFailed++
		case model.SyncStatusRunning:
			snap.RunsRunning++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
