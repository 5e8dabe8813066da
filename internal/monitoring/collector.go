package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

// MetricsSnapshot holds a point-in-time view of research job health.
type MetricsSnapshot struct {
	// Job metrics (created within the lookback window).
	JobsTotal      int     `json:"jobs_total"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsFailed     int     `json:"jobs_failed"`
	JobsPending    int     `json:"jobs_pending"`
	JobsInProgress int     `json:"jobs_in_progress"`
	JobsStale      int     `json:"jobs_stale"`
	FailRate       float64 `json:"fail_rate"`
	CostUSD        float64 `json:"cost_usd"`
	AvgCostUSD     float64 `json:"avg_cost_usd"`

	// StaleJobIDs lists IN_PROGRESS jobs with no recent progress; they are
	// candidates for resume.
	StaleJobIDs []string `json:"stale_job_ids,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister is the store subset the collector reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.AgenticJob, error)
}

// Collector gathers job metrics from the store.
type Collector struct {
	store      JobLister
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. staleAfter <= 0 disables
// stale job detection.
func NewCollector(st JobLister, staleAfter time.Duration) *Collector {
	return &Collector{store: st, staleAfter: staleAfter, now: time.Now}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	var costed int
	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusPending:
			snap.JobsPending++
		case model.JobStatusInProgress:
			snap.JobsInProgress++
			if c.staleAfter > 0 && now.Sub(j.UpdatedAt) > c.staleAfter {
				snap.JobsStale++
				snap.StaleJobIDs = append(snap.StaleJobIDs, j.ID)
			}
		}
		if spent, ok := j.Results["total_cost_usd"].(float64); ok {
			snap.CostUSD += spent
			costed++
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if costed > 0 {
		snap.AvgCostUSD = snap.CostUSD / float64(costed)
	}

	return snap, nil
}
