package monitoring

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/config"
)

// Checker watches research job health and alerts on failures, spend, and
// jobs left IN_PROGRESS by an interrupted run.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// stale holds the stuck job IDs already alerted on. A stuck job is
	// reported once; it is reported again only after it recovers and
	// sticks a second time.
	stale map[string]bool
}

// NewChecker creates a job health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		stale:     make(map[string]bool),
	}
}

// Run checks once at start, so jobs stranded by a previous process are
// reported right away, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: job health checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	if ctx.Err() == nil {
		c.check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: job health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check collects a snapshot and sends its alerts. It returns the number of
// alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect job metrics", zap.Error(err))
		return 0
	}

	fresh := c.newlyStale(snap.StaleJobIDs)
	for _, id := range fresh {
		log.Warn("monitoring: research job stuck in progress",
			zap.String("job_id", id),
			zap.String("hint", "property-research resume "+id),
		)
	}

	alerts := slices.DeleteFunc(c.alerter.Evaluate(snap), func(a Alert) bool {
		return a.Type == AlertStaleJobs && len(fresh) == 0
	})
	if len(alerts) == 0 {
		log.Debug("monitoring: jobs healthy",
			zap.Int("jobs_total", snap.JobsTotal),
			zap.Int("jobs_in_progress", snap.JobsInProgress),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: job health alerts",
		zap.Int("jobs_total", snap.JobsTotal),
		zap.Int("jobs_failed", snap.JobsFailed),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("cost_usd", snap.CostUSD),
		zap.Int("jobs_stale", snap.JobsStale),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// newlyStale returns the IDs in ids not alerted on before and forgets
// jobs that are no longer stuck.
func (c *Checker) newlyStale(ids []string) []string {
	var fresh []string
	current := make(map[string]bool, len(ids))
	for _, id := range ids {
		current[id] = true
		if !c.stale[id] {
			fresh = append(fresh, id)
		}
	}
	c.stale = current
	return fresh
}
