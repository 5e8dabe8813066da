package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

// mockJobs implements JobLister for testing.
type mockJobs struct {
	jobs    []model.AgenticJob
	listErr error
	filters []store.JobFilter
}

func (m *mockJobs) ListJobs(_ context.Context, filter store.JobFilter) ([]model.AgenticJob, error) {
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.jobs, nil
}

var collectNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector(st JobLister, staleAfter time.Duration) *Collector {
	c := NewCollector(st, staleAfter)
	c.now = func() time.Time { return collectNow }
	return c
}

func TestCollector_EmptyStore(t *testing.T) {
	c := newTestCollector(&mockJobs{}, 0)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.JobsTotal)
	assert.Equal(t, 0.0, snap.FailRate)
	assert.Equal(t, 0.0, snap.CostUSD)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_JobMetrics(t *testing.T) {
	st := &mockJobs{
		jobs: []model.AgenticJob{
			{ID: "1", Status: model.JobStatusCompleted, CreatedAt: collectNow.Add(-1 * time.Hour), Results: map[string]any{"total_cost_usd": 0.25}},
			{ID: "2", Status: model.JobStatusCompleted, CreatedAt: collectNow.Add(-2 * time.Hour), Results: map[string]any{"total_cost_usd": 0.75}},
			{ID: "3", Status: model.JobStatusFailed, CreatedAt: collectNow.Add(-3 * time.Hour), Results: map[string]any{"total_cost_usd": 0.0}},
			{ID: "4", Status: model.JobStatusPending, CreatedAt: collectNow.Add(-30 * time.Minute)},
			{ID: "5", Status: model.JobStatusInProgress, CreatedAt: collectNow.Add(-5 * time.Hour), UpdatedAt: collectNow.Add(-4 * time.Hour)},
			{ID: "6", Status: model.JobStatusInProgress, CreatedAt: collectNow.Add(-10 * time.Minute), UpdatedAt: collectNow.Add(-time.Minute)},
			// Outside lookback window.
			{ID: "7", Status: model.JobStatusFailed, CreatedAt: collectNow.Add(-48 * time.Hour)},
		},
	}

	c := newTestCollector(st, 30*time.Minute)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 6, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsCompleted)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsPending)
	assert.Equal(t, 2, snap.JobsInProgress)
	assert.Equal(t, 1, snap.JobsStale)
	assert.Equal(t, []string{"5"}, snap.StaleJobIDs)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001) // 1 failed / 3 finished
	assert.InDelta(t, 1.0, snap.CostUSD, 0.001)
	assert.InDelta(t, 1.0/3.0, snap.AvgCostUSD, 0.001)
	assert.Equal(t, 10000, st.filters[0].Limit)
}

func TestCollector_StaleDetectionDisabled(t *testing.T) {
	st := &mockJobs{jobs: []model.AgenticJob{
		{ID: "1", Status: model.JobStatusInProgress, CreatedAt: collectNow.Add(-time.Hour), UpdatedAt: collectNow.Add(-time.Hour)},
	}}

	snap, err := newTestCollector(st, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.JobsInProgress)
	assert.Zero(t, snap.JobsStale)
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	st := &mockJobs{jobs: []model.AgenticJob{
		{ID: "1", Status: model.JobStatusPending, CreatedAt: collectNow.Add(-1 * time.Hour)},
		{ID: "2", Status: model.JobStatusPending, CreatedAt: collectNow.Add(-2 * time.Hour)},
	}}

	snap, err := newTestCollector(st, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.FailRate)
	assert.Equal(t, 0.0, snap.AvgCostUSD)
}

func TestCollector_ListError(t *testing.T) {
	st := &mockJobs{listErr: eris.New("db down")}

	_, err := newTestCollector(st, 0).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list jobs")
}
