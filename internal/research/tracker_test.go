package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

func newTrackerFixture(t *testing.T, weights map[string]float64, specs ...Spec) (*Tracker, *model.AgenticJob, *store.SQLiteStore) {
	t.Helper()
	h := newHarness(t, specs, Options{})
	job := h.submit(t, model.JobLimits{})
	g, err := h.orch.Plan(job)
	require.NoError(t, err)
	return NewTracker(h.store, job, g, weights), job, h.store
}

func commitFor(job *model.AgenticJob, name string) *store.WorkerCommit {
	return &store.WorkerCommit{Run: model.WorkerRun{
		JobID: job.ID, WorkerName: name, Status: model.WorkerRunSucceeded, CreatedAt: time.Now().UTC(),
	}}
}

func TestTracker_WeightedProgress(t *testing.T) {
	ctx := context.Background()
	tr, job, st := newTrackerFixture(t, map[string]float64{"a": 3},
		Spec{Name: "a", Run: noop}, Spec{Name: "b", Run: noop},
	)

	require.NoError(t, tr.BeginWave(ctx, []string{"a", "b"}, time.Now()))
	assert.Equal(t, "a,b", tr.Step())
	assert.Equal(t, 0, tr.Progress())

	_, err := tr.Commit(ctx, commitFor(job, "a"))
	require.NoError(t, err)
	assert.Equal(t, 75, tr.Progress())
	assert.Equal(t, "b", tr.Step())

	// The last commit is held below 100 until Finish.
	_, err = tr.Commit(ctx, commitFor(job, "b"))
	require.NoError(t, err)
	assert.Equal(t, 99, tr.Progress())
	assert.Empty(t, tr.Step())

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, stored.Status)
	assert.Equal(t, 99, stored.Progress)

	require.NoError(t, tr.Finish(ctx, model.JobStatusCompleted, "ignored", map[string]any{"ok": true}, time.Now()))
	stored, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Empty(t, stored.ErrorMessage)
	assert.Equal(t, true, stored.Results["ok"])
}

func TestTracker_SeedCountsPriorWork(t *testing.T) {
	tr, _, _ := newTrackerFixture(t, nil,
		Spec{Name: "a", Run: noop}, Spec{Name: "b", Run: noop},
		Spec{Name: "c", Run: noop}, Spec{Name: "d", Run: noop},
	)
	tr.Seed([]string{"a"})
	tr.mu.Lock()
	p := tr.progressLocked()
	tr.mu.Unlock()
	assert.Equal(t, 25, p)
}

func TestTracker_FinishRejectsNonTerminal(t *testing.T) {
	tr, _, _ := newTrackerFixture(t, nil, Spec{Name: "a", Run: noop})
	err := tr.Finish(context.Background(), model.JobStatusInProgress, "", nil, time.Now())
	require.Error(t, err)
}

func TestTracker_FailedKeepsMessage(t *testing.T) {
	ctx := context.Background()
	tr, job, st := newTrackerFixture(t, nil, Spec{Name: "a", Run: noop})
	require.NoError(t, tr.BeginWave(ctx, []string{"a"}, time.Now()))
	require.NoError(t, tr.Finish(ctx, model.JobStatusFailed, "fatal worker a failed", nil, time.Now()))

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.Equal(t, "fatal worker a failed", stored.ErrorMessage)
	assert.Equal(t, 100, stored.Progress)
	assert.NotNil(t, stored.CompletedAt)
}

func TestTracker_CommitFailureRollsBackWeight(t *testing.T) {
	ctx := context.Background()
	tr, job, _ := newTrackerFixture(t, nil, Spec{Name: "a", Run: noop}, Spec{Name: "b", Run: noop})
	require.NoError(t, tr.BeginWave(ctx, []string{"a", "b"}, time.Now()))

	_, err := tr.Commit(ctx, commitFor(job, "a"))
	require.NoError(t, err)
	// A second run for the same worker violates uniqueness.
	_, err = tr.Commit(ctx, commitFor(job, "a"))
	require.Error(t, err)
	assert.Equal(t, 50, tr.Progress())
}
