package research

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

// Tracker owns a job's status, progress and current step while it runs.
// Progress is the committed share of the enabled workers' total weight,
// held at 99 until the job finishes and never lowered.
type Tracker struct {
	store   store.Store
	job     *model.AgenticJob
	weights map[string]float64
	total   float64

	mu        sync.Mutex
	committed float64
	running   []string
	started   bool
}

// NewTracker creates a tracker for job over the workers in g. Workers
// missing from weights weigh 1.
func NewTracker(st store.Store, job *model.AgenticJob, g *Graph, weights map[string]float64) *Tracker {
	t := &Tracker{store: st, job: job, weights: make(map[string]float64, g.Len())}
	for _, s := range g.Specs() {
		w := weights[s.Name]
		if w <= 0 {
			w = 1
		}
		t.weights[s.Name] = w
		t.total += w
	}
	return t
}

// Seed counts workers committed by an earlier run of the same job.
func (t *Tracker) Seed(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range names {
		t.committed += t.weights[n]
	}
}

// Progress returns the current progress percentage.
func (t *Tracker) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.Progress
}

// Step returns the current step.
func (t *Tracker) Step() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.CurrentStep
}

func (t *Tracker) progressLocked() int {
	p := 0
	if t.total > 0 {
		p = int(math.Floor(100 * t.committed / t.total))
	}
	return max(min(p, 99), t.job.Progress)
}

// BeginWave records the workers about to run. The first call moves the job
// to IN_PROGRESS.
func (t *Tracker) BeginWave(ctx context.Context, names []string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = slices.Clone(names)
	step := strings.Join(t.running, ",")

	if !t.started {
		if err := t.store.StartJob(ctx, t.job.ID, at, step); err != nil {
			return eris.Wrap(err, "research: start job")
		}
		t.started = true
		t.job.Status = model.JobStatusInProgress
		if t.job.StartedAt == nil {
			started := at.UTC()
			t.job.StartedAt = &started
		}
		t.job.CurrentStep = step
		return nil
	}

	p := t.progressLocked()
	if err := t.store.UpdateJobProgress(ctx, t.job.ID, p, step); err != nil {
		return eris.Wrap(err, "research: update job progress")
	}
	t.job.Progress = p
	t.job.CurrentStep = step
	return nil
}

// Commit persists a finished worker together with the job's new progress.
// It returns how many evidence rows were newly stored.
func (t *Tracker) Commit(ctx context.Context, c *store.WorkerCommit) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := c.Run.WorkerName
	t.committed += t.weights[name]
	if i := slices.Index(t.running, name); i >= 0 {
		t.running = slices.Delete(t.running, i, i+1)
	}

	c.Progress = t.progressLocked()
	c.CurrentStep = strings.Join(t.running, ",")

	n, err := t.store.CommitWorker(ctx, c)
	if err != nil {
		t.committed -= t.weights[name]
		return 0, eris.Wrapf(err, "research: commit worker %s", name)
	}
	t.job.Progress = c.Progress
	t.job.CurrentStep = c.CurrentStep
	return n, nil
}

// Finish moves the job to its terminal status with progress 100.
func (t *Tracker) Finish(ctx context.Context, status model.JobStatus, errMsg string, results map[string]any, at time.Time) error {
	if !status.Terminal() {
		return eris.Errorf("research: finish with non-terminal status %s", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	done := at.UTC()
	job := *t.job
	job.Status = status
	job.Progress = 100
	job.CurrentStep = ""
	job.Results = results
	job.ErrorMessage = ""
	if status == model.JobStatusFailed {
		job.ErrorMessage = errMsg
	}
	job.CompletedAt = &done

	if err := t.store.FinishJob(ctx, &job); err != nil {
		return eris.Wrap(err, "research: finish job")
	}
	*t.job = job
	return nil
}
