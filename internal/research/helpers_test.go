package research

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

const testAddress = "123 Main St, Springfield, IL 62701"

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "research.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// spyStore records every progress value written for a job.
type spyStore struct {
	store.Store
	mu       sync.Mutex
	progress []int
}

func (s *spyStore) record(p int) {
	s.mu.Lock()
	s.progress = append(s.progress, p)
	s.mu.Unlock()
}

func (s *spyStore) CommitWorker(ctx context.Context, c *store.WorkerCommit) (int, error) {
	n, err := s.Store.CommitWorker(ctx, c)
	if err == nil {
		s.record(c.Progress)
	}
	return n, err
}

func (s *spyStore) UpdateJobProgress(ctx context.Context, id string, progress int, step string) error {
	err := s.Store.UpdateJobProgress(ctx, id, progress, step)
	if err == nil {
		s.record(progress)
	}
	return err
}

func (s *spyStore) FinishJob(ctx context.Context, job *model.AgenticJob) error {
	err := s.Store.FinishJob(ctx, job)
	if err == nil {
		s.record(job.Progress)
	}
	return err
}

func (s *spyStore) values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress...)
}

// callLog records worker start and end order.
type callLog struct {
	mu     sync.Mutex
	events []string
	calls  map[string]int
}

func newCallLog() *callLog { return &callLog{calls: map[string]int{}} }

func (l *callLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *callLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, x := range l.events {
		if x == e {
			return i
		}
	}
	return -1
}

func (l *callLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// worker returns a Func that logs start/end and returns res.
func (l *callLog) worker(name string, res Result) Func {
	return func(ctx context.Context, job *model.AgenticJob, in *Snapshot) Result {
		l.mu.Lock()
		l.calls[name]++
		l.mu.Unlock()
		l.add("start:" + name)
		time.Sleep(5 * time.Millisecond)
		l.add("end:" + name)
		return res
	}
}

func ok(data map[string]any) Result {
	return Result{Data: data}
}

func failing(msg string) Result {
	return Result{Errors: []string{msg}}
}

type harness struct {
	store *store.SQLiteStore
	reg   *Registry
	orch  *Orchestrator
}

func newHarness(t *testing.T, specs []Spec, opts Options) *harness {
	t.Helper()
	st := newTestStore(t)
	reg := NewRegistry()
	reg.MustRegister(specs...)
	if opts.WorkerTimeout == 0 {
		opts.WorkerTimeout = 2 * time.Second
	}
	eng := NewEngine(st, &Aggregator{}, opts)
	return &harness{store: st, reg: reg, orch: NewOrchestrator(st, reg, eng, Defaults{}, nil)}
}

func (h *harness) submit(t *testing.T, limits model.JobLimits) *model.AgenticJob {
	t.Helper()
	job, err := h.orch.Submit(context.Background(), Request{Address: testAddress, Limits: limits})
	require.NoError(t, err)
	return job
}

func (h *harness) runs(t *testing.T, jobID string) map[string]model.WorkerRun {
	t.Helper()
	runs, err := h.store.ListWorkerRuns(context.Background(), jobID)
	require.NoError(t, err)
	out := make(map[string]model.WorkerRun, len(runs))
	for _, r := range runs {
		out[r.WorkerName] = r
	}
	return out
}
