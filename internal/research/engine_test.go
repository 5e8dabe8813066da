package research

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

func TestEngine_WavesCommitBeforeDependents(t *testing.T) {
	log := newCallLog()
	var sawA, sawB atomic.Bool
	h := newHarness(t, []Spec{
		{Name: "A", Run: log.worker("A", ok(map[string]any{"v": 1.0}))},
		{Name: "B", Run: log.worker("B", ok(map[string]any{"v": 2.0}))},
		{Name: "C", Deps: []string{"A", "B"}, Run: func(ctx context.Context, job *model.AgenticJob, in *Snapshot) Result {
			sawA.Store(in.Has("A"))
			sawB.Store(in.Has("B"))
			a, _ := in.Float("A", "v")
			b, _ := in.Float("B", "v")
			return ok(map[string]any{"sum": a + b})
		}},
	}, Options{PoolSize: 4})

	job := h.submit(t, model.JobLimits{})
	got, sum, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, sum.Waves)
	assert.True(t, sawA.Load())
	assert.True(t, sawB.Load())
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.ErrorMessage)

	c, _ := sum.Snapshot.Float("C", "sum")
	assert.Equal(t, 3.0, c)

	runs := h.runs(t, job.ID)
	require.Len(t, runs, 3)
	assert.Equal(t, 0, runs["A"].Wave)
	assert.Equal(t, 0, runs["B"].Wave)
	assert.Equal(t, 1, runs["C"].Wave)

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.Contains(t, stored.Results, "context")
	assert.Contains(t, stored.Results, "workers")
}

func TestEngine_DependentNeverStartsBeforeDependencyEnds(t *testing.T) {
	log := newCallLog()
	h := newHarness(t, []Spec{
		{Name: "A", Run: log.worker("A", ok(nil))},
		{Name: "B", Deps: []string{"A"}, Run: log.worker("B", ok(nil))},
		{Name: "X", Run: log.worker("X", ok(nil))},
		{Name: "C", Deps: []string{"B", "X"}, Run: log.worker("C", ok(nil))},
	}, Options{PoolSize: 2})

	job := h.submit(t, model.JobLimits{})
	_, _, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Less(t, log.index("end:A"), log.index("start:B"))
	assert.Less(t, log.index("end:B"), log.index("start:C"))
	assert.Less(t, log.index("end:X"), log.index("start:C"))
	// X shares wave 0 with A, so B waits for X as well.
	assert.Less(t, log.index("end:X"), log.index("start:B"))
}

func TestEngine_FatalFailureAbortsDependents(t *testing.T) {
	log := newCallLog()
	h := newHarness(t, []Spec{
		{Name: "A", Fatal: true, Run: log.worker("A", failing("geocoder returned no match"))},
		{Name: "B", Run: log.worker("B", ok(map[string]any{"found": true}))},
		{Name: "C", Deps: []string{"A", "B"}, Run: log.worker("C", ok(nil))},
	}, Options{})

	job := h.submit(t, model.JobLimits{})
	got, sum, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, log.count("C"))
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "fatal worker A failed: geocoder returned no match", got.ErrorMessage)
	assert.Equal(t, model.WorkerRunSkipped, sum.Workers["C"].Status)

	// Partial context survives on failure.
	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Results)
	ctxMap, ok := stored.Results["context"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, ctxMap, "B")

	runs := h.runs(t, job.ID)
	assert.Len(t, runs, 2)
	assert.NotContains(t, runs, "C")
}

func TestEngine_NonFatalFailureIsIsolated(t *testing.T) {
	log := newCallLog()
	h := newHarness(t, []Spec{
		{Name: "A", Run: log.worker("A", ok(map[string]any{"v": 1.0}))},
		{Name: "B", Run: log.worker("B", failing("provider 503"))},
		{Name: "C", Deps: []string{"A"}, Run: log.worker("C", ok(nil))},
	}, Options{})

	job := h.submit(t, model.JobLimits{})
	got, _, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, log.count("C"))

	runs := h.runs(t, job.ID)
	assert.Equal(t, model.WorkerRunFailed, runs["B"].Status)
	assert.Equal(t, []string{"provider 503"}, runs["B"].Errors)
	assert.Equal(t, model.WorkerRunSucceeded, runs["A"].Status)
	assert.Equal(t, model.WorkerRunSucceeded, runs["C"].Status)
}

func TestEngine_DependentsOfFailedNonFatalStillRun(t *testing.T) {
	var sawEmpty atomic.Bool
	h := newHarness(t, []Spec{
		{Name: "A", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result { return failing("down") }},
		{Name: "C", Deps: []string{"A"}, Run: func(_ context.Context, _ *model.AgenticJob, in *Snapshot) Result {
			data, committed := in.Get("A")
			sawEmpty.Store(committed && len(data) == 0)
			r := EmptyResult()
			r.Unknown("a_value", "upstream A failed")
			return r
		}},
	}, Options{})

	job := h.submit(t, model.JobLimits{})
	got, _, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, sawEmpty.Load())
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestEngine_PanicAndTimeoutAreContained(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHarness(t, []Spec{
		{Name: "panics", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result { panic("bad index") }},
		{Name: "hangs", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result { <-release; return Result{} }},
		{Name: "fine", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result { return ok(map[string]any{"x": 1.0}) }},
	}, Options{WorkerTimeout: 30 * time.Millisecond})

	job := h.submit(t, model.JobLimits{})
	got, _, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	runs := h.runs(t, job.ID)
	assert.Equal(t, model.WorkerRunFailed, runs["panics"].Status)
	assert.Contains(t, runs["panics"].Errors[0], "panicked")
	assert.Equal(t, model.WorkerRunTimedOut, runs["hangs"].Status)
	assert.Contains(t, runs["hangs"].Errors[0], "timed out")
	assert.Equal(t, model.WorkerRunSucceeded, runs["fine"].Status)
}

func TestEngine_PoolBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	body := func(context.Context, *model.AgenticJob, *Snapshot) Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return Result{}
	}
	var specs []Spec
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		specs = append(specs, Spec{Name: n, Run: body})
	}
	h := newHarness(t, specs, Options{PoolSize: 2})

	job := h.submit(t, model.JobLimits{})
	_, _, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestEngine_ProgressMonotonic(t *testing.T) {
	st := newTestStore(t)
	spy := &spyStore{Store: st}
	reg := NewRegistry()
	reg.MustRegister(
		Spec{Name: "a", Run: noop},
		Spec{Name: "b", Run: noop},
		Spec{Name: "c", Deps: []string{"a"}, Run: noop},
		Spec{Name: "d", Deps: []string{"b", "c"}, Run: noop},
		Spec{Name: "e", Deps: []string{"d"}, Run: noop},
	)
	eng := NewEngine(spy, nil, Options{PoolSize: 3, Weights: map[string]float64{"a": 3}})
	orch := NewOrchestrator(spy, reg, eng, Defaults{}, nil)

	job, err := orch.Submit(context.Background(), Request{Address: testAddress})
	require.NoError(t, err)
	_, _, err = orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	values := spy.values()
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress decreased at %d: %v", i, values)
	}
	for _, v := range values[:len(values)-1] {
		assert.Less(t, v, 100)
	}
	assert.Equal(t, 100, values[len(values)-1])
}

func TestEngine_BudgetHaltsScheduling(t *testing.T) {
	log := newCallLog()
	costly := Result{CostUSD: 0.6}
	h := newHarness(t, []Spec{
		{Name: "a", Run: log.worker("a", costly)},
		{Name: "b", Run: log.worker("b", costly)},
		{Name: "c", Deps: []string{"a"}, Run: log.worker("c", ok(nil))},
		{Name: "dossier", Fatal: true, Terminal: true, Run: log.worker("dossier", ok(nil))},
	}, Options{})

	job := h.submit(t, model.JobLimits{MaxCostUSD: 1.0})
	got, sum, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, log.count("c"))
	assert.Equal(t, 0, log.count("dossier"))
	assert.Contains(t, sum.HaltedReason, "max_cost_usd")
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "budget exceeded")
	assert.Equal(t, 100, got.Progress)
}

func TestEngine_MaxWorkersTruncatesWave(t *testing.T) {
	log := newCallLog()
	h := newHarness(t, []Spec{
		{Name: "a", Run: log.worker("a", ok(nil))},
		{Name: "b", Run: log.worker("b", ok(nil))},
		{Name: "c", Run: log.worker("c", ok(nil))},
	}, Options{})

	job := h.submit(t, model.JobLimits{MaxWorkers: 2})
	got, sum, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}}, sum.Waves)
	assert.Equal(t, 0, log.count("c"))
	assert.Equal(t, "max_workers 2 reached", sum.HaltedReason)
	// No fatal worker was skipped.
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestEngine_EvidenceDedupedAcrossJobs(t *testing.T) {
	draft := EvidenceDraft{Category: "flood", Claim: "Zone X", SourceURL: "https://msc.fema.gov/portal"}
	h := newHarness(t, []Spec{
		{Name: "flood", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result {
			return Result{Evidence: []EvidenceDraft{draft, draft}}
		}},
	}, Options{})

	first := h.submit(t, model.JobLimits{})
	_, sum1, err := h.orch.Run(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum1.EvidenceInserted)

	second := h.submit(t, model.JobLimits{})
	_, sum2, err := h.orch.Run(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sum2.EvidenceInserted)

	ev, err := h.store.ListEvidence(context.Background(), store.EvidenceFilter{PropertyID: first.ResearchPropertyID})
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, Hash("flood", "Zone X", "https://msc.fema.gov/portal"), ev[0].Hash)
	assert.Equal(t, ConfidenceGovernment, ev[0].Confidence)
}

func TestEngine_PersistsArtifacts(t *testing.T) {
	h := newHarness(t, []Spec{
		{Name: "comps", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result {
			return ok(map[string]any{
				model.ArtifactCompSales: []model.CompSale{{Address: "1 Oak St", Price: 180000, SimilarityScore: 0.9}},
			})
		}},
		{Name: "uw", Deps: []string{"comps"}, Run: func(_ context.Context, _ *model.AgenticJob, in *Snapshot) Result {
			var comps []model.CompSale
			if err := in.Decode("comps", model.ArtifactCompSales, &comps); err != nil {
				return failing(err.Error())
			}
			return ok(map[string]any{
				model.ArtifactUnderwriting: model.Underwriting{Strategy: model.StrategyFlip, ARV: model.Band{Base: comps[0].Price}},
			})
		}},
	}, Options{})

	job := h.submit(t, model.JobLimits{})
	_, _, err := h.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)

	comps, err := h.store.ListCompSales(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, job.ResearchPropertyID, comps[0].PropertyID)

	uw, err := h.store.GetUnderwriting(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, uw)
	assert.Equal(t, 180000.0, uw.ARV.Base)
}

func TestEngine_ResumeSkipsCommittedWorkers(t *testing.T) {
	log := newCallLog()
	var seen atomic.Value
	h := newHarness(t, []Spec{
		{Name: "A", Run: log.worker("A", ok(map[string]any{"v": 99.0}))},
		{Name: "B", Deps: []string{"A"}, Run: func(_ context.Context, _ *model.AgenticJob, in *Snapshot) Result {
			v, _ := in.Float("A", "v")
			seen.Store(v)
			return ok(nil)
		}},
	}, Options{})

	ctx := context.Background()
	job := h.submit(t, model.JobLimits{})

	// Simulate a crash after A committed.
	require.NoError(t, h.store.StartJob(ctx, job.ID, time.Now(), "A"))
	_, err := h.store.CommitWorker(ctx, &store.WorkerCommit{
		Run: model.WorkerRun{JobID: job.ID, WorkerName: "A", Status: model.WorkerRunSucceeded,
			Data: map[string]any{"v": 7.0}, CreatedAt: time.Now().UTC()},
		Progress: 50,
	})
	require.NoError(t, err)

	got, sum, err := h.orch.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, log.count("A"))
	assert.Equal(t, 7.0, seen.Load())
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, [][]string{{"B"}}, sum.Waves)
	assert.Equal(t, 1, sum.Workers["B"].Wave)

	_, _, err = h.orch.Resume(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrJobFinished))
}

func TestEngine_CanceledRunLeavesJobResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, []Spec{
		{Name: "A", Run: func(context.Context, *model.AgenticJob, *Snapshot) Result { return ok(nil) }},
		{Name: "B", Deps: []string{"A"}, Run: func(ctx context.Context, _ *model.AgenticJob, _ *Snapshot) Result {
			cancel()
			<-ctx.Done()
			return Result{}
		}},
	}, Options{})

	job := h.submit(t, model.JobLimits{})
	_, _, err := h.orch.Run(ctx, job.ID)
	require.Error(t, err)

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, stored.Status)
	assert.Less(t, stored.Progress, 100)

	runs := h.runs(t, job.ID)
	assert.Contains(t, runs, "A")
	assert.NotContains(t, runs, "B")
}

func noop(context.Context, *model.AgenticJob, *Snapshot) Result { return Result{} }
