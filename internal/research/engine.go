package research

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultPoolSize      = 4
	DefaultWorkerTimeout = 15 * time.Second
)

// Options tunes the engine.
type Options struct {
	PoolSize      int
	WorkerTimeout time.Duration
	// Weights sets per-worker progress weights; absent workers weigh 1.
	Weights map[string]float64
}

// Engine executes a job's worker graph wave by wave.
type Engine struct {
	store store.Store
	agg   *Aggregator
	opts  Options
	now   func() time.Time
}

// NewEngine creates an engine.
func NewEngine(st store.Store, agg *Aggregator, opts Options) *Engine {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = DefaultWorkerTimeout
	}
	if agg == nil {
		agg = &Aggregator{}
	}
	return &Engine{store: st, agg: agg, opts: opts, now: time.Now}
}

// WorkerSummary is the per-worker status reported in job results.
type WorkerSummary struct {
	Status    model.WorkerRunStatus `json:"status"`
	Wave      int                   `json:"wave"`
	RuntimeMS int64                 `json:"runtime_ms"`
	CostUSD   float64               `json:"cost_usd"`
	WebCalls  int                   `json:"web_calls"`
	Errors    []string              `json:"errors"`
	Unknowns  []model.Unknown       `json:"unknowns"`
}

// Summary describes a finished job run.
type Summary struct {
	Status       model.JobStatus
	ErrorMessage string
	// HaltedReason is set when a job budget stopped scheduling.
	HaltedReason     string
	Snapshot         *Snapshot
	Workers          map[string]WorkerSummary
	Waves            [][]string
	EvidenceInserted int
	CostUSD          float64
	WebCalls         int
}

// Results renders the summary as the job's results document.
func (s *Summary) Results() map[string]any {
	workers := make(map[string]any, len(s.Workers))
	for name, w := range s.Workers {
		workers[name] = w
	}
	out := map[string]any{
		"context":         s.Snapshot.Flatten(),
		"workers":         workers,
		"waves":           s.Waves,
		"evidence_count":  s.EvidenceInserted,
		"total_cost_usd":  s.CostUSD,
		"web_calls":       s.WebCalls,
		"snapshot_layers": s.Snapshot.Depth(),
	}
	if s.HaltedReason != "" {
		out["halted_reason"] = s.HaltedReason
	}
	return out
}

// Execute runs every worker in g that has no run in prior, then finishes
// the job. Worker failures never surface as errors here; a returned error
// means the run was interrupted (context canceled or persistence failed)
// and the job was left unfinished so it can be resumed.
func (e *Engine) Execute(ctx context.Context, job *model.AgenticJob, g *Graph, prior []model.WorkerRun) (*Summary, error) {
	log := zap.L().With(
		zap.String("component", "research.engine"),
		zap.String("job_id", job.ID),
		zap.String("trace_id", job.TraceID),
	)
	started := e.now()

	tr := NewTracker(e.store, job, g, e.opts.Weights)
	sum := &Summary{Snapshot: NewSnapshot(), Workers: map[string]WorkerSummary{}}
	done := map[string]bool{}

	var fatalErr string
	executed, wave := 0, 0
	seed := map[string]map[string]any{}
	var seeded []string
	for _, run := range prior {
		spec, ok := g.Spec(run.WorkerName)
		if !ok || done[run.WorkerName] {
			continue
		}
		done[run.WorkerName] = true
		seed[run.WorkerName] = run.Data
		seeded = append(seeded, run.WorkerName)
		executed++
		wave = max(wave, run.Wave+1)
		sum.CostUSD += run.CostUSD
		sum.WebCalls += run.WebCalls
		sum.Workers[run.WorkerName] = WorkerSummary{
			Status: run.Status, Wave: run.Wave, RuntimeMS: run.RuntimeMS, CostUSD: run.CostUSD,
			WebCalls: run.WebCalls, Errors: run.Errors, Unknowns: run.Unknowns,
		}
		if spec.Fatal && run.Status != model.WorkerRunSucceeded && fatalErr == "" {
			fatalErr = fatalMessage(run.WorkerName, string(run.Status), run.Errors)
		}
	}
	if len(seed) > 0 {
		sum.Snapshot = sum.Snapshot.With(seed)
		tr.Seed(seeded)
		log.Info("research: resuming job", zap.Strings("committed", seeded))
	}

	for fatalErr == "" {
		ready := g.Ready(done)
		if len(ready) == 0 {
			break
		}
		if reason := budgetExceeded(job.Limits, executed, sum.CostUSD, e.now().Sub(started)); reason != "" {
			sum.HaltedReason = reason
			break
		}
		if limit := job.Limits.MaxWorkers; limit > 0 && executed+len(ready) > limit {
			ready = ready[:limit-executed]
			sum.HaltedReason = fmt.Sprintf("max_workers %d reached", limit)
		}

		names := make([]string, len(ready))
		for i, s := range ready {
			names[i] = s.Name
		}
		if err := tr.BeginWave(ctx, names, e.now()); err != nil {
			return nil, err
		}
		log.Info("research: wave started", zap.Int("wave", wave), zap.Strings("workers", names))

		outcomes, inserted, err := e.runWave(ctx, job, tr, sum.Snapshot, ready, wave)
		if err != nil {
			log.Warn("research: run interrupted", zap.Int("wave", wave), zap.Error(err))
			return nil, err
		}

		layer := make(map[string]map[string]any, len(ready))
		for i, spec := range ready {
			o := outcomes[i]
			layer[spec.Name] = o.Result.Data
			done[spec.Name] = true
			sum.CostUSD += o.Result.CostUSD
			sum.WebCalls += o.Result.WebCalls
			sum.Workers[spec.Name] = WorkerSummary{
				Status: o.Kind.RunStatus(), Wave: wave, RuntimeMS: o.Runtime.Milliseconds(),
				CostUSD: o.Result.CostUSD, WebCalls: o.Result.WebCalls,
				Errors: o.Result.Errors, Unknowns: o.Result.Unknowns,
			}
			if spec.Fatal && !o.OK() && fatalErr == "" {
				fatalErr = fatalMessage(spec.Name, o.Kind.String(), o.Result.Errors)
			}
		}
		sum.Snapshot = sum.Snapshot.With(layer)
		sum.Waves = append(sum.Waves, names)
		sum.EvidenceInserted += inserted
		executed += len(ready)
		wave++

		if sum.HaltedReason != "" {
			break
		}
	}

	var skipped, fatalSkipped []string
	for _, s := range g.Specs() {
		if done[s.Name] {
			continue
		}
		skipped = append(skipped, s.Name)
		sum.Workers[s.Name] = WorkerSummary{Status: model.WorkerRunSkipped, Wave: -1, Errors: []string{}, Unknowns: []model.Unknown{}}
		if s.Fatal {
			fatalSkipped = append(fatalSkipped, s.Name)
		}
	}

	switch {
	case fatalErr != "":
		sum.Status, sum.ErrorMessage = model.JobStatusFailed, fatalErr
	case len(fatalSkipped) > 0:
		sum.Status = model.JobStatusFailed
		sum.ErrorMessage = fmt.Sprintf("budget exceeded: %s; fatal workers not run: %v", sum.HaltedReason, fatalSkipped)
	default:
		sum.Status = model.JobStatusCompleted
	}

	if err := tr.Finish(ctx, sum.Status, sum.ErrorMessage, sum.Results(), e.now()); err != nil {
		return nil, err
	}

	log.Info("research: job finished",
		zap.String("status", string(sum.Status)),
		zap.Int("waves", len(sum.Waves)),
		zap.Strings("skipped", skipped),
		zap.Float64("cost_usd", sum.CostUSD),
		zap.Int64("duration_ms", e.now().Sub(started).Milliseconds()),
	)
	return sum, nil
}

// runWave runs ready concurrently, committing each worker as it finishes.
// Outcomes are returned in the order of ready.
func (e *Engine) runWave(ctx context.Context, job *model.AgenticJob, tr *Tracker, snap *Snapshot, ready []Spec, wave int) ([]Outcome, int, error) {
	outcomes := make([]Outcome, len(ready))
	inserted := make([]int, len(ready))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.PoolSize)

	for i, spec := range ready {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			o := Invoke(gctx, spec, job, snap, e.opts.WorkerTimeout)
			if o.Kind == OutcomeCanceled {
				return gctx.Err()
			}

			now := e.now().UTC()
			c := &store.WorkerCommit{
				Run: model.WorkerRun{
					JobID:      job.ID,
					WorkerName: spec.Name,
					Status:     o.Kind.RunStatus(),
					Wave:       wave,
					RuntimeMS:  o.Runtime.Milliseconds(),
					CostUSD:    o.Result.CostUSD,
					WebCalls:   o.Result.WebCalls,
					Data:       o.Result.Data,
					Unknowns:   o.Result.Unknowns,
					Errors:     o.Result.Errors,
					CreatedAt:  now,
				},
				Evidence: e.agg.Rows(job, spec.Name, o.Result.Evidence, now),
			}
			if err := attachArtifacts(c, job, o.Result.Data, now); err != nil {
				o.Result.Fail(err.Error())
				o.Kind = OutcomeFailed
				c.Run.Status = o.Kind.RunStatus()
				c.Run.Errors = o.Result.Errors
			}

			n, err := tr.Commit(ctx, c)
			if err != nil {
				return err
			}
			outcomes[i], inserted[i] = o, n

			zap.L().Info("research: worker committed",
				zap.String("job_id", job.ID),
				zap.String("worker", spec.Name),
				zap.Int("wave", wave),
				zap.String("status", string(c.Run.Status)),
				zap.Int64("duration_ms", c.Run.RuntimeMS),
				zap.Int("evidence_new", n),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, n := range inserted {
		total += n
	}
	return outcomes, total, nil
}

func budgetExceeded(l model.JobLimits, executed int, cost float64, elapsed time.Duration) string {
	switch {
	case l.MaxWorkers > 0 && executed >= l.MaxWorkers:
		return fmt.Sprintf("max_workers %d reached", l.MaxWorkers)
	case l.MaxCostUSD > 0 && cost >= l.MaxCostUSD:
		return fmt.Sprintf("max_cost_usd %.2f reached (spent %.2f)", l.MaxCostUSD, cost)
	case l.MaxDuration > 0 && elapsed >= l.MaxDuration:
		return fmt.Sprintf("max_duration %s reached", l.MaxDuration)
	}
	return ""
}

func fatalMessage(worker, kind string, errs []string) string {
	if len(errs) > 0 {
		return fmt.Sprintf("fatal worker %s %s: %s", worker, kind, errs[0])
	}
	return fmt.Sprintf("fatal worker %s %s", worker, kind)
}
