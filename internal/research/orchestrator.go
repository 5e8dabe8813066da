package research

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/property"
	"github.com/sells-group/property-research/internal/store"
)

// ErrJobFinished is returned when running a job that is already terminal.
var ErrJobFinished = eris.New("research: job already finished")

// Request is a research submission.
type Request struct {
	Address     string
	Strategy    model.Strategy
	Assumptions map[string]any
	Limits      model.JobLimits
}

// Defaults fill in what a Request leaves unset.
type Defaults struct {
	Strategy    model.Strategy
	Groups      []string
	MaxWorkers  int
	MaxCostUSD  float64
	MaxDuration time.Duration
}

// ProfileFunc folds a finished job's findings into its property.
type ProfileFunc func(p *model.ResearchProperty, snap *Snapshot)

// Orchestrator submits, runs and resumes research jobs.
type Orchestrator struct {
	store    store.Store
	props    *property.Registry
	reg      *Registry
	engine   *Engine
	defaults Defaults
	profile  ProfileFunc
	now      func() time.Time
}

// NewOrchestrator wires an orchestrator. profile may be nil.
func NewOrchestrator(st store.Store, reg *Registry, engine *Engine, defaults Defaults, profile ProfileFunc) *Orchestrator {
	if defaults.Strategy == "" {
		defaults.Strategy = model.StrategyFlip
	}
	return &Orchestrator{
		store:    st,
		props:    property.NewRegistry(st),
		reg:      reg,
		engine:   engine,
		defaults: defaults,
		profile:  profile,
		now:      time.Now,
	}
}

func (o *Orchestrator) validate(req *Request) error {
	if req.Strategy == "" {
		req.Strategy = o.defaults.Strategy
	}
	switch req.Strategy {
	case model.StrategyFlip, model.StrategyRental, model.StrategyBRRRR:
	default:
		return &ValidationError{Field: "strategy", Err: eris.Errorf("unknown strategy %q", req.Strategy)}
	}

	l := &req.Limits
	if l.MaxWorkers < 0 || l.MaxCostUSD < 0 || l.MaxDuration < 0 {
		return &ValidationError{Field: "limits", Err: eris.New("budgets must not be negative")}
	}
	if l.Groups == nil {
		l.Groups = slices.Clone(o.defaults.Groups)
	}
	known := o.reg.Groups()
	for _, g := range l.Groups {
		if !slices.Contains(known, g) {
			return &ValidationError{Field: "limits.groups", Err: eris.Errorf("unknown worker group %q", g)}
		}
	}
	if l.MaxWorkers == 0 {
		l.MaxWorkers = o.defaults.MaxWorkers
	}
	if l.MaxCostUSD == 0 {
		l.MaxCostUSD = o.defaults.MaxCostUSD
	}
	if l.MaxDuration == 0 {
		l.MaxDuration = o.defaults.MaxDuration
	}
	return nil
}

// Submit validates req, resolves its property and creates a PENDING job.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*model.AgenticJob, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}

	prop, err := o.props.Resolve(ctx, req.Address)
	if errors.Is(err, property.ErrInvalidAddress) {
		return nil, &ValidationError{Field: "address", Err: err}
	}
	if err != nil {
		return nil, eris.Wrap(err, "research: resolve property")
	}

	job := &model.AgenticJob{
		ID:                 uuid.New().String(),
		TraceID:            uuid.New().String(),
		ResearchPropertyID: prop.ID,
		Status:             model.JobStatusPending,
		Strategy:           req.Strategy,
		Assumptions:        req.Assumptions,
		Limits:             req.Limits,
		CreatedAt:          o.now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "research: create job")
	}

	zap.L().Info("research: job submitted",
		zap.String("job_id", job.ID),
		zap.String("trace_id", job.TraceID),
		zap.String("property_id", prop.ID),
		zap.String("strategy", string(job.Strategy)),
		zap.Strings("groups", job.Limits.Groups),
	)
	return job, nil
}

// Plan builds the worker graph a job would run.
func (o *Orchestrator) Plan(job *model.AgenticJob) (*Graph, error) {
	return BuildGraph(o.reg.Enabled(job.Limits.Groups))
}

// Run executes a submitted job to completion. Workers already committed by
// an earlier, interrupted run are not repeated.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*model.AgenticJob, *Summary, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "research: load job")
	}
	if job.Status.Terminal() {
		return job, nil, eris.Wrapf(ErrJobFinished, "job %s is %s", job.ID, job.Status)
	}

	prop, err := o.store.GetProperty(ctx, job.ResearchPropertyID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "research: load property")
	}
	if prop == nil {
		return job, nil, &ValidationError{Field: "research_property_id", Err: eris.Errorf("property %s not found", job.ResearchPropertyID)}
	}

	g, err := o.Plan(job)
	if err != nil {
		zap.L().Error("research: job cannot be scheduled", zap.String("job_id", job.ID), zap.Error(err))
		return job, nil, err
	}

	prior, err := o.store.ListWorkerRuns(ctx, job.ID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "research: load worker runs")
	}

	sum, err := o.engine.Execute(ctx, job, g, prior)
	if err != nil {
		return job, nil, err
	}

	o.refreshProfile(ctx, prop, sum.Snapshot)
	return job, sum, nil
}

// Resume continues an interrupted job.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*model.AgenticJob, *Summary, error) {
	zap.L().Info("research: resume requested", zap.String("job_id", jobID))
	return o.Run(ctx, jobID)
}

// Research submits req and runs it.
func (o *Orchestrator) Research(ctx context.Context, req Request) (*model.AgenticJob, *Summary, error) {
	job, err := o.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return o.Run(ctx, job.ID)
}

func (o *Orchestrator) refreshProfile(ctx context.Context, prop *model.ResearchProperty, snap *Snapshot) {
	if o.profile == nil {
		return
	}
	o.profile(prop, snap)
	if err := o.store.UpdatePropertyProfile(ctx, prop); err != nil {
		zap.L().Warn("research: property profile not updated", zap.String("property_id", prop.ID), zap.Error(err))
	}
}
