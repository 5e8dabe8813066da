package research

import (
	"context"
	"time"

	"github.com/sells-group/property-research/internal/model"
)

// Func is a research worker body. It reads upstream outputs from in and
// reports everything through the returned Result; expected failures (missing
// upstream data, provider errors) go into Unknowns and Errors.
type Func func(ctx context.Context, job *model.AgenticJob, in *Snapshot) Result

// Result is what a worker hands back to the scheduler.
type Result struct {
	// Data is stored in the snapshot under the worker's own name.
	Data     map[string]any
	Unknowns []model.Unknown
	Errors   []string
	Evidence []EvidenceDraft
	WebCalls int
	CostUSD  float64
}

// EvidenceDraft is an unscored, unhashed finding.
type EvidenceDraft struct {
	Category   string
	Claim      string
	SourceURL  string
	RawExcerpt string
	// Confidence overrides the domain-trust score when set.
	Confidence *float64
}

// Confidence returns a pointer for EvidenceDraft.Confidence.
func Confidence(v float64) *float64 { return &v }

// EmptyResult returns a result with every collection initialised.
func EmptyResult() Result {
	return Result{
		Data:     map[string]any{},
		Unknowns: []model.Unknown{},
		Errors:   []string{},
		Evidence: []EvidenceDraft{},
	}
}

// Unknown appends an unknown field.
func (r *Result) Unknown(field, reason string) {
	r.Unknowns = append(r.Unknowns, model.Unknown{Field: field, Reason: reason})
}

// Fail appends an error message.
func (r *Result) Fail(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Failed reports whether the worker recorded any error.
func (r Result) Failed() bool { return len(r.Errors) > 0 }

func (r Result) normalize() Result {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	if r.Unknowns == nil {
		r.Unknowns = []model.Unknown{}
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Evidence == nil {
		r.Evidence = []EvidenceDraft{}
	}
	if r.WebCalls < 0 {
		r.WebCalls = 0
	}
	if r.CostUSD < 0 {
		r.CostUSD = 0
	}
	return r
}

// OutcomeKind classifies how a worker invocation ended.
type OutcomeKind int

const (
	// OutcomeSucceeded means the body returned with no errors.
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeFailed means the body returned errors in its Result.
	OutcomeFailed
	// OutcomeTimedOut means the per-worker deadline elapsed.
	OutcomeTimedOut
	// OutcomePanicked means the body panicked.
	OutcomePanicked
	// OutcomeCanceled means the job context was canceled mid-run.
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomePanicked:
		return "panicked"
	case OutcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// RunStatus maps the outcome to its persisted WorkerRun status.
func (k OutcomeKind) RunStatus() model.WorkerRunStatus {
	switch k {
	case OutcomeSucceeded:
		return model.WorkerRunSucceeded
	case OutcomeTimedOut:
		return model.WorkerRunTimedOut
	}
	return model.WorkerRunFailed
}

// Outcome is the structured result of one worker invocation. Result always
// carries the six contracted fields, even when the body never returned.
type Outcome struct {
	Worker  string
	Kind    OutcomeKind
	Result  Result
	Runtime time.Duration
}

// OK reports whether the worker succeeded.
func (o Outcome) OK() bool { return o.Kind == OutcomeSucceeded }

// FirstError returns the first recorded error message, or the outcome kind.
func (o Outcome) FirstError() string {
	if len(o.Result.Errors) > 0 {
		return o.Result.Errors[0]
	}
	return o.Kind.String()
}
