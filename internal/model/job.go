package model

import (
	"time"
)

// JobStatus is the lifecycle state of an agentic research job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Strategy names an underwriting strategy.
type Strategy string

const (
	StrategyFlip   Strategy = "flip"
	StrategyRental Strategy = "rental"
	StrategyBRRRR  Strategy = "brrrr"
)

// JobLimits bounds a single job run.
type JobLimits struct {
	Groups      []string      `json:"groups,omitempty"`
	MaxWorkers  int           `json:"max_workers,omitempty"`
	MaxCostUSD  float64       `json:"max_cost_usd,omitempty"`
	MaxDuration time.Duration `json:"max_duration,omitempty"`
}

// AgenticJob is one research execution against a property.
type AgenticJob struct {
	ID                 string         `json:"id"`
	TraceID            string         `json:"trace_id"`
	ResearchPropertyID string         `json:"research_property_id"`
	Status             JobStatus      `json:"status"`
	Progress           int            `json:"progress"`
	CurrentStep        string         `json:"current_step,omitempty"`
	Strategy           Strategy       `json:"strategy"`
	Assumptions        map[string]any `json:"assumptions,omitempty"`
	Limits             JobLimits      `json:"limits"`
	Results            map[string]any `json:"results,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// WorkerRunStatus is the recorded outcome of one worker execution.
type WorkerRunStatus string

const (
	WorkerRunSucceeded WorkerRunStatus = "succeeded"
	WorkerRunFailed    WorkerRunStatus = "failed"
	WorkerRunTimedOut  WorkerRunStatus = "timed_out"
	WorkerRunSkipped   WorkerRunStatus = "skipped"
)

// Unknown records a field a worker could not determine and why.
type Unknown struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// WorkerRun is the append-only record of a worker's execution within a job.
type WorkerRun struct {
	ID         int64           `json:"id,omitempty"`
	JobID      string          `json:"job_id"`
	WorkerName string          `json:"worker_name"`
	Status     WorkerRunStatus `json:"status"`
	Wave       int             `json:"wave"`
	RuntimeMS  int64           `json:"runtime_ms"`
	CostUSD    float64         `json:"cost_usd"`
	WebCalls   int             `json:"web_calls"`
	Data       map[string]any  `json:"data"`
	Unknowns   []Unknown       `json:"unknowns"`
	Errors     []string        `json:"errors"`
	CreatedAt  time.Time       `json:"created_at"`
}
