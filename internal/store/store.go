package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status     model.JobStatus `json:"status,omitempty"`
	PropertyID string          `json:"research_property_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// EvidenceFilter specifies criteria for listing evidence. At least one of
// JobID or PropertyID should be set.
type EvidenceFilter struct {
	JobID      string `json:"job_id,omitempty"`
	PropertyID string `json:"research_property_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// WorkerCommit is everything a finished worker persists. It is written in
// a single transaction together with the job's progress.
type WorkerCommit struct {
	Run          model.WorkerRun
	Evidence     []model.Evidence
	CompSales    []model.CompSale
	CompRentals  []model.CompRental
	Underwriting *model.Underwriting
	RiskScore    *model.RiskScore
	Dossier      *model.Dossier
	Progress     int
	CurrentStep  string
}

// Store defines the persistence interface for property research.
type Store interface {
	// Properties
	UpsertProperty(ctx context.Context, p *model.ResearchProperty) (*model.ResearchProperty, error)
	GetProperty(ctx context.Context, id string) (*model.ResearchProperty, error)
	GetPropertyByKey(ctx context.Context, stableKey string) (*model.ResearchProperty, error)
	UpdatePropertyProfile(ctx context.Context, p *model.ResearchProperty) error

	// Jobs
	CreateJob(ctx context.Context, job *model.AgenticJob) error
	GetJob(ctx context.Context, id string) (*model.AgenticJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.AgenticJob, error)
	StartJob(ctx context.Context, id string, at time.Time, step string) error
	UpdateJobProgress(ctx context.Context, id string, progress int, step string) error
	FinishJob(ctx context.Context, job *model.AgenticJob) error

	// Worker output
	CommitWorker(ctx context.Context, c *WorkerCommit) (int, error)
	ListWorkerRuns(ctx context.Context, jobID string) ([]model.WorkerRun, error)
	ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error)
	ListCompSales(ctx context.Context, jobID string) ([]model.CompSale, error)
	ListCompRentals(ctx context.Context, jobID string) ([]model.CompRental, error)
	GetUnderwriting(ctx context.Context, jobID string) (*model.Underwriting, error)
	GetRiskScore(ctx context.Context, jobID string) (*model.RiskScore, error)
	GetDossier(ctx context.Context, jobID string) (*model.Dossier, error)

	// Portal cache
	GetPortalPage(ctx context.Context, urlHash string, now time.Time) (*model.PortalCacheEntry, error)
	PutPortalPage(ctx context.Context, e *model.PortalCacheEntry) error
	DeleteExpiredPortalPages(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func defaultLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
