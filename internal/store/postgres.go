package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/db"
	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/property"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS research_properties (
	id                 TEXT PRIMARY KEY,
	stable_key         TEXT NOT NULL UNIQUE,
	raw_address        TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	city               TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	zip                TEXT NOT NULL DEFAULT '',
	apn                TEXT NOT NULL DEFAULT '',
	lat                DOUBLE PRECISION,
	lng                DOUBLE PRECISION,
	geom               geometry(Point, 4326),
	latest_profile     JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_properties_geom ON research_properties USING GIST (geom);

CREATE TABLE IF NOT EXISTS agentic_jobs (
	id                   TEXT PRIMARY KEY,
	trace_id             TEXT NOT NULL UNIQUE,
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	status               TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (status IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'FAILED')),
	progress             INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
	current_step         TEXT NOT NULL DEFAULT '',
	strategy             TEXT NOT NULL,
	assumptions          JSONB NOT NULL DEFAULT '{}'::jsonb,
	limits               JSONB NOT NULL DEFAULT '{}'::jsonb,
	results              JSONB,
	error_message        TEXT NOT NULL DEFAULT '',
	started_at           TIMESTAMPTZ,
	completed_at         TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agentic_jobs_status ON agentic_jobs(status);
CREATE INDEX IF NOT EXISTS idx_agentic_jobs_property ON agentic_jobs(research_property_id);

CREATE TABLE IF NOT EXISTS worker_runs (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES agentic_jobs(id),
	worker_name TEXT NOT NULL,
	status      TEXT NOT NULL,
	wave        INTEGER NOT NULL DEFAULT 0,
	runtime_ms  BIGINT NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	web_calls   INTEGER NOT NULL DEFAULT 0,
	data        JSONB NOT NULL DEFAULT '{}'::jsonb,
	unknowns    JSONB NOT NULL DEFAULT '[]'::jsonb,
	errors      JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (job_id, worker_name)
);

CREATE TABLE IF NOT EXISTS evidence (
	id                   BIGSERIAL PRIMARY KEY,
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	job_id               TEXT NOT NULL REFERENCES agentic_jobs(id),
	worker_name          TEXT NOT NULL,
	category             TEXT NOT NULL,
	claim                TEXT NOT NULL,
	source_url           TEXT NOT NULL DEFAULT '',
	captured_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_excerpt          TEXT NOT NULL DEFAULT '',
	confidence           DOUBLE PRECISION NOT NULL CHECK (confidence BETWEEN 0 AND 1),
	hash                 TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_evidence_property ON evidence(research_property_id);
CREATE INDEX IF NOT EXISTS idx_evidence_job ON evidence(job_id);

CREATE TABLE IF NOT EXISTS comps_sales (
	id                   BIGSERIAL PRIMARY KEY,
	job_id               TEXT NOT NULL REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	address              TEXT NOT NULL,
	distance_miles       DOUBLE PRECISION NOT NULL DEFAULT 0,
	price                DOUBLE PRECISION NOT NULL,
	beds                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	baths                DOUBLE PRECISION NOT NULL DEFAULT 0,
	sqft                 INTEGER NOT NULL DEFAULT 0,
	year_built           INTEGER NOT NULL DEFAULT 0,
	sale_date            TIMESTAMPTZ,
	similarity_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_url           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_comps_sales_job ON comps_sales(job_id);

CREATE TABLE IF NOT EXISTS comps_rentals (
	id                   BIGSERIAL PRIMARY KEY,
	job_id               TEXT NOT NULL REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	address              TEXT NOT NULL,
	distance_miles       DOUBLE PRECISION NOT NULL DEFAULT 0,
	monthly_rent         DOUBLE PRECISION NOT NULL,
	beds                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	baths                DOUBLE PRECISION NOT NULL DEFAULT 0,
	sqft                 INTEGER NOT NULL DEFAULT 0,
	year_built           INTEGER NOT NULL DEFAULT 0,
	list_date            TIMESTAMPTZ,
	similarity_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_url           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_comps_rentals_job ON comps_rentals(job_id);

CREATE TABLE IF NOT EXISTS underwriting (
	job_id               TEXT PRIMARY KEY REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	strategy             TEXT NOT NULL,
	assumptions          JSONB NOT NULL DEFAULT '{}'::jsonb,
	arv                  JSONB NOT NULL,
	rent                 JSONB NOT NULL,
	rehab                JSONB NOT NULL,
	offer                JSONB NOT NULL,
	fees                 JSONB NOT NULL DEFAULT '{}'::jsonb,
	sensitivity          JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS risk_scores (
	job_id               TEXT PRIMARY KEY REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	title_risk           DOUBLE PRECISION NOT NULL,
	data_confidence      DOUBLE PRECISION NOT NULL,
	compliance_flags     JSONB NOT NULL DEFAULT '[]'::jsonb,
	notes                JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dossiers (
	job_id               TEXT PRIMARY KEY REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	markdown             TEXT NOT NULL,
	citations            JSONB NOT NULL DEFAULT '[]'::jsonb,
	narrator             TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS portal_cache (
	url_hash     TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	raw_html     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	captured_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_portal_cache_expires_at ON portal_cache(expires_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Properties ---

const propertyColumns = `id, stable_key, raw_address, normalized_address, city, state, zip, apn, lat, lng, latest_profile, created_at, updated_at`

func scanPgProperty(row pgx.Row) (*model.ResearchProperty, error) {
	var p model.ResearchProperty
	var lat, lng *float64
	var profile []byte
	if err := row.Scan(&p.ID, &p.StableKey, &p.RawAddress, &p.NormalizedAddress, &p.City, &p.State, &p.Zip,
		&p.APN, &lat, &lng, &profile, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Lat, p.Lng = *lat, *lng
	}
	var err error
	if p.LatestProfile, err = decodeMap(profile); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *model.ResearchProperty) (*model.ResearchProperty, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO research_properties (id, stable_key, raw_address, normalized_address, city, state, zip, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (stable_key) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING `+propertyColumns,
		p.ID, p.StableKey, p.RawAddress, p.NormalizedAddress, p.City, p.State, p.Zip, now,
	)
	got, err := scanPgProperty(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert property %s", p.StableKey)
	}
	return got, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.ResearchProperty, error) {
	p, err := scanPgProperty(s.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM research_properties WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "postgres: get property %s", id)
}

func (s *PostgresStore) GetPropertyByKey(ctx context.Context, stableKey string) (*model.ResearchProperty, error) {
	p, err := scanPgProperty(s.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM research_properties WHERE stable_key = $1`, stableKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "postgres: get property by key %s", stableKey)
}

func (s *PostgresStore) UpdatePropertyProfile(ctx context.Context, p *model.ResearchProperty) error {
	profile, err := jsonOrEmpty(p.LatestProfile, "{}")
	if err != nil {
		return err
	}
	var lat, lng *float64
	var point []byte
	if p.HasLocation() {
		lat, lng = &p.Lat, &p.Lng
		if point, err = property.EncodePoint(p.Lat, p.Lng); err != nil {
			return err
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE research_properties
		 SET apn = $1, lat = COALESCE($2, lat), lng = COALESCE($3, lng),
		     geom = COALESCE(ST_GeomFromEWKB($4), geom), latest_profile = $5, updated_at = $6
		 WHERE id = $7`,
		p.APN, lat, lng, point, profile, time.Now().UTC(), p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update property profile %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "property %s", p.ID)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, trace_id, research_property_id, status, progress, current_step, strategy, assumptions, limits, results, error_message, started_at, completed_at, created_at, updated_at`

func scanPgJob(row pgx.Row) (*model.AgenticJob, error) {
	var j model.AgenticJob
	var status, strategy string
	var assumptions, limits, results []byte
	if err := row.Scan(&j.ID, &j.TraceID, &j.ResearchPropertyID, &status, &j.Progress, &j.CurrentStep, &strategy,
		&assumptions, &limits, &results, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.Strategy = model.Strategy(strategy)

	var err error
	if j.Assumptions, err = decodeMap(assumptions); err != nil {
		return nil, err
	}
	if j.Results, err = decodeMap(results); err != nil {
		return nil, err
	}
	if err := decodeInto(limits, &j.Limits); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.AgenticJob) error {
	assumptions, err := jsonOrEmpty(job.Assumptions, "{}")
	if err != nil {
		return err
	}
	limits, err := jsonOrEmpty(job.Limits, "{}")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agentic_jobs (id, trace_id, research_property_id, status, progress, current_step, strategy, assumptions, limits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		job.ID, job.TraceID, job.ResearchPropertyID, string(job.Status), job.Progress, job.CurrentStep,
		string(job.Strategy), assumptions, limits, job.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.AgenticJob, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM agentic_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AgenticJob, error) {
	query := `SELECT ` + jobColumns + ` FROM agentic_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.PropertyID != "" {
		query += fmt.Sprintf(` AND research_property_id = $%d`, argIdx)
		args = append(args, filter.PropertyID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit, 100))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.AgenticJob
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) StartJob(ctx context.Context, id string, at time.Time, step string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agentic_jobs
		 SET status = 'IN_PROGRESS', started_at = COALESCE(started_at, $1), current_step = $2, updated_at = $1
		 WHERE id = $3 AND status IN ('PENDING', 'IN_PROGRESS')`,
		at, step, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is not startable", id)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, progress int, step string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agentic_jobs SET progress = GREATEST(progress, $1), current_step = $2, updated_at = $3
		 WHERE id = $4 AND status = 'IN_PROGRESS'`,
		progress, step, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is not in progress", id)
	}
	return nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, job *model.AgenticJob) error {
	results, err := jsonOrEmpty(job.Results, "{}")
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE agentic_jobs
		 SET status = $1, progress = $2, current_step = '', results = $3, error_message = $4,
		     completed_at = $5, updated_at = $5
		 WHERE id = $6 AND status IN ('PENDING', 'IN_PROGRESS')`,
		string(job.Status), job.Progress, results, job.ErrorMessage, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s already finished", job.ID)
	}
	return nil
}

// --- Worker output ---

var (
	compSaleColumns   = []string{"job_id", "research_property_id", "address", "distance_miles", "price", "beds", "baths", "sqft", "year_built", "sale_date", "similarity_score", "source_url"}
	compRentalColumns = []string{"job_id", "research_property_id", "address", "distance_miles", "monthly_rent", "beds", "baths", "sqft", "year_built", "list_date", "similarity_score", "source_url"}
)

func (s *PostgresStore) CommitWorker(ctx context.Context, c *WorkerCommit) (int, error) {
	run := c.Run
	payload, err := encodeRun(&run)
	if err != nil {
		return 0, err
	}

	inserted := 0
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO worker_runs (job_id, worker_name, status, wave, runtime_ms, cost_usd, web_calls, data, unknowns, errors, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.JobID, run.WorkerName, string(run.Status), run.Wave, run.RuntimeMS, run.CostUSD, run.WebCalls,
			payload.data, payload.unknowns, payload.errors, run.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert worker run %s/%s", run.JobID, run.WorkerName)
		}

		for _, ev := range c.Evidence {
			tag, err := tx.Exec(ctx,
				`INSERT INTO evidence (research_property_id, job_id, worker_name, category, claim, source_url, captured_at, raw_excerpt, confidence, hash)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				 ON CONFLICT (hash) DO NOTHING`,
				ev.ResearchPropertyID, ev.JobID, ev.WorkerName, ev.Category, ev.Claim, ev.SourceURL,
				ev.CapturedAt, ev.RawExcerpt, ev.Confidence, ev.Hash,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: insert evidence %s", ev.Hash)
			}
			inserted += int(tag.RowsAffected())
		}

		if err := s.copyComps(ctx, tx, c); err != nil {
			return err
		}
		if err := s.upsertSynthesis(ctx, tx, c); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE agentic_jobs SET progress = GREATEST(progress, $1), current_step = $2, updated_at = $3 WHERE id = $4`,
			c.Progress, c.CurrentStep, time.Now().UTC(), run.JobID,
		); err != nil {
			return eris.Wrapf(err, "postgres: update job progress %s", run.JobID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *PostgresStore) copyComps(ctx context.Context, tx pgx.Tx, c *WorkerCommit) error {
	if len(c.CompSales) > 0 {
		rows := make([][]any, 0, len(c.CompSales))
		for _, cs := range c.CompSales {
			rows = append(rows, []any{cs.JobID, cs.PropertyID, cs.Address, cs.DistanceMiles, cs.Price, cs.Beds, cs.Baths,
				cs.Sqft, cs.YearBuilt, cs.SaleDate, cs.SimilarityScore, cs.SourceURL})
		}
		if _, err := db.CopyFrom(ctx, tx, "comps_sales", compSaleColumns, rows); err != nil {
			return err
		}
	}
	if len(c.CompRentals) > 0 {
		rows := make([][]any, 0, len(c.CompRentals))
		for _, cr := range c.CompRentals {
			rows = append(rows, []any{cr.JobID, cr.PropertyID, cr.Address, cr.DistanceMiles, cr.MonthlyRent, cr.Beds, cr.Baths,
				cr.Sqft, cr.YearBuilt, cr.ListDate, cr.SimilarityScore, cr.SourceURL})
		}
		if _, err := db.CopyFrom(ctx, tx, "comps_rentals", compRentalColumns, rows); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) upsertSynthesis(ctx context.Context, tx pgx.Tx, c *WorkerCommit) error {
	if uw := c.Underwriting; uw != nil {
		cols, err := encodeUnderwriting(uw)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO underwriting (job_id, research_property_id, strategy, assumptions, arv, rent, rehab, offer, fees, sensitivity, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (job_id) DO UPDATE SET strategy = EXCLUDED.strategy, assumptions = EXCLUDED.assumptions,
			   arv = EXCLUDED.arv, rent = EXCLUDED.rent, rehab = EXCLUDED.rehab, offer = EXCLUDED.offer,
			   fees = EXCLUDED.fees, sensitivity = EXCLUDED.sensitivity`,
			uw.JobID, uw.PropertyID, string(uw.Strategy), cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6], uw.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert underwriting %s", uw.JobID)
		}
	}
	if rs := c.RiskScore; rs != nil {
		flags, err := jsonOrEmpty(rs.ComplianceFlags, "[]")
		if err != nil {
			return err
		}
		notes, err := jsonOrEmpty(rs.Notes, "[]")
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO risk_scores (job_id, research_property_id, title_risk, data_confidence, compliance_flags, notes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (job_id) DO UPDATE SET title_risk = EXCLUDED.title_risk, data_confidence = EXCLUDED.data_confidence,
			   compliance_flags = EXCLUDED.compliance_flags, notes = EXCLUDED.notes`,
			rs.JobID, rs.PropertyID, rs.TitleRisk, rs.DataConfidence, flags, notes, rs.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert risk score %s", rs.JobID)
		}
	}
	if d := c.Dossier; d != nil {
		citations, err := jsonOrEmpty(d.Citations, "[]")
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO dossiers (job_id, research_property_id, markdown, citations, narrator, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (job_id) DO UPDATE SET markdown = EXCLUDED.markdown, citations = EXCLUDED.citations, narrator = EXCLUDED.narrator`,
			d.JobID, d.PropertyID, d.Markdown, citations, d.Narrator, d.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert dossier %s", d.JobID)
		}
	}
	return nil
}

func (s *PostgresStore) ListWorkerRuns(ctx context.Context, jobID string) ([]model.WorkerRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, worker_name, status, wave, runtime_ms, cost_usd, web_calls, data, unknowns, errors, created_at
		 FROM worker_runs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list worker runs %s", jobID)
	}
	defer rows.Close()

	var runs []model.WorkerRun
	for rows.Next() {
		var r model.WorkerRun
		var status string
		var data, unknowns, errs []byte
		if err := rows.Scan(&r.ID, &r.JobID, &r.WorkerName, &status, &r.Wave, &r.RuntimeMS, &r.CostUSD, &r.WebCalls,
			&data, &unknowns, &errs, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan worker run")
		}
		r.Status = model.WorkerRunStatus(status)
		if err := decodeRun(&r, data, unknowns, errs); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list worker runs iterate")
}

func (s *PostgresStore) ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error) {
	query := `SELECT id, research_property_id, job_id, worker_name, category, claim, source_url, captured_at, raw_excerpt, confidence, hash
		FROM evidence WHERE true`
	args := []any{}
	argIdx := 1
	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.PropertyID != "" {
		query += fmt.Sprintf(` AND research_property_id = $%d`, argIdx)
		args = append(args, filter.PropertyID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY confidence DESC, id LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit, 500))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var e model.Evidence
		if err := rows.Scan(&e.ID, &e.ResearchPropertyID, &e.JobID, &e.WorkerName, &e.Category, &e.Claim, &e.SourceURL,
			&e.CapturedAt, &e.RawExcerpt, &e.Confidence, &e.Hash); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

func (s *PostgresStore) ListCompSales(ctx context.Context, jobID string) ([]model.CompSale, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, research_property_id, address, distance_miles, price, beds, baths, sqft, year_built, sale_date, similarity_score, source_url
		 FROM comps_sales WHERE job_id = $1 ORDER BY similarity_score DESC, id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list comp sales %s", jobID)
	}
	defer rows.Close()

	var out []model.CompSale
	for rows.Next() {
		var c model.CompSale
		if err := rows.Scan(&c.ID, &c.JobID, &c.PropertyID, &c.Address, &c.DistanceMiles, &c.Price, &c.Beds, &c.Baths,
			&c.Sqft, &c.YearBuilt, &c.SaleDate, &c.SimilarityScore, &c.SourceURL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan comp sale")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list comp sales iterate")
}

func (s *PostgresStore) ListCompRentals(ctx context.Context, jobID string) ([]model.CompRental, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, research_property_id, address, distance_miles, monthly_rent, beds, baths, sqft, year_built, list_date, similarity_score, source_url
		 FROM comps_rentals WHERE job_id = $1 ORDER BY similarity_score DESC, id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list comp rentals %s", jobID)
	}
	defer rows.Close()

	var out []model.CompRental
	for rows.Next() {
		var c model.CompRental
		if err := rows.Scan(&c.ID, &c.JobID, &c.PropertyID, &c.Address, &c.DistanceMiles, &c.MonthlyRent, &c.Beds, &c.Baths,
			&c.Sqft, &c.YearBuilt, &c.ListDate, &c.SimilarityScore, &c.SourceURL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan comp rental")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list comp rentals iterate")
}

func (s *PostgresStore) GetUnderwriting(ctx context.Context, jobID string) (*model.Underwriting, error) {
	var uw model.Underwriting
	var strategy string
	var cols [7][]byte
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, research_property_id, strategy, assumptions, arv, rent, rehab, offer, fees, sensitivity, created_at
		 FROM underwriting WHERE job_id = $1`, jobID,
	).Scan(&uw.JobID, &uw.PropertyID, &strategy, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &uw.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get underwriting %s", jobID)
	}
	uw.Strategy = model.Strategy(strategy)
	if err := decodeUnderwriting(&uw, cols); err != nil {
		return nil, err
	}
	return &uw, nil
}

func (s *PostgresStore) GetRiskScore(ctx context.Context, jobID string) (*model.RiskScore, error) {
	var rs model.RiskScore
	var flags, notes []byte
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, research_property_id, title_risk, data_confidence, compliance_flags, notes, created_at
		 FROM risk_scores WHERE job_id = $1`, jobID,
	).Scan(&rs.JobID, &rs.PropertyID, &rs.TitleRisk, &rs.DataConfidence, &flags, &notes, &rs.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get risk score %s", jobID)
	}
	if err := decodeInto(flags, &rs.ComplianceFlags); err != nil {
		return nil, err
	}
	if err := decodeInto(notes, &rs.Notes); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *PostgresStore) GetDossier(ctx context.Context, jobID string) (*model.Dossier, error) {
	var d model.Dossier
	var citations []byte
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, research_property_id, markdown, citations, narrator, created_at FROM dossiers WHERE job_id = $1`, jobID,
	).Scan(&d.JobID, &d.PropertyID, &d.Markdown, &citations, &d.Narrator, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dossier %s", jobID)
	}
	if err := decodeInto(citations, &d.Citations); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Portal cache ---

func (s *PostgresStore) GetPortalPage(ctx context.Context, urlHash string, now time.Time) (*model.PortalCacheEntry, error) {
	var e model.PortalCacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT url_hash, source_url, raw_html, content_type, captured_at, expires_at
		 FROM portal_cache WHERE url_hash = $1 AND expires_at > $2`,
		urlHash, now,
	).Scan(&e.URLHash, &e.SourceURL, &e.RawHTML, &e.ContentType, &e.CapturedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get portal page")
	}
	return &e, nil
}

func (s *PostgresStore) PutPortalPage(ctx context.Context, e *model.PortalCacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portal_cache (url_hash, source_url, raw_html, content_type, captured_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url_hash) DO UPDATE SET source_url = $2, raw_html = $3, content_type = $4, captured_at = $5, expires_at = $6`,
		e.URLHash, e.SourceURL, e.RawHTML, e.ContentType, e.CapturedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: put portal page")
}

func (s *PostgresStore) DeleteExpiredPortalPages(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM portal_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired portal pages")
	}
	return int(tag.RowsAffected()), nil
}
