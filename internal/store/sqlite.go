package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/property-research/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers; worker commits are short.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research_properties (
	id                 TEXT PRIMARY KEY,
	stable_key         TEXT NOT NULL UNIQUE,
	raw_address        TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	city               TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	zip                TEXT NOT NULL DEFAULT '',
	apn                TEXT NOT NULL DEFAULT '',
	lat                REAL,
	lng                REAL,
	latest_profile     TEXT NOT NULL DEFAULT '{}',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agentic_jobs (
	id                   TEXT PRIMARY KEY,
	trace_id             TEXT NOT NULL UNIQUE,
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	status               TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (status IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'FAILED')),
	progress             INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
	current_step         TEXT NOT NULL DEFAULT '',
	strategy             TEXT NOT NULL,
	assumptions          TEXT NOT NULL DEFAULT '{}',
	limits               TEXT NOT NULL DEFAULT '{}',
	results              TEXT,
	error_message        TEXT NOT NULL DEFAULT '',
	started_at           DATETIME,
	completed_at         DATETIME,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agentic_jobs_status ON agentic_jobs(status);
CREATE INDEX IF NOT EXISTS idx_agentic_jobs_property ON agentic_jobs(research_property_id);

CREATE TABLE IF NOT EXISTS worker_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES agentic_jobs(id),
	worker_name TEXT NOT NULL,
	status      TEXT NOT NULL,
	wave        INTEGER NOT NULL DEFAULT 0,
	runtime_ms  INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	web_calls   INTEGER NOT NULL DEFAULT 0,
	data        TEXT NOT NULL DEFAULT '{}',
	unknowns    TEXT NOT NULL DEFAULT '[]',
	errors      TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	UNIQUE (job_id, worker_name)
);

CREATE TABLE IF NOT EXISTS evidence (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	job_id               TEXT NOT NULL REFERENCES agentic_jobs(id),
	worker_name          TEXT NOT NULL,
	category             TEXT NOT NULL,
	claim                TEXT NOT NULL,
	source_url           TEXT NOT NULL DEFAULT '',
	captured_at          DATETIME NOT NULL,
	raw_excerpt          TEXT NOT NULL DEFAULT '',
	confidence           REAL NOT NULL CHECK (confidence BETWEEN 0 AND 1),
	hash                 TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_evidence_property ON evidence(research_property_id);
CREATE INDEX IF NOT EXISTS idx_evidence_job ON evidence(job_id);

CREATE TABLE IF NOT EXISTS comps_sales (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id               TEXT NOT NULL REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	address              TEXT NOT NULL,
	distance_miles       REAL NOT NULL DEFAULT 0,
	price                REAL NOT NULL,
	beds                 REAL NOT NULL DEFAULT 0,
	baths                REAL NOT NULL DEFAULT 0,
	sqft                 INTEGER NOT NULL DEFAULT 0,
	year_built           INTEGER NOT NULL DEFAULT 0,
	sale_date            DATETIME,
	similarity_score     REAL NOT NULL DEFAULT 0,
	source_url           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS comps_rentals (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id               TEXT NOT NULL REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL REFERENCES research_properties(id),
	address              TEXT NOT NULL,
	distance_miles       REAL NOT NULL DEFAULT 0,
	monthly_rent         REAL NOT NULL,
	beds                 REAL NOT NULL DEFAULT 0,
	baths                REAL NOT NULL DEFAULT 0,
	sqft                 INTEGER NOT NULL DEFAULT 0,
	year_built           INTEGER NOT NULL DEFAULT 0,
	list_date            DATETIME,
	similarity_score     REAL NOT NULL DEFAULT 0,
	source_url           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS underwriting (
	job_id               TEXT PRIMARY KEY REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL,
	strategy             TEXT NOT NULL,
	assumptions          TEXT NOT NULL DEFAULT '{}',
	arv                  TEXT NOT NULL,
	rent                 TEXT NOT NULL,
	rehab                TEXT NOT NULL,
	offer                TEXT NOT NULL,
	fees                 TEXT NOT NULL DEFAULT '{}',
	sensitivity          TEXT NOT NULL DEFAULT '[]',
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_scores (
	job_id               TEXT PRIMARY KEY REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL,
	title_risk           REAL NOT NULL,
	data_confidence      REAL NOT NULL,
	compliance_flags     TEXT NOT NULL DEFAULT '[]',
	notes                TEXT NOT NULL DEFAULT '[]',
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dossiers (
	job_id               TEXT PRIMARY KEY REFERENCES agentic_jobs(id),
	research_property_id TEXT NOT NULL,
	markdown             TEXT NOT NULL,
	citations            TEXT NOT NULL DEFAULT '[]',
	narrator             TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS portal_cache (
	url_hash     TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	raw_html     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	captured_at  DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_portal_cache_expires_at ON portal_cache(expires_at);
`

// Ping checks connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Properties ---

func scanSQLiteProperty(row scannable) (*model.ResearchProperty, error) {
	var p model.ResearchProperty
	var lat, lng sql.NullFloat64
	var profile string
	if err := row.Scan(&p.ID, &p.StableKey, &p.RawAddress, &p.NormalizedAddress, &p.City, &p.State, &p.Zip,
		&p.APN, &lat, &lng, &profile, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Lat, p.Lng = lat.Float64, lng.Float64
	var err error
	if p.LatestProfile, err = decodeMap([]byte(profile)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProperty(ctx context.Context, p *model.ResearchProperty) (*model.ResearchProperty, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO research_properties (id, stable_key, raw_address, normalized_address, city, state, zip, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stable_key) DO UPDATE SET updated_at = excluded.updated_at
		 RETURNING `+propertyColumns,
		p.ID, p.StableKey, p.RawAddress, p.NormalizedAddress, p.City, p.State, p.Zip, now, now,
	)
	got, err := scanSQLiteProperty(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert property %s", p.StableKey)
	}
	return got, nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.ResearchProperty, error) {
	p, err := scanSQLiteProperty(s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM research_properties WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "sqlite: get property %s", id)
}

func (s *SQLiteStore) GetPropertyByKey(ctx context.Context, stableKey string) (*model.ResearchProperty, error) {
	p, err := scanSQLiteProperty(s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM research_properties WHERE stable_key = ?`, stableKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "sqlite: get property by key %s", stableKey)
}

func (s *SQLiteStore) UpdatePropertyProfile(ctx context.Context, p *model.ResearchProperty) error {
	profile, err := jsonOrEmpty(p.LatestProfile, "{}")
	if err != nil {
		return err
	}
	var lat, lng any
	if p.HasLocation() {
		lat, lng = p.Lat, p.Lng
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_properties
		 SET apn = ?, lat = COALESCE(?, lat), lng = COALESCE(?, lng), latest_profile = ?, updated_at = ?
		 WHERE id = ?`,
		p.APN, lat, lng, string(profile), time.Now().UTC(), p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update property profile %s", p.ID)
	}
	return checkRowsAffected(res, "property", p.ID)
}

// --- Jobs ---

func scanSQLiteJob(row scannable) (*model.AgenticJob, error) {
	var j model.AgenticJob
	var status, strategy, assumptions, limits string
	var results sql.NullString
	if err := row.Scan(&j.ID, &j.TraceID, &j.ResearchPropertyID, &status, &j.Progress, &j.CurrentStep, &strategy,
		&assumptions, &limits, &results, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.Strategy = model.Strategy(strategy)

	var err error
	if j.Assumptions, err = decodeMap([]byte(assumptions)); err != nil {
		return nil, err
	}
	if results.Valid {
		if j.Results, err = decodeMap([]byte(results.String)); err != nil {
			return nil, err
		}
	}
	if err := decodeInto([]byte(limits), &j.Limits); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.AgenticJob) error {
	assumptions, err := jsonOrEmpty(job.Assumptions, "{}")
	if err != nil {
		return err
	}
	limits, err := jsonOrEmpty(job.Limits, "{}")
	if err != nil {
		return err
	}

	created := job.CreatedAt.UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agentic_jobs (id, trace_id, research_property_id, status, progress, current_step, strategy, assumptions, limits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TraceID, job.ResearchPropertyID, string(job.Status), job.Progress, job.CurrentStep,
		string(job.Strategy), string(assumptions), string(limits), created, created,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.AgenticJob, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM agentic_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AgenticJob, error) {
	query := `SELECT ` + jobColumns + ` FROM agentic_jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PropertyID != "" {
		query += ` AND research_property_id = ?`
		args = append(args, filter.PropertyID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, defaultLimit(filter.Limit, 100), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.AgenticJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) StartJob(ctx context.Context, id string, at time.Time, step string) error {
	at = at.UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agentic_jobs
		 SET status = 'IN_PROGRESS', started_at = COALESCE(started_at, ?), current_step = ?, updated_at = ?
		 WHERE id = ? AND status IN ('PENDING', 'IN_PROGRESS')`,
		at, step, at, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start job %s", id)
	}
	return checkRowsAffected(res, "startable job", id)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, progress int, step string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agentic_jobs SET progress = MAX(progress, ?), current_step = ?, updated_at = ?
		 WHERE id = ? AND status = 'IN_PROGRESS'`,
		progress, step, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", id)
	}
	return checkRowsAffected(res, "in-progress job", id)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, job *model.AgenticJob) error {
	results, err := jsonOrEmpty(job.Results, "{}")
	if err != nil {
		return err
	}
	var completed any
	if job.CompletedAt != nil {
		completed = job.CompletedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE agentic_jobs
		 SET status = ?, progress = ?, current_step = '', results = ?, error_message = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ('PENDING', 'IN_PROGRESS')`,
		string(job.Status), job.Progress, string(results), job.ErrorMessage, completed, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job %s", job.ID)
	}
	return checkRowsAffected(res, "unfinished job", job.ID)
}

// --- Worker output ---

func (s *SQLiteStore) CommitWorker(ctx context.Context, c *WorkerCommit) (int, error) {
	run := c.Run
	payload, err := encodeRun(&run)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO worker_runs (job_id, worker_name, status, wave, runtime_ms, cost_usd, web_calls, data, unknowns, errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID, run.WorkerName, string(run.Status), run.Wave, run.RuntimeMS, run.CostUSD, run.WebCalls,
		string(payload.data), string(payload.unknowns), string(payload.errors), run.CreatedAt.UTC(),
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert worker run %s/%s", run.JobID, run.WorkerName)
	}

	inserted := 0
	for _, ev := range c.Evidence {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO evidence (research_property_id, job_id, worker_name, category, claim, source_url, captured_at, raw_excerpt, confidence, hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (hash) DO NOTHING`,
			ev.ResearchPropertyID, ev.JobID, ev.WorkerName, ev.Category, ev.Claim, ev.SourceURL,
			ev.CapturedAt.UTC(), ev.RawExcerpt, ev.Confidence, ev.Hash,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert evidence %s", ev.Hash)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	for _, cs := range c.CompSales {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO comps_sales (job_id, research_property_id, address, distance_miles, price, beds, baths, sqft, year_built, sale_date, similarity_score, source_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cs.JobID, cs.PropertyID, cs.Address, cs.DistanceMiles, cs.Price, cs.Beds, cs.Baths, cs.Sqft, cs.YearBuilt,
			nullableTime(cs.SaleDate), cs.SimilarityScore, cs.SourceURL,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert comp sale")
		}
	}
	for _, cr := range c.CompRentals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO comps_rentals (job_id, research_property_id, address, distance_miles, monthly_rent, beds, baths, sqft, year_built, list_date, similarity_score, source_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cr.JobID, cr.PropertyID, cr.Address, cr.DistanceMiles, cr.MonthlyRent, cr.Beds, cr.Baths, cr.Sqft, cr.YearBuilt,
			nullableTime(cr.ListDate), cr.SimilarityScore, cr.SourceURL,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert comp rental")
		}
	}

	if err := s.upsertSynthesis(ctx, tx, c); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE agentic_jobs SET progress = MAX(progress, ?), current_step = ?, updated_at = ? WHERE id = ?`,
		c.Progress, c.CurrentStep, time.Now().UTC(), run.JobID,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: update job progress %s", run.JobID)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit worker")
	}
	return inserted, nil
}

func (s *SQLiteStore) upsertSynthesis(ctx context.Context, tx *sql.Tx, c *WorkerCommit) error {
	if uw := c.Underwriting; uw != nil {
		cols, err := encodeUnderwriting(uw)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO underwriting (job_id, research_property_id, strategy, assumptions, arv, rent, rehab, offer, fees, sensitivity, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uw.JobID, uw.PropertyID, string(uw.Strategy), string(cols[0]), string(cols[1]), string(cols[2]),
			string(cols[3]), string(cols[4]), string(cols[5]), string(cols[6]), uw.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert underwriting %s", uw.JobID)
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
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO risk_scores (job_id, research_property_id, title_risk, data_confidence, compliance_flags, notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rs.JobID, rs.PropertyID, rs.TitleRisk, rs.DataConfidence, string(flags), string(notes), rs.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert risk score %s", rs.JobID)
		}
	}
	if d := c.Dossier; d != nil {
		citations, err := jsonOrEmpty(d.Citations, "[]")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO dossiers (job_id, research_property_id, markdown, citations, narrator, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			d.JobID, d.PropertyID, d.Markdown, string(citations), d.Narrator, d.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert dossier %s", d.JobID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListWorkerRuns(ctx context.Context, jobID string) ([]model.WorkerRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, worker_name, status, wave, runtime_ms, cost_usd, web_calls, data, unknowns, errors, created_at
		 FROM worker_runs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list worker runs %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.WorkerRun
	for rows.Next() {
		var r model.WorkerRun
		var status, data, unknowns, errs string
		if err := rows.Scan(&r.ID, &r.JobID, &r.WorkerName, &status, &r.Wave, &r.RuntimeMS, &r.CostUSD, &r.WebCalls,
			&data, &unknowns, &errs, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan worker run")
		}
		r.Status = model.WorkerRunStatus(status)
		if err := decodeRun(&r, []byte(data), []byte(unknowns), []byte(errs)); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list worker runs iterate")
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error) {
	query := `SELECT id, research_property_id, job_id, worker_name, category, claim, source_url, captured_at, raw_excerpt, confidence, hash
		FROM evidence WHERE 1=1`
	args := []any{}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.PropertyID != "" {
		query += ` AND research_property_id = ?`
		args = append(args, filter.PropertyID)
	}
	query += ` ORDER BY confidence DESC, id LIMIT ?`
	args = append(args, defaultLimit(filter.Limit, 500))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Evidence
	for rows.Next() {
		var e model.Evidence
		if err := rows.Scan(&e.ID, &e.ResearchPropertyID, &e.JobID, &e.WorkerName, &e.Category, &e.Claim, &e.SourceURL,
			&e.CapturedAt, &e.RawExcerpt, &e.Confidence, &e.Hash); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

func (s *SQLiteStore) ListCompSales(ctx context.Context, jobID string) ([]model.CompSale, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, research_property_id, address, distance_miles, price, beds, baths, sqft, year_built, sale_date, similarity_score, source_url
		 FROM comps_sales WHERE job_id = ? ORDER BY similarity_score DESC, id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list comp sales %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CompSale
	for rows.Next() {
		var c model.CompSale
		if err := rows.Scan(&c.ID, &c.JobID, &c.PropertyID, &c.Address, &c.DistanceMiles, &c.Price, &c.Beds, &c.Baths,
			&c.Sqft, &c.YearBuilt, &c.SaleDate, &c.SimilarityScore, &c.SourceURL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan comp sale")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list comp sales iterate")
}

func (s *SQLiteStore) ListCompRentals(ctx context.Context, jobID string) ([]model.CompRental, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, research_property_id, address, distance_miles, monthly_rent, beds, baths, sqft, year_built, list_date, similarity_score, source_url
		 FROM comps_rentals WHERE job_id = ? ORDER BY similarity_score DESC, id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list comp rentals %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CompRental
	for rows.Next() {
		var c model.CompRental
		if err := rows.Scan(&c.ID, &c.JobID, &c.PropertyID, &c.Address, &c.DistanceMiles, &c.MonthlyRent, &c.Beds, &c.Baths,
			&c.Sqft, &c.YearBuilt, &c.ListDate, &c.SimilarityScore, &c.SourceURL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan comp rental")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list comp rentals iterate")
}

func (s *SQLiteStore) GetUnderwriting(ctx context.Context, jobID string) (*model.Underwriting, error) {
	var uw model.Underwriting
	var strategy string
	var raw [7]string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, research_property_id, strategy, assumptions, arv, rent, rehab, offer, fees, sensitivity, created_at
		 FROM underwriting WHERE job_id = ?`, jobID,
	).Scan(&uw.JobID, &uw.PropertyID, &strategy, &raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &raw[6], &uw.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get underwriting %s", jobID)
	}
	uw.Strategy = model.Strategy(strategy)
	var cols [7][]byte
	for i := range raw {
		cols[i] = []byte(raw[i])
	}
	if err := decodeUnderwriting(&uw, cols); err != nil {
		return nil, err
	}
	return &uw, nil
}

func (s *SQLiteStore) GetRiskScore(ctx context.Context, jobID string) (*model.RiskScore, error) {
	var rs model.RiskScore
	var flags, notes string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, research_property_id, title_risk, data_confidence, compliance_flags, notes, created_at
		 FROM risk_scores WHERE job_id = ?`, jobID,
	).Scan(&rs.JobID, &rs.PropertyID, &rs.TitleRisk, &rs.DataConfidence, &flags, &notes, &rs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get risk score %s", jobID)
	}
	if err := decodeInto([]byte(flags), &rs.ComplianceFlags); err != nil {
		return nil, err
	}
	if err := decodeInto([]byte(notes), &rs.Notes); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *SQLiteStore) GetDossier(ctx context.Context, jobID string) (*model.Dossier, error) {
	var d model.Dossier
	var citations string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, research_property_id, markdown, citations, narrator, created_at FROM dossiers WHERE job_id = ?`, jobID,
	).Scan(&d.JobID, &d.PropertyID, &d.Markdown, &citations, &d.Narrator, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dossier %s", jobID)
	}
	if err := decodeInto([]byte(citations), &d.Citations); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Portal cache ---

func (s *SQLiteStore) GetPortalPage(ctx context.Context, urlHash string, now time.Time) (*model.PortalCacheEntry, error) {
	var e model.PortalCacheEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT url_hash, source_url, raw_html, content_type, captured_at, expires_at
		 FROM portal_cache WHERE url_hash = ?`, urlHash,
	).Scan(&e.URLHash, &e.SourceURL, &e.RawHTML, &e.ContentType, &e.CapturedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get portal page")
	}
	if e.Expired(now) {
		return nil, nil
	}
	return &e, nil
}

func (s *SQLiteStore) PutPortalPage(ctx context.Context, e *model.PortalCacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_cache (url_hash, source_url, raw_html, content_type, captured_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url_hash) DO UPDATE SET source_url = excluded.source_url, raw_html = excluded.raw_html,
		   content_type = excluded.content_type, captured_at = excluded.captured_at, expires_at = excluded.expires_at`,
		e.URLHash, e.SourceURL, e.RawHTML, e.ContentType, e.CapturedAt.UTC(), e.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put portal page")
}

// DeleteExpiredPortalPages removes entries expired at now. Expiry is
// evaluated in Go so it does not depend on the stored time encoding.
func (s *SQLiteStore) DeleteExpiredPortalPages(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url_hash, expires_at FROM portal_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: scan portal cache")
	}
	var expired []string
	for rows.Next() {
		var hash string
		var expiresAt time.Time
		if err := rows.Scan(&hash, &expiresAt); err != nil {
			rows.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "sqlite: scan portal cache row")
		}
		if !now.Before(expiresAt) {
			expired = append(expired, hash)
		}
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: portal cache iterate")
	}

	deleted := 0
	for _, hash := range expired {
		res, err := s.db.ExecContext(ctx, `DELETE FROM portal_cache WHERE url_hash = ?`, hash)
		if err != nil {
			return deleted, eris.Wrapf(err, "sqlite: delete portal page %s", hash)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	return deleted, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
