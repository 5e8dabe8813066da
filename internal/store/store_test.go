package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedProperty(t *testing.T, s Store, key string) *model.ResearchProperty {
	t.Helper()
	p, err := s.UpsertProperty(context.Background(), &model.ResearchProperty{
		ID:                "prop-" + key,
		StableKey:         key,
		RawAddress:        "123 main st springfield il",
		NormalizedAddress: "123 Main St, Springfield, IL",
		City:              "Springfield",
		State:             "IL",
	})
	require.NoError(t, err)
	return p
}

func seedJob(t *testing.T, s Store, propertyID, id string) *model.AgenticJob {
	t.Helper()
	job := &model.AgenticJob{
		ID:                 id,
		TraceID:            "trace-" + id,
		ResearchPropertyID: propertyID,
		Status:             model.JobStatusPending,
		Strategy:           model.StrategyFlip,
		Assumptions:        map[string]any{"holding_months": 6.0},
		Limits:             model.JobLimits{Groups: []string{"extensive"}, MaxCostUSD: 1.5},
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func evidenceRow(jobID, propertyID, hash string, conf float64) model.Evidence {
	return model.Evidence{
		ResearchPropertyID: propertyID,
		JobID:              jobID,
		WorkerName:         "flood_zone",
		Category:           "flood",
		Claim:              "claim " + hash,
		SourceURL:          "https://msc.fema.gov",
		CapturedAt:         time.Now().UTC(),
		Confidence:         conf,
		Hash:               hash,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertPropertyConverges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := seedProperty(t, s, "key-1")
		second, err := s.UpsertProperty(ctx, &model.ResearchProperty{
			ID:                "another-id",
			StableKey:         "key-1",
			RawAddress:        "123 Main Street, Springfield IL",
			NormalizedAddress: "123 Main St, Springfield, IL",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		got, err := s.GetPropertyByKey(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first.ID, got.ID)

		missing, err := s.GetPropertyByKey(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("UpdatePropertyProfile", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")

		p.APN = "14-22-100-001"
		p.Lat, p.Lng = 39.7817, -89.6501
		p.LatestProfile = map[string]any{"flood_zone": "X"}
		require.NoError(t, s.UpdatePropertyProfile(ctx, p))

		got, err := s.GetProperty(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "14-22-100-001", got.APN)
		assert.InDelta(t, 39.7817, got.Lat, 1e-9)
		assert.Equal(t, "X", got.LatestProfile["flood_zone"])

		err = s.UpdatePropertyProfile(ctx, &model.ResearchProperty{ID: "missing"})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("JobLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")
		job := seedJob(t, s, p.ID, "job-1")

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.Equal(t, []string{"extensive"}, got.Limits.Groups)
		assert.Nil(t, got.StartedAt)

		require.NoError(t, s.StartJob(ctx, job.ID, time.Now(), "geocode"))
		require.NoError(t, s.UpdateJobProgress(ctx, job.ID, 40, "flood_zone"))
		require.NoError(t, s.UpdateJobProgress(ctx, job.ID, 10, "web_search"))

		got, err = s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusInProgress, got.Status)
		assert.Equal(t, 40, got.Progress, "progress never decreases")
		assert.Equal(t, "web_search", got.CurrentStep)
		assert.NotNil(t, got.StartedAt)

		done := time.Now().UTC()
		got.Status = model.JobStatusCompleted
		got.Progress = 100
		got.Results = map[string]any{"evidence_count": 3.0}
		got.CompletedAt = &done
		require.NoError(t, s.FinishJob(ctx, got))

		final, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, final.Status)
		assert.Equal(t, 100, final.Progress)
		assert.Empty(t, final.CurrentStep)
		assert.Equal(t, 3.0, final.Results["evidence_count"])
		require.NotNil(t, final.CompletedAt)

		// Terminal jobs accept no further transitions.
		require.Error(t, s.StartJob(ctx, job.ID, time.Now(), "geocode"))
		require.Error(t, s.FinishJob(ctx, final))
		require.Error(t, s.UpdateJobProgress(ctx, job.ID, 50, ""))
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")
		for i := range 3 {
			seedJob(t, s, p.ID, fmt.Sprintf("job-%d", i))
		}
		require.NoError(t, s.StartJob(ctx, "job-1", time.Now(), ""))

		all, err := s.ListJobs(ctx, JobFilter{PropertyID: p.ID})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		pending, err := s.ListJobs(ctx, JobFilter{Status: model.JobStatusPending})
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		limited, err := s.ListJobs(ctx, JobFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("CommitWorker", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")
		job := seedJob(t, s, p.ID, "job-1")
		require.NoError(t, s.StartJob(ctx, job.ID, time.Now(), ""))

		saleDate := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		n, err := s.CommitWorker(ctx, &WorkerCommit{
			Run: model.WorkerRun{
				JobID:      job.ID,
				WorkerName: "comps_sales",
				Status:     model.WorkerRunSucceeded,
				Wave:       1,
				RuntimeMS:  120,
				CostUSD:    0.05,
				WebCalls:   1,
				Data:       map[string]any{"count": 2.0},
				Unknowns:   []model.Unknown{{Field: "hoa", Reason: "not reported"}},
				CreatedAt:  time.Now().UTC(),
			},
			Evidence: []model.Evidence{
				evidenceRow(job.ID, p.ID, "h1", 0.8),
				evidenceRow(job.ID, p.ID, "h2", 0.9),
			},
			CompSales: []model.CompSale{
				{JobID: job.ID, PropertyID: p.ID, Address: "1 Oak St", Price: 200000, Sqft: 1000, SaleDate: &saleDate, SimilarityScore: 0.9},
				{JobID: job.ID, PropertyID: p.ID, Address: "2 Oak St", Price: 210000, Sqft: 1100, SimilarityScore: 0.7},
			},
			Progress:    25,
			CurrentStep: "comps_rentals",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		runs, err := s.ListWorkerRuns(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, model.WorkerRunSucceeded, runs[0].Status)
		assert.Equal(t, 2.0, runs[0].Data["count"])
		assert.Equal(t, "hoa", runs[0].Unknowns[0].Field)
		assert.Empty(t, runs[0].Errors)

		ev, err := s.ListEvidence(ctx, EvidenceFilter{JobID: job.ID})
		require.NoError(t, err)
		require.Len(t, ev, 2)
		assert.Equal(t, "h2", ev[0].Hash, "highest confidence first")

		comps, err := s.ListCompSales(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, comps, 2)
		assert.Equal(t, "1 Oak St", comps[0].Address)
		require.NotNil(t, comps[0].SaleDate)
		assert.True(t, saleDate.Equal(*comps[0].SaleDate))
		assert.Nil(t, comps[1].SaleDate)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 25, got.Progress)
		assert.Equal(t, "comps_rentals", got.CurrentStep)
	})

	t.Run("DuplicateEvidenceIsNoOp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")
		job := seedJob(t, s, p.ID, "job-1")

		commit := func(worker string, hashes ...string) int {
			c := &WorkerCommit{Run: model.WorkerRun{JobID: job.ID, WorkerName: worker, Status: model.WorkerRunSucceeded, CreatedAt: time.Now().UTC()}}
			for _, h := range hashes {
				c.Evidence = append(c.Evidence, evidenceRow(job.ID, p.ID, h, 0.5))
			}
			n, err := s.CommitWorker(ctx, c)
			require.NoError(t, err)
			return n
		}

		assert.Equal(t, 2, commit("a", "h1", "h2"))
		assert.Equal(t, 1, commit("b", "h2", "h3"))

		ev, err := s.ListEvidence(ctx, EvidenceFilter{PropertyID: p.ID})
		require.NoError(t, err)
		assert.Len(t, ev, 3)
	})

	t.Run("WorkerRunUniquePerJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")
		job := seedJob(t, s, p.ID, "job-1")

		run := model.WorkerRun{JobID: job.ID, WorkerName: "geocode", Status: model.WorkerRunSucceeded, CreatedAt: time.Now().UTC()}
		_, err := s.CommitWorker(ctx, &WorkerCommit{Run: run, Evidence: []model.Evidence{evidenceRow(job.ID, p.ID, "h1", 0.9)}})
		require.NoError(t, err)

		_, err = s.CommitWorker(ctx, &WorkerCommit{Run: run, Evidence: []model.Evidence{evidenceRow(job.ID, p.ID, "h9", 0.9)}})
		require.Error(t, err)

		// The failed commit rolled back its evidence.
		ev, err := s.ListEvidence(ctx, EvidenceFilter{JobID: job.ID})
		require.NoError(t, err)
		assert.Len(t, ev, 1)
	})

	t.Run("SynthesisArtifacts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := seedProperty(t, s, "key-1")
		job := seedJob(t, s, p.ID, "job-1")
		now := time.Now().UTC()

		_, err := s.CommitWorker(ctx, &WorkerCommit{
			Run: model.WorkerRun{JobID: job.ID, WorkerName: "underwriting", Status: model.WorkerRunSucceeded, CreatedAt: now},
			Underwriting: &model.Underwriting{
				JobID: job.ID, PropertyID: p.ID, Strategy: model.StrategyFlip,
				ARV:         model.Band{Low: 190000, Base: 205000, High: 220000},
				Offer:       model.Band{Low: 100000, Base: 110000, High: 120000},
				Fees:        map[string]float64{"closing": 4000},
				Sensitivity: []model.SensitivityRow{{ARVDeltaPct: -10, MaxOffer: 95000}},
				CreatedAt:   now,
			},
		})
		require.NoError(t, err)
		_, err = s.CommitWorker(ctx, &WorkerCommit{
			Run:       model.WorkerRun{JobID: job.ID, WorkerName: "risk", Status: model.WorkerRunSucceeded, CreatedAt: now},
			RiskScore: &model.RiskScore{JobID: job.ID, PropertyID: p.ID, TitleRisk: 0.2, DataConfidence: 0.8, ComplianceFlags: []string{"flood_zone_ae"}, CreatedAt: now},
		})
		require.NoError(t, err)
		_, err = s.CommitWorker(ctx, &WorkerCommit{
			Run: model.WorkerRun{JobID: job.ID, WorkerName: "dossier", Status: model.WorkerRunSucceeded, CreatedAt: now},
			Dossier: &model.Dossier{JobID: job.ID, PropertyID: p.ID, Markdown: "# Dossier", Narrator: "template",
				Citations: []model.Citation{{Hash: "h1", Claim: "c"}}, CreatedAt: now},
		})
		require.NoError(t, err)

		uw, err := s.GetUnderwriting(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, uw)
		assert.Equal(t, 205000.0, uw.ARV.Base)
		assert.Equal(t, 4000.0, uw.Fees["closing"])
		require.Len(t, uw.Sensitivity, 1)

		rs, err := s.GetRiskScore(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"flood_zone_ae"}, rs.ComplianceFlags)

		d, err := s.GetDossier(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "# Dossier", d.Markdown)
		assert.Equal(t, "h1", d.Citations[0].Hash)

		none, err := s.GetDossier(ctx, "other")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("PortalCacheTTL", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.PutPortalPage(ctx, &model.PortalCacheEntry{
			URLHash: "u1", SourceURL: "https://a.gov", RawHTML: "<p>a</p>", CapturedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
		require.NoError(t, s.PutPortalPage(ctx, &model.PortalCacheEntry{
			URLHash: "u2", SourceURL: "https://b.gov", RawHTML: "<p>b</p>", CapturedAt: now, ExpiresAt: now.Add(-time.Minute),
		}))

		hit, err := s.GetPortalPage(ctx, "u1", now)
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, "<p>a</p>", hit.RawHTML)

		stale, err := s.GetPortalPage(ctx, "u2", now)
		require.NoError(t, err)
		assert.Nil(t, stale)

		// Refetch replaces the entry.
		require.NoError(t, s.PutPortalPage(ctx, &model.PortalCacheEntry{
			URLHash: "u2", SourceURL: "https://b.gov", RawHTML: "<p>b2</p>", CapturedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
		fresh, err := s.GetPortalPage(ctx, "u2", now)
		require.NoError(t, err)
		require.NotNil(t, fresh)
		assert.Equal(t, "<p>b2</p>", fresh.RawHTML)

		n, err := s.DeleteExpiredPortalPages(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
