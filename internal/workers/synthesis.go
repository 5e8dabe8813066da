package workers

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/store"
	"github.com/sells-group/property-research/internal/synth"
	"github.com/sells-group/property-research/pkg/propdata"
)

// subjectFacts prefers assessor records and falls back to what the comps
// provider knows about the subject.
func subjectFacts(in *research.Snapshot) synth.Subject {
	var s synth.Subject
	if v, ok := in.Float(ParcelRecords, "sqft"); ok {
		s.Sqft = int(v)
	}
	if v, ok := in.Float(ParcelRecords, "year_built"); ok {
		s.YearBuilt = int(v)
	}
	if s.Sqft > 0 && s.YearBuilt > 0 {
		return s
	}
	var ps propdata.Subject
	if _, ok := in.Value(CompsSales, "subject"); ok && in.Decode(CompsSales, "subject", &ps) == nil {
		if s.Sqft == 0 {
			s.Sqft = ps.Sqft
		}
		if s.YearBuilt == 0 {
			s.YearBuilt = ps.YearBuilt
		}
	}
	return s
}

func decodeIf[T any](in *research.Snapshot, worker, key string) ([]T, error) {
	if _, ok := in.Value(worker, key); !ok {
		return nil, nil
	}
	var out []T
	err := in.Decode(worker, key, &out)
	return out, err
}

func (w *workers) underwriting(_ context.Context, job *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()

	a, err := w.d.Profiles.Resolve(job.Strategy, job.Assumptions)
	if err != nil {
		res.Fail(fmt.Sprintf("assumptions: %v", err))
		return res
	}
	sales, err := decodeIf[model.CompSale](in, CompsSales, model.ArtifactCompSales)
	if err != nil {
		res.Fail(err.Error())
		return res
	}
	rentals, err := decodeIf[model.CompRental](in, CompsRentals, model.ArtifactCompRentals)
	if err != nil {
		res.Fail(err.Error())
		return res
	}

	uw, notes := synth.Underwrite(synth.UnderwritingInput{
		Strategy:    job.Strategy,
		Subject:     subjectFacts(in),
		Sales:       sales,
		Rentals:     rentals,
		Assumptions: a,
	}, w.d.Now())

	res.Data[model.ArtifactUnderwriting] = uw
	res.Data["notes"] = notes
	for _, n := range notes {
		res.Unknown("underwriting", n)
	}

	add := func(claim string) {
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "underwriting",
			Claim:      claim,
			Confidence: research.Confidence(research.ConfidenceInternal),
		})
	}
	if uw.ARV.Base > 0 {
		add(fmt.Sprintf("After-repair value estimated at %s (range %s to %s) from %d sales",
			usd(uw.ARV.Base), usd(uw.ARV.Low), usd(uw.ARV.High), len(sales)))
	}
	if uw.Rent.Base > 0 {
		add(fmt.Sprintf("Market rent estimated at %s per month from %d rentals", usd(uw.Rent.Base), len(rentals)))
	}
	add(fmt.Sprintf("Rehab budget estimated at %s", usd(uw.Rehab.Base)))
	if uw.Offer.Base > 0 {
		add(fmt.Sprintf("Maximum offer for a %s strategy is %s", job.Strategy, usd(uw.Offer.Base)))
	}
	return res
}

// runStats lists the worker runs committed so far for the job.
func (w *workers) runStats(ctx context.Context, jobID string) ([]model.WorkerRun, error) {
	if w.d.Store == nil {
		return nil, nil
	}
	return w.d.Store.ListWorkerRuns(ctx, jobID)
}

func (w *workers) risk(ctx context.Context, job *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()

	s := synth.RiskSignals{
		FloodZone:     in.String(FloodZone, "flood_zone"),
		OwnerOfRecord: in.String(ParcelRecords, "owner_of_record"),
	}
	if v, ok := in.Float(ParcelRecords, "liens"); ok {
		s.Liens = int(v)
	}
	if v, ok := in.Value(ParcelRecords, "tax_delinquent"); ok {
		s.TaxDelinquent, _ = v.(bool)
	}
	if v, ok := in.Float(PermitHistory, "open_permits"); ok {
		s.OpenPermits = int(v)
	}
	if v, ok := in.Float(PermitHistory, "code_violations"); ok {
		s.CodeViolations = int(v)
	}

	if w.d.Store != nil {
		ev, err := w.d.Store.ListEvidence(ctx, store.EvidenceFilter{JobID: job.ID})
		if err != nil {
			res.Fail(fmt.Sprintf("load evidence: %v", err))
			return res
		}
		// Siblings in the same wave may already be persisted; only count
		// workers committed to this worker's snapshot.
		for _, e := range ev {
			if in.Has(e.WorkerName) {
				s.Confidences = append(s.Confidences, e.Confidence)
			}
		}
	}
	runs, err := w.runStats(ctx, job.ID)
	if err != nil {
		res.Fail(fmt.Sprintf("load worker runs: %v", err))
		return res
	}
	for _, r := range runs {
		if !in.Has(r.WorkerName) {
			continue
		}
		s.Workers++
		if r.Status == model.WorkerRunSucceeded {
			s.Succeeded++
		}
		s.Unknowns += len(r.Unknowns)
	}

	rs := synth.Score(s, w.d.Now())
	res.Data[model.ArtifactRiskScore] = rs

	claim := fmt.Sprintf("Title risk %.2f, data confidence %.2f", rs.TitleRisk, rs.DataConfidence)
	if len(rs.ComplianceFlags) > 0 {
		claim += "; flags: " + strings.Join(rs.ComplianceFlags, ", ")
	}
	res.Evidence = append(res.Evidence, research.EvidenceDraft{
		Category:   "risk",
		Claim:      claim,
		RawExcerpt: strings.Join(rs.Notes, "\n"),
		Confidence: research.Confidence(research.ConfidenceInternal),
	})
	return res
}

type factFormat int

const (
	asText factFormat = iota
	asUSD
	asNumber
	asYear
)

// facts are the snapshot values surfaced in the dossier, in display order.
var facts = []struct {
	label  string
	worker string
	key    string
	format factFormat
}{
	{"Matched address", Geocode, "matched_address", asText},
	{"APN", ParcelRecords, "apn", asText},
	{"Owner of record", ParcelRecords, "owner_of_record", asText},
	{"Building area (sqft)", ParcelRecords, "sqft", asNumber},
	{"Year built", ParcelRecords, "year_built", asYear},
	{"Bedrooms", ParcelRecords, "beds", asNumber},
	{"Bathrooms", ParcelRecords, "baths", asNumber},
	{"Assessed value", ParcelRecords, "assessed_value", asUSD},
	{"Zoning", ParcelRecords, "zoning", asText},
	{"Flood zone", FloodZone, "flood_zone", asText},
	{"Comparable sales", CompsSales, "comp_count", asNumber},
	{"Comparable rentals", CompsRentals, "comp_count", asNumber},
	{"Open permits", PermitHistory, "open_permits", asNumber},
	{"Open code violations", PermitHistory, "code_violations", asNumber},
	{"Market median sale price", MarketResearch, "median_sale_price", asUSD},
	{"Market median rent", MarketResearch, "median_rent", asUSD},
	{"Market summary", MarketResearch, "summary", asText},
}

func formatFact(in *research.Snapshot, worker, key string, f factFormat) string {
	if f == asText {
		return in.String(worker, key)
	}
	v, ok := in.Float(worker, key)
	if !ok {
		return ""
	}
	switch f {
	case asUSD:
		return usd(v)
	case asYear:
		return fmt.Sprintf("%.0f", v)
	}
	if v == math.Trunc(v) {
		return printer.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func (w *workers) dossier(ctx context.Context, job *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()

	b := synth.Brief{
		Address:  in.String(Geocode, "normalized_address"),
		Strategy: job.Strategy,
	}
	if b.Address == "" && w.d.Store != nil {
		if prop, err := w.d.Store.GetProperty(ctx, job.ResearchPropertyID); err == nil && prop != nil {
			b.Address = prop.NormalizedAddress
		}
	}

	for _, f := range facts {
		if v := formatFact(in, f.worker, f.key, f.format); v != "" {
			b.Facts = append(b.Facts, synth.Fact{Label: f.label, Value: v})
		}
	}

	if _, ok := in.Value(Underwriting, model.ArtifactUnderwriting); ok {
		var uw model.Underwriting
		if err := in.Decode(Underwriting, model.ArtifactUnderwriting, &uw); err == nil {
			b.Underwriting = &uw
		}
	}
	if _, ok := in.Value(Risk, model.ArtifactRiskScore); ok {
		var rs model.RiskScore
		if err := in.Decode(Risk, model.ArtifactRiskScore, &rs); err == nil {
			b.Risk = &rs
		}
	}

	if w.d.Store != nil {
		// Evidence is deduplicated per property, so a repeat job may have
		// few rows of its own.
		ev, err := w.d.Store.ListEvidence(ctx, store.EvidenceFilter{PropertyID: job.ResearchPropertyID})
		if err != nil {
			res.Fail(fmt.Sprintf("load evidence: %v", err))
			return res
		}
		b.Citations = synth.Citations(ev, w.d.MaxCitations)
	}

	runs, err := w.runStats(ctx, job.ID)
	if err != nil {
		res.Fail(fmt.Sprintf("load worker runs: %v", err))
		return res
	}
	slices.SortFunc(runs, func(a, b model.WorkerRun) int {
		return strings.Compare(a.WorkerName, b.WorkerName)
	})
	for _, r := range runs {
		for _, u := range r.Unknowns {
			b.Unknowns = append(b.Unknowns, fmt.Sprintf("%s: %s (%s)", r.WorkerName, u.Field, u.Reason))
		}
		if r.Status != model.WorkerRunSucceeded {
			b.Unknowns = append(b.Unknowns, fmt.Sprintf("%s did not complete (%s)", r.WorkerName, r.Status))
		}
	}

	n, err := w.d.Narrator.Narrate(ctx, b)
	if err != nil {
		res.Fail(fmt.Sprintf("narrate: %v", err))
		return res
	}
	res.CostUSD = n.CostUSD
	if strings.HasPrefix(n.Narrator, "anthropic") {
		res.WebCalls++
	}

	d := model.Dossier{
		Markdown:  synth.Compose(b, n.Text),
		Citations: b.Citations,
		Narrator:  n.Narrator,
	}
	if d.Citations == nil {
		d.Citations = []model.Citation{}
	}
	res.Data[model.ArtifactDossier] = d
	res.Data["citation_count"] = len(d.Citations)
	res.Data["narrator"] = n.Narrator
	return res
}
