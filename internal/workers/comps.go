package workers

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/property"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/pkg/propdata"
)

const (
	confidenceSaleComp   = 0.80
	confidenceRentalComp = 0.75
)

// similarity scores a comp against the subject in [0, 1]. Distance, bed
// count, size and age each take away from a perfect match.
func similarity(subject *propdata.Subject, c propdata.Comp, dist, radius float64) float64 {
	s := 1.0
	if radius > 0 {
		s -= 0.3 * math.Min(dist/radius, 1)
	}
	if subject != nil {
		if subject.Beds > 0 && c.Beds > 0 {
			s -= 0.1 * math.Min(math.Abs(subject.Beds-c.Beds), 2)
		}
		if subject.Sqft > 0 && c.Sqft > 0 {
			s -= 0.2 * math.Min(math.Abs(float64(subject.Sqft-c.Sqft))/float64(subject.Sqft), 1)
		}
		if subject.YearBuilt > 0 && c.YearBuilt > 0 && abs(subject.YearBuilt-c.YearBuilt) > 20 {
			s -= 0.1
		}
	}
	return math.Round(math.Max(0, s)*1000) / 1000
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func subjectData(s *propdata.Subject) map[string]any {
	return map[string]any{
		"beds":       s.Beds,
		"baths":      s.Baths,
		"sqft":       s.Sqft,
		"year_built": s.YearBuilt,
	}
}

func (w *workers) compQuery(loc location) propdata.Query {
	return propdata.Query{
		Lat:         loc.Lat,
		Lng:         loc.Lng,
		RadiusMiles: w.d.CompRadiusMiles,
		Limit:       w.d.MaxComps,
	}
}

func (w *workers) compsSales(ctx context.Context, _ *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	loc, ok := locate(in)
	if !ok {
		res.Unknown("comp_sales", "location unavailable")
		return res
	}
	if w.d.PropData == nil {
		res.Unknown("comp_sales", "comps provider not configured")
		return res
	}

	res.WebCalls++
	resp, err := w.d.PropData.SaleComps(ctx, w.compQuery(loc))
	if err != nil {
		res.Fail(fmt.Sprintf("sale comps: %v", err))
		return res
	}
	res.CostUSD = w.d.Costs.PropDataCall()

	origin := property.Point(loc.Lat, loc.Lng)
	comps := make([]model.CompSale, 0, len(resp.Comps))
	for _, c := range resp.Comps {
		if c.Price <= 0 {
			continue
		}
		dist := property.DistanceMiles(origin, property.Point(c.Lat, c.Lng))
		comps = append(comps, model.CompSale{
			Address:         c.Address,
			DistanceMiles:   math.Round(dist*100) / 100,
			Price:           c.Price,
			Beds:            c.Beds,
			Baths:           c.Baths,
			Sqft:            c.Sqft,
			YearBuilt:       c.YearBuilt,
			SaleDate:        c.Date(),
			SimilarityScore: similarity(resp.Subject, c, dist, w.d.CompRadiusMiles),
			SourceURL:       c.URL,
		})
	}
	slices.SortStableFunc(comps, func(a, b model.CompSale) int {
		return cmp.Compare(b.SimilarityScore, a.SimilarityScore)
	})

	res.Data[model.ArtifactCompSales] = comps
	res.Data["comp_count"] = len(comps)
	if resp.Subject != nil {
		res.Data["subject"] = subjectData(resp.Subject)
	}
	if len(comps) == 0 {
		res.Unknown("comp_sales", fmt.Sprintf("no comparable sales within %.1f mi", w.d.CompRadiusMiles))
		return res
	}

	for _, c := range comps {
		claim := fmt.Sprintf("%s sold for %s", c.Address, usd(c.Price))
		if c.SaleDate != nil {
			claim += " on " + c.SaleDate.Format("2006-01-02")
		}
		claim += fmt.Sprintf(" (%.2f mi away)", c.DistanceMiles)
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "comp_sale",
			Claim:      claim,
			SourceURL:  c.SourceURL,
			Confidence: research.Confidence(confidenceSaleComp),
		})
	}
	return res
}

func (w *workers) compsRentals(ctx context.Context, _ *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	loc, ok := locate(in)
	if !ok {
		res.Unknown("comp_rentals", "location unavailable")
		return res
	}
	if w.d.PropData == nil {
		res.Unknown("comp_rentals", "comps provider not configured")
		return res
	}

	res.WebCalls++
	resp, err := w.d.PropData.RentalComps(ctx, w.compQuery(loc))
	if err != nil {
		res.Fail(fmt.Sprintf("rental comps: %v", err))
		return res
	}
	res.CostUSD = w.d.Costs.PropDataCall()

	origin := property.Point(loc.Lat, loc.Lng)
	comps := make([]model.CompRental, 0, len(resp.Comps))
	for _, c := range resp.Comps {
		if c.MonthlyRent <= 0 {
			continue
		}
		dist := property.DistanceMiles(origin, property.Point(c.Lat, c.Lng))
		comps = append(comps, model.CompRental{
			Address:         c.Address,
			DistanceMiles:   math.Round(dist*100) / 100,
			MonthlyRent:     c.MonthlyRent,
			Beds:            c.Beds,
			Baths:           c.Baths,
			Sqft:            c.Sqft,
			YearBuilt:       c.YearBuilt,
			ListDate:        c.Date(),
			SimilarityScore: similarity(resp.Subject, c, dist, w.d.CompRadiusMiles),
			SourceURL:       c.URL,
		})
	}
	slices.SortStableFunc(comps, func(a, b model.CompRental) int {
		return cmp.Compare(b.SimilarityScore, a.SimilarityScore)
	})

	res.Data[model.ArtifactCompRentals] = comps
	res.Data["comp_count"] = len(comps)
	if resp.Subject != nil {
		res.Data["subject"] = subjectData(resp.Subject)
	}
	if len(comps) == 0 {
		res.Unknown("comp_rentals", fmt.Sprintf("no comparable rentals within %.1f mi", w.d.CompRadiusMiles))
		return res
	}

	for _, c := range comps {
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "comp_rental",
			Claim:      fmt.Sprintf("%s rents for %s per month (%.2f mi away)", c.Address, usd(c.MonthlyRent), c.DistanceMiles),
			SourceURL:  c.SourceURL,
			Confidence: research.Confidence(confidenceRentalComp),
		})
	}
	return res
}
