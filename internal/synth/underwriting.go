// Package synth turns a job's committed research into underwriting numbers,
// a risk score, and a narrative dossier.
package synth

import (
	"math"
	"slices"
	"time"

	"github.com/sells-group/property-research/internal/model"
)

// Subject describes the researched property for underwriting.
type Subject struct {
	Sqft      int
	YearBuilt int
}

// UnderwritingInput is everything Underwrite needs.
type UnderwritingInput struct {
	Strategy    model.Strategy
	Subject     Subject
	Sales       []model.CompSale
	Rentals     []model.CompRental
	Assumptions Assumptions
}

// sensitivity grid, in percent.
var (
	arvDeltas   = []float64{-10, -5, 0, 5, 10}
	rehabDeltas = []float64{0, 20}
)

// Underwrite computes ARV, rent, rehab and offer bands plus a sensitivity
// table. The returned notes list the figures that could not be derived from
// research and fell back to assumptions or were left at zero.
func Underwrite(in UnderwritingInput, now time.Time) (model.Underwriting, []string) {
	a := in.Assumptions
	var notes []string

	sqft := in.Subject.Sqft
	if sqft <= 0 {
		sqft = a.DefaultSqft
		notes = append(notes, "subject square footage unknown; assumed default")
	}

	arv := saleBand(in.Sales, sqft, a.ARVSpread)
	if arv.Base == 0 {
		notes = append(notes, "no sale comps; ARV unavailable")
	}
	rent := rentBand(in.Rentals, a.ARVSpread)
	if rent.Base == 0 && in.Strategy != model.StrategyFlip {
		notes = append(notes, "no rental comps; rent unavailable")
	}

	rehabBase := float64(sqft) * a.RehabPerSqft
	if y := in.Subject.YearBuilt; y > 0 && y < 1970 {
		rehabBase *= 1.15
	}
	rehab := Band{Low: rehabBase * (1 - a.RehabSpread), Base: rehabBase, High: rehabBase * (1 + a.RehabSpread)}.round()

	fees := map[string]float64{
		"closing": round2(arv.Base * a.ClosingCostPct),
		"selling": round2(arv.Base * a.SellingCostPct),
		"holding": round2(arv.Base * a.MonthlyHoldingPct * float64(a.HoldingMonths)),
	}

	// Low offer pairs the pessimistic ARV/rent with the expensive rehab.
	offer := Band{
		Low:  maxOffer(in.Strategy, arv.Low, rent.Low, rehab.High, a),
		Base: maxOffer(in.Strategy, arv.Base, rent.Base, rehab.Base, a),
		High: maxOffer(in.Strategy, arv.High, rent.High, rehab.Low, a),
	}.round()

	var rows []model.SensitivityRow
	for _, rd := range rehabDeltas {
		for _, ad := range arvDeltas {
			arvX := arv.Base * (1 + ad/100)
			rentX := rent.Base * (1 + ad/100)
			rehabX := rehab.Base * (1 + rd/100)
			mao := maxOffer(in.Strategy, arvX, rentX, rehabX, a)
			profit := arvX*(1-a.SellingCostPct) - offer.Base - rehabX -
				arvX*a.ClosingCostPct - arvX*a.MonthlyHoldingPct*float64(a.HoldingMonths)
			rows = append(rows, model.SensitivityRow{
				ARVDeltaPct:   ad,
				RehabDeltaPct: rd,
				MaxOffer:      round2(mao),
				Profit:        round2(profit),
			})
		}
	}

	return model.Underwriting{
		Strategy:    in.Strategy,
		Assumptions: a.Map(),
		ARV:         model.Band(arv),
		Rent:        model.Band(rent),
		Rehab:       model.Band(rehab),
		Offer:       model.Band(offer),
		Fees:        fees,
		Sensitivity: rows,
		CreatedAt:   now.UTC(),
	}, notes
}

func maxOffer(strategy model.Strategy, arv, rent, rehab float64, a Assumptions) float64 {
	var v float64
	switch strategy {
	case model.StrategyRental:
		if a.TargetCapRate <= 0 || rent <= 0 {
			return 0
		}
		noi := rent * 12 * (1 - a.VacancyPct) * (1 - a.ExpenseRatio)
		v = noi/a.TargetCapRate - rehab - arv*a.ClosingCostPct
	case model.StrategyBRRRR:
		v = arv*a.RefiLTV - rehab - arv*a.ClosingCostPct
	default:
		v = arv*a.MaxOfferPct - rehab
	}
	if arv <= 0 && strategy != model.StrategyRental {
		return 0
	}
	return math.Max(v, 0)
}

// Band mirrors model.Band with local helpers.
type Band model.Band

func (b Band) round() Band {
	return Band{Low: round2(b.Low), Base: round2(b.Base), High: round2(b.High)}
}

type weighted struct {
	v, w float64
}

// saleBand values the subject from sale comps: price per square foot times
// subject sqft where comps report sqft, otherwise the raw price.
func saleBand(comps []model.CompSale, sqft int, spread float64) Band {
	vals := make([]weighted, 0, len(comps))
	for _, c := range comps {
		if c.Price <= 0 {
			continue
		}
		v := c.Price
		if ppsf := c.PricePerSqft(); ppsf > 0 && sqft > 0 {
			v = ppsf * float64(sqft)
		}
		vals = append(vals, weighted{v: v, w: similarityWeight(c.SimilarityScore)})
	}
	return band(vals, spread)
}

func rentBand(comps []model.CompRental, spread float64) Band {
	vals := make([]weighted, 0, len(comps))
	for _, c := range comps {
		if c.MonthlyRent <= 0 {
			continue
		}
		vals = append(vals, weighted{v: c.MonthlyRent, w: similarityWeight(c.SimilarityScore)})
	}
	return band(vals, spread)
}

func similarityWeight(s float64) float64 {
	if s <= 0 {
		return 0.1
	}
	return math.Min(s, 1)
}

// band uses the similarity-weighted mean as base and the interquartile
// range as low/high. Fewer than three values get a symmetric spread.
func band(vals []weighted, spread float64) Band {
	if len(vals) == 0 {
		return Band{}
	}
	var sum, wsum float64
	for _, x := range vals {
		sum += x.v * x.w
		wsum += x.w
	}
	base := sum / wsum

	if len(vals) < 3 {
		return Band{Low: base * (1 - spread), Base: base, High: base * (1 + spread)}.round()
	}

	sorted := make([]float64, len(vals))
	for i, x := range vals {
		sorted[i] = x.v
	}
	slices.Sort(sorted)
	low, high := quantile(sorted, 0.25), quantile(sorted, 0.75)
	return Band{Low: math.Min(low, base), Base: base, High: math.Max(high, base)}.round()
}

func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
