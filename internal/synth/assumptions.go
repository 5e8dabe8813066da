package synth

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/property-research/internal/model"
)

// Assumptions are the underwriting inputs that do not come from research.
type Assumptions struct {
	RehabPerSqft      float64 `yaml:"rehab_per_sqft" json:"rehab_per_sqft"`
	RehabSpread       float64 `yaml:"rehab_spread" json:"rehab_spread"`
	ARVSpread         float64 `yaml:"arv_spread" json:"arv_spread"`
	MaxOfferPct       float64 `yaml:"max_offer_pct" json:"max_offer_pct"`
	ClosingCostPct    float64 `yaml:"closing_cost_pct" json:"closing_cost_pct"`
	SellingCostPct    float64 `yaml:"selling_cost_pct" json:"selling_cost_pct"`
	HoldingMonths     int     `yaml:"holding_months" json:"holding_months"`
	MonthlyHoldingPct float64 `yaml:"monthly_holding_pct" json:"monthly_holding_pct"`
	VacancyPct        float64 `yaml:"vacancy_pct" json:"vacancy_pct"`
	ExpenseRatio      float64 `yaml:"expense_ratio" json:"expense_ratio"`
	TargetCapRate     float64 `yaml:"target_cap_rate" json:"target_cap_rate"`
	RefiLTV           float64 `yaml:"refi_ltv" json:"refi_ltv"`
	DefaultSqft       int     `yaml:"default_sqft" json:"default_sqft"`
}

// Map renders the assumptions for persistence alongside the analysis.
func (a Assumptions) Map() map[string]any {
	b, _ := json.Marshal(a)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

// Profiles holds one assumption set per strategy.
type Profiles map[model.Strategy]Assumptions

var baseAssumptions = Assumptions{
	RehabPerSqft:      30,
	RehabSpread:       0.25,
	ARVSpread:         0.08,
	MaxOfferPct:       0.70,
	ClosingCostPct:    0.02,
	SellingCostPct:    0.08,
	HoldingMonths:     6,
	MonthlyHoldingPct: 0.01,
	VacancyPct:        0.08,
	ExpenseRatio:      0.40,
	TargetCapRate:     0.08,
	RefiLTV:           0.75,
	DefaultSqft:       1400,
}

// DefaultProfiles returns built-in profiles for every strategy.
func DefaultProfiles() Profiles {
	rental := baseAssumptions
	rental.RehabPerSqft = 15
	rental.HoldingMonths = 2

	brrrr := baseAssumptions
	brrrr.RehabPerSqft = 35
	brrrr.HoldingMonths = 4

	return Profiles{
		model.StrategyFlip:   baseAssumptions,
		model.StrategyRental: rental,
		model.StrategyBRRRR:  brrrr,
	}
}

type profilesFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// LoadProfiles reads strategy profiles from a YAML file of the form
//
//	profiles:
//	  flip:
//	    rehab_per_sqft: 40
//
// Keys a profile omits keep their built-in defaults. An empty path returns
// DefaultProfiles.
func LoadProfiles(path string) (Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "synth: read assumptions %s", path)
	}

	var f profilesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "synth: parse assumptions %s", path)
	}

	for name, node := range f.Profiles {
		strategy := model.Strategy(name)
		a, ok := profiles[strategy]
		if !ok {
			return nil, eris.Errorf("synth: unknown strategy %q in %s", name, path)
		}
		if err := node.Decode(&a); err != nil {
			return nil, eris.Wrapf(err, "synth: decode profile %s", name)
		}
		profiles[strategy] = a
	}
	return profiles, nil
}

// Resolve returns the profile for strategy with per-job overrides applied.
func (p Profiles) Resolve(strategy model.Strategy, overrides map[string]any) (Assumptions, error) {
	a, ok := p[strategy]
	if !ok {
		return Assumptions{}, eris.Errorf("synth: no assumptions for strategy %q", strategy)
	}
	if len(overrides) == 0 {
		return a, nil
	}
	b, err := json.Marshal(overrides)
	if err != nil {
		return Assumptions{}, eris.Wrap(err, "synth: encode overrides")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return Assumptions{}, eris.Wrap(err, "synth: apply overrides")
	}
	return a, nil
}
