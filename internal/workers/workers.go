// Package workers implements the concrete research workers and registers
// them with a research.Registry.
package workers

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/property-research/internal/cost"
	"github.com/sells-group/property-research/internal/portal"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/store"
	"github.com/sells-group/property-research/internal/synth"
	"github.com/sells-group/property-research/pkg/geocode"
	"github.com/sells-group/property-research/pkg/jina"
	"github.com/sells-group/property-research/pkg/perplexity"
	"github.com/sells-group/property-research/pkg/propdata"
)

// Worker names.
const (
	Geocode        = "geocode"
	ParcelRecords  = "parcel_records"
	FloodZone      = "flood_zone"
	WebSearch      = "web_search"
	CompsSales     = "comps_sales"
	CompsRentals   = "comps_rentals"
	MarketResearch = "market_research"
	PermitHistory  = "permit_history"
	Underwriting   = "underwriting"
	Risk           = "risk"
	Dossier        = "dossier"
)

// GroupExtensive holds the slower, paid workers enabled per job.
const GroupExtensive = "extensive"

// Deps are the collaborators workers call. Any client may be nil; workers
// that need a missing collaborator report an unknown instead of failing.
type Deps struct {
	Store      store.Store
	Geocoder   geocode.Client
	Portal     *portal.Cache
	Search     jina.Client
	Perplexity perplexity.Client
	PropData   propdata.Client
	Narrator   synth.Narrator
	Costs      *cost.Calculator
	Profiles   synth.Profiles

	// Portal URL templates. Placeholders {lat}, {lng}, {street}, {city},
	// {state}, {zip}, {address} and {apn} are replaced with escaped values.
	ParcelURL string
	FloodURL  string
	PermitURL string

	CompRadiusMiles float64
	MaxComps        int
	MaxCitations    int
	MaxSearchHits   int

	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Profiles == nil {
		d.Profiles = synth.DefaultProfiles()
	}
	if d.Narrator == nil {
		d.Narrator = synth.TemplateNarrator{}
	}
	if d.CompRadiusMiles <= 0 {
		d.CompRadiusMiles = 1
	}
	if d.MaxComps <= 0 {
		d.MaxComps = 10
	}
	if d.MaxCitations <= 0 {
		d.MaxCitations = 20
	}
	if d.MaxSearchHits <= 0 {
		d.MaxSearchHits = 8
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type workers struct {
	d Deps
}

// Register adds every worker to reg. geocode and dossier are registered
// fatal; callers may override that with Registry.ApplyFatal.
func Register(reg *research.Registry, d Deps) error {
	w := &workers{d: d.withDefaults()}
	specs := []research.Spec{
		{Name: Geocode, Fatal: true, Run: w.geocode},
		{Name: ParcelRecords, Deps: []string{Geocode}, Run: w.parcelRecords},
		{Name: FloodZone, Deps: []string{Geocode}, Run: w.floodZone},
		{Name: WebSearch, Deps: []string{Geocode}, Run: w.webSearch},
		{Name: CompsSales, Deps: []string{Geocode}, Run: w.compsSales},
		{Name: CompsRentals, Deps: []string{Geocode}, Run: w.compsRentals},
		{Name: MarketResearch, Deps: []string{Geocode}, Group: GroupExtensive, Run: w.marketResearch},
		{Name: PermitHistory, Deps: []string{ParcelRecords}, Group: GroupExtensive, Run: w.permitHistory},
		{Name: Underwriting, Deps: []string{CompsSales, CompsRentals, ParcelRecords}, Run: w.underwriting},
		{Name: Risk, Deps: []string{ParcelRecords, FloodZone}, After: []string{PermitHistory}, Run: w.risk},
		{Name: Dossier, Fatal: true, Terminal: true, Run: w.dossier},
	}
	for _, s := range specs {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// location is the geocoded subject as committed by the geocode worker.
type location struct {
	Lat     float64
	Lng     float64
	Address string
	Street  string
	City    string
	State   string
	Zip     string
}

func locate(in *research.Snapshot) (location, bool) {
	lat, okLat := in.Float(Geocode, "lat")
	lng, okLng := in.Float(Geocode, "lng")
	if !okLat || !okLng {
		return location{}, false
	}
	return location{
		Lat:     lat,
		Lng:     lng,
		Address: in.String(Geocode, "normalized_address"),
		Street:  in.String(Geocode, "street"),
		City:    in.String(Geocode, "city"),
		State:   in.String(Geocode, "state"),
		Zip:     in.String(Geocode, "zip"),
	}, true
}

func (l location) vars() map[string]string {
	return map[string]string{
		"lat":     formatCoord(l.Lat),
		"lng":     formatCoord(l.Lng),
		"street":  l.Street,
		"city":    l.City,
		"state":   l.State,
		"zip":     l.Zip,
		"address": l.Address,
	}
}

// expandURL fills {name} placeholders in tmpl with query-escaped values.
func expandURL(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", url.QueryEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

var printer = message.NewPrinter(language.English)

func usd(v float64) string {
	return printer.Sprintf("$%.0f", v)
}
