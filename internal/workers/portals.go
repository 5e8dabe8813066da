package workers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/synth"
)

// fetchRecords loads rawURL through the portal cache and decodes it.
func (w *workers) fetchRecords(ctx context.Context, res *research.Result, rawURL string) ([]attrs, bool) {
	page, err := w.d.Portal.Get(ctx, rawURL)
	if err != nil {
		res.Fail(err.Error())
		return nil, false
	}
	if !page.Cached {
		res.WebCalls++
	}
	rows, err := records(page.Body)
	if err != nil {
		res.Fail(err.Error())
		return nil, false
	}
	return rows, true
}

func (w *workers) parcelRecords(ctx context.Context, job *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	loc, ok := locate(in)
	if !ok {
		res.Unknown("parcel", "location unavailable")
		return res
	}
	if w.d.Portal == nil || w.d.ParcelURL == "" {
		res.Unknown("parcel", "parcel portal not configured")
		return res
	}

	vars := loc.vars()
	vars["apn"] = ""
	if w.d.Store != nil {
		if prop, err := w.d.Store.GetProperty(ctx, job.ResearchPropertyID); err == nil && prop != nil {
			vars["apn"] = prop.APN
		}
	}
	src := expandURL(w.d.ParcelURL, vars)

	rows, ok := w.fetchRecords(ctx, &res, src)
	if !ok {
		return res
	}
	if len(rows) == 0 {
		res.Unknown("parcel", "no parcel record at location")
		return res
	}
	p := rows[0]

	add := func(claim string) {
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "parcel",
			Claim:      claim,
			SourceURL:  src,
			Confidence: research.Confidence(research.ConfidenceGovernment),
		})
	}

	if apn := p.str("APN", "PIN", "PARCEL_ID", "PARCELID", "PARCEL_NO", "PARCELNUMB"); apn != "" {
		res.Data["apn"] = apn
		add(fmt.Sprintf("Assessor parcel number %s", apn))
	} else {
		res.Unknown("apn", "parcel record has no parcel number")
	}

	if owner := p.str("OWNER", "OWNER_NAME", "OWNERNAME", "OWNER1", "OWN_NAME"); owner != "" {
		res.Data["owner_of_record"] = owner
		add(fmt.Sprintf("Owner of record: %s", owner))
	} else {
		res.Unknown("owner_of_record", "parcel record has no owner")
	}

	if sqft, ok := p.num("SQFT", "BLDG_SQFT", "BUILDING_SQFT", "LIVING_AREA", "LIVINGAREA", "GLA"); ok && sqft > 0 {
		res.Data["sqft"] = int(sqft)
		add(fmt.Sprintf("Building area %d sqft", int(sqft)))
	} else {
		res.Unknown("sqft", "parcel record has no building area")
	}

	if yr, ok := p.num("YEAR_BUILT", "YR_BUILT", "YEARBUILT", "YRBLT"); ok && yr > 1700 {
		res.Data["year_built"] = int(yr)
		add(fmt.Sprintf("Built in %d", int(yr)))
	} else {
		res.Unknown("year_built", "parcel record has no year built")
	}

	if beds, ok := p.num("BEDROOMS", "BEDS", "BEDRMS"); ok {
		res.Data["beds"] = beds
	}
	if baths, ok := p.num("BATHROOMS", "BATHS", "FULL_BATHS"); ok {
		res.Data["baths"] = baths
	}
	if v, ok := p.num("ASSESSED_VALUE", "ASSD_VAL", "TOTAL_VALUE", "TOTVAL", "MARKET_VALUE"); ok && v > 0 {
		res.Data["assessed_value"] = v
		add(fmt.Sprintf("Assessed value %s", usd(v)))
	}
	if s := p.str("LAND_USE", "USE_CODE", "PROP_CLASS", "LANDUSE"); s != "" {
		res.Data["land_use"] = s
	}
	if s := p.str("ZONING", "ZONE_CODE"); s != "" {
		res.Data["zoning"] = s
	}

	liens, _ := p.num("LIENS", "LIEN_COUNT", "NUM_LIENS")
	res.Data["liens"] = int(liens)
	if liens > 0 {
		add(fmt.Sprintf("%d recorded liens", int(liens)))
	}
	if delinquent, ok := p.flag("TAX_DELINQUENT", "DELINQUENT", "TAX_DELQ"); ok {
		res.Data["tax_delinquent"] = delinquent
		if delinquent {
			add("Property taxes are delinquent")
		}
	}
	return res
}

// floodQueryURL builds an NFHL flood hazard point query unless the
// configured URL is already a template.
func floodQueryURL(base string, loc location) string {
	if strings.Contains(base, "{") {
		return expandURL(base, loc.vars())
	}
	q := url.Values{
		"geometry":       {formatCoord(loc.Lng) + "," + formatCoord(loc.Lat)},
		"geometryType":   {"esriGeometryPoint"},
		"inSR":           {"4326"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outFields":      {"FLD_ZONE,ZONE_SUBTY,SFHA_TF"},
		"returnGeometry": {"false"},
		"f":              {"json"},
	}
	return base + "?" + q.Encode()
}

func (w *workers) floodZone(ctx context.Context, _ *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	loc, ok := locate(in)
	if !ok {
		res.Unknown("flood_zone", "location unavailable")
		return res
	}
	if w.d.Portal == nil || w.d.FloodURL == "" {
		res.Unknown("flood_zone", "flood map service not configured")
		return res
	}

	src := floodQueryURL(w.d.FloodURL, loc)
	rows, ok := w.fetchRecords(ctx, &res, src)
	if !ok {
		return res
	}
	if len(rows) == 0 {
		res.Unknown("flood_zone", "no flood hazard area mapped at location")
		return res
	}

	zone := rows[0].str("FLD_ZONE", "ZONE", "FLOOD_ZONE")
	if zone == "" {
		res.Unknown("flood_zone", "flood record has no zone")
		return res
	}
	subtype := rows[0].str("ZONE_SUBTY", "ZONE_SUBTYPE")
	sfha, ok := rows[0].flag("SFHA_TF")
	if !ok {
		sfha = synth.InSFHA(zone)
	}

	res.Data["flood_zone"] = zone
	res.Data["sfha"] = sfha
	if subtype != "" {
		res.Data["zone_subtype"] = subtype
	}

	claim := fmt.Sprintf("FEMA flood zone %s", zone)
	if sfha {
		claim += " (special flood hazard area)"
	}
	res.Evidence = append(res.Evidence, research.EvidenceDraft{
		Category:   "flood",
		Claim:      claim,
		SourceURL:  src,
		RawExcerpt: subtype,
		Confidence: research.Confidence(research.ConfidenceGovernment),
	})
	return res
}

// permit is one building permit or code case.
type permit struct {
	Number      string `json:"number"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Issued      string `json:"issued,omitempty"`
	Description string `json:"description,omitempty"`
}

func (p permit) open() bool {
	switch strings.ToLower(p.Status) {
	case "open", "issued", "active", "pending", "in review":
		return true
	}
	return false
}

func (p permit) violation() bool {
	t := strings.ToLower(p.Type)
	return strings.Contains(t, "violation") || strings.Contains(t, "code enforcement")
}

func (w *workers) permitHistory(ctx context.Context, _ *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	if w.d.Portal == nil || w.d.PermitURL == "" {
		res.Unknown("permits", "permit portal not configured")
		return res
	}
	apn := in.String(ParcelRecords, "apn")
	if apn == "" {
		res.Unknown("permits", "parcel number unavailable")
		return res
	}

	vars := map[string]string{"apn": apn}
	if loc, ok := locate(in); ok {
		for k, v := range loc.vars() {
			vars[k] = v
		}
	}
	src := expandURL(w.d.PermitURL, vars)

	rows, ok := w.fetchRecords(ctx, &res, src)
	if !ok {
		return res
	}

	permits := make([]permit, 0, len(rows))
	var open, violations int
	for _, r := range rows {
		p := permit{
			Number:      r.str("PERMIT_NO", "PERMIT_NUMBER", "PERMITNUM", "CASE_NO"),
			Type:        r.str("PERMIT_TYPE", "TYPE", "WORK_TYPE", "CASE_TYPE"),
			Status:      r.str("STATUS", "PERMIT_STATUS", "CASE_STATUS"),
			Description: truncate(r.str("DESCRIPTION", "WORK_DESC", "DESC"), 200),
		}
		if d := r.date("ISSUE_DATE", "ISSUED", "ISSUED_DATE", "OPEN_DATE"); d != nil {
			p.Issued = d.Format("2006-01-02")
		}
		if p.violation() {
			if p.open() {
				violations++
			}
		} else if p.open() {
			open++
		}
		permits = append(permits, p)

		claim := fmt.Sprintf("Permit %s (%s) %s", p.Number, strings.ToLower(p.Type), strings.ToLower(p.Status))
		if p.Issued != "" {
			claim += ", issued " + p.Issued
		}
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "permit",
			Claim:      claim,
			SourceURL:  src,
			RawExcerpt: p.Description,
			Confidence: research.Confidence(research.ConfidenceGovernment),
		})
	}

	res.Data["permits"] = permits
	res.Data["permit_count"] = len(permits)
	res.Data["open_permits"] = open
	res.Data["code_violations"] = violations
	return res
}
