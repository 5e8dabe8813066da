package workers

import (
	"maps"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/research"
)

// profileKeys are the findings copied into a property's latest profile.
var profileKeys = []struct {
	worker string
	key    string
	as     string
}{
	{Geocode, "matched_address", "matched_address"},
	{ParcelRecords, "owner_of_record", "owner_of_record"},
	{ParcelRecords, "sqft", "sqft"},
	{ParcelRecords, "year_built", "year_built"},
	{ParcelRecords, "beds", "beds"},
	{ParcelRecords, "baths", "baths"},
	{ParcelRecords, "assessed_value", "assessed_value"},
	{ParcelRecords, "zoning", "zoning"},
	{FloodZone, "flood_zone", "flood_zone"},
	{PermitHistory, "open_permits", "open_permits"},
	{MarketResearch, "median_sale_price", "market_median_sale_price"},
	{MarketResearch, "median_rent", "market_median_rent"},
}

// RefreshProfile folds a finished job's findings into its property. Keys a
// job did not learn keep their earlier values.
func RefreshProfile(p *model.ResearchProperty, snap *research.Snapshot) {
	if lat, ok := snap.Float(Geocode, "lat"); ok {
		if lng, ok := snap.Float(Geocode, "lng"); ok {
			p.Lat, p.Lng = lat, lng
		}
	}
	if apn := snap.String(ParcelRecords, "apn"); apn != "" {
		p.APN = apn
	}

	profile := maps.Clone(p.LatestProfile)
	if profile == nil {
		profile = map[string]any{}
	}
	for _, k := range profileKeys {
		if v, ok := snap.Value(k.worker, k.key); ok && v != nil && v != "" {
			profile[k.as] = v
		}
	}

	var uw model.Underwriting
	if _, ok := snap.Value(Underwriting, model.ArtifactUnderwriting); ok && snap.Decode(Underwriting, model.ArtifactUnderwriting, &uw) == nil {
		profile["arv"] = uw.ARV.Base
		profile["monthly_rent"] = uw.Rent.Base
		profile["max_offer"] = uw.Offer.Base
		profile["strategy"] = string(uw.Strategy)
	}
	var rs model.RiskScore
	if _, ok := snap.Value(Risk, model.ArtifactRiskScore); ok && snap.Decode(Risk, model.ArtifactRiskScore, &rs) == nil {
		profile["title_risk"] = rs.TitleRisk
		profile["data_confidence"] = rs.DataConfidence
		profile["compliance_flags"] = rs.ComplianceFlags
	}
	p.LatestProfile = profile
}
