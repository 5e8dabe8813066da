package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/property"
	"github.com/sells-group/property-research/internal/research"
)

const censusSource = "https://geocoding.geo.census.gov/geocoder/"

// geocode resolves the job's property to coordinates. A property that was
// geocoded by an earlier job is reused without a provider call.
func (w *workers) geocode(ctx context.Context, job *model.AgenticJob, _ *research.Snapshot) research.Result {
	res := research.EmptyResult()
	if w.d.Store == nil {
		res.Fail("property store not configured")
		return res
	}

	prop, err := w.d.Store.GetProperty(ctx, job.ResearchPropertyID)
	if err != nil {
		res.Fail(fmt.Sprintf("load property: %v", err))
		return res
	}
	if prop == nil {
		res.Fail(fmt.Sprintf("property %s not found", job.ResearchPropertyID))
		return res
	}

	addr, err := property.ParseAddress(prop.NormalizedAddress)
	if err != nil {
		addr, err = property.ParseAddress(prop.RawAddress)
	}
	if err != nil {
		res.Fail(fmt.Sprintf("parse address %q: %v", prop.RawAddress, err))
		return res
	}

	res.Data["normalized_address"] = addr.String()
	res.Data["street"] = addr.Street
	res.Data["city"] = addr.City
	res.Data["state"] = addr.State
	res.Data["zip"] = addr.Zip

	if w.d.Geocoder == nil {
		if prop.HasLocation() {
			res.Data["lat"], res.Data["lng"] = prop.Lat, prop.Lng
			res.Data["source"] = "property"
			return res
		}
		res.Fail("geocoder not configured and property has no location")
		return res
	}

	res.WebCalls++
	gr, err := w.d.Geocoder.Geocode(ctx, addr.String())
	if err != nil {
		res.Fail(fmt.Sprintf("geocode %q: %v", addr.String(), err))
		return res
	}
	if gr == nil || !gr.Matched {
		res.Fail(fmt.Sprintf("geocoder returned no match for %q", addr.String()))
		return res
	}

	res.Data["lat"] = gr.Latitude
	res.Data["lng"] = gr.Longitude
	res.Data["matched_address"] = gr.MatchedAddress
	res.Data["quality"] = gr.Quality
	res.Data["source"] = gr.Source
	if gr.TigerLineID != "" {
		res.Data["tiger_line_id"] = gr.TigerLineID
	}
	if addr.Zip == "" && gr.Zip != "" {
		res.Data["zip"] = gr.Zip
	}

	res.Evidence = append(res.Evidence, research.EvidenceDraft{
		Category:   "location",
		Claim:      fmt.Sprintf("%s geocodes to %s, %s (%s match)", addr.String(), formatCoord(gr.Latitude), formatCoord(gr.Longitude), gr.Quality),
		SourceURL:  censusSource,
		RawExcerpt: gr.MatchedAddress,
		Confidence: research.Confidence(research.ConfidenceGovernment),
	})

	zap.L().Debug("workers: geocoded",
		zap.String("job_id", job.ID),
		zap.String("address", addr.String()),
		zap.Float64("lat", gr.Latitude),
		zap.Float64("lng", gr.Longitude),
	)
	return res
}
