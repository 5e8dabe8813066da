package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/resilience"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	TigerLine struct {
		Side    string `json:"side"`
		TigerID string `json:"tigerLineId"`
	} `json:"tigerLine"`
	AddressComponents struct {
		Zip   string `json:"zip"`
		City  string `json:"city"`
		State string `json:"state"`
	} `json:"addressComponents"`
	MatchedAddress string `json:"matchedAddress"`
}

// Geocode geocodes a single address using the Census one-line API. An
// address the Census cannot match returns Matched=false and no error.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, eris.New("geocode: empty address")
	}

	params := url.Values{
		"address":   {address},
		"benchmark": {g.benchmark},
		"format":    {"json"},
	}
	reqURL := g.baseURL + "?" + params.Encode()

	censusResp, err := resilience.RetryValue(ctx, g.policy, func(ctx context.Context) (*censusOneLineResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "geocode: census rate limit")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "geocode: census build request")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "geocode: census request")
		}
		if err := resilience.CheckResponse("census", resp); err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		var out censusOneLineResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "geocode: census parse response")
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return &Result{Matched: false, Source: "census"}, nil
	}

	match := censusResp.Result.AddressMatches[0]
	quality := "rooftop"
	if len(censusResp.Result.AddressMatches) > 1 {
		quality = "range"
	}
	return &Result{
		Latitude:       match.Coordinates.Y,
		Longitude:      match.Coordinates.X,
		MatchedAddress: match.MatchedAddress,
		City:           match.AddressComponents.City,
		State:          match.AddressComponents.State,
		Zip:            match.AddressComponents.Zip,
		TigerLineID:    match.TigerLine.TigerID,
		Side:           match.TigerLine.Side,
		Source:         "census",
		Quality:        quality,
		Matched:        true,
	}, nil
}
