package workers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// featureSet is an ArcGIS REST query response. Most county parcel, permit
// and FEMA NFHL services answer in this shape.
type featureSet struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// records decodes body as an ArcGIS feature set, a bare JSON array of
// objects, or a single object, and returns the attribute maps.
func records(body string) ([]attrs, error) {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "[") {
		var rows []map[string]any
		if err := json.Unmarshal([]byte(body), &rows); err != nil {
			return nil, eris.Wrap(err, "workers: decode records")
		}
		out := make([]attrs, len(rows))
		for i, r := range rows {
			out[i] = newAttrs(r)
		}
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, eris.Wrap(err, "workers: decode records")
	}
	if _, ok := raw["features"]; !ok {
		if _, isErr := raw["error"]; !isErr {
			var row map[string]any
			if err := json.Unmarshal([]byte(body), &row); err != nil {
				return nil, eris.Wrap(err, "workers: decode record")
			}
			return []attrs{newAttrs(row)}, nil
		}
	}

	var fs featureSet
	if err := json.Unmarshal([]byte(body), &fs); err != nil {
		return nil, eris.Wrap(err, "workers: decode feature set")
	}
	if fs.Error != nil {
		return nil, eris.Errorf("workers: arcgis error %d: %s", fs.Error.Code, fs.Error.Message)
	}
	out := make([]attrs, 0, len(fs.Features))
	for _, f := range fs.Features {
		out = append(out, newAttrs(f.Attributes))
	}
	return out, nil
}

// attrs is a case-insensitive attribute lookup. Portals disagree on field
// names, so each getter takes a list of candidate keys.
type attrs map[string]any

func newAttrs(m map[string]any) attrs {
	a := make(attrs, len(m))
	for k, v := range m {
		a[strings.ToLower(k)] = v
	}
	return a
}

func (a attrs) value(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := a[strings.ToLower(k)]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func (a attrs) str(keys ...string) string {
	v, ok := a.value(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func (a attrs) num(keys ...string) (float64, bool) {
	v, ok := a.value(keys...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func (a attrs) flag(keys ...string) (bool, bool) {
	v, ok := a.value(keys...)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "Y", "YES", "T", "TRUE", "1":
			return true, true
		case "N", "NO", "F", "FALSE", "0":
			return false, true
		}
	}
	return false, false
}

// date reads epoch milliseconds (the ArcGIS date encoding) or an ISO date.
func (a attrs) date(keys ...string) *time.Time {
	v, ok := a.value(keys...)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case float64:
		d := time.UnixMilli(int64(t)).UTC()
		return &d
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "01/02/2006"} {
			if d, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return &d
			}
		}
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
