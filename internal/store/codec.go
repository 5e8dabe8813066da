package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/model"
)

// jsonOrEmpty marshals v, substituting empty when v marshals to null.
func jsonOrEmpty(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

func decodeMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal object")
	}
	return m, nil
}

func decodeInto(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(b, dst), "store: unmarshal")
}

// runPayload holds the JSON-encoded columns of a worker run.
type runPayload struct {
	data, unknowns, errors []byte
}

func encodeRun(r *model.WorkerRun) (runPayload, error) {
	var p runPayload
	var err error
	if p.data, err = jsonOrEmpty(r.Data, "{}"); err != nil {
		return p, err
	}
	if p.unknowns, err = jsonOrEmpty(r.Unknowns, "[]"); err != nil {
		return p, err
	}
	if p.errors, err = jsonOrEmpty(r.Errors, "[]"); err != nil {
		return p, err
	}
	return p, nil
}

func decodeRun(r *model.WorkerRun, data, unknowns, errs []byte) error {
	var err error
	if r.Data, err = decodeMap(data); err != nil {
		return err
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Unknowns = []model.Unknown{}
	r.Errors = []string{}
	if err := decodeInto(unknowns, &r.Unknowns); err != nil {
		return err
	}
	return decodeInto(errs, &r.Errors)
}

// encodeUnderwriting returns the JSON columns in table order:
// assumptions, arv, rent, rehab, offer, fees, sensitivity.
func encodeUnderwriting(uw *model.Underwriting) ([7][]byte, error) {
	var cols [7][]byte
	values := []struct {
		v     any
		empty string
	}{
		{uw.Assumptions, "{}"}, {uw.ARV, "{}"}, {uw.Rent, "{}"}, {uw.Rehab, "{}"},
		{uw.Offer, "{}"}, {uw.Fees, "{}"}, {uw.Sensitivity, "[]"},
	}
	for i, val := range values {
		b, err := jsonOrEmpty(val.v, val.empty)
		if err != nil {
			return cols, err
		}
		cols[i] = b
	}
	return cols, nil
}

func decodeUnderwriting(uw *model.Underwriting, cols [7][]byte) error {
	var err error
	if uw.Assumptions, err = decodeMap(cols[0]); err != nil {
		return err
	}
	dsts := []any{&uw.ARV, &uw.Rent, &uw.Rehab, &uw.Offer, &uw.Fees, &uw.Sensitivity}
	for i, dst := range dsts {
		if err := decodeInto(cols[i+1], dst); err != nil {
			return err
		}
	}
	return nil
}
