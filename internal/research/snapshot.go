package research

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
)

// Snapshot is an immutable, layered view of committed worker outputs. Each
// wave commit adds a layer on top of its parent; readers never see a layer
// until it is complete.
type Snapshot struct {
	parent *Snapshot
	layer  map[string]map[string]any
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// With returns a new snapshot with layer on top of s. The layer is copied.
func (s *Snapshot) With(layer map[string]map[string]any) *Snapshot {
	cp := make(map[string]map[string]any, len(layer))
	for name, data := range layer {
		if data == nil {
			data = map[string]any{}
		}
		cp[name] = maps.Clone(data)
	}
	return &Snapshot{parent: s, layer: cp}
}

func (s *Snapshot) lookup(worker string) (map[string]any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if data, ok := cur.layer[worker]; ok {
			return data, true
		}
	}
	return nil, false
}

// Has reports whether worker has committed, successfully or not.
func (s *Snapshot) Has(worker string) bool {
	_, ok := s.lookup(worker)
	return ok
}

// Get returns a shallow copy of worker's data.
func (s *Snapshot) Get(worker string) (map[string]any, bool) {
	data, ok := s.lookup(worker)
	if !ok {
		return nil, false
	}
	return maps.Clone(data), true
}

// Value returns one key of worker's data.
func (s *Snapshot) Value(worker, key string) (any, bool) {
	data, ok := s.lookup(worker)
	if !ok {
		return nil, false
	}
	v, ok := data[key]
	return v, ok
}

// String returns a string value, or "" when absent or not a string.
func (s *Snapshot) String(worker, key string) string {
	v, _ := s.Value(worker, key)
	str, _ := v.(string)
	return str
}

// Float returns a numeric value.
func (s *Snapshot) Float(worker, key string) (float64, bool) {
	v, ok := s.Value(worker, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Decode converts worker's value at key into dst via JSON. Values produced
// in-process (typed structs) and values reloaded from storage (generic maps)
// decode the same way.
func (s *Snapshot) Decode(worker, key string, dst any) error {
	v, ok := s.Value(worker, key)
	if !ok {
		return eris.Errorf("research: %s.%s not in snapshot", worker, key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "research: encode %s.%s", worker, key)
	}
	return eris.Wrapf(json.Unmarshal(b, dst), "research: decode %s.%s", worker, key)
}

// Names returns every committed worker, sorted.
func (s *Snapshot) Names() []string {
	seen := map[string]bool{}
	for cur := s; cur != nil; cur = cur.parent {
		for name := range cur.layer {
			seen[name] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Flatten merges all layers into one map keyed by worker name.
func (s *Snapshot) Flatten() map[string]any {
	out := map[string]any{}
	for _, name := range s.Names() {
		data, _ := s.Get(name)
		out[name] = data
	}
	return out
}

// Depth returns the number of layers.
func (s *Snapshot) Depth() int {
	n := 0
	for cur := s; cur != nil && cur.layer != nil; cur = cur.parent {
		n++
	}
	return n
}
