package research

import (
	"slices"
)

// Graph is a validated worker DAG over an enabled worker subset.
type Graph struct {
	specs []Spec
	index map[string]int
}

// BuildGraph validates specs and returns the DAG. Every dependency must be
// among specs and the graph must be acyclic; otherwise a *SchedulingError
// names the offending workers.
func BuildGraph(specs []Spec) (*Graph, error) {
	g := &Graph{specs: specs, index: make(map[string]int, len(specs))}
	for i, s := range specs {
		g.index[s.Name] = i
	}

	var missing []string
	for _, s := range specs {
		for _, d := range s.Deps {
			if _, ok := g.index[d]; !ok {
				missing = append(missing, s.Name+"→"+d)
			}
		}
	}
	if len(missing) > 0 {
		return nil, &SchedulingError{Reason: "dependency not enabled or unknown", Workers: missing}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, &SchedulingError{Reason: "dependency cycle", Workers: cycle}
	}
	return g, nil
}

// findCycle returns the workers on the first cycle found, or nil.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make([]int, len(g.specs))
	var stack []string
	var cycle []string

	var visit func(i int) bool
	visit = func(i int) bool {
		state[i] = visiting
		stack = append(stack, g.specs[i].Name)
		for _, d := range g.specs[i].Deps {
			j := g.index[d]
			switch state[j] {
			case visiting:
				start := slices.Index(stack, d)
				cycle = slices.Clone(stack[start:])
				return true
			case unvisited:
				if visit(j) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = visited
		return false
	}

	for i := range g.specs {
		if state[i] == unvisited && visit(i) {
			return cycle
		}
	}
	return nil
}

// Specs returns the graph's workers in registration order.
func (g *Graph) Specs() []Spec { return slices.Clone(g.specs) }

// Len returns the number of workers.
func (g *Graph) Len() int { return len(g.specs) }

// Has reports whether name is in the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Spec returns the named worker.
func (g *Graph) Spec(name string) (Spec, bool) {
	i, ok := g.index[name]
	if !ok {
		return Spec{}, false
	}
	return g.specs[i], true
}

// Ready returns, in registration order, the workers not in done whose
// dependencies are all in done.
func (g *Graph) Ready(done map[string]bool) []Spec {
	var out []Spec
	for _, s := range g.specs {
		if done[s.Name] {
			continue
		}
		ok := true
		for _, d := range s.Deps {
			if !done[d] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}

// Waves returns the full execution plan assuming every worker commits.
func (g *Graph) Waves() [][]string {
	done := make(map[string]bool, len(g.specs))
	var waves [][]string
	for len(done) < len(g.specs) {
		ready := g.Ready(done)
		if len(ready) == 0 {
			break
		}
		wave := make([]string, 0, len(ready))
		for _, s := range ready {
			wave = append(wave, s.Name)
		}
		for _, n := range wave {
			done[n] = true
		}
		waves = append(waves, wave)
	}
	return waves
}

// Dependents returns every worker that transitively depends on name.
func (g *Graph) Dependents(name string) []string {
	seen := map[string]bool{name: true}
	changed := true
	for changed {
		changed = false
		for _, s := range g.specs {
			if seen[s.Name] {
				continue
			}
			for _, d := range s.Deps {
				if seen[d] {
					seen[s.Name] = true
					changed = true
					break
				}
			}
		}
	}
	var out []string
	for _, s := range g.specs {
		if s.Name != name && seen[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}
