package research

import (
	"slices"

	"github.com/rotisserie/eris"
)

// GroupCore is the group of workers that always run.
const GroupCore = "core"

// Spec declares a worker: its name, the workers whose output it reads, and
// how its failure affects the job.
type Spec struct {
	Name string
	Deps []string
	// After names workers whose output is read when they are enabled. Each
	// becomes a dependency only for jobs that enable it.
	After []string
	// Fatal workers fail the whole job when they do not succeed.
	Fatal bool
	// Group is GroupCore or an optional tier enabled per job.
	Group string
	// Terminal workers depend on every other enabled worker.
	Terminal bool
	Run      Func
}

// Registry holds worker specs in registration order.
type Registry struct {
	specs map[string]Spec
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a worker.
func (r *Registry) Register(s Spec) error {
	if s.Name == "" {
		return eris.New("research: worker name is required")
	}
	if s.Run == nil {
		return eris.Errorf("research: worker %q has no run func", s.Name)
	}
	if _, ok := r.specs[s.Name]; ok {
		return eris.Errorf("research: worker %q already registered", s.Name)
	}
	if slices.Contains(s.Deps, s.Name) || slices.Contains(s.After, s.Name) {
		return eris.Errorf("research: worker %q depends on itself", s.Name)
	}
	if s.Group == "" {
		s.Group = GroupCore
	}
	s.Deps = slices.Clone(s.Deps)
	s.After = slices.Clone(s.After)
	r.specs[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// MustRegister is Register for start-up wiring where a failure is a
// programming error.
func (r *Registry) MustRegister(specs ...Spec) {
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Get returns a registered spec.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all worker names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Groups returns the distinct groups in registration order.
func (r *Registry) Groups() []string {
	var out []string
	for _, name := range r.order {
		if g := r.specs[name].Group; !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out
}

// ApplyFatal marks exactly the named workers as fatal.
func (r *Registry) ApplyFatal(names []string) error {
	for _, n := range names {
		if _, ok := r.specs[n]; !ok {
			return eris.Errorf("research: fatal worker %q is not registered", n)
		}
	}
	for name, s := range r.specs {
		s.Fatal = slices.Contains(names, name)
		r.specs[name] = s
	}
	return nil
}

// Enabled returns the core workers plus those in the requested groups, in
// registration order. After entries naming an enabled worker are folded
// into Deps. Terminal workers come back depending on every other enabled
// worker.
func (r *Registry) Enabled(groups []string) []Spec {
	var out []Spec
	var names []string
	for _, name := range r.order {
		s := r.specs[name]
		if s.Group != GroupCore && !slices.Contains(groups, s.Group) {
			continue
		}
		out = append(out, s)
		names = append(names, name)
	}

	for i, s := range out {
		deps := slices.Clone(s.Deps)
		for _, n := range s.After {
			if slices.Contains(names, n) && !slices.Contains(deps, n) {
				deps = append(deps, n)
			}
		}
		out[i].Deps = deps
		if !s.Terminal {
			continue
		}
		for _, n := range names {
			if n == s.Name || slices.Contains(deps, n) {
				continue
			}
			if other := r.specs[n]; other.Terminal {
				continue
			}
			deps = append(deps, n)
		}
		out[i].Deps = deps
	}
	return out
}
