package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "geocode", Run: noop}))

	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"empty name", Spec{Run: noop}, "name is required"},
		{"nil func", Spec{Name: "x"}, "has no run func"},
		{"duplicate", Spec{Name: "geocode", Run: noop}, "already registered"},
		{"self dependency", Spec{Name: "y", Deps: []string{"y"}, Run: noop}, "depends on itself"},
		{"self after", Spec{Name: "z", After: []string{"z"}, Run: noop}, "depends on itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Equal(t, []string{"geocode"}, r.Names())
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() { r.MustRegister(Spec{Name: "a"}) })
}

func TestRegistry_EnabledGroupsAndTerminal(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		Spec{Name: "geocode", Run: noop},
		Spec{Name: "permits", Deps: []string{"geocode"}, Group: "extensive", Run: noop},
		Spec{Name: "flood", Deps: []string{"geocode"}, Run: noop},
		Spec{Name: "dossier", Terminal: true, Run: noop},
	)

	core := r.Enabled(nil)
	require.Len(t, core, 3)
	assert.Equal(t, "geocode", core[0].Name)
	assert.Equal(t, "flood", core[1].Name)
	assert.Equal(t, []string{"geocode", "flood"}, core[2].Deps)

	ext := r.Enabled([]string{"extensive"})
	require.Len(t, ext, 4)
	assert.Equal(t, []string{"geocode", "permits", "flood"}, ext[3].Deps)

	// The registry's own spec is untouched.
	d, ok := r.Get("dossier")
	require.True(t, ok)
	assert.Empty(t, d.Deps)
	assert.Equal(t, []string{GroupCore, "extensive"}, r.Groups())
}

func TestRegistry_EnabledFoldsAfter(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		Spec{Name: "parcel", Run: noop},
		Spec{Name: "permits", Deps: []string{"parcel"}, Group: "extensive", Run: noop},
		Spec{Name: "risk", Deps: []string{"parcel"}, After: []string{"permits"}, Run: noop},
	)

	core := r.Enabled(nil)
	require.Len(t, core, 2)
	assert.Equal(t, []string{"parcel"}, core[1].Deps)
	_, err := BuildGraph(core)
	require.NoError(t, err)

	ext := r.Enabled([]string{"extensive"})
	require.Len(t, ext, 3)
	assert.Equal(t, []string{"parcel", "permits"}, ext[2].Deps)
	g, err := BuildGraph(ext)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"parcel"}, {"permits"}, {"risk"}}, g.Waves())

	risk, _ := r.Get("risk")
	assert.Equal(t, []string{"parcel"}, risk.Deps)
}

func TestRegistry_ApplyFatal(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Spec{Name: "a", Run: noop, Fatal: true}, Spec{Name: "b", Run: noop})

	require.NoError(t, r.ApplyFatal([]string{"b"}))
	a, _ := r.Get("a")
	b, _ := r.Get("b")
	assert.False(t, a.Fatal)
	assert.True(t, b.Fatal)

	err := r.ApplyFatal([]string{"missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing"`)
}
