package graph_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/crufters/actio/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type provider struct {
	name string
	deps []graph.Dependency
}

func (p *provider) GetName() string                     { return p.name }
func (p *provider) GetDependencies() []graph.Dependency { return p.deps }

func svc(name string) graph.Dependency  { return graph.Dependency{Kind: graph.Service, Name: name} }
func leaf(name string) graph.Dependency { return graph.Dependency{Kind: graph.Leaf, Name: name} }
func marker() graph.Dependency          { return graph.Dependency{Kind: graph.Marker} }

func lookupFrom(providers ...*provider) graph.LookupFunc {
	byName := make(map[string]graph.Provider, len(providers))
	for _, p := range providers {
		byName[p.name] = p
	}
	return func(name string) (graph.Provider, bool) {
		p, ok := byName[name]
		return p, ok
	}
}

func names(ps []graph.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.GetName()
	}
	return out
}

func TestResolve(t *testing.T) {
	t.Run("implicit dependencies are included", func(t *testing.T) {
		b := &provider{name: "B"}
		a := &provider{name: "A", deps: []graph.Dependency{svc("B")}}

		result, _, err := graph.Resolve([]graph.Provider{a}, lookupFrom(a, b), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, names(result))
	})

	t.Run("diamond is deduplicated", func(t *testing.T) {
		d := &provider{name: "D"}
		b := &provider{name: "B", deps: []graph.Dependency{svc("D")}}
		c := &provider{name: "C", deps: []graph.Dependency{svc("D")}}
		a := &provider{name: "A", deps: []graph.Dependency{svc("B"), svc("C")}}

		result, g, err := graph.Resolve([]graph.Provider{a, d}, lookupFrom(a, b, c, d), nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, names(result))
		assert.Equal(t, "A", result[0].GetName())
		assert.Equal(t, "D", result[1].GetName())
		assert.Equal(t, 4, g.Size())
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("leaf and marker parameters are skipped", func(t *testing.T) {
		a := &provider{name: "A", deps: []graph.Dependency{leaf("RedisClient"), marker(), svc("DataSource")}}
		isLeaf := func(name string) bool { return name == "DataSource" }

		result, g, err := graph.Resolve([]graph.Provider{a}, lookupFrom(a), isLeaf)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, names(result))
		assert.Empty(t, g.GetDependencies("A"))
	})

	t.Run("undefined parameter names the class", func(t *testing.T) {
		b := &provider{name: "B"}
		a := &provider{name: "A", deps: []graph.Dependency{svc("B"), svc("")}}

		_, _, err := graph.Resolve([]graph.Provider{a}, lookupFrom(a, b), nil)
		require.Error(t, err)

		var undefined *graph.UndefinedDependencyError
		require.True(t, errors.As(err, &undefined))
		assert.Equal(t, "A", undefined.Provider)
		assert.Equal(t, 1, undefined.Index)
		assert.Contains(t, err.Error(), "undefined dependency for A")
	})

	t.Run("unknown parameter is reported", func(t *testing.T) {
		a := &provider{name: "A", deps: []graph.Dependency{svc("Ghost")}}

		_, _, err := graph.Resolve([]graph.Provider{a}, lookupFrom(a), nil)

		var unknown *graph.UnknownDependencyError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "Ghost", unknown.Name)
	})

	t.Run("cycles terminate and are detectable", func(t *testing.T) {
		a := &provider{name: "A", deps: []graph.Dependency{svc("B")}}
		b := &provider{name: "B", deps: []graph.Dependency{svc("C")}}
		c := &provider{name: "C", deps: []graph.Dependency{svc("A")}}

		result, g, err := graph.Resolve([]graph.Provider{a}, lookupFrom(a, b, c), nil)
		require.NoError(t, err)
		assert.Len(t, result, 3)

		err = g.DetectCycles()
		require.Error(t, err)

		var cycle *graph.CircularDependencyError
		require.True(t, errors.As(err, &cycle))
		assert.Len(t, cycle.Path, 3)
		assert.Contains(t, err.Error(), "(cycle)")
	})
}

func TestDependencyGraph_ComplexCycles(t *testing.T) {
	tests := []struct {
		name          string
		providers     []*provider
		expectCycle   bool
		cycleIncludes []string
	}{
		{
			name:          "self-cycle",
			providers:     []*provider{{name: "Self", deps: []graph.Dependency{svc("Self")}}},
			expectCycle:   true,
			cycleIncludes: []string{"Self"},
		},
		{
			name: "diamond-no-cycle",
			providers: []*provider{
				{name: "D"},
				{name: "B", deps: []graph.Dependency{svc("D")}},
				{name: "C", deps: []graph.Dependency{svc("D")}},
				{name: "A", deps: []graph.Dependency{svc("B"), svc("C")}},
			},
		},
		{
			name: "producer breaks cycle",
			providers: []*provider{
				{name: "A", deps: []graph.Dependency{svc("B")}},
				{name: "B", deps: []graph.Dependency{marker()}},
			},
		},
		{
			name: "complex-multi-cycle",
			providers: []*provider{
				{name: "B", deps: []graph.Dependency{svc("C"), svc("D")}},
				{name: "C", deps: []graph.Dependency{svc("A")}},
				{name: "D"},
				{name: "A", deps: []graph.Dependency{svc("B")}},
			},
			expectCycle:   true,
			cycleIncludes: []string{"A", "B", "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.NewDependencyGraph()
			for _, p := range tt.providers {
				require.NoError(t, g.AddProvider(p))
			}

			err := g.DetectCycles()
			if !tt.expectCycle {
				assert.NoError(t, err)
				return
			}

			var cErr *graph.CircularDependencyError
			require.True(t, errors.As(err, &cErr), "expected CircularDependencyError, got %T: %v", err, err)

			path := make([]string, len(cErr.Path))
			for i, k := range cErr.Path {
				path[i] = string(k)
			}
			for _, expected := range tt.cycleIncludes {
				assert.Contains(t, path, expected)
			}
		})
	}
}

func TestDependencyGraph_Dependents(t *testing.T) {
	g := graph.NewDependencyGraph()
	require.NoError(t, g.AddProvider(&provider{name: "Log"}))
	require.NoError(t, g.AddProvider(&provider{name: "Users", deps: []graph.Dependency{svc("Log")}}))
	require.NoError(t, g.AddProvider(&provider{name: "Orders", deps: []graph.Dependency{svc("Log"), svc("Users")}}))

	assert.ElementsMatch(t, []graph.NodeKey{"Users", "Orders"}, g.GetDependents("Log"))
	assert.Equal(t, []graph.NodeKey{"Log", "Users"}, g.GetDependencies("Orders"))
	assert.True(t, g.HasNode("Users"))
	assert.False(t, g.HasNode("Missing"))
	assert.Nil(t, g.GetDependencies("Missing"))
}

func TestDependencyGraph_ConcurrentOperations(t *testing.T) {
	g := graph.NewDependencyGraph()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p := &provider{name: fmt.Sprintf("Service%d", idx)}
			if idx > 0 {
				p.deps = []graph.Dependency{svc(fmt.Sprintf("Service%d", idx-1))}
			}
			assert.NoError(t, g.AddProvider(p))
		}(i)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Size()
			_ = g.DetectCycles()
		}()
	}

	wg.Wait()

	assert.Equal(t, 10, g.Size())
	assert.NoError(t, g.DetectCycles())
}

func TestCircularDependencyError_Message(t *testing.T) {
	err := graph.CircularDependencyError{Node: "A", Path: []graph.NodeKey{"A", "B"}}
	msg := err.Error()

	assert.True(t, strings.HasPrefix(msg, "circular dependency detected"))
	assert.Contains(t, msg, "A (cycle)")
	assert.Contains(t, msg, "deferred producer")
}

func TestDependencyGraph_DetectCyclesIsStable(t *testing.T) {
	orders := [][]string{
		{"Zed", "Mid", "Alpha"},
		{"Alpha", "Zed", "Mid"},
		{"Mid", "Alpha", "Zed"},
	}
	for _, order := range orders {
		t.Run(strings.Join(order, ","), func(t *testing.T) {
			g := graph.NewDependencyGraph()
			for _, name := range order {
				require.NoError(t, g.AddProvider(&provider{name: name, deps: []graph.Dependency{svc(name)}}))
			}

			var cErr *graph.CircularDependencyError
			require.ErrorAs(t, g.DetectCycles(), &cErr)
			assert.Equal(t, graph.NodeKey("Alpha"), cErr.Node)
		})
	}
}
