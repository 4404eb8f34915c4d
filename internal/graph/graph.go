package graph

import (
	"fmt"
	"slices"
	"sync"
)

// DependencyKind classifies a single constructor parameter of a provider.
type DependencyKind int

const (
	// Service parameters are other registered services and become graph edges.
	Service DependencyKind = iota

	// Leaf parameters are supplied by leaf handlers. They are counted but never expanded.
	Leaf

	// Marker parameters (deferred producers, the injector itself) carry no type to expand.
	Marker
)

// Dependency is one ordered constructor parameter.
type Dependency struct {
	Kind DependencyKind
	Name string
}

// Provider defines the interface for services that can be added to the graph.
type Provider interface {
	// GetName returns the class name this provider constructs
	GetName() string

	// GetDependencies returns the ordered constructor parameters
	GetDependencies() []Dependency
}

// LookupFunc finds a registered provider by class name.
type LookupFunc func(name string) (Provider, bool)

// DependencyGraph manages the dependency relationships between services.
// It provides cycle detection over service edges.
type DependencyGraph struct {
	mu    sync.RWMutex
	nodes map[NodeKey]*Node
	edges map[NodeKey][]NodeKey // adjacency list representation
}

// NodeKey uniquely identifies a node in the graph
type NodeKey string

// Node represents a service in the dependency graph
type Node struct {
	Key      NodeKey
	Provider Provider

	InDegree  int // number of dependents
	OutDegree int // number of dependencies

	Dependencies []NodeKey
	Dependents   []NodeKey
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[NodeKey]*Node),
		edges: make(map[NodeKey][]NodeKey),
	}
}

// AddProvider adds a provider to the graph. Only service-kind dependencies
// produce edges; leaf and marker parameters are not part of the graph.
func (g *DependencyGraph) AddProvider(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nodeKey := NodeKey(provider.GetName())

	node, exists := g.nodes[nodeKey]
	if !exists {
		node = &Node{Key: nodeKey}
		g.nodes[nodeKey] = node
	}
	node.Provider = provider

	dependencies := make([]NodeKey, 0, len(provider.GetDependencies()))
	for _, dep := range provider.GetDependencies() {
		if dep.Kind != Service || dep.Name == "" {
			continue
		}
		depKey := NodeKey(dep.Name)
		dependencies = append(dependencies, depKey)

		if _, exists := g.nodes[depKey]; !exists {
			g.nodes[depKey] = &Node{Key: depKey}
		}
	}

	node.Dependencies = dependencies
	g.edges[nodeKey] = dependencies
	g.updateDegrees()

	return nil
}

// updateDegrees recalculates in/out degrees for all nodes
func (g *DependencyGraph) updateDegrees() {
	for _, node := range g.nodes {
		node.InDegree = 0
		node.OutDegree = 0
		node.Dependents = node.Dependents[:0]
	}

	for from, tos := range g.edges {
		fromNode, exists := g.nodes[from]
		if !exists {
			continue
		}
		fromNode.OutDegree = len(tos)
		for _, to := range tos {
			if toNode, exists := g.nodes[to]; exists {
				toNode.InDegree++
				toNode.Dependents = append(toNode.Dependents, from)
			}
		}
	}
}

// DetectCycles checks if the graph contains any cycles
func (g *DependencyGraph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[NodeKey]bool)
	for _, key := range g.sortedKeys() {
		if visited[key] {
			continue
		}
		if err := g.detectCyclesFrom(key, visited); err != nil {
			return err
		}
	}

	return nil
}

// detectCyclesFrom performs DFS cycle detection from a specific node
func (g *DependencyGraph) detectCyclesFrom(start NodeKey, visited map[NodeKey]bool) error {
	type stackItem struct {
		key      NodeKey
		visiting bool
	}

	stack := []stackItem{{key: start, visiting: true}}
	visiting := make(map[NodeKey]bool)

	for len(stack) > 0 {
		item := stack[len(stack)-1]

		if !item.visiting {
			// Backtracking
			stack = stack[:len(stack)-1]
			delete(visiting, item.key)
			visited[item.key] = true
			continue
		}

		if visiting[item.key] {
			return &CircularDependencyError{
				Node: item.key,
				Path: g.findCyclePath(item.key),
			}
		}

		if visited[item.key] {
			stack = stack[:len(stack)-1]
			continue
		}

		visiting[item.key] = true
		stack[len(stack)-1].visiting = false

		for _, dep := range g.edges[item.key] {
			if !visited[dep] {
				stack = append(stack, stackItem{key: dep, visiting: true})
			}
		}
	}

	return nil
}

// findCyclePath reconstructs the cycle path through start for error reporting
func (g *DependencyGraph) findCyclePath(start NodeKey) []NodeKey {
	var path []NodeKey
	onPath := make(map[NodeKey]bool)

	var walk func(current NodeKey) bool
	walk = func(current NodeKey) bool {
		path = append(path, current)
		onPath[current] = true
		for _, next := range g.edges[current] {
			if next == start {
				return true
			}
			if !onPath[next] && walk(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if walk(start) {
		return path
	}
	return []NodeKey{start}
}

// sortedKeys returns node keys in insertion-independent order so that
// error reports are stable.
func (g *DependencyGraph) sortedKeys() []NodeKey {
	keys := make([]NodeKey, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// GetDependencies returns the direct service dependencies of a node
func (g *DependencyGraph) GetDependencies(name string) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, exists := g.nodes[NodeKey(name)]; exists {
		result := make([]NodeKey, len(node.Dependencies))
		copy(result, node.Dependencies)
		return result
	}

	return nil
}

// GetDependents returns services that depend on the given service
func (g *DependencyGraph) GetDependents(name string) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, exists := g.nodes[NodeKey(name)]; exists {
		result := make([]NodeKey, len(node.Dependents))
		copy(result, node.Dependents)
		return result
	}

	return nil
}

// HasNode checks if a node exists in the graph
func (g *DependencyGraph) HasNode(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, exists := g.nodes[NodeKey(name)]
	return exists
}

// Size returns the number of nodes in the graph
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// Resolve computes, for a set of root providers, the deduplicated transitive
// set of providers reachable through service parameters. Roots come first in
// the given order, followed by dependencies in depth-first discovery order.
//
// isLeaf reports whether a service-kind parameter name is actually supplied by
// a leaf handler; such parameters are skipped like leaf-kind ones. Cycles are
// tolerated here; use the returned graph's DetectCycles to report them.
func Resolve(roots []Provider, lookup LookupFunc, isLeaf func(name string) bool) ([]Provider, *DependencyGraph, error) {
	g := NewDependencyGraph()
	seen := make(map[string]bool)
	result := make([]Provider, 0, len(roots))

	add := func(p Provider) bool {
		if seen[p.GetName()] {
			return false
		}
		seen[p.GetName()] = true
		result = append(result, p)
		return true
	}

	for _, root := range roots {
		if root == nil {
			return nil, nil, fmt.Errorf("root provider cannot be nil")
		}
		add(root)
	}

	var expand func(p Provider) error
	expand = func(p Provider) error {
		for i, dep := range p.GetDependencies() {
			switch dep.Kind {
			case Leaf, Marker:
				continue
			}
			if dep.Name == "" {
				return &UndefinedDependencyError{Provider: p.GetName(), Index: i, Params: p.GetDependencies()}
			}
			if isLeaf != nil && isLeaf(dep.Name) {
				continue
			}
			next, ok := lookup(dep.Name)
			if !ok {
				return &UnknownDependencyError{Provider: p.GetName(), Name: dep.Name}
			}
			if add(next) {
				if err := expand(next); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := expand(root); err != nil {
			return nil, nil, err
		}
	}

	for _, p := range result {
		if err := g.AddProvider(leafless{p, isLeaf}); err != nil {
			return nil, nil, err
		}
	}

	return result, g, nil
}

// leafless hides service-kind parameters that resolve to leaf handlers so
// they do not appear as graph edges.
type leafless struct {
	Provider
	isLeaf func(string) bool
}

func (l leafless) GetDependencies() []Dependency {
	deps := l.Provider.GetDependencies()
	if l.isLeaf == nil {
		return deps
	}
	out := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Kind == Service && l.isLeaf(d.Name) {
			d.Kind = Leaf
		}
		out = append(out, d)
	}
	return out
}

// String returns a string representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("Node{%s, in:%d, out:%d}", string(n.Key), n.InDegree, n.OutDegree)
}
