package graph

import (
	"fmt"
	"strings"
)

// CircularDependencyError represents a constructor-time cycle between services.
type CircularDependencyError struct {
	Node NodeKey
	Path []NodeKey
}

func (e CircularDependencyError) Error() string {
	var b strings.Builder
	b.WriteString("circular dependency detected:\n\n")

	path := e.Path
	if len(path) == 0 {
		path = []NodeKey{e.Node}
	}
	for i, node := range path {
		b.WriteString(fmt.Sprintf("    %s\n", node))
		if i < len(path)-1 {
			b.WriteString("      ↓\n")
		}
	}
	b.WriteString("      ↓\n")
	b.WriteString(fmt.Sprintf("    %s (cycle)\n", path[0]))

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Take a deferred producer instead of the service in one constructor\n")
	b.WriteString("  • Resolve the service in an init hook through the producer\n")

	return b.String()
}

// UndefinedDependencyError indicates a constructor parameter with no type.
type UndefinedDependencyError struct {
	Provider string
	Index    int
	Params   []Dependency
}

func (e UndefinedDependencyError) Error() string {
	names := make([]string, len(e.Params))
	for i, p := range e.Params {
		switch {
		case p.Kind == Marker:
			names[i] = "<marker>"
		case p.Name == "":
			names[i] = "undefined"
		default:
			names[i] = p.Name
		}
	}
	return fmt.Sprintf("undefined dependency for %s at parameter %d: %s",
		e.Provider, e.Index, strings.Join(names, ", "))
}

// UnknownDependencyError indicates a parameter naming a type that is neither
// registered nor supplied by a leaf handler.
type UnknownDependencyError struct {
	Provider string
	Name     string
}

func (e UnknownDependencyError) Error() string {
	return fmt.Sprintf("dependency %s of %s is neither a registered service nor a leaf type", e.Name, e.Provider)
}
