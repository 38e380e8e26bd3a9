package orchestrator

import (
	"fmt"
	"strings"

	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/stores"
)

// StepDef is one step as declared by a template.
type StepDef struct {
	Name      string   `json:"name" validate:"required"`
	DependsOn []string `json:"depends_on,omitempty"`
	Script    string   `json:"script"`
}

// GraphBuilder builds a directed acyclic graph from step definitions.
// It performs topological sorting and assigns execution levels.
type GraphBuilder struct {
	// defs maps step names to their definitions
	defs map[string]*StepDef

	// order is the declaration position of each step
	order map[string]int

	// dependents maps step names to the steps that depend on them
	dependents map[string][]string

	// inDegree tracks the number of unmet dependencies for each step
	inDegree map[string]int

	// levels holds step names grouped by execution level
	levels [][]string
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		defs:       make(map[string]*StepDef),
		order:      make(map[string]int),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// Plan orders defs so that every step follows its dependencies. Steps on
// the same level keep their declaration order, so the plan is stable.
func Plan(defs []StepDef) ([]stores.Step, error) {
	b := NewGraphBuilder()
	return b.Build(defs)
}

// Build validates defs, detects cycles, and returns the execution order.
func (b *GraphBuilder) Build(defs []StepDef) ([]stores.Step, error) {
	if err := b.initialize(defs); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	steps := make([]stores.Step, 0, len(defs))
	for _, level := range b.levels {
		for _, name := range level {
			def := b.defs[name]
			steps = append(steps, stores.Step{
				Index:     len(steps),
				Name:      def.Name,
				DependsOn: append([]string(nil), def.DependsOn...),
				Script:    def.Script,
			})
		}
	}
	return steps, nil
}

// initialize indexes defs and builds the dependency edges.
func (b *GraphBuilder) initialize(defs []StepDef) error {
	for i := range defs {
		def := &defs[i]
		if def.Name == "" {
			return engine.NewValidationError(fmt.Sprintf("step %d has no name", i), nil)
		}
		if _, exists := b.defs[def.Name]; exists {
			return engine.NewValidationError(fmt.Sprintf("duplicate step name: %s", def.Name), nil)
		}

		b.defs[def.Name] = def
		b.order[def.Name] = i
		b.inDegree[def.Name] = 0
	}

	for i := range defs {
		def := &defs[i]
		for _, dep := range def.DependsOn {
			if _, exists := b.defs[dep]; !exists {
				return engine.NewValidationError(
					fmt.Sprintf("step %s depends on unknown step %s", def.Name, dep), nil)
			}
			// dep must complete before def can start
			b.dependents[dep] = append(b.dependents[dep], def.Name)
			b.inDegree[def.Name]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to find circular dependencies.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	for _, name := range b.declared() {
		if visited[name] {
			continue
		}
		if cycle := b.visit(name, visited, onStack, nil); cycle != nil {
			return engine.NewValidationError(
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil)
		}
	}
	return nil
}

func (b *GraphBuilder) visit(name string, visited, onStack map[string]bool, path []string) []string {
	visited[name] = true
	onStack[name] = true
	path = append(path, name)

	for _, dependent := range b.dependents[name] {
		if !visited[dependent] {
			if cycle := b.visit(dependent, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string(nil), path[i:]...), dependent)
				}
			}
		}
	}

	onStack[name] = false
	return nil
}

// computeLevels runs Kahn's algorithm, one level at a time.
func (b *GraphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for name, degree := range b.inDegree {
		inDegree[name] = degree
	}

	var current []string
	for _, name := range b.declared() {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, dependent := range b.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		b.sortByDeclaration(next)
		current = next
	}

	if processed != len(b.defs) {
		return engine.NewValidationError("failed to order all steps, possible cycle", nil)
	}
	return nil
}

// declared returns step names in declaration order.
func (b *GraphBuilder) declared() []string {
	names := make([]string, len(b.defs))
	for name, i := range b.order {
		names[i] = name
	}
	return names
}

func (b *GraphBuilder) sortByDeclaration(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && b.order[names[j]] < b.order[names[j-1]]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}

// Levels returns the computed execution levels.
func (b *GraphBuilder) Levels() [][]string {
	return b.levels
}

// ToDOT generates a DOT representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (b *GraphBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Steps {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("    %q;\n", name))
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range b.declared() {
		for _, dep := range b.defs[name].DependsOn {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
