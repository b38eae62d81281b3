package saga

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Plan assembles steps with declared dependencies into the sequential
// list the Coordinator consumes. Execution is still strictly
// sequential; the plan only decides the order, deterministically: a
// stabilized topological sort with insertion order breaking ties.
type Plan struct {
	g      *simple.DirectedGraph
	steps  map[int64]Step
	byName map[string]int64
	nextID int64
}

// NewPlan creates an empty Plan.
func NewPlan() *Plan {
	return &Plan{
		g:      simple.NewDirectedGraph(),
		steps:  make(map[int64]Step),
		byName: make(map[string]int64),
	}
}

// Add registers a step. Every name in dependsOn must refer to a
// previously added step; duplicate step names are rejected.
func (p *Plan) Add(step Step, dependsOn ...string) error {
	name := step.Name()
	if name == "" {
		return fmt.Errorf("step has no name")
	}
	if _, exists := p.byName[name]; exists {
		return fmt.Errorf("step with name %q already exists", name)
	}

	id := p.nextID
	p.nextID++
	p.g.AddNode(simple.Node(id))
	p.steps[id] = step
	p.byName[name] = id

	for _, dep := range dependsOn {
		depID, ok := p.byName[dep]
		if !ok {
			return fmt.Errorf("step %q depends on unknown step %q", name, dep)
		}
		p.g.SetEdge(p.g.NewEdge(simple.Node(depID), simple.Node(id)))
	}
	return nil
}

// Build returns the steps in execution order. A dependency cycle is an
// error; an empty plan is ErrEmptyPlan.
func (p *Plan) Build() ([]Step, error) {
	if len(p.steps) == 0 {
		return nil, ErrEmptyPlan
	}

	sorted, err := topo.SortStabilized(p.g, func(nodes []graph.Node) {
		// Tie-break by node ID, i.e. insertion order.
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("plan has a dependency cycle: %w", err)
	}

	out := make([]Step, len(sorted))
	for i, node := range sorted {
		out[i] = p.steps[node.ID()]
	}
	return out, nil
}
