// Package graph defines the project DAG the scheduler traverses.
//
// A DAG value is one of Leaf, Parent, or Aggregate. Nodes are created once
// per assembly and shared: when two projects depend on the same upstream,
// both parents reference the identical node pointer, which is what lets
// traversal memoize per node identity.
package graph

import "github.com/roach88/anvil/internal/compile"

// Dag is one node of the project graph.
type Dag interface {
	dagNode()
}

// Leaf is a project with no dependencies.
type Leaf struct {
	Project compile.Project
}

// Parent is a project with dependencies.
type Parent struct {
	Project  compile.Project
	Children []Dag
}

// Aggregate is a root-less fan-out used when several independent DAGs are
// scheduled together.
type Aggregate struct {
	Dags []Dag
}

func (*Leaf) dagNode()      {}
func (*Parent) dagNode()    {}
func (*Aggregate) dagNode() {}

// ProjectOf returns the node's project. Aggregates carry no project and
// return false.
func ProjectOf(d Dag) (compile.Project, bool) {
	switch n := d.(type) {
	case *Leaf:
		return n.Project, true
	case *Parent:
		return n.Project, true
	default:
		return compile.Project{}, false
	}
}

// ChildrenOf returns the node's children (nil for leaves).
func ChildrenOf(d Dag) []Dag {
	switch n := d.(type) {
	case *Parent:
		return n.Children
	case *Aggregate:
		return n.Dags
	default:
		return nil
	}
}

// Projects returns every distinct project in the DAG, dependencies first.
func Projects(d Dag) []compile.Project {
	seen := make(map[Dag]bool)
	var out []compile.Project

	var walk func(Dag)
	walk = func(n Dag) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range ChildrenOf(n) {
			walk(c)
		}
		if p, ok := ProjectOf(n); ok {
			out = append(out, p)
		}
	}
	walk(d)
	return out
}
