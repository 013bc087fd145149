package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/anvil/internal/compile"
)

// Node is the flat, pre-assembly description of one project and its direct
// dependencies, as loaded from workspace manifests.
type Node struct {
	Project   compile.Project
	DependsOn []string
}

// CycleError reports a dependency cycle with the path that closes it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Assemble builds the shared-node DAG from flat definitions.
//
// Projects that no other project depends on become the roots; with more
// than one root the result is an Aggregate. Sub-DAGs are shared by node
// pointer, so diamond dependencies memoize correctly during traversal.
//
// Returns an error for duplicate projects, unknown dependency names, or
// dependency cycles (with the offending path).
func Assemble(nodes []Node) (Dag, error) {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		id := n.Project.ID()
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate project %q", id)
		}
		byID[id] = n
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("project %q depends on unknown project %q", n.Project.ID(), dep)
			}
		}
	}

	built := make(map[string]Dag, len(nodes))
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(nodes))

	var build func(id string, path []string) (Dag, error)
	build = func(id string, path []string) (Dag, error) {
		if d, ok := built[id]; ok {
			return d, nil
		}
		if state[id] == visiting {
			cycle := append(append([]string{}, path...), id)
			return nil, &CycleError{Path: cycle}
		}

		state[id] = visiting
		n := byID[id]

		var d Dag
		if len(n.DependsOn) == 0 {
			d = &Leaf{Project: n.Project}
		} else {
			children := make([]Dag, 0, len(n.DependsOn))
			for _, dep := range n.DependsOn {
				child, err := build(dep, append(path, id))
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			d = &Parent{Project: n.Project, Children: children}
		}

		state[id] = done
		built[id] = d
		return d, nil
	}

	dependedOn := make(map[string]bool)
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			dependedOn[dep] = true
		}
	}

	var rootIDs []string
	for id := range byID {
		if !dependedOn[id] {
			rootIDs = append(rootIDs, id)
		}
	}
	sort.Strings(rootIDs)

	if len(rootIDs) == 0 && len(nodes) > 0 {
		// Every project is depended on by another: pure cycle.
		// Run build anyway to produce the cycle path.
		var ids []string
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		_, err := build(ids[0], nil)
		if err != nil {
			return nil, err
		}
		return nil, &CycleError{Path: ids}
	}

	roots := make([]Dag, 0, len(rootIDs))
	for _, id := range rootIDs {
		d, err := build(id, nil)
		if err != nil {
			return nil, err
		}
		roots = append(roots, d)
	}

	switch len(roots) {
	case 0:
		return &Aggregate{}, nil
	case 1:
		return roots[0], nil
	default:
		return &Aggregate{Dags: roots}, nil
	}
}
