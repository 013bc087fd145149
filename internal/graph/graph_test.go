package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anvil/internal/compile"
)

func proj(name string) compile.Project {
	return compile.Project{Name: name}
}

func TestAssemble_SingleLeaf(t *testing.T) {
	d, err := Assemble([]Node{{Project: proj("a")}})
	require.NoError(t, err)

	leaf, ok := d.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, "a", leaf.Project.Name)
}

func TestAssemble_ParentChild(t *testing.T) {
	d, err := Assemble([]Node{
		{Project: proj("a")},
		{Project: proj("b"), DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	parent, ok := d.(*Parent)
	require.True(t, ok)
	assert.Equal(t, "b", parent.Project.Name)
	require.Len(t, parent.Children, 1)

	leaf, ok := parent.Children[0].(*Leaf)
	require.True(t, ok)
	assert.Equal(t, "a", leaf.Project.Name)
}

func TestAssemble_DiamondSharesNode(t *testing.T) {
	// d -> b, c; b -> a; c -> a. The "a" node must be one shared pointer.
	d, err := Assemble([]Node{
		{Project: proj("a")},
		{Project: proj("b"), DependsOn: []string{"a"}},
		{Project: proj("c"), DependsOn: []string{"a"}},
		{Project: proj("d"), DependsOn: []string{"b", "c"}},
	})
	require.NoError(t, err)

	root, ok := d.(*Parent)
	require.True(t, ok)
	require.Len(t, root.Children, 2)

	b := root.Children[0].(*Parent)
	c := root.Children[1].(*Parent)
	assert.Same(t, b.Children[0], c.Children[0], "shared dependency must be one node")
}

func TestAssemble_MultipleRootsBecomeAggregate(t *testing.T) {
	d, err := Assemble([]Node{
		{Project: proj("x")},
		{Project: proj("y")},
	})
	require.NoError(t, err)

	agg, ok := d.(*Aggregate)
	require.True(t, ok)
	assert.Len(t, agg.Dags, 2)
}

func TestAssemble_DuplicateProject(t *testing.T) {
	_, err := Assemble([]Node{
		{Project: proj("a")},
		{Project: proj("a")},
	})
	assert.ErrorContains(t, err, "duplicate project")
}

func TestAssemble_UnknownDependency(t *testing.T) {
	_, err := Assemble([]Node{
		{Project: proj("a"), DependsOn: []string{"ghost"}},
	})
	assert.ErrorContains(t, err, "unknown project")
}

func TestAssemble_CycleDetected(t *testing.T) {
	_, err := Assemble([]Node{
		{Project: proj("a"), DependsOn: []string{"b"}},
		{Project: proj("b"), DependsOn: []string{"a"}},
	})
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Path)
}

func TestProjects_DependenciesFirst(t *testing.T) {
	d, err := Assemble([]Node{
		{Project: proj("a")},
		{Project: proj("b"), DependsOn: []string{"a"}},
		{Project: proj("c"), DependsOn: []string{"b"}},
	})
	require.NoError(t, err)

	var names []string
	for _, p := range Projects(d) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
