package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/graph"
)

// concurrencyProbe tracks the peak number of simultaneous compiler
// invocations.
type concurrencyProbe struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (p *concurrencyProbe) enter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
}

func (p *concurrencyProbe) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current--
}

func (p *concurrencyProbe) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func TestPools_SequentialCompilesBoundedByComputeWidth(t *testing.T) {
	probe := &concurrencyProbe{}

	fc := newFakeCompiler()
	leaves := []string{"a", "b", "c", "d"}
	for _, name := range leaves {
		fc.on(name, func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
			probe.enter()
			defer probe.exit()
			time.Sleep(50 * time.Millisecond)
			return okBundle(in, ""), nil
		})
	}

	s := New(NewState(), fc, newFakeIO(),
		WithLogger(quietLogger()),
		WithPools(NewPools(1)),
	)
	client := &testClient{id: "c1", base: t.TempDir()}

	dags := make([]graph.Dag, len(leaves))
	for i, name := range leaves {
		dags[i] = leaf(name)
	}

	node, err := s.Compile(context.Background(), client, &graph.Aggregate{Dags: dags},
		inputsFor(client, nil, nil), nil, false)
	require.NoError(t, err)
	require.IsType(t, &PartialEmpty{}, node.Result)

	for _, name := range leaves {
		assert.Equal(t, 1, fc.callCount(name))
	}
	assert.Equal(t, 1, probe.Peak(),
		"independent leaves must not compile concurrently beyond the pool width")
}

func TestPools_PipelinedCompilesBoundedByComputeWidth(t *testing.T) {
	probe := &concurrencyProbe{}

	fc := newFakeCompiler()
	leaves := []string{"a", "b", "c"}
	for _, name := range leaves {
		fc.on(name, func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
			probe.enter()
			defer probe.exit()
			time.Sleep(50 * time.Millisecond)
			return okBundle(in, ""), nil
		})
	}

	s := New(NewState(), fc, newFakeIO(),
		WithLogger(quietLogger()),
		WithPools(NewPools(1)),
	)
	client := &testClient{id: "c1", base: t.TempDir()}

	dags := make([]graph.Dag, len(leaves))
	for i, name := range leaves {
		dags[i] = leaf(name)
	}

	node, err := s.Compile(context.Background(), client, &graph.Aggregate{Dags: dags},
		inputsFor(client, nil, nil), nil, true)
	require.NoError(t, err)
	require.IsType(t, &PartialEmpty{}, node.Result)

	assert.Equal(t, 1, probe.Peak())
}
