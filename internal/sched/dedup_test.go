package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

func TestDedup_TwoClientsOneCompilation(t *testing.T) {
	fc := newFakeCompiler()
	fc.on("a", okWithDelay(200*time.Millisecond))
	fio := newFakeIO()
	s := newTestScheduler(fc, fio)

	base := t.TempDir()
	client1 := &testClient{id: "c1", base: base}
	client2 := &testClient{id: "c2", base: base}
	rep1 := &orderedReporter{}
	rep2 := &orderedReporter{}

	var wg sync.WaitGroup
	var node1, node2 *ResultNode
	var err1, err2 error

	wg.Add(1)
	go func() {
		defer wg.Done()
		node1, err1 = s.Compile(context.Background(), client1, leaf("a"),
			inputsFor(client1, rep1, nil), nil, false)
	}()

	time.Sleep(50 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		node2, err2 = s.Compile(context.Background(), client2, leaf("a"),
			inputsFor(client2, rep2, nil), nil, false)
	}()

	wg.Wait()
	require.NoError(t, err1)
	require.NoError(t, err2)

	// Exactly one compile per distinct fingerprint.
	assert.Equal(t, 1, fc.callCount("a"))

	require.IsType(t, &PartialSuccess{}, node1.Result)
	require.IsType(t, &PartialSuccess{}, node2.Result)

	// Both reporters observed the same events in the same order.
	expected := []string{"start-compilation", "start-incremental-cycle", "end-compilation"}
	assert.Equal(t, expected, rep1.snapshot())
	assert.Equal(t, expected, rep2.snapshot())

	// The deduplicated client's own classes directory was populated.
	aProj := compile.Project{Name: "a"}
	assert.Equal(t, 1, fio.copiesTo(client2.UniqueClassesDirFor(aProj)))
}

func TestDedup_RefcountBumpedOncePerFingerprintMiss(t *testing.T) {
	fc := newFakeCompiler()

	observed := make(chan int, 1)
	release := make(chan struct{})
	fc.on("p", func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
		<-release
		return okBundle(in, "/p/v2"), nil
	})

	fio := newFakeIO()
	s := newTestScheduler(fc, fio)
	proj := compile.Project{Name: "p"}

	// A previous successful output exists with no live holders.
	v1 := compile.NewLastSuccessful(proj, "/p/v1", nil, task.Completed(task.Unit{}))
	s.State().RegisterLastSuccessful(v1)
	require.Equal(t, 0, s.State().DirCount("/p/v1"))

	base := t.TempDir()
	client1 := &testClient{id: "c1", base: base}
	client2 := &testClient{id: "c2", base: base}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Compile(context.Background(), client1, leaf("p"),
			inputsFor(client1, nil, nil), nil, false)
	}()

	// Let client1 claim the fingerprint, then observe the count with the
	// compile still in flight.
	require.Eventually(t, func() bool { return s.State().RunningCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	observed <- s.State().DirCount("/p/v1")

	go func() {
		defer wg.Done()
		_, _ = s.Compile(context.Background(), client2, leaf("p"),
			inputsFor(client2, nil, nil), nil, false)
	}()

	time.Sleep(50 * time.Millisecond)
	// The deduplicated subscriber must not bump: still one holder.
	assert.Equal(t, 1, s.State().DirCount("/p/v1"))
	assert.Equal(t, 1, <-observed)

	close(release)
	wg.Wait()
}

func TestDedup_DisplacedDirectoryDeletedOnceAfterPopulating(t *testing.T) {
	fc := newFakeCompiler()

	var orderMu sync.Mutex
	var order []string
	logStep := func(step string) {
		orderMu.Lock()
		defer orderMu.Unlock()
		order = append(order, step)
	}

	proj := compile.Project{Name: "p"}
	fc.on("p", func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
		time.Sleep(100 * time.Millisecond)
		succ := compile.NewLastSuccessful(proj, "/p/v2", nil,
			task.New(func(ctx context.Context) (task.Unit, error) {
				logStep("populate-v2")
				return task.Unit{}, nil
			}))
		return &compile.ResultBundle{
			Result:     compile.OkResult(compile.Products{NewClassesDir: "/p/v2"}),
			Successful: succ,
		}, nil
	})

	fio := newFakeIO()
	fio.onDelete = func(path string) { logStep("delete:" + path) }
	s := newTestScheduler(fc, fio)

	v1 := compile.NewLastSuccessful(proj, "/p/v1", nil,
		task.New(func(ctx context.Context) (task.Unit, error) {
			logStep("populate-v1")
			return task.Unit{}, nil
		}))
	s.State().RegisterLastSuccessful(v1)

	base := t.TempDir()
	client1 := &testClient{id: "c1", base: base}
	client2 := &testClient{id: "c2", base: base}

	var wg sync.WaitGroup
	wg.Add(2)
	for _, c := range []*testClient{client1, client2} {
		go func(c *testClient) {
			defer wg.Done()
			_, _ = s.Compile(context.Background(), c, leaf("p"),
				inputsFor(c, nil, nil), nil, false)
		}(c)
	}
	wg.Wait()

	// The new record replaced the old.
	ls, ok := s.State().LastSuccessfulFor(proj)
	require.True(t, ok)
	assert.Equal(t, "/p/v2", ls.ClassesDir)

	// v1 deleted exactly once, after both populating steps completed.
	require.Eventually(t, func() bool { return fio.deleteCount("/p/v1") == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fio.deleteCount("/p/v1"), "deletion must happen exactly once")

	orderMu.Lock()
	defer orderMu.Unlock()
	idx := func(step string) int {
		for i, s := range order {
			if s == step {
				return i
			}
		}
		return -1
	}
	require.GreaterOrEqual(t, idx("populate-v1"), 0)
	require.GreaterOrEqual(t, idx("populate-v2"), 0)
	require.GreaterOrEqual(t, idx("delete:/p/v1"), 0)
	assert.Less(t, idx("populate-v1"), idx("delete:/p/v1"), "populate displaced record before deleting it")
	assert.Less(t, idx("populate-v2"), idx("delete:/p/v1"), "populate successor before deleting predecessor")
	assert.Equal(t, 0, s.State().DirCount("/p/v1"))
}

func TestDedup_LateSubscriberCancelDoesNotCancelCompile(t *testing.T) {
	fc := newFakeCompiler()
	fc.on("a", okWithDelay(300*time.Millisecond))
	fio := newFakeIO()
	s := newTestScheduler(fc, fio)

	base := t.TempDir()
	client1 := &testClient{id: "c1", base: base}
	client2 := &testClient{id: "c2", base: base}

	var wg sync.WaitGroup
	var node1 *ResultNode
	var err1 error

	wg.Add(1)
	go func() {
		defer wg.Done()
		node1, err1 = s.Compile(context.Background(), client1, leaf("a"),
			inputsFor(client1, nil, nil), nil, false)
	}()

	time.Sleep(50 * time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Compile(ctx2, client2, leaf("a"),
			inputsFor(client2, nil, nil), nil, false)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel2()

	err2 := <-errCh
	assert.ErrorIs(t, err2, context.Canceled)

	wg.Wait()
	require.NoError(t, err1)
	require.IsType(t, &PartialSuccess{}, node1.Result, "origin compile must run to completion")
	assert.Equal(t, 1, fc.callCount("a"))

	// The cancelled subscriber's per-client copy was never performed.
	aProj := compile.Project{Name: "a"}
	assert.Equal(t, 0, fio.copiesTo(client2.UniqueClassesDirFor(aProj)))
}

func TestDedup_MissingPreviousDirectorySubstitutesEmptyRecord(t *testing.T) {
	fc := newFakeCompiler()

	var sawPrevious *compile.LastSuccessful
	fc.on("p", func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
		sawPrevious = in.Bundle.LastSuccessful
		return okBundle(in, "/p/v2"), nil
	})

	fio := newFakeIO()
	fio.missing["/p/gone"] = true
	s := newTestScheduler(fc, fio)

	proj := compile.Project{Name: "p"}
	s.State().RegisterLastSuccessful(
		compile.NewLastSuccessful(proj, "/p/gone", nil, task.Completed(task.Unit{})))

	client := &testClient{id: "c1", base: t.TempDir()}
	_, err := s.Compile(context.Background(), client, leaf("p"),
		inputsFor(client, nil, nil), nil, false)
	require.NoError(t, err)

	require.NotNil(t, sawPrevious)
	assert.True(t, sawPrevious.IsEmpty(), "vanished directory must yield an empty record")
}

func TestDedup_ReplaySurfacesPreviousProblems(t *testing.T) {
	fc := newFakeCompiler()
	fc.on("p", okWithDelay(200*time.Millisecond))
	s := newTestScheduler(fc, newFakeIO())

	proj := compile.Project{Name: "p"}
	analysis := &compile.Analysis{Problems: []compile.Problem{
		{Severity: compile.SeverityWarning, Message: "old warning"},
	}}
	prev := compile.NewLastSuccessful(proj, "/p/v1", analysis, task.Completed(task.Unit{}))
	s.State().RegisterLastSuccessful(prev)

	base := t.TempDir()
	client1 := &testClient{id: "c1", base: base}
	client2 := &testClient{id: "c2", base: base}
	rep2 := &orderedReporter{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Compile(context.Background(), client1, leaf("p"),
			inputsFor(client1, nil, nil), nil, false)
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, _ = s.Compile(context.Background(), client2, leaf("p"),
			inputsFor(client2, rep2, nil), nil, false)
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		calls := rep2.snapshot()
		return len(calls) > 0 && calls[0] == "problem:old warning"
	}, 2*time.Second, 10*time.Millisecond, "previous problems surface at replay start")
}
