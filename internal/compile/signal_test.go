package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJavaSignal_MergeAlgebra(t *testing.T) {
	cont := ContinueSignal()
	failA := FailFastSignal("a")
	failB := FailFastSignal("b")

	assert.True(t, cont.Merge(cont).Continue())

	got := cont.Merge(failA)
	assert.False(t, got.Continue())
	assert.Equal(t, []string{"a"}, got.FailedProjects())

	got = failA.Merge(cont)
	assert.Equal(t, []string{"a"}, got.FailedProjects())

	got = failA.Merge(failB)
	assert.Equal(t, []string{"a", "b"}, got.FailedProjects())
}

func TestJavaSignal_MergePreservesOrder(t *testing.T) {
	s := FailFastSignal("a").Merge(FailFastSignal("b")).Merge(FailFastSignal("c"))
	assert.Equal(t, []string{"a", "b", "c"}, s.FailedProjects())
}

func TestJavaSignal_ContinueIsEmpty(t *testing.T) {
	assert.True(t, ContinueSignal().Continue())
	assert.Empty(t, ContinueSignal().FailedProjects())
	assert.False(t, FailFastSignal("x").Continue())
}
