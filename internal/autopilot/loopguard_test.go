package autopilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopGuardAAA(t *testing.T) {
	g := &LoopGuard{}
	s := Signature("same output", "same input")
	assert.Empty(t, g.Observe(s))
	assert.Empty(t, g.Observe(s))
	assert.Equal(t, PatternAAA, g.Observe(s))
}

func TestLoopGuardABAB(t *testing.T) {
	g := &LoopGuard{}
	s1 := Signature("output one", "input one")
	s2 := Signature("output two", "input two")
	assert.Empty(t, g.Observe(s1))
	assert.Empty(t, g.Observe(s2))
	assert.Empty(t, g.Observe(s1))
	assert.Equal(t, PatternABAB, g.Observe(s2))
}

func TestLoopGuardNoFalsePositive(t *testing.T) {
	g := &LoopGuard{}
	assert.Empty(t, g.Observe(Signature("a", "1")))
	assert.Empty(t, g.Observe(Signature("b", "2")))
	assert.Empty(t, g.Observe(Signature("c", "3")))
	assert.Empty(t, g.Observe(Signature("d", "4")))
}

func TestLoopGuardReset(t *testing.T) {
	g := &LoopGuard{}
	s := Signature("x", "y")
	g.Observe(s)
	g.Observe(s)
	g.Reset()
	assert.Empty(t, g.Observe(s), "history cleared")
}

func TestSignatureNormalization(t *testing.T) {
	assert.Equal(t,
		Signature("Build   FAILED", "retry the build"),
		Signature("build failed", "Retry  The Build"),
	)
	assert.NotEqual(t,
		Signature("build failed", "retry"),
		Signature("build passed", "retry"),
	)
}

func TestSignatureBoundedForHugeInputs(t *testing.T) {
	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = 'x'
	}
	// Differences past the bounded prefix do not change the signature.
	a := Signature(string(big)+"tail-a", "next")
	b := Signature(string(big)+"tail-b", "next")
	assert.Equal(t, a, b)
}
