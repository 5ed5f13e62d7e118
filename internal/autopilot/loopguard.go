package autopilot

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix bounds how much of each side feeds the loop signature.
const signaturePrefix = 2000

// Loop patterns.
const (
	PatternAAA  = "aaa"  // three consecutive identical signatures
	PatternABAB = "abab" // strict two-cycle alternation
)

// LoopGuard detects stuck repetition between successive agent outputs and
// proposed next inputs. Purely deterministic; no external calls.
type LoopGuard struct {
	sigs []string // most recent last, at most 4 kept
}

// Signature computes the bounded repetition signature for one iteration.
func Signature(lastOutput, nextInput string) string {
	h := sha256.Sum256([]byte(clip(normalize(lastOutput)) + "\n---\n" + clip(normalize(nextInput))))
	return hex.EncodeToString(h[:])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func clip(s string) string {
	if len(s) > signaturePrefix {
		return s[:signaturePrefix]
	}
	return s
}

// Observe appends a signature and reports the detected pattern, if any.
func (g *LoopGuard) Observe(sig string) string {
	g.sigs = append(g.sigs, sig)
	if len(g.sigs) > 4 {
		g.sigs = g.sigs[len(g.sigs)-4:]
	}
	n := len(g.sigs)
	if n >= 3 && g.sigs[n-1] == g.sigs[n-2] && g.sigs[n-2] == g.sigs[n-3] {
		return PatternAAA
	}
	if n >= 4 && g.sigs[n-1] == g.sigs[n-3] && g.sigs[n-2] == g.sigs[n-4] && g.sigs[n-1] != g.sigs[n-2] {
		return PatternABAB
	}
	return ""
}

// Reset clears the history, e.g. after a successful loop break.
func (g *LoopGuard) Reset() {
	g.sigs = nil
}
