package mlm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElbowPickMatchesKnownCurve(t *testing.T) {
	ks := []int{2, 3, 4, 5, 6}
	sse := []float64{1000, 600, 580, 570, 565}

	k, confidence := ElbowPick(ks, sse)

	require.Equal(t, 3, k)
	require.Greater(t, confidence, 0.0)
}

func TestElbowPickLinearCurveHasZeroConfidence(t *testing.T) {
	ks := []int{2, 3, 4, 5}
	sse := []float64{400, 300, 200, 100}

	k, confidence := ElbowPick(ks, sse)

	require.Contains(t, ks, k)
	require.False(t, math.IsNaN(confidence))
	require.Equal(t, 0.0, confidence)
}

func TestElbowPickInvariantUnderScaleAndOffset(t *testing.T) {
	ks := []int{2, 3, 4, 5, 6}
	base := []float64{1000, 600, 580, 570, 565}

	baseK, _ := ElbowPick(ks, base)

	scaled := make([]float64, len(base))
	for i, v := range base {
		scaled[i] = v*3.5 + 42
	}
	scaledK, _ := ElbowPick(ks, scaled)

	require.Equal(t, baseK, scaledK)
}

func TestElbowPickReturnsMemberOfInputSet(t *testing.T) {
	ks := []int{2, 3, 4, 5, 6, 7, 8}
	sse := []float64{900, 500, 420, 400, 390, 385, 382}

	k, _ := ElbowPick(ks, sse)

	require.Contains(t, ks, k)
}

func TestElbowPickTieBreaksTowardSmallerK(t *testing.T) {
	// Two interior points at (nearly) identical distance from the chord;
	// the smaller k must win.
	ks := []int{2, 3, 4, 5}
	sse := []float64{100, 50, 50, 0}

	k, _ := ElbowPick(ks, sse)

	require.Equal(t, 3, k)
}
