package mlm

import "math"

// ElbowPick implements the elbow method: given ascending candidate k
// values and their matching within-cluster SSE, it returns the k whose
// point lies furthest (perpendicular distance) from the chord joining
// the curve's endpoints, along with a confidence score. len(ks) must be
// >= 3; ks and sse must be the same length and ks strictly ascending.
//
// Invariant under uniform scaling and constant offset of sse: scaling
// or shifting every sse value scales every distance by the same factor,
// so the argmax (and therefore the returned k) is unchanged.
func ElbowPick(ks []int, sse []float64) (optimalK int, confidence float64) {
	n := len(ks)
	x0, y0 := float64(ks[0]), sse[0]
	x1, y1 := float64(ks[n-1]), sse[n-1]
	dx, dy := x1-x0, y1-y0
	norm := math.Hypot(dx, dy)

	type cand struct {
		k    int
		dist float64
	}
	var interior []cand
	var sum float64
	for i := 1; i < n-1; i++ {
		var dist float64
		if norm > 0 {
			dist = math.Abs(dy*(float64(ks[i])-x0)-dx*(sse[i]-y0)) / norm
		}
		interior = append(interior, cand{k: ks[i], dist: dist})
		sum += dist
	}
	if len(interior) == 0 {
		return ks[n/2], 0
	}

	maxDist := interior[0].dist
	for _, c := range interior[1:] {
		if c.dist > maxDist {
			maxDist = c.dist
		}
	}
	// Among candidates within 1% of the max distance, prefer the
	// smallest k (the tie-break rule).
	best := interior[0]
	for _, c := range interior {
		if c.dist < maxDist*0.99 {
			continue
		}
		if c.k < best.k || best.dist < maxDist*0.99 {
			best = c
		}
	}
	mean := sum / float64(len(interior))
	if mean == 0 {
		return best.k, 0
	}
	return best.k, best.dist / mean
}
