package mesh

import (
	"log"
	"math"
	"sort"
)

// SortCornersCCW orders four corners counter-clockwise around their centroid
// and rotates the result so the bottom-left corner comes first. "Bottom" uses
// the screen convention: the two corners with the largest Y are the bottom
// pair, and the one with the smaller X of those two starts the sequence.
//
// The result maps to unit-square coordinates as
// [0]=(0,0) [1]=(1,0) [2]=(1,1) [3]=(0,1). Convexity is not checked here.
func SortCornersCCW(corners []Point) ([]Point, bool) {
	order, ok := cornerOrder(corners)
	if !ok {
		return nil, false
	}
	sorted := make([]Point, 4)
	for i, idx := range order {
		sorted[i] = corners[idx]
	}
	return sorted, true
}

// cornerOrder returns the permutation SortCornersCCW applies, so that callers
// carrying data alongside each corner (identifiers, anchors) can reorder it
// the same way.
func cornerOrder(corners []Point) ([4]int, bool) {
	var order [4]int
	if len(corners) != 4 {
		log.Printf("[MESH] SortCornersCCW requires exactly 4 corners, got %d", len(corners))
		return order, false
	}

	var cx, cy float64
	for _, c := range corners {
		cx += c.X
		cy += c.Y
	}
	cx /= 4
	cy /= 4

	angles := make([]float64, 4)
	for i, c := range corners {
		angles[i] = math.Atan2(c.Y-cy, c.X-cx)
		order[i] = i
	}
	sort.SliceStable(order[:], func(a, b int) bool {
		return angles[order[a]] < angles[order[b]]
	})

	byY := order
	sort.SliceStable(byY[:], func(a, b int) bool {
		return corners[byY[a]].Y > corners[byY[b]].Y
	})
	bottomLeft := byY[0]
	if corners[byY[1]].X < corners[bottomLeft].X {
		bottomLeft = byY[1]
	}

	start := 0
	for i, idx := range order {
		if idx == bottomLeft {
			start = i
			break
		}
	}

	var rotated [4]int
	for i := range rotated {
		rotated[i] = order[(start+i)%4]
	}
	return rotated, true
}

// IsValidQuad reports whether four corners, taken in order, form a simple
// (non self-intersecting) quadrilateral. A quad whose opposite edges cross or
// touch is a "bowtie" and cannot be used for bilinear projection.
func IsValidQuad(corners []Point) bool {
	if len(corners) != 4 {
		log.Printf("[MESH] IsValidQuad requires exactly 4 corners, got %d", len(corners))
		return false
	}
	a, b, c, d := corners[0], corners[1], corners[2], corners[3]

	if SegmentsIntersect(a, b, c, d) {
		log.Printf("[MESH] invalid quad: edges AB and CD intersect")
		return false
	}
	if SegmentsIntersect(b, c, d, a) {
		log.Printf("[MESH] invalid quad: edges BC and DA intersect")
		return false
	}
	return true
}

// SegmentsIntersect reports whether segment p1-p2 intersects segment p3-p4.
// Collinear overlap and endpoint contact count as intersections.
func SegmentsIntersect(p1, p2, p3, p4 Point) bool {
	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}
	return false
}

// direction is the orientation of c relative to the directed line a→b.
func direction(a, b, c Point) float64 {
	return (c.X-a.X)*(b.Y-a.Y) - (b.X-a.X)*(c.Y-a.Y)
}

// onSegment assumes a, b, c are collinear.
func onSegment(a, b, c Point) bool {
	return math.Min(a.X, b.X) <= c.X && c.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= c.Y && c.Y <= math.Max(a.Y, b.Y)
}

// PointInQuad tests whether p lies inside the quad using ray casting.
// Points exactly on an edge may fall either way.
func PointInQuad(p Point, quad []Point) bool {
	if len(quad) != 4 {
		return false
	}
	inside := false
	j := 3
	for i := 0; i < 4; i++ {
		vi, vj := quad[i], quad[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) {
			x := (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if p.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// QuadsIntersect reports whether two quads share any area or touch along an
// edge. Used to derive neighbour relations between zones.
func QuadsIntersect(a, b []Point) bool {
	if len(a) != 4 || len(b) != 4 {
		log.Printf("[MESH] QuadsIntersect: invalid quad, A has %d points, B has %d", len(a), len(b))
		return false
	}
	for _, v := range a {
		if PointInQuad(v, b) {
			return true
		}
	}
	for _, v := range b {
		if PointInQuad(v, a) {
			return true
		}
	}
	for i := 0; i < 4; i++ {
		a1, a2 := a[i], a[(i+1)%4]
		for j := 0; j < 4; j++ {
			if SegmentsIntersect(a1, a2, b[j], b[(j+1)%4]) {
				return true
			}
		}
	}
	return false
}
