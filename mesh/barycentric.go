package mesh

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// minFillSteps is the lower bound on barycentric grid subdivisions.
const minFillSteps = 5

// Barycentric returns the weights of p relative to triangle tri. The weights
// sum to 1 and may be negative or exceed 1 when p lies outside. ok is false
// for a degenerate triangle.
func Barycentric(p Point, tri []Point) (w1, w2, w3 float64, ok bool) {
	if len(tri) != 3 {
		log.Printf("[MESH] Barycentric requires exactly 3 vertices, got %d", len(tri))
		return 0, 0, 0, false
	}
	a, b, c := tri[0], tri[1], tri[2]

	if triangleArea(a, b, c) < degenerateArea {
		log.Printf("[MESH] degenerate triangle %v %v %v", a, b, c)
		return 0, 0, 0, false
	}

	den := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	w1 = ((b.Y-c.Y)*(p.X-c.X) + (c.X-b.X)*(p.Y-c.Y)) / den
	w2 = ((c.Y-a.Y)*(p.X-c.X) + (a.X-c.X)*(p.Y-c.Y)) / den
	w3 = 1 - w1 - w2
	return w1, w2, w3, true
}

func triangleArea(a, b, c Point) float64 {
	return math.Abs((b.X-a.X)*(c.Y-a.Y)-(c.X-a.X)*(b.Y-a.Y)) / 2
}

// PointInTriangle reports whether all barycentric weights of p are at least
// -eps.
func PointInTriangle(p Point, tri []Point, eps float64) bool {
	w1, w2, w3, ok := Barycentric(p, tri)
	if !ok {
		return false
	}
	return w1 >= -eps && w2 >= -eps && w3 >= -eps
}

// InterpolateOnTriangle applies the barycentric weights of p in tri2D to the
// corresponding 3D vertices. Points outside the triangle are extrapolated;
// callers that need containment should check PointInTriangle first.
func InterpolateOnTriangle(p Point, tri2D []Point, tri3D []r3.Vec) (r3.Vec, bool) {
	if len(tri3D) != 3 {
		log.Printf("[MESH] InterpolateOnTriangle requires 3 world vertices, got %d", len(tri3D))
		return r3.Vec{}, false
	}
	w1, w2, w3, ok := Barycentric(p, tri2D)
	if !ok {
		return r3.Vec{}, false
	}
	out := r3.Scale(w1, tri3D[0])
	out = r3.Add(out, r3.Scale(w2, tri3D[1]))
	out = r3.Add(out, r3.Scale(w3, tri3D[2]))
	return out, true
}

// GenerateTriangleFillPoints samples a triangle on an even barycentric grid.
// The subdivision count is sqrt(area / spacing²) in pixels, at least
// minFillSteps, and every grid node with non-negative weights is emitted,
// including the three vertices.
func GenerateTriangleFillPoints(tri []Point, spacingMeters, pixelsPerMeter float64) []Point {
	if len(tri) != 3 {
		return nil
	}
	a, b, c := tri[0], tri[1], tri[2]

	spacingPx := MapScale{PixelsPerMeter: pixelsPerMeter}.Pixels(spacingMeters)
	steps := minFillSteps
	if spacingPx > 0 {
		if n := int(math.Sqrt(triangleArea(a, b, c) / (spacingPx * spacingPx))); n > steps {
			steps = n
		}
	}

	out := make([]Point, 0, (steps+1)*(steps+2)/2)
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps-i; j++ {
			k := steps - i - j
			wi := float64(i) / float64(steps)
			wj := float64(j) / float64(steps)
			wk := float64(k) / float64(steps)
			out = append(out, Point{
				X: wi*a.X + wj*b.X + wk*c.X,
				Y: wi*a.Y + wj*b.Y + wk*c.Y,
			})
		}
	}
	return out
}

// FillRegion fills several triangles and removes the duplicates produced along
// shared edges. Two points are duplicates when their map-meter coordinates
// agree to two decimal places; the first occurrence wins.
func FillRegion(triangles [][]Point, spacingMeters, pixelsPerMeter float64) []Point {
	if pixelsPerMeter <= 0 {
		log.Printf("[MESH] FillRegion: pixelsPerMeter must be positive, got %g", pixelsPerMeter)
		return nil
	}
	seen := make(map[string]struct{})
	var out []Point
	for _, tri := range triangles {
		for _, p := range GenerateTriangleFillPoints(tri, spacingMeters, pixelsPerMeter) {
			key := FillKey(p, pixelsPerMeter)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// FillKey is the dedupe key used by FillRegion.
func FillKey(p Point, pixelsPerMeter float64) string {
	return fmt.Sprintf("%.2f,%.2f", p.X/pixelsPerMeter, p.Y/pixelsPerMeter)
}
