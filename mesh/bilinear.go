package mesh

import (
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// nearZero guards the coefficient and denominator tests of the inverse solver.
const nearZero = 1e-6

// InverseBilinear finds the unit-square coordinates (u, v) of p inside a quad
// whose corners are already ordered as returned by SortCornersCCW. It uses
// DefaultBoundaryEpsilon; see InverseBilinearEps.
func InverseBilinear(p Point, corners []Point) (u, v float64, ok bool) {
	return InverseBilinearEps(p, corners, DefaultBoundaryEpsilon)
}

// InverseBilinearEps solves P = A + u(B-A) + v(D-A) + uv(A-B+C-D) for (u, v).
//
// The bilinear map is reduced to k2·v² + k1·v + k0 = 0. When k2 is negligible
// the linear solution is used. Otherwise the root whose (u, v) lands inside
// [-eps, 1+eps] is chosen. The returned coordinates are clamped to [0, 1].
// ok is false when there is no real root, no root lands inside the cell, or
// the edges are degenerate.
func InverseBilinearEps(p Point, corners []Point, eps float64) (u, v float64, ok bool) {
	if len(corners) != 4 {
		log.Printf("[MESH] InverseBilinear requires exactly 4 corners, got %d", len(corners))
		return 0, 0, false
	}
	a, b, c, d := corners[0], corners[1], corners[2], corners[3]

	e := b.sub(a)
	f := d.sub(a)
	g := Point{X: a.X - b.X + c.X - d.X, Y: a.Y - b.Y + c.Y - d.Y}
	h := p.sub(a)

	k2 := cross(g, f)
	k1 := cross(e, f) + cross(h, g)
	k0 := cross(h, e)

	if math.Abs(k2) < nearZero {
		if math.Abs(k1) < nearZero {
			log.Printf("[MESH] degenerate quad (parallel edges)")
			return 0, 0, false
		}
		v = -k0 / k1
		u, ok = solveU(h, e, f, g, v)
		if !ok {
			return 0, 0, false
		}
		return clamp01(u), clamp01(v), true
	}

	disc := k1*k1 - 4*k2*k0
	if disc < 0 {
		return 0, 0, false
	}
	sq := math.Sqrt(disc)
	for _, vc := range [2]float64{(-k1 + sq) / (2 * k2), (-k1 - sq) / (2 * k2)} {
		uc, solved := solveU(h, e, f, g, vc)
		if !solved {
			continue
		}
		if uc >= -eps && uc <= 1+eps && vc >= -eps && vc <= 1+eps {
			return clamp01(uc), clamp01(vc), true
		}
	}
	return 0, 0, false
}

// solveU recovers u for a known v, preferring the X axis and falling back to
// Y when the X denominator vanishes.
func solveU(h, e, f, g Point, v float64) (float64, bool) {
	if den := e.X + g.X*v; math.Abs(den) > nearZero {
		return (h.X - f.X*v) / den, true
	}
	if den := e.Y + g.Y*v; math.Abs(den) > nearZero {
		return (h.Y - f.Y*v) / den, true
	}
	return 0, false
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// BilinearInterpolate maps unit-square coordinates onto four 3D corners:
// P = (1-u)(1-v)A + u(1-v)B + uv·C + (1-u)v·D.
func BilinearInterpolate(u, v float64, corners []r3.Vec) (r3.Vec, bool) {
	if len(corners) != 4 {
		log.Printf("[MESH] BilinearInterpolate requires exactly 4 corners, got %d", len(corners))
		return r3.Vec{}, false
	}
	w0 := (1 - u) * (1 - v)
	w1 := u * (1 - v)
	w2 := u * v
	w3 := (1 - u) * v
	out := r3.Scale(w0, corners[0])
	out = r3.Add(out, r3.Scale(w1, corners[1]))
	out = r3.Add(out, r3.Scale(w2, corners[2]))
	out = r3.Add(out, r3.Scale(w3, corners[3]))
	return out, true
}

// BilinearPoint is the 2D counterpart of BilinearInterpolate.
func BilinearPoint(u, v float64, corners []Point) (Point, bool) {
	if len(corners) != 4 {
		return Point{}, false
	}
	w0 := (1 - u) * (1 - v)
	w1 := u * (1 - v)
	w2 := u * v
	w3 := (1 - u) * v
	return Point{
		X: w0*corners[0].X + w1*corners[1].X + w2*corners[2].X + w3*corners[3].X,
		Y: w0*corners[0].Y + w1*corners[1].Y + w2*corners[2].Y + w3*corners[3].Y,
	}, true
}

// ProjectBilinear projects a map point through a quad in one step. Both
// corner slices must share the same CCW order.
func ProjectBilinear(p Point, corners2D []Point, corners3D []r3.Vec) (r3.Vec, bool) {
	return projectBilinearEps(p, corners2D, corners3D, DefaultBoundaryEpsilon)
}

func projectBilinearEps(p Point, corners2D []Point, corners3D []r3.Vec, eps float64) (r3.Vec, bool) {
	if len(corners2D) != 4 || len(corners3D) != 4 {
		log.Printf("[MESH] ProjectBilinear requires 4 corners in each set, got %d and %d",
			len(corners2D), len(corners3D))
		return r3.Vec{}, false
	}
	u, v, ok := InverseBilinearEps(p, corners2D, eps)
	if !ok {
		return r3.Vec{}, false
	}
	return BilinearInterpolate(u, v, corners3D)
}
