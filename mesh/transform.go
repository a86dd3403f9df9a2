package mesh

import (
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// AffineMatrix is a 2D affine transform:
//
//	x' = A*x + B*y + Tx
//	y' = C*x + D*y + Ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns the identity transform.
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, D: 1}
}

// TransformPoint applies an affine transform to a point.
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2.
// Applying result is equivalent to applying m2 first, then m1.
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// InvertMatrix computes the inverse of an affine transform.
// Returns identity if the matrix is singular.
func InvertMatrix(m AffineMatrix) AffineMatrix {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-10 {
		return Identity()
	}

	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}
}

// Translation creates a translation-only transform.
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, Tx: tx, D: 1, Ty: ty}
}

// RotationDeg creates a rotation transform around the origin.
func RotationDeg(degrees float64) AffineMatrix {
	rad := degrees * math.Pi / 180.0
	cos, sin := math.Cos(rad), math.Sin(rad)
	return AffineMatrix{A: cos, B: -sin, C: sin, D: cos}
}

// Scale creates a scaling transform.
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, D: sy}
}

// MapScale converts between map pixels and meters.
type MapScale struct {
	PixelsPerMeter float64 `json:"pixelsPerMeter" yaml:"pixelsPerMeter"`
}

// Matrix is the pixel to meter transform.
func (s MapScale) Matrix() AffineMatrix {
	return Scale(1/s.PixelsPerMeter, 1/s.PixelsPerMeter)
}

// ToMeters converts a map pixel position into meters.
func (s MapScale) ToMeters(p Point) Point {
	return TransformPoint(p, s.Matrix())
}

// ToPixels converts a position in meters into map pixels.
func (s MapScale) ToPixels(p Point) Point {
	return TransformPoint(p, InvertMatrix(s.Matrix()))
}

// Pixels converts a length in meters into map pixels.
func (s MapScale) Pixels(meters float64) float64 {
	return meters * s.PixelsPerMeter
}

// Distance calculates the Euclidean distance between two points.
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// GroundPlane is a coarse whole-map approximation of the 2D to 3D mapping:
// an affine fit for the horizontal axes plus a planar fit for height.
type GroundPlane struct {
	XY AffineMatrix `json:"xy"`
	// Height row: z = Z.A*x + Z.B*y + Z.Tx. The C/D/Ty entries are unused.
	Z AffineMatrix `json:"z"`
}

// Apply maps a map point into the reference frame.
func (g GroundPlane) Apply(p Point) r3.Vec {
	xy := TransformPoint(p, g.XY)
	return r3.Vec{X: xy.X, Y: xy.Y, Z: g.Z.A*p.X + g.Z.B*p.Y + g.Z.Tx}
}

// FitGroundPlane fits a GroundPlane to anchored correspondences by least
// squares. Two pairs give a similarity transform with constant height; three
// or more non-collinear pairs give a full affine fit.
func FitGroundPlane(mapPts []Point, world []r3.Vec) (GroundPlane, bool) {
	n := len(mapPts)
	if n < 2 || n != len(world) {
		return GroundPlane{}, false
	}

	horiz := make([]Point, n)
	height := make([]Point, n)
	var meanZ float64
	for i, w := range world {
		horiz[i] = Point{X: w.X, Y: w.Y}
		height[i] = Point{X: w.Z}
		meanZ += w.Z
	}
	meanZ /= float64(n)

	if n == 2 {
		xy, ok := similarityFromPairs(mapPts, horiz)
		if !ok {
			return GroundPlane{}, false
		}
		return GroundPlane{XY: xy, Z: AffineMatrix{Tx: meanZ}}, true
	}

	xy, ok := affineFromPairs(mapPts, horiz)
	if !ok {
		log.Printf("[MESH] ground plane fit failed: anchors are collinear")
		return GroundPlane{}, false
	}
	z, _ := affineFromPairs(mapPts, height)
	return GroundPlane{XY: xy, Z: z}, true
}

// similarityFromPairs computes translation + rotation + uniform scale from
// two point pairs.
func similarityFromPairs(source, target []Point) (AffineMatrix, bool) {
	sx := source[1].X - source[0].X
	sy := source[1].Y - source[0].Y
	srcLen := math.Sqrt(sx*sx + sy*sy)

	tx := target[1].X - target[0].X
	ty := target[1].Y - target[0].Y
	tgtLen := math.Sqrt(tx*tx + ty*ty)

	if srcLen < 1e-10 || tgtLen < 1e-10 {
		return Identity(), false
	}

	scale := tgtLen / srcLen
	angle := (math.Atan2(ty, tx) - math.Atan2(sy, sx)) * 180 / math.Pi

	// Move source[0] to the origin, rotate and scale, then move to target[0].
	m := Translation(-source[0].X, -source[0].Y)
	m = MultiplyMatrices(Scale(scale, scale), m)
	m = MultiplyMatrices(RotationDeg(angle), m)
	m = MultiplyMatrices(Translation(target[0].X, target[0].Y), m)
	return m, true
}

// affineFromPairs solves the normal equations of
// [x' y'] = [x y 1] * [[a c] [b d] [tx ty]] with Cramer's rule.
func affineFromPairs(source, target []Point) (AffineMatrix, bool) {
	n := float64(len(source))

	var sumX, sumY, sumXX, sumXY, sumYY float64
	var sumXp, sumYp, sumXXp, sumXYp, sumYXp, sumYYp float64

	for i := range source {
		x, y := source[i].X, source[i].Y
		xp, yp := target[i].X, target[i].Y

		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
		sumYY += y * y
		sumXp += xp
		sumYp += yp
		sumXXp += x * xp
		sumXYp += x * yp
		sumYXp += y * xp
		sumYYp += y * yp
	}

	det := sumXX*(sumYY*n-sumY*sumY) - sumXY*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumY-sumYY*sumX)
	if math.Abs(det) < 1e-10 {
		return Identity(), false
	}
	invDet := 1.0 / det

	detA := sumXXp*(sumYY*n-sumY*sumY) - sumXY*(sumYXp*n-sumY*sumXp) + sumX*(sumYXp*sumY-sumYY*sumXp)
	detB := sumXX*(sumYXp*n-sumY*sumXp) - sumXXp*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumXp-sumYXp*sumX)
	detTx := sumXX*(sumYY*sumXp-sumYXp*sumY) - sumXY*(sumXY*sumXp-sumYXp*sumX) + sumXXp*(sumXY*sumY-sumYY*sumX)

	detC := sumXYp*(sumYY*n-sumY*sumY) - sumXY*(sumYYp*n-sumY*sumYp) + sumX*(sumYYp*sumY-sumYY*sumYp)
	detD := sumXX*(sumYYp*n-sumY*sumYp) - sumXYp*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumYp-sumYYp*sumX)
	detTy := sumXX*(sumYY*sumYp-sumYYp*sumY) - sumXY*(sumXY*sumYp-sumYYp*sumX) + sumXYp*(sumXY*sumY-sumYY*sumX)

	return AffineMatrix{
		A: detA * invDet, B: detB * invDet, Tx: detTx * invDet,
		C: detC * invDet, D: detD * invDet, Ty: detTy * invDet,
	}, true
}
