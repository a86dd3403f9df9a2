package mesh

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

const epsilon = 1e-10

// almostEqual checks if two floats are equal within epsilon tolerance
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// matricesEqual checks if two affine matrices are equal within epsilon tolerance
func matricesEqual(m1, m2 AffineMatrix) bool {
	return almostEqual(m1.A, m2.A) &&
		almostEqual(m1.B, m2.B) &&
		almostEqual(m1.Tx, m2.Tx) &&
		almostEqual(m1.C, m2.C) &&
		almostEqual(m1.D, m2.D) &&
		almostEqual(m1.Ty, m2.Ty)
}

func pointsEqual(p1, p2 Point) bool {
	return almostEqual(p1.X, p2.X) && almostEqual(p1.Y, p2.Y)
}

func TestTransformPoint(t *testing.T) {
	tests := []struct {
		name   string
		point  Point
		matrix AffineMatrix
		want   Point
	}{
		{
			name:   "identity transform",
			point:  Point{X: 10, Y: 20},
			matrix: Identity(),
			want:   Point{X: 10, Y: 20},
		},
		{
			name:   "translation only",
			point:  Point{X: 5, Y: 5},
			matrix: Translation(10, 15),
			want:   Point{X: 15, Y: 20},
		},
		{
			name:   "scale 2x",
			point:  Point{X: 3, Y: 4},
			matrix: Scale(2, 2),
			want:   Point{X: 6, Y: 8},
		},
		{
			name:   "90 degree rotation",
			point:  Point{X: 1, Y: 0},
			matrix: RotationDeg(90),
			want:   Point{X: 0, Y: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformPoint(tt.point, tt.matrix)
			if !pointsEqual(got, tt.want) {
				t.Errorf("TransformPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMultiplyMatrices(t *testing.T) {
	tests := []struct {
		name string
		m1   AffineMatrix
		m2   AffineMatrix
		want AffineMatrix
	}{
		{"identity * identity", Identity(), Identity(), Identity()},
		{"two translations", Translation(5, 10), Translation(3, 7), Translation(8, 17)},
		{"rotation * scale", RotationDeg(90), Scale(2, 2), AffineMatrix{A: 0, B: -2, C: 2, D: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MultiplyMatrices(tt.m1, tt.m2)
			if !matricesEqual(got, tt.want) {
				t.Errorf("MultiplyMatrices() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInvertMatrix(t *testing.T) {
	m := MultiplyMatrices(Translation(12, -4), MultiplyMatrices(RotationDeg(30), Scale(2, 3)))
	inv := InvertMatrix(m)

	if got := MultiplyMatrices(m, inv); !matricesEqual(got, Identity()) {
		t.Errorf("m * inv(m) = %+v, want identity", got)
	}

	if got := InvertMatrix(Scale(0, 0)); !matricesEqual(got, Identity()) {
		t.Errorf("singular inverse = %+v, want identity", got)
	}
}

func TestMapScale(t *testing.T) {
	s := MapScale{PixelsPerMeter: 50}

	if got := s.ToMeters(Point{X: 100, Y: 25}); !pointsEqual(got, Point{X: 2, Y: 0.5}) {
		t.Errorf("ToMeters() = %v, want (2, 0.5)", got)
	}
	if got := s.ToPixels(Point{X: 2, Y: 0.5}); !pointsEqual(got, Point{X: 100, Y: 25}) {
		t.Errorf("ToPixels() = %v, want (100, 25)", got)
	}
	if got := s.Pixels(0.5); !almostEqual(got, 25) {
		t.Errorf("Pixels(0.5) = %v, want 25", got)
	}
}

func TestDistance(t *testing.T) {
	if got := Distance(Point{X: 0, Y: 0}, Point{X: 3, Y: 4}); !almostEqual(got, 5) {
		t.Errorf("Distance() = %v, want 5", got)
	}
}

func TestFitGroundPlane(t *testing.T) {
	// world = (x/10, y/10, 0.01*x + 1)
	mapPts := []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	world := make([]r3.Vec, len(mapPts))
	for i, p := range mapPts {
		world[i] = r3.Vec{X: p.X / 10, Y: p.Y / 10, Z: 0.01*p.X + 1}
	}

	g, ok := FitGroundPlane(mapPts, world)
	if !ok {
		t.Fatal("FitGroundPlane() returned ok=false")
	}
	got := g.Apply(Point{X: 30, Y: 20})
	want := r3.Vec{X: 3, Y: 2, Z: 1.3}
	if !vecNear(got, want, 1e-6) {
		t.Errorf("Apply() = %v, want %v", got, want)
	}
}

func TestFitGroundPlaneTwoPoints(t *testing.T) {
	mapPts := []Point{{X: 0, Y: 0}, {X: 10, Y: 0}}
	world := []r3.Vec{{X: 0, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 3}}

	g, ok := FitGroundPlane(mapPts, world)
	if !ok {
		t.Fatal("FitGroundPlane() returned ok=false")
	}
	// 90 degree rotation with scale 0.1, constant mean height.
	got := g.Apply(Point{X: 5, Y: 0})
	want := r3.Vec{X: 0, Y: 0.5, Z: 2}
	if !vecNear(got, want, 1e-9) {
		t.Errorf("Apply() = %v, want %v", got, want)
	}
}

func TestFitGroundPlaneRejects(t *testing.T) {
	tests := []struct {
		name   string
		mapPts []Point
		world  []r3.Vec
	}{
		{"single point", []Point{{X: 1, Y: 1}}, []r3.Vec{{X: 1}}},
		{"mismatched lengths", []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}, []r3.Vec{{X: 1}}},
		{"collinear", []Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}, []r3.Vec{{X: 0}, {X: 1}, {X: 2}}},
		{"coincident pair", []Point{{X: 1, Y: 1}, {X: 1, Y: 1}}, []r3.Vec{{X: 0}, {X: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := FitGroundPlane(tt.mapPts, tt.world); ok {
				t.Error("expected ok=false")
			}
		})
	}
}
