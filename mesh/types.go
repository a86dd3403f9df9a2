package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultBoundaryEpsilon is the tolerance applied when accepting an inverse
// bilinear solution that lands just outside the unit square.
const DefaultBoundaryEpsilon = 0.001

// degenerateArea is the minimum 2D triangle area (map pixels squared) that is
// still usable for barycentric interpolation.
const degenerateArea = 1e-6

// Point represents a 2D map coordinate in pixels. Y grows downward.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

func (p Point) sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// cross returns the z component of the 2D cross product a × b.
func cross(a, b Point) float64 {
	return a.X*b.Y - a.Y*b.X
}

// CellKind distinguishes triangles from quadrilaterals.
type CellKind string

const (
	KindTriangle CellKind = "triangle"
	KindQuad     CellKind = "quad"
)

// Corners returns the number of corners a cell of this kind has.
func (k CellKind) Corners() int {
	switch k {
	case KindTriangle:
		return 3
	case KindQuad:
		return 4
	}
	return 0
}

// Anchor pairs a 2D map position with its 3D reference-frame position.
type Anchor struct {
	Map   Point  `json:"map"`
	World r3.Vec `json:"world"`
}

// CellDefinition is a parsed, not yet validated mesh cell as produced by a
// geometry import. Anchors, when present, follow the order of Vertices; a nil
// entry means that corner has no 3D correspondence yet.
type CellDefinition struct {
	Name     string    `json:"name,omitempty"`
	Vertices []Point   `json:"vertices"`
	Anchors  []*r3.Vec `json:"anchors,omitempty"`
}
