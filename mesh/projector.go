package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Projector maps map points into the reference frame through a fixed set of
// cells. It never modifies its cells and is safe for concurrent use as long as
// callers treat the cells as immutable once passed in; replace a cell with an
// edited Clone instead of changing it in place.
type Projector struct {
	// Epsilon is the boundary tolerance for the inverse bilinear solve and the
	// containment tests.
	Epsilon float64

	cells    []*Cell
	ground   GroundPlane
	hasPlane bool
}

// NewProjector snapshots cells. Unanchored cells are kept (they still count
// for Cells) but never used for projection. eps <= 0 selects
// DefaultBoundaryEpsilon.
func NewProjector(cells []*Cell, eps float64) *Projector {
	if eps <= 0 {
		eps = DefaultBoundaryEpsilon
	}
	p := &Projector{Epsilon: eps, cells: append([]*Cell(nil), cells...)}

	var mapPts []Point
	var world []r3.Vec
	seen := make(map[Point]bool)
	for _, c := range p.cells {
		for _, a := range c.Correspondences() {
			if seen[a.Map] {
				continue
			}
			seen[a.Map] = true
			mapPts = append(mapPts, a.Map)
			world = append(world, a.World)
		}
	}
	p.ground, p.hasPlane = FitGroundPlane(mapPts, world)
	return p
}

// Cells returns the projector's cells.
func (p *Projector) Cells() []*Cell {
	return p.cells
}

// Project interpolates pt inside the first anchored cell that contains it.
func (p *Projector) Project(pt Point) (r3.Vec, *Cell, bool) {
	for _, c := range p.cells {
		if !c.Anchored() || !c.Contains(pt, p.Epsilon) {
			continue
		}
		if v, ok := c.Project(pt, p.Epsilon); ok {
			return v, c, true
		}
	}
	return r3.Vec{}, nil, false
}

// Estimate is Project with a ground-plane fallback for points that fall
// outside every anchored cell. exact reports which path produced the result.
func (p *Projector) Estimate(pt Point) (v r3.Vec, exact, ok bool) {
	if v, _, ok := p.Project(pt); ok {
		return v, true, true
	}
	if !p.hasPlane {
		return r3.Vec{}, false, false
	}
	return p.ground.Apply(pt), false, true
}

// Fill generates deduplicated fill points over every cell.
func (p *Projector) Fill(spacingMeters, pixelsPerMeter float64) []Point {
	var tris [][]Point
	for _, c := range p.cells {
		tris = append(tris, c.Triangles()...)
	}
	return FillRegion(tris, spacingMeters, pixelsPerMeter)
}
