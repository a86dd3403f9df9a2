package mesh

import (
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Cell is a triangle or quad of reference points. Quad corners are always
// stored in SortCornersCCW order; PointIDs and Anchors follow the same order
// as Corners.
type Cell struct {
	Name     string    `json:"name,omitempty"`
	Kind     CellKind  `json:"kind"`
	PointIDs []string  `json:"pointIds,omitempty"`
	Corners  []Point   `json:"corners"`
	Anchors  []*r3.Vec `json:"anchors,omitempty"`
}

// NewTriangle builds a triangle cell. ids may be nil. Triangles keep their
// input order.
func NewTriangle(ids []string, corners []Point) (*Cell, bool) {
	if len(corners) != 3 || (ids != nil && len(ids) != 3) {
		log.Printf("[MESH] triangle requires 3 corners, got %d corners and %d ids", len(corners), len(ids))
		return nil, false
	}
	if triangleArea(corners[0], corners[1], corners[2]) < degenerateArea {
		log.Printf("[MESH] rejecting degenerate triangle %v", corners)
		return nil, false
	}
	return &Cell{
		Kind:     KindTriangle,
		PointIDs: cloneStrings(ids),
		Corners:  append([]Point(nil), corners...),
		Anchors:  make([]*r3.Vec, 3),
	}, true
}

// NewQuad builds a quad cell, reordering corners (and ids with them) into CCW
// order from the bottom-left corner. A self-intersecting quad is rejected.
func NewQuad(ids []string, corners []Point) (*Cell, bool) {
	if ids != nil && len(ids) != 4 {
		log.Printf("[MESH] quad requires 4 ids, got %d", len(ids))
		return nil, false
	}
	order, ok := cornerOrder(corners)
	if !ok {
		return nil, false
	}
	c := &Cell{Kind: KindQuad, Corners: make([]Point, 4), Anchors: make([]*r3.Vec, 4)}
	if ids != nil {
		c.PointIDs = make([]string, 4)
	}
	for i, idx := range order {
		c.Corners[i] = corners[idx]
		if ids != nil {
			c.PointIDs[i] = ids[idx]
		}
	}
	if !IsValidQuad(c.Corners) {
		return nil, false
	}
	return c, true
}

// NewCell dispatches on the number of corners. anchors, when non-nil, follow
// the input order and are permuted along with the corners. ids, when given,
// must be pairwise distinct.
func NewCell(def CellDefinition, ids []string) (*Cell, bool) {
	var (
		c  *Cell
		ok bool
	)
	if dup, found := duplicateID(ids); found {
		log.Printf("[MESH] cell %q names point %s more than once", def.Name, dup)
		return nil, false
	}
	switch len(def.Vertices) {
	case 3:
		c, ok = NewTriangle(ids, def.Vertices)
	case 4:
		c, ok = NewQuad(ids, def.Vertices)
	default:
		log.Printf("[MESH] cell %q has %d vertices, want 3 or 4", def.Name, len(def.Vertices))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.Name = def.Name
	if def.Anchors != nil {
		if len(def.Anchors) != len(def.Vertices) {
			log.Printf("[MESH] cell %q has %d anchors for %d vertices", def.Name, len(def.Anchors), len(def.Vertices))
			return nil, false
		}
		for i, v := range def.Vertices {
			if a := def.Anchors[i]; a != nil {
				c.SetAnchorAt(v, *a)
			}
		}
	}
	return c, true
}

// Clone returns a deep copy of c.
func (c *Cell) Clone() *Cell {
	out := &Cell{
		Name:     c.Name,
		Kind:     c.Kind,
		PointIDs: cloneStrings(c.PointIDs),
		Corners:  append([]Point(nil), c.Corners...),
		Anchors:  make([]*r3.Vec, len(c.Anchors)),
	}
	for i, a := range c.Anchors {
		if a != nil {
			v := *a
			out.Anchors[i] = &v
		}
	}
	return out
}

// HasPoint reports whether a corner carries point id.
func (c *Cell) HasPoint(id string) bool {
	for _, pid := range c.PointIDs {
		if pid == id {
			return true
		}
	}
	return false
}

// SetAnchor attaches a 3D position to corner i.
func (c *Cell) SetAnchor(i int, world r3.Vec) bool {
	if i < 0 || i >= len(c.Corners) {
		return false
	}
	w := world
	c.Anchors[i] = &w
	return true
}

// SetAnchorAt attaches a 3D position to the corner located at p.
func (c *Cell) SetAnchorAt(p Point, world r3.Vec) bool {
	for i, corner := range c.Corners {
		if corner == p {
			return c.SetAnchor(i, world)
		}
	}
	return false
}

// SetAnchorByID attaches a 3D position to the corner carrying point id.
func (c *Cell) SetAnchorByID(id string, world r3.Vec) bool {
	for i, pid := range c.PointIDs {
		if pid == id {
			return c.SetAnchor(i, world)
		}
	}
	return false
}

// Anchored reports whether every corner has a 3D correspondence.
func (c *Cell) Anchored() bool {
	if len(c.Anchors) != len(c.Corners) || len(c.Corners) == 0 {
		return false
	}
	for _, a := range c.Anchors {
		if a == nil {
			return false
		}
	}
	return true
}

// World returns the anchors as values. ok is false unless the cell is
// anchored.
func (c *Cell) World() ([]r3.Vec, bool) {
	if !c.Anchored() {
		return nil, false
	}
	out := make([]r3.Vec, len(c.Anchors))
	for i, a := range c.Anchors {
		out[i] = *a
	}
	return out, true
}

// Correspondences lists the corners that have a 3D position.
func (c *Cell) Correspondences() []Anchor {
	var out []Anchor
	for i, a := range c.Anchors {
		if a != nil && i < len(c.Corners) {
			out = append(out, Anchor{Map: c.Corners[i], World: *a})
		}
	}
	return out
}

// Contains reports whether p lies inside the cell or within eps (relative to
// the longest edge) of its boundary.
func (c *Cell) Contains(p Point, eps float64) bool {
	switch c.Kind {
	case KindTriangle:
		return PointInTriangle(p, c.Corners, eps)
	case KindQuad:
		if PointInQuad(p, c.Corners) {
			return true
		}
		tol := eps * c.longestEdge()
		for i := range c.Corners {
			if segmentDistance(p, c.Corners[i], c.Corners[(i+1)%4]) <= tol {
				return true
			}
		}
	}
	return false
}

// Project maps p into the reference frame. It does not check containment.
func (c *Cell) Project(p Point, eps float64) (r3.Vec, bool) {
	world, ok := c.World()
	if !ok {
		return r3.Vec{}, false
	}
	switch c.Kind {
	case KindTriangle:
		return InterpolateOnTriangle(p, c.Corners, world)
	case KindQuad:
		return projectBilinearEps(p, c.Corners, world, eps)
	}
	return r3.Vec{}, false
}

// Triangles splits the cell into triangles for fill-point generation. A quad
// is split along its 0-2 diagonal.
func (c *Cell) Triangles() [][]Point {
	switch c.Kind {
	case KindTriangle:
		return [][]Point{c.Corners}
	case KindQuad:
		return QuadTriangles(c.Corners)
	}
	return nil
}

// Neighbors lists, for each cell, the indices of the cells it touches. Two
// quads are compared with QuadsIntersect; a pair involving a triangle touches
// when it shares an edge.
func Neighbors(cells []*Cell) [][]int {
	out := make([][]int, len(cells))
	for i := range cells {
		for j := i + 1; j < len(cells); j++ {
			if touches(cells[i], cells[j]) {
				out[i] = append(out[i], j)
				out[j] = append(out[j], i)
			}
		}
	}
	return out
}

func touches(a, b *Cell) bool {
	if a.Kind == KindQuad && b.Kind == KindQuad {
		return QuadsIntersect(a.Corners, b.Corners)
	}
	shared := 0
	for _, p := range a.Corners {
		for _, q := range b.Corners {
			if p == q {
				shared++
			}
		}
	}
	return shared >= 2
}

// QuadTriangles splits an ordered quad into two triangles sharing the 0-2
// diagonal.
func QuadTriangles(q []Point) [][]Point {
	if len(q) != 4 {
		return nil
	}
	return [][]Point{
		{q[0], q[1], q[2]},
		{q[0], q[2], q[3]},
	}
}

func (c *Cell) longestEdge() float64 {
	var longest float64
	for i := range c.Corners {
		longest = math.Max(longest, Distance(c.Corners[i], c.Corners[(i+1)%len(c.Corners)]))
	}
	return longest
}

// segmentDistance is the distance from p to segment a-b.
func segmentDistance(p, a, b Point) float64 {
	ab := b.sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return Distance(p, a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	t = clamp01(t)
	return Distance(p, Point{X: a.X + t*ab.X, Y: a.Y + t*ab.Y})
}

func duplicateID(ids []string) (string, bool) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id, true
		}
		seen[id] = true
	}
	return "", false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
