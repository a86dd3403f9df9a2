package mesh

import (
	"fmt"
	"log"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/spatial/r3"
)

// Feature property names understood by the mesh importer.
const (
	PropName      = "name"
	PropKind      = "kind"
	PropAnchors   = "anchors"
	PropIDs       = "pointIds"
	PropNeighbors = "neighbors" // export only
)

// ParseMeshGeoJSON reads mesh cell definitions from a GeoJSON
// FeatureCollection in map pixel coordinates. Each Polygon (or each member of
// a MultiPolygon) whose outer ring has 3 or 4 distinct vertices becomes one
// CellDefinition; the closing vertex is optional. Other geometries are skipped
// with a log line.
//
// An optional "anchors" property lists [x, y, z] reference-frame positions in
// vertex order; null entries leave that corner unanchored. Anchors are only
// read for single Polygon features.
func ParseMeshGeoJSON(data []byte) ([]CellDefinition, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mesh GeoJSON: %w", err)
	}

	var defs []CellDefinition
	for i, f := range fc.Features {
		name := f.Properties.MustString(PropName, fmt.Sprintf("cell-%d", i))

		var polys []orb.Polygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polys = []orb.Polygon{g}
		case orb.MultiPolygon:
			polys = g
		default:
			log.Printf("[MESH] skipping feature %q: unsupported geometry %T", name, f.Geometry)
			continue
		}

		anchors, err := parseAnchors(f.Properties[PropAnchors])
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}

		for j, poly := range polys {
			if len(poly) == 0 {
				continue
			}
			verts := ringVertices(poly[0])
			if len(verts) != 3 && len(verts) != 4 {
				log.Printf("[MESH] skipping feature %q: %d vertices, want 3 or 4", name, len(verts))
				continue
			}
			def := CellDefinition{Name: name, Vertices: verts}
			if len(polys) > 1 {
				def.Name = fmt.Sprintf("%s-%d", name, j)
			} else if anchors != nil {
				if len(anchors) != len(verts) {
					return nil, fmt.Errorf("feature %q: %d anchors for %d vertices", name, len(anchors), len(verts))
				}
				def.Anchors = anchors
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// LoadMeshFile reads and parses a GeoJSON mesh file.
func LoadMeshFile(path string) ([]CellDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mesh file: %w", err)
	}
	return ParseMeshGeoJSON(data)
}

// ringVertices drops the closing vertex of a ring if present.
func ringVertices(r orb.Ring) []Point {
	if len(r) > 1 && r.Closed() {
		r = r[:len(r)-1]
	}
	out := make([]Point, len(r))
	for i, p := range r {
		out[i] = Point{X: p.X(), Y: p.Y()}
	}
	return out
}

func parseAnchors(raw interface{}) ([]*r3.Vec, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("anchors must be an array, got %T", raw)
	}
	out := make([]*r3.Vec, len(list))
	for i, item := range list {
		if item == nil {
			continue
		}
		coords, ok := item.([]interface{})
		if !ok || len(coords) != 3 {
			return nil, fmt.Errorf("anchor %d must be [x, y, z]", i)
		}
		var v [3]float64
		for k, c := range coords {
			f, ok := c.(float64)
			if !ok {
				return nil, fmt.Errorf("anchor %d: coordinate %d is not a number", i, k)
			}
			v[k] = f
		}
		out[i] = &r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	return out, nil
}

// CellsToFeatureCollection exports cells as closed polygons carrying their
// name, kind, point ids, anchors and the indices of neighbouring cells.
func CellsToFeatureCollection(cells []*Cell) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	nbrs := Neighbors(cells)
	for i, c := range cells {
		ring := make(orb.Ring, 0, len(c.Corners)+1)
		for _, p := range c.Corners {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if len(ring) > 0 {
			ring = append(ring, ring[0])
		}

		f := geojson.NewFeature(orb.Polygon{ring})
		if c.Name != "" {
			f.Properties[PropName] = c.Name
		}
		f.Properties[PropKind] = string(c.Kind)
		if c.PointIDs != nil {
			f.Properties[PropIDs] = c.PointIDs
		}
		anchors := make([]interface{}, len(c.Anchors))
		for k, a := range c.Anchors {
			if a != nil {
				anchors[k] = []float64{a.X, a.Y, a.Z}
			}
		}
		f.Properties[PropAnchors] = anchors
		if len(nbrs[i]) > 0 {
			f.Properties[PropNeighbors] = nbrs[i]
		}
		fc.Append(f)
	}
	return fc
}
