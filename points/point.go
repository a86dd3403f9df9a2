// Package points owns reference points: stable identifiers for 2D map
// positions, the stores that hold them, and the batch resolver that maps raw
// survey coordinates onto them.
package points

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/tapmesh/mesh"
)

var (
	// ErrDuplicatePoint is returned when a commit contains an identifier that
	// already exists in the store or appears twice in the batch.
	ErrDuplicatePoint = errors.New("duplicate reference point")
	// ErrPointNotFound is returned for unknown identifiers.
	ErrPointNotFound = errors.New("reference point not found")
)

// Role tags what a reference point is used for.
type Role string

const (
	RoleMeshVertex   Role = "mesh_vertex"
	RoleZoneCorner   Role = "zone_corner"
	RoleSurveyMarker Role = "survey_marker"
	RoleAnchor       Role = "anchor"
)

// Point is a reference point in map pixel space.
type Point struct {
	ID        string     `json:"id"`
	Position  mesh.Point `json:"position"`
	Roles     []Role     `json:"roles"`
	Locked    bool       `json:"locked"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NewPoint creates a point with a fresh identifier.
func NewPoint(pos mesh.Point, roles []Role, locked bool) Point {
	p := Point{
		ID:        uuid.NewString(),
		Position:  pos,
		Locked:    locked,
		CreatedAt: time.Now(),
	}
	for _, r := range roles {
		p.AddRole(r)
	}
	return p
}

// HasRole reports whether the point carries role r.
func (p *Point) HasRole(r Role) bool {
	i := sort.Search(len(p.Roles), func(i int) bool { return p.Roles[i] >= r })
	return i < len(p.Roles) && p.Roles[i] == r
}

// AddRole inserts r, keeping Roles sorted and unique. It reports whether the
// role was new.
func (p *Point) AddRole(r Role) bool {
	i := sort.Search(len(p.Roles), func(i int) bool { return p.Roles[i] >= r })
	if i < len(p.Roles) && p.Roles[i] == r {
		return false
	}
	p.Roles = append(p.Roles, "")
	copy(p.Roles[i+1:], p.Roles[i:])
	p.Roles[i] = r
	return true
}

func (p Point) clone() Point {
	p.Roles = append([]Role(nil), p.Roles...)
	return p
}
