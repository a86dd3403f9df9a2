package points

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kwv/tapmesh/mesh"
)

const schema = `
CREATE TABLE IF NOT EXISTS reference_points (
	point_id TEXT PRIMARY KEY,
	x DOUBLE NOT NULL,
	y DOUBLE NOT NULL,
	roles TEXT NOT NULL DEFAULT '',
	locked INTEGER NOT NULL DEFAULT 0,
	created_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reference_points_xy ON reference_points (x, y);
`

// SQLiteStore is a Store persisted in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open point database: %w", err)
	}
	// A single connection serializes commits.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create point schema: %w", err)
	}
	log.Printf("[STORE] opened point database %s", path)
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindNear(pos mesh.Point, threshold float64) (Point, bool, error) {
	rows, err := s.db.Query(`
		SELECT point_id, x, y, roles, locked, created_at_ns
		FROM reference_points
		WHERE x > ? AND x < ? AND y > ? AND y < ?`,
		pos.X-threshold, pos.X+threshold, pos.Y-threshold, pos.Y+threshold)
	if err != nil {
		return Point{}, false, fmt.Errorf("find near %v: %w", pos, err)
	}
	defer rows.Close()

	var (
		best     Point
		bestDist = math.Inf(1)
	)
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return Point{}, false, err
		}
		if d := mesh.Distance(pos, p.Position); d < threshold && d < bestDist {
			best, bestDist = p, d
		}
	}
	if err := rows.Err(); err != nil {
		return Point{}, false, err
	}
	return best, !math.IsInf(bestDist, 1), nil
}

func (s *SQLiteStore) Create(pos mesh.Point, roles []Role, locked bool) (string, error) {
	p := NewPoint(pos, roles, locked)
	if err := s.CommitBatch([]Point{p}); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *SQLiteStore) AddRole(id string, role Role) error {
	p, err := s.Get(id)
	if err != nil {
		return fmt.Errorf("add role %q: %w", role, err)
	}
	if !p.AddRole(role) {
		return nil
	}
	if _, err := s.db.Exec(`UPDATE reference_points SET roles = ? WHERE point_id = ?`,
		encodeRoles(p.Roles), id); err != nil {
		return fmt.Errorf("add role %q to %s: %w", role, id, err)
	}
	return nil
}

// CommitBatch inserts every point in one transaction. A primary key conflict
// rolls the whole batch back.
func (s *SQLiteStore) CommitBatch(batch []Point) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO reference_points (point_id, x, y, roles, locked, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare commit: %w", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM reference_points WHERE point_id = ?`, p.ID).Scan(&exists)
		switch {
		case err == nil:
			return fmt.Errorf("commit %s: %w", p.ID, ErrDuplicatePoint)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("commit %s: %w", p.ID, err)
		}

		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.Exec(p.ID, p.Position.X, p.Position.Y, encodeRoles(p.Roles),
			boolToInt(p.Locked), created.UnixNano()); err != nil {
			return fmt.Errorf("insert %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(id string) (Point, error) {
	row := s.db.QueryRow(`
		SELECT point_id, x, y, roles, locked, created_at_ns
		FROM reference_points WHERE point_id = ?`, id)
	p, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Point{}, fmt.Errorf("get %s: %w", id, ErrPointNotFound)
	}
	return p, err
}

func (s *SQLiteStore) All() ([]Point, error) {
	rows, err := s.db.Query(`
		SELECT point_id, x, y, roles, locked, created_at_ns
		FROM reference_points ORDER BY created_at_ns, point_id`)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a point.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM reference_points WHERE point_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrPointNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoint(r scanner) (Point, error) {
	var (
		p       Point
		roles   string
		locked  int
		created int64
	)
	if err := r.Scan(&p.ID, &p.Position.X, &p.Position.Y, &roles, &locked, &created); err != nil {
		return Point{}, err
	}
	p.Roles = decodeRoles(roles)
	p.Locked = locked != 0
	p.CreatedAt = time.Unix(0, created)
	return p, nil
}

func encodeRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func decodeRoles(s string) []Role {
	if s == "" {
		return nil
	}
	var out []Role
	for _, part := range strings.Split(s, ",") {
		out = append(out, Role(part))
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
