package survey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kwv/tapmesh/signal"
)

const aggregatesFile = "aggregates.json"

// Archive stores scan records as JSON files, one directory per point:
// <dir>/<pointId>/<scanId>.json. Running aggregates live in
// <dir>/aggregates.json.
type Archive struct {
	dir string
}

// NewArchive returns an archive rooted at dir. The directory is created on
// first write.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Dir is the archive root.
func (a *Archive) Dir() string { return a.dir }

// HandleResult writes the record of a finished scan.
func (a *Archive) HandleResult(res *Result) error {
	return a.SaveRecord(res.Record)
}

// SaveRecord writes rec to disk.
func (a *Archive) SaveRecord(rec *signal.ScanRecord) error {
	if rec.ScanID == "" || rec.Point.PointID == "" {
		return fmt.Errorf("record needs a scan id and a point id")
	}
	path := filepath.Join(a.dir, safeName(rec.Point.PointID), safeName(rec.ScanID)+".json")
	return writeJSON(path, rec)
}

// LoadRecords reads every record for a point in start order. A point without
// records yields an empty slice.
func (a *Archive) LoadRecords(pointID string) ([]*signal.ScanRecord, error) {
	dir := filepath.Join(a.dir, safeName(pointID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read record directory: %w", err)
	}

	var out []*signal.ScanRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var rec signal.ScanRecord
		if err := readJSON(filepath.Join(dir, e.Name()), &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// SaveAggregates writes the running aggregates.
func (a *Archive) SaveAggregates(aggs []signal.RunningAggregate) error {
	return writeJSON(filepath.Join(a.dir, aggregatesFile), aggs)
}

// LoadAggregates reads the running aggregates. A missing file yields none.
func (a *Archive) LoadAggregates() ([]signal.RunningAggregate, error) {
	var aggs []signal.RunningAggregate
	err := readJSON(filepath.Join(a.dir, aggregatesFile), &aggs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return aggs, err
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// safeName keeps identifiers from escaping the archive directory.
func safeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}
