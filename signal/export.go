package signal

import (
	"math"
	"time"
)

// SchemaV1 identifies the v1 export format.
const SchemaV1 = "tapmesh.scan.v1"

// ExportV1 is the stable on-the-wire form of a ScanRecord.
type ExportV1 struct {
	Schema    string           `json:"schema"`
	ScanID    string           `json:"scanId"`
	SessionID string           `json:"sessionId,omitempty"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	DurationS float64          `json:"durationS"`
	Point     ExportPointV1    `json:"point"`
	FacingDeg *float64         `json:"facingDeg,omitempty"`
	Sources   []ExportSourceV1 `json:"sources"`
}

type ExportPointV1 struct {
	ID           string  `json:"id"`
	XPx          float64 `json:"xPx"`
	YPx          float64 `json:"yPx"`
	XM           float64 `json:"xM"`
	YM           float64 `json:"yM"`
	DeviceHeight float64 `json:"deviceHeightM"`
}

type ExportSourceV1 struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Stats     Stats      `json:"stats"`
	Histogram *Histogram `json:"histogram"`
	// Distances from the point, present when source geometry is known.
	PlanarM *float64 `json:"planarDistanceM,omitempty"`
	XYZM    *float64 `json:"xyzDistanceM,omitempty"`

	// Path-loss estimate from the median, present when there is one.
	EstimatedM *float64 `json:"estimatedDistanceM,omitempty"`
}

// Export converts rec to the v1 format. Map distances need pixelsPerMeter > 0
// and a source position; the 3D distance also needs the source elevation. The
// path-loss estimate uses the source's calibrated one-meter reading when known
// and DefaultPathLoss otherwise. The transmit power setting is not a one-meter
// reading and is never used here.
func Export(rec *ScanRecord, pixelsPerMeter float64) ExportV1 {
	out := ExportV1{
		Schema:    SchemaV1,
		ScanID:    rec.ScanID,
		SessionID: rec.Point.SessionID,
		Start:     rec.Start,
		End:       rec.End,
		DurationS: round(rec.Duration, 3),
		Point: ExportPointV1{
			ID:           rec.Point.PointID,
			XPx:          round(rec.Point.XPx, 2),
			YPx:          round(rec.Point.YPx, 2),
			XM:           round(rec.Point.XM, 2),
			YM:           round(rec.Point.YM, 2),
			DeviceHeight: round(rec.Point.DeviceHeight, 2),
		},
		FacingDeg: rec.FacingDeg,
		Sources:   make([]ExportSourceV1, 0, len(rec.Sources)),
	}

	for _, s := range rec.Sources {
		es := ExportSourceV1{
			ID:        s.Source.ID,
			Name:      s.Source.Name,
			Stats:     s.Stats,
			Histogram: s.Histogram,
		}
		if s.Source.HasPosition() {
			if planar, ok := PlanarDistanceM(rec.Point.XPx, rec.Point.YPx, *s.Source.X, *s.Source.Y, pixelsPerMeter); ok {
				p := round(planar, 2)
				es.PlanarM = &p
				if s.Source.Elevation != nil {
					xyz := round(XYZDistanceM(planar, rec.Point.DeviceHeight, *s.Source.Elevation), 2)
					es.XYZM = &xyz
				}
			}
		}
		if s.MedianDbm != nil {
			pl := DefaultPathLoss
			if s.Source.RSSIAt1mDbm != nil {
				pl.TxAt1mDbm = *s.Source.RSSIAt1mDbm
			}
			est := round(pl.Distance(float64(*s.MedianDbm), s.Source.Elevation, &rec.Point.DeviceHeight), 2)
			es.EstimatedM = &est
		}
		out.Sources = append(out.Sources, es)
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
