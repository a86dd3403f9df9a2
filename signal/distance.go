package signal

import "math"

// PathLoss converts a received strength to a distance estimate with the
// log-distance model d = 10^((TxAt1m - rssi) / (10 n)).
type PathLoss struct {
	// TxAt1mDbm is the calibrated reading at one meter.
	TxAt1mDbm float64
	// Exponent is n: about 2 in free space, 2.2 to 2.8 indoors.
	Exponent float64
	// MaxDistanceM caps the estimate. Zero means no cap.
	MaxDistanceM float64
}

// DefaultPathLoss is tuned for an indoor room.
var DefaultPathLoss = PathLoss{TxAt1mDbm: -59, Exponent: 2.4, MaxDistanceM: 30}

// Distance estimates meters from rssi. When both heights are given the result
// is the horizontal distance after removing the vertical offset.
func (p PathLoss) Distance(rssi float64, sourceHeight, deviceHeight *float64) float64 {
	n := p.Exponent
	if n <= 0 {
		n = DefaultPathLoss.Exponent
	}
	d := math.Pow(10, (p.TxAt1mDbm-rssi)/(10*n))

	if sourceHeight != nil && deviceHeight != nil {
		dz := math.Abs(*sourceHeight - *deviceHeight)
		d = math.Sqrt(math.Max(d*d-dz*dz, 0))
	}
	if p.MaxDistanceM > 0 && d > p.MaxDistanceM {
		d = p.MaxDistanceM
	}
	return d
}

// PlanarDistanceM is the map distance between two pixel positions in meters.
func PlanarDistanceM(x1, y1, x2, y2, pixelsPerMeter float64) (float64, bool) {
	if pixelsPerMeter <= 0 {
		return 0, false
	}
	return math.Hypot(x2-x1, y2-y1) / pixelsPerMeter, true
}

// XYZDistanceM adds the height difference to the planar distance.
func XYZDistanceM(planarM, z1, z2 float64) float64 {
	return math.Hypot(planarM, z2-z1)
}
