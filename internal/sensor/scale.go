// Package sensor reads the soil-humidity probe and maps raw ADC readings
// onto a humidity percentage.
package sensor

import "fmt"

// Scale converts raw ADC readings into a humidity percentage using two
// calibration points: the raw reading with the probe completely dry and
// the raw reading with the probe submerged in water. A higher raw
// reading means drier soil, so the mapping is inverted.
type Scale struct {
	dry int
	wet int
}

// NewScale builds a Scale from the two calibration constants.
// dry must be strictly greater than wet or the mapping is undefined.
func NewScale(dry, wet int) (Scale, error) {
	if dry <= wet {
		return Scale{}, fmt.Errorf("dry calibration value (%d) must be greater than wet value (%d)", dry, wet)
	}
	return Scale{dry: dry, wet: wet}, nil
}

// Percent linearly maps raw from [dry, wet] to [0, 100] and clamps the
// result. The output is monotonically non-increasing in raw.
func (s Scale) Percent(raw int) float64 {
	pct := float64(s.dry-raw) * 100 / float64(s.dry-s.wet)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
