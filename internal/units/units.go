// Package units provides the measurement conversions and display formats
// shared by the analyzer and the API: device wire units (km/h, meters,
// milliliters, milligees) in, reporting units out.
package units

import (
	"fmt"
	"math"
)

// KmhToMs converts km/h to m/s for time integration of speed.
func KmhToMs(kmh float64) float64 {
	return kmh / 3.6
}

// RoundDistanceKm reduces meters to kilometers with one decimal, the
// resolution trip distances are reported at.
func RoundDistanceKm(meters float64) float64 {
	return math.Round(meters/100) / 10
}

// MlToLiters converts milliliters to liters.
func MlToLiters(ml int64) float64 {
	return float64(ml) / 1000
}

// LitersPer100Km reports fuel economy rounded to one decimal. Zero distance
// yields zero rather than an infinity.
func LitersPer100Km(liters, km float64) float64 {
	if km <= 0 {
		return 0
	}
	return math.Round(liters/km*100*10) / 10
}

// FormatMinutes renders a duration in minutes as "1h 5m", suppressing the
// hour part when zero.
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
