// Package trips synthesizes trips, driver behavior scores and daily
// summaries from stored telemetry records. Everything here is pure
// computation over chronologically ordered records; nothing is persisted,
// so analytics changes never require a data migration.
package trips

import (
	"sort"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/units"
)

// Params are the segmentation and scoring thresholds. Zero values are not
// meaningful; start from DefaultParams and override from tuning config.
type Params struct {
	// QuietPeriod is the engine-off gap that closes a trip.
	QuietPeriod time.Duration
	// MinTripMinutes and MinTripMeters gate trip emission: a segment is a
	// trip when it reaches either threshold.
	MinTripMinutes int
	MinTripMeters  float64

	// Behavior event thresholds, in mG on the filtered signal.
	BrakeThresholdMG  float64
	AccelThresholdMG  float64
	CornerThresholdMG float64
	// EventCooldown is the per-type re-fire guard.
	EventCooldown time.Duration
	// EventMinSpeed gates all events; CornerMinSpeed additionally gates
	// cornering. km/h.
	EventMinSpeed  int
	CornerMinSpeed int

	// StationarySpeed bounds both baseline sampling and idle detection
	// (records strictly below it count as stationary). km/h.
	StationarySpeed int
	// IdleStepMin and IdleStepMax clamp each idle time step.
	IdleStepMin time.Duration
	IdleStepMax time.Duration
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		QuietPeriod:       60 * time.Second,
		MinTripMinutes:    2,
		MinTripMeters:     100,
		BrakeThresholdMG:  150,
		AccelThresholdMG:  200,
		CornerThresholdMG: 150,
		EventCooldown:     2 * time.Second,
		EventMinSpeed:     10,
		CornerMinSpeed:    20,
		StationarySpeed:   3,
		IdleStepMin:       time.Second,
		IdleStepMax:       60 * time.Second,
	}
}

// Confidence levels and reasons.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"

	ReasonPoorGNSS          = "poor_gnss"
	ReasonLowAccelCoverage  = "low_accel_coverage"
	ReasonShortTrip         = "short_trip"
	ReasonDistanceEstimated = "distance_estimated"
)

// Event types.
const (
	EventBraking      = "braking"
	EventAcceleration = "acceleration"
	EventCornering    = "cornering"
)

// Trip is one synthesized engine-on run.
type Trip struct {
	IMEI              string       `json:"imei"`
	StartTime         avl.Time     `json:"startTime"`
	EndTime           avl.Time     `json:"endTime"`
	DurationMinutes   int          `json:"durationMinutes"`
	DurationText      string       `json:"durationText"`
	StartPosition     avl.Position `json:"startPosition"`
	EndPosition       avl.Position `json:"endPosition"`
	DistanceMeters    float64      `json:"distanceMeters"`
	DistanceKm        float64      `json:"distanceKm"`
	DistanceEstimated bool         `json:"distanceEstimated"`
	MaxSpeed          int          `json:"maxSpeed"`
	AvgSpeedMoving    float64      `json:"avgSpeedMoving"`
	AvgSpeedTotal     float64      `json:"avgSpeedTotal"`
	StartOdometer     int64        `json:"startOdometer,omitempty"`
	EndOdometer       int64        `json:"endOdometer,omitempty"`
	Fuel              *Fuel        `json:"fuel,omitempty"`
	Behavior          *Behavior    `json:"behavior,omitempty"`
	Confidence        Confidence   `json:"confidence"`
	RecordCount       int          `json:"recordCount"`
	Perfect           bool         `json:"perfect"`
}

// Fuel is GPS-estimated consumption from the cumulative fuel counter.
type Fuel struct {
	UsedMl     int64   `json:"usedMl"`
	UsedLiters float64 `json:"usedLiters"`
	Per100Km   float64 `json:"per100Km"`
	FromGPS    bool    `json:"fromGps"`
}

// Confidence qualifies how trustworthy a trip's metrics are.
type Confidence struct {
	Level   string   `json:"level"`
	Reasons []string `json:"reasons"`
}

// Analyze segments records into trips. Records are expected in chronological
// order; out-of-order input is sorted first. Only segments meeting the
// emission thresholds are returned, oldest first.
func Analyze(imei string, records []avl.Record, p Params) []Trip {
	if !sort.SliceIsSorted(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp.Time)
	}) {
		sorted := make([]avl.Record, len(records))
		copy(sorted, records)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp.Time)
		})
		records = sorted
	}

	var trips []Trip
	var segment []avl.Record
	lastOn := -1    // index in segment of the last engine-on record
	sawOff := false // an engine-off record arrived after lastOn

	flush := func() {
		if lastOn >= 0 {
			if trip, ok := buildTrip(imei, segment[:lastOn+1], p); ok {
				trips = append(trips, trip)
			}
		}
		segment, lastOn, sawOff = nil, -1, false
	}

	for i := range records {
		rec := &records[i]
		on := engineOn(rec)

		if segment == nil {
			if on {
				segment = append(segment, *rec)
				lastOn = 0
			}
			continue
		}

		gap := rec.Timestamp.Sub(segment[lastOn].Timestamp.Time)
		if gap > p.QuietPeriod && (sawOff || !on) {
			// The engine stayed off past the quiet period: the trip ended at
			// the last engine-on record, trailing off-records fall away.
			flush()
			if on {
				segment = append(segment, *rec)
				lastOn = 0
			}
			continue
		}

		segment = append(segment, *rec)
		if on {
			lastOn = len(segment) - 1
			sawOff = false
		} else {
			sawOff = true
		}
	}
	flush()
	return trips
}

// engineOn reports whether a record shows the engine running: ignition set
// or measurable RPM.
func engineOn(r *avl.Record) bool {
	if v, ok := r.Int(avl.FieldIgnition); ok && v == 1 {
		return true
	}
	if v, ok := r.Int(avl.FieldEngineRPM); ok && v > 0 {
		return true
	}
	return false
}

// buildTrip assembles metrics, behavior and confidence for one closed
// segment. ok is false when the segment stays below the emission
// thresholds.
func buildTrip(imei string, segment []avl.Record, p Params) (Trip, bool) {
	if len(segment) == 0 {
		return Trip{}, false
	}
	first, last := &segment[0], &segment[len(segment)-1]

	duration := last.Timestamp.Sub(first.Timestamp.Time)
	minutes := int(float64(duration/time.Second)/60 + 0.5)

	meters, estimated := distance(segment)
	if minutes < p.MinTripMinutes && meters <= p.MinTripMeters {
		return Trip{}, false
	}

	trip := Trip{
		IMEI:              imei,
		StartTime:         first.Timestamp,
		EndTime:           last.Timestamp,
		DurationMinutes:   minutes,
		DurationText:      units.FormatMinutes(minutes),
		DistanceMeters:    meters,
		DistanceKm:        units.RoundDistanceKm(meters),
		DistanceEstimated: estimated,
		RecordCount:       len(segment),
	}
	fillSpeeds(&trip, segment)
	fillOdometers(&trip, segment)
	fillPositions(&trip, segment)
	fillFuel(&trip, segment)
	trip.Behavior = analyzeBehavior(segment, minutes, p)
	fillConfidence(&trip, segment, p)
	return trip, true
}
