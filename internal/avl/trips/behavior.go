package trips

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/units"
)

// Behavior is the driver behavior report for one trip.
type Behavior struct {
	DriverScore      int     `json:"driverScore"`
	EfficiencyScore  int     `json:"efficiencyScore"`
	HardBraking      int     `json:"hardBraking"`
	HardAcceleration int     `json:"hardAcceleration"`
	HarshCornering   int     `json:"harshCornering"`
	IdleMinutes      float64 `json:"idleMinutes"`
	TotalPenalty     int     `json:"totalPenalty"`
	Events           []Event `json:"events,omitempty"`
}

// Event is one detected harsh-driving event.
type Event struct {
	Type    string   `json:"type"`
	At      avl.Time `json:"at"`
	ValueMG float64  `json:"valueMg"`
	Speed   int      `json:"speed"`
}

// accelSample pairs one record index with its accelerometer reading.
type accelSample struct {
	index int
	x, y  float64
}

// analyzeBehavior scores one closed segment. It returns nil when the segment
// carries too little accelerometer data to say anything defensible.
func analyzeBehavior(segment []avl.Record, minutes int, p Params) *Behavior {
	samples := accelSamples(segment)
	if len(samples) < 5 {
		return nil
	}

	baseX, baseY := baseline(segment, samples, p)
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.x - baseX
		ys[i] = s.y - baseY
	}
	xs = medianFilter3(xs)
	ys = medianFilter3(ys)

	b := &Behavior{}
	lastFire := map[string]time.Time{}
	fire := func(kind string, at avl.Time, value float64, speed int) bool {
		if last, ok := lastFire[kind]; ok && at.Sub(last) <= p.EventCooldown {
			return false
		}
		lastFire[kind] = at.Time
		b.Events = append(b.Events, Event{Type: kind, At: at, ValueMG: value, Speed: speed})
		return true
	}

	for i, s := range samples {
		rec := &segment[s.index]
		spd := effectiveSpeed(rec)
		if spd < p.EventMinSpeed {
			continue
		}
		if xs[i] < -p.BrakeThresholdMG && fire(EventBraking, rec.Timestamp, xs[i], spd) {
			b.HardBraking++
		}
		if xs[i] > p.AccelThresholdMG && fire(EventAcceleration, rec.Timestamp, xs[i], spd) {
			b.HardAcceleration++
		}
		if math.Abs(ys[i]) > p.CornerThresholdMG && spd >= p.CornerMinSpeed &&
			fire(EventCornering, rec.Timestamp, ys[i], spd) {
			b.HarshCornering++
		}
	}

	b.IdleMinutes = math.Round(idleTime(segment, p).Minutes()*10) / 10

	brakePenalty := min(b.HardBraking*4, 25)
	accelPenalty := min(b.HardAcceleration*2, 20)
	cornerPenalty := min(b.HarshCornering*3, 15)
	b.TotalPenalty = brakePenalty + accelPenalty + cornerPenalty

	durationFactor := units.Clamp(float64(minutes)/10, 1, 6)
	normalized := float64(b.TotalPenalty) / durationFactor
	if severe := b.HardBraking + b.HarshCornering; severe > 0 && normalized < 3 {
		normalized = 3
	}
	b.DriverScore = int(units.Clamp(math.Round(100-normalized), 0, 100))

	idlePenalty := min(30, int(b.IdleMinutes/5)*2)
	b.EfficiencyScore = 100 - idlePenalty
	return b
}

func accelSamples(segment []avl.Record) []accelSample {
	var samples []accelSample
	for i := range segment {
		x, okX := segment[i].Float(avl.FieldAccelX)
		y, okY := segment[i].Float(avl.FieldAccelY)
		if okX && okY {
			samples = append(samples, accelSample{index: i, x: x, y: y})
		}
	}
	return samples
}

// baseline estimates the sensor's rest offset. Stationary samples are the
// trustworthy source; with fewer than three of them the first samples of the
// trip stand in, which tolerates trips that start already moving.
func baseline(segment []avl.Record, samples []accelSample, p Params) (x, y float64) {
	var stillX, stillY []float64
	for _, s := range samples {
		if effectiveSpeed(&segment[s.index]) < p.StationarySpeed {
			stillX = append(stillX, s.x)
			stillY = append(stillY, s.y)
		}
	}
	if len(stillX) >= 3 {
		return median(stillX), median(stillY)
	}

	n := min(5, len(samples))
	headX := make([]float64, n)
	headY := make([]float64, n)
	for i := 0; i < n; i++ {
		headX[i] = samples[i].x
		headY[i] = samples[i].y
	}
	return stat.Mean(headX, nil), stat.Mean(headY, nil)
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// medianFilter3 runs a 3-sample sliding median over the series, passing the
// endpoints through. Single-sample spikes from sensor noise disappear;
// sustained maneuvers survive.
func medianFilter3(values []float64) []float64 {
	if len(values) < 3 {
		return values
	}
	out := make([]float64, len(values))
	out[0] = values[0]
	out[len(values)-1] = values[len(values)-1]
	for i := 1; i < len(values)-1; i++ {
		out[i] = median3(values[i-1], values[i], values[i+1])
	}
	return out
}

func median3(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		b = a
	}
	return b
}

// idleTime sums time spent with the engine running but the vehicle parked.
// Each step is clamped so clock jumps and sparse reporting cannot dominate
// the total.
func idleTime(segment []avl.Record, p Params) time.Duration {
	var idle time.Duration
	for i := 1; i < len(segment); i++ {
		rec := &segment[i]
		ign, _ := rec.Int(avl.FieldIgnition)
		mov, hasMov := rec.Int(avl.FieldMovement)
		if ign != 1 || effectiveSpeed(rec) >= p.StationarySpeed || !hasMov || mov != 0 {
			continue
		}
		dt := rec.Timestamp.Sub(segment[i-1].Timestamp.Time)
		if dt < p.IdleStepMin {
			dt = p.IdleStepMin
		}
		if dt > p.IdleStepMax {
			dt = p.IdleStepMax
		}
		idle += dt
	}
	return idle
}

// fillConfidence grades how trustworthy the trip's numbers are and applies
// the low-confidence score cap.
func fillConfidence(trip *Trip, segment []avl.Record, p Params) {
	var reasons []string
	affecting := 0

	var satSum, satCount float64
	for i := range segment {
		if segment[i].GPS.Satellites > 0 {
			satSum += float64(segment[i].GPS.Satellites)
			satCount++
		}
	}
	if satCount == 0 || satSum/satCount < 3 {
		reasons = append(reasons, ReasonPoorGNSS)
		affecting++
	}

	accelCount := 0
	for i := range segment {
		if segment[i].Has(avl.FieldAccelX) && segment[i].Has(avl.FieldAccelY) {
			accelCount++
		}
	}
	if float64(accelCount)/float64(len(segment)) < 0.3 {
		reasons = append(reasons, ReasonLowAccelCoverage)
		affecting++
	}

	// Short trips are flagged for the reader but do not degrade the score.
	if trip.DurationMinutes < 5 {
		reasons = append(reasons, ReasonShortTrip)
	}

	if trip.DistanceEstimated {
		reasons = append(reasons, ReasonDistanceEstimated)
		affecting++
	}

	level := ConfidenceHigh
	switch {
	case affecting == 1:
		level = ConfidenceMedium
	case affecting >= 2:
		level = ConfidenceLow
	}
	trip.Confidence = Confidence{Level: level, Reasons: reasons}

	if level == ConfidenceLow && trip.Behavior != nil && trip.Behavior.DriverScore > 95 {
		trip.Behavior.DriverScore = 95
	}
	trip.Perfect = trip.Behavior != nil && trip.Behavior.TotalPenalty == 0 &&
		level == ConfidenceHigh && trip.DurationMinutes >= 5
}
