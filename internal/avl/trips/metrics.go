package trips

import (
	"math"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/units"
)

// effectiveSpeed is the speed used for distance integration and event
// gating: the OBD reading when the bus provides one, the GNSS speed
// otherwise.
func effectiveSpeed(r *avl.Record) int {
	if v, ok := r.Int(avl.FieldVehicleSpeed); ok && v > 0 {
		return int(v)
	}
	return r.GPS.Speed
}

// distance measures a segment. The odometer wins when it moved; a flat or
// absent odometer falls back to integrating speed over time, which is marked
// as estimated.
func distance(segment []avl.Record) (meters float64, estimated bool) {
	var startOdo, endOdo int64
	haveStart := false
	for i := range segment {
		if v, ok := segment[i].Int(avl.FieldTotalOdometer); ok {
			if !haveStart {
				startOdo = v
				haveStart = true
			}
			endOdo = v
		}
	}
	if haveStart && endOdo > startOdo {
		return float64(endOdo - startOdo), false
	}

	var sum float64
	for i := 1; i < len(segment); i++ {
		dt := segment[i].Timestamp.Sub(segment[i-1].Timestamp.Time).Seconds()
		if dt <= 0 {
			continue
		}
		sum += units.KmhToMs(float64(effectiveSpeed(&segment[i]))) * dt
	}
	return sum, true
}

func fillSpeeds(trip *Trip, segment []avl.Record) {
	var movingSum, movingCount float64
	for i := range segment {
		spd := effectiveSpeed(&segment[i])
		if spd > trip.MaxSpeed {
			trip.MaxSpeed = spd
		}
		if spd > 0 {
			movingSum += float64(spd)
			movingCount++
		}
	}
	if movingCount > 0 {
		trip.AvgSpeedMoving = math.Round(movingSum/movingCount*10) / 10
	}
	if trip.DurationMinutes > 0 {
		hours := float64(trip.DurationMinutes) / 60
		trip.AvgSpeedTotal = math.Round(trip.DistanceKm/hours*10) / 10
	}
}

func fillOdometers(trip *Trip, segment []avl.Record) {
	for i := range segment {
		if v, ok := segment[i].Int(avl.FieldTotalOdometer); ok {
			if trip.StartOdometer == 0 && trip.EndOdometer == 0 {
				trip.StartOdometer = v
			}
			trip.EndOdometer = v
		}
	}
}

// fillPositions picks the first and last records holding a GNSS fix; a trip
// recorded entirely without satellites falls back to its outer records.
func fillPositions(trip *Trip, segment []avl.Record) {
	firstFix, lastFix := -1, -1
	for i := range segment {
		if segment[i].GPS.Satellites > 0 {
			if firstFix < 0 {
				firstFix = i
			}
			lastFix = i
		}
	}
	if firstFix < 0 {
		firstFix, lastFix = 0, len(segment)-1
	}
	trip.StartPosition = position(&segment[firstFix])
	trip.EndPosition = position(&segment[lastFix])
}

func position(r *avl.Record) avl.Position {
	return avl.Position{
		Latitude:  r.GPS.Latitude,
		Longitude: r.GPS.Longitude,
		At:        r.Timestamp,
	}
}

// fillFuel derives consumption from the cumulative GPS-estimated fuel
// counter (IO 12). Short or slow segments produce readings dominated by
// counter granularity, so fuel is only reported past the distance and
// duration floors.
func fillFuel(trip *Trip, segment []avl.Record) {
	var startMl, endMl int64
	have := false
	for i := range segment {
		if v, ok := segment[i].Int(avl.FieldFuelUsedGPS); ok {
			if !have {
				startMl = v
				have = true
			}
			endMl = v
		}
	}
	if !have {
		return
	}
	usedMl := endMl - startMl
	if usedMl <= 0 || trip.DistanceKm < 2 || trip.DurationMinutes < 5 {
		return
	}
	liters := units.MlToLiters(usedMl)
	trip.Fuel = &Fuel{
		UsedMl:     usedMl,
		UsedLiters: liters,
		Per100Km:   units.LitersPer100Km(liters, trip.DistanceKm),
		FromGPS:    true,
	}
}
