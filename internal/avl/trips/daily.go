package trips

import (
	"math"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
)

// DailySummary aggregates one UTC day of trips for a device.
type DailySummary struct {
	IMEI                 string    `json:"imei"`
	Date                 string    `json:"date"`
	TripCount            int       `json:"tripCount"`
	TotalDistanceKm      float64   `json:"totalDistanceKm"`
	TotalDurationMinutes int       `json:"totalDurationMinutes"`
	TotalFuelLiters      float64   `json:"totalFuelLiters"`
	MaxSpeed             int       `json:"maxSpeed"`
	AvgDriverScore       int       `json:"avgDriverScore"`
	IdleMinutes          float64   `json:"idleMinutes"`
	PerfectTrips         int       `json:"perfectTrips"`
	FirstTripStart       *avl.Time `json:"firstTripStart,omitempty"`
	LastTripEnd          *avl.Time `json:"lastTripEnd,omitempty"`
	RecordCount          int       `json:"recordCount"`
	Trips                []Trip    `json:"trips,omitempty"`
}

// DayBounds returns the [00:00, 24:00) UTC window of the day containing t.
func DayBounds(t time.Time) (from, to time.Time) {
	from = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour)
}

// Daily segments one UTC day of records and rolls the emitted trips up into
// a summary. A day with no qualifying trip reports zeros.
func Daily(imei string, records []avl.Record, day time.Time, p Params) DailySummary {
	from, to := DayBounds(day.UTC())

	inDay := make([]avl.Record, 0, len(records))
	for i := range records {
		ts := records[i].Timestamp.Time
		if !ts.Before(from) && ts.Before(to) {
			inDay = append(inDay, records[i])
		}
	}

	summary := DailySummary{
		IMEI:        imei,
		Date:        from.Format("2006-01-02"),
		RecordCount: len(inDay),
	}

	dayTrips := Analyze(imei, inDay, p)
	summary.TripCount = len(dayTrips)
	summary.Trips = dayTrips

	var scoreSum, scoreCount float64
	for i := range dayTrips {
		trip := &dayTrips[i]
		summary.TotalDistanceKm += trip.DistanceKm
		summary.TotalDurationMinutes += trip.DurationMinutes
		if trip.Fuel != nil {
			summary.TotalFuelLiters += trip.Fuel.UsedLiters
		}
		if trip.MaxSpeed > summary.MaxSpeed {
			summary.MaxSpeed = trip.MaxSpeed
		}
		if trip.Behavior != nil {
			scoreSum += float64(trip.Behavior.DriverScore)
			scoreCount++
			summary.IdleMinutes += trip.Behavior.IdleMinutes
		}
		if trip.Perfect {
			summary.PerfectTrips++
		}
	}
	summary.TotalDistanceKm = math.Round(summary.TotalDistanceKm*10) / 10
	summary.TotalFuelLiters = math.Round(summary.TotalFuelLiters*1000) / 1000
	summary.IdleMinutes = math.Round(summary.IdleMinutes*10) / 10
	if scoreCount > 0 {
		summary.AvgDriverScore = int(math.Round(scoreSum / scoreCount))
	}
	if len(dayTrips) > 0 {
		summary.FirstTripStart = &dayTrips[0].StartTime
		summary.LastTripEnd = &dayTrips[len(dayTrips)-1].EndTime
	}
	return summary
}
