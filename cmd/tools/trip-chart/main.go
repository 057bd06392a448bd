// trip-chart renders one device-day as a standalone HTML chart: the speed
// trace with trip occupancy overlaid, for eyeballing segmentation against
// raw telemetry.
//
//	trip-chart -device 864275079658715 -date 2024-03-01 -out day.html
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	_ "modernc.org/sqlite"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/avl/trips"
	"github.com/waypoint-data/fleetgate/internal/config"
	"github.com/waypoint-data/fleetgate/internal/store"
	"github.com/waypoint-data/fleetgate/internal/store/mongostore"
	"github.com/waypoint-data/fleetgate/internal/store/sqlstore"
)

var env = config.FromEnv()

var (
	device   = flag.String("device", "", "IMEI to chart (required)")
	date     = flag.String("date", "", "UTC day to chart, YYYY-MM-DD (required)")
	out      = flag.String("out", "trip-chart.html", "Output HTML file")
	dbPath   = flag.String("db", env.DBPath, "SQLite database path")
	mongoURI = flag.String("mongo-uri", env.MongoURI, "MongoDB URI (overrides -db)")
)

func main() {
	log.SetFlags(0)
	flag.Parse()
	if *device == "" || *date == "" {
		flag.Usage()
		os.Exit(2)
	}
	day, err := time.Parse("2006-01-02", *date)
	if err != nil {
		log.Fatalf("bad -date: %v", err)
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	d, err := st.GetDevice(ctx, *device)
	if err != nil {
		log.Fatalf("device %s: %v", *device, err)
	}
	from, to := trips.DayBounds(day)
	records, err := st.RecordRange(ctx, d.ModemType, d.IMEI, from, to.Add(-time.Millisecond))
	if err != nil {
		log.Fatalf("load records: %v", err)
	}
	if len(records) == 0 {
		log.Fatalf("no records for %s on %s", d.IMEI, *date)
	}

	dayTrips := trips.Analyze(d.IMEI, records, trips.DefaultParams())
	if err := renderChart(*out, d, *date, records, dayTrips); err != nil {
		log.Fatalf("render chart: %v", err)
	}
	log.Printf("wrote %s (%d records, %d trips)", *out, len(records), len(dayTrips))
}

func openStore(ctx context.Context) (store.Store, error) {
	if *mongoURI != "" {
		return mongostore.Open(ctx, *mongoURI)
	}
	return sqlstore.Open(*dbPath)
}

// renderChart draws the GNSS speed trace with a step series marking which
// samples fall inside a synthesized trip.
func renderChart(path string, d *avl.Device, date string, records []avl.Record, dayTrips []trips.Trip) error {
	labels := make([]string, 0, len(records))
	speeds := make([]opts.LineData, 0, len(records))
	occupancy := make([]opts.LineData, 0, len(records))

	maxSpeed := 0
	for i := range records {
		if records[i].GPS.Speed > maxSpeed {
			maxSpeed = records[i].GPS.Speed
		}
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	for i := range records {
		ts := records[i].Timestamp.Time
		labels = append(labels, ts.Format("15:04:05"))
		speeds = append(speeds, opts.LineData{Value: records[i].GPS.Speed})
		band := 0
		if inTrip(ts, dayTrips) {
			band = maxSpeed
		}
		occupancy = append(occupancy, opts.LineData{Value: band})
	}

	subtitle := fmt.Sprintf("%s · %d records · %d trips", date, len(records), len(dayTrips))
	if d.PlateNumber != "" {
		subtitle = d.PlateNumber + " · " + subtitle
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Device day " + d.IMEI,
			Width:     "1400px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Speed and trips " + d.IMEI, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (UTC)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km/h"}),
	)
	line.SetXAxis(labels)
	line.AddSeries("trip", occupancy,
		charts.WithLineChartOpts(opts.LineChart{Step: "start"}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.15)}),
	)
	line.AddSeries("speed", speeds,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}

func inTrip(ts time.Time, dayTrips []trips.Trip) bool {
	for i := range dayTrips {
		if !ts.Before(dayTrips[i].StartTime.Time) && !ts.After(dayTrips[i].EndTime.Time) {
			return true
		}
	}
	return false
}
