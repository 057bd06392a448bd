// fleetgate is the telematics gateway: it terminates tracker TCP sessions,
// persists decoded telemetry, and serves the management and analytics HTTP
// API. Without arguments it runs the gateway; the migrate subcommand manages
// the embedded SQLite schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/waypoint-data/fleetgate/internal/api"
	"github.com/waypoint-data/fleetgate/internal/avl/trips"
	"github.com/waypoint-data/fleetgate/internal/config"
	"github.com/waypoint-data/fleetgate/internal/fsutil"
	"github.com/waypoint-data/fleetgate/internal/ingest"
	"github.com/waypoint-data/fleetgate/internal/monitoring"
	"github.com/waypoint-data/fleetgate/internal/rawlog"
	"github.com/waypoint-data/fleetgate/internal/store"
	"github.com/waypoint-data/fleetgate/internal/store/mongostore"
	"github.com/waypoint-data/fleetgate/internal/store/sqlstore"
	"github.com/waypoint-data/fleetgate/internal/timeutil"
	"github.com/waypoint-data/fleetgate/internal/version"
)

// dialMaxInterval caps the store reconnect backoff.
const dialMaxInterval = 30 * time.Second

var env = config.FromEnv()

var (
	mongoURI    = flag.String("mongo-uri", env.MongoURI, "MongoDB connection URI (empty: embedded SQLite)")
	dbPath      = flag.String("db", env.DBPath, "SQLite database path, used when no Mongo URI is set")
	tcpPort     = flag.Int("tcp-port", env.TCPPort, "TCP port for tracker sessions")
	apiPort     = flag.Int("api-port", env.APIPort, "HTTP port for the management API")
	apiKey      = flag.String("api-key", env.APIKey, "X-API-Key value required on API routes")
	logsDir     = flag.String("logs-dir", env.LogsDir, "Directory for hourly capture and event logs")
	tuningPath  = flag.String("tuning", "", "Optional JSON tuning file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetgate %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if flag.Arg(0) == "migrate" {
		os.Exit(runMigrate(flag.Arg(1)))
	}

	cfg := config.Config{
		MongoURI: *mongoURI,
		DBPath:   *dbPath,
		TCPPort:  *tcpPort,
		APIPort:  *apiPort,
		APIKey:   *apiKey,
		LogsDir:  *logsDir,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.APIKey == "" {
		log.Printf("warning: no API key set, API routes reject everything except /health and /metrics")
	}

	tuning := &config.Tuning{}
	if *tuningPath != "" {
		t, err := config.LoadTuning(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning: %v", err)
		}
		tuning = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The gateway starts accepting sessions before the store is reachable;
	// sessions run capture-only until the dial goroutine installs a backend.
	lazy := store.NewLazy()
	defer lazy.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := lazy.Dial(ctx, dialMaxInterval, func(ctx context.Context) (store.Store, error) {
			return openStore(ctx, cfg)
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("store dial abandoned: %v", err)
		}
	}()

	fs := fsutil.OSFileSystem{}
	frames := rawlog.NewWriter(fs, cfg.LogsDir, rawlog.ComponentFrames)
	events := rawlog.NewWriter(fs, cfg.LogsDir, rawlog.ComponentEvents)
	defer frames.Close()
	defer events.Close()

	ingestSrv := ingest.NewServer(lazy, tuning, timeutil.RealClock{}, frames, events)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf(":%d", cfg.TCPPort)
		monitoring.Logf("tracker listener on %s", addr)
		if err := ingestSrv.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
			log.Printf("tracker listener failed: %v", err)
			stop()
		}
	}()

	apiSrv := api.NewServer(lazy, tripParams(tuning), cfg.APIKey)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: api.LoggingMiddleware(apiSrv.ServeMux()),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			monitoring.Logf("api listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("api server failed: %v", err)
				stop()
			}
		}()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown error: %v", err)
			httpServer.Close()
		}
	}()

	wg.Wait()
	monitoring.Logf("gateway stopped")
}

// openStore picks the backend: Mongo when a URI is configured, otherwise
// embedded SQLite (migrations apply on open).
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.MongoURI != "" {
		return mongostore.Open(ctx, cfg.MongoURI)
	}
	return sqlstore.Open(cfg.DBPath)
}

// runMigrate handles `fleetgate migrate up|down|version` against the SQLite
// store. Migration tooling fails fast rather than retrying.
func runMigrate(action string) int {
	if *mongoURI != "" {
		log.Printf("migrate applies to the SQLite store only; unset %s", config.EnvMongoURI)
		return 1
	}
	s, err := sqlstore.Open(*dbPath)
	if err != nil {
		log.Printf("open %s: %v", *dbPath, err)
		return 1
	}
	defer s.Close()

	switch action {
	case "up":
		err = s.MigrateUp()
	case "down":
		err = s.MigrateDown()
	case "version":
		var version uint
		var dirty bool
		if version, dirty, err = s.MigrateVersion(); err == nil {
			fmt.Printf("version %d dirty %v\n", version, dirty)
		}
	default:
		log.Printf("usage: fleetgate migrate up|down|version")
		return 2
	}
	if err != nil {
		log.Printf("migrate %s: %v", action, err)
		return 1
	}
	return 0
}

// tripParams maps tuning overrides onto the analytics thresholds.
func tripParams(t *config.Tuning) trips.Params {
	p := trips.DefaultParams()
	p.QuietPeriod = t.GetTripQuietPeriod()
	p.MinTripMinutes = t.GetMinTripMinutes()
	p.MinTripMeters = t.GetMinTripMeters()
	p.BrakeThresholdMG = t.GetBrakeThresholdMG()
	p.AccelThresholdMG = t.GetAccelThresholdMG()
	p.CornerThresholdMG = t.GetCornerThresholdMG()
	p.EventCooldown = t.GetEventCooldown()
	p.EventMinSpeed = t.GetEventMinSpeed()
	p.CornerMinSpeed = t.GetCornerMinSpeed()
	p.StationarySpeed = t.GetStationarySpeed()
	return p
}
