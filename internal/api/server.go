// Package api serves the read-mostly HTTP surface of the gateway: device
// registry management, stored telemetry, raw frames, and on-demand trip and
// daily analytics. Every response is JSON; every route except /health and
// /metrics requires the API key.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/avl/trips"
	"github.com/waypoint-data/fleetgate/internal/httputil"
	"github.com/waypoint-data/fleetgate/internal/monitoring"
	"github.com/waypoint-data/fleetgate/internal/store"
)

// ANSI escape codes for request logging.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Pagination bounds per endpoint; out-of-range limits clamp, never reject.
const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	defaultRawLimit    = 50
	maxRawLimit        = 500
	defaultTripLimit   = 20
	maxTripLimit       = 100
	maxDailyRangeDays  = 62
	defaultTripWindow  = 7 * 24 * time.Hour
)

type Server struct {
	store  store.Store
	params trips.Params
	apiKey string
}

func NewServer(st store.Store, params trips.Params, apiKey string) *Server {
	return &Server{store: st, params: params, apiKey: apiKey}
}

// ServeMux builds the route table. Wrap it with LoggingMiddleware in the
// caller; the API-key check is applied here so /health and /metrics stay
// open.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /devices", s.keyed(s.listDevices))
	mux.Handle("POST /devices", s.keyed(s.createDevice))
	mux.Handle("GET /devices/{imei}", s.keyed(s.getDevice))
	mux.Handle("PUT /devices/{imei}", s.keyed(s.updateDevice))
	mux.Handle("PATCH /devices/{imei}/approve", s.keyed(s.approveDevice))
	mux.Handle("DELETE /devices/{imei}", s.keyed(s.deleteDevice))

	mux.Handle("GET /devices/{imei}/records", s.keyed(s.listRecords))
	mux.Handle("GET /devices/{imei}/records/latest", s.keyed(s.latestRecord))
	mux.Handle("GET /devices/{imei}/records/range", s.keyed(s.recordRange))
	mux.Handle("GET /devices/{imei}/raw", s.keyed(s.listRawFrames))
	mux.Handle("GET /devices/{imei}/stats", s.keyed(s.deviceStats))

	mux.Handle("GET /devices/{imei}/trips", s.keyed(s.listTrips))
	mux.Handle("GET /devices/{imei}/daily", s.keyed(s.dailySummary))
	mux.Handle("GET /devices/{imei}/daily/{date}", s.keyed(s.dailySummary))
	mux.Handle("GET /devices/{imei}/daily-range", s.keyed(s.dailyRange))
	return mux
}

// keyed enforces the X-API-Key header.
func (s *Server) keyed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.apiKey {
			httputil.Unauthorized(w, "missing or invalid api key")
			return
		}
		next(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	storeState := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		storeState = "degraded"
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "store": storeState})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, store.ErrExists):
		httputil.Conflict(w, "already exists")
	case errors.Is(err, store.ErrUnavailable):
		httputil.ServiceUnavailable(w, "store unavailable")
	default:
		monitoring.Logf("[api] store error: %v", err)
		httputil.InternalServerError(w, "store operation failed")
	}
}

// device resolves the path IMEI, writing the error response itself when the
// device cannot be served.
func (s *Server) device(w http.ResponseWriter, r *http.Request) (*avl.Device, bool) {
	imei := r.PathValue("imei")
	d, err := s.store.GetDevice(r.Context(), imei)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "unknown device "+imei)
		} else {
			writeStoreError(w, err)
		}
		return nil, false
	}
	return d, true
}

// clampedLimit parses ?limit with a default and a hard maximum.
func clampedLimit(r *http.Request, fallback, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

// parseTime accepts RFC3339 or unix milliseconds.
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("want RFC3339 or unix milliseconds")
	}
	return time.UnixMilli(ms).UTC(), nil
}
