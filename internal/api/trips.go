package api

import (
	"net/http"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl/trips"
	"github.com/waypoint-data/fleetgate/internal/httputil"
)

func (s *Server) listTrips(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	limit := clampedLimit(r, defaultTripLimit, maxTripLimit)

	// Default window: the last 7 days.
	to := time.Now().UTC()
	from := to.Add(-defaultTripWindow)
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			httputil.BadRequest(w, "invalid from: "+err.Error())
			return
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			httputil.BadRequest(w, "invalid to: "+err.Error())
			return
		}
		to = t
	}

	records, err := s.store.RecordRange(r.Context(), device.ModemType, device.IMEI, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	result := trips.Analyze(device.IMEI, records, s.params)
	// Newest first, like the record listings.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	if len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []trips.Trip{}
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) dailySummary(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	day := time.Now().UTC()
	if raw := r.PathValue("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.BadRequest(w, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	from, to := trips.DayBounds(day)
	records, err := s.store.RecordRange(r.Context(), device.ModemType, device.IMEI, from, to.Add(-time.Millisecond))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, trips.Daily(device.IMEI, records, day, s.params))
}

func (s *Server) dailyRange(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		httputil.BadRequest(w, "invalid from: want YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		httputil.BadRequest(w, "invalid to: want YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		httputil.BadRequest(w, "to precedes from")
		return
	}
	days := int(to.Sub(from)/(24*time.Hour)) + 1
	if days > maxDailyRangeDays {
		httputil.BadRequest(w, "range exceeds 62 days")
		return
	}

	start, _ := trips.DayBounds(from)
	_, end := trips.DayBounds(to)
	records, err := s.store.RecordRange(r.Context(), device.ModemType, device.IMEI, start, end.Add(-time.Millisecond))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	summaries := make([]trips.DailySummary, 0, days)
	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		summary := trips.Daily(device.IMEI, records, day, s.params)
		summary.Trips = nil // keep range responses compact
		summaries = append(summaries, summary)
	}
	httputil.WriteJSONOK(w, summaries)
}
