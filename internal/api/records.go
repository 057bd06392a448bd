package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/httputil"
	"github.com/waypoint-data/fleetgate/internal/store"
)

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	limit := clampedLimit(r, defaultRecordLimit, maxRecordLimit)
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}

	records, err := s.store.Records(r.Context(), device.ModemType, device.IMEI, limit, skip)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []avl.Record{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) latestRecord(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	rec, err := s.store.LatestRecord(r.Context(), device.ModemType, device.IMEI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "no records for "+device.IMEI)
			return
		}
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func (s *Server) recordRange(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	from, to, err := requiredRange(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.store.RecordRange(r.Context(), device.ModemType, device.IMEI, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []avl.Record{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) listRawFrames(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	limit := clampedLimit(r, defaultRawLimit, maxRawLimit)

	frames, err := s.store.RawFrames(r.Context(), device.ModemType, device.IMEI, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if frames == nil {
		frames = []avl.RawFrame{}
	}
	httputil.WriteJSONOK(w, frames)
}

// deviceStats is a quick operational summary for one device.
type deviceStats struct {
	IMEI         string        `json:"imei"`
	TotalRecords int64         `json:"totalRecords"`
	RecordsToday int64         `json:"recordsToday"`
	LastRecordAt *avl.Time     `json:"lastRecordAt,omitempty"`
	LastPosition *avl.Position `json:"lastPosition,omitempty"`
	LastIgnition *int64        `json:"lastIgnition,omitempty"`
	LastSpeed    *int          `json:"lastSpeed,omitempty"`
}

func (s *Server) deviceStats(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	total, err := s.store.CountRecords(ctx, device.ModemType, device.IMEI)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	midnight, _ := dayBoundsNow()
	today, err := s.store.CountRecordsSince(ctx, device.ModemType, device.IMEI, midnight)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	stats := deviceStats{IMEI: device.IMEI, TotalRecords: total, RecordsToday: today}
	latest, err := s.store.LatestRecord(ctx, device.ModemType, device.IMEI)
	switch {
	case err == nil:
		stats.LastRecordAt = &latest.Timestamp
		stats.LastPosition = &avl.Position{
			Latitude:  latest.GPS.Latitude,
			Longitude: latest.GPS.Longitude,
			At:        latest.Timestamp,
		}
		if ign, ok := latest.Int(avl.FieldIgnition); ok {
			stats.LastIgnition = &ign
		}
		speed := latest.GPS.Speed
		stats.LastSpeed = &speed
	case errors.Is(err, store.ErrNotFound):
		// A registered device that has never reported.
	default:
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, stats)
}

// requiredRange parses mandatory ?from and ?to bounds.
func requiredRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	rawFrom, rawTo := q.Get("from"), q.Get("to")
	if rawFrom == "" || rawTo == "" {
		return time.Time{}, time.Time{}, errors.New("from and to are required")
	}
	from, err := parseTime(rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from: " + err.Error())
	}
	to, err := parseTime(rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to: " + err.Error())
	}
	return from, to, nil
}

func dayBoundsNow() (time.Time, time.Time) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight, now
}
