// Package store defines the document-store interface the gateway persists
// through, the collection naming scheme shared by its backends, and a lazy
// wrapper that lets the TCP core run before the store is reachable.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound    = errors.New("store: not found")
	ErrExists      = errors.New("store: already exists")
	ErrUnavailable = errors.New("store: unavailable")
)

// MaxRangeRecords caps how many records a time-range query returns.
const MaxRangeRecords = 10000

// DeviceUpdate is a partial device update; nil fields are left untouched.
type DeviceUpdate struct {
	ModemType   *string
	CarBrand    *string
	CarModel    *string
	PlateNumber *string
	Notes       *string
	PollCommand *string
}

// Store is the persistence surface consumed by ingest, the API, and the
// operator tools. Implementations route records and raw frames into
// per-modem-type collections and enforce the (timestamp, imei) uniqueness
// that makes replays idempotent.
type Store interface {
	CreateDevice(ctx context.Context, d *avl.Device) error
	GetDevice(ctx context.Context, imei string) (*avl.Device, error)
	ListDevices(ctx context.Context) ([]avl.Device, error)
	UpdateDevice(ctx context.Context, imei string, upd DeviceUpdate) (*avl.Device, error)
	SetApproved(ctx context.Context, imei string, approved bool) error
	// SetVIN records the VIN observed in a session; the first write wins.
	SetVIN(ctx context.Context, imei, vin string) error
	TouchDevice(ctx context.Context, imei string, seenAt time.Time) error
	DeleteDevice(ctx context.Context, imei string) error

	// InsertRecords persists a batch; duplicates of the (timestamp, imei)
	// key are skipped and counted, never errors.
	InsertRecords(ctx context.Context, modemType string, records []*avl.Record) (inserted, duplicates int, err error)
	LatestRecord(ctx context.Context, modemType, imei string) (*avl.Record, error)
	// Records pages newest-first.
	Records(ctx context.Context, modemType, imei string, limit, skip int) ([]avl.Record, error)
	// RecordRange returns [from, to] ascending, capped at MaxRangeRecords.
	RecordRange(ctx context.Context, modemType, imei string, from, to time.Time) ([]avl.Record, error)
	CountRecords(ctx context.Context, modemType, imei string) (int64, error)
	CountRecordsSince(ctx context.Context, modemType, imei string, since time.Time) (int64, error)

	InsertRaw(ctx context.Context, modemType string, frame *avl.RawFrame) error
	RawFrames(ctx context.Context, modemType, imei string, limit int) ([]avl.RawFrame, error)

	Ping(ctx context.Context) error
	Close() error
}

// CollectionSuffix reduces a modem type to its collection suffix: lowercase,
// stripped to [a-z0-9]. Anything unusable falls back to the default type.
func CollectionSuffix(modemType string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(modemType) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return CollectionSuffix(avl.DefaultModemType)
	}
	return b.String()
}

// RecordsCollection and RawCollection name the per-type collections.
func RecordsCollection(modemType string) string { return "records_" + CollectionSuffix(modemType) }
func RawCollection(modemType string) string     { return "raw_" + CollectionSuffix(modemType) }
