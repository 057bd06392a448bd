package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/monitoring"
)

// Lazy is a Store that may not have a backend yet. Every call returns
// ErrUnavailable until Dial succeeds; the gateway keeps accepting device
// connections in the meantime and relies on capture logs for replay.
type Lazy struct {
	inner atomic.Pointer[Store]
}

// NewLazy returns an empty Lazy store.
func NewLazy() *Lazy { return &Lazy{} }

// Install sets the backend. Safe to call from the dial goroutine while
// sessions are already running.
func (l *Lazy) Install(s Store) {
	l.inner.Store(&s)
}

// Ready reports whether a backend is installed.
func (l *Lazy) Ready() bool { return l.inner.Load() != nil }

func (l *Lazy) get() (Store, error) {
	if p := l.inner.Load(); p != nil {
		return *p, nil
	}
	return nil, ErrUnavailable
}

// Dial keeps trying open until it succeeds or ctx is canceled, then installs
// the backend. Retries back off exponentially up to maxInterval.
func (l *Lazy) Dial(ctx context.Context, maxInterval time.Duration, open func(context.Context) (Store, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxInterval
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		s, err := open(ctx)
		if err != nil {
			monitoring.Logf("store dial failed, will retry: %v", err)
			return err
		}
		l.Install(s)
		monitoring.Logf("store connected")
		return nil
	}, backoff.WithContext(policy, ctx))
}

func (l *Lazy) CreateDevice(ctx context.Context, d *avl.Device) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.CreateDevice(ctx, d)
}

func (l *Lazy) GetDevice(ctx context.Context, imei string) (*avl.Device, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.GetDevice(ctx, imei)
}

func (l *Lazy) ListDevices(ctx context.Context) ([]avl.Device, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.ListDevices(ctx)
}

func (l *Lazy) UpdateDevice(ctx context.Context, imei string, upd DeviceUpdate) (*avl.Device, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.UpdateDevice(ctx, imei, upd)
}

func (l *Lazy) SetApproved(ctx context.Context, imei string, approved bool) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.SetApproved(ctx, imei, approved)
}

func (l *Lazy) SetVIN(ctx context.Context, imei, vin string) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.SetVIN(ctx, imei, vin)
}

func (l *Lazy) TouchDevice(ctx context.Context, imei string, seenAt time.Time) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.TouchDevice(ctx, imei, seenAt)
}

func (l *Lazy) DeleteDevice(ctx context.Context, imei string) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.DeleteDevice(ctx, imei)
}

func (l *Lazy) InsertRecords(ctx context.Context, modemType string, records []*avl.Record) (int, int, error) {
	s, err := l.get()
	if err != nil {
		return 0, 0, err
	}
	return s.InsertRecords(ctx, modemType, records)
}

func (l *Lazy) LatestRecord(ctx context.Context, modemType, imei string) (*avl.Record, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.LatestRecord(ctx, modemType, imei)
}

func (l *Lazy) Records(ctx context.Context, modemType, imei string, limit, skip int) ([]avl.Record, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.Records(ctx, modemType, imei, limit, skip)
}

func (l *Lazy) RecordRange(ctx context.Context, modemType, imei string, from, to time.Time) ([]avl.Record, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.RecordRange(ctx, modemType, imei, from, to)
}

func (l *Lazy) CountRecords(ctx context.Context, modemType, imei string) (int64, error) {
	s, err := l.get()
	if err != nil {
		return 0, err
	}
	return s.CountRecords(ctx, modemType, imei)
}

func (l *Lazy) CountRecordsSince(ctx context.Context, modemType, imei string, since time.Time) (int64, error) {
	s, err := l.get()
	if err != nil {
		return 0, err
	}
	return s.CountRecordsSince(ctx, modemType, imei, since)
}

func (l *Lazy) InsertRaw(ctx context.Context, modemType string, frame *avl.RawFrame) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.InsertRaw(ctx, modemType, frame)
}

func (l *Lazy) RawFrames(ctx context.Context, modemType, imei string, limit int) ([]avl.RawFrame, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.RawFrames(ctx, modemType, imei, limit)
}

func (l *Lazy) Ping(ctx context.Context) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

func (l *Lazy) Close() error {
	s, err := l.get()
	if err != nil {
		return nil
	}
	return s.Close()
}
