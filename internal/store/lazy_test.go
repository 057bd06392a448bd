package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
)

func TestLazyUnavailableBeforeInstall(t *testing.T) {
	l := NewLazy()
	ctx := context.Background()

	if l.Ready() {
		t.Error("empty Lazy reports ready")
	}
	if _, err := l.GetDevice(ctx, "864275079658715"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetDevice error = %v, want ErrUnavailable", err)
	}
	if _, _, err := l.InsertRecords(ctx, avl.DefaultModemType, nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("InsertRecords error = %v, want ErrUnavailable", err)
	}
	if err := l.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping error = %v, want ErrUnavailable", err)
	}
	// Closing a store that never connected is not an error.
	if err := l.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func TestLazyDialInstallsAfterFailures(t *testing.T) {
	l := NewLazy()
	attempts := 0
	err := l.Dial(context.Background(), 10*time.Millisecond, func(ctx context.Context) (Store, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return &nopStore{}, nil
	})
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !l.Ready() {
		t.Error("Lazy not ready after successful dial")
	}
	if err := l.Ping(context.Background()); err != nil {
		t.Errorf("Ping after install = %v", err)
	}
}

func TestLazyDialStopsOnCancel(t *testing.T) {
	l := NewLazy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Dial(ctx, 10*time.Millisecond, func(ctx context.Context) (Store, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("Dial on canceled context returned nil")
	}
	if l.Ready() {
		t.Error("canceled dial installed a store")
	}
}

// nopStore satisfies Store with zero values.
type nopStore struct{}

func (nopStore) CreateDevice(ctx context.Context, d *avl.Device) error { return nil }
func (nopStore) GetDevice(ctx context.Context, imei string) (*avl.Device, error) {
	return nil, ErrNotFound
}
func (nopStore) ListDevices(ctx context.Context) ([]avl.Device, error) { return nil, nil }
func (nopStore) UpdateDevice(ctx context.Context, imei string, upd DeviceUpdate) (*avl.Device, error) {
	return nil, ErrNotFound
}
func (nopStore) SetApproved(ctx context.Context, imei string, approved bool) error { return nil }
func (nopStore) SetVIN(ctx context.Context, imei, vin string) error                { return nil }
func (nopStore) TouchDevice(ctx context.Context, imei string, seenAt time.Time) error {
	return nil
}
func (nopStore) DeleteDevice(ctx context.Context, imei string) error { return nil }
func (nopStore) InsertRecords(ctx context.Context, modemType string, records []*avl.Record) (int, int, error) {
	return 0, 0, nil
}
func (nopStore) LatestRecord(ctx context.Context, modemType, imei string) (*avl.Record, error) {
	return nil, ErrNotFound
}
func (nopStore) Records(ctx context.Context, modemType, imei string, limit, skip int) ([]avl.Record, error) {
	return nil, nil
}
func (nopStore) RecordRange(ctx context.Context, modemType, imei string, from, to time.Time) ([]avl.Record, error) {
	return nil, nil
}
func (nopStore) CountRecords(ctx context.Context, modemType, imei string) (int64, error) {
	return 0, nil
}
func (nopStore) CountRecordsSince(ctx context.Context, modemType, imei string, since time.Time) (int64, error) {
	return 0, nil
}
func (nopStore) InsertRaw(ctx context.Context, modemType string, frame *avl.RawFrame) error {
	return nil
}
func (nopStore) RawFrames(ctx context.Context, modemType, imei string, limit int) ([]avl.RawFrame, error) {
	return nil, nil
}
func (nopStore) Ping(ctx context.Context) error { return nil }
func (nopStore) Close() error                   { return nil }
