package sqlstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/store"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	fname := strings.ReplaceAll(t.Name(), "/", "_") + ".db"
	_ = os.Remove(fname)

	s, err := Open(fname)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		_ = os.Remove(fname)
		_ = os.Remove(fname + "-shm")
		_ = os.Remove(fname + "-wal")
	})
	return s
}

func testDevice(imei string) *avl.Device {
	now := avl.NewTime(time.Now())
	return &avl.Device{
		IMEI:      imei,
		Approved:  true,
		ModemType: "FMC003",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testRecord(imei string, ts time.Time) *avl.Record {
	rec := &avl.Record{
		IMEI:       imei,
		Timestamp:  avl.NewTime(ts),
		ReceivedAt: avl.NewTime(ts.Add(time.Second)),
		Priority:   1,
		GPS: avl.GPS{
			Latitude:   44.0,
			Longitude:  26.0,
			Altitude:   100,
			Angle:      90,
			Satellites: 9,
			Speed:      50,
		},
		Elements: []avl.IOElement{
			{ID: 239, Name: "ignition", Value: avl.NumValue(1), Size: 1},
		},
	}
	rec.SetField("ignition", int64(1))
	rec.SetField("totalOdometer", int64(123456))
	return rec
}

const testIMEI = "864275079658715"

func TestDeviceLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.CreateDevice(ctx, testDevice(testIMEI)); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}
	if err := s.CreateDevice(ctx, testDevice(testIMEI)); !errors.Is(err, store.ErrExists) {
		t.Errorf("second CreateDevice() = %v, want ErrExists", err)
	}

	d, err := s.GetDevice(ctx, testIMEI)
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}
	if !d.Approved || d.ModemType != "FMC003" {
		t.Errorf("GetDevice() = %+v, want approved FMC003", d)
	}

	brand := "Dacia"
	plate := "B 123 XYZ"
	d, err = s.UpdateDevice(ctx, testIMEI, store.DeviceUpdate{CarBrand: &brand, PlateNumber: &plate})
	if err != nil {
		t.Fatalf("UpdateDevice() error: %v", err)
	}
	if d.CarBrand != "Dacia" || d.PlateNumber != "B 123 XYZ" {
		t.Errorf("UpdateDevice() = %+v", d)
	}

	if err := s.SetApproved(ctx, testIMEI, false); err != nil {
		t.Fatalf("SetApproved() error: %v", err)
	}
	d, _ = s.GetDevice(ctx, testIMEI)
	if d.Approved {
		t.Error("device still approved after SetApproved(false)")
	}

	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.TouchDevice(ctx, testIMEI, seen); err != nil {
		t.Fatalf("TouchDevice() error: %v", err)
	}
	d, _ = s.GetDevice(ctx, testIMEI)
	if d.LastSeenAt == nil || !d.LastSeenAt.Equal(seen) {
		t.Errorf("LastSeenAt = %v, want %v", d.LastSeenAt, seen)
	}

	if err := s.DeleteDevice(ctx, testIMEI); err != nil {
		t.Fatalf("DeleteDevice() error: %v", err)
	}
	if _, err := s.GetDevice(ctx, testIMEI); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetDevice() after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDevice(ctx, testIMEI); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteDevice() = %v, want ErrNotFound", err)
	}
}

func TestSetVINFirstWriteWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.CreateDevice(ctx, testDevice(testIMEI)); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}
	if err := s.SetVIN(ctx, testIMEI, "WVWZZZ1JZXW000001"); err != nil {
		t.Fatalf("SetVIN() error: %v", err)
	}
	if err := s.SetVIN(ctx, testIMEI, "DIFFERENT00000002"); err != nil {
		t.Fatalf("second SetVIN() error: %v", err)
	}
	d, _ := s.GetDevice(ctx, testIMEI)
	if d.VIN != "WVWZZZ1JZXW000001" {
		t.Errorf("VIN = %q, want the first write to win", d.VIN)
	}
	if err := s.SetVIN(ctx, "000000000000000", "X"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetVIN() on unknown device = %v, want ErrNotFound", err)
	}
}

func TestListDevicesOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, imei := range []string{"100000000000001", "100000000000002", "100000000000003"} {
		if err := s.CreateDevice(ctx, testDevice(imei)); err != nil {
			t.Fatalf("CreateDevice(%s) error: %v", imei, err)
		}
	}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = s.TouchDevice(ctx, "100000000000001", base)
	_ = s.TouchDevice(ctx, "100000000000003", base.Add(time.Hour))

	devices, err := s.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("ListDevices() returned %d devices, want 3", len(devices))
	}
	// Most recently seen first; never-seen devices last.
	if devices[0].IMEI != "100000000000003" || devices[1].IMEI != "100000000000001" || devices[2].IMEI != "100000000000002" {
		t.Errorf("ListDevices() order = %s, %s, %s", devices[0].IMEI, devices[1].IMEI, devices[2].IMEI)
	}
}

func TestInsertRecordsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []*avl.Record{
		testRecord(testIMEI, ts),
		testRecord(testIMEI, ts.Add(10*time.Second)),
	}
	inserted, duplicates, err := s.InsertRecords(ctx, "FMC003", batch)
	if err != nil {
		t.Fatalf("InsertRecords() error: %v", err)
	}
	if inserted != 2 || duplicates != 0 {
		t.Errorf("InsertRecords() = (%d, %d), want (2, 0)", inserted, duplicates)
	}

	// Replaying the same batch plus one new record only inserts the new one.
	batch = append(batch, testRecord(testIMEI, ts.Add(20*time.Second)))
	inserted, duplicates, err = s.InsertRecords(ctx, "FMC003", batch)
	if err != nil {
		t.Fatalf("replay InsertRecords() error: %v", err)
	}
	if inserted != 1 || duplicates != 2 {
		t.Errorf("replay InsertRecords() = (%d, %d), want (1, 2)", inserted, duplicates)
	}

	n, err := s.CountRecords(ctx, "FMC003", testIMEI)
	if err != nil {
		t.Fatalf("CountRecords() error: %v", err)
	}
	if n != 3 {
		t.Errorf("CountRecords() = %d, want 3", n)
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, _, err := s.InsertRecords(ctx, "FMC003", []*avl.Record{testRecord(testIMEI, ts)}); err != nil {
		t.Fatalf("InsertRecords() error: %v", err)
	}

	rec, err := s.LatestRecord(ctx, "FMC003", testIMEI)
	if err != nil {
		t.Fatalf("LatestRecord() error: %v", err)
	}
	if rec.IMEI != testIMEI {
		t.Errorf("IMEI = %q", rec.IMEI)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if rec.GPS.Latitude != 44.0 || rec.GPS.Speed != 50 {
		t.Errorf("GPS = %+v", rec.GPS)
	}
	if v, ok := rec.Int("totalOdometer"); !ok || v != 123456 {
		t.Errorf("totalOdometer = %d (%v), want 123456", v, ok)
	}
	if len(rec.Elements) != 1 || rec.Elements[0].ID != 239 {
		t.Errorf("Elements = %+v", rec.Elements)
	}
}

func TestRecordsPagingAndRange(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var batch []*avl.Record
	for i := 0; i < 10; i++ {
		batch = append(batch, testRecord(testIMEI, ts.Add(time.Duration(i)*time.Minute)))
	}
	if _, _, err := s.InsertRecords(ctx, "FMC003", batch); err != nil {
		t.Fatalf("InsertRecords() error: %v", err)
	}

	page, err := s.Records(ctx, "FMC003", testIMEI, 3, 2)
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("Records() returned %d, want 3", len(page))
	}
	// Newest first, skipping the two newest.
	if !page[0].Timestamp.Equal(ts.Add(7 * time.Minute)) {
		t.Errorf("page[0] = %v, want %v", page[0].Timestamp, ts.Add(7*time.Minute))
	}

	ranged, err := s.RecordRange(ctx, "FMC003", testIMEI, ts.Add(2*time.Minute), ts.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("RecordRange() error: %v", err)
	}
	if len(ranged) != 4 {
		t.Fatalf("RecordRange() returned %d, want 4 (inclusive bounds)", len(ranged))
	}
	if !ranged[0].Timestamp.Equal(ts.Add(2 * time.Minute)) {
		t.Errorf("range starts at %v, want ascending from %v", ranged[0].Timestamp, ts.Add(2*time.Minute))
	}

	since, err := s.CountRecordsSince(ctx, "FMC003", testIMEI, ts.Add(8*time.Minute))
	if err != nil {
		t.Fatalf("CountRecordsSince() error: %v", err)
	}
	if since != 2 {
		t.Errorf("CountRecordsSince() = %d, want 2", since)
	}
}

func TestLatestRecordEmpty(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.LatestRecord(context.Background(), "FMC003", testIMEI); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LatestRecord() = %v, want ErrNotFound", err)
	}
}

func TestRawFrames(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		frame := &avl.RawFrame{
			IMEI:        testIMEI,
			SessionID:   "session-1",
			CodecID:     0x8E,
			RecordCount: 1,
			SizeBytes:   64,
			CRCValid:    true,
			Hex:         "00000000",
			ReceivedAt:  avl.NewTime(ts.Add(time.Duration(i) * time.Second)),
		}
		if err := s.InsertRaw(ctx, "FMC003", frame); err != nil {
			t.Fatalf("InsertRaw() error: %v", err)
		}
	}

	frames, err := s.RawFrames(ctx, "FMC003", testIMEI, 2)
	if err != nil {
		t.Fatalf("RawFrames() error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("RawFrames() returned %d, want 2", len(frames))
	}
	if !frames[0].ReceivedAt.Equal(ts.Add(2 * time.Second)) {
		t.Errorf("newest frame at %v, want %v", frames[0].ReceivedAt, ts.Add(2*time.Second))
	}
}

func TestCollectionRoutingByModemType(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, _, err := s.InsertRecords(ctx, "FMC003", []*avl.Record{testRecord(testIMEI, ts)}); err != nil {
		t.Fatalf("InsertRecords(FMC003) error: %v", err)
	}
	if _, _, err := s.InsertRecords(ctx, "FMB-920", []*avl.Record{testRecord(testIMEI, ts)}); err != nil {
		t.Fatalf("InsertRecords(FMB-920) error: %v", err)
	}

	// Same timestamp in different type tables is not a duplicate.
	n1, _ := s.CountRecords(ctx, "FMC003", testIMEI)
	n2, _ := s.CountRecords(ctx, "fmb920", testIMEI)
	if n1 != 1 || n2 != 1 {
		t.Errorf("counts = %d, %d, want 1 in each table", n1, n2)
	}
}

func TestMigrateVersion(t *testing.T) {
	s := setupTestStore(t)
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion() error: %v", err)
	}
	if dirty {
		t.Error("fresh database reports dirty migrations")
	}
	if version == 0 {
		t.Error("MigrateVersion() = 0, want migrations applied by Open")
	}
}
