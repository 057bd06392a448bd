package avl

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimeJSONFormat(t *testing.T) {
	ts := TimeFromMillis(1704067200000)
	got, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(got) != `"2024-01-01T00:00:00.000Z"` {
		t.Errorf("marshaled time = %s, want 2024-01-01T00:00:00.000Z", got)
	}

	var back Time
	if err := json.Unmarshal(got, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.UnixMilli() != 1704067200000 {
		t.Errorf("round trip ms = %d", back.UnixMilli())
	}

	withMillis := TimeFromMillis(1704067200123)
	got, _ = json.Marshal(withMillis)
	if string(got) != `"2024-01-01T00:00:00.123Z"` {
		t.Errorf("marshaled time = %s, want .123 millis", got)
	}
}

func TestRecordJSONFlattensFields(t *testing.T) {
	rec := Record{
		IMEI:       "864275070000001",
		Timestamp:  TimeFromMillis(1704067200000),
		ReceivedAt: NewTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)),
		Priority:   1,
		GPS:        GPS{Latitude: 54.7, Longitude: 25.3, Satellites: 9, Speed: 63},
		Elements: []IOElement{
			{ID: 239, Name: "ignition", Value: NumValue(1), Size: 1},
		},
	}
	rec.SetField("ignition", int64(1))
	rec.SetField("totalOdometer", int64(123456))
	rec.SetField("vin", "WVWZZZ1JZXW000001")

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal into map: %v", err)
	}
	if doc["imei"] != "864275070000001" {
		t.Errorf("imei = %v", doc["imei"])
	}
	if doc["timestamp"] != "2024-01-01T00:00:00.000Z" {
		t.Errorf("timestamp = %v", doc["timestamp"])
	}
	if doc["totalOdometer"] != float64(123456) {
		t.Errorf("totalOdometer = %v (%T)", doc["totalOdometer"], doc["totalOdometer"])
	}
	if doc["ignition"] != float64(1) {
		t.Errorf("ignition = %v", doc["ignition"])
	}
	if _, nested := doc["fields"]; nested {
		t.Error("semantic fields must flatten to the top level")
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal into record: %v", err)
	}
	if v, ok := back.Int("totalOdometer"); !ok || v != 123456 {
		t.Errorf("round-trip totalOdometer = %d/%v", v, ok)
	}
	if v, ok := back.Str("vin"); !ok || v != "WVWZZZ1JZXW000001" {
		t.Errorf("round-trip vin = %q/%v", v, ok)
	}
	if back.Timestamp.UnixMilli() != 1704067200000 {
		t.Errorf("round-trip timestamp = %d", back.Timestamp.UnixMilli())
	}
	if len(back.Elements) != 1 || back.Elements[0].ID != 239 {
		t.Errorf("round-trip elements = %+v", back.Elements)
	}
}

func TestRecordJSONSafeIntegers(t *testing.T) {
	rec := Record{IMEI: "1", Timestamp: TimeFromMillis(0)}
	rec.SetField("big", int64(1)<<60)
	rec.Elements = []IOElement{{ID: 78, Name: "IO_78", Value: NumValue(1 << 60), Size: 8}}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"big":"1152921504606846976"`) {
		t.Errorf("oversize field must marshal as a decimal string: %s", s)
	}
	if !strings.Contains(s, `"value":"1152921504606846976"`) {
		t.Errorf("oversize io value must marshal as a decimal string: %s", s)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := back.Int("big"); !ok || v != 1<<60 {
		t.Errorf("round-trip big = %d/%v", v, ok)
	}
	if back.Elements[0].Value.Num != 1<<60 || back.Elements[0].Value.IsString {
		t.Errorf("round-trip io value = %+v", back.Elements[0].Value)
	}
}

func TestRecordFromDocument(t *testing.T) {
	doc := map[string]any{
		"imei":       "864275070000001",
		"timestamp":  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"receivedAt": "2024-01-01T00:00:01.000Z",
		"priority":   int64(1),
		"gps": map[string]any{
			"latitude":   54.7,
			"longitude":  25.3,
			"altitude":   int64(100),
			"angle":      int64(90),
			"satellites": int64(9),
			"speed":      int64(63),
		},
		"ioElements": []any{
			map[string]any{"id": int64(239), "name": "ignition", "value": int64(1), "size": int64(1)},
			map[string]any{"id": int64(256), "name": "vin", "value": "W1", "size": int64(2)},
		},
		"ignition": int64(1),
		"vin":      "W1",
		"_id":      "backend-key",
	}

	rec := RecordFromDocument(doc)
	if rec.IMEI != "864275070000001" {
		t.Errorf("imei = %q", rec.IMEI)
	}
	if rec.Timestamp.UnixMilli() != 1704067200000 {
		t.Errorf("timestamp = %d", rec.Timestamp.UnixMilli())
	}
	if rec.ReceivedAt.UnixMilli() != 1704067201000 {
		t.Errorf("receivedAt = %d", rec.ReceivedAt.UnixMilli())
	}
	if rec.GPS.Satellites != 9 || rec.GPS.Latitude != 54.7 {
		t.Errorf("gps = %+v", rec.GPS)
	}
	if len(rec.Elements) != 2 || rec.Elements[1].Value.Str != "W1" {
		t.Errorf("elements = %+v", rec.Elements)
	}
	if v, ok := rec.Int("ignition"); !ok || v != 1 {
		t.Errorf("ignition = %d/%v", v, ok)
	}
	if rec.Has("_id") {
		t.Error("_id must not leak into semantic fields")
	}
}

func TestSetFieldProtectsFixedKeys(t *testing.T) {
	var rec Record
	rec.SetField("imei", int64(5))
	if _, ok := rec.Fields["imei"]; ok {
		t.Error("fixed key leaked into fields")
	}
	if v, ok := rec.Int("io_imei"); !ok || v != 5 {
		t.Errorf("io_imei = %d/%v, want prefixed field", v, ok)
	}
}
