package avl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// maxSafeInteger is the largest integer JavaScript consumers can hold
// exactly. Eight-byte IO values above it are rendered as decimal strings.
const maxSafeInteger = 1<<53 - 1

// GPS is the position block of a normalized record. Latitude and longitude
// are degrees (wire values are 1e-7 degree ticks); speed is km/h.
type GPS struct {
	Latitude   float64 `json:"latitude" bson:"latitude"`
	Longitude  float64 `json:"longitude" bson:"longitude"`
	Altitude   int     `json:"altitude" bson:"altitude"`
	Angle      int     `json:"angle" bson:"angle"`
	Satellites int     `json:"satellites" bson:"satellites"`
	Speed      int     `json:"speed" bson:"speed"`
}

// IOValue is a decoded IO element value: an unsigned integer for the four
// fixed-width groups, a string for variable-length (NX) payloads.
type IOValue struct {
	Num      uint64
	Str      string
	IsString bool
}

// NumValue and StrValue build the two IOValue shapes.
func NumValue(v uint64) IOValue { return IOValue{Num: v} }
func StrValue(s string) IOValue { return IOValue{Str: s, IsString: true} }

func (v IOValue) MarshalJSON() ([]byte, error) {
	if v.IsString {
		return json.Marshal(v.Str)
	}
	if v.Num > maxSafeInteger {
		return json.Marshal(strconv.FormatUint(v.Num, 10))
	}
	return []byte(strconv.FormatUint(v.Num, 10)), nil
}

func (v *IOValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Decimal strings this package produced for oversize values parse
		// back to numbers; everything else stays a string.
		if n, err := strconv.ParseUint(s, 10, 64); err == nil && n > maxSafeInteger {
			*v = NumValue(n)
			return nil
		}
		*v = StrValue(s)
		return nil
	}
	n, err := strconv.ParseUint(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return fmt.Errorf("io value %q: %w", data, err)
	}
	*v = NumValue(n)
	return nil
}

// IOElement is one decoded IO entry in wire order. Size is the wire width in
// bytes (0 for variable-length payloads). Value keeps the raw unsigned wire
// value; signed interpretation happens in the flattened semantic field.
type IOElement struct {
	ID    int     `json:"id" bson:"id"`
	Name  string  `json:"name" bson:"name"`
	Value IOValue `json:"value" bson:"value"`
	Size  int     `json:"size" bson:"size"`
}

// Record is a normalized telemetry record as persisted and served. Semantic
// fields from the canonical IO map are flattened to the top level of the
// JSON document alongside the fixed keys; Fields carries them in Go.
type Record struct {
	IMEI       string
	Timestamp  Time
	ReceivedAt Time
	Priority   int
	GPS        GPS
	Elements   []IOElement
	Fields     map[string]any
}

// recordFixedKeys are the reserved top-level document keys; semantic fields
// may not shadow them.
var recordFixedKeys = map[string]bool{
	"imei": true, "timestamp": true, "receivedAt": true,
	"priority": true, "gps": true, "ioElements": true,
	"_id": true,
}

// SetField stores a flattened semantic value (int64, float64 or string).
// Names colliding with fixed document keys are silently prefixed.
func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, 8)
	}
	if recordFixedKeys[name] {
		name = "io_" + name
	}
	r.Fields[name] = value
}

// Int returns the named semantic field as an int64. Float values truncate;
// decimal strings produced for oversize values parse.
func (r *Record) Int(name string) (int64, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Float returns the named semantic field as a float64.
func (r *Record) Float(name string) (float64, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Str returns the named semantic field as a string.
func (r *Record) Str(name string) (string, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether the named semantic field is present.
func (r *Record) Has(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

// Document flattens the record into a single map, the shape both store
// backends persist and the API serves.
func (r *Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+6)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc["imei"] = r.IMEI
	doc["timestamp"] = r.Timestamp
	doc["receivedAt"] = r.ReceivedAt
	doc["priority"] = r.Priority
	doc["gps"] = r.GPS
	doc["ioElements"] = r.Elements
	return doc
}

func (r Record) MarshalJSON() ([]byte, error) {
	doc := r.Document()
	for k, v := range doc {
		if n, ok := v.(int64); ok && (n > maxSafeInteger || n < -maxSafeInteger) {
			doc[k] = strconv.FormatInt(n, 10)
		}
	}
	return json.Marshal(doc)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	var aux struct {
		IMEI       string      `json:"imei"`
		Timestamp  Time        `json:"timestamp"`
		ReceivedAt Time        `json:"receivedAt"`
		Priority   int         `json:"priority"`
		GPS        GPS         `json:"gps"`
		Elements   []IOElement `json:"ioElements"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.IMEI = aux.IMEI
	r.Timestamp = aux.Timestamp
	r.ReceivedAt = aux.ReceivedAt
	r.Priority = aux.Priority
	r.GPS = aux.GPS
	r.Elements = aux.Elements
	r.Fields = nil
	for k, v := range raw {
		if recordFixedKeys[k] {
			continue
		}
		r.SetField(k, plainValue(v))
	}
	return nil
}

// plainValue reduces decoded JSON values to the three field types records
// carry: int64 for integral numbers, float64 otherwise, strings unchanged.
func plainValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case float64:
		if f := math.Trunc(n); f == n && math.Abs(n) <= maxSafeInteger {
			return int64(n)
		}
		return n
	default:
		return v
	}
}
