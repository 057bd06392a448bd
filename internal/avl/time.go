package avl

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// timeLayout renders millisecond precision in UTC, matching the wire
// timestamps devices send (unix milliseconds).
const timeLayout = "2006-01-02T15:04:05.000Z"

// Time is a UTC timestamp with millisecond precision. It marshals to JSON
// as "2006-01-02T15:04:05.000Z" and to BSON as a native datetime so range
// queries and the (timestamp, imei) unique index work in Mongo.
type Time struct {
	time.Time
}

// NewTime truncates t to millisecond precision in UTC.
func NewTime(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

// TimeFromMillis converts a device timestamp (unix ms) to a Time.
func TimeFromMillis(ms int64) Time {
	return Time{time.UnixMilli(ms).UTC()}
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timeLayout) + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (t Time) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.DateTime, bsoncore.AppendDateTime(nil, t.UnixMilli()), nil
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (t *Time) UnmarshalBSONValue(bt bsontype.Type, data []byte) error {
	switch bt {
	case bsontype.DateTime:
		ms, _, ok := bsoncore.ReadDateTime(data)
		if !ok {
			return fmt.Errorf("malformed bson datetime")
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	case bsontype.Null:
		return nil
	default:
		return fmt.Errorf("cannot decode %v into a timestamp", bt)
	}
}
