package iomap

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/avl/codec"
)

// Normalize converts one decoded wire record into the document record that
// gets persisted and served: GPS scaling applied, IO elements named, and
// semantic fields from the canonical table flattened to the top level.
func Normalize(imei string, rec *codec.Record, receivedAt time.Time) *avl.Record {
	out := &avl.Record{
		IMEI:       imei,
		Timestamp:  avl.TimeFromMillis(rec.TimestampMs),
		ReceivedAt: avl.NewTime(receivedAt),
		Priority:   int(rec.Priority),
		GPS: avl.GPS{
			Latitude:   float64(rec.GPS.Latitude) / 1e7,
			Longitude:  float64(rec.GPS.Longitude) / 1e7,
			Altitude:   int(rec.GPS.Altitude),
			Angle:      int(rec.GPS.Angle),
			Satellites: int(rec.GPS.Satellites),
			Speed:      int(rec.GPS.Speed),
		},
		Elements: make([]avl.IOElement, 0, len(rec.Elements)),
	}

	for _, el := range rec.Elements {
		id := int(el.ID)
		entry, known := table[id]
		name := Name(id)

		if el.Width == 0 {
			value := variableValue(entry, known, el.Data)
			out.Elements = append(out.Elements, avl.IOElement{
				ID:    id,
				Name:  name,
				Value: avl.StrValue(value),
				Size:  len(el.Data),
			})
			out.SetField(name, value)
			continue
		}

		out.Elements = append(out.Elements, avl.IOElement{
			ID:    id,
			Name:  name,
			Value: avl.NumValue(el.Value),
			Size:  el.Width,
		})
		out.SetField(name, fixedValue(entry, known, el.Value))
	}
	return out
}

// variableValue renders an NX payload: ASCII with NULs stripped for the
// string ids the table marks, lowercase hex for everything else.
func variableValue(entry Entry, known bool, data []byte) string {
	if known && entry.Transform == TransformASCII {
		return strings.ReplaceAll(string(data), "\x00", "")
	}
	return hex.EncodeToString(data)
}

// fixedValue applies the table transform to a fixed-width value. Values too
// large for int64 degrade to decimal strings rather than losing precision.
func fixedValue(entry Entry, known bool, raw uint64) any {
	if known {
		switch entry.Transform {
		case TransformSigned16:
			v := int64(raw)
			if v > 32767 {
				v -= 65536
			}
			return v
		case TransformScale01:
			return float64(raw) / 10
		}
	}
	if raw > math.MaxInt64 {
		return strconv.FormatUint(raw, 10)
	}
	return int64(raw)
}
