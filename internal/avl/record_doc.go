package avl

import "time"

// RecordFromDocument rebuilds a Record from a flattened document map, the
// inverse of Document. Store backends call it after reducing their native
// value types to plain Go ones (time.Time, int64, float64, string, []any,
// map[string]any).
func RecordFromDocument(doc map[string]any) *Record {
	r := &Record{}
	for k, v := range doc {
		switch k {
		case "imei":
			r.IMEI, _ = v.(string)
		case "timestamp":
			r.Timestamp = timeValue(v)
		case "receivedAt":
			r.ReceivedAt = timeValue(v)
		case "priority":
			if n, ok := intValue(v); ok {
				r.Priority = int(n)
			}
		case "gps":
			r.GPS = gpsValue(v)
		case "ioElements":
			r.Elements = elementsValue(v)
		case "_id":
			// backend bookkeeping, not part of the record
		default:
			r.SetField(k, plainValue(v))
		}
	}
	return r
}

func timeValue(v any) Time {
	switch t := v.(type) {
	case Time:
		return t
	case time.Time:
		return NewTime(t)
	case string:
		var parsed Time
		if err := parsed.UnmarshalJSON([]byte(`"` + t + `"`)); err == nil {
			return parsed
		}
	case int64:
		return TimeFromMillis(t)
	case float64:
		return TimeFromMillis(int64(t))
	}
	return Time{}
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func gpsValue(v any) GPS {
	if g, ok := v.(GPS); ok {
		return g
	}
	m, ok := v.(map[string]any)
	if !ok {
		return GPS{}
	}
	var g GPS
	if f, ok := floatValue(plainValue(m["latitude"])); ok {
		g.Latitude = f
	}
	if f, ok := floatValue(plainValue(m["longitude"])); ok {
		g.Longitude = f
	}
	if n, ok := intValue(plainValue(m["altitude"])); ok {
		g.Altitude = int(n)
	}
	if n, ok := intValue(plainValue(m["angle"])); ok {
		g.Angle = int(n)
	}
	if n, ok := intValue(plainValue(m["satellites"])); ok {
		g.Satellites = int(n)
	}
	if n, ok := intValue(plainValue(m["speed"])); ok {
		g.Speed = int(n)
	}
	return g
}

func elementsValue(v any) []IOElement {
	if els, ok := v.([]IOElement); ok {
		return els
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	els := make([]IOElement, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var el IOElement
		if n, ok := intValue(plainValue(m["id"])); ok {
			el.ID = int(n)
		}
		el.Name, _ = m["name"].(string)
		if n, ok := intValue(plainValue(m["size"])); ok {
			el.Size = int(n)
		}
		switch val := plainValue(m["value"]).(type) {
		case string:
			el.Value = StrValue(val)
		case int64:
			el.Value = NumValue(uint64(val))
		case float64:
			el.Value = NumValue(uint64(val))
		case uint64:
			el.Value = NumValue(val)
		}
		els = append(els, el)
	}
	return els
}
