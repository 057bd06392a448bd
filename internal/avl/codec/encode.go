package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendFrame encodes records as one frame of the given codec and appends it
// to dst. Elements are regrouped by width in their relative order, which is
// exactly how the decoder emits them, so Decode followed by AppendFrame
// reproduces a valid frame byte for byte.
func AppendFrame(dst []byte, codecID byte, records []Record) ([]byte, error) {
	extended := codecID == Codec8Extended
	if codecID != Codec8 && !extended {
		return nil, fmt.Errorf("cannot encode codec 0x%02x", codecID)
	}
	if len(records) > math.MaxUint8 {
		return nil, fmt.Errorf("too many records: %d", len(records))
	}

	body := make([]byte, 0, 64*len(records)+3)
	body = append(body, codecID, byte(len(records)))
	for i := range records {
		var err error
		body, err = appendRecord(body, &records[i], extended)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	body = append(body, byte(len(records)))

	dst = binary.BigEndian.AppendUint32(dst, 0)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	dst = append(dst, body...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(Checksum(body)))
	return dst, nil
}

// AppendCommand encodes text as a Codec 12 command frame (the only outbound
// frame the gateway produces besides login and ack replies).
func AppendCommand(dst []byte, command string) []byte {
	body := make([]byte, 0, len(command)+11)
	body = append(body, Codec12, 0x01, commandRequest)
	body = binary.BigEndian.AppendUint32(body, uint32(len(command)))
	body = append(body, command...)
	body = append(body, 0x01)

	dst = binary.BigEndian.AppendUint32(dst, 0)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	dst = append(dst, body...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(Checksum(body)))
	return dst
}

func appendRecord(dst []byte, rec *Record, extended bool) ([]byte, error) {
	dst = binary.BigEndian.AppendUint64(dst, uint64(rec.TimestampMs))
	dst = append(dst, rec.Priority)
	dst = binary.BigEndian.AppendUint32(dst, uint32(rec.GPS.Longitude))
	dst = binary.BigEndian.AppendUint32(dst, uint32(rec.GPS.Latitude))
	dst = binary.BigEndian.AppendUint16(dst, rec.GPS.Altitude)
	dst = binary.BigEndian.AppendUint16(dst, rec.GPS.Angle)
	dst = append(dst, rec.GPS.Satellites)
	dst = binary.BigEndian.AppendUint16(dst, rec.GPS.Speed)

	var err error
	if dst, err = appendIOCount(dst, int(rec.EventID), extended, "event id"); err != nil {
		return nil, err
	}
	if dst, err = appendIOCount(dst, len(rec.Elements), extended, "element count"); err != nil {
		return nil, err
	}

	for _, width := range []int{1, 2, 4, 8} {
		group := make([]IOElement, 0, len(rec.Elements))
		for _, el := range rec.Elements {
			if el.Width == width {
				group = append(group, el)
			}
		}
		if dst, err = appendIOCount(dst, len(group), extended, "group count"); err != nil {
			return nil, err
		}
		for _, el := range group {
			if dst, err = appendIOCount(dst, int(el.ID), extended, "io id"); err != nil {
				return nil, err
			}
			if width < 8 && el.Value>>(8*width) != 0 {
				return nil, fmt.Errorf("io %d value %d exceeds %d bytes", el.ID, el.Value, width)
			}
			switch width {
			case 1:
				dst = append(dst, byte(el.Value))
			case 2:
				dst = binary.BigEndian.AppendUint16(dst, uint16(el.Value))
			case 4:
				dst = binary.BigEndian.AppendUint32(dst, uint32(el.Value))
			case 8:
				dst = binary.BigEndian.AppendUint64(dst, el.Value)
			}
		}
	}

	var variable []IOElement
	for _, el := range rec.Elements {
		switch el.Width {
		case 0:
			variable = append(variable, el)
		case 1, 2, 4, 8:
		default:
			return nil, fmt.Errorf("io %d has invalid width %d", el.ID, el.Width)
		}
	}
	if !extended {
		if len(variable) > 0 {
			return nil, fmt.Errorf("codec 8 cannot carry variable-length io %d", variable[0].ID)
		}
		return dst, nil
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(variable)))
	for _, el := range variable {
		if len(el.Data) > math.MaxUint16 {
			return nil, fmt.Errorf("io %d payload too large: %d bytes", el.ID, len(el.Data))
		}
		dst = binary.BigEndian.AppendUint16(dst, el.ID)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(el.Data)))
		dst = append(dst, el.Data...)
	}
	return dst, nil
}

func appendIOCount(dst []byte, v int, extended bool, what string) ([]byte, error) {
	if extended {
		if v > math.MaxUint16 {
			return nil, fmt.Errorf("%s %d exceeds two bytes", what, v)
		}
		return binary.BigEndian.AppendUint16(dst, uint16(v)), nil
	}
	if v > math.MaxUint8 {
		return nil, fmt.Errorf("%s %d exceeds one byte", what, v)
	}
	return append(dst, byte(v)), nil
}
