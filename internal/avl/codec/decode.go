package codec

import "encoding/binary"

func beUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// Decode parses one complete frame. The whole frame is validated before any
// record is returned: a failure anywhere invalidates the frame, so callers
// never see partial records. CRC mismatch is not a failure; it is reported
// through Packet.CRCValid and left to session policy.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < MinFrameSize {
		return nil, errAt(0, "frame too short: %d bytes", len(frame))
	}
	if !ValidPreamble(frame) {
		return nil, errAt(0, "nonzero preamble 0x%08x", beUint32(frame))
	}
	declared := int(beUint32(frame[4:]))
	if want := HeaderSize + declared + TrailerSize; want != len(frame) {
		return nil, errAt(4, "data field length %d implies %d-byte frame, have %d", declared, want, len(frame))
	}

	r := &reader{buf: frame[:len(frame)-TrailerSize], off: HeaderSize}
	codecID, _ := r.u8()
	if codecID != Codec8 && codecID != Codec8Extended {
		return nil, errAt(HeaderSize, "unsupported codec 0x%02x", codecID)
	}
	extended := codecID == Codec8Extended

	count, err := r.u8()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, count)
	for i := 0; i < int(count); i++ {
		rec, err := r.record(extended)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	trailerOff := r.off
	trailer, err := r.u8()
	if err != nil {
		return nil, err
	}
	if trailer != count {
		return nil, errAt(trailerOff, "record count mismatch: header %d, trailer %d", count, trailer)
	}
	if rem := len(r.buf) - r.off; rem != 0 {
		return nil, errAt(r.off, "%d unconsumed bytes before crc", rem)
	}

	crc := beUint32(frame[len(frame)-TrailerSize:])
	computed := Checksum(frame[HeaderSize : len(frame)-TrailerSize])
	return &Packet{
		CodecID:  codecID,
		Records:  records,
		CRC:      crc,
		CRCValid: crc == uint32(computed),
	}, nil
}

// CommandResponse extracts the text payload of a Codec 12 response frame.
func CommandResponse(frame []byte) (string, error) {
	if len(frame) < MinFrameSize {
		return "", errAt(0, "frame too short: %d bytes", len(frame))
	}
	if !ValidPreamble(frame) {
		return "", errAt(0, "nonzero preamble 0x%08x", beUint32(frame))
	}
	declared := int(beUint32(frame[4:]))
	if want := HeaderSize + declared + TrailerSize; want != len(frame) {
		return "", errAt(4, "data field length %d implies %d-byte frame, have %d", declared, want, len(frame))
	}
	r := &reader{buf: frame[:len(frame)-TrailerSize], off: HeaderSize}
	codecID, _ := r.u8()
	if codecID != Codec12 {
		return "", errAt(HeaderSize, "not a codec 12 frame: 0x%02x", codecID)
	}
	if _, err := r.u8(); err != nil { // response quantity
		return "", err
	}
	typeOff := r.off
	kind, err := r.u8()
	if err != nil {
		return "", err
	}
	if kind != commandResponse {
		return "", errAt(typeOff, "unexpected codec 12 type 0x%02x", kind)
	}
	size, err := r.u32()
	if err != nil {
		return "", err
	}
	payload, err := r.take(int(size))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// reader walks a frame with bounds-checked big-endian reads. Offsets in its
// errors are absolute frame offsets.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if n < 0 || r.off+n > len(r.buf) {
		return errAt(r.off, "truncated: need %d more bytes, %d remain", n, len(r.buf)-r.off)
	}
	return nil
}

func (r *reader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := beUint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := beUint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := beUint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// take returns n bytes aliasing the underlying frame buffer.
func (r *reader) take(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return v, nil
}

// ioCount reads a group count: one byte for Codec 8, two for Codec 8E.
func (r *reader) ioCount(extended bool) (int, error) {
	if extended {
		v, err := r.u16()
		return int(v), err
	}
	v, err := r.u8()
	return int(v), err
}

func (r *reader) record(extended bool) (Record, error) {
	var rec Record

	ts, err := r.u64()
	if err != nil {
		return rec, err
	}
	rec.TimestampMs = int64(ts)

	prio, err := r.u8()
	if err != nil {
		return rec, err
	}
	rec.Priority = prio

	if err := r.need(gpsSize); err != nil {
		return rec, err
	}
	lon, _ := r.u32()
	lat, _ := r.u32()
	alt, _ := r.u16()
	angle, _ := r.u16()
	sats, _ := r.u8()
	speed, _ := r.u16()
	rec.GPS = GPS{
		Longitude:  int32(lon),
		Latitude:   int32(lat),
		Altitude:   alt,
		Angle:      angle,
		Satellites: sats,
		Speed:      speed,
	}

	event, err := r.ioCount(extended)
	if err != nil {
		return rec, err
	}
	rec.EventID = uint16(event)

	totalOff := r.off
	total, err := r.ioCount(extended)
	if err != nil {
		return rec, err
	}

	rec.Elements = make([]IOElement, 0, total)
	for _, width := range []int{1, 2, 4, 8} {
		count, err := r.ioCount(extended)
		if err != nil {
			return rec, err
		}
		for i := 0; i < count; i++ {
			id, err := r.ioCount(extended)
			if err != nil {
				return rec, err
			}
			var value uint64
			switch width {
			case 1:
				v, err := r.u8()
				if err != nil {
					return rec, err
				}
				value = uint64(v)
			case 2:
				v, err := r.u16()
				if err != nil {
					return rec, err
				}
				value = uint64(v)
			case 4:
				v, err := r.u32()
				if err != nil {
					return rec, err
				}
				value = uint64(v)
			case 8:
				v, err := r.u64()
				if err != nil {
					return rec, err
				}
				value = v
			}
			rec.Elements = append(rec.Elements, IOElement{ID: uint16(id), Width: width, Value: value})
		}
	}

	if extended {
		count, err := r.u16()
		if err != nil {
			return rec, err
		}
		for i := 0; i < int(count); i++ {
			id, err := r.u16()
			if err != nil {
				return rec, err
			}
			length, err := r.u16()
			if err != nil {
				return rec, err
			}
			data, err := r.take(int(length))
			if err != nil {
				return rec, err
			}
			rec.Elements = append(rec.Elements, IOElement{ID: id, Data: data})
		}
	}

	if len(rec.Elements) != total {
		return rec, errAt(totalOff, "io element count mismatch: declared %d, decoded %d", total, len(rec.Elements))
	}
	return rec, nil
}
