// Package codec implements the Teltonika Codec 8 and Codec 8 Extended wire
// format: a stateless big-endian decoder and a matching encoder. Decoding is
// single-pass over the input buffer; variable-length IO payloads alias the
// input, so callers must keep the frame alive while a Packet is in use.
package codec

import "fmt"

const (
	// Codec identifiers carried in byte 8 of a frame.
	Codec8         = 0x08 // one-byte IO ids and counts
	Codec8Extended = 0x8E // two-byte IO ids and counts plus variable-length group
	Codec12        = 0x0C // GPRS command channel

	// Codec 12 payload types.
	commandRequest  = 0x05
	commandResponse = 0x06

	PreambleSize = 4  // leading zero bytes
	HeaderSize   = 8  // preamble + data field length
	TrailerSize  = 4  // zero-padded CRC-16
	gpsSize      = 15 // lon + lat + altitude + angle + satellites + speed

	// MinFrameSize is the smallest well-formed frame: header, codec id,
	// two zero record counts and the CRC trailer.
	MinFrameSize = HeaderSize + 3 + TrailerSize
)

// DecodeError reports a malformed frame together with the byte offset at
// which decoding failed, counted from the start of the frame.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s (byte %d)", e.Msg, e.Offset)
}

func errAt(offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Packet is one decoded AVL frame.
type Packet struct {
	CodecID  byte
	Records  []Record
	CRC      uint32
	CRCValid bool
}

// Record is a single AVL record in wire representation. Timestamps are unix
// milliseconds; GPS values keep their raw wire scaling.
type Record struct {
	TimestampMs int64
	Priority    byte
	GPS         GPS
	EventID     uint16
	Elements    []IOElement
}

// GPS is the fixed position block of a record. Longitude and latitude are
// signed 1e-7 degree ticks; speed is km/h.
type GPS struct {
	Longitude  int32
	Latitude   int32
	Altitude   uint16
	Angle      uint16
	Satellites uint8
	Speed      uint16
}

// IOElement is one IO entry. Width is the wire width in bytes (1, 2, 4 or
// 8); Width 0 marks a Codec 8 Extended variable-length element whose payload
// is in Data. Fixed-width values are unsigned; signedness is applied during
// normalization.
type IOElement struct {
	ID    uint16
	Width int
	Value uint64
	Data  []byte
}

// ValidPreamble reports whether buf starts with the four zero preamble
// bytes. A nonzero preamble means the stream has lost frame alignment.
func ValidPreamble(buf []byte) bool {
	if len(buf) < PreambleSize {
		return false
	}
	return buf[0] == 0 && buf[1] == 0 && buf[2] == 0 && buf[3] == 0
}

// FrameSize returns the total frame length implied by the data field length
// once the 8-byte header is buffered. ok is false while fewer than 8 bytes
// are available.
func FrameSize(buf []byte) (int, bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	dataLen := int(beUint32(buf[4:]))
	return HeaderSize + dataLen + TrailerSize, true
}
