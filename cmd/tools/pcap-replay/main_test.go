package main

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl/codec"
	"github.com/waypoint-data/fleetgate/internal/rawlog"
)

const testIMEI = "864275079658715"

func loginBytes(imei string) []byte {
	buf := make([]byte, 2+len(imei))
	binary.BigEndian.PutUint16(buf, uint16(len(imei)))
	copy(buf[2:], imei)
	return buf
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	frame, err := codec.AppendFrame(nil, codec.Codec8, []codec.Record{{
		TimestampMs: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
		Priority:    1,
		GPS:         codec.GPS{Longitude: 261000000, Latitude: 444300000, Satellites: 9, Speed: 33},
	}})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

func TestFlowEmitsCaptureLines(t *testing.T) {
	var out bytes.Buffer
	fl := &flow{id: "10.0.0.5:40000", out: &out}
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	frame := testFrame(t)
	var stream []byte
	stream = append(stream, loginBytes(testIMEI)...)
	stream = append(stream, frame...)
	stream = append(stream, frame...)
	fl.feed(at, stream)

	if fl.frames != 2 {
		t.Fatalf("frames = %d, want 2", fl.frames)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	parsed, err := rawlog.ParseLine(lines[0])
	if err != nil {
		t.Fatalf("output is not a capture line: %v", err)
	}
	if parsed.IMEI != testIMEI {
		t.Errorf("imei = %q", parsed.IMEI)
	}
	got, err := parsed.Frame()
	if err != nil {
		t.Fatalf("frame hex: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Error("frame bytes do not round-trip")
	}
}

func TestFlowHandlesSplitSegments(t *testing.T) {
	var out bytes.Buffer
	fl := &flow{id: "10.0.0.5:40001", out: &out}
	at := time.Now().UTC()

	frame := testFrame(t)
	var stream []byte
	stream = append(stream, loginBytes(testIMEI)...)
	stream = append(stream, frame...)

	// One byte at a time still yields exactly one frame.
	for _, b := range stream {
		fl.feed(at, []byte{b})
	}
	if fl.frames != 1 {
		t.Errorf("frames = %d, want 1", fl.frames)
	}
	if len(fl.buf) != 0 {
		t.Errorf("trailing buffer = %d bytes", len(fl.buf))
	}
}

func TestFlowDropsMisalignedStream(t *testing.T) {
	var out bytes.Buffer
	fl := &flow{id: "10.0.0.5:40002", out: &out, authed: true}

	fl.feed(time.Now(), []byte{0xde, 0xad, 0xbe, 0xef, 0x01})
	if fl.frames != 0 {
		t.Errorf("frames = %d from garbage", fl.frames)
	}
	if len(fl.buf) != 0 {
		t.Error("garbage not discarded")
	}
}
