package rawlog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/waypoint-data/fleetgate/internal/fsutil"
)

func TestWriteFrameFormatsLine(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs, "logs", ComponentFrames)

	at := time.Date(2024, 3, 1, 10, 15, 30, 250*int(time.Millisecond), time.UTC)
	if err := w.WriteFrame(at, "sess-1", "864275079658715", []byte{0x00, 0x01, 0xAB}); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := fs.ReadFile("logs/frames/2024-03-01_10.txt")
	if err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	want := "2024-03-01T10:15:30.250Z sess-1 864275079658715 0001ab\n"
	if string(data) != want {
		t.Errorf("line = %q, want %q", data, want)
	}
}

func TestAnonymousSessionWritesDash(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs, "logs", ComponentEvents)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := w.WriteLine(at, "sess-1", "", "login rejected"); err != nil {
		t.Fatalf("WriteLine() error: %v", err)
	}
	w.Close()

	data, _ := fs.ReadFile("logs/events/2024-03-01_10.txt")
	if !strings.Contains(string(data), " sess-1 - login rejected") {
		t.Errorf("line = %q", data)
	}
}

func TestRotationCompressesPreviousHour(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs, "logs", ComponentFrames)

	first := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	second := time.Date(2024, 3, 1, 11, 0, 5, 0, time.UTC)
	if err := w.WriteFrame(first, "sess-1", "864275079658715", []byte{0x01}); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if err := w.WriteFrame(second, "sess-1", "864275079658715", []byte{0x02}); err != nil {
		t.Fatalf("WriteFrame() after rotation error: %v", err)
	}
	w.Close()

	if fs.Exists("logs/frames/2024-03-01_10.txt") {
		t.Error("previous hour still uncompressed after rotation")
	}
	compressed, err := fs.ReadFile("logs/frames/2024-03-01_10.txt.zst")
	if err != nil {
		t.Fatalf("compressed previous hour missing: %v", err)
	}
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("zstd open: %v", err)
	}
	defer dec.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(dec); err != nil {
		t.Fatalf("zstd read: %v", err)
	}
	if !strings.Contains(out.String(), " 01\n") {
		t.Errorf("decompressed = %q", out.String())
	}

	current, _ := fs.ReadFile("logs/frames/2024-03-01_11.txt")
	if !strings.Contains(string(current), " 02\n") {
		t.Errorf("current hour = %q", current)
	}
}

func TestReopenSameHourKeepsPriorLines(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	at := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)

	w := NewWriter(fs, "logs", ComponentFrames)
	if err := w.WriteFrame(at, "sess-1", "864275079658715", []byte{0x01}); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	w.Close()

	// Restart within the same hour.
	w = NewWriter(fs, "logs", ComponentFrames)
	if err := w.WriteFrame(at.Add(time.Minute), "sess-2", "864275079658715", []byte{0x02}); err != nil {
		t.Fatalf("WriteFrame() after reopen error: %v", err)
	}
	w.Close()

	data, _ := fs.ReadFile("logs/frames/2024-03-01_10.txt")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines after reopen, want 2: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "sess-1") || !strings.Contains(lines[1], "sess-2") {
		t.Errorf("lines = %q", lines)
	}
}

func TestParseLine(t *testing.T) {
	line, err := ParseLine("2024-03-01T10:15:30.250Z sess-1 864275079658715 0001ab\n")
	if err != nil {
		t.Fatalf("ParseLine() error: %v", err)
	}
	if line.SessionID != "sess-1" || line.IMEI != "864275079658715" {
		t.Errorf("line = %+v", line)
	}
	if !line.At.Equal(time.Date(2024, 3, 1, 10, 15, 30, 250*int(time.Millisecond), time.UTC)) {
		t.Errorf("At = %v", line.At)
	}
	frame, err := line.Frame()
	if err != nil || !bytes.Equal(frame, []byte{0x00, 0x01, 0xAB}) {
		t.Errorf("Frame() = %x, %v", frame, err)
	}

	anon, err := ParseLine("2024-03-01T10:15:30.250Z sess-1 - deadbeef")
	if err != nil {
		t.Fatalf("ParseLine() anonymous error: %v", err)
	}
	if anon.IMEI != "" {
		t.Errorf("anonymous IMEI = %q", anon.IMEI)
	}

	if _, err := ParseLine("not a capture line"); err == nil {
		t.Error("malformed line parsed without error")
	}
	if _, err := ParseLine("yesterday sess-1 - 00"); err == nil {
		t.Error("bad timestamp parsed without error")
	}
}

func TestScan(t *testing.T) {
	input := "2024-03-01T10:00:00.000Z s1 - 00\n\n2024-03-01T10:00:01.000Z s1 864275079658715 01ff\n"
	var got []*Line
	err := Scan(strings.NewReader(input), func(l *Line) error {
		got = append(got, l)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("scanned %d lines, want 2", len(got))
	}
	if got[1].Text != "01ff" {
		t.Errorf("second line = %+v", got[1])
	}

	err = Scan(strings.NewReader("garbage\n"), func(*Line) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Errorf("Scan() malformed = %v", err)
	}
}

func TestOpenZstd(t *testing.T) {
	var buf bytes.Buffer
	enc, _ := zstd.NewWriter(&buf)
	enc.Write([]byte("2024-03-01T10:00:00.000Z s1 - 00\n"))
	enc.Close()

	rc, err := Open("2024-03-01_10.txt.zst", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer rc.Close()
	count := 0
	if err := Scan(rc, func(*Line) error { count++; return nil }); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if count != 1 {
		t.Errorf("scanned %d lines, want 1", count)
	}
}

func TestSortCaptureFiles(t *testing.T) {
	names := []string{
		"2024-03-01_11.txt",
		"2024-03-01_09.txt.zst",
		"2024-03-01_10.txt.zst",
	}
	SortCaptureFiles(names)
	want := []string{"2024-03-01_09.txt.zst", "2024-03-01_10.txt.zst", "2024-03-01_11.txt"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}
