// Package rawlog writes the gateway's append-only capture logs: one file per
// UTC hour per component, rotated on the first write of a new hour. The hour
// that just closed is compressed to .txt.zst and the plain file removed, so
// a capture directory holds at most one uncompressed file per component.
//
// Capture lines are the replay source of last resort: when the store is down
// the gateway keeps acking frames and these files are all that remains, so
// the format stays greppable text.
package rawlog

import (
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/waypoint-data/fleetgate/internal/fsutil"
	"github.com/waypoint-data/fleetgate/internal/monitoring"
)

// Components written by the gateway.
const (
	ComponentFrames = "frames"
	ComponentEvents = "events"
)

const hourLayout = "2006-01-02_15"

// TimeLayout is the capture line timestamp format, millisecond UTC.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Writer appends capture lines to hourly files under dir/component/. Safe
// for concurrent use; every session shares one Writer per component.
type Writer struct {
	fs        fsutil.FileSystem
	dir       string
	component string

	mu      sync.Mutex
	hour    string
	path    string
	current io.WriteCloser
}

// NewWriter creates a writer for one component under dir. Nothing touches
// the filesystem until the first write.
func NewWriter(fs fsutil.FileSystem, dir, component string) *Writer {
	return &Writer{fs: fs, dir: filepath.Join(dir, component), component: component}
}

// WriteFrame appends one inbound frame line. A session that has not
// authenticated yet passes imei "".
func (w *Writer) WriteFrame(at time.Time, sessionID, imei string, frame []byte) error {
	return w.WriteLine(at, sessionID, imei, hex.EncodeToString(frame))
}

// WriteLine appends one line: "<RFC3339ms> <sessionID> <imei|-> <text>".
func (w *Writer) WriteLine(at time.Time, sessionID, imei, text string) error {
	if imei == "" {
		imei = "-"
	}
	line := fmt.Sprintf("%s %s %s %s\n", at.UTC().Format(TimeLayout), sessionID, imei, text)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(at); err != nil {
		return err
	}
	if _, err := io.WriteString(w.current, line); err != nil {
		return fmt.Errorf("write capture line: %w", err)
	}
	return nil
}

// Close flushes and closes the current hour file, leaving it uncompressed
// for the next process to append to.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.hour = ""
	return err
}

// rotate opens the file for at's hour if it is not already open, closing and
// compressing the previous one first. Called with the mutex held.
func (w *Writer) rotate(at time.Time) error {
	hour := at.UTC().Format(hourLayout)
	if hour == w.hour && w.current != nil {
		return nil
	}

	if w.current != nil {
		closedPath := w.path
		if err := w.current.Close(); err != nil {
			return fmt.Errorf("close capture file: %w", err)
		}
		w.current = nil
		if err := compressFile(w.fs, closedPath); err != nil {
			// The plain file survives a failed compression; replay reads both.
			monitoring.Logf("rawlog: compress %s: %v", closedPath, err)
		}
	}

	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	path := filepath.Join(w.dir, hour+".txt")

	// A restart within the hour must not truncate what is already captured.
	var prior []byte
	if w.fs.Exists(path) {
		var err error
		if prior, err = w.fs.ReadFile(path); err != nil {
			return fmt.Errorf("reopen capture file: %w", err)
		}
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}
	if len(prior) > 0 {
		if _, err := f.Write(prior); err != nil {
			f.Close()
			return fmt.Errorf("restore capture file: %w", err)
		}
	}
	w.hour = hour
	w.path = path
	w.current = f
	return nil
}

// compressFile rewrites path as path.zst and removes the original.
func compressFile(fs fsutil.FileSystem, path string) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := fs.Create(path + ".zst")
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Remove(path)
}

// Line is one parsed capture line.
type Line struct {
	At        time.Time
	SessionID string
	IMEI      string // "" when the session had not authenticated
	Text      string // hex payload for frames, message for events
}

// Frame decodes the payload of a frames-component line.
func (l *Line) Frame() ([]byte, error) {
	return hex.DecodeString(l.Text)
}

// ParseLine parses "<RFC3339ms> <sessionID> <imei|-> <text>".
func ParseLine(line string) (*Line, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed capture line: %d fields", len(parts))
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed capture timestamp %q: %w", parts[0], err)
	}
	imei := parts[2]
	if imei == "-" {
		imei = ""
	}
	return &Line{At: at.UTC(), SessionID: parts[1], IMEI: imei, Text: parts[3]}, nil
}
