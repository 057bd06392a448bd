package rawlog

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxLineBytes bounds a single capture line; a frame is at most 512 KiB on
// the wire, 1 MiB of hex.
const maxLineBytes = 4 << 20

// Open wraps r with zstd decompression when name carries the .zst suffix.
// The returned closer must be closed even when it is the caller's own r.
func Open(name string, r io.Reader) (io.ReadCloser, error) {
	if !strings.HasSuffix(name, ".zst") {
		return io.NopCloser(r), nil
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd %s: %w", name, err)
	}
	return dec.IOReadCloser(), nil
}

// Scan reads capture lines from r, invoking fn per parsed line. Blank lines
// are skipped; a malformed line stops the scan with its line number.
func Scan(r io.Reader, fn func(*Line) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		line, err := ParseLine(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

// SortCaptureFiles orders capture file names chronologically. The hourly
// names sort lexically; the .zst suffix must not split an hour from its
// plain sibling, so the extension is stripped for comparison.
func SortCaptureFiles(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return strings.TrimSuffix(names[i], ".zst") < strings.TrimSuffix(names[j], ".zst")
	})
}
