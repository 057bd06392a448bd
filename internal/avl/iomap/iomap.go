// Package iomap owns the canonical IO-id table for FMC003-class trackers and
// normalizes decoded wire records into document records. The table is data,
// not code: io_map.csv is embedded and parsed once at startup, so adding a
// semantic field is a csv edit, not a code change.
package iomap

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "embed"
)

//go:embed io_map.csv
var rawTable []byte

// Entry is one row of the canonical table.
type Entry struct {
	ID        int
	Name      string
	Unit      string
	Transform string
}

// Transforms applied while flattening semantic fields.
const (
	// TransformSigned16 reinterprets the raw unsigned wire value as a
	// two's-complement 16-bit quantity (accelerometer axes).
	TransformSigned16 = "signed16"
	// TransformScale01 divides the raw value by ten (GNSS dilution values).
	TransformScale01 = "scale0.1"
	// TransformASCII renders a variable-length payload as text with NUL
	// bytes stripped (VIN, fault codes, beacon lists).
	TransformASCII = "ascii"
)

var table = mustParse(rawTable)

func mustParse(raw []byte) map[int]Entry {
	entries, err := parse(raw)
	if err != nil {
		panic(fmt.Sprintf("iomap: embedded io_map.csv is malformed: %v", err))
	}
	return entries
}

func parse(raw []byte) (map[int]Entry, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = 4

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	want := []string{"id", "name", "unit", "transform"}
	for i, col := range want {
		if strings.TrimSpace(header[i]) != col {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, header[i], col)
		}
	}

	entries := make(map[int]Entry, 64)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad id %q", line, row[0])
		}
		name := strings.TrimSpace(row[1])
		if name == "" {
			return nil, fmt.Errorf("line %d: empty name for id %d", line, id)
		}
		if _, dup := entries[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate id %d", line, id)
		}
		entries[id] = Entry{
			ID:        id,
			Name:      name,
			Unit:      strings.TrimSpace(row[2]),
			Transform: strings.TrimSpace(row[3]),
		}
	}
	return entries, nil
}

// Lookup returns the canonical entry for an IO id.
func Lookup(id int) (Entry, bool) {
	e, ok := table[id]
	return e, ok
}

// Name returns the canonical field name for an IO id, or IO_<id> for ids
// outside the table.
func Name(id int) string {
	if e, ok := table[id]; ok {
		return e.Name
	}
	return "IO_" + strconv.Itoa(id)
}

// Size returns the number of table entries (exposed for sanity tests).
func Size() int { return len(table) }
