// avlcat is the capture-file workbench: it decodes raw tracker frames to
// normalized JSON and replays capture directories into the store.
//
//	avlcat decode <file|->            decode capture lines or bare hex
//	avlcat import -dir <dir> [flags]  import a capture directory
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/avl/codec"
	"github.com/waypoint-data/fleetgate/internal/avl/iomap"
	"github.com/waypoint-data/fleetgate/internal/config"
	"github.com/waypoint-data/fleetgate/internal/rawlog"
	"github.com/waypoint-data/fleetgate/internal/security"
	"github.com/waypoint-data/fleetgate/internal/store"
	"github.com/waypoint-data/fleetgate/internal/store/mongostore"
	"github.com/waypoint-data/fleetgate/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "decode":
		err = runDecode(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("avlcat: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: avlcat decode <file|->")
	fmt.Fprintln(os.Stderr, "       avlcat import -dir <capture dir> [-device <imei>] [-db <path> | -mongo-uri <uri>]")
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	device := fs.String("device", "", "IMEI to stamp on records from bare hex input")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("decode wants exactly one file argument, or - for stdin")
	}

	var in io.ReadCloser = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		r, err := rawlog.Open(name, f)
		if err != nil {
			f.Close()
			return err
		}
		defer f.Close()
		in = r
	}
	defer in.Close()

	enc := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		line, frame, err := parseInput(text)
		if err != nil {
			log.Printf("line %d: %v", lineNo, err)
			continue
		}
		imei := *device
		receivedAt := time.Now().UTC()
		if line != nil {
			if line.IMEI != "" {
				imei = line.IMEI
			}
			receivedAt = line.At
		}
		if err := decodeFrame(enc, imei, receivedAt, frame); err != nil {
			log.Printf("line %d: %v", lineNo, err)
		}
	}
	return scanner.Err()
}

// parseInput accepts a full capture line or a bare hex frame.
func parseInput(text string) (*rawlog.Line, []byte, error) {
	if line, err := rawlog.ParseLine(text); err == nil {
		frame, err := line.Frame()
		if err != nil {
			return nil, nil, fmt.Errorf("bad frame hex: %w", err)
		}
		return line, frame, nil
	}
	line := &rawlog.Line{Text: text}
	frame, err := line.Frame()
	if err != nil {
		return nil, nil, fmt.Errorf("neither a capture line nor hex: %w", err)
	}
	return nil, frame, nil
}

func decodeFrame(enc *json.Encoder, imei string, receivedAt time.Time, frame []byte) error {
	if len(frame) > codec.HeaderSize && frame[codec.HeaderSize] == codec.Codec12 {
		text, err := codec.CommandResponse(frame)
		if err != nil {
			return err
		}
		return enc.Encode(map[string]string{"commandResponse": text})
	}
	pkt, err := codec.Decode(frame)
	if err != nil {
		return err
	}
	for i := range pkt.Records {
		if err := enc.Encode(iomap.Normalize(imei, &pkt.Records[i], receivedAt)); err != nil {
			return err
		}
	}
	return nil
}

func runImport(args []string) error {
	env := config.FromEnv()
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("dir", "", "capture directory to import (required)")
	device := fs.String("device", "", "import only this IMEI")
	dbPath := fs.String("db", env.DBPath, "SQLite database path")
	mongoURI := fs.String("mongo-uri", env.MongoURI, "MongoDB URI (overrides -db)")
	fs.Parse(args)
	if *dir == "" {
		return errors.New("import needs -dir")
	}

	ctx := context.Background()
	st, err := openStore(ctx, *mongoURI, *dbPath)
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	defer st.Close()

	imp := &importer{store: st, onlyIMEI: *device, devices: map[string]*avl.Device{}}
	names, err := captureFiles(*dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no capture files under %s", *dir)
	}
	for _, name := range names {
		if err := imp.importFile(ctx, *dir, name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	log.Printf("imported %d records (%d duplicates skipped, %d frames dropped) from %d files",
		imp.inserted, imp.duplicates, imp.dropped, len(names))
	return nil
}

func openStore(ctx context.Context, mongoURI, dbPath string) (store.Store, error) {
	if mongoURI != "" {
		return mongostore.Open(ctx, mongoURI)
	}
	return sqlstore.Open(dbPath)
}

// captureFiles lists plain and compressed capture files in chronological
// order.
func captureFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".txt.zst") {
			names = append(names, name)
		}
	}
	rawlog.SortCaptureFiles(names)
	return names, nil
}

type importer struct {
	store    store.Store
	onlyIMEI string

	// devices caches admission lookups; nil marks unknown or unapproved.
	devices map[string]*avl.Device

	inserted   int
	duplicates int
	dropped    int
}

func (imp *importer) importFile(ctx context.Context, dir, name string) error {
	path := filepath.Join(dir, name)
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := rawlog.Open(path, f)
	if err != nil {
		return err
	}
	defer r.Close()

	return rawlog.Scan(r, func(line *rawlog.Line) error {
		if line.IMEI == "" {
			return nil // pre-auth traffic has no owner
		}
		if imp.onlyIMEI != "" && line.IMEI != imp.onlyIMEI {
			return nil
		}
		device, err := imp.admit(ctx, line.IMEI)
		if err != nil {
			return err
		}
		if device == nil {
			imp.dropped++
			return nil
		}
		frame, err := line.Frame()
		if err != nil {
			imp.dropped++
			return nil
		}
		if len(frame) > codec.HeaderSize && frame[codec.HeaderSize] == codec.Codec12 {
			return nil // command traffic carries no telemetry
		}
		pkt, err := codec.Decode(frame)
		if err != nil {
			imp.dropped++
			return nil
		}
		records := make([]*avl.Record, 0, len(pkt.Records))
		for i := range pkt.Records {
			records = append(records, iomap.Normalize(line.IMEI, &pkt.Records[i], line.At))
		}
		ins, dup, err := imp.store.InsertRecords(ctx, device.ModemType, records)
		if err != nil {
			return err
		}
		imp.inserted += ins
		imp.duplicates += dup
		return nil
	})
}

// admit applies the same allow-list the live gateway does: only approved
// devices get their capture imported.
func (imp *importer) admit(ctx context.Context, imei string) (*avl.Device, error) {
	if d, ok := imp.devices[imei]; ok {
		return d, nil
	}
	d, err := imp.store.GetDevice(ctx, imei)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Printf("skipping unregistered device %s", imei)
		d = nil
	case err != nil:
		return nil, err
	case !d.Approved:
		log.Printf("skipping unapproved device %s", imei)
		d = nil
	}
	imp.devices[imei] = d
	return d, nil
}
