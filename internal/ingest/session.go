package ingest

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/avl/codec"
	"github.com/waypoint-data/fleetgate/internal/avl/iomap"
	"github.com/waypoint-data/fleetgate/internal/metrics"
	"github.com/waypoint-data/fleetgate/internal/monitoring"
	"github.com/waypoint-data/fleetgate/internal/store"
)

// maxLoginLength bounds the declared login length; anything larger is line
// noise from a port scanner, not a confused tracker.
const maxLoginLength = 64

// Login replies.
var (
	loginAccept = []byte{0x01}
	loginReject = []byte{0x00}
)

type loginResult int

const (
	loginPending loginResult = iota
	loginAccepted
	loginRejected
	loginCorrupt
)

// session is the per-connection state machine. It owns the connection
// exclusively; the read pump is its only helper goroutine.
type session struct {
	srv    *Server
	conn   net.Conn
	id     string
	remote string

	imei        string
	device      *avl.Device
	captureOnly bool
	vinSaved    bool

	buf        []byte
	lastByteNs atomic.Int64
}

// chunk is one read-pump delivery: data, then a final error.
type chunk struct {
	data []byte
	err  error
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		id:     uuid.NewString(),
		remote: conn.RemoteAddr().String(),
	}
}

func (s *session) run(ctx context.Context) {
	metrics.OpenConnections.Inc()
	defer metrics.OpenConnections.Dec()
	defer s.conn.Close()

	s.lastByteNs.Store(s.srv.clock.Now().UnixNano())
	s.event("opened remote=" + s.remote)

	done := make(chan struct{})
	defer close(done)
	reads := make(chan chunk, 8)
	go s.readPump(reads, done)

	outcome := s.loop(ctx, reads)
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	s.event("closed outcome=" + outcome)
	monitoring.Logf("[session %s] closed imei=%s outcome=%s", s.id, s.imeiOrDash(), outcome)
}

// readPump feeds connection bytes to the state machine. It exits on read
// error or when the session loop returns (conn.Close unblocks the read).
func (s *session) readPump(reads chan<- chunk, done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case reads <- chunk{data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case reads <- chunk{err: err}:
			case <-done:
			}
			return
		}
	}
}

func (s *session) loop(ctx context.Context, reads <-chan chunk) string {
	authTimer := s.srv.clock.NewTimer(s.srv.tuning.GetAuthTimeout())
	defer authTimer.Stop()
	liveness := s.srv.clock.NewTicker(s.srv.tuning.GetLivenessInterval())
	defer liveness.Stop()

	authed := false
	for {
		select {
		case <-ctx.Done():
			if authed {
				return metrics.OutcomeStreamed
			}
			return metrics.OutcomeAuthTimeout

		case <-authTimer.C():
			if !authed {
				// Silent close: no reply to an unauthenticated peer.
				monitoring.Logf("[session %s] auth timeout from %s", s.id, s.remote)
				return metrics.OutcomeAuthTimeout
			}

		case now := <-liveness.C():
			if authed {
				s.livenessTick(now)
			}

		case c := <-reads:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) && authed {
					return metrics.OutcomeStreamed
				}
				if !errors.Is(c.err, io.EOF) {
					monitoring.Logf("[session %s] read: %v", s.id, c.err)
				}
				return metrics.OutcomeReadError
			}
			s.lastByteNs.Store(s.srv.clock.Now().UnixNano())
			s.buf = append(s.buf, c.data...)
			if len(s.buf) > s.srv.tuning.GetMaxBufferedBytes() {
				monitoring.Logf("[session %s] stream buffer overflow: %d bytes", s.id, len(s.buf))
				return metrics.OutcomeFramingError
			}

			if !authed {
				switch s.processLogin(ctx) {
				case loginAccepted:
					authed = true
					authTimer.Stop()
				case loginRejected:
					return metrics.OutcomeRejected
				case loginCorrupt:
					return metrics.OutcomeFramingError
				case loginPending:
					continue
				}
			}
			if !s.processFrames(ctx) {
				return metrics.OutcomeFramingError
			}
		}
	}
}

// processLogin consumes login frames from the buffer. Malformed logins are
// ignored and the session stays unauthenticated until the auth timer closes
// it; only an absurd declared length aborts immediately.
func (s *session) processLogin(ctx context.Context) loginResult {
	for {
		if len(s.buf) < 2 {
			return loginPending
		}
		declared := int(binary.BigEndian.Uint16(s.buf))
		if declared > maxLoginLength {
			monitoring.Logf("[session %s] login length %d from %s, closing", s.id, declared, s.remote)
			return loginCorrupt
		}
		if len(s.buf) < 2+declared {
			return loginPending
		}
		imei := string(s.buf[2 : 2+declared])
		s.buf = s.buf[2+declared:]

		if declared != 15 || !allDigits(imei) {
			monitoring.Logf("[session %s] malformed login (%d bytes) ignored", s.id, declared)
			s.event("login malformed")
			continue
		}
		return s.admit(ctx, imei)
	}
}

// admit resolves the admission verdict for a well-formed login.
func (s *session) admit(ctx context.Context, imei string) loginResult {
	device, err := s.srv.lookupDevice(ctx, imei)
	switch {
	case err == nil && device.Approved:
		s.imei = imei
		s.device = device
		s.reply(loginAccept)
		s.event("login accepted")
		monitoring.Logf("[session %s] imei=%s accepted (%s)", s.id, imei, device.ModemType)
		return loginAccepted

	case errors.Is(err, store.ErrUnavailable):
		// Store down: accept and capture to the hourly log only, so the
		// device does not buffer weeks of data against a full reject.
		s.imei = imei
		s.captureOnly = true
		s.reply(loginAccept)
		s.event("login accepted capture-only")
		monitoring.Logf("[session %s] imei=%s accepted capture-only, store unavailable", s.id, imei)
		return loginAccepted

	default:
		s.reply(loginReject)
		s.event("login rejected")
		monitoring.Logf("[session %s] imei=%s rejected: %v", s.id, imei, err)
		return loginRejected
	}
}

// processFrames consumes complete AVL frames from the buffer. false means
// unrecoverable framing corruption.
func (s *session) processFrames(ctx context.Context) bool {
	for {
		if len(s.buf) < codec.HeaderSize {
			return true
		}
		if !codec.ValidPreamble(s.buf) {
			monitoring.Logf("[session %s] nonzero preamble, stream out of sync", s.id)
			return false
		}
		size, _ := codec.FrameSize(s.buf)
		if size-codec.HeaderSize-codec.TrailerSize > s.srv.tuning.GetMaxFrameBytes() {
			monitoring.Logf("[session %s] declared frame length %d over cap", s.id, size)
			return false
		}
		if len(s.buf) < size {
			return true
		}
		s.handleFrame(ctx, s.buf[:size])
		s.buf = s.buf[:copy(s.buf, s.buf[size:])]
	}
}

// handleFrame runs the per-frame pipeline: capture, decode, ack, normalize,
// persist. Failures after the ack are logged and never unwind the ack.
func (s *session) handleFrame(ctx context.Context, frame []byte) {
	receivedAt := s.srv.clock.Now()
	if err := s.srv.frames.WriteFrame(receivedAt, s.id, s.imei, frame); err != nil {
		monitoring.Logf("[session %s] capture write: %v", s.id, err)
	}

	codecID := frame[codec.HeaderSize]
	if codecID == codec.Codec12 {
		s.handleCommandResponse(frame)
		return
	}

	crcValid := frameCRCValid(frame)
	if !s.captureOnly {
		raw := &avl.RawFrame{
			IMEI:        s.imei,
			SessionID:   s.id,
			RemoteAddr:  s.remote,
			CodecID:     int(codecID),
			RecordCount: int(frame[codec.HeaderSize+1]),
			SizeBytes:   len(frame),
			CRCValid:    crcValid,
			Hex:         hex.EncodeToString(frame),
			ReceivedAt:  avl.NewTime(receivedAt),
		}
		if err := s.srv.store.InsertRaw(ctx, s.device.ModemType, raw); err != nil {
			metrics.StoreErrors.Inc()
			monitoring.Logf("[session %s] raw insert: %v", s.id, err)
		}
	}

	pkt, err := codec.Decode(frame)
	if err != nil {
		metrics.DecodeErrors.Inc()
		monitoring.Logf("[session %s] frame dropped: %v", s.id, err)
		return
	}
	if !pkt.CRCValid {
		metrics.CRCMismatches.Inc()
		monitoring.Logf("[session %s] crc mismatch on %d-record frame", s.id, len(pkt.Records))
		if s.srv.tuning.GetStrictCRC() {
			return
		}
	}
	metrics.FramesTotal.WithLabelValues(codecLabel(pkt.CodecID)).Inc()

	// Ack before persistence: the device clears its send buffer on the ack
	// and must never re-send because our store was slow.
	var ack [4]byte
	binary.BigEndian.PutUint32(ack[:], uint32(len(pkt.Records)))
	if _, err := s.conn.Write(ack[:]); err != nil {
		monitoring.Logf("[session %s] ack write: %v", s.id, err)
		return
	}
	metrics.AcksTotal.Inc()

	if s.captureOnly {
		return
	}
	s.persist(ctx, pkt, receivedAt)
}

func (s *session) persist(ctx context.Context, pkt *codec.Packet, receivedAt time.Time) {
	records := make([]*avl.Record, len(pkt.Records))
	for i := range pkt.Records {
		records[i] = iomap.Normalize(s.imei, &pkt.Records[i], receivedAt)
	}

	inserted, duplicates, err := s.srv.store.InsertRecords(ctx, s.device.ModemType, records)
	if err != nil {
		metrics.StoreErrors.Inc()
		monitoring.Logf("[session %s] insert %d records: %v", s.id, len(records), err)
	} else {
		metrics.RecordsInserted.Add(float64(inserted))
		metrics.DuplicatesSkipped.Add(float64(duplicates))
		if duplicates > 0 {
			monitoring.Logf("[session %s] %d/%d records were replays", s.id, duplicates, len(records))
		}
	}

	if err := s.srv.store.TouchDevice(ctx, s.imei, receivedAt); err != nil {
		metrics.StoreErrors.Inc()
		monitoring.Logf("[session %s] touch device: %v", s.id, err)
	}
	s.maybeSaveVIN(ctx, records)
}

// maybeSaveVIN persists the first VIN observed in this session. The store
// keeps the first VIN ever written, so a later session cannot overwrite it.
func (s *session) maybeSaveVIN(ctx context.Context, records []*avl.Record) {
	if s.vinSaved || (s.device != nil && s.device.VIN != "") {
		s.vinSaved = true
		return
	}
	for _, rec := range records {
		vin, ok := rec.Str(avl.FieldVIN)
		if !ok || vin == "" {
			continue
		}
		if err := s.srv.store.SetVIN(ctx, s.imei, vin); err != nil {
			metrics.StoreErrors.Inc()
			monitoring.Logf("[session %s] set vin: %v", s.id, err)
			return
		}
		monitoring.Logf("[session %s] imei=%s vin=%s", s.id, s.imei, vin)
		s.vinSaved = true
		return
	}
}

// handleCommandResponse captures a Codec 12 response. Responses are logged
// and captured raw, never normalized into telemetry.
func (s *session) handleCommandResponse(frame []byte) {
	resp, err := codec.CommandResponse(frame)
	if err != nil {
		monitoring.Logf("[session %s] codec 12 frame dropped: %v", s.id, err)
		return
	}
	s.event("command response " + resp)
	monitoring.Logf("[session %s] imei=%s command response: %s", s.id, s.imei, resp)
}

// livenessTick logs session health and sends the operator poll command when
// one is configured on the device.
func (s *session) livenessTick(now time.Time) {
	age := now.Sub(time.Unix(0, s.lastByteNs.Load()))
	monitoring.Logf("[session %s] imei=%s streaming capture-only=%t last-byte-age=%s",
		s.id, s.imei, s.captureOnly, age.Truncate(time.Millisecond))

	if s.device == nil || s.device.PollCommand == "" {
		return
	}
	if _, err := s.conn.Write(codec.AppendCommand(nil, s.device.PollCommand)); err != nil {
		monitoring.Logf("[session %s] poll command write: %v", s.id, err)
	}
}

func (s *session) reply(b []byte) {
	if _, err := s.conn.Write(b); err != nil {
		monitoring.Logf("[session %s] login reply write: %v", s.id, err)
	}
}

// event appends a session lifecycle line to the events capture log.
func (s *session) event(text string) {
	if err := s.srv.events.WriteLine(s.srv.clock.Now(), s.id, s.imei, text); err != nil {
		monitoring.Logf("[session %s] event write: %v", s.id, err)
	}
}

func (s *session) imeiOrDash() string {
	if s.imei == "" {
		return "-"
	}
	return s.imei
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// frameCRCValid checks the trailer checksum without decoding the payload.
func frameCRCValid(frame []byte) bool {
	if len(frame) < codec.MinFrameSize {
		return false
	}
	body := frame[codec.HeaderSize : len(frame)-codec.TrailerSize]
	want := binary.BigEndian.Uint32(frame[len(frame)-codec.TrailerSize:])
	return uint32(codec.Checksum(body)) == want
}

func codecLabel(id byte) string {
	if id == codec.Codec8Extended {
		return "8e"
	}
	return "8"
}
