// Package metrics holds the gateway's Prometheus instrumentation. All
// collectors register on the default registry and are served from the API's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections tracks TCP connections currently held open by the
	// ingest listener, whether or not they have authenticated.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetgate_open_connections",
		Help: "TCP connections currently open on the ingest listener.",
	})

	// SessionsTotal counts finished sessions by outcome: streamed,
	// rejected, auth_timeout, framing_error, read_error.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_sessions_total",
		Help: "Ingest sessions finished, by outcome.",
	}, []string{"outcome"})

	// FramesTotal counts decoded data frames by codec ("8", "8e").
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_frames_total",
		Help: "AVL data frames decoded, by codec.",
	}, []string{"codec"})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_decode_errors_total",
		Help: "Frames that failed payload decoding.",
	})

	CRCMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_crc_mismatches_total",
		Help: "Frames whose CRC-16 check failed.",
	})

	RecordsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_records_inserted_total",
		Help: "Telemetry records persisted to the store.",
	})

	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_records_duplicate_total",
		Help: "Records skipped as (timestamp, imei) duplicates.",
	})

	AcksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_acks_total",
		Help: "Record-count acknowledgements written back to devices.",
	})

	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_store_errors_total",
		Help: "Store operations that failed during ingest.",
	})
)

// Session outcomes.
const (
	OutcomeStreamed     = "streamed"
	OutcomeRejected     = "rejected"
	OutcomeAuthTimeout  = "auth_timeout"
	OutcomeFramingError = "framing_error"
	OutcomeReadError    = "read_error"
)
