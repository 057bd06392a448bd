// Package avl holds the domain types shared across the gateway: normalized
// telemetry records, registered devices, and captured raw frames. Wire-level
// structures live in avl/codec; the canonical IO-id map lives in avl/iomap.
package avl

// DefaultModemType is assumed for devices registered without an explicit
// modem type. It selects the records_fmc003 / raw_fmc003 collections.
const DefaultModemType = "FMC003"

// Device is a registered tracker. Only devices with Approved set may open
// streaming sessions; everything else is rejected at login.
type Device struct {
	IMEI        string `json:"imei" bson:"imei"`
	Approved    bool   `json:"approved" bson:"approved"`
	ModemType   string `json:"modemType" bson:"modemType"`
	CarBrand    string `json:"carBrand,omitempty" bson:"carBrand,omitempty"`
	CarModel    string `json:"carModel,omitempty" bson:"carModel,omitempty"`
	PlateNumber string `json:"plateNumber,omitempty" bson:"plateNumber,omitempty"`
	VIN         string `json:"vin,omitempty" bson:"vin,omitempty"`
	Notes       string `json:"notes,omitempty" bson:"notes,omitempty"`
	PollCommand string `json:"pollCommand,omitempty" bson:"pollCommand,omitempty"`
	CreatedAt   Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt   Time   `json:"updatedAt" bson:"updatedAt"`
	LastSeenAt  *Time  `json:"lastSeenAt,omitempty" bson:"lastSeenAt,omitempty"`
}

// RawFrame is an inbound frame captured before decoding, kept for forensics
// and replay. SessionID ties it back to the capture log and process log.
type RawFrame struct {
	IMEI        string `json:"imei" bson:"imei"`
	SessionID   string `json:"sessionId" bson:"sessionId"`
	RemoteAddr  string `json:"remoteAddr" bson:"remoteAddr"`
	CodecID     int    `json:"codecId" bson:"codecId"`
	RecordCount int    `json:"recordCount" bson:"recordCount"`
	SizeBytes   int    `json:"sizeBytes" bson:"sizeBytes"`
	CRCValid    bool   `json:"crcValid" bson:"crcValid"`
	Hex         string `json:"hex" bson:"hex"`
	ReceivedAt  Time   `json:"receivedAt" bson:"receivedAt"`
}

// Position is a GNSS fix reference used in trip endpoints and device stats.
type Position struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	At        Time    `json:"at" bson:"at"`
}

// Canonical field names the analytics layer depends on. The full id-to-name
// table is data (avl/iomap); these constants exist so trip segmentation and
// behavior scoring do not scatter string literals.
const (
	FieldIgnition      = "ignition"
	FieldMovement      = "movement"
	FieldTotalOdometer = "totalOdometer"
	FieldTripOdometer  = "tripOdometer"
	FieldEngineRPM     = "obdEngineRpm"
	FieldVehicleSpeed  = "obdVehicleSpeed"
	FieldAccelX        = "accelerometerX"
	FieldAccelY        = "accelerometerY"
	FieldAccelZ        = "accelerometerZ"
	FieldFuelUsedGPS   = "fuelUsedGps"
	FieldVIN           = "vin"
)
