package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaxTuningFileSize caps how much of a tuning file is read. Tuning files are
// a handful of numbers; anything larger is a mistake.
const MaxTuningFileSize = 1 << 20

// Tuning is the optional runtime tuning file. Every field is a pointer so an
// absent key falls back to the production default through its Get accessor;
// the zero Tuning is all defaults.
type Tuning struct {
	// Session knobs.
	AuthTimeout      *string `json:"auth_timeout,omitempty"`       // duration string like "15s"
	LivenessInterval *string `json:"liveness_interval,omitempty"`  // duration string like "5s"
	StrictCRC        *bool   `json:"strict_crc,omitempty"`         // reject frames with a bad CRC
	DeviceCacheTTL   *string `json:"device_cache_ttl,omitempty"`   // admission cache lifetime
	MaxFrameBytes    *int    `json:"max_frame_bytes,omitempty"`    // declared-length sanity cap
	MaxBufferedBytes *int    `json:"max_buffered_bytes,omitempty"` // per-session stream buffer cap

	// Trip segmentation knobs.
	TripQuietSeconds *int     `json:"trip_quiet_seconds,omitempty"`
	MinTripMinutes   *int     `json:"min_trip_minutes,omitempty"`
	MinTripMeters    *float64 `json:"min_trip_meters,omitempty"`

	// Behavior event knobs.
	BrakeThresholdMG    *float64 `json:"brake_threshold_mg,omitempty"`
	AccelThresholdMG    *float64 `json:"accel_threshold_mg,omitempty"`
	CornerThresholdMG   *float64 `json:"corner_threshold_mg,omitempty"`
	EventCooldownMillis *int     `json:"event_cooldown_ms,omitempty"`
	EventMinSpeedKmh    *int     `json:"event_min_speed_kmh,omitempty"`
	CornerMinSpeedKmh   *int     `json:"corner_min_speed_kmh,omitempty"`
	StationarySpeedKmh  *int     `json:"stationary_speed_kmh,omitempty"`
}

// LoadTuning reads and validates a tuning file. The file must carry a .json
// extension, stay under MaxTuningFileSize, and contain only known keys.
func LoadTuning(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat tuning file: %w", err)
	}
	if info.Size() > MaxTuningFileSize {
		return nil, fmt.Errorf("tuning file is %d bytes, max %d", info.Size(), MaxTuningFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes tuning JSON strictly: unknown keys are an error so a
// typoed knob cannot silently fall back to its default.
func ParseTuning(data []byte) (*Tuning, error) {
	t := &Tuning{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(t); err != nil {
		return nil, fmt.Errorf("parse tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// Validate checks that set values are usable.
func (t *Tuning) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"auth_timeout", t.AuthTimeout},
		{"liveness_interval", t.LivenessInterval},
		{"device_cache_ttl", t.DeviceCacheTTL},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, parsed)
		}
	}
	if t.TripQuietSeconds != nil && *t.TripQuietSeconds < 1 {
		return fmt.Errorf("trip_quiet_seconds must be at least 1, got %d", *t.TripQuietSeconds)
	}
	if t.MinTripMeters != nil && *t.MinTripMeters < 0 {
		return fmt.Errorf("min_trip_meters must be non-negative, got %f", *t.MinTripMeters)
	}
	if t.EventCooldownMillis != nil && *t.EventCooldownMillis < 0 {
		return fmt.Errorf("event_cooldown_ms must be non-negative, got %d", *t.EventCooldownMillis)
	}
	if t.MaxFrameBytes != nil && *t.MaxFrameBytes < 1024 {
		return fmt.Errorf("max_frame_bytes must be at least 1024, got %d", *t.MaxFrameBytes)
	}
	return nil
}

// GetAuthTimeout returns the unauthenticated session timeout.
func (t *Tuning) GetAuthTimeout() time.Duration {
	return t.duration(t.AuthTimeout, 15*time.Second)
}

// GetLivenessInterval returns the per-session liveness poll period.
func (t *Tuning) GetLivenessInterval() time.Duration {
	return t.duration(t.LivenessInterval, 5*time.Second)
}

// GetStrictCRC reports whether CRC mismatches reject the frame. Field
// traffic includes devices with broken CRC firmware, so the default is off.
func (t *Tuning) GetStrictCRC() bool {
	if t.StrictCRC == nil {
		return false
	}
	return *t.StrictCRC
}

// GetDeviceCacheTTL returns the admission cache lifetime.
func (t *Tuning) GetDeviceCacheTTL() time.Duration {
	return t.duration(t.DeviceCacheTTL, 30*time.Second)
}

// GetMaxFrameBytes returns the declared-length sanity cap.
func (t *Tuning) GetMaxFrameBytes() int {
	if t.MaxFrameBytes == nil {
		return 512 * 1024
	}
	return *t.MaxFrameBytes
}

// GetMaxBufferedBytes returns the per-session stream buffer cap.
func (t *Tuning) GetMaxBufferedBytes() int {
	if t.MaxBufferedBytes == nil {
		return 1 << 20
	}
	return *t.MaxBufferedBytes
}

// GetTripQuietPeriod returns the engine-off gap that closes a trip.
func (t *Tuning) GetTripQuietPeriod() time.Duration {
	if t.TripQuietSeconds == nil {
		return 60 * time.Second
	}
	return time.Duration(*t.TripQuietSeconds) * time.Second
}

// GetMinTripMinutes returns the duration emission threshold.
func (t *Tuning) GetMinTripMinutes() int {
	if t.MinTripMinutes == nil {
		return 2
	}
	return *t.MinTripMinutes
}

// GetMinTripMeters returns the distance emission threshold.
func (t *Tuning) GetMinTripMeters() float64 {
	if t.MinTripMeters == nil {
		return 100
	}
	return *t.MinTripMeters
}

// GetBrakeThresholdMG returns the hard-braking threshold.
func (t *Tuning) GetBrakeThresholdMG() float64 {
	if t.BrakeThresholdMG == nil {
		return 150
	}
	return *t.BrakeThresholdMG
}

// GetAccelThresholdMG returns the hard-acceleration threshold.
func (t *Tuning) GetAccelThresholdMG() float64 {
	if t.AccelThresholdMG == nil {
		return 200
	}
	return *t.AccelThresholdMG
}

// GetCornerThresholdMG returns the harsh-cornering threshold.
func (t *Tuning) GetCornerThresholdMG() float64 {
	if t.CornerThresholdMG == nil {
		return 150
	}
	return *t.CornerThresholdMG
}

// GetEventCooldown returns the per-type event re-fire guard.
func (t *Tuning) GetEventCooldown() time.Duration {
	if t.EventCooldownMillis == nil {
		return 2 * time.Second
	}
	return time.Duration(*t.EventCooldownMillis) * time.Millisecond
}

// GetEventMinSpeed returns the speed gate for all behavior events.
func (t *Tuning) GetEventMinSpeed() int {
	if t.EventMinSpeedKmh == nil {
		return 10
	}
	return *t.EventMinSpeedKmh
}

// GetCornerMinSpeed returns the extra speed gate for cornering.
func (t *Tuning) GetCornerMinSpeed() int {
	if t.CornerMinSpeedKmh == nil {
		return 20
	}
	return *t.CornerMinSpeedKmh
}

// GetStationarySpeed returns the stationary speed bound.
func (t *Tuning) GetStationarySpeed() int {
	if t.StationarySpeedKmh == nil {
		return 3
	}
	return *t.StationarySpeedKmh
}

func (t *Tuning) duration(v *string, fallback time.Duration) time.Duration {
	if v == nil || *v == "" {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fallback
	}
	return d
}
