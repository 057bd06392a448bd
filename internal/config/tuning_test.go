package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTuningFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	return path
}

func TestTuningDefaults(t *testing.T) {
	var tuning Tuning
	if got := tuning.GetAuthTimeout(); got != 15*time.Second {
		t.Errorf("GetAuthTimeout() = %v, want 15s", got)
	}
	if got := tuning.GetLivenessInterval(); got != 5*time.Second {
		t.Errorf("GetLivenessInterval() = %v, want 5s", got)
	}
	if tuning.GetStrictCRC() {
		t.Error("GetStrictCRC() = true, want false by default")
	}
	if got := tuning.GetTripQuietPeriod(); got != 60*time.Second {
		t.Errorf("GetTripQuietPeriod() = %v, want 60s", got)
	}
	if got := tuning.GetEventCooldown(); got != 2*time.Second {
		t.Errorf("GetEventCooldown() = %v, want 2s", got)
	}
	if got := tuning.GetBrakeThresholdMG(); got != 150 {
		t.Errorf("GetBrakeThresholdMG() = %v, want 150", got)
	}
	if got := tuning.GetMaxFrameBytes(); got != 512*1024 {
		t.Errorf("GetMaxFrameBytes() = %d, want 512KiB", got)
	}
}

func TestLoadTuningOverrides(t *testing.T) {
	path := writeTuningFile(t, "tuning.json", `{
		"auth_timeout": "30s",
		"strict_crc": true,
		"trip_quiet_seconds": 90,
		"brake_threshold_mg": 120,
		"event_cooldown_ms": 3000
	}`)
	tuning, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning() error: %v", err)
	}
	if got := tuning.GetAuthTimeout(); got != 30*time.Second {
		t.Errorf("GetAuthTimeout() = %v, want 30s", got)
	}
	if !tuning.GetStrictCRC() {
		t.Error("GetStrictCRC() = false, want true")
	}
	if got := tuning.GetTripQuietPeriod(); got != 90*time.Second {
		t.Errorf("GetTripQuietPeriod() = %v, want 90s", got)
	}
	if got := tuning.GetBrakeThresholdMG(); got != 120 {
		t.Errorf("GetBrakeThresholdMG() = %v, want 120", got)
	}
	if got := tuning.GetEventCooldown(); got != 3*time.Second {
		t.Errorf("GetEventCooldown() = %v, want 3s", got)
	}
	// Untouched knobs keep their defaults.
	if got := tuning.GetCornerMinSpeed(); got != 20 {
		t.Errorf("GetCornerMinSpeed() = %d, want 20", got)
	}
}

func TestLoadTuningRejections(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong extension", "tuning.yaml", `{}`},
		{"unknown key", "tuning.json", `{"brake_treshold_mg": 120}`},
		{"malformed json", "tuning.json", `{`},
		{"bad duration", "tuning.json", `{"auth_timeout": "fast"}`},
		{"negative duration", "tuning.json", `{"auth_timeout": "-5s"}`},
		{"zero quiet period", "tuning.json", `{"trip_quiet_seconds": 0}`},
		{"tiny frame cap", "tuning.json", `{"max_frame_bytes": 100}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTuningFile(t, tt.file, tt.content)
			if _, err := LoadTuning(path); err == nil {
				t.Error("LoadTuning() succeeded, want error")
			}
		})
	}
}

func TestLoadTuningMissingFile(t *testing.T) {
	if _, err := LoadTuning(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("LoadTuning() succeeded on a missing file, want error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvMongoURI, "")
	t.Setenv(EnvDBPath, "/tmp/test.db")
	t.Setenv(EnvTCPPort, "6027")
	t.Setenv(EnvAPIPort, "")
	t.Setenv(EnvAPIKey, "secret")
	t.Setenv(EnvLogsDir, "")

	cfg := FromEnv()
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.TCPPort != 6027 {
		t.Errorf("TCPPort = %d, want 6027", cfg.TCPPort)
	}
	if cfg.APIPort != 3000 {
		t.Errorf("APIPort = %d, want default 3000", cfg.APIPort)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", cfg.APIKey)
	}
	if cfg.LogsDir != "./logs" {
		t.Errorf("LogsDir = %q, want ./logs", cfg.LogsDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{TCPPort: 5027, APIPort: 3000, DBPath: "x.db"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	bad := cfg
	bad.TCPPort = 0
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted port 0")
	}
	bad = cfg
	bad.DBPath = ""
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted empty store config")
	}
}
