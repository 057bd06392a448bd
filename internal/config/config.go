// Package config holds the gateway's process configuration (environment
// variables with flag overrides) and the optional JSON tuning file for
// session and analytics thresholds.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variable names the gateway reads.
const (
	EnvMongoURI = "MONGO_URI"
	EnvDBPath   = "DB_PATH"
	EnvTCPPort  = "TCP_PORT"
	EnvAPIPort  = "API_PORT"
	EnvAPIKey   = "API_KEY"
	EnvLogsDir  = "LOGS_DIR"
)

// Config is the process configuration. Values default from the environment
// so flags can be declared with these as their defaults and still win when
// set explicitly.
type Config struct {
	// MongoURI selects the Mongo backend when non-empty; otherwise the
	// embedded SQLite store at DBPath is used.
	MongoURI string
	DBPath   string
	TCPPort  int
	APIPort  int
	APIKey   string
	LogsDir  string
}

// FromEnv builds a Config from the environment, applying defaults for
// anything unset.
func FromEnv() Config {
	return Config{
		MongoURI: os.Getenv(EnvMongoURI),
		DBPath:   envOr(EnvDBPath, "fleetgate.db"),
		TCPPort:  envInt(EnvTCPPort, 5027),
		APIPort:  envInt(EnvAPIPort, 3000),
		APIKey:   os.Getenv(EnvAPIKey),
		LogsDir:  envOr(EnvLogsDir, "./logs"),
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c Config) Validate() error {
	if c.TCPPort < 1 || c.TCPPort > 65535 {
		return fmt.Errorf("tcp port %d out of range", c.TCPPort)
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api port %d out of range", c.APIPort)
	}
	if c.MongoURI == "" && c.DBPath == "" {
		return fmt.Errorf("neither %s nor %s is set", EnvMongoURI, EnvDBPath)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
