// Package config populates a Config from CLI flags with an optional JSON
// override file, the same two-stage approach server/config.go takes in the
// teacher repository.
package config

import (
	"encoding/json"
	"os"
)

// Config holds every knob chatserver needs to construct its Server.
type Config struct {
	Listen      string `json:"listen"`
	Threads     int    `json:"threads"`
	MaxBodySize int64  `json:"max-body-size"`

	AuthMode       string `json:"auth-mode"` // "nop", "net", or "mysql"
	AuthNetAddr    string `json:"auth-net-addr"`
	AuthTimeoutSec int    `json:"auth-timeout-sec"`
	MySQLDSN       string `json:"mysql-dsn"`

	LogLevel    string `json:"log-level"`
	LogFile     string `json:"log-file"`
	LogSockPath string `json:"log-sock-path"`
	Quiet       bool   `json:"quiet"`
}

// Default returns the zero-value CLI defaults, matching spec.md §6: port
// 1234 (as "listen" carries both host and port here), threads 0 meaning
// 2x hardware parallelism with a minimum of 4.
func Default() Config {
	return Config{
		Listen:         "0.0.0.0:1234",
		Threads:        0,
		MaxBodySize:    0,
		AuthMode:       "nop",
		AuthTimeoutSec: 5,
		LogLevel:       "info",
	}
}

// ParseJSONConfig decodes the JSON file at path into cfg, overriding fields
// present in the file and leaving the rest untouched.
func ParseJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}
