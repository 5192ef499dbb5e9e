package cliconfig

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// ServerConfig holds settings for the lidarstreamd daemon.
type ServerConfig struct {
	Listen       string
	TokenTimeout time.Duration
	WriteTimeout time.Duration
	LogLevel     string

	SerialPath  string
	Baud        int
	ReadTimeout time.Duration
	SpinupDelay time.Duration
	Sim         bool
}

// DefaultServerConfig returns defaults matching the reference deployment
// (RPLIDAR A1 on a Raspberry Pi, listening on all interfaces).
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:       ":5000",
		TokenTimeout: 5 * time.Second,
		WriteTimeout: 10 * time.Second,
		LogLevel:     "info",
		SerialPath:   "/dev/ttyUSB0",
		Baud:         115200,
		ReadTimeout:  2 * time.Second,
		SpinupDelay:  2 * time.Second,
	}
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if !c.Sim && c.SerialPath == "" {
		return fmt.Errorf("serial path is required (or run with --sim)")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive")
	}
	if c.TokenTimeout <= 0 {
		return fmt.Errorf("token timeout must be positive")
	}
	return nil
}

// ServerFileConfig mirrors ServerConfig for TOML.
type ServerFileConfig struct {
	Server struct {
		Listen       string `toml:"listen"`
		TokenTimeout string `toml:"token_timeout"`
		WriteTimeout string `toml:"write_timeout"`
		LogLevel     string `toml:"log_level"`
	} `toml:"server"`
	Sensor struct {
		Path        string `toml:"path"`
		Baud        int    `toml:"baud"`
		ReadTimeout string `toml:"read_timeout"`
		SpinupDelay string `toml:"spinup_delay"`
		Sim         *bool  `toml:"sim"`
	} `toml:"sensor"`
}

// LoadServerFileConfig reads and parses a server TOML config file.
func LoadServerFileConfig(path string) (ServerFileConfig, error) {
	var fc ServerFileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// ApplyServerFileConfig layers file values under explicitly set flags.
func ApplyServerFileConfig(cfg *ServerConfig, fc ServerFileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)
	s.setString("listen", fc.Server.Listen, &cfg.Listen)
	s.setString("log-level", fc.Server.LogLevel, &cfg.LogLevel)
	s.setString("serial-port", fc.Sensor.Path, &cfg.SerialPath)
	s.setInt("baud", fc.Sensor.Baud, &cfg.Baud)
	s.setBool("sim", fc.Sensor.Sim, &cfg.Sim)
	if err := s.setDuration("token-timeout", fc.Server.TokenTimeout, &cfg.TokenTimeout); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", fc.Server.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration("read-timeout", fc.Sensor.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}
	return s.setDuration("spinup", fc.Sensor.SpinupDelay, &cfg.SpinupDelay)
}

// ApplyServerEnvConfig layers LIDARSTREAM_* variables under flags.
func ApplyServerEnvConfig(cfg *ServerConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)
	s.setString("listen", os.Getenv("LIDARSTREAM_LISTEN"), &cfg.Listen)
	s.setString("log-level", os.Getenv("LIDARSTREAM_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("serial-port", os.Getenv("LIDARSTREAM_SERIAL_PORT"), &cfg.SerialPath)
	s.setBoolFromString("sim", os.Getenv("LIDARSTREAM_SIM"), &cfg.Sim)
	if err := s.setIntFromString("baud", os.Getenv("LIDARSTREAM_BAUD"), &cfg.Baud); err != nil {
		return err
	}
	if err := s.setDuration("token-timeout", os.Getenv("LIDARSTREAM_TOKEN_TIMEOUT"), &cfg.TokenTimeout); err != nil {
		return err
	}
	return s.setDuration("write-timeout", os.Getenv("LIDARSTREAM_WRITE_TIMEOUT"), &cfg.WriteTimeout)
}
