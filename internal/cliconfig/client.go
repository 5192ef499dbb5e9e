package cliconfig

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// ClientConfig holds settings for the capture tools.
type ClientConfig struct {
	Host       string
	Port       int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	ScanMode   string
}

// DefaultClientConfig returns the defaults of the reference lab setup.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Port:       5000,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		ScanMode:   string(scan.DefaultMode),
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required (set it in the config file or with --host)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if _, err := scan.ParseMode(c.ScanMode); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// Addr returns the server address as host:port.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientFileConfig mirrors ClientConfig for TOML, with durations as
// strings. The [lidar] section matches the layout of the config.ini the
// lab distributes.
type ClientFileConfig struct {
	Lidar struct {
		Host       string `toml:"host"`
		Port       int    `toml:"port"`
		Timeout    string `toml:"timeout"`
		MaxRetries *int   `toml:"max_retries"`
		RetryDelay string `toml:"retry_delay"`
		ScanMode   string `toml:"scan_mode"`
	} `toml:"lidar"`
}

// LoadClientFileConfig reads and parses a client TOML config file.
func LoadClientFileConfig(path string) (ClientFileConfig, error) {
	var fc ClientFileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// ApplyClientFileConfig layers file values under explicitly set flags.
func ApplyClientFileConfig(cfg *ClientConfig, fc ClientFileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)
	s.setString("host", fc.Lidar.Host, &cfg.Host)
	s.setInt("port", fc.Lidar.Port, &cfg.Port)
	s.setIntAllowZero("retries", fc.Lidar.MaxRetries, &cfg.MaxRetries)
	s.setString("mode", fc.Lidar.ScanMode, &cfg.ScanMode)
	if err := s.setDuration("timeout", fc.Lidar.Timeout, &cfg.Timeout); err != nil {
		return err
	}
	return s.setDuration("retry-delay", fc.Lidar.RetryDelay, &cfg.RetryDelay)
}

// ApplyClientEnvConfig layers LIDARSTREAM_* variables under flags.
func ApplyClientEnvConfig(cfg *ClientConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)
	s.setString("host", os.Getenv("LIDARSTREAM_HOST"), &cfg.Host)
	s.setString("mode", os.Getenv("LIDARSTREAM_SCAN_MODE"), &cfg.ScanMode)
	if err := s.setIntFromString("port", os.Getenv("LIDARSTREAM_PORT"), &cfg.Port); err != nil {
		return err
	}
	if err := s.setIntFromString("retries", os.Getenv("LIDARSTREAM_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("LIDARSTREAM_TIMEOUT"), &cfg.Timeout); err != nil {
		return err
	}
	return s.setDuration("retry-delay", os.Getenv("LIDARSTREAM_RETRY_DELAY"), &cfg.RetryDelay)
}
