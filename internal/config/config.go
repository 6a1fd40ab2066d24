package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults applied before any file or environment value.
const (
	DefaultListen            = "127.0.0.1:7400"
	DefaultReceiveBuffer     = 1 << 20
	DefaultMaxDatagramSize   = 65507 // largest UDP payload over IPv4
	DefaultMaxFunnelDepth    = 32
	DefaultTimedTimeEncoding = "float"
	DefaultStatsInterval     = "1m"
	DefaultSerialBaudRate    = 115200

	maxFileSize = 1 * 1024 * 1024
)

// Environment variables overriding file values.
const (
	EnvListen            = "OSCSTACK_LISTEN"
	EnvReceiveBuffer     = "OSCSTACK_RECEIVE_BUFFER"
	EnvMaxDatagramSize   = "OSCSTACK_MAX_DATAGRAM_SIZE"
	EnvMaxFunnelDepth    = "OSCSTACK_MAX_FUNNEL_DEPTH"
	EnvTimedTimeEncoding = "OSCSTACK_TIMED_TIME_ENCODING"
	EnvStatsInterval     = "OSCSTACK_STATS_INTERVAL"
	EnvAdminListen       = "OSCSTACK_ADMIN_LISTEN"
	EnvMirrorAddress     = "OSCSTACK_MIRROR_ADDRESS"
	EnvSerialPort        = "OSCSTACK_SERIAL_PORT"
)

// Config is the runtime configuration of the OSC stack. The same keys are
// used in JSON and TOML files.
type Config struct {
	Listen            string        `json:"listen" toml:"listen"`
	ReceiveBuffer     int           `json:"receive_buffer" toml:"receive_buffer"`
	MaxDatagramSize   int           `json:"max_datagram_size" toml:"max_datagram_size"`
	MaxFunnelDepth    int           `json:"max_funnel_depth" toml:"max_funnel_depth"`
	TimedTimeEncoding string        `json:"timed_time_encoding" toml:"timed_time_encoding"`
	StatsInterval     string        `json:"stats_interval" toml:"stats_interval"`
	AdminListen       string        `json:"admin_listen,omitempty" toml:"admin_listen"`
	MirrorAddress     string        `json:"mirror_address,omitempty" toml:"mirror_address"`
	Logging           LoggingConfig `json:"logging" toml:"logging"`
	Serial            SerialConfig  `json:"serial" toml:"serial"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" toml:"format"`
	Level     string `json:"level,omitempty" toml:"level"`
	AddSource bool   `json:"add_source,omitempty" toml:"add_source"`
}

// SerialConfig configures the SLIP-over-serial source.
type SerialConfig struct {
	Port     string `json:"port,omitempty" toml:"port"`
	BaudRate int    `json:"baud_rate,omitempty" toml:"baud_rate"`
}

// Default returns a Config holding every default.
func Default() *Config {
	return &Config{
		Listen:            DefaultListen,
		ReceiveBuffer:     DefaultReceiveBuffer,
		MaxDatagramSize:   DefaultMaxDatagramSize,
		MaxFunnelDepth:    DefaultMaxFunnelDepth,
		TimedTimeEncoding: DefaultTimedTimeEncoding,
		StatsInterval:     DefaultStatsInterval,
		Logging:           LoggingConfig{Format: "text", Level: "info"},
		Serial:            SerialConfig{BaudRate: DefaultSerialBaudRate},
	}
}

// Load builds the configuration: defaults, then the file at path (when path
// is not empty), then a .env file in the working directory if present, then
// OSCSTACK_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile overlays a .json or .toml file on cfg. Keys absent from the file
// keep their current values.
func (c *Config) loadFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	switch ext {
	case ".toml":
		if _, err := toml.DecodeFile(cleanPath, c); err != nil {
			return fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str(EnvListen, &c.Listen)
	str(EnvTimedTimeEncoding, &c.TimedTimeEncoding)
	str(EnvStatsInterval, &c.StatsInterval)
	str(EnvAdminListen, &c.AdminListen)
	str(EnvMirrorAddress, &c.MirrorAddress)
	str(EnvSerialPort, &c.Serial.Port)
	for key, dst := range map[string]*int{
		EnvReceiveBuffer:   &c.ReceiveBuffer,
		EnvMaxDatagramSize: &c.MaxDatagramSize,
		EnvMaxFunnelDepth:  &c.MaxFunnelDepth,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address is required")
	}
	if c.ReceiveBuffer < 0 {
		return fmt.Errorf("receive_buffer must not be negative, got %d", c.ReceiveBuffer)
	}
	if c.MaxDatagramSize < 16 || c.MaxDatagramSize > 65535 {
		return fmt.Errorf("max_datagram_size must be between 16 and 65535, got %d", c.MaxDatagramSize)
	}
	if c.MaxFunnelDepth < 1 {
		return fmt.Errorf("max_funnel_depth must be at least 1, got %d", c.MaxFunnelDepth)
	}
	switch c.TimedTimeEncoding {
	case "float", "decimal":
	default:
		return fmt.Errorf("timed_time_encoding must be \"float\" or \"decimal\", got %q", c.TimedTimeEncoding)
	}
	if _, err := c.StatsEvery(); err != nil {
		return err
	}
	if c.Serial.BaudRate < 0 {
		return fmt.Errorf("serial.baud_rate must not be negative, got %d", c.Serial.BaudRate)
	}
	return nil
}

// StatsEvery returns the parsed stats interval. "off" and "0" return zero,
// which turns periodic stats logging off.
func (c *Config) StatsEvery() (time.Duration, error) {
	if strings.EqualFold(strings.TrimSpace(c.StatsInterval), "off") {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StatsInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid stats_interval %q: %w", c.StatsInterval, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("stats_interval must not be negative, got %s", d)
	}
	return d, nil
}
