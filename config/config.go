// Package config loads the antd daemon configuration from defaults, an
// optional YAML file, an optional .env file and ANT_* environment
// variables, in that order of precedence.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/node"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
)

// Driver backends.
const (
	DriverGousb  = "gousb"
	DriverUsbfs  = "usbfs"
	DriverSerial = "serial"
	DriverSim    = "sim"
)

// Environment variables overriding the file.
const (
	EnvDriver     = "ANT_DRIVER"
	EnvVID        = "ANT_VID"
	EnvPID        = "ANT_PID"
	EnvSerialPort = "ANT_SERIAL_PORT"
	EnvBaud       = "ANT_BAUD"
	EnvHTTPAddr   = "ANT_HTTP_ADDR"
	EnvLogLevel   = "ANT_LOG_LEVEL"
	EnvLogFormat  = "ANT_LOG_FORMAT"
)

// EnvFile is read into the environment when present.
var EnvFile = ".env"

// Config is the daemon configuration.
type Config struct {
	Driver     string `yaml:"driver"`
	VID        ID     `yaml:"vid"`
	PID        ID     `yaml:"pid"`
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`

	HTTPAddr string `yaml:"http_addr"`
	Profiler bool   `yaml:"profiler"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// NetworkKey is 16 hex digits; empty selects the ANT+ key.
	NetworkKey       string        `yaml:"network_key"`
	ExtendedMessages bool          `yaml:"extended_messages"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	OpTimeout        time.Duration `yaml:"op_timeout"`
	TxAttempts       int           `yaml:"tx_attempts"`

	Channels []Channel `yaml:"channels"`
}

// Channel is opened when the daemon starts.
type Channel struct {
	Number       int    `yaml:"number"`
	Profile      string `yaml:"profile"`
	DeviceNumber uint16 `yaml:"device_number"`
}

// ID is a USB vendor or product ID. YAML accepts integers and hex
// strings such as "0x0fcf".
type ID uint16

// UnmarshalYAML implements yaml.Unmarshaler.
func (id *ID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := parseID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (id ID) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("0x%04x", uint16(id)), nil
}

func parseID(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: usb id %q", pkg.ErrInvalidParameter, s)
	}
	return ID(v), nil
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Driver:      DriverGousb,
		VID:         driver.VendorDynastream,
		PID:         driver.ProductANTUSB2,
		Baud:        115200,
		HTTPAddr:    ":8080",
		LogLevel:    "info",
		LogFormat:   "text",
		SettleDelay: node.DefaultSettleDelay,
		ReadTimeout: node.DefaultReadTimeout,
		OpTimeout:   node.DefaultOpTimeout,
		TxAttempts:  3,
	}
}

// Load returns the defaults overridden by the YAML file at path (skipped
// when path is empty), then by the environment after loading EnvFile.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		pkg.LogDebug(pkg.ComponentConfig, "loaded config file", "path", path)
	}

	switch err := godotenv.Load(EnvFile); {
	case err == nil:
		pkg.LogDebug(pkg.ComponentConfig, "loaded environment file", "path", EnvFile)
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("load %s: %w", EnvFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		EnvDriver:     &c.Driver,
		EnvSerialPort: &c.SerialPort,
		EnvHTTPAddr:   &c.HTTPAddr,
		EnvLogLevel:   &c.LogLevel,
		EnvLogFormat:  &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ids := map[string]*ID{EnvVID: &c.VID, EnvPID: &c.PID}
	for key, dst := range ids {
		if v, ok := os.LookupEnv(key); ok {
			id, err := parseID(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = id
		}
	}

	if v, ok := os.LookupEnv(EnvBaud); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w: %q", EnvBaud, pkg.ErrInvalidParameter, v)
		}
		c.Baud = baud
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverGousb, DriverUsbfs, DriverSim:
	case DriverSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("%w: serial driver needs serial_port", pkg.ErrInvalidParameter)
		}
		if c.Baud <= 0 {
			return fmt.Errorf("%w: baud %d", pkg.ErrInvalidParameter, c.Baud)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", pkg.ErrInvalidParameter, c.Driver)
	}

	if _, err := pkg.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.Key(); err != nil {
		return err
	}
	if c.SettleDelay < 0 || c.ReadTimeout <= 0 || c.OpTimeout < 0 {
		return fmt.Errorf("%w: negative or zero timeout", pkg.ErrInvalidParameter)
	}

	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		// Devices expose at most 255 channels; the exact bound is only
		// known after the capabilities query.
		if ch.Number < 0 || ch.Number > 0xFE {
			return fmt.Errorf("%w: channel %d", pkg.ErrInvalidChannel, ch.Number)
		}
		if seen[ch.Number] {
			return fmt.Errorf("%w: channel %d listed twice", pkg.ErrInvalidChannel, ch.Number)
		}
		seen[ch.Number] = true
		if _, err := profile.Lookup(ch.Profile); err != nil {
			return fmt.Errorf("channel %d: %w", ch.Number, err)
		}
	}
	return nil
}

// Key decodes NetworkKey.
func (c Config) Key() ([message.NetworkKeySize]byte, error) {
	var key [message.NetworkKeySize]byte
	if c.NetworkKey == "" {
		return message.ANTPlusNetworkKey, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(c.NetworkKey, " ", ""))
	if err != nil || len(b) != len(key) {
		return key, fmt.Errorf("%w: network key must be %d hex bytes", pkg.ErrInvalidParameter, len(key))
	}
	copy(key[:], b)
	return key, nil
}

// NodeOptions returns the node options the configuration selects.
func (c Config) NodeOptions() ([]node.Option, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}
	opts := []node.Option{
		node.WithNetworkKey(key),
		node.WithSettleDelay(c.SettleDelay),
		node.WithReadTimeout(c.ReadTimeout),
		node.WithOpTimeout(c.OpTimeout),
	}
	if c.ExtendedMessages {
		opts = append(opts, node.WithExtendedMessages(message.LibConfigChannelID|message.LibConfigRSSI))
	}
	return opts, nil
}
