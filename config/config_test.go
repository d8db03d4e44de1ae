package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/node"
	"github.com/ardnew/softant/pkg"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDriver, EnvVID, EnvPID, EnvSerialPort, EnvBaud, EnvHTTPAddr, EnvLogLevel, EnvLogFormat} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
	old := EnvFile
	EnvFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { EnvFile = old })
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.VID != driver.VendorDynastream || cfg.PID != driver.ProductANTUSB2 {
		t.Errorf("usb id = %04x:%04x", cfg.VID, cfg.PID)
	}
	if cfg.SettleDelay != node.DefaultSettleDelay {
		t.Errorf("SettleDelay = %v, want %v", cfg.SettleDelay, node.DefaultSettleDelay)
	}
	key, err := cfg.Key()
	if err != nil || key != message.ANTPlusNetworkKey {
		t.Errorf("Key() = % X, %v, want ANT+ key", key, err)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeFile(t, "antd.yaml", `
driver: usbfs
vid: 0x0fcf
pid: "0x1009"
http_addr: 127.0.0.1:9000
log_level: debug
network_key: "0102030405060708"
extended_messages: true
settle_delay: 250ms
channels:
  - number: 0
    profile: hr
  - number: 1
    profile: FE-C
    device_number: 4321
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Driver != DriverUsbfs || cfg.PID != driver.ProductANTUSBM || cfg.VID != driver.VendorDynastream {
		t.Errorf("driver = %s %04x:%04x", cfg.Driver, cfg.VID, cfg.PID)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.SettleDelay != 250*time.Millisecond {
		t.Errorf("http_addr = %q settle_delay = %v", cfg.HTTPAddr, cfg.SettleDelay)
	}
	if cfg.ReadTimeout != node.DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want default", cfg.ReadTimeout)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[1].DeviceNumber != 4321 || cfg.Channels[0].Profile != "hr" {
		t.Errorf("Channels = %+v", cfg.Channels)
	}
	key, _ := cfg.Key()
	if key != [8]byte{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Errorf("Key() = % X", key)
	}
	opts, err := cfg.NodeOptions()
	if err != nil || len(opts) != 5 {
		t.Errorf("NodeOptions() = %d options, %v, want 5", len(opts), err)
	}
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	EnvFile = writeFile(t, ".env", "ANT_DRIVER=serial\nANT_SERIAL_PORT=/dev/ttyUSB0\nANT_BAUD=57600\n")
	path := writeFile(t, "antd.yaml", "driver: sim\nhttp_addr: :1\n")
	t.Setenv(EnvHTTPAddr, ":2")
	t.Setenv(EnvPID, "0x1009")
	t.Cleanup(func() {
		os.Unsetenv(EnvDriver)
		os.Unsetenv(EnvSerialPort)
		os.Unsetenv(EnvBaud)
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Driver != DriverSerial || cfg.SerialPort != "/dev/ttyUSB0" || cfg.Baud != 57600 {
		t.Errorf("serial = %s %s %d", cfg.Driver, cfg.SerialPort, cfg.Baud)
	}
	if cfg.HTTPAddr != ":2" {
		t.Errorf("HTTPAddr = %q, want environment value", cfg.HTTPAddr)
	}
	if cfg.PID != driver.ProductANTUSBM {
		t.Errorf("PID = %04x", cfg.PID)
	}
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want ErrNotExist", err)
	}
	if _, err := Load(writeFile(t, "bad.yaml", "drivr: sim\n")); err == nil {
		t.Error("Load(unknown field) = nil, want error")
	}

	t.Setenv(EnvBaud, "fast")
	if _, err := Load(""); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Load(bad baud) = %v, want ErrInvalidParameter", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"default", func(*Config) {}, nil},
		{"unknown driver", func(c *Config) { c.Driver = "bluetooth" }, pkg.ErrInvalidParameter},
		{"serial without port", func(c *Config) { c.Driver = DriverSerial }, pkg.ErrInvalidParameter},
		{"serial", func(c *Config) { c.Driver, c.SerialPort = DriverSerial, "COM3" }, nil},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, pkg.ErrInvalidParameter},
		{"short key", func(c *Config) { c.NetworkKey = "0102" }, pkg.ErrInvalidParameter},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, pkg.ErrInvalidParameter},
		{"negative channel", func(c *Config) { c.Channels = []Channel{{Number: -1, Profile: "HR"}} }, pkg.ErrInvalidChannel},
		{"duplicate channel", func(c *Config) {
			c.Channels = []Channel{{Number: 2, Profile: "HR"}, {Number: 2, Profile: "PWR"}}
		}, pkg.ErrInvalidChannel},
		{"unknown profile", func(c *Config) { c.Channels = []Channel{{Number: 0, Profile: "ROWER"}} }, pkg.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
