// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtusim.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
serial:
  device: /dev/ttyS3
  driver: GridX
  baud_rate: 9600
  parity: e
  rs485: true
device:
  start_addr: 100
  size: 16
  drift_period: 0
  pattern: Alternate
server:
  slave_ids: "1,5-6"
  idle_timeout: 20ms
log:
  level: debug
`)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyS3" || cfg.Serial.Driver != "gridx" || cfg.Serial.BaudRate != 9600 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.Parity != "E" || !cfg.Serial.RS485 || cfg.Serial.DataBits != 8 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.Timeout != 500*time.Millisecond {
		t.Errorf("Timeout = %v, want default 500ms", cfg.Serial.Timeout)
	}
	if cfg.Device.StartAddr != 100 || cfg.Device.Size != 16 || cfg.Device.DriftPeriod != 0 || cfg.Device.Pattern != "alternate" {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Server.SlaveIDs != "1,5-6" || cfg.Server.IdleTimeout != 20*time.Millisecond {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
device:
  size: 16
`)
	t.Setenv("RTUSIM_DEVICE_SIZE", "32")
	t.Setenv("RTUSIM_SERIAL_BAUD_RATE", "19200")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{"--baud", "38400", "--tcp", "127.0.0.1:1502"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, fs)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Device.Size != 32 {
		t.Errorf("Device.Size = %d, want env override 32", cfg.Device.Size)
	}
	if cfg.Serial.BaudRate != 38400 {
		t.Errorf("BaudRate = %d, want flag override 38400", cfg.Serial.BaudRate)
	}
	if !cfg.Tcp.Enabled || cfg.Tcp.Address != "127.0.0.1:1502" {
		t.Errorf("tcp = %+v", cfg.Tcp)
	}
	// Unset flags must not clobber defaults.
	if cfg.Serial.Driver != "bugst" || cfg.Device.DriftPeriod != 100 {
		t.Errorf("defaults lost: driver %q drift %d", cfg.Serial.Driver, cfg.Device.DriftPeriod)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Fatal("LoadConfig() with a missing explicit file succeeded")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Serial: SerialConfig{Driver: "bugst", Parity: "N"},
			Device: DeviceConfig{Size: 64, Pattern: "zero"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Valid", func(c *Config) {}, ""},
		{"FullSpace", func(c *Config) { c.Device.Size = 65536 }, ""},
		{"ZeroSize", func(c *Config) { c.Device.Size = 0 }, "device.size"},
		{"TooLarge", func(c *Config) { c.Device.Size = 65537 }, "device.size"},
		{"PastEnd", func(c *Config) { c.Device.StartAddr = 65500 }, "device.start_addr"},
		{"Parity", func(c *Config) { c.Serial.Parity = "X" }, "parity"},
		{"Driver", func(c *Config) { c.Serial.Driver = "usb" }, "driver"},
		{"Pattern", func(c *Config) { c.Device.Pattern = "wave" }, "pattern"},
		{"SlaveIDs", func(c *Config) { c.Server.SlaveIDs = "9-1" }, "slave_ids"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
