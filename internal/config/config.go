// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/rtusim/internal/simulator"
)

// Config defines the global configuration structure
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Device DeviceConfig `mapstructure:"device"`
	Server ServerConfig `mapstructure:"server"`
	Tcp    TcpConfig    `mapstructure:"tcp"`
	Log    LogConfig    `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// DeviceConfig defines the simulated memory
type DeviceConfig struct {
	StartAddr   int    `mapstructure:"start_addr"`
	Size        int    `mapstructure:"size"`
	DriftPeriod uint64 `mapstructure:"drift_period"` // 0 disables drift
	Seed        int64  `mapstructure:"seed"`
	Pattern     string `mapstructure:"pattern"` // "zero", "alternate", "random"
}

// ServerConfig defines the slave-side behaviour
type ServerConfig struct {
	SlaveIDs    string        `mapstructure:"slave_ids"` // "1", "1,2", "1-10"; empty answers all
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Timing      bool          `mapstructure:"timing"` // log read intervals per slave
}

// TcpConfig defines the optional RTU-over-TCP listener
type TcpConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:5020"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device       string        `mapstructure:"device"`
	Driver       string        `mapstructure:"driver"` // "bugst", "gridx", "goburrow"
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	Parity       string        `mapstructure:"parity"`
	StopBits     int           `mapstructure:"stop_bits"`
	Timeout      time.Duration `mapstructure:"timeout"`       // Response wait time (probe)
	PollInterval time.Duration `mapstructure:"poll_interval"` // Read timeout of one poll

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// Drivers lists the accepted serial.driver values.
var Drivers = []string{"bugst", "gridx", "goburrow"}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"device":       "serial.device",
	"driver":       "serial.driver",
	"baud":         "serial.baud_rate",
	"parity":       "serial.parity",
	"timeout":      "serial.timeout",
	"start-addr":   "device.start_addr",
	"size":         "device.size",
	"drift-period": "device.drift_period",
	"seed":         "device.seed",
	"pattern":      "device.pattern",
	"slave-ids":    "server.slave_ids",
	"idle-timeout": "server.idle_timeout",
	"timing":       "server.timing",
	"tcp":          "tcp.address",
	"log-level":    "log.level",
	"log-file":     "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.driver", "bugst")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("serial.poll_interval", 2*time.Millisecond)
	v.SetDefault("serial.rs485", false)
	v.SetDefault("serial.delay_rts_before_send", time.Duration(0))
	v.SetDefault("serial.delay_rts_after_send", time.Duration(0))
	v.SetDefault("serial.rts_high_during_send", false)
	v.SetDefault("serial.rts_high_after_send", false)
	v.SetDefault("serial.rx_during_tx", false)

	v.SetDefault("device.start_addr", 0)
	v.SetDefault("device.size", 64)
	v.SetDefault("device.drift_period", 100)
	v.SetDefault("device.seed", 1)
	v.SetDefault("device.pattern", "zero")

	v.SetDefault("server.slave_ids", "")
	v.SetDefault("server.idle_timeout", 10*time.Millisecond)
	v.SetDefault("server.timing", false)

	v.SetDefault("tcp.enabled", false)
	v.SetDefault("tcp.address", "0.0.0.0:5020")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// BindFlags registers the configuration overrides on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP("device", "p", "", "Serial port device name.")
	fs.String("driver", "", "Serial driver (bugst, gridx, goburrow).")
	fs.IntP("baud", "s", 0, "Serial port speed.")
	fs.String("parity", "", "Parity (N, E, O).")
	fs.DurationP("timeout", "W", 0, "Response wait time.")
	fs.Int("start-addr", 0, "First coil/register address.")
	fs.Int("size", 0, "Number of coils and registers.")
	fs.Uint64("drift-period", 0, "Reads between drift steps (0 disables).")
	fs.Int64("seed", 0, "Seed of the drift random source.")
	fs.String("pattern", "", "Initial memory pattern (zero, alternate, random).")
	fs.String("slave-ids", "", "Slave ids to answer, e.g. \"1,2,5-10\".")
	fs.Duration("idle-timeout", 0, "Idle time before a partial frame is discarded.")
	fs.Bool("timing", false, "Log the interval between reads of each slave.")
	fs.StringP("tcp", "A", "", "Also serve RTU over TCP on this address.")
	fs.StringP("log-level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log-file", "L", "", "Log file name ('-' for logging to STDOUT only).")
}

// LoadConfig loads configuration from file, environment and the flags that
// were set on fs. fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RTUSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		if f := fs.Lookup("tcp"); f != nil && f.Changed {
			v.Set("tcp.enabled", true)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("rtusim")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rtusim/")
		v.AddConfigPath("$HOME/.rtusim")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Without a file the defaults, environment and flags still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	config.Device.Pattern = strings.ToLower(config.Device.Pattern)
	if config.Server.IdleTimeout <= 0 {
		config.Server.IdleTimeout = 10 * time.Millisecond
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	s.Driver = strings.ToLower(s.Driver)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.PollInterval == 0 {
		s.PollInterval = 2 * time.Millisecond
	}
}

// Validate checks value ranges that the simulator relies on.
func (c *Config) Validate() error {
	d := c.Device
	if d.Size < 1 || d.Size > 65536 {
		return fmt.Errorf("device.size %d out of range 1..65536", d.Size)
	}
	if d.StartAddr < 0 || d.StartAddr+d.Size > 65536 {
		return fmt.Errorf("device.start_addr %d with size %d exceeds the address space", d.StartAddr, d.Size)
	}
	switch d.Pattern {
	case "", "zero", "alternate", "random":
	default:
		return fmt.Errorf("unknown device.pattern %q", d.Pattern)
	}

	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("invalid serial.parity %q", c.Serial.Parity)
	}
	if !knownDriver(c.Serial.Driver) {
		return fmt.Errorf("unknown serial.driver %q", c.Serial.Driver)
	}

	if _, err := simulator.ParseSlaveIDs(c.Server.SlaveIDs); err != nil {
		return fmt.Errorf("invalid server.slave_ids: %w", err)
	}
	return nil
}

func knownDriver(name string) bool {
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}
