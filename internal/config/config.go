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
)

// Config defines the global configuration structure
type Config struct {
	Transport   string            `mapstructure:"transport"` // "serial" or "simulator"
	SlaveID     byte              `mapstructure:"slave_id"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Layout      LayoutConfig      `mapstructure:"layout"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Poll        PollConfig        `mapstructure:"poll"`
	Simulator   SimulatorConfig   `mapstructure:"simulator"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LayoutConfig is the register map of the lesson device.
type LayoutConfig struct {
	CounterAddress uint16 `mapstructure:"counter_address"` // input registers, low word first
	ButtonAddress  uint16 `mapstructure:"button_address"`  // discrete input
	LedRAddress    uint16 `mapstructure:"led_r_address"`   // coils
	LedGAddress    uint16 `mapstructure:"led_g_address"`
	LedBAddress    uint16 `mapstructure:"led_b_address"`
}

// TransactionConfig bounds a single request/response exchange.
type TransactionConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`       // per attempt
	MaxRetries   int           `mapstructure:"max_retries"`   // attempts, including the first
	RequestPause time.Duration `mapstructure:"request_pause"` // silence before each write
}

// PollConfig paces the poll loop.
type PollConfig struct {
	MinIteration time.Duration `mapstructure:"min_iteration"`
	LedPeriod    int           `mapstructure:"led_period"` // seconds
}

// SimulatorConfig defines the in-process slave used when Transport is "simulator".
type SimulatorConfig struct {
	Persistence PersistenceConfig `mapstructure:"persistence"`
	CounterStep time.Duration     `mapstructure:"counter_step"` // counter increments once per step
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", "serial")
	v.SetDefault("slave_id", 2)

	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 19200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)

	v.SetDefault("layout.counter_address", 24575)
	v.SetDefault("layout.button_address", 8)
	v.SetDefault("layout.led_r_address", 8)
	v.SetDefault("layout.led_g_address", 9)
	v.SetDefault("layout.led_b_address", 10)

	v.SetDefault("transaction.timeout", time.Second)
	v.SetDefault("transaction.max_retries", 3)
	v.SetDefault("transaction.request_pause", 0)

	v.SetDefault("poll.min_iteration", 10*time.Millisecond)
	v.SetDefault("poll.led_period", 5)

	v.SetDefault("simulator.persistence.type", "memory")
	v.SetDefault("simulator.counter_step", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
}

// Flags returns the command line overrides understood by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("modbus-master", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("transport", "t", "", "Transport to the slave (serial, simulator).")
	fs.StringP("serial.device", "p", "", "Serial port device name.")
	fs.IntP("serial.baud_rate", "s", 0, "Serial port speed.")
	fs.DurationP("transaction.timeout", "W", 0, "Response wait time per attempt.")
	fs.IntP("transaction.max_retries", "N", 0, "Maximum number of attempts per request.")
	fs.StringP("metrics.address", "m", "", "Address to serve Prometheus metrics on.")
	fs.StringP("log.level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	return fs
}

// LoadConfig loads configuration from file, environment and the flags in fs.
// A missing config file is only an error when one was named explicitly.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MODBUS_MASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		configFile, _ = fs.GetString("config")
		// Only flags the user actually set override file values.
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", bindErr)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-master/")
		v.AddConfigPath("$HOME/.modbus-master")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixup(&config)
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixup(c *Config) {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Serial.Parity = strings.ToUpper(c.Serial.Parity)
	if c.Transaction.Timeout <= 0 {
		c.Transaction.Timeout = time.Second
	}
	if c.Transaction.MaxRetries < 1 {
		c.Transaction.MaxRetries = 1
	}
	if c.Poll.MinIteration <= 0 {
		c.Poll.MinIteration = 10 * time.Millisecond
	}
	if c.Poll.LedPeriod <= 0 {
		c.Poll.LedPeriod = 5
	}
}

func validate(c *Config) error {
	switch c.Transport {
	case "serial":
		if c.Serial.Device == "" {
			return errors.New("config: serial.device is required for the serial transport")
		}
		switch c.Serial.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("config: invalid serial.parity %q", c.Serial.Parity)
		}
	case "simulator":
		switch c.Simulator.Persistence.Type {
		case "", "memory":
		case "file", "mmap":
			if c.Simulator.Persistence.Path == "" {
				return fmt.Errorf("config: simulator.persistence.path is required for %q", c.Simulator.Persistence.Type)
			}
		default:
			return fmt.Errorf("config: unknown simulator.persistence.type %q", c.Simulator.Persistence.Type)
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.SlaveID == 0 || c.SlaveID > 247 {
		return fmt.Errorf("config: slave_id %d out of range 1-247", c.SlaveID)
	}
	return nil
}
