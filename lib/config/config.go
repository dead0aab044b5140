// Package config loads visalog settings from flags, environment and an
// optional visalog.yaml.
package config

import (
	"fmt"
	"time"

	"github.com/skgsergio/visalog/lib/prompt"
	"github.com/spf13/viper"
)

type Config struct {
	Session   Session   `mapstructure:"session"`
	Resources Resources `mapstructure:"resources"`
	Prologix  Prologix  `mapstructure:"prologix"`
	Commands  Commands  `mapstructure:"commands"`
	Events    Events    `mapstructure:"events"`
	Timing    Timing    `mapstructure:"timing"`
	Output    Output    `mapstructure:"output"`
	Live      Live      `mapstructure:"live"`

	MaxSamples        int  `mapstructure:"max_samples"`
	ValidateSetpoints bool `mapstructure:"validate_setpoints"`
	Trace             bool `mapstructure:"trace"`
	Verbose           bool `mapstructure:"verbose"`
}

type Session struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Resources struct {
	Serial     bool     `mapstructure:"serial"`      // Enumerate serial ports as ASRL resources
	SerialBaud int      `mapstructure:"serial_baud"` // Baud rate of ASRL sessions
	TCP        []string `mapstructure:"tcp"`         // host[:port] of raw socket instruments
	GPIB       []int    `mapstructure:"gpib"`        // Primary addresses behind the Prologix adapter
	TC66       []string `mapstructure:"tc66"`        // Serial ports of TC66C meters
	Sim        bool     `mapstructure:"sim"`         // Offer the simulated power supply
}

type Prologix struct {
	Port  string `mapstructure:"port"`
	Baud  int    `mapstructure:"baud"`
	AR488 bool   `mapstructure:"ar488"`
}

type Commands struct {
	Identify string           `mapstructure:"identify"`
	Measure  string           `mapstructure:"measure"`
	Arm      []string         `mapstructure:"arm"`
	Settings []prompt.Setting `mapstructure:"settings"`
}

type Events struct {
	Skip    bool          `mapstructure:"skip"`
	Poll    time.Duration `mapstructure:"poll"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Timing struct {
	Interval time.Duration `mapstructure:"interval"` // Pause between samples
	Settle   time.Duration `mapstructure:"settle"`   // Pause after each setpoint write
}

type Output struct {
	Dir      string `mapstructure:"dir"`
	Autosave int    `mapstructure:"autosave"` // Rows between saves, 0 saves on exit only
}

type Live struct {
	Addr string `mapstructure:"addr"` // Empty disables the live stream
}

// Default returns the built-in configuration. The command strings suit
// B&K Precision power supplies such as the 9140 series.
func Default() Config {
	return Config{
		Session: Session{Timeout: 10 * time.Second},
		Resources: Resources{
			Serial:     true,
			SerialBaud: 9600,
		},
		Prologix: Prologix{Baud: 115200},
		Commands: Commands{
			Identify: "*IDN?",
			Measure:  "MEAS:ALL?",
			Arm:      []string{"*SRE 1", "INIT"},
			Settings: []prompt.Setting{
				{Name: "voltage", Min: "VOLT:MIN?", Max: "VOLT:MAX?", Set: "VOLT"},
				{Name: "current", Min: "CURR:MIN?", Max: "CURR:MAX?", Set: "CURR"},
			},
		},
		Events: Events{
			Poll:    time.Second,
			Timeout: 10 * time.Minute,
		},
		Timing: Timing{
			Interval: 50 * time.Millisecond,
			Settle:   25 * time.Millisecond,
		},
		Output: Output{Dir: ".", Autosave: 100},
	}
}

// SetDefaults registers Default with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("session.timeout", d.Session.Timeout)
	v.SetDefault("resources.serial", d.Resources.Serial)
	v.SetDefault("resources.serial_baud", d.Resources.SerialBaud)
	v.SetDefault("resources.tcp", d.Resources.TCP)
	v.SetDefault("resources.gpib", d.Resources.GPIB)
	v.SetDefault("resources.tc66", d.Resources.TC66)
	v.SetDefault("resources.sim", d.Resources.Sim)
	v.SetDefault("prologix.port", d.Prologix.Port)
	v.SetDefault("prologix.baud", d.Prologix.Baud)
	v.SetDefault("prologix.ar488", d.Prologix.AR488)
	v.SetDefault("commands.identify", d.Commands.Identify)
	v.SetDefault("commands.measure", d.Commands.Measure)
	v.SetDefault("commands.arm", d.Commands.Arm)

	settings := make([]map[string]string, 0, len(d.Commands.Settings))
	for _, s := range d.Commands.Settings {
		settings = append(settings, map[string]string{"name": s.Name, "min": s.Min, "max": s.Max, "set": s.Set})
	}
	v.SetDefault("commands.settings", settings)

	v.SetDefault("events.skip", d.Events.Skip)
	v.SetDefault("events.poll", d.Events.Poll)
	v.SetDefault("events.timeout", d.Events.Timeout)
	v.SetDefault("timing.interval", d.Timing.Interval)
	v.SetDefault("timing.settle", d.Timing.Settle)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.autosave", d.Output.Autosave)
	v.SetDefault("live.addr", d.Live.Addr)
	v.SetDefault("max_samples", d.MaxSamples)
	v.SetDefault("validate_setpoints", d.ValidateSetpoints)
	v.SetDefault("trace", d.Trace)
	v.SetDefault("verbose", d.Verbose)
}

// Load decodes v into a Config and checks it.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Commands.Identify == "" {
		return fmt.Errorf("commands.identify must not be empty")
	}
	if c.Commands.Measure == "" {
		return fmt.Errorf("commands.measure must not be empty")
	}
	if c.Session.Timeout < 0 || c.Events.Timeout < 0 || c.Events.Poll < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Timing.Interval < 0 || c.Timing.Settle < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if c.MaxSamples < 0 {
		return fmt.Errorf("max_samples must not be negative")
	}
	if c.Output.Autosave < 0 {
		return fmt.Errorf("output.autosave must not be negative")
	}
	for _, pad := range c.Resources.GPIB {
		if pad < 0 || pad > 30 {
			return fmt.Errorf("invalid GPIB primary address %d (must be 0-30)", pad)
		}
	}
	if len(c.Resources.GPIB) > 0 && c.Prologix.Port == "" {
		return fmt.Errorf("resources.gpib requires prologix.port")
	}
	return nil
}
