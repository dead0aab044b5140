package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/skgsergio/visalog/lib/prompt"
	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	c, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Commands, Default().Commands) {
		t.Errorf("commands = %+v, want %+v", c.Commands, Default().Commands)
	}
	if c.Session.Timeout != 10*time.Second {
		t.Errorf("session timeout = %s", c.Session.Timeout)
	}
	if c.Timing.Interval != 50*time.Millisecond || c.Timing.Settle != 25*time.Millisecond {
		t.Errorf("timing = %+v", c.Timing)
	}
	if c.ValidateSetpoints {
		t.Error("setpoint validation enabled by default")
	}
}

const sample = `
session:
  timeout: 3s
resources:
  serial: false
  tcp: ["10.0.0.2", "psu.lab:5555"]
  gpib: [5, 6]
prologix:
  port: /dev/ttyACM1
commands:
  measure: "MEAS:VOLT?"
  arm: ["*CLS", "*SRE 16", "INIT"]
  settings:
    - name: voltage
      min: "SOUR:VOLT? MIN"
      max: "SOUR:VOLT? MAX"
      set: "SOUR:VOLT"
events:
  timeout: 90s
timing:
  interval: 200ms
max_samples: 10
validate_setpoints: true
`

func TestLoadFile(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(sample)); err != nil {
		t.Fatal(err)
	}

	c, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if c.Session.Timeout != 3*time.Second || c.Events.Timeout != 90*time.Second || c.Timing.Interval != 200*time.Millisecond {
		t.Errorf("durations not decoded: %+v %+v %+v", c.Session, c.Events, c.Timing)
	}
	if c.Events.Poll != time.Second || c.Timing.Settle != 25*time.Millisecond {
		t.Errorf("defaults lost: %+v %+v", c.Events, c.Timing)
	}
	if c.Resources.Serial || !reflect.DeepEqual(c.Resources.TCP, []string{"10.0.0.2", "psu.lab:5555"}) || !reflect.DeepEqual(c.Resources.GPIB, []int{5, 6}) {
		t.Errorf("resources = %+v", c.Resources)
	}
	if c.Commands.Identify != "*IDN?" || c.Commands.Measure != "MEAS:VOLT?" {
		t.Errorf("commands = %+v", c.Commands)
	}
	want := []prompt.Setting{{Name: "voltage", Min: "SOUR:VOLT? MIN", Max: "SOUR:VOLT? MAX", Set: "SOUR:VOLT"}}
	if !reflect.DeepEqual(c.Commands.Settings, want) {
		t.Errorf("settings = %+v", c.Commands.Settings)
	}
	if c.MaxSamples != 10 {
		t.Errorf("max_samples = %d", c.MaxSamples)
	}
	if !c.ValidateSetpoints {
		t.Error("validate_setpoints not decoded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty measure", func(c *Config) { c.Commands.Measure = "" }},
		{"empty identify", func(c *Config) { c.Commands.Identify = "" }},
		{"negative timeout", func(c *Config) { c.Session.Timeout = -time.Second }},
		{"negative interval", func(c *Config) { c.Timing.Interval = -time.Second }},
		{"negative samples", func(c *Config) { c.MaxSamples = -1 }},
		{"bad gpib", func(c *Config) { c.Prologix.Port = "/dev/ttyACM0"; c.Resources.GPIB = []int{31} }},
		{"gpib without adapter", func(c *Config) { c.Resources.GPIB = []int{5} }},
	}
	for _, tt := range tests {
		c := Default()
		tt.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	c := Default()
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
