package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/skgsergio/visalog/lib/visa"
)

var addrs = []string{"ASRL/dev/ttyUSB0::INSTR", "TCPIP0::10.0.0.2::5025::SOCKET", "SIM::psu::INSTR"}

func TestSelectDeviceValid(t *testing.T) {
	for i := range addrs {
		var out bytes.Buffer
		p := New(strings.NewReader(string(rune('0'+i))+"\n"), &out)

		got, err := p.SelectDevice(context.Background(), addrs)
		if err != nil {
			t.Fatal(err)
		}
		if got != i {
			t.Errorf("SelectDevice() = %d, want %d", got, i)
		}
		if strings.Contains(out.String(), "Invalid Input") {
			t.Errorf("input %d re-prompted:\n%s", i, out.String())
		}
		if strings.Count(out.String(), "Select DUT:") != 1 {
			t.Errorf("expected a single prompt:\n%s", out.String())
		}
	}
}

func TestSelectDeviceInvalid(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("abc\n-1\n3\n\n 1 \n"), &out)

	got, err := p.SelectDevice(context.Background(), addrs)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("SelectDevice() = %d, want 1", got)
	}
	if n := strings.Count(out.String(), "Invalid Input"); n != 4 {
		t.Errorf("got %d invalid input messages, want 4", n)
	}
	if n := strings.Count(out.String(), "2-SIM::psu::INSTR\n"); n != 5 {
		t.Errorf("list displayed %d times, want 5", n)
	}
}

func TestSelectDeviceEmpty(t *testing.T) {
	p := New(strings.NewReader("0\n"), io.Discard)
	if _, err := p.SelectDevice(context.Background(), nil); !errors.Is(err, visa.ErrNoResources) {
		t.Fatalf("SelectDevice() error = %v, want ErrNoResources", err)
	}
}

func TestSelectDeviceEOF(t *testing.T) {
	p := New(strings.NewReader("7\n"), io.Discard)
	if _, err := p.SelectDevice(context.Background(), addrs); !errors.Is(err, ErrNoInput) {
		t.Fatalf("SelectDevice() error = %v, want ErrNoInput", err)
	}
}

func TestSelectDeviceCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(r, io.Discard)
	if _, err := p.SelectDevice(ctx, addrs); !errors.Is(err, context.Canceled) {
		t.Fatalf("SelectDevice() error = %v, want context.Canceled", err)
	}
}

func psu() *visa.Simulator {
	return &visa.Simulator{
		Name: "psu",
		Replies: map[string]string{
			"VOLT:MIN?": "0.000\n",
			"VOLT:MAX?": "60.000\n",
			"CURR:MIN?": "0.000\n",
			"CURR:MAX?": "8.000\n",
		},
	}
}

var settings = []Setting{
	{Name: "voltage", Min: "VOLT:MIN?", Max: "VOLT:MAX?", Set: "VOLT"},
	{Name: "current", Min: "CURR:MIN?", Max: "CURR:MAX?", Set: "CURR"},
}

func TestEnterParameters(t *testing.T) {
	sim := psu()
	var out bytes.Buffer
	p := New(strings.NewReader("12.5\n1.2\n"), &out)

	got, err := p.EnterParameters(context.Background(), sim, settings, ParamOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Command != "VOLT 12.5" || got[1].Command != "CURR 1.2" {
		t.Errorf("setpoints = %+v", got)
	}
	if !reflect.DeepEqual(sim.Writes(), []string{"VOLT 12.5", "CURR 1.2"}) {
		t.Errorf("writes = %q", sim.Writes())
	}
	for _, want := range []string{
		"Please enter a voltage between 0.000 and 60.000\n",
		"Please enter a current between 0.000 and 8.000\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestEnterParametersUnvalidated(t *testing.T) {
	sim := psu()
	p := New(strings.NewReader("99\nlots\n"), io.Discard)

	if _, err := p.EnterParameters(context.Background(), sim, settings, ParamOptions{}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sim.Writes(), []string{"VOLT 99", "CURR lots"}) {
		t.Errorf("writes = %q", sim.Writes())
	}
}

func TestEnterParametersValidated(t *testing.T) {
	sim := psu()
	var out bytes.Buffer
	p := New(strings.NewReader("99\n-1\nfive\n5\n9\n8\n"), &out)

	if _, err := p.EnterParameters(context.Background(), sim, settings, ParamOptions{Validate: true}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sim.Writes(), []string{"VOLT 5", "CURR 8"}) {
		t.Errorf("writes = %q", sim.Writes())
	}
	if n := strings.Count(out.String(), "Invalid Input"); n != 4 {
		t.Errorf("got %d invalid input messages, want 4", n)
	}
}

func TestEnterParametersSkips(t *testing.T) {
	sim := psu()
	delete(sim.Replies, "CURR:MIN?")
	p := New(strings.NewReader("3\n"), io.Discard)

	st := append([]Setting{{Name: "mode", Min: "MODE:MIN?"}}, settings...)
	_, err := p.EnterParameters(context.Background(), sim, st, ParamOptions{})
	if !errors.Is(err, visa.ErrTimeout) {
		t.Fatalf("EnterParameters() error = %v, want ErrTimeout", err)
	}
	if !reflect.DeepEqual(sim.Writes(), []string{"VOLT 3"}) {
		t.Errorf("writes = %q", sim.Writes())
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		v, lo, hi string
		want      bool
	}{
		{"5", "0", "10", true},
		{"0", "0", "10", true},
		{"10", "0", "10", true},
		{"10.01", "0", "10", false},
		{"-1", "0", "10", false},
		{"x", "0", "10", false},
		{"1e3", "", "", true},
		{"5", "MIN", "MAX", true},
	}
	for _, tt := range tests {
		if got := inRange(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("inRange(%q, %q, %q) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
