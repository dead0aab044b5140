package visa

import (
	"errors"
	"testing"

	"github.com/skgsergio/visalog/lib/tc66c"
)

type fakeMeter struct {
	closes int
}

func (m *fakeMeter) Reading() (*tc66c.Reading, error) {
	return &tc66c.Reading{Product: "TC66", Version: "1.14", Serial: 4242, Voltage: 5.1234, Current: 0.5, Power: 2.5617}, nil
}

func (m *fakeMeter) Close() error {
	m.closes++
	return nil
}

func TestMeterSession(t *testing.T) {
	m := &fakeMeter{}
	s := &meterSession{resource: "TC66::/dev/ttyACM0::INSTR", meter: m}

	idn, err := s.Query("*idn?")
	if err != nil {
		t.Fatal(err)
	}
	if idn != "RDTech,TC66,4242,1.14\n" {
		t.Errorf("idn = %q", idn)
	}

	meas, err := s.Query("MEAS:ALL?")
	if err != nil {
		t.Fatal(err)
	}
	if meas != "5.1234,0.50000,2.5617\n" {
		t.Errorf("meas = %q", meas)
	}

	if err := s.Write("*SRE  1"); err != nil {
		t.Errorf("write *SRE 1: %v", err)
	}
	if err := s.Write("VOLT 5"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("write VOLT: %v, want ErrUnsupported", err)
	}
	if _, err := s.Query("VOLT:MIN?"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("query VOLT:MIN?: %v, want ErrUnsupported", err)
	}

	stb, err := s.ReadSTB()
	if err != nil || stb != StatusRQS {
		t.Errorf("ReadSTB() = %#x, %v", stb, err)
	}

	s.Close()
	s.Close()
	if m.closes != 1 {
		t.Errorf("meter closed %d times, want 1", m.closes)
	}
}
