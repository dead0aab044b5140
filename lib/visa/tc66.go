package visa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skgsergio/visalog/lib/tc66c"
)

// TC66Backend exposes RDTech TC66C meters as read-only instruments. The
// meter speaks a binary protocol, the session translates the few SCPI
// commands the logger needs.
type TC66Backend struct {
	Ports []string
}

func (b *TC66Backend) Interface() string { return InterfaceTC66 }

func (b *TC66Backend) List() ([]string, error) {
	res := make([]string, 0, len(b.Ports))
	for _, p := range b.Ports {
		res = append(res, Resource{Interface: InterfaceTC66, Address: p, Class: ClassInstr}.String())
	}
	return res, nil
}

func (b *TC66Backend) Open(_ context.Context, r Resource, timeout time.Duration) (Session, error) {
	m, err := tc66c.Open(r.Address, timeout)
	if err != nil {
		return nil, err
	}
	if m.Mode != tc66c.ModeFirmware {
		m.Close()
		return nil, fmt.Errorf("device must be in firmware mode (current mode: %s)", m.Mode)
	}
	return &meterSession{resource: r.String(), meter: m}, nil
}

// meterReader is the part of *tc66c.Meter the session uses.
type meterReader interface {
	Reading() (*tc66c.Reading, error)
	Close() error
}

type meterSession struct {
	mu       sync.Mutex
	resource string
	meter    meterReader
	closed   bool
}

func (s *meterSession) Resource() string { return s.resource }

// Write accepts the status and trigger commands as no-ops: the meter
// measures continuously and has nothing to configure.
func (s *meterSession) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch normalizeCommand(cmd) {
	case "*SRE 1", "*CLS", "*RST", "INIT", "INIT:IMM":
		return nil
	}
	return fmt.Errorf("%w: %q on %s", ErrUnsupported, cmd, s.resource)
}

func (s *meterSession) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	switch normalizeCommand(cmd) {
	case "*IDN?":
		r, err := s.meter.Reading()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("RDTech,%s,%d,%s\n", r.Product, r.Serial, r.Version), nil
	case "MEAS:ALL?", "MEAS?", "READ?":
		r, err := s.meter.Reading()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.4f,%.5f,%.4f\n", r.Voltage, r.Current, r.Power), nil
	case "MEAS:VOLT?":
		r, err := s.meter.Reading()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.4f\n", r.Voltage), nil
	case "MEAS:CURR?":
		r, err := s.meter.Reading()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.5f\n", r.Current), nil
	case "*STB?":
		return fmt.Sprintf("%d\n", StatusRQS), nil
	case "*OPC?":
		return "1\n", nil
	}
	return "", fmt.Errorf("%w: %q on %s", ErrUnsupported, cmd, s.resource)
}

// ReadSTB always reports a pending service request since there is no
// operation to wait for.
func (s *meterSession) ReadSTB() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return StatusRQS, nil
}

func (s *meterSession) SetTimeout(time.Duration) error { return nil }

func (s *meterSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.meter.Close()
}

// normalizeCommand upper-cases a command and collapses runs of spaces.
func normalizeCommand(cmd string) string {
	return strings.Join(strings.Fields(strings.ToUpper(cmd)), " ")
}
