package visa

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialBackend serves ASRL resources.
type SerialBackend struct {
	BaudRate   int
	Terminator byte
	// Exclude lists port names owned by other backends (Prologix adapter,
	// TC66C meters) so they are not offered twice.
	Exclude []string
}

func (b *SerialBackend) Interface() string { return InterfaceASRL }

// List enumerates serial ports, USB ports first.
func (b *SerialBackend) List() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	sort.SliceStable(ports, func(i, j int) bool {
		return ports[i].IsUSB && !ports[j].IsUSB
	})

	res := make([]string, 0, len(ports))
	for _, port := range ports {
		if slices.Contains(b.Exclude, port.Name) {
			continue
		}
		res = append(res, Resource{Interface: InterfaceASRL, Address: port.Name, Class: ClassInstr}.String())
	}
	return res, nil
}

func (b *SerialBackend) Open(_ context.Context, r Resource, timeout time.Duration) (Session, error) {
	port, err := openSerial(r.Address, b.BaudRate, timeout)
	if err != nil {
		return nil, err
	}

	term := b.Terminator
	if term == 0 {
		term = '\n'
	}
	s := newMessageSession(r.String(), serialConn{port}, term)
	s.timeout = timeout
	return &serialSession{messageSession: s, port: port}, nil
}

type serialSession struct {
	*messageSession
	port serial.Port
}

func (s *serialSession) SetTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	s.timeout = d
	return nil
}

func openSerial(name string, baud int, timeout time.Duration) (serial.Port, error) {
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// serialConn reports an expired read timeout as ErrTimeout. The serial
// library signals it with a zero length read and no error.
type serialConn struct {
	serial.Port
}

func (c serialConn) Read(p []byte) (int, error) {
	n, err := c.Port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}
