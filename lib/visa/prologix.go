package visa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// PrologixBackend serves GPIB resources through a Prologix compatible
// GPIB-USB controller (or an Arduino AR488) on a serial port.
type PrologixBackend struct {
	Port      string // Serial port of the adapter
	BaudRate  int
	Addresses []int // Primary addresses offered by List
	// AR488 skips the verbose and savecfg commands the AR488 does not accept.
	AR488 bool
}

func (b *PrologixBackend) Interface() string { return InterfaceGPIB }

func (b *PrologixBackend) List() ([]string, error) {
	if b.Port == "" {
		return nil, nil
	}
	res := make([]string, 0, len(b.Addresses))
	for _, pad := range b.Addresses {
		if pad < 0 || pad > 30 {
			return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", pad)
		}
		res = append(res, fmt.Sprintf("GPIB0::%d::INSTR", pad))
	}
	return res, nil
}

func (b *PrologixBackend) Open(_ context.Context, r Resource, timeout time.Duration) (Session, error) {
	if b.Port == "" {
		return nil, fmt.Errorf("no prologix adapter port configured")
	}
	baud := b.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := openSerial(b.Port, baud, timeout)
	if err != nil {
		return nil, err
	}

	s := &gpibSession{messageSession: newMessageSession(r.String(), serialConn{port}, '\n')}
	s.timeout = timeout

	addr := fmt.Sprintf("addr %d", r.PrimaryAddress())
	if r.Secondary >= 0 {
		addr = fmt.Sprintf("addr %d %d", r.PrimaryAddress(), r.Secondary)
	}
	var cmds []string
	if !b.AR488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // do not persist the following settings
		)
	}
	cmds = append(cmds,
		"mode 1",        // controller mode
		addr,            // instrument address
		"auto 0",        // no read-after-write, reads are explicit
		"eoi 1",         // assert EOI with the last byte
		"eos 2",         // append LF to instrument commands
		"eot_enable 1",  // append eot_char when EOI is detected
		"eot_char 10",   // which is LF
		fmt.Sprintf("read_tmo_ms %d", readTimeoutMillis(timeout)),
	)
	for _, cmd := range cmds {
		if err := s.controller(cmd); err != nil {
			port.Close()
			return nil, err
		}
	}
	return s, nil
}

// The adapter caps its inter-character timeout at 3000 ms.
func readTimeoutMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms > 3000 {
		return 3000
	}
	if ms < 1 {
		return 1
	}
	return ms
}

// gpibSession addresses one instrument behind the adapter.
type gpibSession struct {
	*messageSession
}

// controller sends a command to the adapter itself. Callers either hold mu
// or own the session exclusively.
func (s *gpibSession) controller(cmd string) error {
	return s.send("++" + strings.ToLower(strings.TrimSpace(cmd)))
}

func (s *gpibSession) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if err := s.send(cmd); err != nil {
		return "", err
	}
	// Auto mode is off, ask the adapter to address the instrument to talk.
	if err := s.controller("read eoi"); err != nil {
		return "", err
	}
	return s.recv(cmd)
}

// ReadSTB serial polls the instrument instead of asking for *STB?, which
// leaves the message exchange untouched.
func (s *gpibSession) ReadSTB() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.controller("spoll"); err != nil {
		return 0, err
	}
	resp, err := s.recv("++spoll")
	if err != nil {
		return 0, err
	}
	return parseStatusByte(resp)
}

// Close returns the instrument to front panel control before closing the
// adapter port.
func (s *gpibSession) Close() error {
	var err error
	s.mu.Lock()
	if !s.closed {
		err = s.controller("loc")
	}
	s.mu.Unlock()
	return multierr.Append(err, s.messageSession.Close())
}
