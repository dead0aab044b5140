// Package visa provides a small VISA-like resource manager for message based
// instruments reachable over serial ports, raw TCP sockets, Prologix GPIB
// adapters and a few special purpose backends.
package visa

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidResource = errors.New("invalid resource string")
	ErrUnknownResource = errors.New("no backend for resource")
	ErrNoResources     = errors.New("no instruments found")
	ErrUnsupported     = errors.New("operation not supported by instrument")
	ErrClosed          = errors.New("session closed")
	ErrTimeout         = errors.New("i/o timeout")
	ErrEventTimeout    = errors.New("timed out waiting for event")
)

// DefaultTimeout is the I/O timeout applied when opening a session.
const DefaultTimeout = 10 * time.Second

// Session is an open connection to a single instrument. Implementations
// serialize calls, so a session may be shared with an event queue.
type Session interface {
	// Resource returns the resource string the session was opened with.
	Resource() string
	// Write sends a command. Surrounding whitespace is removed and the
	// session terminator appended.
	Write(cmd string) error
	// Query sends a command and returns the raw response, terminator
	// included.
	Query(cmd string) (string, error)
	// ReadSTB reads the IEEE 488.2 status byte.
	ReadSTB() (byte, error)
	// SetTimeout changes the I/O timeout.
	SetTimeout(d time.Duration) error
	Close() error
}

// messageSession speaks line terminated text over any byte stream.
type messageSession struct {
	mu       sync.Mutex
	resource string
	conn     io.ReadWriteCloser
	rd       *bufio.Reader
	term     byte
	timeout  time.Duration
	deadline func(time.Duration) error // Applied before every read
	closed   bool
}

func newMessageSession(resource string, conn io.ReadWriteCloser, term byte) *messageSession {
	return &messageSession{
		resource: resource,
		conn:     conn,
		rd:       bufio.NewReader(conn),
		term:     term,
		timeout:  DefaultTimeout,
	}
}

func (s *messageSession) Resource() string { return s.resource }

func (s *messageSession) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.send(cmd)
}

func (s *messageSession) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if err := s.send(cmd); err != nil {
		return "", err
	}
	return s.recv(cmd)
}

func (s *messageSession) ReadSTB() (byte, error) {
	resp, err := s.Query("*STB?")
	if err != nil {
		return 0, err
	}
	return parseStatusByte(resp)
}

func (s *messageSession) SetTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	return nil
}

func (s *messageSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.resource, err)
	}
	return nil
}

// send writes cmd followed by the terminator. Callers hold mu.
func (s *messageSession) send(cmd string) error {
	line := strings.TrimSpace(cmd) + string(s.term)
	if _, err := io.WriteString(s.conn, line); err != nil {
		return fmt.Errorf("writing %q to %s: %w", cmd, s.resource, err)
	}
	return nil
}

// recv reads one terminated response. Callers hold mu.
func (s *messageSession) recv(cmd string) (string, error) {
	if s.deadline != nil {
		if err := s.deadline(s.timeout); err != nil {
			return "", fmt.Errorf("setting deadline on %s: %w", s.resource, err)
		}
	}
	resp, err := s.rd.ReadString(s.term)
	if err != nil {
		if errors.Is(err, io.EOF) && resp != "" {
			return resp, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			err = ErrTimeout
		}
		return "", fmt.Errorf("reading response to %q from %s: %w", cmd, s.resource, err)
	}
	return resp, nil
}

// parseStatusByte accepts the NR1 form, so "+64" is valid.
func parseStatusByte(resp string) (byte, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(resp), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid status byte %q: %w", resp, err)
	}
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("invalid status byte %q: out of range", resp)
	}
	return byte(v), nil
}
