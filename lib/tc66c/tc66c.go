// Package tc66c reads live measurements from RDTech TC66C USB power meters.
package tc66c

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Commands supported in firmware mode
const (
	cmdQuery = "query" // Device mode, 4 byte response
	cmdGetVA = "getva" // Live reading, 192 byte encrypted response
)

// Mode represents the operational mode of the meter
type Mode int

const (
	ModeFirmware Mode = iota
	ModeBootloader
	ModeUnknown
)

func (m Mode) String() string {
	switch m {
	case ModeFirmware:
		return "firmware"
	case ModeBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// Meter is a connection to a TC66C.
type Meter struct {
	conn io.ReadWriteCloser
	Mode Mode
}

// Open connects to the meter on the given serial port and checks its mode.
func Open(portName string, timeout time.Duration) (*Meter, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	m, err := newMeter(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}

func newMeter(conn io.ReadWriteCloser) (*Meter, error) {
	m := &Meter{conn: conn, Mode: ModeUnknown}

	if err := m.send(cmdQuery); err != nil {
		return nil, err
	}
	resp, err := m.read(4)
	if err != nil {
		return nil, fmt.Errorf("failed to query device mode: %w", err)
	}
	switch string(resp) {
	case "firm":
		m.Mode = ModeFirmware
	case "boot":
		m.Mode = ModeBootloader
	default:
		return nil, fmt.Errorf("unknown device mode response: %q", resp)
	}
	return m, nil
}

// Close closes the serial port connection
func (m *Meter) Close() error {
	return m.conn.Close()
}

// Reading polls one live reading.
func (m *Meter) Reading() (*Reading, error) {
	if m.Mode != ModeFirmware {
		return nil, fmt.Errorf("device must be in firmware mode (current mode: %s)", m.Mode)
	}
	if err := m.send(cmdGetVA); err != nil {
		return nil, err
	}
	packet, err := m.read(packetSize)
	if err != nil {
		return nil, err
	}
	r, err := decodePacket(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reading: %w", err)
	}
	return r, nil
}

func (m *Meter) send(cmd string) error {
	// Stale bytes from an interrupted exchange would shift the next packet.
	if r, ok := m.conn.(interface{ ResetInputBuffer() error }); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("failed to reset input buffer: %w", err)
		}
	}
	if _, err := m.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

func (m *Meter) read(size int) ([]byte, error) {
	buf := make([]byte, size)
	n := 0
	for n < size {
		got, err := m.conn.Read(buf[n:])
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if got == 0 {
			return nil, fmt.Errorf("timeout reading response (got %d of %d bytes)", n, size)
		}
		n += got
	}
	return buf, nil
}
