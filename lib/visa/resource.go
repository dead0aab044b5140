package visa

import (
	"fmt"
	"strconv"
	"strings"
)

// Interface types understood by the resource manager
const (
	InterfaceASRL  = "ASRL"  // Serial port, e.g. ASRL/dev/ttyUSB0::INSTR
	InterfaceTCPIP = "TCPIP" // Raw socket, e.g. TCPIP0::192.168.1.10::5025::SOCKET
	InterfaceGPIB  = "GPIB"  // GPIB through a Prologix adapter, e.g. GPIB0::5::INSTR
	InterfaceTC66  = "TC66"  // RDTech TC66C USB meter, e.g. TC66::/dev/ttyACM0::INSTR
	InterfaceSIM   = "SIM"   // In-process simulated instrument, e.g. SIM::psu::INSTR
)

// Resource classes
const (
	ClassInstr  = "INSTR"
	ClassSocket = "SOCKET"
)

// DefaultSocketPort is the conventional SCPI raw socket port.
const DefaultSocketPort = 5025

// Resource is a parsed VISA resource string.
type Resource struct {
	Interface string // One of the Interface* constants
	Board     int    // Board number (TCPIP0, GPIB0)
	Address   string // Device path, host name, GPIB primary address or simulator name
	Port      int    // TCP port for SOCKET resources
	Secondary int    // GPIB secondary address, -1 if absent
	Class     string // INSTR or SOCKET
}

// ParseResource parses a VISA-style resource string.
func ParseResource(s string) (Resource, error) {
	parts := strings.Split(strings.TrimSpace(s), "::")
	if len(parts) < 2 {
		return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
	}

	r := Resource{Secondary: -1}
	r.Class = strings.ToUpper(parts[len(parts)-1])
	head := parts[0]
	upper := strings.ToUpper(head)

	switch {
	case strings.HasPrefix(upper, InterfaceASRL):
		// The device follows the ASRL prefix without a separator.
		if len(parts) != 2 || r.Class != ClassInstr || len(head) == len(InterfaceASRL) {
			return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
		}
		r.Interface = InterfaceASRL
		r.Address = head[len(InterfaceASRL):]

	case strings.HasPrefix(upper, InterfaceTCPIP):
		board, err := parseBoard(upper[len(InterfaceTCPIP):])
		if err != nil {
			return Resource{}, fmt.Errorf("%w: %q: %v", ErrInvalidResource, s, err)
		}
		r.Interface = InterfaceTCPIP
		r.Board = board
		switch {
		case len(parts) == 4 && r.Class == ClassSocket:
			port, err := strconv.Atoi(parts[2])
			if err != nil || port <= 0 || port > 65535 {
				return Resource{}, fmt.Errorf("%w: %q: bad port %q", ErrInvalidResource, s, parts[2])
			}
			r.Address = parts[1]
			r.Port = port
		case len(parts) == 3 && r.Class == ClassSocket:
			r.Address = parts[1]
			r.Port = DefaultSocketPort
		default:
			return Resource{}, fmt.Errorf("%w: %q: only SOCKET resources are supported over TCPIP", ErrInvalidResource, s)
		}

	case strings.HasPrefix(upper, InterfaceGPIB):
		board, err := parseBoard(upper[len(InterfaceGPIB):])
		if err != nil {
			return Resource{}, fmt.Errorf("%w: %q: %v", ErrInvalidResource, s, err)
		}
		if r.Class != ClassInstr || len(parts) < 3 || len(parts) > 4 {
			return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
		}
		pad, err := strconv.Atoi(parts[1])
		if err != nil || pad < 0 || pad > 30 {
			return Resource{}, fmt.Errorf("%w: %q: primary address must be 0-30", ErrInvalidResource, s)
		}
		r.Interface = InterfaceGPIB
		r.Board = board
		r.Address = parts[1]
		if len(parts) == 4 {
			sad, err := strconv.Atoi(parts[2])
			if err != nil || sad < 96 || sad > 126 {
				return Resource{}, fmt.Errorf("%w: %q: secondary address must be 96-126", ErrInvalidResource, s)
			}
			r.Secondary = sad
		}

	case upper == InterfaceTC66 || upper == InterfaceSIM:
		if len(parts) != 3 || r.Class != ClassInstr || parts[1] == "" {
			return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
		}
		r.Interface = upper
		r.Address = parts[1]

	default:
		return Resource{}, fmt.Errorf("%w: %q: unknown interface", ErrInvalidResource, s)
	}

	return r, nil
}

func parseBoard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	board, err := strconv.Atoi(s)
	if err != nil || board < 0 {
		return 0, fmt.Errorf("bad board number %q", s)
	}
	return board, nil
}

// PrimaryAddress returns the GPIB primary address of the resource.
func (r Resource) PrimaryAddress() int {
	pad, _ := strconv.Atoi(r.Address)
	return pad
}

// String formats the resource back into its canonical VISA form.
func (r Resource) String() string {
	switch r.Interface {
	case InterfaceASRL:
		return fmt.Sprintf("ASRL%s::INSTR", r.Address)
	case InterfaceTCPIP:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Address, r.Port)
	case InterfaceGPIB:
		if r.Secondary >= 0 {
			return fmt.Sprintf("GPIB%d::%s::%d::INSTR", r.Board, r.Address, r.Secondary)
		}
		return fmt.Sprintf("GPIB%d::%s::INSTR", r.Board, r.Address)
	default:
		return fmt.Sprintf("%s::%s::%s", r.Interface, r.Address, r.Class)
	}
}
