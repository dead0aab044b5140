package visa

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TCPBackend serves TCPIP SOCKET resources for a fixed list of hosts. Raw
// sockets cannot be discovered, so the hosts come from configuration.
type TCPBackend struct {
	// Hosts holds "host" or "host:port" entries.
	Hosts      []string
	Terminator byte
}

func (b *TCPBackend) Interface() string { return InterfaceTCPIP }

func (b *TCPBackend) List() ([]string, error) {
	res := make([]string, 0, len(b.Hosts))
	for _, h := range b.Hosts {
		host, port := h, DefaultSocketPort
		if hh, pp, err := net.SplitHostPort(h); err == nil {
			p, err := strconv.Atoi(pp)
			if err != nil {
				return nil, fmt.Errorf("bad port in %q: %w", h, err)
			}
			host, port = hh, p
		}
		res = append(res, Resource{Interface: InterfaceTCPIP, Address: host, Port: port, Class: ClassSocket}.String())
	}
	return res, nil
}

func (b *TCPBackend) Open(ctx context.Context, r Resource, timeout time.Duration) (Session, error) {
	addr := net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	term := b.Terminator
	if term == 0 {
		term = '\n'
	}
	s := newMessageSession(r.String(), conn, term)
	s.timeout = timeout
	s.deadline = func(d time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(d))
	}
	return s, nil
}
