package visa

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Simulator is an in-process instrument used for demos and tests. It
// implements Session directly.
type Simulator struct {
	Name     string
	Identity string            // *IDN? response
	Replies  map[string]string // Fixed replies keyed by upper-case query
	// Measure is the measurement query. Measurements are served from the
	// list in order; once exhausted Generate is used if set, otherwise the
	// query fails with ErrTimeout like a silent instrument would.
	Measure      string
	Measurements []string
	Generate     func(s *Simulator, n int) string
	// OnMeasurement runs after the n-th (1 based) measurement is served.
	OnMeasurement func(n int)
	// RequestAfter is how many status polls after INIT report no request.
	RequestAfter int

	mu       sync.Mutex
	writes   []string
	settings map[string]string
	served   int
	polls    int
	started  bool
	closed   bool
	closes   int
}

func (s *Simulator) Resource() string {
	return Resource{Interface: InterfaceSIM, Address: s.Name, Class: ClassInstr}.String()
}

func (s *Simulator) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	cmd = strings.TrimSpace(cmd)
	s.writes = append(s.writes, cmd)
	norm := normalizeCommand(cmd)
	if norm == "INIT" || norm == "INIT:IMM" {
		s.started = true
		s.polls = 0
	}
	if header, value, ok := strings.Cut(norm, " "); ok {
		if s.settings == nil {
			s.settings = make(map[string]string)
		}
		s.settings[header] = value
	}
	return nil
}

func (s *Simulator) Query(cmd string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}

	norm := normalizeCommand(cmd)
	switch {
	case norm == "*IDN?":
		defer s.mu.Unlock()
		return s.Identity, nil
	case norm == "*STB?":
		defer s.mu.Unlock()
		return fmt.Sprintf("%d\n", s.statusByte()), nil
	case s.Measure != "" && norm == normalizeCommand(s.Measure):
		n := s.served + 1
		var resp string
		switch {
		case n <= len(s.Measurements):
			resp = s.Measurements[n-1]
		case s.Generate != nil:
			resp = s.Generate(s, n)
		default:
			s.mu.Unlock()
			return "", fmt.Errorf("reading response to %q from %s: %w", cmd, s.Resource(), ErrTimeout)
		}
		s.served = n
		hook := s.OnMeasurement
		s.mu.Unlock()
		if hook != nil {
			hook(n)
		}
		return resp, nil
	}

	defer s.mu.Unlock()
	if r, ok := s.Replies[norm]; ok {
		return r, nil
	}
	return "", fmt.Errorf("reading response to %q from %s: %w", cmd, s.Resource(), ErrTimeout)
}

func (s *Simulator) ReadSTB() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.statusByte(), nil
}

// statusByte reports RQS once the operation started by INIT has completed
// and service requests were enabled. Callers hold mu.
func (s *Simulator) statusByte() byte {
	if !s.started || !s.srqEnabled() {
		return 0
	}
	s.polls++
	if s.polls > s.RequestAfter {
		return StatusRQS
	}
	return 0
}

func (s *Simulator) srqEnabled() bool {
	v, ok := s.settings["*SRE"]
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	return err == nil && n != 0
}

func (s *Simulator) SetTimeout(time.Duration) error { return nil }

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

// Writes returns every command written so far.
func (s *Simulator) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// Setting returns the last value written with the given command header.
func (s *Simulator) Setting(header string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[strings.ToUpper(header)]
}

// Closes returns how many times Close was called.
func (s *Simulator) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// NewDemoSimulator returns a programmable power supply that follows its
// voltage setpoint with a little ripple.
func NewDemoSimulator(name string) *Simulator {
	return &Simulator{
		Name:     name,
		Identity: "BK PRECISION,9141,SIM0001,1.02\n",
		Replies: map[string]string{
			"VOLT:MIN?": "0.000\n",
			"VOLT:MAX?": "60.000\n",
			"CURR:MIN?": "0.000\n",
			"CURR:MAX?": "8.000\n",
		},
		Measure: "MEAS:ALL?",
		Generate: func(s *Simulator, n int) string {
			// Setting takes mu, which is held while generating.
			v, _ := strconv.ParseFloat(s.settings["VOLT"], 64)
			c, _ := strconv.ParseFloat(s.settings["CURR"], 64)
			ripple := 0.005 * math.Sin(float64(n)/5)
			return fmt.Sprintf("%.3f,%.3f\n", v+ripple, c)
		},
		RequestAfter: 2,
	}
}

// SimBackend serves SIM resources from a fixed set of simulators.
type SimBackend struct {
	Instruments []*Simulator
}

func (b *SimBackend) Interface() string { return InterfaceSIM }

func (b *SimBackend) List() ([]string, error) {
	res := make([]string, 0, len(b.Instruments))
	for _, s := range b.Instruments {
		res = append(res, s.Resource())
	}
	return res, nil
}

func (b *SimBackend) Open(_ context.Context, r Resource, _ time.Duration) (Session, error) {
	for _, s := range b.Instruments {
		if strings.EqualFold(s.Name, r.Address) {
			s.mu.Lock()
			s.closed = false
			s.mu.Unlock()
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownResource, r)
}
