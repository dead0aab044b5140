// Package prompt implements the interactive device selection and setpoint
// entry.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/skgsergio/visalog/lib/visa"
)

// ErrNoInput is returned when the input ends before a valid answer.
var ErrNoInput = errors.New("no more input")

// Prompter reads answers line by line from in and writes prompts to out.
type Prompter struct {
	in      *bufio.Reader
	out     io.Writer
	pending chan line
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

type line struct {
	text string
	err  error
}

// readLine returns the next line without its terminator. It gives up when
// ctx is done; the read stays pending and is picked up by the next call.
func (p *Prompter) readLine(ctx context.Context) (string, error) {
	if p.pending == nil {
		ch := make(chan line, 1)
		go func() {
			s, err := p.in.ReadString('\n')
			ch <- line{s, err}
		}()
		p.pending = ch
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-p.pending:
		p.pending = nil
		if l.err != nil {
			if errors.Is(l.err, io.EOF) && l.text != "" {
				return strings.TrimRight(l.text, "\r\n"), nil
			}
			if errors.Is(l.err, io.EOF) {
				return "", ErrNoInput
			}
			return "", l.err
		}
		return strings.TrimRight(l.text, "\r\n"), nil
	}
}

// SelectDevice lists addrs and asks for an index until a valid one is
// given.
func (p *Prompter) SelectDevice(ctx context.Context, addrs []string) (int, error) {
	if len(addrs) == 0 {
		return 0, visa.ErrNoResources
	}

	for {
		for i, addr := range addrs {
			fmt.Fprintf(p.out, "%d-%s\n", i, addr)
		}
		fmt.Fprint(p.out, "Select DUT:")

		answer, err := p.readLine(ctx)
		if err != nil {
			return 0, err
		}
		choice, err := strconv.Atoi(strings.TrimSpace(answer))
		if err != nil || choice < 0 || choice >= len(addrs) {
			fmt.Fprint(p.out, "Invalid Input\n\n")
			continue
		}
		return choice, nil
	}
}

// Setting describes one instrument setpoint and the commands around it.
type Setting struct {
	Name string `mapstructure:"name"` // Shown to the user, e.g. "voltage"
	Min  string `mapstructure:"min"`  // Query for the lower bound
	Max  string `mapstructure:"max"`  // Query for the upper bound
	Set  string `mapstructure:"set"`  // Command prefix, the value is appended
}

// Setpoint is a value written to the instrument.
type Setpoint struct {
	Setting Setting
	Value   string
	Command string
}

// ParamOptions tunes EnterParameters.
type ParamOptions struct {
	// Validate rejects entries that are not numbers within the reported
	// bounds. Without it the text is written as typed.
	Validate bool
	// Settle is slept after every write.
	Settle time.Duration
}

// EnterParameters asks for every setting in turn and writes the answers to
// s. Settings without a set command are skipped, as are settings whose
// bound queries the instrument does not support.
func (p *Prompter) EnterParameters(ctx context.Context, s visa.Session, settings []Setting, opts ParamOptions) ([]Setpoint, error) {
	var out []Setpoint
	for _, st := range settings {
		if strings.TrimSpace(st.Set) == "" {
			continue
		}

		lo, hi, err := bounds(s, st)
		if errors.Is(err, visa.ErrUnsupported) {
			fmt.Fprintf(p.out, "Skipping %s: %v\n", st.Name, err)
			continue
		}
		if err != nil {
			return out, err
		}

		var value string
		for {
			fmt.Fprintf(p.out, "Please enter a %s between %s and %s\n", st.Name, lo, hi)
			value, err = p.readLine(ctx)
			if err != nil {
				return out, err
			}
			value = strings.TrimSpace(value)
			if !opts.Validate || inRange(value, lo, hi) {
				break
			}
			fmt.Fprint(p.out, "Invalid Input\n\n")
		}

		cmd := strings.TrimSpace(st.Set) + " " + value
		if err := s.Write(cmd); err != nil {
			return out, fmt.Errorf("setting %s: %w", st.Name, err)
		}
		out = append(out, Setpoint{Setting: st, Value: value, Command: cmd})

		if opts.Settle > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(opts.Settle):
			}
		}
	}
	return out, nil
}

func bounds(s visa.Session, st Setting) (lo, hi string, err error) {
	if st.Min != "" {
		r, err := s.Query(st.Min)
		if err != nil {
			return "", "", fmt.Errorf("querying %s minimum: %w", st.Name, err)
		}
		lo = strings.TrimSpace(r)
	}
	if st.Max != "" {
		r, err := s.Query(st.Max)
		if err != nil {
			return "", "", fmt.Errorf("querying %s maximum: %w", st.Name, err)
		}
		hi = strings.TrimSpace(r)
	}
	return lo, hi, nil
}

// inRange reports whether value is a number within [lo, hi]. Bounds that
// are missing or not numeric do not constrain the value.
func inRange(value, lo, hi string) bool {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	if l, err := strconv.ParseFloat(lo, 64); err == nil && v < l {
		return false
	}
	if h, err := strconv.ParseFloat(hi, 64); err == nil && v > h {
		return false
	}
	return true
}
