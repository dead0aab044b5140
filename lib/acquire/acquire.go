// Package acquire runs the measurement polling loop.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// TimestampLayout formats the capture time of a sample.
const TimestampLayout = "15:04:05"

// DefaultInterval is the pause between two measurements.
const DefaultInterval = 50 * time.Millisecond

// Sample is one logged measurement.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Timestamp returns the capture time as HH:MM:SS.
func (s Sample) Timestamp() string {
	return s.Time.Format(TimestampLayout)
}

// Sink receives samples as they are acquired.
type Sink interface {
	WriteSample(Sample) error
	Close() error
}

// Querier is the part of an instrument session the loop uses.
type Querier interface {
	Query(cmd string) (string, error)
}

// ParseError reports a measurement response without a numeric first field.
type ParseError struct {
	Response string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed measurement %q: %v", e.Response, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errEmptyResponse = errors.New("empty response")

// ParseMeasurement returns the first comma separated field of resp as a
// number.
func ParseMeasurement(resp string) (float64, error) {
	line := strings.TrimRight(resp, "\r\n")
	first, _, _ := strings.Cut(line, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return 0, &ParseError{Response: resp, Err: errEmptyResponse}
	}
	v, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return 0, &ParseError{Response: resp, Err: err}
	}
	return v, nil
}

// Config controls the loop.
type Config struct {
	Command    string        // Measurement query, e.g. MEAS:ALL?
	Interval   time.Duration // Pause between measurements
	MaxSamples int           // Stop after this many samples, 0 runs until cancelled
	Now        func() time.Time
	OnSample   func(Sample) // Called after a sample was written
	OnError    func(error)  // Called for every malformed response
}

// Summary describes a finished acquisition.
type Summary struct {
	Samples int
	Errors  int
	Started time.Time
	Stopped time.Time
}

// Run polls q until ctx is cancelled and hands every sample to sink.
// Cancellation is the normal way to stop and is not reported as an error.
// Transport and sink errors end the loop. Run does not close sink.
func Run(ctx context.Context, q Querier, sink Sink, cfg Config) (Summary, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	sum := Summary{Started: cfg.Now()}

	for ctx.Err() == nil {
		now := cfg.Now()

		resp, err := q.Query(cfg.Command)
		if err != nil {
			sum.Stopped = cfg.Now()
			return sum, fmt.Errorf("querying %q: %w", cfg.Command, err)
		}

		value, err := ParseMeasurement(resp)
		if err != nil {
			sum.Errors++
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
		} else {
			s := Sample{Time: now, Value: value}
			if err := sink.WriteSample(s); err != nil {
				sum.Stopped = cfg.Now()
				return sum, fmt.Errorf("writing sample: %w", err)
			}
			sum.Samples++
			if cfg.OnSample != nil {
				cfg.OnSample(s)
			}
			if cfg.MaxSamples > 0 && sum.Samples >= cfg.MaxSamples {
				break
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(cfg.Interval):
		}
	}

	sum.Stopped = cfg.Now()
	return sum, nil
}

// MultiSink fans samples out to several sinks.
type MultiSink []Sink

func (m MultiSink) WriteSample(s Sample) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.WriteSample(s))
	}
	return err
}

func (m MultiSink) Close() error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Close())
	}
	return err
}
