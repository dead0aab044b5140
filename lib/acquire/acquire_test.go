package acquire

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"
)

type scriptedQuerier struct {
	responses []string
	cmds      []string
	onQuery   func(n int)
}

func (q *scriptedQuerier) Query(cmd string) (string, error) {
	q.cmds = append(q.cmds, cmd)
	n := len(q.cmds)
	if n > len(q.responses) {
		return "", errors.New("no more responses")
	}
	if q.onQuery != nil {
		q.onQuery(n)
	}
	return q.responses[n-1], nil
}

type memSink struct {
	samples []Sample
	err     error
}

func (s *memSink) WriteSample(smp Sample) error {
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, smp)
	return nil
}

func (s *memSink) Close() error { return nil }

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(time.Second)
		return t
	}
}

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"3.300,1.250\n", 3.3},
		{"+1.23456E+00\r\n", 1.23456},
		{" 12 , 4", 12},
		{"-0.001", -0.001},
	}
	for _, tt := range tests {
		got, err := ParseMeasurement(tt.in)
		if err != nil {
			t.Errorf("ParseMeasurement(%q): %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ParseMeasurement(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "\n", ",1.0", "OVERLOAD,1"} {
		_, err := ParseMeasurement(bad)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("ParseMeasurement(%q) error = %v, want *ParseError", bad, err)
			continue
		}
		if perr.Response != bad {
			t.Errorf("ParseError.Response = %q, want %q", perr.Response, bad)
		}
	}
}

func TestRunUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &scriptedQuerier{
		responses: []string{"3.300,1.250\n", "3.301,1.250\n", "3.302,1.250\n"},
		onQuery: func(n int) {
			if n == 3 {
				cancel()
			}
		},
	}
	sink := &memSink{}
	start := time.Date(2024, 3, 1, 14, 3, 22, 0, time.Local)

	sum, err := Run(ctx, q, sink, Config{Command: "MEAS:ALL?", Interval: time.Millisecond, Now: fixedClock(start)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Samples != 3 || sum.Errors != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sink.samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(sink.samples))
	}
	for i, s := range sink.samples {
		want := 3.3 + float64(i)*0.001
		if math.Abs(s.Value-want) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, s.Value, want)
		}
	}
	if ts := sink.samples[0].Timestamp(); ts != "14:03:23" {
		t.Errorf("first timestamp = %q, want 14:03:23", ts)
	}
	for _, cmd := range q.cmds {
		if cmd != "MEAS:ALL?" {
			t.Errorf("unexpected command %q", cmd)
		}
	}
}

func TestRunReportsMalformed(t *testing.T) {
	q := &scriptedQuerier{responses: []string{"1.0\n", "\n", "2.0\n", "garbage\n", "3.0\n"}}
	sink := &memSink{}

	var reported []error
	sum, err := Run(context.Background(), q, sink, Config{
		Command:    "READ?",
		Interval:   time.Millisecond,
		MaxSamples: 3,
		OnError:    func(err error) { reported = append(reported, err) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Samples != 3 || sum.Errors != 2 || len(reported) != 2 {
		t.Fatalf("summary = %+v, reported %d", sum, len(reported))
	}
	for i, s := range sink.samples {
		if s.Value != float64(i+1) {
			t.Errorf("sample %d = %v, want %d", i, s.Value, i+1)
		}
	}
}

func TestRunTransportError(t *testing.T) {
	q := &scriptedQuerier{responses: []string{"1.0"}}
	sink := &memSink{}

	sum, err := Run(context.Background(), q, sink, Config{Command: "READ?", Interval: time.Millisecond})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if sum.Samples != 1 {
		t.Errorf("samples = %d, want 1", sum.Samples)
	}
}

func TestRunSinkError(t *testing.T) {
	q := &scriptedQuerier{responses: []string{"1.0"}}
	boom := errors.New("disk full")

	_, err := Run(context.Background(), q, &memSink{err: boom}, Config{Command: "READ?"})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	m := MultiSink{a, b}
	for i := 0; i < 3; i++ {
		if err := m.WriteSample(Sample{Value: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.samples) != 3 || len(b.samples) != 3 {
		t.Errorf("fan out failed: %d %d", len(a.samples), len(b.samples))
	}

	boom := errors.New("boom")
	m = MultiSink{&memSink{err: boom}, b}
	if err := m.WriteSample(Sample{}); !errors.Is(err, boom) {
		t.Errorf("WriteSample() error = %v", err)
	}
	if len(b.samples) != 4 {
		t.Error("healthy sink skipped after failure")
	}
}

func TestSampleTimestamp(t *testing.T) {
	for h := 0; h < 24; h += 7 {
		s := Sample{Time: time.Date(2024, 1, 1, h, 5, 9, 0, time.UTC)}
		want := strconv.Itoa(h/10) + strconv.Itoa(h%10) + ":05:09"
		if got := s.Timestamp(); got != want {
			t.Errorf("Timestamp() = %q, want %q", got, want)
		}
	}
}
