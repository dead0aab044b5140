// Package runner drives one acquisition run from device selection to the
// finished workbook.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/skgsergio/visalog/lib/acquire"
	"github.com/skgsergio/visalog/lib/config"
	"github.com/skgsergio/visalog/lib/live"
	"github.com/skgsergio/visalog/lib/prompt"
	"github.com/skgsergio/visalog/lib/scpi"
	"github.com/skgsergio/visalog/lib/sheet"
	"github.com/skgsergio/visalog/lib/visa"
	"go.uber.org/multierr"
)

// State is a phase of a run. Runs only move forward.
type State int

const (
	SelectingDevice State = iota
	SessionOpen
	EventArmed
	AwaitingEvent
	ParametersSet
	Logging
	Closed
)

func (s State) String() string {
	switch s {
	case SelectingDevice:
		return "SELECTING_DEVICE"
	case SessionOpen:
		return "SESSION_OPEN"
	case EventArmed:
		return "EVENT_ARMED"
	case AwaitingEvent:
		return "AWAITING_EVENT"
	case ParametersSet:
		return "PARAMETERS_SET"
	case Logging:
		return "LOGGING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Runner holds everything a run needs. Config, Manager, In and Out are
// required.
type Runner struct {
	Config  *config.Config
	Manager *visa.ResourceManager
	In      io.Reader
	Out     io.Writer

	Log   *log.Logger // Diagnostics, discarded when nil
	Trace *log.Logger // Logs every instrument exchange when set
	Hub   *live.Hub   // Receives samples when set
	Now   func() time.Time
	// Create opens the output workbook, sheet.Create when nil.
	Create func(path string, opts ...sheet.Option) (Output, error)

	state State
}

// Output is the workbook a run logs to.
type Output interface {
	acquire.Sink
	WriteHeader(identity string, started time.Time) error
}

func createWorkbook(path string, opts ...sheet.Option) (Output, error) {
	wb, err := sheet.Create(path, opts...)
	if err != nil {
		return nil, err
	}
	return wb, nil
}

// Result summarizes a finished run.
type Result struct {
	Resource string
	Identity scpi.Identity
	File     string
	Summary  acquire.Summary
}

// State returns the phase the run reached.
func (r *Runner) State() State { return r.state }

func (r *Runner) enter(s State) {
	r.logf("state %s -> %s", r.state, s)
	r.state = s
}

func (r *Runner) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

// Run performs one acquisition. Cancelling ctx while logging ends the run
// normally; cancelling it earlier aborts with ctx.Err(). The session and
// the workbook are closed on every path.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Create == nil {
		r.Create = createWorkbook
	}
	cfg := r.Config
	p := prompt.New(r.In, r.Out)
	r.state = SelectingDevice

	addrs, listErr := r.Manager.ListResources()
	if listErr != nil {
		// Other backends may still have found something.
		r.logf("resource discovery: %v", listErr)
	}
	idx, err := p.SelectDevice(ctx, addrs)
	if err != nil {
		if errors.Is(err, visa.ErrNoResources) && listErr != nil {
			err = multierr.Append(err, listErr)
		}
		return res, err
	}
	res.Resource = addrs[idx]

	sess, err := r.Manager.Open(ctx, res.Resource, cfg.Session.Timeout)
	if err != nil {
		return res, err
	}
	if r.Trace != nil {
		sess = visa.Trace(sess, r.Trace)
	}
	defer func() {
		err = multierr.Append(err, sess.Close())
		r.enter(Closed)
	}()
	r.enter(SessionOpen)

	raw, err := sess.Query(cfg.Commands.Identify)
	if err != nil {
		return res, fmt.Errorf("querying identity: %w", err)
	}
	fmt.Fprintln(r.Out, raw)
	res.Identity, err = scpi.ParseIdentity(raw)
	if err != nil {
		return res, err
	}

	if !cfg.Events.Skip {
		if err := r.awaitCompletion(ctx, sess); err != nil {
			return res, err
		}
	}

	if _, err := p.EnterParameters(ctx, sess, cfg.Commands.Settings, prompt.ParamOptions{
		Validate: cfg.ValidateSetpoints,
		Settle:   cfg.Timing.Settle,
	}); err != nil {
		return res, err
	}
	r.enter(ParametersSet)

	started := r.Now()
	res.File = filepath.Join(cfg.Output.Dir, sheet.FileName(res.Identity.Model(), started))
	wb, err := r.Create(res.File, sheet.WithAutosave(cfg.Output.Autosave))
	if err != nil {
		return res, err
	}
	sinks := acquire.MultiSink{wb}
	if r.Hub != nil {
		r.Hub.SetInfo(live.Info{
			Resource: res.Resource,
			Identity: res.Identity.String(),
			File:     res.File,
			Started:  started,
		})
		sinks = append(sinks, r.Hub)
	}
	defer func() {
		err = multierr.Append(err, sinks.Close())
	}()

	if err := wb.WriteHeader(res.Identity.Raw, started); err != nil {
		return res, err
	}
	r.enter(Logging)
	fmt.Fprintf(r.Out, "Logging to %s (press Ctrl+C to stop)...\n", res.File)

	res.Summary, err = acquire.Run(ctx, sess, sinks, acquire.Config{
		Command:    cfg.Commands.Measure,
		Interval:   cfg.Timing.Interval,
		MaxSamples: cfg.MaxSamples,
		Now:        r.Now,
		OnSample: func(s acquire.Sample) {
			fmt.Fprintf(r.Out, "%.3f\n", s.Value)
		},
		OnError: func(err error) {
			fmt.Fprintf(r.Out, "Error: %v\n", err)
			if r.Hub != nil {
				r.Hub.ReportError(err)
			}
		},
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// awaitCompletion arms the service request event, sends the arm commands
// and blocks until the instrument requests service.
func (r *Runner) awaitCompletion(ctx context.Context, sess visa.Session) error {
	cfg := r.Config

	q, err := visa.EnableEvent(ctx, sess, visa.EventServiceRequest, func(ev visa.Event) {
		fmt.Fprintf(r.Out, "Handled event %s on %s\n", ev.Type, ev.Resource)
	}, cfg.Events.Poll)
	if err != nil {
		return err
	}
	defer q.Disable()
	r.enter(EventArmed)

	for _, cmd := range cfg.Commands.Arm {
		if err := sess.Write(cmd); err != nil {
			return fmt.Errorf("arming event: %w", err)
		}
	}

	r.enter(AwaitingEvent)
	ev, err := q.Wait(ctx, cfg.Events.Timeout)
	if err != nil {
		return err
	}
	r.logf("service request from %s, status byte 0x%02X", ev.Resource, ev.StatusByte)
	return nil
}
