package visa

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StatusRQS is the request service bit of the status byte.
const StatusRQS byte = 0x40

// EventType identifies a class of instrument events.
type EventType int

const (
	EventServiceRequest EventType = iota
)

func (t EventType) String() string {
	switch t {
	case EventServiceRequest:
		return "service_request"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a delivered instrument event.
type Event struct {
	Type       EventType
	Resource   string
	StatusByte byte
	At         time.Time
}

// Handler is invoked from the polling goroutine when an event is delivered.
type Handler func(Event)

// DefaultEventPoll is the status byte polling period.
const DefaultEventPoll = time.Second

// EventQueue delivers service request events of one session.
type EventQueue struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error // Polling failure, valid once done is closed
	once   sync.Once
}

// EnableEvent installs handler for typ and starts polling the status byte
// of s every poll interval. The first event is queued and handed to
// handler. Disable must be called to stop polling.
func EnableEvent(ctx context.Context, s Session, typ EventType, handler Handler, poll time.Duration) (*EventQueue, error) {
	if typ != EventServiceRequest {
		return nil, fmt.Errorf("%w: event %s", ErrUnsupported, typ)
	}
	if poll <= 0 {
		poll = DefaultEventPoll
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &EventQueue{
		events: make(chan Event, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.poll(ctx, s, typ, handler, poll)
	return q, nil
}

func (q *EventQueue) poll(ctx context.Context, s Session, typ EventType, handler Handler, every time.Duration) {
	defer close(q.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stb, err := s.ReadSTB()
		if err != nil {
			q.err = fmt.Errorf("polling status byte of %s: %w", s.Resource(), err)
			return
		}
		if stb&StatusRQS == 0 {
			continue
		}

		ev := Event{Type: typ, Resource: s.Resource(), StatusByte: stb, At: time.Now()}
		if handler != nil {
			handler(ev)
		}
		q.events <- ev
		return
	}
}

// Events returns the queue channel.
func (q *EventQueue) Events() <-chan Event { return q.events }

// Wait blocks until an event is delivered, polling fails, ctx is done or
// timeout elapses. A non-positive timeout waits without bound.
func (q *EventQueue) Wait(ctx context.Context, timeout time.Duration) (Event, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case ev := <-q.events:
		return ev, nil
	case <-q.done:
		// The event may have been queued just before done was closed.
		select {
		case ev := <-q.events:
			return ev, nil
		default:
		}
		if q.err != nil {
			return Event{}, q.err
		}
		return Event{}, context.Canceled
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-expired:
		return Event{}, fmt.Errorf("%w after %s", ErrEventTimeout, timeout)
	}
}

// Disable stops polling and waits for the polling goroutine to exit, after
// which the session is no longer touched by the queue.
func (q *EventQueue) Disable() {
	q.once.Do(func() {
		q.cancel()
		<-q.done
	})
}
