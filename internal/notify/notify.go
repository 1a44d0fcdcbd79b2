// Package notify carries operator-facing events away from the commit path.
// Announce never blocks: events go into a bounded queue and a single
// dispatcher goroutine fans them out to the registered sinks.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind int

const (
	Solved Kind = iota + 1
	HiddenSolved
	Question
)

func (k Kind) String() string {
	switch k {
	case Solved:
		return "solved"
	case HiddenSolved:
		return "hidden_solved"
	case Question:
		return "question"
	default:
		return "unknown"
	}
}

// Event is what the operators get to see. TaskID and TaskName are empty for
// a Question without a topic; Points is only set for solves.
type Event struct {
	Kind     Kind
	UserID   int64
	UserName string
	TaskID   string
	TaskName string
	Points   int
	Text     string
	At       time.Time
}

type Announcer interface {
	Announce(e Event)
}

// Sink delivers an event somewhere: a chat, a spreadsheet, a log.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
type Discard struct{}

func (Discard) Announce(Event) {}

const DefaultQueueSize = 256

type Dispatcher struct {
	queue chan Event
	log   *slog.Logger

	mu    sync.RWMutex
	sinks []namedSink
}

type namedSink struct {
	name string
	sink Sink
}

func NewDispatcher(size int, log *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{queue: make(chan Event, size), log: log}
}

func (d *Dispatcher) AddSink(name string, s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
	d.mu.Unlock()
}

// Announce enqueues e. When the queue is full the event is dropped and
// logged; the caller is never held up.
func (d *Dispatcher) Announce(e Event) {
	select {
	case d.queue <- e:
	default:
		d.log.Warn("notify: queue full, event dropped",
			"kind", e.Kind.String(), "user", e.UserID, "task", e.TaskID)
	}
}

// Run delivers queued events until ctx is done. Events still queued at that
// point are lost.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			d.deliver(ctx, e)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	d.mu.RLock()
	sinks := append([]namedSink(nil), d.sinks...)
	d.mu.RUnlock()
	for _, s := range sinks {
		if err := s.sink.Deliver(ctx, e); err != nil {
			d.log.Error("notify: delivery failed", "sink", s.name, "kind", e.Kind.String(), "err", err)
		}
	}
}
