package debug

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind identifies a session event.
type EventKind int

const (
	// EventStateChanged is published on every state transition.
	EventStateChanged EventKind = iota
	// EventStopped is published when the debuggee stops.
	EventStopped
	// EventContinued is published when the debuggee resumes.
	EventContinued
	// EventOutput carries debuggee or adapter output.
	EventOutput
	// EventBreakpointChanged is published when a breakpoint moved or was
	// changed by the adapter.
	EventBreakpointChanged
	// EventThreadChanged is published when a thread starts or exits.
	EventThreadChanged
	// EventVariablesUpdated is published after variables are resolved.
	EventVariablesUpdated
	// EventExited carries the debuggee exit code.
	EventExited
	// EventEnded is published once when a session run ends.
	EventEnded
)

var eventTopics = [...]string{
	EventStateChanged:      "debug.session.state",
	EventStopped:           "debug.session.stopped",
	EventContinued:         "debug.session.continued",
	EventOutput:            "debug.output",
	EventBreakpointChanged: "debug.breakpoint.changed",
	EventThreadChanged:     "debug.thread.changed",
	EventVariablesUpdated:  "debug.variables.updated",
	EventExited:            "debug.debuggee.exited",
	EventEnded:             "debug.session.ended",
}

// Topic returns a dotted topic name for the kind.
func (k EventKind) Topic() string {
	if k < 0 || int(k) >= len(eventTopics) {
		return "debug.unknown"
	}
	return eventTopics[k]
}

func (k EventKind) String() string {
	return k.Topic()
}

// Event is a notification from a session. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind      EventKind
	SessionID string
	Time      time.Time

	// State and Previous are set for EventStateChanged.
	State    State
	Previous State

	// Reason is the stop reason, thread event reason or breakpoint event
	// reason.
	Reason   string
	ThreadID int
	// AllThreads is set when the adapter stopped or resumed every thread.
	AllThreads     bool
	HitBreakpoints []int
	Description    string

	// Category and Output are set for EventOutput.
	Category string
	Output   string

	Breakpoint *Breakpoint
	Variables  []Variable
	ExitCode   int

	// Err is the cause of an unexpected EventEnded.
	Err error
}

// Subscription receives session events. Delivery never blocks the
// publisher; events that do not fit the buffer are dropped and counted.
type Subscription struct {
	ch      chan Event
	b       *broadcaster
	dropped atomic.Int64
	once    sync.Once
}

// Events returns the event channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events did not fit the buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops delivery and closes the event channel.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s) })
}

// DefaultEventBuffer is the subscription buffer used when none is given.
const DefaultEventBuffer = 64

type broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{logger: logger, subs: make(map[*Subscription]struct{})}
}

func (b *broadcaster) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	s := &Subscription{ch: make(chan Event, buffer), b: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// publish delivers e to every subscriber without blocking.
func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			n := s.dropped.Add(1)
			b.logger.Warn("dropping debug event for slow subscriber",
				"event", e.Kind.Topic(), "session_id", e.SessionID, "dropped", n)
		}
	}
}
