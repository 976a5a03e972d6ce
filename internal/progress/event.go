// Package progress defines the events a run streams to its caller.
package progress

import "time"

// Status of the step an event reports on
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Level tells the consumer how prominently to show an event
type Level string

const (
	LevelSystem       Level = "system"
	LevelWorkflow     Level = "workflow"
	LevelNotification Level = "notification"
)

// Event is one progress message of a run
type Event struct {
	RunID  string    `json:"run_id,omitempty"`
	Name   string    `json:"name"`
	Text   string    `json:"text"`
	Status Status    `json:"status"`
	Level  Level     `json:"level"`
	Time   time.Time `json:"time"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// ChannelSink forwards events to a channel until its context is done
type ChannelSink struct {
	ch   chan<- Event
	done <-chan struct{}
}

// NewChannelSink creates a sink writing to ch. Sends give up once done is closed.
func NewChannelSink(ch chan<- Event, done <-chan struct{}) *ChannelSink {
	return &ChannelSink{ch: ch, done: done}
}

// Emit blocks until the event is delivered or done is closed
func (s *ChannelSink) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }
