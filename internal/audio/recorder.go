package audio

import (
	"context"
)

// EventKind identifies a recorder lifecycle event
type EventKind string

const (
	EventStarted EventKind = "STARTED"
	EventStopped EventKind = "STOPPED"
	EventErrored EventKind = "ERRORED"
)

// Event is emitted by a Recorder as capture progresses
type Event struct {
	Kind EventKind
	Err  error // set for EventErrored
}

// Started returns a capture started acknowledgment
func Started() Event { return Event{Kind: EventStarted} }

// Stopped returns a capture stopped acknowledgment
func Stopped() Event { return Event{Kind: EventStopped} }

// Errored returns a runtime failure event
func Errored(err error) Event { return Event{Kind: EventErrored, Err: err} }

// EventSink receives recorder events. Deliver must not block for long;
// recorders call it from their own goroutines.
type EventSink interface {
	Deliver(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

// Deliver calls f(ev)
func (f EventSinkFunc) Deliver(ev Event) { f(ev) }

// Recorder defines the capture collaborator driven by the session controller
type Recorder interface {
	// SetEventSink registers where lifecycle events are delivered
	SetEventSink(sink EventSink)

	// StartRecording launches capture into destination and returns once it is running.
	// Completion is reported through the event sink.
	StartRecording(ctx context.Context, destination string) error

	// StopRecording requests capture to halt. EventStopped follows asynchronously.
	StopRecording() error
}
