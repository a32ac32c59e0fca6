package generation

import (
	"time"

	"github.com/richinsley/comfypanel/history"
)

type EventType string

// our cast of characters:
// started
// queued
// polling
// succeeded
// failed
// timed_out
const (
	EventStarted   EventType = "started"
	EventQueued    EventType = "queued"
	EventPolling   EventType = "polling"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
	EventTimedOut  EventType = "timed_out"
)

// Event is one step of a submission. Exactly one terminal event (succeeded, failed or
// timed_out) is sent per run, after which the channel is closed.
type Event struct {
	Type    EventType
	Message interface{}
}

// IsTerminal reports whether no further events follow e
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventSucceeded, EventFailed, EventTimedOut:
		return true
	}
	return false
}

type EventStartedData struct {
	ClientID string
	// Seed is the value actually submitted, after the random sentinel was resolved
	Seed      interface{}
	StartedAt time.Time
}

func (e *Event) ToStarted() *EventStartedData {
	return e.Message.(*EventStartedData)
}

type EventQueuedData struct {
	PromptID string
	Number   int
}

func (e *Event) ToQueued() *EventQueuedData {
	return e.Message.(*EventQueuedData)
}

type EventPollingData struct {
	PromptID    string
	Attempt     int
	MaxAttempts int
}

func (e *Event) ToPolling() *EventPollingData {
	return e.Message.(*EventPollingData)
}

type EventSucceededData struct {
	PromptID string
	// Images in the order the backend listed them
	Images   []history.RecentImage
	Primary  history.RecentImage
	Duration time.Duration
}

func (e *Event) ToSucceeded() *EventSucceededData {
	return e.Message.(*EventSucceededData)
}

type EventFailedData struct {
	PromptID string
	Err      error
	Duration time.Duration
}

// Reason is the message shown to the user
func (d *EventFailedData) Reason() string {
	if d.Err == nil {
		return "generation failed"
	}
	return d.Err.Error()
}

func (e *Event) ToFailed() *EventFailedData {
	return e.Message.(*EventFailedData)
}

type EventTimedOutData struct {
	PromptID string
	Attempts int
	Duration time.Duration
}

func (e *Event) ToTimedOut() *EventTimedOutData {
	return e.Message.(*EventTimedOutData)
}
