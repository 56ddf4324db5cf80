package contracts

import (
	"time"

	"github.com/google/uuid"
)

// InvocationEventType is the type of events describing finished invocations
const InvocationEventType = "weave.invocation.completed"

// Outcome values of an InvocationEvent
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// InvocationEvent describes a finished invocation for audit consumers
type InvocationEvent struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Type            string    `json:"type"`
	CorrelationID   string    `json:"correlationId,omitempty"`
	Path            string    `json:"path"`
	ArgTypes        []string  `json:"argTypes,omitempty"`
	Annotations     []string  `json:"annotations,omitempty"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// NewInvocationEvent creates an event for site with a generated ID and the current timestamp.
// correlationID is the invocation the event reports on.
func NewInvocationEvent(site *CallSite, correlationID string, duration time.Duration, err error) InvocationEvent {
	event := InvocationEvent{
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		Type:            InvocationEventType,
		CorrelationID:   correlationID,
		Path:            site.Path(),
		ArgTypes:        site.ArgTypes(),
		Annotations:     append([]string(nil), site.Annotations...),
		Outcome:         OutcomeSucceeded,
		DurationSeconds: duration.Seconds(),
	}
	if err != nil {
		event.Outcome = OutcomeFailed
		event.Error = err.Error()
	}
	return event
}

// Succeeded reports whether the invocation succeeded
func (e InvocationEvent) Succeeded() bool {
	return e.Outcome == OutcomeSucceeded
}
