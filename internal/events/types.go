// Package events defines the in-process event bus that decouples the
// console from its observers (history store, telemetry, logging).
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventAuthenticated   EventType = "authenticated"
	EventAuthFailed      EventType = "auth_failed"
	EventCommandExecuted EventType = "command_executed"
	EventCommandFailed   EventType = "command_failed"
	EventShutdown        EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// CommandPayload accompanies EventCommandExecuted and EventCommandFailed.
type CommandPayload struct {
	// ID is the request id the session assigned to the command.
	ID       int32         `json:"id"`
	Source   string        `json:"source"`
	Command  string        `json:"command"`
	Response string        `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// SessionPayload accompanies connection and authentication events.
type SessionPayload struct {
	Addr  string `json:"addr"`
	Error string `json:"error,omitempty"`
}
