package events

import (
	"encoding/json"
	"slices"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	CallStarted          EventType = "call.started"
	CallEnded            EventType = "call.ended"
	FlowStarted          EventType = "flow.started"
	FlowAbandoned        EventType = "flow.abandoned"
	StateTransition      EventType = "state.transition"
	OrderCompleted       EventType = "order.completed"
	ReservationCompleted EventType = "reservation.completed"
	PersistenceFailed    EventType = "persistence.failed"
	SystemError          EventType = "error"
	NotifyTest           EventType = "notify.test"
)

// All lists every event type the system emits.
var All = []EventType{
	CallStarted, CallEnded, FlowStarted, FlowAbandoned, StateTransition,
	OrderCompleted, ReservationCompleted, PersistenceFailed, SystemError, NotifyTest,
}

// Known reports whether et is an event type the system emits.
func Known(et EventType) bool {
	return slices.Contains(All, et)
}

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CallStartedData is the payload for call.started events.
type CallStartedData struct {
	Phone   string `json:"phone"`
	Channel string `json:"channel"`
}

// CallEndedData is the payload for call.ended events.
type CallEndedData struct {
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
	Turns      int    `json:"turns"`
	LastIntent string `json:"last_intent,omitempty"`
}

// FlowData is the payload for flow.started and flow.abandoned events.
type FlowData struct {
	Flow   string `json:"flow"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// StateTransitionData is the payload for state.transition events.
type StateTransitionData struct {
	Flow      string `json:"flow"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Intent    string `json:"intent"`
}

// OrderCompletedData is the payload for order.completed events.
type OrderCompletedData struct {
	OrderID             string   `json:"order_id"`
	Phone               string   `json:"phone"`
	Items               []string `json:"items"`
	Total               string   `json:"total"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

// ReservationCompletedData is the payload for reservation.completed events.
type ReservationCompletedData struct {
	ReservationID   string `json:"reservation_id"`
	Phone           string `json:"phone"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	PartySize       int    `json:"party_size"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

// PersistenceFailedData is the payload for persistence.failed events.
type PersistenceFailedData struct {
	Flow  string `json:"flow"`
	Error string `json:"error"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

// NotifyTestData is the payload for notify.test events.
type NotifyTestData struct {
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
}
