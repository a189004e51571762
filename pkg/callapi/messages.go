// Package callapi defines the tablecall.call.v1.CallService Connect RPC
// service. Messages are plain structs carried by a JSON codec.
package callapi

import "time"

// StartCallRequest opens a conversation for an inbound call.
type StartCallRequest struct {
	// CallID is optional; the server assigns one when empty.
	CallID    string            `json:"call_id,omitempty"`
	Phone     string            `json:"phone"`
	Channel   string            `json:"channel,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type StartCallResponse struct {
	CallID string `json:"call_id"`
	Reply  Reply  `json:"reply"`
}

// SendTurnRequest carries one recognized utterance.
type SendTurnRequest struct {
	CallID string            `json:"call_id"`
	Intent string            `json:"intent"`
	Text   string            `json:"text,omitempty"`
	Slots  map[string]string `json:"slots,omitempty"`
}

type SendTurnResponse struct {
	Reply Reply `json:"reply"`
}

type EndCallRequest struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

type EndCallResponse struct {
	Status string `json:"status"`
	Turns  int    `json:"turns"`
}

type GetCallRequest struct {
	CallID string `json:"call_id"`
}

type GetCallResponse struct {
	Call Call `json:"call"`
}

// Reply is what the caller hears after a turn.
type Reply struct {
	Say   []string `json:"say,omitempty"`
	Ask   string   `json:"ask,omitempty"`
	Text  string   `json:"text"`
	Flow  string   `json:"flow,omitempty"`
	State string   `json:"state"`
	Ended bool     `json:"ended,omitempty"`
}

// Call is a snapshot of an active conversation.
type Call struct {
	CallID      string            `json:"call_id"`
	Phone       string            `json:"phone"`
	Flow        string            `json:"flow,omitempty"`
	State       string            `json:"state"`
	Pending     string            `json:"pending,omitempty"`
	Slots       map[string]string `json:"slots,omitempty"`
	Order       *Order            `json:"order,omitempty"`
	Reservation *Reservation      `json:"reservation,omitempty"`
	Turns       int               `json:"turns"`
	LastIntent  string            `json:"last_intent,omitempty"`
	Ended       bool              `json:"ended"`
	History     []StateRecord     `json:"history,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
}

type Order struct {
	Items               []string `json:"items"`
	Total               string   `json:"total"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

type Reservation struct {
	Date            string `json:"date,omitempty"`
	Time            string `json:"time,omitempty"`
	PartySize       int    `json:"party_size,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

type StateRecord struct {
	Flow      string    `json:"flow"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}
