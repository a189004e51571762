package dialog

import (
	"strings"
)

// Intent is the classified category of a caller utterance, as supplied by
// the external recognizer.
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentMenuInquiry     Intent = "menu inquiry"
	IntentPlaceOrder      Intent = "place order"
	IntentMakeReservation Intent = "make reservation"
	IntentFAQInquiry      Intent = "faq inquiry"
	IntentGoodbye         Intent = "goodbye"
	IntentError           Intent = "error"
	IntentUnhandled       Intent = "unhandled"
	// IntentAnswer marks an utterance that replies to the pending prompt.
	IntentAnswer Intent = "answer"
)

// Intents lists every intent the dispatcher must route.
var Intents = []Intent{
	IntentGreeting, IntentMenuInquiry, IntentPlaceOrder, IntentMakeReservation,
	IntentFAQInquiry, IntentGoodbye, IntentError, IntentUnhandled, IntentAnswer,
}

// ParseIntent normalizes a recognizer intent name. Underscores, dashes and
// case are ignored; unknown names map to IntentUnhandled.
func ParseIntent(name string) Intent {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("_", " ", "-", " ").Replace(n)
	for _, in := range Intents {
		if string(in) == n {
			return in
		}
	}
	return IntentUnhandled
}

// Slot names the recognizer may extract alongside an intent.
const (
	SlotItem                = "item"
	SlotCategory            = "category"
	SlotQuestion            = "question"
	SlotDate                = "date"
	SlotTime                = "time"
	SlotPartySize           = "party_size"
	SlotSpecialInstructions = "special_instructions"
	SlotSpecialRequests     = "special_requests"
)

// Turn is one inbound intent event.
type Turn struct {
	Intent Intent            `json:"intent"`
	Text   string            `json:"text"`
	Slots  map[string]string `json:"slots,omitempty"`
}

// slot returns a trimmed recognizer slot value.
func (t Turn) slot(name string) string {
	return strings.TrimSpace(t.Slots[name])
}

// FlowKind identifies a multi-turn transaction.
type FlowKind string

const (
	FlowNone        FlowKind = ""
	FlowOrder       FlowKind = "order"
	FlowReservation FlowKind = "reservation"
)

// FlowState is the position of a session within its flow.
type FlowState string

const (
	StateIdle            FlowState = "idle"
	StateStarted         FlowState = "started"
	StateCollectingItems FlowState = "collecting_items"
	StateDate            FlowState = "date"
	StateTime            FlowState = "time"
	StatePartySize       FlowState = "party_size"
	StateFinalizing      FlowState = "finalizing"
	StateCompleted       FlowState = "completed"
	StateAborted         FlowState = "aborted"
	StateFailed          FlowState = "failed"
	StateAbandoned       FlowState = "abandoned"
	StateError           FlowState = "error"
)

// Reply is what the caller hears in response to a turn: zero or more
// announcements followed by an optional question awaiting an answer.
type Reply struct {
	Say   []string  `json:"say,omitempty"`
	Ask   string    `json:"ask,omitempty"`
	Flow  FlowKind  `json:"flow,omitempty"`
	State FlowState `json:"state"`
	Ended bool      `json:"ended,omitempty"`
}

func (r *Reply) say(text string) {
	if text != "" {
		r.Say = append(r.Say, text)
	}
}

// Text flattens the reply into a single utterance for speech synthesis.
func (r Reply) Text() string {
	parts := append([]string(nil), r.Say...)
	if r.Ask != "" {
		parts = append(parts, r.Ask)
	}
	return strings.Join(parts, " ")
}
