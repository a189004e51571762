package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeCarriesPayload(t *testing.T) {
	data := &OrderCompletedData{
		OrderID: "ord-1",
		Phone:   "+15551234567",
		Items:   []string{"Cheeseburger", "Lemonade"},
		Total:   "16.24",
	}

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}

	env := Envelope{
		ID:        "test-id",
		Type:      OrderCompleted,
		Source:    "dialog",
		SessionID: "session-123",
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded.Type != OrderCompleted {
		t.Errorf("type = %q, want %q", decoded.Type, OrderCompleted)
	}

	var payload OrderCompletedData
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[1] != "Lemonade" {
		t.Errorf("items = %v", payload.Items)
	}
	if payload.Total != "16.24" {
		t.Errorf("total = %q, want %q", payload.Total, "16.24")
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []EventType{
		CallStarted, CallEnded,
		FlowStarted, FlowAbandoned, StateTransition,
		OrderCompleted, ReservationCompleted, PersistenceFailed,
		SystemError, NotifyTest,
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if et == "" {
			t.Error("empty event type constant")
		}
		if seen[et] {
			t.Errorf("duplicate event type: %q", et)
		}
		seen[et] = true
	}
}

func TestLocalSubscribersWithoutQueue(t *testing.T) {
	p := NewPublisher(nil, "dialog", "events")
	ch := p.Subscribe("test", 4)

	if err := p.Emit(t.Context(), FlowStarted, "s1", &FlowData{Flow: "order", State: "started"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case env := <-ch:
		if env.Type != FlowStarted || env.SessionID != "s1" || env.Source != "dialog" {
			t.Errorf("envelope = %+v", env)
		}
		if env.ID == "" {
			t.Error("envelope id is empty")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	p.Unsubscribe("test")
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestNilPublisherDiscards(t *testing.T) {
	var p *Publisher
	if err := p.Emit(t.Context(), SystemError, "s1", &ErrorData{Error: "x"}); err != nil {
		t.Errorf("Emit on nil publisher = %v", err)
	}
}

func TestKnown(t *testing.T) {
	if !Known(OrderCompleted) {
		t.Error("order.completed should be known")
	}
	if Known("webhook.test") {
		t.Error("webhook.test should not be known")
	}
}
