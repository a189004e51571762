package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"connectrpc.com/connect"

	"github.com/tablecall/tablecall/pkg/callapi"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line   string
		intent string
		text   string
		slots  map[string]string
	}{
		{"place order: a burger please @item=cheeseburger", "place order", "a burger please", map[string]string{"item": "cheeseburger"}},
		{"menu_inquiry: what drinks? @category=drinks", "menu inquiry", "what drinks?", map[string]string{"category": "drinks"}},
		{"tomorrow", "answer", "tomorrow", nil},
		{"note: extra napkins", "answer", "note: extra napkins", nil},
		{"faq inquiry: parking? @question=do_you_have_parking", "faq inquiry", "parking?", map[string]string{"question": "do you have parking"}},
		{"goodbye:", "goodbye", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := parseLine(tt.line)
			if got.Intent != tt.intent {
				t.Errorf("intent = %q, want %q", got.Intent, tt.intent)
			}
			if got.Text != tt.text {
				t.Errorf("text = %q, want %q", got.Text, tt.text)
			}
			if len(got.Slots) != len(tt.slots) {
				t.Fatalf("slots = %v, want %v", got.Slots, tt.slots)
			}
			for k, v := range tt.slots {
				if got.Slots[k] != v {
					t.Errorf("slot %s = %q, want %q", k, got.Slots[k], v)
				}
			}
		})
	}
}

// scriptedCalls ends the call on a goodbye turn.
type scriptedCalls struct {
	mu    sync.Mutex
	turns []*callapi.SendTurnRequest
	ended bool
	auth  string
}

func (s *scriptedCalls) StartCall(_ context.Context, req *connect.Request[callapi.StartCallRequest]) (*connect.Response[callapi.StartCallResponse], error) {
	s.mu.Lock()
	s.auth = req.Header().Get("Authorization")
	s.mu.Unlock()
	return connect.NewResponse(&callapi.StartCallResponse{
		CallID: "c-1",
		Reply:  callapi.Reply{Say: []string{"Welcome to the restaurant!"}, State: "idle"},
	}), nil
}

func (s *scriptedCalls) SendTurn(_ context.Context, req *connect.Request[callapi.SendTurnRequest]) (*connect.Response[callapi.SendTurnResponse], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, req.Msg)
	reply := callapi.Reply{Ask: "Anything else?", Flow: "order", State: "collecting_items"}
	if req.Msg.Intent == "goodbye" {
		reply = callapi.Reply{Say: []string{"Goodbye!"}, State: "idle", Ended: true}
	}
	return connect.NewResponse(&callapi.SendTurnResponse{Reply: reply}), nil
}

func (s *scriptedCalls) EndCall(context.Context, *connect.Request[callapi.EndCallRequest]) (*connect.Response[callapi.EndCallResponse], error) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	return connect.NewResponse(&callapi.EndCallResponse{Status: "completed", Turns: len(s.turns)}), nil
}

func (s *scriptedCalls) GetCall(context.Context, *connect.Request[callapi.GetCallRequest]) (*connect.Response[callapi.GetCallResponse], error) {
	return connect.NewResponse(&callapi.GetCallResponse{Call: callapi.Call{CallID: "c-1", State: "idle"}}), nil
}

func runCLI(t *testing.T, svc *scriptedCalls, stdin string, args ...string) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(callapi.NewCallServiceHandler(svc))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--server", srv.URL, "--token", "tok"))
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("execute: %v\n%s", err, out.String())
	}
	return out.String()
}

func TestChatStopsWhenCallEnds(t *testing.T) {
	svc := &scriptedCalls{}
	out := runCLI(t, svc, "place order: burger @item=burger\n\ngoodbye: bye\nnever sent\n", "chat", "+16502530000")

	if len(svc.turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(svc.turns))
	}
	if svc.turns[0].Slots["item"] != "burger" || svc.turns[0].CallID != "c-1" {
		t.Errorf("first turn = %+v", svc.turns[0])
	}
	if svc.ended {
		t.Error("EndCall should not be sent after the call ended itself")
	}
	if svc.auth != "Bearer tok" {
		t.Errorf("authorization = %q, want %q", svc.auth, "Bearer tok")
	}
	for _, want := range []string{"< Welcome to the restaurant!", "? Anything else?", "[order:collecting_items]", "[call ended]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestChatHangsUpAtEOF(t *testing.T) {
	svc := &scriptedCalls{}
	out := runCLI(t, svc, "menu inquiry: what do you have\n", "chat", "+16502530000")

	if !svc.ended {
		t.Error("expected EndCall at end of input")
	}
	if !strings.Contains(out, "status=completed turns=1") {
		t.Errorf("output = %s", out)
	}
}
