package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/tablecall/tablecall/pkg/callapi"
	"github.com/tablecall/tablecall/pkg/catalog"
	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/events"
	"github.com/tablecall/tablecall/pkg/store"
)

type recordingGateway struct {
	mu      sync.Mutex
	orders  []dialog.OrderRecord
	callIDs []string
	// release, when set, holds order submissions until it is closed.
	release chan struct{}
}

func (g *recordingGateway) SubmitOrder(ctx context.Context, rec dialog.OrderRecord) (string, error) {
	if g.release != nil {
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, rec)
	g.callIDs = append(g.callIDs, store.CallIDFrom(ctx))
	return "ord-1", nil
}

func (g *recordingGateway) SubmitReservation(context.Context, dialog.ReservationRecord) (string, error) {
	return "res-1", nil
}

type memLogger struct {
	mu    sync.Mutex
	ended map[string]store.CallSummary
	done  chan string
}

func (m *memLogger) StartCall(_ context.Context, id, phone, channel string) (*store.CallLog, error) {
	c := &store.CallLog{Phone: phone, Channel: channel, Status: store.CallStatusInProgress, StartedAt: time.Now()}
	c.ID = id
	return c, nil
}

func (m *memLogger) EndCall(_ context.Context, c *store.CallLog, sum store.CallSummary) error {
	m.mu.Lock()
	m.ended[c.ID] = sum
	m.mu.Unlock()
	m.done <- c.ID
	return nil
}

func (m *memLogger) wait(t *testing.T) store.CallSummary {
	t.Helper()
	select {
	case id := <-m.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.ended[id]
	case <-time.After(3 * time.Second):
		t.Fatal("call was not logged as ended")
		return store.CallSummary{}
	}
}

type testEnv struct {
	client  callapi.CallServiceClient
	handler *CallHandler
	gateway *recordingGateway
	logger  *memLogger
	events  <-chan events.Envelope
}

func setupCallTestServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	menu := catalog.New([]catalog.MenuItem{
		{ID: "1", Name: "Cheeseburger", Price: decimal.RequireFromString("12.99"), Category: catalog.CategoryBurgers},
		{ID: "2", Name: "Lemonade", Price: decimal.RequireFromString("3.25"), Category: catalog.CategoryDrinks},
	})
	faqs := catalog.NewFAQIndex(nil)
	gw := &recordingGateway{}
	pub := events.NewPublisher(nil, "test", "")
	evCh := pub.Subscribe("test", 64)
	t.Cleanup(func() { pub.Unsubscribe("test") })

	d := dialog.NewDispatcher(menu, faqs, gw, dialog.WithPublisher(pub))
	logger := &memLogger{ended: map[string]store.CallSummary{}, done: make(chan string, 4)}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = "US"
	}
	h := NewCallHandler(d, logger, pub, nil, cfg)

	mux := http.NewServeMux()
	path, hdlr := callapi.NewCallServiceHandler(h)
	mux.Handle(path, hdlr)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{
		client:  callapi.NewCallServiceClient(http.DefaultClient, server.URL),
		handler: h,
		gateway: gw,
		logger:  logger,
		events:  evCh,
	}
}

func (e *testEnv) turn(t *testing.T, callID, intent, text string) callapi.Reply {
	t.Helper()
	resp, err := e.client.SendTurn(t.Context(), connect.NewRequest(&callapi.SendTurnRequest{
		CallID: callID, Intent: intent, Text: text,
	}))
	if err != nil {
		t.Fatalf("SendTurn(%s %q): %v", intent, text, err)
	}
	return resp.Msg.Reply
}

func TestStartCallGreetsAndNormalizesPhone(t *testing.T) {
	env := setupCallTestServer(t, Config{})

	resp, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{
		CallID: "call-1",
		Phone:  "(650) 253-0000",
	}))
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if resp.Msg.CallID != "call-1" {
		t.Errorf("call id = %q", resp.Msg.CallID)
	}
	if resp.Msg.Reply.Text != dialog.DefaultLines[dialog.LineGreeting] {
		t.Errorf("greeting = %q", resp.Msg.Reply.Text)
	}

	got, err := env.client.GetCall(t.Context(), connect.NewRequest(&callapi.GetCallRequest{CallID: "call-1"}))
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Msg.Call.Phone != "+16502530000" {
		t.Errorf("phone = %q, want +16502530000", got.Msg.Call.Phone)
	}
	if got.Msg.Call.State != string(dialog.StateIdle) {
		t.Errorf("state = %q, want idle", got.Msg.Call.State)
	}

	_, err = env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{CallID: "call-1", Phone: "6502530000"}))
	if connect.CodeOf(err) != connect.CodeAlreadyExists {
		t.Errorf("duplicate code = %v, want already_exists", connect.CodeOf(err))
	}
}

func TestStartCallRejectsBadPhone(t *testing.T) {
	env := setupCallTestServer(t, Config{})

	_, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{Phone: "not a number"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestOrderOverRPC(t *testing.T) {
	env := setupCallTestServer(t, Config{})

	start, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{Phone: "+16502530000"}))
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	id := start.Msg.CallID
	if id == "" {
		t.Fatal("expected generated call id")
	}

	r := env.turn(t, id, "place_order", "I want to order")
	if r.Flow != string(dialog.FlowOrder) || r.Ask == "" {
		t.Errorf("reply = %+v, want order question", r)
	}
	env.turn(t, id, "answer", "cheeseburger")
	env.turn(t, id, "answer", "lemonade")

	got, _ := env.client.GetCall(t.Context(), connect.NewRequest(&callapi.GetCallRequest{CallID: id}))
	if o := got.Msg.Call.Order; o == nil || o.Total != "16.24" || len(o.Items) != 2 {
		t.Errorf("order = %+v, want 2 items totalling 16.24", got.Msg.Call.Order)
	}

	r = env.turn(t, id, "answer", "done")
	if r.State != string(dialog.StateCompleted) {
		t.Errorf("state = %q, want completed", r.State)
	}

	env.gateway.mu.Lock()
	if len(env.gateway.orders) != 1 || env.gateway.callIDs[0] != id {
		t.Errorf("submitted = %v for calls %v", env.gateway.orders, env.gateway.callIDs)
	}
	env.gateway.mu.Unlock()

	r = env.turn(t, id, "goodbye", "bye")
	if !r.Ended {
		t.Error("goodbye should end the call")
	}
	sum := env.logger.wait(t)
	if sum.Status != store.CallStatusCompleted || sum.Outcome != "order:completed" {
		t.Errorf("summary = %+v", sum)
	}

	_, err = env.client.SendTurn(t.Context(), connect.NewRequest(&callapi.SendTurnRequest{CallID: id, Intent: "greeting"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code after hangup = %v, want not_found", connect.CodeOf(err))
	}
}

func TestSlowSubmissionConfirmedOnNextTurn(t *testing.T) {
	env := setupCallTestServer(t, Config{})
	env.gateway.release = make(chan struct{})

	start, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{Phone: "+16502530000"}))
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	id := start.Msg.CallID
	env.turn(t, id, "place order", "I want to order")
	env.turn(t, id, "answer", "cheeseburger")

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	_, err = env.client.SendTurn(ctx, connect.NewRequest(&callapi.SendTurnRequest{CallID: id, Intent: "answer", Text: "done"}))
	cancel()
	if err == nil {
		t.Fatal("expected the done turn to give up while the order is saving")
	}
	close(env.gateway.release)

	r := env.turn(t, id, "greeting", "hello?")
	text := strings.Join(r.Say, " ")
	if !strings.Contains(text, "It has been placed") {
		t.Errorf("say = %q, want the late order confirmation", text)
	}
	if !strings.Contains(text, dialog.DefaultLines[dialog.LineGreeting]) {
		t.Errorf("say = %q, want the greeting after the confirmation", text)
	}

	env.gateway.mu.Lock()
	if len(env.gateway.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(env.gateway.orders))
	}
	env.gateway.mu.Unlock()
}

func TestEndCallAbandonsFlow(t *testing.T) {
	env := setupCallTestServer(t, Config{})

	start, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{Phone: "+16502530000"}))
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	id := start.Msg.CallID
	env.turn(t, id, "make reservation", "book a table")

	end, err := env.client.EndCall(t.Context(), connect.NewRequest(&callapi.EndCallRequest{CallID: id, Reason: "caller_hung_up"}))
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if end.Msg.Status != store.CallStatusCompleted || end.Msg.Turns != 1 {
		t.Errorf("end = %+v", end.Msg)
	}
	if sum := env.logger.wait(t); sum.Outcome != "reservation:abandoned" {
		t.Errorf("outcome = %q, want reservation:abandoned", sum.Outcome)
	}

	var sawAbandoned, sawEnded bool
	for len(env.events) > 0 {
		ev := <-env.events
		switch ev.Type {
		case events.FlowAbandoned:
			sawAbandoned = true
		case events.CallEnded:
			sawEnded = true
		}
	}
	if !sawAbandoned || !sawEnded {
		t.Errorf("flow.abandoned=%v call.ended=%v, want both", sawAbandoned, sawEnded)
	}

	_, err = env.client.EndCall(t.Context(), connect.NewRequest(&callapi.EndCallRequest{CallID: id}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("second EndCall code = %v, want not_found", connect.CodeOf(err))
	}
}

func TestIdleTimeoutEndsCall(t *testing.T) {
	env := setupCallTestServer(t, Config{IdleTimeout: 50 * time.Millisecond})

	start, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{Phone: "+16502530000"}))
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	sum := env.logger.wait(t)
	if sum.Status != store.CallStatusTimedOut {
		t.Errorf("status = %q, want timed_out", sum.Status)
	}
	_, err = env.client.GetCall(t.Context(), connect.NewRequest(&callapi.GetCallRequest{CallID: start.Msg.CallID}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want not_found", connect.CodeOf(err))
	}
}

func TestReaperCancelsStaleCalls(t *testing.T) {
	env := setupCallTestServer(t, Config{SessionTTL: time.Minute})

	_, err := env.client.StartCall(t.Context(), connect.NewRequest(&callapi.StartCallRequest{CallID: "old", Phone: "+16502530000"}))
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	if n := env.handler.reapStaleCalls(time.Now()); n != 0 {
		t.Errorf("reaped %d fresh calls", n)
	}
	if n := env.handler.reapStaleCalls(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("reaped %d, want 1", n)
	}
	if sum := env.logger.wait(t); sum.Status != store.CallStatusAbandoned {
		t.Errorf("status = %q, want abandoned", sum.Status)
	}
}

func TestUnknownCall(t *testing.T) {
	env := setupCallTestServer(t, Config{})

	_, err := env.client.GetCall(t.Context(), connect.NewRequest(&callapi.GetCallRequest{CallID: "nope"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want not_found", connect.CodeOf(err))
	}
}
