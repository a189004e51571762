package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablecall/tablecall/pkg/catalog"
	"github.com/tablecall/tablecall/pkg/events"
)

func testMenu() *catalog.Catalog {
	return catalog.New([]catalog.MenuItem{
		{ID: "1", Name: "Cheeseburger", Price: decimal.RequireFromString("12.99"), Category: catalog.CategoryBurgers},
		{ID: "2", Name: "Veggie Burger", Price: decimal.RequireFromString("11.50"), Category: catalog.CategoryBurgers},
		{ID: "3", Name: "French Fries", Price: decimal.RequireFromString("4.00"), Category: catalog.CategorySides},
		{ID: "4", Name: "Lemonade", Price: decimal.RequireFromString("3.25"), Category: catalog.CategoryDrinks},
		{ID: "5", Name: "Mints", Price: decimal.RequireFromString("0.10"), Category: catalog.CategoryOther},
	})
}

func testFAQs() *catalog.FAQIndex {
	return catalog.NewFAQIndex([]catalog.FAQ{
		{ID: "1", Question: "What are your opening hours?", Answer: "We are open from 11am to 10pm."},
	})
}

type fakeGateway struct {
	mu           sync.Mutex
	orders       []OrderRecord
	reservations []ReservationRecord
	err          error
	panicking    bool
}

func (g *fakeGateway) SubmitOrder(_ context.Context, rec OrderRecord) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicking {
		panic("gateway exploded")
	}
	if g.err != nil {
		return "", g.err
	}
	g.orders = append(g.orders, rec)
	return "ord-1", nil
}

func (g *fakeGateway) SubmitReservation(_ context.Context, rec ReservationRecord) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.reservations = append(g.reservations, rec)
	return "res-1", nil
}

// fixedDates resolves ISO dates and "tomorrow" relative to 2026-03-01.
type fixedDates struct{}

func (fixedDates) ResolveDate(text string) (time.Time, bool) {
	if strings.EqualFold(strings.TrimSpace(text), "tomorrow") {
		return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), true
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(text))
	return t, err == nil
}

func newTestDispatcher(gw *fakeGateway, opts ...Option) *Dispatcher {
	opts = append([]Option{WithDateResolver(fixedDates{})}, opts...)
	return NewDispatcher(testMenu(), testFAQs(), gw, opts...)
}

func answer(text string) Turn { return Turn{Intent: IntentAnswer, Text: text} }

func TestEveryIntentHasRoute(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	for _, in := range Intents {
		if _, ok := d.routes[in]; !ok {
			t.Errorf("intent %q has no route", in)
		}
	}
	if len(d.routes) != len(Intents) {
		t.Errorf("routes = %d, intents = %d", len(d.routes), len(Intents))
	}
}

func TestOrderTotalIsExactSum(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		items   []string
		total   string
	}{
		{"single", []string{"lemonade"}, []string{"Lemonade"}, "3.25"},
		{"insertion order", []string{"fries", "LEMONADE", "veggie"}, []string{"French Fries", "Lemonade", "Veggie Burger"}, "18.75"},
		{"duplicates", []string{"burger", "burger"}, []string{"Cheeseburger", "Cheeseburger"}, "25.98"},
		{"cents", []string{"mints", "mints", "mints"}, []string{"Mints", "Mints", "Mints"}, "0.30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			d := newTestDispatcher(gw)
			s := NewSession("s1", "+15551234567", nil)
			ctx := t.Context()

			d.Handle(ctx, s, Turn{Intent: IntentPlaceOrder})
			for _, a := range tt.answers {
				d.Handle(ctx, s, answer(a))
			}
			reply := d.Handle(ctx, s, answer("Done."))

			if reply.State != StateCompleted {
				t.Fatalf("state = %q, want %q", reply.State, StateCompleted)
			}
			if len(gw.orders) != 1 {
				t.Fatalf("submitted %d orders, want 1", len(gw.orders))
			}
			rec := gw.orders[0]
			if strings.Join(rec.Items, "|") != strings.Join(tt.items, "|") {
				t.Errorf("items = %v, want %v", rec.Items, tt.items)
			}
			if !rec.Total.Equal(decimal.RequireFromString(tt.total)) {
				t.Errorf("total = %s, want %s", rec.Total, tt.total)
			}
			if rec.Phone != "+15551234567" {
				t.Errorf("phone = %q", rec.Phone)
			}
			if !strings.Contains(reply.Text(), "$"+decimal.RequireFromString(tt.total).StringFixed(2)) {
				t.Errorf("confirmation %q does not mention total", reply.Text())
			}
		})
	}
}

func TestEmptyOrderNeverPersists(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "+15551234567", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	reply := d.Handle(t.Context(), s, answer("done"))

	if len(gw.orders) != 0 {
		t.Fatalf("gateway called %d times, want 0", len(gw.orders))
	}
	if reply.State != StateAborted {
		t.Errorf("state = %q, want %q", reply.State, StateAborted)
	}
	if strings.Contains(reply.Text(), "placed") {
		t.Errorf("empty order was confirmed: %q", reply.Text())
	}
	if reply.Ask != DefaultLines[LineAnythingElse] {
		t.Errorf("ask = %q", reply.Ask)
	}
	if s.Active() {
		t.Error("flow still active")
	}
}

func TestOrderOpeningTurnItem(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "+15551234567", nil)

	reply := d.Handle(t.Context(), s, Turn{
		Intent: IntentPlaceOrder,
		Text:   "I'd like a lemonade",
		Slots:  map[string]string{SlotItem: "lemonade", SlotSpecialInstructions: "no ice"},
	})
	if reply.State != StateCollectingItems {
		t.Fatalf("state = %q, want %q", reply.State, StateCollectingItems)
	}
	if !strings.Contains(reply.Text(), "Added Lemonade") {
		t.Errorf("reply = %q", reply.Text())
	}

	d.Handle(t.Context(), s, answer("done"))
	if len(gw.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(gw.orders))
	}
	if gw.orders[0].SpecialInstructions != "no ice" {
		t.Errorf("special instructions = %q", gw.orders[0].SpecialInstructions)
	}
}

func TestOrderItemNotFoundReprompts(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	reply := d.Handle(t.Context(), s, answer("pizza"))

	if !strings.Contains(reply.Text(), "couldn't find pizza") {
		t.Errorf("reply = %q", reply.Text())
	}
	if reply.Ask != DefaultLines[LineOrderAskItem] {
		t.Errorf("ask = %q", reply.Ask)
	}
	if reply.State != StateCollectingItems {
		t.Errorf("state = %q", reply.State)
	}
	if snap := s.Snapshot(); snap.Attempts != 1 || len(snap.Order.Items) != 0 {
		t.Errorf("attempts = %d, items = %d", snap.Attempts, len(snap.Order.Items))
	}
}

func TestOrderAttemptsExhausted(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw, WithMaxAttempts(2))
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	d.Handle(t.Context(), s, answer("lemonade"))
	d.Handle(t.Context(), s, answer("pizza"))
	reply := d.Handle(t.Context(), s, answer("sushi"))

	if reply.State != StateAborted {
		t.Errorf("state = %q, want %q", reply.State, StateAborted)
	}
	if !strings.Contains(reply.Text(), DefaultLines[LineStaffOffer]) {
		t.Errorf("reply %q does not offer staff", reply.Text())
	}
	if len(gw.orders) != 0 {
		t.Errorf("orders = %d, want 0", len(gw.orders))
	}
}

func TestOrderPersistenceFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("sheet unavailable")}
	pub := events.NewPublisher(nil, "dialog", "events")
	ch := pub.Subscribe("test", 64)
	d := newTestDispatcher(gw, WithPublisher(pub))
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	d.Handle(t.Context(), s, answer("fries"))
	reply := d.Handle(t.Context(), s, answer("done"))

	if reply.State != StateFailed {
		t.Errorf("state = %q, want %q", reply.State, StateFailed)
	}
	if !strings.Contains(reply.Text(), DefaultLines[LineOrderFailed]) || !strings.Contains(reply.Text(), DefaultLines[LineStaffOffer]) {
		t.Errorf("reply = %q", reply.Text())
	}

	// The draft is gone; a second "done" is not a resubmission.
	gw.err = nil
	d.Handle(t.Context(), s, answer("done"))
	if len(gw.orders) != 0 {
		t.Errorf("orders = %d, want 0", len(gw.orders))
	}

	pub.Unsubscribe("test")
	var failed bool
	for env := range ch {
		if env.Type == events.PersistenceFailed {
			failed = true
		}
	}
	if !failed {
		t.Error("no persistence.failed event")
	}
}

func TestReservationPartySizeBounds(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "+15551234567", nil)

	reply := d.Handle(t.Context(), s, Turn{
		Intent: IntentMakeReservation,
		Slots:  map[string]string{SlotDate: "2026-03-14", SlotTime: "19:00"},
	})
	if reply.State != StatePartySize {
		t.Fatalf("state = %q, want %q", reply.State, StatePartySize)
	}

	reply = d.Handle(t.Context(), s, answer("25"))
	if !strings.Contains(reply.Text(), "Party size must be between 1 and 20") {
		t.Errorf("reply = %q", reply.Text())
	}
	if reply.State != StatePartySize {
		t.Errorf("state = %q, want %q", reply.State, StatePartySize)
	}
	if len(gw.reservations) != 0 {
		t.Fatalf("reservation persisted before validation")
	}

	reply = d.Handle(t.Context(), s, answer("4"))
	if reply.State != StateCompleted {
		t.Fatalf("state = %q, want %q", reply.State, StateCompleted)
	}
	if len(gw.reservations) != 1 {
		t.Fatalf("reservations = %d, want 1", len(gw.reservations))
	}
	want := ReservationRecord{Phone: "+15551234567", Date: "2026-03-14", Time: "19:00", PartySize: 4}
	if gw.reservations[0] != want {
		t.Errorf("record = %+v, want %+v", gw.reservations[0], want)
	}
	for _, part := range []string{"4", "2026-03-14", "19:00"} {
		if !strings.Contains(reply.Text(), part) {
			t.Errorf("confirmation %q missing %q", reply.Text(), part)
		}
	}
}

func TestReservationStepByStep(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "+15551234567", nil)
	ctx := t.Context()

	steps := []struct {
		turn  Turn
		state FlowState
		ask   string
	}{
		{Turn{Intent: IntentMakeReservation, Slots: map[string]string{SlotPartySize: "99"}}, StateDate, DefaultLines[LineAskDate]},
		{answer("someday"), StateDate, DefaultLines[LineAskDate]},
		{answer("tomorrow"), StateTime, DefaultLines[LineAskTime]},
		{answer("9:5"), StateTime, DefaultLines[LineAskTime]},
		{Turn{Intent: IntentAnswer, Text: "half six", Slots: map[string]string{SlotTime: "18:30", SlotSpecialRequests: "window seat"}}, StatePartySize, DefaultLines[LineAskPartySize]},
		{answer("two"), StatePartySize, DefaultLines[LineAskPartySize]},
		{answer("2"), StateCompleted, DefaultLines[LineAnythingElse]},
	}
	for i, st := range steps {
		reply := d.Handle(ctx, s, st.turn)
		if reply.State != st.state {
			t.Fatalf("step %d: state = %q, want %q", i, reply.State, st.state)
		}
		if reply.Ask != st.ask {
			t.Errorf("step %d: ask = %q, want %q", i, reply.Ask, st.ask)
		}
		if st.state != StateCompleted && len(gw.reservations) != 0 {
			t.Fatalf("step %d: persisted early", i)
		}
	}

	want := ReservationRecord{Phone: "+15551234567", Date: "2026-03-02", Time: "18:30", PartySize: 2, SpecialRequests: "window seat"}
	if len(gw.reservations) != 1 || gw.reservations[0] != want {
		t.Errorf("reservations = %+v, want [%+v]", gw.reservations, want)
	}
}

func TestReservationRejectsImpossibleDates(t *testing.T) {
	dates := NewNaturalDates(time.UTC)
	dates.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	gw := &fakeGateway{}
	d := NewDispatcher(testMenu(), testFAQs(), gw, WithDateResolver(dates))
	s := NewSession("s1", "+15551234567", nil)
	ctx := t.Context()

	d.Handle(ctx, s, Turn{Intent: IntentMakeReservation})
	for _, turn := range []Turn{
		answer("2025-02-30"),
		answer("18:30"),
		{Intent: IntentAnswer, Text: "7pm", Slots: map[string]string{SlotTime: "19:00"}},
	} {
		reply := d.Handle(ctx, s, turn)
		if reply.State != StateDate {
			t.Fatalf("%q: state = %q, want %q", turn.Text, reply.State, StateDate)
		}
	}

	d.Handle(ctx, s, answer("2026-03-14"))
	d.Handle(ctx, s, answer("19:00"))
	reply := d.Handle(ctx, s, answer("4"))
	if reply.State != StateCompleted {
		t.Fatalf("state = %q, want %q", reply.State, StateCompleted)
	}
	want := ReservationRecord{Phone: "+15551234567", Date: "2026-03-14", Time: "19:00", PartySize: 4}
	if len(gw.reservations) != 1 || gw.reservations[0] != want {
		t.Errorf("reservations = %+v, want [%+v]", gw.reservations, want)
	}
}

func TestGoodbyeIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	d.Handle(t.Context(), s, answer("fries"))

	for i := range 2 {
		reply := d.Handle(t.Context(), s, Turn{Intent: IntentGoodbye})
		if !strings.Contains(reply.Text(), DefaultLines[LineGoodbye]) {
			t.Errorf("goodbye %d: reply = %q", i, reply.Text())
		}
		if !reply.Ended {
			t.Errorf("goodbye %d: session not ended", i)
		}
		if s.Active() {
			t.Errorf("goodbye %d: flow still active", i)
		}
	}
	if len(gw.orders) != 0 {
		t.Errorf("abandoned order persisted")
	}
	if got := s.Snapshot().State; got != StateAbandoned {
		t.Errorf("state = %q, want %q", got, StateAbandoned)
	}
}

func TestMenuInquiryUnknownCategoryReadsFullMenu(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	s := NewSession("s1", "", nil)

	reply := d.Handle(t.Context(), s, Turn{Intent: IntentMenuInquiry, Slots: map[string]string{SlotCategory: "tacos"}})
	text := reply.Text()
	for _, part := range []string{"Burgers: Cheeseburger", "Drinks: Lemonade", "Other: Mints"} {
		if !strings.Contains(text, part) {
			t.Errorf("menu reply %q missing %q", text, part)
		}
	}

	reply = d.Handle(t.Context(), s, Turn{Intent: IntentMenuInquiry, Slots: map[string]string{SlotCategory: "other"}})
	if text := reply.Text(); !strings.Contains(text, "Other: Mints") || strings.Contains(text, "Burgers") {
		t.Errorf("other reply = %q", text)
	}
}

func TestInterruptionsRepeatPendingPrompt(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	s := NewSession("s1", "", nil)
	ctx := t.Context()

	d.Handle(ctx, s, Turn{Intent: IntentPlaceOrder})

	reply := d.Handle(ctx, s, Turn{Intent: IntentMenuInquiry, Slots: map[string]string{SlotCategory: "drinks"}})
	if !strings.Contains(reply.Text(), "Drinks: Lemonade - $3.25.") {
		t.Errorf("menu reply = %q", reply.Text())
	}
	if reply.Ask != DefaultLines[LineOrderAskItem] {
		t.Errorf("menu ask = %q", reply.Ask)
	}

	reply = d.Handle(ctx, s, Turn{Intent: IntentFAQInquiry, Text: "what are your hours"})
	if !strings.Contains(reply.Text(), "11am") || reply.Ask != DefaultLines[LineOrderAskItem] {
		t.Errorf("faq reply = %q", reply.Text())
	}

	reply = d.Handle(ctx, s, Turn{Intent: IntentMakeReservation})
	if !strings.Contains(reply.Text(), "finish your order first") {
		t.Errorf("reservation reply = %q", reply.Text())
	}
	if reply.Flow != FlowOrder || reply.State != StateCollectingItems {
		t.Errorf("flow = %q state = %q", reply.Flow, reply.State)
	}

	reply = d.Handle(ctx, s, Turn{Intent: IntentPlaceOrder, Text: "fries please", Slots: map[string]string{SlotItem: "fries"}})
	if !strings.Contains(reply.Text(), "Added French Fries") {
		t.Errorf("same-flow intent reply = %q", reply.Text())
	}

	reply = d.Handle(ctx, s, Turn{Intent: IntentGreeting})
	if reply.Ask != DefaultLines[LineOrderAskItem] {
		t.Errorf("greeting ask = %q", reply.Ask)
	}
}

func TestErrorIntentAbandonsFlow(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentMakeReservation})
	reply := d.Handle(t.Context(), s, Turn{Intent: IntentError, Text: "asr timeout"})

	if reply.State != StateError {
		t.Errorf("state = %q, want %q", reply.State, StateError)
	}
	if !strings.Contains(reply.Text(), DefaultLines[LineError]) {
		t.Errorf("reply = %q", reply.Text())
	}
	if reply.Ended || s.Active() {
		t.Error("error should abandon the flow but keep the call")
	}
}

func TestPanicBecomesAnnouncement(t *testing.T) {
	gw := &fakeGateway{panicking: true}
	d := newTestDispatcher(gw)
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	d.Handle(t.Context(), s, answer("fries"))
	reply := d.Handle(t.Context(), s, answer("done"))

	if !strings.Contains(reply.Text(), DefaultLines[LineError]) {
		t.Errorf("reply = %q", reply.Text())
	}
	if s.Active() {
		t.Error("flow still active after panic")
	}

	// The session lock was released.
	reply = d.Handle(t.Context(), s, Turn{Intent: IntentGreeting})
	if !strings.Contains(reply.Text(), "Hello") {
		t.Errorf("reply after panic = %q", reply.Text())
	}
}

func TestFallbackWithoutFlow(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	s := NewSession("s1", "", nil)

	for _, in := range []Intent{IntentUnhandled, IntentAnswer, ParseIntent("order_pizza_now")} {
		reply := d.Handle(t.Context(), s, Turn{Intent: in, Text: "blah"})
		if !strings.Contains(reply.Text(), "didn't understand") {
			t.Errorf("%q: reply = %q", in, reply.Text())
		}
	}
}

func TestFAQNotFoundOffersStaff(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	s := NewSession("s1", "", nil)

	reply := d.Handle(t.Context(), s, Turn{Intent: IntentFAQInquiry, Slots: map[string]string{SlotQuestion: "do you deliver to mars"}})
	if !strings.Contains(reply.Text(), DefaultLines[LineFAQNotFound]) {
		t.Errorf("reply = %q", reply.Text())
	}
}

func TestTransitionsRecordedAndPublished(t *testing.T) {
	pub := events.NewPublisher(nil, "dialog", "events")
	ch := pub.Subscribe("test", 64)
	obs := &recordingObserver{}
	d := newTestDispatcher(&fakeGateway{}, WithPublisher(pub), WithObserver(obs))
	s := NewSession("s1", "", nil)

	d.Handle(t.Context(), s, Turn{Intent: IntentPlaceOrder})
	d.Handle(t.Context(), s, answer("fries"))
	d.Handle(t.Context(), s, answer("done"))

	var got []string
	for _, rec := range s.Snapshot().History {
		got = append(got, string(rec.ToState))
	}
	want := "started,collecting_items,finalizing,completed"
	if strings.Join(got, ",") != want {
		t.Errorf("history = %v, want %s", got, want)
	}

	pub.Unsubscribe("test")
	transitions := 0
	for env := range ch {
		if env.Type == events.StateTransition {
			transitions++
		}
	}
	if transitions != 4 {
		t.Errorf("state.transition events = %d, want 4", transitions)
	}

	if obs.started != 1 || obs.ended[StateCompleted] != 1 || obs.turns != 3 {
		t.Errorf("observer = %+v", obs)
	}
	if s.Snapshot().Turns != 3 {
		t.Errorf("turns = %d, want 3", s.Snapshot().Turns)
	}
}

func TestHistoryEviction(t *testing.T) {
	s := NewSession("s1", "", nil)
	s.maxHistory = 10
	for i := range 15 {
		if i%2 == 0 {
			s.recordTransition(StateStarted, "x")
		} else {
			s.recordTransition(StateIdle, "y")
		}
	}
	if n := len(s.History); n > 10 {
		t.Errorf("history = %d, want <= 10", n)
	}
}

func TestParseItemAnswer(t *testing.T) {
	tests := []struct {
		in   string
		kind ItemAnswerKind
		text string
	}{
		{"done", ItemSentinel, ""},
		{" Done. ", ItemSentinel, ""},
		{"DONE!", ItemSentinel, ""},
		{"I'm done", ItemText, "I'm done"},
		{"burger", ItemText, "burger"},
		{"", ItemText, ""},
	}
	for _, tt := range tests {
		got := ParseItemAnswer(tt.in)
		if got.Kind != tt.kind || got.Text != tt.text {
			t.Errorf("ParseItemAnswer(%q) = %+v", tt.in, got)
		}
	}
}

func TestParseIntent(t *testing.T) {
	tests := map[string]Intent{
		"place order":      IntentPlaceOrder,
		"place_order":      IntentPlaceOrder,
		"Make-Reservation": IntentMakeReservation,
		"menu inquiry":     IntentMenuInquiry,
		"goodbye":          IntentGoodbye,
		"weather":          IntentUnhandled,
	}
	for in, want := range tests {
		if got := ParseIntent(in); got != want {
			t.Errorf("ParseIntent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderRecordJSONTotalIsNumber(t *testing.T) {
	rec := OrderRecord{Phone: "+1", Items: []string{"Lemonade"}, Total: decimal.RequireFromString("3.25")}
	b, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"total":3.25`) {
		t.Errorf("json = %s", b)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	started int
	ended   map[FlowState]int
	turns   int
}

func (o *recordingObserver) FlowStarted(context.Context, FlowKind) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) FlowEnded(_ context.Context, _ FlowKind, outcome FlowState, _ time.Duration) {
	o.mu.Lock()
	if o.ended == nil {
		o.ended = make(map[FlowState]int)
	}
	o.ended[outcome]++
	o.mu.Unlock()
}

func (o *recordingObserver) TurnHandled(context.Context, Intent, FlowState, time.Duration) {
	o.mu.Lock()
	o.turns++
	o.mu.Unlock()
}

func TestGreetDoesNotCountTurn(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{})
	s := NewSession("s1", "+15551234567", nil)

	r := d.Greet(t.Context(), s)
	if len(r.Say) != 1 || r.Say[0] != DefaultLines[LineGreeting] {
		t.Errorf("say = %v", r.Say)
	}
	if s.Snapshot().Turns != 0 {
		t.Error("greeting should not count as a turn")
	}
}
