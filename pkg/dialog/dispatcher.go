package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tablecall/tablecall/pkg/catalog"
	"github.com/tablecall/tablecall/pkg/events"
)

// Defaults for dispatcher options.
const (
	DefaultMaxAttempts  = 4
	DefaultMaxPartySize = 20
)

// Observer receives flow lifecycle notifications, typically for metrics.
type Observer interface {
	FlowStarted(ctx context.Context, flow FlowKind)
	FlowEnded(ctx context.Context, flow FlowKind, outcome FlowState, elapsed time.Duration)
	TurnHandled(ctx context.Context, intent Intent, state FlowState, elapsed time.Duration)
}

type handlerFunc func(ctx context.Context, s *Session, t Turn, r *Reply) error

// Dispatcher routes intent events to canned answers or to the active flow.
// One Dispatcher serves every session; all per-call state lives on Session.
type Dispatcher struct {
	menu    MenuResolver
	faqs    FAQSearcher
	gateway Gateway

	script       *Script
	dates        DateResolver
	maxAttempts  int
	maxPartySize int
	publisher    *events.Publisher
	observer     Observer

	reservation Collector
	routes      map[Intent]handlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithScript sets the prompt script.
func WithScript(sc *Script) Option { return func(d *Dispatcher) { d.script = sc } }

// WithDateResolver replaces the natural-language date resolver.
func WithDateResolver(r DateResolver) Option { return func(d *Dispatcher) { d.dates = r } }

// WithMaxAttempts bounds consecutive failed answers per question. Zero
// disables the bound.
func WithMaxAttempts(n int) Option { return func(d *Dispatcher) { d.maxAttempts = n } }

// WithMaxPartySize sets the largest bookable party.
func WithMaxPartySize(n int) Option { return func(d *Dispatcher) { d.maxPartySize = n } }

// WithPublisher emits flow events.
func WithPublisher(p *events.Publisher) Option { return func(d *Dispatcher) { d.publisher = p } }

// WithObserver installs a flow observer.
func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observer = o } }

// NewDispatcher creates a dispatcher over the catalog, the FAQ index and
// the persistence gateway.
func NewDispatcher(menu MenuResolver, faqs FAQSearcher, gateway Gateway, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		menu:         menu,
		faqs:         faqs,
		gateway:      gateway,
		maxAttempts:  DefaultMaxAttempts,
		maxPartySize: DefaultMaxPartySize,
	}
	for _, o := range opts {
		o(d)
	}
	if d.script == nil {
		d.script, _ = NewScript(nil)
	}
	if d.dates == nil {
		d.dates = NewNaturalDates(time.Local)
	}
	if d.maxPartySize < 1 {
		d.maxPartySize = DefaultMaxPartySize
	}
	d.reservation = Collector{Slots: []Slot{
		{Name: SlotDate, Prompt: LineAskDate, Validate: DateValidator(d.dates)},
		{Name: SlotTime, Prompt: LineAskTime, Validate: ValidateTime},
		{Name: SlotPartySize, Prompt: LineAskPartySize, Validate: PartySizeValidator(d.maxPartySize)},
	}}
	d.routes = map[Intent]handlerFunc{
		IntentGreeting:        d.handleGreeting,
		IntentMenuInquiry:     d.handleMenu,
		IntentFAQInquiry:      d.handleFAQ,
		IntentPlaceOrder:      d.handlePlaceOrder,
		IntentMakeReservation: d.handleMakeReservation,
		IntentGoodbye:         d.handleGoodbye,
		IntentError:           d.handleError,
		IntentUnhandled:       d.handleAnswer,
		IntentAnswer:          d.handleAnswer,
	}
	return d
}

// Handle processes one turn for s and returns what the caller hears. Every
// failure ends in an announcement; Handle never returns an error.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, t Turn) (reply Reply) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Turns++
	s.LastIntent = t.Intent
	s.LastActivity = start

	defer func() {
		if rec := recover(); rec != nil {
			reply = Reply{}
			d.fail(ctx, s, &reply, fmt.Errorf("panic in %q handler: %v", t.Intent, rec))
		}
		if reply.Flow == FlowNone {
			reply.Flow = s.Flow
		}
		reply.State = s.State
		reply.Ended = s.Ended
		if d.observer != nil {
			d.observer.TurnHandled(ctx, t.Intent, s.State, time.Since(start))
		}
	}()

	if s.Ended {
		reply.say(d.line(ctx, LineGoodbye, nil))
		return reply
	}

	h, ok := d.routes[t.Intent]
	if !ok {
		h = d.handleAnswer
	}
	if err := h(ctx, s, t, &reply); err != nil {
		d.fail(ctx, s, &reply, err)
	}
	return reply
}

// Greet returns the opening announcement of a call. It does not count as a
// turn.
func (d *Dispatcher) Greet(ctx context.Context, s *Session) Reply {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := Reply{State: s.State}
	r.say(d.line(ctx, LineGreeting, nil))
	return r
}

// Abandon ends the active flow of s without persisting anything.
func (d *Dispatcher) Abandon(ctx context.Context, s *Session, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Flow != FlowNone {
		d.endFlow(ctx, s, &Reply{}, StateAbandoned, reason)
	}
}

// Timeout ends the call after caller silence and returns the closing reply.
func (d *Dispatcher) Timeout(ctx context.Context, s *Session) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r Reply
	if s.Flow != FlowNone {
		d.endFlow(ctx, s, &r, StateAbandoned, "idle_timeout")
	}
	s.Ended = true
	r.say(d.line(ctx, LineIdleTimeout, nil))
	r.State = s.State
	r.Ended = true
	return r
}

func (d *Dispatcher) handleGreeting(ctx context.Context, s *Session, _ Turn, r *Reply) error {
	r.say(d.line(ctx, LineGreeting, nil))
	d.reask(s, r)
	return nil
}

func (d *Dispatcher) handleMenu(ctx context.Context, s *Session, t Turn, r *Reply) error {
	var summary string
	if cat, ok := catalog.LookupCategory(t.slot(SlotCategory)); ok {
		summary = d.menu.Summary(cat)
	}
	if summary == "" {
		summary = d.menu.Summary("")
	}
	if summary == "" {
		r.say(d.line(ctx, LineMenuEmpty, nil))
	} else {
		r.say(d.line(ctx, LineMenu, map[string]any{"Menu": summary}))
	}
	d.reask(s, r)
	return nil
}

func (d *Dispatcher) handleFAQ(ctx context.Context, s *Session, t Turn, r *Reply) error {
	q := t.slot(SlotQuestion)
	if q == "" {
		q = t.Text
	}
	faq, err := d.faqs.Search(q)
	if err != nil {
		rerr := &ResolutionError{Source: "faq", Query: q, Err: err}
		if !errors.Is(err, catalog.ErrNotFound) {
			return rerr
		}
		slog.DebugContext(ctx, "faq miss", slog.String("session_id", s.ID), slog.Any("error", rerr))
		r.say(d.line(ctx, LineFAQNotFound, nil))
		r.say(d.line(ctx, LineStaffOffer, nil))
	} else {
		r.say(d.line(ctx, LineFAQAnswer, map[string]any{"Question": faq.Question, "Answer": faq.Answer}))
	}
	d.reask(s, r)
	return nil
}

func (d *Dispatcher) handlePlaceOrder(ctx context.Context, s *Session, t Turn, r *Reply) error {
	switch s.Flow {
	case FlowOrder:
		return d.orderAnswer(ctx, s, t, r)
	case FlowReservation:
		d.finishFirst(ctx, s, r)
		return nil
	}
	return d.startOrder(ctx, s, t, r)
}

func (d *Dispatcher) handleMakeReservation(ctx context.Context, s *Session, t Turn, r *Reply) error {
	switch s.Flow {
	case FlowReservation:
		return d.reservationAnswer(ctx, s, t, r)
	case FlowOrder:
		d.finishFirst(ctx, s, r)
		return nil
	}
	return d.startReservation(ctx, s, t, r)
}

func (d *Dispatcher) handleGoodbye(ctx context.Context, s *Session, _ Turn, r *Reply) error {
	if s.Flow != FlowNone {
		d.endFlow(ctx, s, r, StateAbandoned, "goodbye")
	}
	r.say(d.line(ctx, LineGoodbye, nil))
	s.Ended = true
	return nil
}

func (d *Dispatcher) handleError(_ context.Context, _ *Session, t Turn, _ *Reply) error {
	return fmt.Errorf("recognizer reported an error: %q", t.Text)
}

func (d *Dispatcher) handleAnswer(ctx context.Context, s *Session, t Turn, r *Reply) error {
	switch s.Flow {
	case FlowOrder:
		return d.orderAnswer(ctx, s, t, r)
	case FlowReservation:
		return d.reservationAnswer(ctx, s, t, r)
	}
	slog.DebugContext(ctx, "fallback", slog.String("session_id", s.ID),
		slog.Any("error", &UnhandledIntentError{Intent: t.Intent, Text: t.Text}))
	r.say(d.line(ctx, LineFallback, nil))
	return nil
}

// fail abandons the active flow and apologizes.
func (d *Dispatcher) fail(ctx context.Context, s *Session, r *Reply, err error) {
	slog.ErrorContext(ctx, "turn failed", slog.String("session_id", s.ID), slog.Any("error", err))
	_ = d.publisher.Emit(ctx, events.SystemError, s.ID, &events.ErrorData{Component: "dialog", Error: err.Error()})
	if s.Flow != FlowNone {
		d.endFlow(ctx, s, r, StateError, "error")
	}
	r.Ask = ""
	r.say(d.line(ctx, LineError, nil))
}

func (d *Dispatcher) finishFirst(ctx context.Context, s *Session, r *Reply) {
	r.say(d.line(ctx, LineFinishFlowFirst, map[string]any{"Flow": string(s.Flow)}))
	d.reask(s, r)
}

// reask repeats the outstanding question of the active flow.
func (d *Dispatcher) reask(s *Session, r *Reply) {
	if s.Flow != FlowNone && s.PendingAsk != "" {
		r.Ask = s.PendingAsk
	}
}

// ask poses a question and remembers it as pending.
func (d *Dispatcher) ask(ctx context.Context, s *Session, r *Reply, key string) {
	s.Pending = key
	s.PendingAsk = d.line(ctx, key, nil)
	r.Ask = s.PendingAsk
}

func (d *Dispatcher) exhausted(s *Session) bool {
	return d.maxAttempts > 0 && s.Attempts >= d.maxAttempts
}

// exhaust gives up on the active flow after repeated failed answers.
func (d *Dispatcher) exhaust(ctx context.Context, s *Session, r *Reply) {
	r.say(d.line(ctx, LineAttemptsExhausted, nil))
	r.say(d.line(ctx, LineStaffOffer, nil))
	d.endFlow(ctx, s, r, StateAborted, "attempts_exhausted")
}

func (d *Dispatcher) beginFlow(ctx context.Context, s *Session, kind FlowKind, trigger Intent) {
	s.Flow = kind
	s.Slots = make(map[string]string)
	s.Attempts = 0
	s.Pending, s.PendingAsk = "", ""
	s.FlowStartedAt = time.Now()
	d.transition(ctx, s, StateStarted, string(trigger))
	_ = d.publisher.Emit(ctx, events.FlowStarted, s.ID, &events.FlowData{Flow: string(kind), State: string(StateStarted)})
	if d.observer != nil {
		d.observer.FlowStarted(ctx, kind)
	}
}

// endFlow moves the flow to a terminal state and detaches it from the
// session. Only completed flows have been persisted.
func (d *Dispatcher) endFlow(ctx context.Context, s *Session, r *Reply, outcome FlowState, reason string) {
	kind := s.Flow
	d.transition(ctx, s, outcome, reason)
	s.Flow = FlowNone
	s.Pending, s.PendingAsk = "", ""
	s.Attempts = 0
	r.Flow = kind
	r.Ask = ""

	if outcome != StateCompleted {
		_ = d.publisher.Emit(ctx, events.FlowAbandoned, s.ID, &events.FlowData{
			Flow:   string(kind),
			State:  string(outcome),
			Reason: reason,
		})
	}
	if d.observer != nil {
		d.observer.FlowEnded(ctx, kind, outcome, time.Since(s.FlowStartedAt))
	}
}

func (d *Dispatcher) transition(ctx context.Context, s *Session, to FlowState, trigger string) {
	from := s.State
	if from == to {
		return
	}
	s.recordTransition(to, trigger)
	_ = d.publisher.Emit(ctx, events.StateTransition, s.ID, &events.StateTransitionData{
		Flow:      string(s.Flow),
		FromState: string(from),
		ToState:   string(to),
		Intent:    trigger,
	})
}

// line renders a script line, falling back to the built-in text when an
// override fails to render.
func (d *Dispatcher) line(ctx context.Context, key string, data any) string {
	if data == nil {
		data = map[string]any{}
	}
	text, err := d.script.Render(key, data)
	if err == nil {
		return text
	}
	slog.WarnContext(ctx, "script line failed to render", slog.String("line", key), slog.Any("error", err))
	text, err = renderTemplate(DefaultLines[key], data)
	if err != nil {
		return DefaultLines[key]
	}
	return text
}
