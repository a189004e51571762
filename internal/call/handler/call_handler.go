package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"
	"github.com/rs/xid"

	"github.com/tablecall/tablecall/pkg/callapi"
	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/events"
	"github.com/tablecall/tablecall/pkg/store"
)

const (
	reaperInterval = 1 * time.Minute
	endCallWait    = 5 * time.Second
	turnAcceptWait = 5 * time.Second
)

var _ callapi.CallServiceHandler = (*CallHandler)(nil)

// CallLogger records the lifetime of a call.
type CallLogger interface {
	StartCall(ctx context.Context, id, phone, channel string) (*store.CallLog, error)
	EndCall(ctx context.Context, c *store.CallLog, sum store.CallSummary) error
}

// Config holds call handling settings.
type Config struct {
	IdleTimeout time.Duration
	SessionTTL  time.Duration
	PhoneRegion string
}

type activeCall struct {
	session *dialog.Session
	log     *store.CallLog
	turns   chan dialog.Turn
	replies chan dialog.Reply
	cancel  context.CancelFunc
	done    chan struct{} // closed when the conversation loop exits

	// mu serializes turns and guards hungUp, owed and late.
	mu     sync.Mutex
	hungUp bool
	// owed counts replies still due for turns whose request gave up
	// waiting. late holds those replies once read, until a request can
	// deliver them.
	owed int
	late []dialog.Reply

	stateMu sync.Mutex
	reason  string
	status  string
}

// callStore holds active calls.
type callStore struct {
	mu    sync.RWMutex
	calls map[string]*activeCall
}

// CallHandler implements callapi.CallServiceHandler. Each call runs its
// conversation loop on the worker pool; RPCs feed it turns and wait for the
// reply.
type CallHandler struct {
	dispatcher *dialog.Dispatcher
	logger     CallLogger
	publisher  *events.Publisher
	pool       workerpool.WorkerPool
	config     Config
	store      callStore
}

// NewCallHandler creates a call service handler.
func NewCallHandler(d *dialog.Dispatcher, logger CallLogger, pub *events.Publisher, pool workerpool.WorkerPool, cfg Config) *CallHandler {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	return &CallHandler{
		dispatcher: d,
		logger:     logger,
		publisher:  pub,
		pool:       pool,
		config:     cfg,
		store:      callStore{calls: make(map[string]*activeCall)},
	}
}

// StartReaper begins the background session TTL reaper.
func (h *CallHandler) StartReaper(ctx context.Context) {
	reap := func() {
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.reapStaleCalls(time.Now())
			}
		}
	}
	if h.pool != nil {
		_ = h.pool.Submit(ctx, reap)
	} else {
		go reap()
	}
}

func (h *CallHandler) reapStaleCalls(now time.Time) int {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	n := 0
	for id, ac := range h.store.calls {
		if now.Sub(ac.session.StartTime) > h.config.SessionTTL {
			slog.Warn("reaping stale call", slog.String("call_id", id))
			ac.cancel()
			n++
		}
	}
	return n
}

func (h *CallHandler) lookup(id string) (*activeCall, error) {
	h.store.mu.RLock()
	ac, ok := h.store.calls[id]
	h.store.mu.RUnlock()
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("call %q not found", id))
	}
	return ac, nil
}

func (h *CallHandler) StartCall(ctx context.Context, req *connect.Request[callapi.StartCallRequest]) (*connect.Response[callapi.StartCallResponse], error) {
	phone, err := store.NormalizePhone(req.Msg.Phone, h.config.PhoneRegion)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	id := req.Msg.CallID
	if id == "" {
		id = xid.New().String()
	}
	channel := req.Msg.Channel
	if channel == "" {
		channel = "voice"
	}

	session := dialog.NewSession(id, phone, req.Msg.Variables)

	// The conversation outlives individual RPCs; it is cancelled by EndCall
	// or the reaper.
	callCtx, cancel := context.WithCancel(store.WithCallID(context.Background(), id))
	ac := &activeCall{
		session: session,
		turns:   make(chan dialog.Turn),
		replies: make(chan dialog.Reply, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	h.store.mu.Lock()
	if _, exists := h.store.calls[id]; exists {
		h.store.mu.Unlock()
		cancel()
		return nil, connect.NewError(connect.CodeAlreadyExists, fmt.Errorf("call %q already active", id))
	}
	h.store.calls[id] = ac
	h.store.mu.Unlock()

	if h.logger != nil {
		ac.log, err = h.logger.StartCall(ctx, id, phone, channel)
		if err != nil {
			util.Log(ctx).WithError(err).Error("call handler: start call log")
		}
	}
	_ = h.publisher.Emit(ctx, events.CallStarted, id, &events.CallStartedData{Phone: phone, Channel: channel})

	loop := func() { h.runCall(callCtx, ac) }
	if h.pool != nil {
		if err := h.pool.Submit(callCtx, loop); err != nil {
			h.store.mu.Lock()
			delete(h.store.calls, id)
			h.store.mu.Unlock()
			cancel()
			return nil, connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("no capacity for call: %w", err))
		}
	} else {
		go loop()
	}

	return connect.NewResponse(&callapi.StartCallResponse{
		CallID: id,
		Reply:  toReply(h.dispatcher.Greet(ctx, session)),
	}), nil
}

func (h *CallHandler) SendTurn(ctx context.Context, req *connect.Request[callapi.SendTurnRequest]) (*connect.Response[callapi.SendTurnResponse], error) {
	ac, err := h.lookup(req.Msg.CallID)
	if err != nil {
		return nil, err
	}
	turn := dialog.Turn{
		Intent: dialog.ParseIntent(req.Msg.Intent),
		Text:   req.Msg.Text,
		Slots:  req.Msg.Slots,
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.hungUp {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("call %q has ended", req.Msg.CallID))
	}

	select {
	case ac.turns <- turn:
	case <-ac.done:
		if r, ok := ac.drain(); ok {
			return connect.NewResponse(&callapi.SendTurnResponse{Reply: toReply(r)}), nil
		}
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("call %q has ended", req.Msg.CallID))
	case <-ctx.Done():
		return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
	case <-time.After(turnAcceptWait):
		return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("conversation busy, cannot accept turn"))
	}

	// Replies arrive in turn order, so replies owed to abandoned requests
	// come first and are carried into this response.
	for {
		select {
		case r := <-ac.replies:
			if ac.owed > 0 {
				ac.owed--
				ac.late = append(ac.late, r)
				continue
			}
			return connect.NewResponse(&callapi.SendTurnResponse{Reply: toReply(ac.withLate(r))}), nil
		case <-ac.done:
			if r, ok := ac.drain(); ok {
				return connect.NewResponse(&callapi.SendTurnResponse{Reply: toReply(r)}), nil
			}
			return nil, connect.NewError(connect.CodeAborted, fmt.Errorf("call %q ended before replying", req.Msg.CallID))
		case <-ctx.Done():
			ac.owed++
			return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
		}
	}
}

// withLate prefixes r with the announcements of late replies and clears
// them. The caller must hold ac.mu.
func (ac *activeCall) withLate(r dialog.Reply) dialog.Reply {
	if len(ac.late) == 0 {
		return r
	}
	var say []string
	for _, l := range ac.late {
		say = append(say, l.Say...)
	}
	r.Say = append(say, r.Say...)
	ac.late = nil
	return r
}

// drain collects whatever replies the finished loop left behind. The
// caller must hold ac.mu.
func (ac *activeCall) drain() (dialog.Reply, bool) {
	for len(ac.replies) > 0 {
		ac.late = append(ac.late, <-ac.replies)
	}
	if len(ac.late) == 0 {
		return dialog.Reply{}, false
	}
	last := ac.late[len(ac.late)-1]
	ac.late = ac.late[:len(ac.late)-1]
	ac.owed = 0
	return ac.withLate(last), true
}

func (h *CallHandler) EndCall(_ context.Context, req *connect.Request[callapi.EndCallRequest]) (*connect.Response[callapi.EndCallResponse], error) {
	ac, err := h.lookup(req.Msg.CallID)
	if err != nil {
		return nil, err
	}

	ac.stateMu.Lock()
	ac.reason = req.Msg.Reason
	ac.stateMu.Unlock()

	ac.mu.Lock()
	if !ac.hungUp {
		ac.hungUp = true
		close(ac.turns)
	}
	ac.mu.Unlock()

	select {
	case <-ac.done:
	case <-time.After(endCallWait):
		slog.Warn("conversation loop did not exit in time", slog.String("call_id", req.Msg.CallID))
		ac.cancel()
	}

	ac.stateMu.Lock()
	status := ac.status
	ac.stateMu.Unlock()
	if status == "" {
		status = store.CallStatusAbandoned
	}
	return connect.NewResponse(&callapi.EndCallResponse{Status: status, Turns: ac.session.Snapshot().Turns}), nil
}

func (h *CallHandler) GetCall(_ context.Context, req *connect.Request[callapi.GetCallRequest]) (*connect.Response[callapi.GetCallResponse], error) {
	ac, err := h.lookup(req.Msg.CallID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&callapi.GetCallResponse{Call: toCall(ac.session.Snapshot())}), nil
}

// runCall drives one conversation and records how it ended.
func (h *CallHandler) runCall(ctx context.Context, ac *activeCall) {
	defer close(ac.done)
	defer ac.cancel()

	err := h.dispatcher.Run(ctx, ac.session, ac.turns, ac.replies, h.config.IdleTimeout)

	h.store.mu.Lock()
	if h.store.calls[ac.session.ID] == ac {
		delete(h.store.calls, ac.session.ID)
	}
	h.store.mu.Unlock()

	snap := ac.session.Snapshot()
	status, reason := callStatus(err, snap)
	ac.stateMu.Lock()
	if ac.reason != "" {
		reason = ac.reason
	}
	ac.status = status
	ac.stateMu.Unlock()

	bg := context.WithoutCancel(ctx)
	if h.logger != nil && ac.log != nil {
		if lerr := h.logger.EndCall(bg, ac.log, store.CallSummary{
			Status:     status,
			Turns:      snap.Turns,
			LastIntent: string(snap.LastIntent),
			Outcome:    lastOutcome(snap),
		}); lerr != nil {
			util.Log(bg).WithError(lerr).Error("call handler: end call log")
		}
	}
	_ = h.publisher.Emit(bg, events.CallEnded, snap.ID, &events.CallEndedData{
		Reason:     reason,
		DurationMs: time.Since(snap.StartTime).Milliseconds(),
		Turns:      snap.Turns,
		LastIntent: string(snap.LastIntent),
	})
	slog.InfoContext(bg, "call ended",
		slog.String("call_id", snap.ID),
		slog.String("status", status),
		slog.String("reason", reason),
		slog.Int("turns", snap.Turns))
}

func callStatus(err error, snap dialog.Snapshot) (status, reason string) {
	switch {
	case errors.Is(err, dialog.ErrIdleTimeout):
		return store.CallStatusTimedOut, "idle_timeout"
	case err != nil:
		return store.CallStatusAbandoned, "cancelled"
	case snap.Ended:
		return store.CallStatusCompleted, "goodbye"
	default:
		return store.CallStatusCompleted, "hangup"
	}
}

// lastOutcome is the terminal state of the last flow of the call.
func lastOutcome(snap dialog.Snapshot) string {
	for i := len(snap.History) - 1; i >= 0; i-- {
		switch st := snap.History[i].ToState; st {
		case dialog.StateCompleted, dialog.StateAborted, dialog.StateFailed, dialog.StateAbandoned, dialog.StateError:
			return string(snap.History[i].Flow) + ":" + string(st)
		}
	}
	return ""
}

func toReply(r dialog.Reply) callapi.Reply {
	return callapi.Reply{
		Say:   r.Say,
		Ask:   r.Ask,
		Text:  r.Text(),
		Flow:  string(r.Flow),
		State: string(r.State),
		Ended: r.Ended,
	}
}

func toCall(s dialog.Snapshot) callapi.Call {
	c := callapi.Call{
		CallID:     s.ID,
		Phone:      s.Phone,
		Flow:       string(s.Flow),
		State:      string(s.State),
		Pending:    s.Pending,
		Slots:      s.Slots,
		Turns:      s.Turns,
		LastIntent: string(s.LastIntent),
		Ended:      s.Ended,
		StartedAt:  s.StartTime,
		History:    make([]callapi.StateRecord, 0, len(s.History)),
	}
	if s.Order != nil {
		c.Order = &callapi.Order{
			Items:               s.Order.Names(),
			Total:               s.Order.Total.StringFixed(2),
			SpecialInstructions: s.Order.SpecialInstructions,
		}
	}
	if s.Reservation != nil {
		c.Reservation = &callapi.Reservation{
			Date:            s.Reservation.Date,
			Time:            s.Reservation.Time,
			PartySize:       s.Reservation.PartySize,
			SpecialRequests: s.Reservation.SpecialRequests,
		}
	}
	for _, r := range s.History {
		c.History = append(c.History, callapi.StateRecord{
			Flow:      string(r.Flow),
			FromState: string(r.FromState),
			ToState:   string(r.ToState),
			Trigger:   r.Trigger,
			Timestamp: r.Timestamp,
		})
	}
	return c
}
