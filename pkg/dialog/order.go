package dialog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tablecall/tablecall/pkg/catalog"
	"github.com/tablecall/tablecall/pkg/events"
)

// startOrder opens an order draft. An item named in the opening turn is
// taken as the first answer.
func (d *Dispatcher) startOrder(ctx context.Context, s *Session, t Turn, r *Reply) error {
	d.beginFlow(ctx, s, FlowOrder, t.Intent)
	s.Order = &OrderDraft{Phone: s.Phone, Status: StatusPending}
	s.Reservation = nil
	r.say(d.line(ctx, LineOrderStart, nil))
	d.captureInstructions(s, t)
	d.transition(ctx, s, StateCollectingItems, string(t.Intent))

	if item := t.slot(SlotItem); item != "" {
		return d.offerItem(ctx, s, item, r)
	}
	d.ask(ctx, s, r, LineOrderAskItem)
	return nil
}

func (d *Dispatcher) orderAnswer(ctx context.Context, s *Session, t Turn, r *Reply) error {
	d.captureInstructions(s, t)
	raw := t.slot(SlotItem)
	if raw == "" {
		raw = t.Text
	}
	return d.offerItem(ctx, s, raw, r)
}

func (d *Dispatcher) captureInstructions(s *Session, t Turn) {
	if v := t.slot(SlotSpecialInstructions); v != "" {
		s.Order.SpecialInstructions = v
	}
}

func (d *Dispatcher) offerItem(ctx context.Context, s *Session, raw string, r *Reply) error {
	ans := ParseItemAnswer(raw)
	if ans.Kind == ItemSentinel {
		return d.finishOrder(ctx, s, r)
	}

	item, err := d.menu.Resolve(ans.Text)
	if err != nil {
		rerr := &ResolutionError{Source: "menu", Query: ans.Text, Err: err}
		if !errors.Is(err, catalog.ErrNotFound) {
			return rerr
		}
		s.Attempts++
		r.say(d.line(ctx, LineOrderItemNotFound, map[string]any{"Query": ans.Text}))
		if d.exhausted(s) {
			d.exhaust(ctx, s, r)
			return nil
		}
		d.ask(ctx, s, r, LineOrderAskItem)
		return nil
	}

	s.Attempts = 0
	s.Order.Add(item)
	r.say(d.line(ctx, LineOrderItemAdded, map[string]any{"Item": item.Name, "Total": s.Order.Total}))
	d.ask(ctx, s, r, LineOrderAskItem)
	return nil
}

// finishOrder persists a non-empty draft exactly once. An empty draft is
// dropped without persistence or confirmation.
func (d *Dispatcher) finishOrder(ctx context.Context, s *Session, r *Reply) error {
	if len(s.Order.Items) == 0 {
		r.say(d.line(ctx, LineOrderCancelled, nil))
		d.endFlow(ctx, s, r, StateAborted, "empty_order")
		r.Ask = d.line(ctx, LineAnythingElse, nil)
		return nil
	}

	d.transition(ctx, s, StateFinalizing, DoneWord)
	id, err := d.gateway.SubmitOrder(ctx, s.Order.Record())
	if err != nil {
		perr := &PersistenceError{Flow: FlowOrder, Err: err}
		d.persistenceFailed(ctx, s, perr)
		r.say(d.line(ctx, LineOrderFailed, nil))
		r.say(d.line(ctx, LineStaffOffer, nil))
		d.endFlow(ctx, s, r, StateFailed, "persistence_failed")
		return nil
	}

	s.Order.ID = id
	s.Order.Status = StatusSubmitted
	r.say(d.line(ctx, LineOrderConfirmed, map[string]any{
		"Items": s.Order.Names(),
		"Total": s.Order.Total,
		"ID":    id,
	}))
	d.endFlow(ctx, s, r, StateCompleted, "submitted")
	r.Ask = d.line(ctx, LineAnythingElse, nil)
	return nil
}

func (d *Dispatcher) persistenceFailed(ctx context.Context, s *Session, perr *PersistenceError) {
	slog.ErrorContext(ctx, "submit failed", slog.String("session_id", s.ID), slog.Any("error", perr))
	_ = d.publisher.Emit(ctx, events.PersistenceFailed, s.ID, &events.PersistenceFailedData{
		Flow:  string(perr.Flow),
		Error: perr.Err.Error(),
	})
}
