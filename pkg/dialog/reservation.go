package dialog

import (
	"context"
	"errors"
	"strconv"
)

var slotStates = map[string]FlowState{
	SlotDate:      StateDate,
	SlotTime:      StateTime,
	SlotPartySize: StatePartySize,
}

// startReservation opens a reservation draft. Valid values extracted from
// the opening turn fill their slots without being asked for.
func (d *Dispatcher) startReservation(ctx context.Context, s *Session, t Turn, r *Reply) error {
	d.beginFlow(ctx, s, FlowReservation, t.Intent)
	s.Reservation = &ReservationDraft{Phone: s.Phone, Status: StatusPending}
	s.Order = nil
	r.say(d.line(ctx, LineReservationStart, nil))
	d.captureRequests(s, t)
	d.reservation.Prefill(s, t.Slots)
	return d.advanceReservation(ctx, s, t, r)
}

func (d *Dispatcher) reservationAnswer(ctx context.Context, s *Session, t Turn, r *Reply) error {
	d.captureRequests(s, t)
	sl, ok := d.reservation.Next(s.Slots)
	if !ok {
		return d.advanceReservation(ctx, s, t, r)
	}

	raw := t.slot(sl.Name)
	if raw == "" {
		raw = t.Text
	}
	if err := d.reservation.Offer(s, sl, raw); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		r.say(verr.Message)
		if d.exhausted(s) {
			d.exhaust(ctx, s, r)
			return nil
		}
		d.reask(s, r)
		return nil
	}
	d.reservation.Prefill(s, t.Slots)
	return d.advanceReservation(ctx, s, t, r)
}

func (d *Dispatcher) captureRequests(s *Session, t Turn) {
	if v := t.slot(SlotSpecialRequests); v != "" {
		s.Reservation.SpecialRequests = v
	}
}

// advanceReservation asks for the next empty slot or, when all are filled,
// persists the reservation.
func (d *Dispatcher) advanceReservation(ctx context.Context, s *Session, t Turn, r *Reply) error {
	if sl, ok := d.reservation.Next(s.Slots); ok {
		d.transition(ctx, s, slotStates[sl.Name], string(t.Intent))
		d.ask(ctx, s, r, sl.Prompt)
		return nil
	}

	res := s.Reservation
	res.Date = s.Slots[SlotDate]
	res.Time = s.Slots[SlotTime]
	size, err := strconv.Atoi(s.Slots[SlotPartySize])
	if err != nil {
		return err
	}
	res.PartySize = size

	d.transition(ctx, s, StateFinalizing, string(t.Intent))
	id, err := d.gateway.SubmitReservation(ctx, res.Record())
	if err != nil {
		d.persistenceFailed(ctx, s, &PersistenceError{Flow: FlowReservation, Err: err})
		r.say(d.line(ctx, LineReservationFailed, nil))
		r.say(d.line(ctx, LineStaffOffer, nil))
		d.endFlow(ctx, s, r, StateFailed, "persistence_failed")
		return nil
	}

	res.ID = id
	res.Status = StatusSubmitted
	r.say(d.line(ctx, LineReservationConfirmed, map[string]any{
		"PartySize": res.PartySize,
		"Date":      res.Date,
		"Time":      res.Time,
		"ID":        id,
	}))
	d.endFlow(ctx, s, r, StateCompleted, "submitted")
	r.Ask = d.line(ctx, LineAnythingElse, nil)
	return nil
}
