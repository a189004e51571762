package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/events"
)

// InvalidRecordError rejects a record before it reaches the database.
type InvalidRecordError struct {
	Field   string
	Message string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Records is the persistence surface the Recorder writes through.
type Records interface {
	CreateOrder(ctx context.Context, o *Order) error
	CreateReservation(ctx context.Context, r *Reservation) error
	CreateCallLog(ctx context.Context, c *CallLog) error
	UpdateCallLog(ctx context.Context, c *CallLog) error
}

// RecorderConfig holds validation settings.
type RecorderConfig struct {
	PhoneRegion  string
	MaxPartySize int
}

// Recorder validates finished orders and reservations, normalizes the
// caller's phone number, persists them and publishes completion events.
// It is the dialogue's persistence gateway.
type Recorder struct {
	records   Records
	publisher *events.Publisher
	config    RecorderConfig
}

// NewRecorder creates a recorder.
func NewRecorder(records Records, pub *events.Publisher, cfg RecorderConfig) *Recorder {
	if cfg.MaxPartySize < 1 {
		cfg.MaxPartySize = dialog.DefaultMaxPartySize
	}
	return &Recorder{records: records, publisher: pub, config: cfg}
}

type callIDKey struct{}

// WithCallID tags ctx with the call a submission belongs to.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallIDFrom returns the call id set by WithCallID.
func CallIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// Submission carries metadata that is not part of the record shape.
type Submission struct {
	CallID string
	Name   string
}

// SubmitOrder implements dialog.Gateway.
func (r *Recorder) SubmitOrder(ctx context.Context, rec dialog.OrderRecord) (string, error) {
	o, err := r.SaveOrder(ctx, rec, Submission{CallID: CallIDFrom(ctx)})
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// SubmitReservation implements dialog.Gateway.
func (r *Recorder) SubmitReservation(ctx context.Context, rec dialog.ReservationRecord) (string, error) {
	res, err := r.SaveReservation(ctx, rec, Submission{CallID: CallIDFrom(ctx)})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// OrderFromRecord validates rec and builds the order row it describes.
func (r *Recorder) OrderFromRecord(rec dialog.OrderRecord, sub Submission) (*Order, error) {
	phone, err := NormalizePhone(rec.Phone, r.config.PhoneRegion)
	if err != nil {
		return nil, &InvalidRecordError{Field: "phone", Message: err.Error()}
	}
	items := make(StringList, 0, len(rec.Items))
	for _, it := range rec.Items {
		if it = strings.TrimSpace(it); it != "" {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil, &InvalidRecordError{Field: "items", Message: "order must contain at least one item"}
	}
	if rec.Total.IsNegative() {
		return nil, &InvalidRecordError{Field: "total", Message: "order total must not be negative"}
	}
	if !rec.Total.Equal(rec.Total.Round(2)) {
		return nil, &InvalidRecordError{Field: "total", Message: "order total must have at most two decimal places"}
	}

	return &Order{
		CallID:              sub.CallID,
		Phone:               phone,
		Name:                nameOrUnknown(sub.Name),
		Items:               items,
		Total:               rec.Total,
		SpecialInstructions: strings.TrimSpace(rec.SpecialInstructions),
		Status:              OrderStatusNew,
	}, nil
}

// SaveOrder validates and persists an order.
func (r *Recorder) SaveOrder(ctx context.Context, rec dialog.OrderRecord, sub Submission) (*Order, error) {
	o, err := r.OrderFromRecord(rec, sub)
	if err != nil {
		return nil, err
	}
	if err := r.records.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	_ = r.publisher.Emit(ctx, events.OrderCompleted, sub.CallID, &events.OrderCompletedData{
		OrderID:             o.ID,
		Phone:               o.Phone,
		Items:               []string(o.Items),
		Total:               o.Total.StringFixed(2),
		SpecialInstructions: o.SpecialInstructions,
	})
	return o, nil
}

// ReservationFromRecord validates rec and builds the reservation row it
// describes.
func (r *Recorder) ReservationFromRecord(rec dialog.ReservationRecord, sub Submission) (*Reservation, error) {
	phone, err := NormalizePhone(rec.Phone, r.config.PhoneRegion)
	if err != nil {
		return nil, &InvalidRecordError{Field: "phone", Message: err.Error()}
	}
	if _, err := time.Parse(dialog.DateLayout, rec.Date); err != nil {
		return nil, &InvalidRecordError{Field: "date", Message: "invalid date format, use YYYY-MM-DD"}
	}
	if _, err := dialog.ValidateTime(rec.Time); err != nil {
		return nil, &InvalidRecordError{Field: "time", Message: "invalid time format, use HH:MM (24h)"}
	}
	if rec.PartySize < 1 || rec.PartySize > r.config.MaxPartySize {
		return nil, &InvalidRecordError{
			Field:   "party_size",
			Message: fmt.Sprintf("party size must be between 1 and %d", r.config.MaxPartySize),
		}
	}

	return &Reservation{
		CallID:          sub.CallID,
		Phone:           phone,
		Name:            nameOrUnknown(sub.Name),
		Date:            rec.Date,
		Time:            rec.Time,
		PartySize:       rec.PartySize,
		SpecialRequests: strings.TrimSpace(rec.SpecialRequests),
		Status:          ReservationStatusConfirmed,
	}, nil
}

// SaveReservation validates and persists a reservation.
func (r *Recorder) SaveReservation(ctx context.Context, rec dialog.ReservationRecord, sub Submission) (*Reservation, error) {
	res, err := r.ReservationFromRecord(rec, sub)
	if err != nil {
		return nil, err
	}
	if err := r.records.CreateReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	_ = r.publisher.Emit(ctx, events.ReservationCompleted, sub.CallID, &events.ReservationCompletedData{
		ReservationID:   res.ID,
		Phone:           res.Phone,
		Date:            res.Date,
		Time:            res.Time,
		PartySize:       res.PartySize,
		SpecialRequests: res.SpecialRequests,
	})
	return res, nil
}

func nameOrUnknown(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "Unknown"
}

// CallSummary describes how a call ended.
type CallSummary struct {
	Status     string
	Turns      int
	LastIntent string
	Outcome    string
}

// StartCall writes the call log row for a new call.
func (r *Recorder) StartCall(ctx context.Context, id, phone, channel string) (*CallLog, error) {
	c := &CallLog{Phone: phone, Channel: channel, Status: CallStatusInProgress, StartedAt: time.Now()}
	c.ID = id
	if err := r.records.CreateCallLog(ctx, c); err != nil {
		return nil, fmt.Errorf("create call log: %w", err)
	}
	return c, nil
}

// EndCall completes the call log row.
func (r *Recorder) EndCall(ctx context.Context, c *CallLog, sum CallSummary) error {
	if c == nil {
		return errors.New("end call: no call log")
	}
	now := time.Now()
	c.Status = sum.Status
	c.Turns = sum.Turns
	c.LastIntent = sum.LastIntent
	c.Outcome = sum.Outcome
	c.DurationMs = now.Sub(c.StartedAt).Milliseconds()
	c.EndedAt.Time, c.EndedAt.Valid = now, true
	if err := r.records.UpdateCallLog(ctx, c); err != nil {
		return fmt.Errorf("update call log: %w", err)
	}
	return nil
}
