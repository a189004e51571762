package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/tablecall/tablecall/pkg/events"
)

// ErrNotFound is returned when an endpoint or dead letter does not exist.
var ErrNotFound = errors.New("not found")

// Repository stores staff endpoints and their delivery history.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new notify repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the notify tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db(ctx, false).AutoMigrate(&StaffEndpoint{}, &DeliveryAttempt{}, &DeadLetter{}); err != nil {
		return fmt.Errorf("migrate notify: %w", err)
	}
	return nil
}

// CreateEndpoint persists a new staff endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, ep *StaffEndpoint) error {
	if ep.ID == "" {
		ep.ID = xid.New().String()
	}
	return r.db(ctx, false).Create(ep).Error
}

// GetByID returns an endpoint by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*StaffEndpoint, error) {
	var ep StaffEndpoint
	err := r.db(ctx, true).Where("id = ?", id).First(&ep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListByEventType returns active endpoints subscribed to the given event type.
func (r *Repository) ListByEventType(ctx context.Context, et events.EventType) ([]StaffEndpoint, error) {
	var endpoints []StaffEndpoint
	err := r.db(ctx, true).
		Where("is_active = ? AND event_types @> ?", true, fmt.Sprintf(`[%q]`, et)).
		Find(&endpoints).Error
	return endpoints, err
}

// ListAll returns all endpoints.
func (r *Repository) ListAll(ctx context.Context) ([]StaffEndpoint, error) {
	var endpoints []StaffEndpoint
	err := r.db(ctx, true).Order("created_at ASC").Find(&endpoints).Error
	return endpoints, err
}

// Update persists changes to an endpoint.
func (r *Repository) Update(ctx context.Context, ep *StaffEndpoint) error {
	return r.db(ctx, false).Save(ep).Error
}

// Delete soft-deletes an endpoint.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db(ctx, false).Where("id = ?", id).Delete(&StaffEndpoint{}).Error
}

// UpdateCircuit records the breaker state of an endpoint. Entering the open
// state counts as a failure.
func (r *Repository) UpdateCircuit(ctx context.Context, id, state string) error {
	updates := map[string]any{"circuit_state": state}
	if state == "open" {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
		updates["last_failure_at"] = time.Now()
	}
	return r.db(ctx, false).Model(&StaffEndpoint{}).Where("id = ?", id).Updates(updates).Error
}

// RecordDelivery persists a delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, da *DeliveryAttempt) error {
	if da.ID == "" {
		da.ID = xid.New().String()
	}
	return r.db(ctx, false).Create(da).Error
}

// ListDeliveries returns delivery attempts for an endpoint, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]DeliveryAttempt, error) {
	var attempts []DeliveryAttempt
	q := r.db(ctx, true).
		Where("endpoint_id = ?", endpointID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&attempts).Error
	return attempts, err
}

// CreateDeadLetter persists a dead-lettered event.
func (r *Repository) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	if dl.ID == "" {
		dl.ID = xid.New().String()
	}
	return r.db(ctx, false).Create(dl).Error
}

// GetDeadLetter returns a replayable dead letter of an endpoint.
func (r *Repository) GetDeadLetter(ctx context.Context, endpointID, id string) (*DeadLetter, error) {
	var dl DeadLetter
	err := r.db(ctx, true).
		Where("id = ? AND endpoint_id = ? AND replayable = ?", id, endpointID, true).
		First(&dl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// ListDeadLetters returns replayable dead letters for an endpoint.
func (r *Repository) ListDeadLetters(ctx context.Context, endpointID string) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := r.db(ctx, true).
		Where("endpoint_id = ? AND replayable = ?", endpointID, true).
		Order("created_at DESC").
		Find(&letters).Error
	return letters, err
}

// MarkDeadLetterReplayed marks a dead letter as no longer replayable.
func (r *Repository) MarkDeadLetterReplayed(ctx context.Context, id string) error {
	return r.db(ctx, false).
		Model(&DeadLetter{}).
		Where("id = ?", id).
		Update("replayable", false).Error
}
