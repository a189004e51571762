package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/frame/datastore/pool"
	"github.com/rs/xid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ListOptions pages and filters list queries.
type ListOptions struct {
	Limit  int
	Offset int
	Phone  string
	Status string
	Date   string
}

// Repository provides CRUD operations over the restaurant tables.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db(ctx, false).AutoMigrate(&MenuItem{}, &FAQ{}, &Order{}, &Reservation{}, &CallLog{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db(ctx, true).DB()
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func ensureID(id *string) {
	if *id == "" {
		*id = xid.New().String()
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func page(q *gorm.DB, opts ListOptions) *gorm.DB {
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}

// ListMenuItems returns the menu in display order.
func (r *Repository) ListMenuItems(ctx context.Context, onlyAvailable bool) ([]MenuItem, error) {
	var items []MenuItem
	q := r.db(ctx, true).Order("position ASC, created_at ASC")
	if onlyAvailable {
		q = q.Where("available = ?", true)
	}
	err := q.Find(&items).Error
	return items, err
}

// GetMenuItem returns a menu item by ID.
func (r *Repository) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	var item MenuItem
	if err := r.db(ctx, true).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// CreateMenuItem persists a new menu item.
func (r *Repository) CreateMenuItem(ctx context.Context, item *MenuItem) error {
	ensureID(&item.ID)
	return r.db(ctx, false).Create(item).Error
}

// UpdateMenuItem persists changes to a menu item.
func (r *Repository) UpdateMenuItem(ctx context.Context, item *MenuItem) error {
	return r.db(ctx, false).Save(item).Error
}

// DeleteMenuItem soft-deletes a menu item.
func (r *Repository) DeleteMenuItem(ctx context.Context, id string) error {
	return deleteByID(r.db(ctx, false), &MenuItem{}, id)
}

// ListFAQs returns the FAQs in display order.
func (r *Repository) ListFAQs(ctx context.Context) ([]FAQ, error) {
	var faqs []FAQ
	err := r.db(ctx, true).Order("position ASC, created_at ASC").Find(&faqs).Error
	return faqs, err
}

// GetFAQ returns an FAQ by ID.
func (r *Repository) GetFAQ(ctx context.Context, id string) (*FAQ, error) {
	var f FAQ
	if err := r.db(ctx, true).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// CreateFAQ persists a new FAQ.
func (r *Repository) CreateFAQ(ctx context.Context, f *FAQ) error {
	ensureID(&f.ID)
	return r.db(ctx, false).Create(f).Error
}

// UpdateFAQ persists changes to an FAQ.
func (r *Repository) UpdateFAQ(ctx context.Context, f *FAQ) error {
	return r.db(ctx, false).Save(f).Error
}

// DeleteFAQ soft-deletes an FAQ.
func (r *Repository) DeleteFAQ(ctx context.Context, id string) error {
	return deleteByID(r.db(ctx, false), &FAQ{}, id)
}

// CreateOrder persists a new order.
func (r *Repository) CreateOrder(ctx context.Context, o *Order) error {
	ensureID(&o.ID)
	return r.db(ctx, false).Create(o).Error
}

// ListOrders returns orders, newest first.
func (r *Repository) ListOrders(ctx context.Context, opts ListOptions) ([]Order, error) {
	var orders []Order
	q := r.db(ctx, true).Order("created_at DESC")
	if opts.Phone != "" {
		q = q.Where("phone = ?", opts.Phone)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	err := page(q, opts).Find(&orders).Error
	return orders, err
}

// GetOrder returns an order by ID.
func (r *Repository) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	if err := r.db(ctx, true).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// UpdateOrder persists changes to an order.
func (r *Repository) UpdateOrder(ctx context.Context, o *Order) error {
	return r.db(ctx, false).Save(o).Error
}

// UpdateOrderStatus changes the status of an order.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id, status string) error {
	res := r.db(ctx, false).Model(&Order{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrder soft-deletes an order.
func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	return deleteByID(r.db(ctx, false), &Order{}, id)
}

// CreateReservation persists a new reservation.
func (r *Repository) CreateReservation(ctx context.Context, res *Reservation) error {
	ensureID(&res.ID)
	return r.db(ctx, false).Create(res).Error
}

// ListReservations returns reservations ordered by date and time.
func (r *Repository) ListReservations(ctx context.Context, opts ListOptions) ([]Reservation, error) {
	var list []Reservation
	q := r.db(ctx, true).Order("date ASC, time ASC")
	if opts.Phone != "" {
		q = q.Where("phone = ?", opts.Phone)
	}
	if opts.Date != "" {
		q = q.Where("date = ?", opts.Date)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	err := page(q, opts).Find(&list).Error
	return list, err
}

// GetReservation returns a reservation by ID.
func (r *Repository) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	var res Reservation
	if err := r.db(ctx, true).Where("id = ?", id).First(&res).Error; err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

// UpdateReservation persists changes to a reservation.
func (r *Repository) UpdateReservation(ctx context.Context, res *Reservation) error {
	return r.db(ctx, false).Save(res).Error
}

// UpdateReservationStatus changes the status of a reservation.
func (r *Repository) UpdateReservationStatus(ctx context.Context, id, status string) error {
	res := r.db(ctx, false).Model(&Reservation{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReservation soft-deletes a reservation.
func (r *Repository) DeleteReservation(ctx context.Context, id string) error {
	return deleteByID(r.db(ctx, false), &Reservation{}, id)
}

func deleteByID(db *gorm.DB, model any, id string) error {
	res := db.Where("id = ?", id).Delete(model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCallLog persists a new call log row.
func (r *Repository) CreateCallLog(ctx context.Context, c *CallLog) error {
	ensureID(&c.ID)
	return r.db(ctx, false).Create(c).Error
}

// UpdateCallLog persists changes to a call log row.
func (r *Repository) UpdateCallLog(ctx context.Context, c *CallLog) error {
	return r.db(ctx, false).Save(c).Error
}

// GetCallLog returns a call log by ID.
func (r *Repository) GetCallLog(ctx context.Context, id string) (*CallLog, error) {
	var c CallLog
	if err := r.db(ctx, true).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListCallLogs returns call logs, newest first.
func (r *Repository) ListCallLogs(ctx context.Context, opts ListOptions) ([]CallLog, error) {
	var logs []CallLog
	q := r.db(ctx, true).Order("created_at DESC")
	if opts.Phone != "" {
		q = q.Where("phone = ?", opts.Phone)
	}
	err := page(q, opts).Find(&logs).Error
	return logs, err
}
