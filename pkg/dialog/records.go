package dialog

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/tablecall/tablecall/pkg/catalog"
)

// Draft statuses.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
)

// OrderDraft accumulates the items of an order in progress.
type OrderDraft struct {
	ID                  string             `json:"id,omitempty"`
	Phone               string             `json:"phone"`
	Items               []catalog.MenuItem `json:"items"`
	Total               decimal.Decimal    `json:"total"`
	SpecialInstructions string             `json:"special_instructions,omitempty"`
	Status              string             `json:"status"`
}

// Add appends an item and adds its price to the running total.
func (o *OrderDraft) Add(item catalog.MenuItem) {
	o.Items = append(o.Items, item)
	o.Total = o.Total.Add(item.Price)
}

// Names returns the item names in the order they were added.
func (o *OrderDraft) Names() []string {
	names := make([]string, len(o.Items))
	for i, it := range o.Items {
		names[i] = it.Name
	}
	return names
}

// Record builds the persistence shape of the draft.
func (o *OrderDraft) Record() OrderRecord {
	return OrderRecord{
		Phone:               o.Phone,
		Items:               o.Names(),
		Total:               o.Total,
		SpecialInstructions: o.SpecialInstructions,
	}
}

func (o *OrderDraft) clone() *OrderDraft {
	cp := *o
	cp.Items = append([]catalog.MenuItem(nil), o.Items...)
	return &cp
}

// ReservationDraft holds the slots of a reservation in progress.
type ReservationDraft struct {
	ID              string `json:"id,omitempty"`
	Phone           string `json:"phone"`
	Date            string `json:"date,omitempty"`
	Time            string `json:"time,omitempty"`
	PartySize       int    `json:"party_size,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
	Status          string `json:"status"`
}

// Record builds the persistence shape of the draft.
func (r *ReservationDraft) Record() ReservationRecord {
	return ReservationRecord{
		Phone:           r.Phone,
		Date:            r.Date,
		Time:            r.Time,
		PartySize:       r.PartySize,
		SpecialRequests: r.SpecialRequests,
	}
}

// OrderRecord is a finished order handed to the Gateway.
type OrderRecord struct {
	Phone               string          `json:"phone"`
	Items               []string        `json:"items"`
	Total               decimal.Decimal `json:"total"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
}

// MarshalJSON writes the total as a JSON number.
func (o OrderRecord) MarshalJSON() ([]byte, error) {
	type plain OrderRecord
	return json.Marshal(struct {
		plain
		Total json.Number `json:"total"`
	}{plain(o), json.Number(o.Total.String())})
}

// ReservationRecord is a finished reservation handed to the Gateway.
type ReservationRecord struct {
	Phone           string `json:"phone"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	PartySize       int    `json:"party_size"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

// Gateway persists finished records and returns their ids.
type Gateway interface {
	SubmitOrder(ctx context.Context, rec OrderRecord) (string, error)
	SubmitReservation(ctx context.Context, rec ReservationRecord) (string, error)
}

// MenuResolver resolves caller text against the menu.
type MenuResolver interface {
	Resolve(fragment string) (catalog.MenuItem, error)
	Summary(category catalog.Category) string
}

// FAQSearcher answers free-form questions.
type FAQSearcher interface {
	Search(query string) (catalog.FAQ, error)
}
