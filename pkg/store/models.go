package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderStatusNew       = "new"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCollected = "collected"
	OrderStatusCancelled = "cancelled"
)

// Reservation statuses.
const (
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusSeated    = "seated"
	ReservationStatusCancelled = "cancelled"
)

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusNew, OrderStatusPreparing, OrderStatusReady, OrderStatusCollected, OrderStatusCancelled:
		return true
	}
	return false
}

// ValidReservationStatus reports whether s is a known reservation status.
func ValidReservationStatus(s string) bool {
	switch s {
	case ReservationStatusConfirmed, ReservationStatusSeated, ReservationStatusCancelled:
		return true
	}
	return false
}

// Call statuses.
const (
	CallStatusInProgress = "in_progress"
	CallStatusCompleted  = "completed"
	CallStatusAbandoned  = "abandoned"
	CallStatusTimedOut   = "timed_out"
)

// MenuItem is a persisted catalog entry.
type MenuItem struct {
	data.BaseModel

	Name        string          `gorm:"type:varchar(255);not null"           json:"name"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2);not null"          json:"price"`
	Category    string          `gorm:"type:varchar(50);not null;index"      json:"category"`
	Description string          `gorm:"type:text"                            json:"description,omitempty"`
	Available   bool            `gorm:"default:true"                         json:"available"`
	Position    int             `gorm:"default:0"                            json:"position"`
}

func (MenuItem) TableName() string { return "menu_items" }

// FAQ is a persisted question and answer.
type FAQ struct {
	data.BaseModel

	Question string `gorm:"type:text;not null" json:"question"`
	Answer   string `gorm:"type:text;not null" json:"answer"`
	Position int    `gorm:"default:0"          json:"position"`
}

func (FAQ) TableName() string { return "faqs" }

// Order is a placed order.
type Order struct {
	data.BaseModel

	CallID              string          `gorm:"type:varchar(50);index"                    json:"call_id,omitempty"`
	Phone               string          `gorm:"type:varchar(32);not null;index:idx_ord_phone" json:"phone"`
	Name                string          `gorm:"type:varchar(255)"                         json:"name"`
	Items               StringList      `gorm:"type:jsonb;default:'[]'"                   json:"items"`
	Total               decimal.Decimal `gorm:"type:numeric(10,2);not null"               json:"total"`
	SpecialInstructions string          `gorm:"type:text"                                 json:"special_instructions,omitempty"`
	Status              string          `gorm:"type:varchar(20);not null;index:idx_ord_status" json:"status"`
}

func (Order) TableName() string { return "orders" }

// Reservation is a booked table.
type Reservation struct {
	data.BaseModel

	CallID          string `gorm:"type:varchar(50);index"                         json:"call_id,omitempty"`
	Phone           string `gorm:"type:varchar(32);not null;index:idx_res_phone"  json:"phone"`
	Name            string `gorm:"type:varchar(255)"                              json:"name"`
	Date            string `gorm:"type:varchar(10);not null;index:idx_res_date"   json:"date"`
	Time            string `gorm:"type:varchar(5);not null"                       json:"time"`
	PartySize       int    `gorm:"not null"                                       json:"party_size"`
	SpecialRequests string `gorm:"type:text"                                      json:"special_requests,omitempty"`
	Status          string `gorm:"type:varchar(20);not null"                      json:"status"`
}

func (Reservation) TableName() string { return "reservations" }

// CallLog is one row per inbound call.
type CallLog struct {
	data.BaseModel

	Phone      string       `gorm:"type:varchar(32);index:idx_call_phone"  json:"phone"`
	Channel    string       `gorm:"type:varchar(20)"                       json:"channel"`
	Status     string       `gorm:"type:varchar(20);not null;index"        json:"status"`
	Turns      int          `gorm:"default:0"                              json:"turns"`
	LastIntent string       `gorm:"type:varchar(50)"                       json:"last_intent,omitempty"`
	Outcome    string       `gorm:"type:varchar(50)"                       json:"outcome,omitempty"`
	DurationMs int64        `gorm:"default:0"                              json:"duration_ms"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    sql.NullTime `json:"ended_at,omitempty"`
}

func (CallLog) TableName() string { return "call_logs" }

// StringList is a custom GORM type for JSONB storage of string lists.
type StringList []string

func (l StringList) Value() (any, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		*l = StringList{}
		return nil
	}
}
