package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablecall/tablecall/pkg/store"
)

// MenuItemRequest is the body for creating or replacing a menu item.
type MenuItemRequest struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Available   *bool           `json:"available,omitempty"`
	Position    int             `json:"position,omitempty"`
}

type MenuItemResponse struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Price       json.Number `json:"price"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Available   bool        `json:"available"`
	Position    int         `json:"position"`
}

// FAQRequest is the body for creating or replacing an FAQ.
type FAQRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Position int    `json:"position,omitempty"`
}

type FAQResponse struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Position int    `json:"position"`
}

// OrderRequest is the body for replacing an order.
type OrderRequest struct {
	Phone               string          `json:"phone"`
	Name                string          `json:"name"`
	Items               []string        `json:"items"`
	Total               decimal.Decimal `json:"total"`
	SpecialInstructions string          `json:"special_instructions"`
	Status              string          `json:"status,omitempty"`
}

type OrderResponse struct {
	ID                  string      `json:"id"`
	CallID              string      `json:"call_id,omitempty"`
	Phone               string      `json:"phone"`
	Name                string      `json:"name"`
	Items               []string    `json:"items"`
	Total               json.Number `json:"total"`
	SpecialInstructions string      `json:"special_instructions"`
	Status              string      `json:"status"`
	CreatedAt           string      `json:"created_at"`
}

// ReservationRequest is the body for replacing a reservation.
type ReservationRequest struct {
	Phone           string `json:"phone"`
	Name            string `json:"name"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	PartySize       int    `json:"party_size"`
	SpecialRequests string `json:"special_requests"`
	Status          string `json:"status,omitempty"`
}

type ReservationResponse struct {
	ID              string `json:"id"`
	CallID          string `json:"call_id,omitempty"`
	Phone           string `json:"phone"`
	Name            string `json:"name"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	PartySize       int    `json:"party_size"`
	SpecialRequests string `json:"special_requests"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

type CallLogResponse struct {
	ID         string `json:"id"`
	Phone      string `json:"phone"`
	Channel    string `json:"channel"`
	Status     string `json:"status"`
	Turns      int    `json:"turns"`
	LastIntent string `json:"last_intent,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
}

// StatusRequest changes the status of an order or reservation.
type StatusRequest struct {
	Status string `json:"status"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func toMenuItemResponse(m *store.MenuItem) MenuItemResponse {
	return MenuItemResponse{
		ID:          m.ID,
		Name:        m.Name,
		Price:       money(m.Price),
		Category:    m.Category,
		Description: m.Description,
		Available:   m.Available,
		Position:    m.Position,
	}
}

func toFAQResponse(f *store.FAQ) FAQResponse {
	return FAQResponse{ID: f.ID, Question: f.Question, Answer: f.Answer, Position: f.Position}
}

func toOrderResponse(o *store.Order) OrderResponse {
	items := []string(o.Items)
	if items == nil {
		items = []string{}
	}
	return OrderResponse{
		ID:                  o.ID,
		CallID:              o.CallID,
		Phone:               o.Phone,
		Name:                o.Name,
		Items:               items,
		Total:               money(o.Total),
		SpecialInstructions: o.SpecialInstructions,
		Status:              o.Status,
		CreatedAt:           o.CreatedAt.Format(time.RFC3339),
	}
}

func toReservationResponse(r *store.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:              r.ID,
		CallID:          r.CallID,
		Phone:           r.Phone,
		Name:            r.Name,
		Date:            r.Date,
		Time:            r.Time,
		PartySize:       r.PartySize,
		SpecialRequests: r.SpecialRequests,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
}

func toCallLogResponse(c *store.CallLog) CallLogResponse {
	resp := CallLogResponse{
		ID:         c.ID,
		Phone:      c.Phone,
		Channel:    c.Channel,
		Status:     c.Status,
		Turns:      c.Turns,
		LastIntent: c.LastIntent,
		Outcome:    c.Outcome,
		DurationMs: c.DurationMs,
		StartedAt:  c.StartedAt.Format(time.RFC3339),
	}
	if c.EndedAt.Valid {
		resp.EndedAt = c.EndedAt.Time.Format(time.RFC3339)
	}
	return resp
}
