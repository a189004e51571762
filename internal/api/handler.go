package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tablecall/tablecall/pkg/catalog"
	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/store"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// Store is the persistence the REST API reads and manages.
type Store interface {
	ListMenuItems(ctx context.Context, onlyAvailable bool) ([]store.MenuItem, error)
	GetMenuItem(ctx context.Context, id string) (*store.MenuItem, error)
	CreateMenuItem(ctx context.Context, item *store.MenuItem) error
	UpdateMenuItem(ctx context.Context, item *store.MenuItem) error
	DeleteMenuItem(ctx context.Context, id string) error

	ListFAQs(ctx context.Context) ([]store.FAQ, error)
	GetFAQ(ctx context.Context, id string) (*store.FAQ, error)
	CreateFAQ(ctx context.Context, f *store.FAQ) error
	UpdateFAQ(ctx context.Context, f *store.FAQ) error
	DeleteFAQ(ctx context.Context, id string) error

	ListOrders(ctx context.Context, opts store.ListOptions) ([]store.Order, error)
	GetOrder(ctx context.Context, id string) (*store.Order, error)
	UpdateOrder(ctx context.Context, o *store.Order) error
	UpdateOrderStatus(ctx context.Context, id, status string) error
	DeleteOrder(ctx context.Context, id string) error

	ListReservations(ctx context.Context, opts store.ListOptions) ([]store.Reservation, error)
	GetReservation(ctx context.Context, id string) (*store.Reservation, error)
	UpdateReservation(ctx context.Context, res *store.Reservation) error
	UpdateReservationStatus(ctx context.Context, id, status string) error
	DeleteReservation(ctx context.Context, id string) error

	ListCallLogs(ctx context.Context, opts store.ListOptions) ([]store.CallLog, error)
	GetCallLog(ctx context.Context, id string) (*store.CallLog, error)
}

// Refresher reloads the in-memory catalog after the menu or FAQs change.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Recorder validates and persists finished orders and reservations.
type Recorder interface {
	OrderFromRecord(rec dialog.OrderRecord, sub store.Submission) (*store.Order, error)
	ReservationFromRecord(rec dialog.ReservationRecord, sub store.Submission) (*store.Reservation, error)
	SaveOrder(ctx context.Context, rec dialog.OrderRecord, sub store.Submission) (*store.Order, error)
	SaveReservation(ctx context.Context, rec dialog.ReservationRecord, sub store.Submission) (*store.Reservation, error)
}

// Handler serves the restaurant REST API.
type Handler struct {
	repo     Store
	catalog  Refresher
	recorder Recorder
	health   func(ctx context.Context) error
	// toolSecret, when set, must be presented as a bearer token by the
	// voice assistant on tool-call webhooks.
	toolSecret string
}

// Option configures a Handler.
type Option func(*Handler)

// WithHealthCheck installs the dependency check behind /health.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.health = fn }
}

// WithToolSecret requires a bearer token on tool-call webhooks.
func WithToolSecret(secret string) Option {
	return func(h *Handler) { h.toolSecret = secret }
}

// NewHandler creates the REST API handler.
func NewHandler(repo Store, catalog Refresher, recorder Recorder, opts ...Option) *Handler {
	h := &Handler{repo: repo, catalog: catalog, recorder: recorder}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes registers the staff-facing admin routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/menu-items", h.ListMenuItems)
	mux.HandleFunc("POST /api/menu-items", h.CreateMenuItem)
	mux.HandleFunc("PUT /api/menu-items/{id}", h.UpdateMenuItem)
	mux.HandleFunc("DELETE /api/menu-items/{id}", h.DeleteMenuItem)

	mux.HandleFunc("GET /api/faqs", h.ListFAQs)
	mux.HandleFunc("POST /api/faqs", h.CreateFAQ)
	mux.HandleFunc("PUT /api/faqs/{id}", h.UpdateFAQ)
	mux.HandleFunc("DELETE /api/faqs/{id}", h.DeleteFAQ)

	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("PUT /api/orders/{id}", h.UpdateOrder)
	mux.HandleFunc("PUT /api/orders/{id}/status", h.UpdateOrderStatus)
	mux.HandleFunc("DELETE /api/orders/{id}", h.DeleteOrder)

	mux.HandleFunc("GET /api/reservations", h.ListReservations)
	mux.HandleFunc("PUT /api/reservations/{id}", h.UpdateReservation)
	mux.HandleFunc("PUT /api/reservations/{id}/status", h.UpdateReservationStatus)
	mux.HandleFunc("DELETE /api/reservations/{id}", h.DeleteReservation)

	mux.HandleFunc("GET /api/call-logs", h.ListCallLogs)
	mux.HandleFunc("GET /api/call-logs/{id}", h.GetCallLog)
}

// RegisterPublicRoutes registers the routes called by the voice assistant
// and by load balancers.
func (h *Handler) RegisterPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/order-complete", h.OrderComplete)
	mux.HandleFunc("POST /api/reservation-complete", h.ReservationComplete)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeStoreError maps repository errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.ErrorContext(r.Context(), "store request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to access "+what)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) refresh(ctx context.Context) {
	if h.catalog == nil {
		return
	}
	if err := h.catalog.Refresh(ctx); err != nil {
		slog.ErrorContext(ctx, "catalog refresh failed", slog.String("error", err.Error()))
	}
}

func listOptions(r *http.Request) store.ListOptions {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	return store.ListOptions{
		Limit:  limit,
		Offset: max(offset, 0),
		Phone:  strings.TrimSpace(q.Get("phone")),
		Status: strings.TrimSpace(q.Get("status")),
		Date:   strings.TrimSpace(q.Get("date")),
	}
}

func (req *MenuItemRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "name cannot be empty"
	}
	if !req.Price.IsPositive() {
		return "price must be greater than 0"
	}
	if !req.Price.Equal(req.Price.Round(2)) {
		return "price must have at most two decimal places"
	}
	return ""
}

func (req *MenuItemRequest) apply(m *store.MenuItem) {
	m.Name = req.Name
	m.Price = req.Price
	m.Category = string(catalog.ParseCategory(req.Category))
	m.Description = strings.TrimSpace(req.Description)
	m.Position = req.Position
	m.Available = req.Available == nil || *req.Available
}

// ListMenuItems handles GET /api/menu-items
func (h *Handler) ListMenuItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListMenuItems(r.Context(), r.URL.Query().Get("available") == "true")
	if err != nil {
		writeStoreError(w, r, err, "menu items")
		return
	}
	resp := make([]MenuItemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toMenuItemResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateMenuItem handles POST /api/menu-items
func (h *Handler) CreateMenuItem(w http.ResponseWriter, r *http.Request) {
	var req MenuItemRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	item := &store.MenuItem{}
	req.apply(item)
	if err := h.repo.CreateMenuItem(r.Context(), item); err != nil {
		writeStoreError(w, r, err, "menu item")
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusCreated, toMenuItemResponse(item))
}

// UpdateMenuItem handles PUT /api/menu-items/{id}
func (h *Handler) UpdateMenuItem(w http.ResponseWriter, r *http.Request) {
	var req MenuItemRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	item, err := h.repo.GetMenuItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "menu item")
		return
	}
	req.apply(item)
	if err := h.repo.UpdateMenuItem(r.Context(), item); err != nil {
		writeStoreError(w, r, err, "menu item")
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}

// DeleteMenuItem handles DELETE /api/menu-items/{id}
func (h *Handler) DeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteMenuItem(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err, "menu item")
		return
	}
	h.refresh(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (req *FAQRequest) validate() string {
	req.Question = strings.TrimSpace(req.Question)
	req.Answer = strings.TrimSpace(req.Answer)
	if req.Question == "" || req.Answer == "" {
		return "question and answer cannot be empty"
	}
	return ""
}

// ListFAQs handles GET /api/faqs
func (h *Handler) ListFAQs(w http.ResponseWriter, r *http.Request) {
	faqs, err := h.repo.ListFAQs(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "faqs")
		return
	}
	resp := make([]FAQResponse, 0, len(faqs))
	for i := range faqs {
		resp = append(resp, toFAQResponse(&faqs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateFAQ handles POST /api/faqs
func (h *Handler) CreateFAQ(w http.ResponseWriter, r *http.Request) {
	var req FAQRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	f := &store.FAQ{Question: req.Question, Answer: req.Answer, Position: req.Position}
	if err := h.repo.CreateFAQ(r.Context(), f); err != nil {
		writeStoreError(w, r, err, "faq")
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusCreated, toFAQResponse(f))
}

// UpdateFAQ handles PUT /api/faqs/{id}
func (h *Handler) UpdateFAQ(w http.ResponseWriter, r *http.Request) {
	var req FAQRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	f, err := h.repo.GetFAQ(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "faq")
		return
	}
	f.Question, f.Answer, f.Position = req.Question, req.Answer, req.Position
	if err := h.repo.UpdateFAQ(r.Context(), f); err != nil {
		writeStoreError(w, r, err, "faq")
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusOK, toFAQResponse(f))
}

// DeleteFAQ handles DELETE /api/faqs/{id}
func (h *Handler) DeleteFAQ(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteFAQ(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err, "faq")
		return
	}
	h.refresh(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ListOrders handles GET /api/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.ListOrders(r.Context(), listOptions(r))
	if err != nil {
		writeStoreError(w, r, err, "orders")
		return
	}
	resp := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateOrder handles PUT /api/orders/{id}. The body replaces the whole
// record and passes the same checks as a new order.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decode(w, r, &req) {
		return
	}
	existing, err := h.repo.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "order")
		return
	}
	status, ok := updatedStatus(req.Status, existing.Status, store.ValidOrderStatus)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown order status "+strconv.Quote(req.Status))
		return
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = existing.Name
	}
	o, err := h.recorder.OrderFromRecord(dialog.OrderRecord{
		Phone:               req.Phone,
		Items:               req.Items,
		Total:               req.Total,
		SpecialInstructions: req.SpecialInstructions,
	}, store.Submission{CallID: existing.CallID, Name: name})
	if err != nil {
		writeRecordError(w, r, err)
		return
	}
	o.BaseModel = existing.BaseModel
	o.Status = status
	if err := h.repo.UpdateOrder(r.Context(), o); err != nil {
		writeStoreError(w, r, err, "order")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// updatedStatus returns the lower-cased requested status, or current when
// none was requested.
func updatedStatus(requested, current string, valid func(string) bool) (string, bool) {
	status := strings.ToLower(strings.TrimSpace(requested))
	if status == "" {
		return current, true
	}
	return status, valid(status)
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !store.ValidOrderStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown order status "+strconv.Quote(req.Status))
		return
	}
	if err := h.repo.UpdateOrderStatus(r.Context(), r.PathValue("id"), status); err != nil {
		writeStoreError(w, r, err, "order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "status": status})
}

// DeleteOrder handles DELETE /api/orders/{id}
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteOrder(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err, "order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListReservations handles GET /api/reservations
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListReservations(r.Context(), listOptions(r))
	if err != nil {
		writeStoreError(w, r, err, "reservations")
		return
	}
	resp := make([]ReservationResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toReservationResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateReservation handles PUT /api/reservations/{id}. The body replaces
// the whole record and passes the same checks as a new reservation.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	var req ReservationRequest
	if !decode(w, r, &req) {
		return
	}
	existing, err := h.repo.GetReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "reservation")
		return
	}
	status, ok := updatedStatus(req.Status, existing.Status, store.ValidReservationStatus)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown reservation status "+strconv.Quote(req.Status))
		return
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = existing.Name
	}
	res, err := h.recorder.ReservationFromRecord(dialog.ReservationRecord{
		Phone:           req.Phone,
		Date:            strings.TrimSpace(req.Date),
		Time:            strings.TrimSpace(req.Time),
		PartySize:       req.PartySize,
		SpecialRequests: req.SpecialRequests,
	}, store.Submission{CallID: existing.CallID, Name: name})
	if err != nil {
		writeRecordError(w, r, err)
		return
	}
	res.BaseModel = existing.BaseModel
	res.Status = status
	if err := h.repo.UpdateReservation(r.Context(), res); err != nil {
		writeStoreError(w, r, err, "reservation")
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// UpdateReservationStatus handles PUT /api/reservations/{id}/status
func (h *Handler) UpdateReservationStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !store.ValidReservationStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown reservation status "+strconv.Quote(req.Status))
		return
	}
	if err := h.repo.UpdateReservationStatus(r.Context(), r.PathValue("id"), status); err != nil {
		writeStoreError(w, r, err, "reservation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "status": status})
}

// DeleteReservation handles DELETE /api/reservations/{id}
func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteReservation(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err, "reservation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCallLogs handles GET /api/call-logs
func (h *Handler) ListCallLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.repo.ListCallLogs(r.Context(), listOptions(r))
	if err != nil {
		writeStoreError(w, r, err, "call logs")
		return
	}
	resp := make([]CallLogResponse, 0, len(logs))
	for i := range logs {
		resp = append(resp, toCallLogResponse(&logs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCallLog handles GET /api/call-logs/{id}
func (h *Handler) GetCallLog(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetCallLog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "call log")
		return
	}
	writeJSON(w, http.StatusOK, toCallLogResponse(c))
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"database":  true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			resp["status"] = "unhealthy"
			resp["database"] = false
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
