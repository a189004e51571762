package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tablecall/tablecall/pkg/events"
	"github.com/tablecall/tablecall/pkg/notify"
	"github.com/tablecall/tablecall/pkg/urlvalidation"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// Store is the endpoint registry the handler manages.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *notify.StaffEndpoint) error
	GetByID(ctx context.Context, id string) (*notify.StaffEndpoint, error)
	ListAll(ctx context.Context) ([]notify.StaffEndpoint, error)
	Update(ctx context.Context, ep *notify.StaffEndpoint) error
	Delete(ctx context.Context, id string) error
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]notify.DeliveryAttempt, error)
	ListDeadLetters(ctx context.Context, endpointID string) ([]notify.DeadLetter, error)
	GetDeadLetter(ctx context.Context, endpointID, id string) (*notify.DeadLetter, error)
	MarkDeadLetterReplayed(ctx context.Context, id string) error
}

// Emitter publishes events to the bus.
type Emitter interface {
	Emit(ctx context.Context, eventType events.EventType, sessionID string, data any) error
}

// Handler provides REST endpoints for staff endpoint management.
type Handler struct {
	repo         Store
	publisher    Emitter
	validateOpts []urlvalidation.Option
}

// NewHandler creates a new staff endpoint API handler.
func NewHandler(repo Store, publisher Emitter, validateOpts ...urlvalidation.Option) *Handler {
	return &Handler{repo: repo, publisher: publisher, validateOpts: validateOpts}
}

// RegisterRoutes registers all staff endpoint routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/staff-endpoints", h.Create)
	mux.HandleFunc("GET /api/staff-endpoints", h.List)
	mux.HandleFunc("GET /api/staff-endpoints/{id}", h.Get)
	mux.HandleFunc("PUT /api/staff-endpoints/{id}", h.Update)
	mux.HandleFunc("DELETE /api/staff-endpoints/{id}", h.Delete)
	mux.HandleFunc("POST /api/staff-endpoints/{id}/rotate-secret", h.RotateSecret)
	mux.HandleFunc("GET /api/staff-endpoints/{id}/deliveries", h.ListDeliveries)
	mux.HandleFunc("GET /api/staff-endpoints/{id}/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("POST /api/staff-endpoints/{id}/dead-letters/{dlid}/replay", h.ReplayDeadLetter)
	mux.HandleFunc("POST /api/staff-endpoints/{id}/test", h.Test)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func toEndpointResponse(ep *notify.StaffEndpoint, includeSecret bool) EndpointResponse {
	resp := EndpointResponse{
		ID:           ep.ID,
		Name:         ep.Name,
		URL:          ep.URL,
		EventTypes:   []events.EventType(ep.EventTypes),
		IsActive:     ep.IsActive,
		Description:  ep.Description,
		FailureCount: ep.FailureCount,
		CircuitState: ep.CircuitState,
		CreatedAt:    ep.CreatedAt.Format(time.RFC3339),
		ModifiedAt:   ep.ModifiedAt.Format(time.RFC3339),
	}
	if includeSecret {
		resp.Secret = ep.Secret
	}
	return resp
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*notify.StaffEndpoint, bool) {
	ep, err := h.repo.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, notify.ErrNotFound) {
		writeError(w, http.StatusNotFound, "staff endpoint not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load staff endpoint")
		return nil, false
	}
	return ep, true
}

func validEventTypes(types []events.EventType) bool {
	for _, et := range types {
		if !events.Known(et) {
			return false
		}
	}
	return true
}

// Create handles POST /api/staff-endpoints
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CreateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	if err := urlvalidation.ValidateEndpoint(r.Context(), req.URL, h.validateOpts...); err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint URL: "+err.Error())
		return
	}
	if !validEventTypes(req.EventTypes) {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	secret, err := notify.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}

	types := notify.EventTypesJSON(req.EventTypes)
	if len(types) == 0 {
		types = notify.DefaultEventTypes
	}
	ep := &notify.StaffEndpoint{
		Name:         req.Name,
		URL:          req.URL,
		Secret:       secret,
		EventTypes:   types,
		IsActive:     true,
		Description:  req.Description,
		CircuitState: "closed",
	}
	if err := h.repo.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create staff endpoint")
		return
	}
	writeJSON(w, http.StatusCreated, toEndpointResponse(ep, true))
}

// List handles GET /api/staff-endpoints
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.repo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list staff endpoints")
		return
	}
	resp := make([]EndpointResponse, 0, len(endpoints))
	for i := range endpoints {
		resp = append(resp, toEndpointResponse(&endpoints[i], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/staff-endpoints/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEndpointResponse(ep, false))
}

// Update handles PUT /api/staff-endpoints/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	ep, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req UpdateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		ep.Name = *req.Name
	}
	if req.URL != nil {
		if err := urlvalidation.ValidateEndpoint(r.Context(), *req.URL, h.validateOpts...); err != nil {
			writeError(w, http.StatusBadRequest, "invalid endpoint URL: "+err.Error())
			return
		}
		ep.URL = *req.URL
	}
	if req.EventTypes != nil {
		if !validEventTypes(*req.EventTypes) {
			writeError(w, http.StatusBadRequest, "unknown event type")
			return
		}
		ep.EventTypes = notify.EventTypesJSON(*req.EventTypes)
	}
	if req.IsActive != nil {
		ep.IsActive = *req.IsActive
	}
	if req.Description != nil {
		ep.Description = *req.Description
	}

	if err := h.repo.Update(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update staff endpoint")
		return
	}
	writeJSON(w, http.StatusOK, toEndpointResponse(ep, false))
}

// Delete handles DELETE /api/staff-endpoints/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete staff endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /api/staff-endpoints/{id}/rotate-secret
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	secret, err := notify.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}
	ep.Secret = secret
	if err := h.repo.Update(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update secret")
		return
	}
	writeJSON(w, http.StatusOK, toEndpointResponse(ep, true))
}

// ListDeliveries handles GET /api/staff-endpoints/{id}/deliveries
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	attempts, err := h.repo.ListDeliveries(r.Context(), r.PathValue("id"), limit, max(offset, 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	resp := make([]DeliveryResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, DeliveryResponse{
			ID:            a.ID,
			EventID:       a.EventID,
			EventType:     a.EventType,
			ResponseCode:  a.ResponseCode,
			AttemptNumber: a.AttemptNumber,
			Status:        a.Status,
			Error:         a.Error,
			DurationMs:    a.DurationMs,
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeadLetters handles GET /api/staff-endpoints/{id}/dead-letters
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.repo.ListDeadLetters(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	resp := make([]DeadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		resp = append(resp, DeadLetterResponse{
			ID:        dl.ID,
			EventID:   dl.EventID,
			EventType: dl.EventType,
			LastError: dl.LastError,
			Attempts:  dl.Attempts,
			CreatedAt: dl.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayDeadLetter handles POST /api/staff-endpoints/{id}/dead-letters/{dlid}/replay
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	dl, err := h.repo.GetDeadLetter(r.Context(), r.PathValue("id"), r.PathValue("dlid"))
	if errors.Is(err, notify.ErrNotFound) {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load dead letter")
		return
	}

	var env events.Envelope
	if err := json.Unmarshal([]byte(dl.Payload), &env); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt dead letter payload")
		return
	}
	if err := h.publisher.Emit(r.Context(), env.Type, env.SessionID, json.RawMessage(env.Data)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to re-publish event")
		return
	}
	if err := h.repo.MarkDeadLetterReplayed(r.Context(), dl.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark dead letter replayed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Test handles POST /api/staff-endpoints/{id}/test
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	data := events.NotifyTestData{
		Endpoint: ep.ID,
		Message:  "This is a test notification from tablecall",
	}
	if err := h.publisher.Emit(r.Context(), events.NotifyTest, "", data); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to publish test event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "test event published"})
}
