package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/store"
)

// errNoToolCall is returned when a payload carries no tool call.
var errNoToolCall = errors.New("missing toolCalls in payload")

// toolCallPayload is the envelope the voice assistant posts when one of
// its functions completes.
type toolCallPayload struct {
	Message struct {
		ToolCalls []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"toolCalls"`
		Call struct {
			ID string `json:"id"`
		} `json:"call"`
	} `json:"message"`
}

// toolCallArgs decodes the first tool call's arguments into v. Arguments
// may arrive as a JSON object or as a string holding one. It returns the
// assistant call id when present.
func toolCallArgs(body []byte, v any) (string, error) {
	var p toolCallPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(p.Message.ToolCalls) == 0 {
		return "", errNoToolCall
	}
	raw := bytes.TrimSpace(p.Message.ToolCalls[0].Function.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing tool call arguments")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid JSON in arguments: %w", err)
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return "", fmt.Errorf("invalid JSON in arguments: %w", err)
	}
	return p.Message.Call.ID, nil
}

type orderArgs struct {
	Phone               string          `json:"phone"`
	Name                string          `json:"name"`
	Items               []string        `json:"items"`
	Total               decimal.Decimal `json:"total"`
	SpecialInstructions string          `json:"special_instructions"`
}

type reservationArgs struct {
	Phone           string `json:"phone"`
	Name            string `json:"name"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	PartySize       int    `json:"party_size"`
	SpecialRequests string `json:"special_requests"`
}

// authorizeTool checks the bearer token when a tool secret is configured.
func (h *Handler) authorizeTool(w http.ResponseWriter, r *http.Request) bool {
	if h.toolSecret == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.toolSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (h *Handler) readToolCall(w http.ResponseWriter, r *http.Request, v any) (string, bool) {
	if !h.authorizeTool(w, r) {
		return "", false
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxRequestBodySize)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	callID, err := toolCallArgs(buf.Bytes(), v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return callID, true
}

// writeRecordError maps a Recorder failure to an HTTP status.
func writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *store.InvalidRecordError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, invalid.Message)
		return
	}
	slog.ErrorContext(r.Context(), "record persistence failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// OrderComplete handles POST /api/order-complete
func (h *Handler) OrderComplete(w http.ResponseWriter, r *http.Request) {
	var args orderArgs
	callID, ok := h.readToolCall(w, r, &args)
	if !ok {
		return
	}
	rec := dialog.OrderRecord{
		Phone:               args.Phone,
		Items:               args.Items,
		Total:               args.Total,
		SpecialInstructions: args.SpecialInstructions,
	}
	o, err := h.recorder.SaveOrder(r.Context(), rec, store.Submission{CallID: callID, Name: args.Name})
	if err != nil {
		writeRecordError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "order saved from tool call",
		slog.String("order_id", o.ID),
		slog.String("call_id", callID))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order saved successfully",
		"id":      o.ID,
		"order":   toOrderResponse(o),
	})
}

// ReservationComplete handles POST /api/reservation-complete
func (h *Handler) ReservationComplete(w http.ResponseWriter, r *http.Request) {
	var args reservationArgs
	callID, ok := h.readToolCall(w, r, &args)
	if !ok {
		return
	}
	rec := dialog.ReservationRecord{
		Phone:           args.Phone,
		Date:            strings.TrimSpace(args.Date),
		Time:            strings.TrimSpace(args.Time),
		PartySize:       args.PartySize,
		SpecialRequests: args.SpecialRequests,
	}
	res, err := h.recorder.SaveReservation(r.Context(), rec, store.Submission{CallID: callID, Name: args.Name})
	if err != nil {
		writeRecordError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "reservation saved from tool call",
		slog.String("reservation_id", res.ID),
		slog.String("call_id", callID))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Reservation saved successfully",
		"id":          res.ID,
		"reservation": toReservationResponse(res),
	})
}
