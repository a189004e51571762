// Package remote submits finished orders and reservations to another
// TableCall node over its tool-call webhooks.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/store"
	"github.com/tablecall/tablecall/pkg/urlvalidation"
)

const (
	orderPath       = "/api/order-complete"
	reservationPath = "/api/reservation-complete"
	maxResponseSize = 1 << 20
)

// RejectedError is returned when the remote node refuses a record as invalid.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("record rejected (HTTP %d): %s", e.StatusCode, e.Message)
}

// Config describes the remote node.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token; it must match the node's tool secret.
	Token   string
	Timeout time.Duration
}

// Gateway implements dialog.Gateway over HTTP.
type Gateway struct {
	cfg          Config
	httpClient   *http.Client
	validateOpts []urlvalidation.Option
}

var _ dialog.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway for the node at cfg.BaseURL.
func NewGateway(cfg Config, validateOpts ...urlvalidation.Option) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		validateOpts: validateOpts,
	}
}

// toolCall mirrors the envelope accepted by the tool-call webhooks.
type toolCall struct {
	Message toolCallMessage `json:"message"`
}

type toolCallMessage struct {
	Call      toolCallRef     `json:"call"`
	ToolCalls []toolCallEntry `json:"toolCalls"`
}

type toolCallRef struct {
	ID string `json:"id,omitempty"`
}

type toolCallEntry struct {
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

// SubmitOrder implements dialog.Gateway.
func (g *Gateway) SubmitOrder(ctx context.Context, rec dialog.OrderRecord) (string, error) {
	return g.submit(ctx, orderPath, "order_complete", rec)
}

// SubmitReservation implements dialog.Gateway.
func (g *Gateway) SubmitReservation(ctx context.Context, rec dialog.ReservationRecord) (string, error) {
	return g.submit(ctx, reservationPath, "reservation_complete", rec)
}

func (g *Gateway) submit(ctx context.Context, path, function string, args any) (string, error) {
	url := g.cfg.BaseURL + path
	if err := urlvalidation.ValidateEndpoint(ctx, url, g.validateOpts...); err != nil {
		return "", fmt.Errorf("gateway URL validation: %w", err)
	}

	body, err := json.Marshal(toolCall{Message: toolCallMessage{
		Call:      toolCallRef{ID: store.CallIDFrom(ctx)},
		ToolCalls: []toolCallEntry{{Function: toolCallFunction{Name: function, Arguments: args}}},
	}})
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", function, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	// Drain remainder for connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out saveResponse
	_ = json.Unmarshal(respBody, &out)

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return "", &RejectedError{StatusCode: resp.StatusCode, Message: msg}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("post %s: HTTP %d", path, resp.StatusCode)
	case !out.Success || out.ID == "":
		return "", errors.New("remote node did not confirm the record")
	}
	return out.ID, nil
}
