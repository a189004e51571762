package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/tablecall/tablecall/pkg/events"
	"github.com/tablecall/tablecall/pkg/urlvalidation"
)

const maxBreakers = 10000

// DelivererConfig holds delivery-related settings.
type DelivererConfig struct {
	MaxRetries      int
	Timeout         time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	CBFailThreshold int
	CBResetTimeout  time.Duration
}

// Store is the persistence the deliverer reports to.
type Store interface {
	RecordDelivery(ctx context.Context, da *DeliveryAttempt) error
	CreateDeadLetter(ctx context.Context, dl *DeadLetter) error
	UpdateCircuit(ctx context.Context, id, state string) error
}

// Deliverer posts signed event envelopes to staff endpoints.
type Deliverer struct {
	store        Store
	httpClient   *http.Client
	config       DelivererConfig
	validateOpts []urlvalidation.Option

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]
}

// NewDeliverer creates a new deliverer.
func NewDeliverer(store Store, cfg DelivererConfig, validateOpts ...urlvalidation.Option) *Deliverer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Deliverer{
		store: store,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:       cfg,
		validateOpts: validateOpts,
		breakers:     make(map[string]*gobreaker.CircuitBreaker[int]),
	}
}

func (d *Deliverer) breaker(ep StaffEndpoint) *gobreaker.CircuitBreaker[int] {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[ep.ID]; ok {
		return cb
	}
	if len(d.breakers) >= maxBreakers {
		for k := range d.breakers {
			delete(d.breakers, k)
			break
		}
	}

	threshold := uint32(max(d.config.CBFailThreshold, 1))
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        ep.ID,
		MaxRequests: 1,
		Timeout:     d.config.CBResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("staff endpoint circuit changed",
				slog.String("endpoint_id", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if d.store == nil {
				return
			}
			if err := d.store.UpdateCircuit(context.Background(), name, to.String()); err != nil {
				slog.Error("persist circuit state failed", slog.String("error", err.Error()))
			}
		},
	})
	d.breakers[ep.ID] = cb
	return cb
}

// State reports the breaker state of an endpoint, "closed" if it has never
// been contacted.
func (d *Deliverer) State(endpointID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[endpointID]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

// Deliver posts env to ep, retrying with exponential backoff. An envelope that
// still fails after the last retry is dead-lettered and the error returned.
func (d *Deliverer) Deliver(ctx context.Context, ep StaffEndpoint, env events.Envelope) error {
	if err := urlvalidation.ValidateEndpoint(ctx, ep.URL, d.validateOpts...); err != nil {
		slog.ErrorContext(ctx, "staff endpoint failed SSRF validation",
			slog.String("endpoint_id", ep.ID),
			slog.String("url", ep.URL),
			slog.String("error", err.Error()))
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	cb := d.breaker(ep)
	attempt := 0
	op := func() (int, error) {
		attempt++
		code, err := cb.Execute(func() (int, error) {
			return d.post(ctx, ep, env, body, attempt)
		})
		var perm *permanentError
		if errors.As(err, &perm) {
			return code, backoff.Permanent(err)
		}
		return code, err
	}

	b := backoff.NewExponentialBackOff()
	if d.config.BackoffInitial > 0 {
		b.InitialInterval = d.config.BackoffInitial
	}
	if d.config.BackoffMax > 0 {
		b.MaxInterval = d.config.BackoffMax
	}

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.config.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "staff notification failed, retrying",
				slog.String("endpoint_id", ep.ID),
				slog.String("event_id", env.ID),
				slog.Duration("next", next),
				slog.String("error", err.Error()))
		}),
	)
	if err == nil {
		return nil
	}

	if dlErr := d.store.CreateDeadLetter(context.WithoutCancel(ctx), &DeadLetter{
		EndpointID: ep.ID,
		EventID:    env.ID,
		EventType:  string(env.Type),
		Payload:    string(body),
		LastError:  err.Error(),
		Attempts:   attempt,
		Replayable: true,
	}); dlErr != nil {
		slog.ErrorContext(ctx, "create dead letter failed", slog.String("error", dlErr.Error()))
	}
	return err
}

// permanentError marks a response that retrying will not fix.
type permanentError struct {
	code int
}

func (e *permanentError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

func (d *Deliverer) post(ctx context.Context, ep StaffEndpoint, env events.Envelope, body []byte, attempt int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(ep.Secret, body))
	req.Header.Set(EventHeader, string(env.Type))
	req.Header.Set(DeliveryHeader, env.ID)

	start := time.Now()
	resp, err := d.httpClient.Do(req)

	da := &DeliveryAttempt{
		EndpointID:    ep.ID,
		EventID:       env.ID,
		EventType:     string(env.Type),
		AttemptNumber: attempt,
		DurationMs:    time.Since(start).Milliseconds(),
		Status:        DeliveryFailed,
	}
	defer func() {
		if err := d.store.RecordDelivery(context.WithoutCancel(ctx), da); err != nil {
			slog.ErrorContext(ctx, "record delivery failed", slog.String("error", err.Error()))
		}
	}()

	if err != nil {
		da.Error = err.Error()
		return 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_, _ = io.Copy(io.Discard, resp.Body)

	da.ResponseCode = resp.StatusCode
	da.ResponseBody = string(respBody)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		da.Status = DeliverySuccess
		return resp.StatusCode, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		perr := &permanentError{code: resp.StatusCode}
		da.Error = perr.Error()
		return resp.StatusCode, perr
	default:
		da.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return resp.StatusCode, errors.New(da.Error)
	}
}
