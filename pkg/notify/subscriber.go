package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/tablecall/tablecall/pkg/events"
)

// Endpoints is the registry of staff endpoints.
type Endpoints interface {
	ListByEventType(ctx context.Context, et events.EventType) ([]StaffEndpoint, error)
	GetByID(ctx context.Context, id string) (*StaffEndpoint, error)
}

// Sender delivers one envelope to one endpoint.
type Sender interface {
	Deliver(ctx context.Context, ep StaffEndpoint, env events.Envelope) error
}

// StaticEndpoint is a staff endpoint configured by environment rather than
// through the admin API.
func StaticEndpoint(index int, url, secret string) StaffEndpoint {
	ep := StaffEndpoint{
		Name:       fmt.Sprintf("static-%d", index),
		URL:        url,
		Secret:     secret,
		EventTypes: DefaultEventTypes,
		IsActive:   true,
	}
	ep.ID = ep.Name
	return ep
}

// Subscriber implements queue.SubscribeWorker to fan events out to the staff
// endpoints that subscribe to them.
type Subscriber struct {
	Repo      Endpoints
	Static    []StaffEndpoint
	Deliverer Sender
	Pool      workerpool.WorkerPool
}

// Handle is called by frame's pub/sub for each event message.
func (s *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("notify subscriber: unmarshal envelope")
		return err
	}

	targets, err := s.targets(ctx, env)
	if err != nil {
		util.Log(ctx).WithError(err).Error("notify subscriber: list endpoints")
		return err
	}

	for _, ep := range targets {
		deliver := func() {
			if err := s.Deliverer.Deliver(ctx, ep, env); err != nil {
				slog.WarnContext(ctx, "staff notification dead-lettered",
					slog.String("endpoint_id", ep.ID),
					slog.String("event_id", env.ID),
					slog.String("error", err.Error()))
			}
		}
		if s.Pool == nil {
			go deliver()
			continue
		}
		if err := s.Pool.Submit(ctx, deliver); err != nil {
			slog.WarnContext(ctx, "notify pool full", slog.String("endpoint_id", ep.ID))
		}
	}
	return nil
}

func (s *Subscriber) targets(ctx context.Context, env events.Envelope) ([]StaffEndpoint, error) {
	if env.Type == events.NotifyTest {
		var td events.NotifyTestData
		if err := json.Unmarshal(env.Data, &td); err != nil {
			return nil, fmt.Errorf("decode test payload: %w", err)
		}
		for _, ep := range s.Static {
			if ep.ID == td.Endpoint {
				return []StaffEndpoint{ep}, nil
			}
		}
		if s.Repo == nil {
			return nil, nil
		}
		ep, err := s.Repo.GetByID(ctx, td.Endpoint)
		if err != nil {
			return nil, err
		}
		return []StaffEndpoint{*ep}, nil
	}

	var out []StaffEndpoint
	for _, ep := range s.Static {
		types := ep.EventTypes
		if len(types) == 0 {
			types = DefaultEventTypes
		}
		if ep.IsActive && types.Contains(env.Type) {
			out = append(out, ep)
		}
	}
	if s.Repo == nil {
		return out, nil
	}
	stored, err := s.Repo.ListByEventType(ctx, env.Type)
	if err != nil {
		return nil, err
	}
	return append(out, stored...), nil
}
