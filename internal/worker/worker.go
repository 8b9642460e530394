// Package worker consumes the inbound dashboard event queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-community/heron/internal/bus"
	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/metrics"
	"github.com/opensource-community/heron/internal/moderation"
)

var tracer = otel.Tracer("heron-worker")

// Worker is the single consumer of TopicEvents. Events are applied one at
// a time in arrival order, so at most one mutation is in flight.
type Worker struct {
	bus     domain.EventBus
	service *moderation.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new event worker.
func NewWorker(eventBus domain.EventBus, service *moderation.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     eventBus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the event queue and the score request topic.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.subscriptions) > 0 {
		return fmt.Errorf("worker already started")
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvents, w.handleEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicEvents, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	sub, err = w.bus.Subscribe(w.ctx, domain.TopicScore, w.handleScoreRequest)
	if err != nil {
		_ = w.subscriptions[0].Unsubscribe()
		w.subscriptions = nil
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScore, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topics", []string{domain.TopicEvents, domain.TopicScore},
	)
	return nil
}

// handleEvent applies one queued event. Malformed events are logged and
// dropped; they are never retried.
func (w *Worker) handleEvent(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	ev, err := domain.DecodeEvent(msg.Payload)
	if err != nil {
		metrics.RecordEvent("unknown", "invalid")
		slog.Warn("dropping malformed event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	ctx, span := tracer.Start(ctx, "event "+string(ev.Type),
		trace.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
			attribute.String("message.id", msg.ID),
		),
	)
	defer span.End()

	err = w.apply(ctx, ev)
	switch {
	case err == nil:
		metrics.RecordEvent(string(ev.Type), "ok")
		slog.Debug("event processed",
			"type", ev.Type,
			"message_id", msg.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		metrics.RecordEvent(string(ev.Type), "invalid")
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("dropping event",
			"type", ev.Type,
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	default:
		metrics.RecordEvent(string(ev.Type), "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to apply %s event: %w", ev.Type, err)
	}
}

func (w *Worker) apply(ctx context.Context, ev *domain.Event) error {
	switch ev.Type {
	case domain.EventNewInfraction:
		var p domain.NewInfractionPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		_, err := w.service.ApplyInfraction(ctx, p.UserID, p.Infraction)
		return err

	case domain.EventUserUpdate:
		var p domain.UserUpdatePayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		_, err := w.service.UpdateUser(ctx, p.UserID, p.Updates)
		return err

	case domain.EventStatsUpdate:
		var p domain.ServerStats
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		_, err := w.service.RecordStats(ctx, p)
		return err

	case domain.EventRiskAdjust:
		var p domain.RiskAdjustPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		_, err := w.service.AdjustRisk(ctx, p.UserID, p.RiskScore)
		return err

	case domain.EventPositiveMessage:
		var p domain.PositiveMessagePayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		_, err := w.service.RecordPositiveMessage(ctx, p.UserID, p.Content)
		return err

	default:
		return fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, ev.Type)
	}
}

func decodePayload(ev *domain.Event, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrInvalidInput, ev.Type, err)
	}
	return nil
}

// ScoreRequest asks for the risk breakdown of a user.
type ScoreRequest struct {
	UserID int64 `json:"userId"`
}

// ScoreReply answers a ScoreRequest. Error is set instead of Breakdown on
// failure.
type ScoreReply struct {
	UserID    int64           `json:"userId"`
	Breakdown json.RawMessage `json:"breakdown,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (w *Worker) handleScoreRequest(ctx context.Context, msg *domain.Message) error {
	var req ScoreRequest
	reply := ScoreReply{}

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		reply.Error = "malformed score request"
	} else {
		reply.UserID = req.UserID
		b, err := w.service.Breakdown(ctx, req.UserID)
		if err != nil {
			reply.Error = err.Error()
		} else if reply.Breakdown, err = json.Marshal(b); err != nil {
			reply.Error = err.Error()
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return bus.Reply(w.bus, msg, data)
}

// Stop unsubscribes the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

// Enqueue publishes an event on the inbound queue.
func Enqueue(ctx context.Context, eventBus domain.EventBus, ev *domain.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return eventBus.Publish(ctx, domain.TopicEvents, data)
}
