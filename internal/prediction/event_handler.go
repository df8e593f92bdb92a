package prediction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/thematic-predictions/internal/core/events"
)

// EventHandler writes the audit trail for lifecycle events.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

func (h *EventHandler) HandlePredictionCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PredictionCreatedEvent)
	if !ok {
		return fmt.Errorf("expected PredictionCreatedEvent, got %T", event)
	}

	h.logger.Info("prediction created",
		"prediction_id", e.PredictionID,
		"intent_id", e.IntentID,
		"final_amount", e.FinalAmount,
		"discount_applied", e.DiscountApplied,
		"event_id", e.EventID())
	return nil
}

func (h *EventHandler) HandlePredictionPaid(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PredictionPaidEvent)
	if !ok {
		return fmt.Errorf("expected PredictionPaidEvent, got %T", event)
	}

	h.logger.Info("prediction paid",
		"prediction_id", e.PredictionID,
		"intent_id", e.IntentID,
		"payment_id", e.PaymentID,
		"revision", e.Revision,
		"event_id", e.EventID())
	return nil
}

func (h *EventHandler) HandlePredictionExpired(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PredictionExpiredEvent)
	if !ok {
		return fmt.Errorf("expected PredictionExpiredEvent, got %T", event)
	}

	h.logger.Info("prediction expired",
		"prediction_id", e.PredictionID,
		"intent_id", e.IntentID,
		"trigger", e.Trigger,
		"event_id", e.EventID())
	return nil
}

// HandleReconciliationFailed raises an operator alert: a payment was
// approved but the record could not be moved to PAID.
func (h *EventHandler) HandleReconciliationFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.ReconciliationFailedEvent)
	if !ok {
		return fmt.Errorf("expected ReconciliationFailedEvent, got %T", event)
	}

	h.logger.Error("ALERT: payment reconciliation failed",
		"intent_id", e.IntentID,
		"payment_id", e.PaymentID,
		"attempts", e.Attempts,
		"reason", e.Reason,
		"event_id", e.EventID())
	return nil
}

func (h *EventHandler) HandlePredictionsSwept(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PredictionsSweptEvent)
	if !ok {
		return fmt.Errorf("expected PredictionsSweptEvent, got %T", event)
	}

	if e.Expired > 0 {
		h.logger.Info("expiry sweep completed", "expired", e.Expired, "event_id", e.EventID())
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePredictionCreated, h.HandlePredictionCreated)
	eventBus.Subscribe(events.EventTypePredictionPaid, h.HandlePredictionPaid)
	eventBus.Subscribe(events.EventTypePredictionExpired, h.HandlePredictionExpired)
	eventBus.Subscribe(events.EventTypeReconciliationFailed, h.HandleReconciliationFailed)
	eventBus.Subscribe(events.EventTypePredictionsSwept, h.HandlePredictionsSwept)

	h.logger.Info("prediction event handlers registered",
		"handlers", []string{
			events.EventTypePredictionCreated,
			events.EventTypePredictionPaid,
			events.EventTypePredictionExpired,
			events.EventTypeReconciliationFailed,
			events.EventTypePredictionsSwept,
		})
}
