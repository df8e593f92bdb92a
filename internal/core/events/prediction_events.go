package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePredictionCreated    = "prediction.created"
	EventTypePredictionPaid       = "prediction.paid"
	EventTypePredictionExpired    = "prediction.expired"
	EventTypeReconciliationFailed = "prediction.reconciliation_failed"
	EventTypePredictionsSwept     = "prediction.swept"
)

type PredictionCreatedEvent struct {
	BaseEvent
	PredictionID    string `json:"prediction_id"`
	IntentID        string `json:"intent_id"`
	FinalAmount     string `json:"final_amount"`
	DiscountApplied bool   `json:"discount_applied"`
}

func NewPredictionCreatedEvent(predictionID, intentID, finalAmount string, discountApplied bool) *PredictionCreatedEvent {
	return &PredictionCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePredictionCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"prediction_id":    predictionID,
				"intent_id":        intentID,
				"final_amount":     finalAmount,
				"discount_applied": discountApplied,
			},
		},
		PredictionID:    predictionID,
		IntentID:        intentID,
		FinalAmount:     finalAmount,
		DiscountApplied: discountApplied,
	}
}

type PredictionPaidEvent struct {
	BaseEvent
	PredictionID string `json:"prediction_id"`
	IntentID     string `json:"intent_id"`
	PaymentID    string `json:"payment_id"`
	Revision     int64  `json:"revision"`
}

func NewPredictionPaidEvent(predictionID, intentID, paymentID string, revision int64) *PredictionPaidEvent {
	return &PredictionPaidEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePredictionPaid,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"prediction_id": predictionID,
				"intent_id":     intentID,
				"payment_id":    paymentID,
				"revision":      revision,
			},
		},
		PredictionID: predictionID,
		IntentID:     intentID,
		PaymentID:    paymentID,
		Revision:     revision,
	}
}

type PredictionExpiredEvent struct {
	BaseEvent
	PredictionID string `json:"prediction_id"`
	IntentID     string `json:"intent_id"`
	Trigger      string `json:"trigger"`
}

func NewPredictionExpiredEvent(predictionID, intentID, trigger string) *PredictionExpiredEvent {
	return &PredictionExpiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePredictionExpired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"prediction_id": predictionID,
				"intent_id":     intentID,
				"trigger":       trigger,
			},
		},
		PredictionID: predictionID,
		IntentID:     intentID,
		Trigger:      trigger,
	}
}

type ReconciliationFailedEvent struct {
	BaseEvent
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
}

func NewReconciliationFailedEvent(intentID, paymentID string, attempts int, reason string) *ReconciliationFailedEvent {
	return &ReconciliationFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeReconciliationFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"intent_id":  intentID,
				"payment_id": paymentID,
				"attempts":   attempts,
				"reason":     reason,
			},
		},
		IntentID:  intentID,
		PaymentID: paymentID,
		Attempts:  attempts,
		Reason:    reason,
	}
}

type PredictionsSweptEvent struct {
	BaseEvent
	Expired int64 `json:"expired"`
}

func NewPredictionsSweptEvent(expired int64) *PredictionsSweptEvent {
	return &PredictionsSweptEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePredictionsSwept,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"expired": expired,
			},
		},
		Expired: expired,
	}
}
