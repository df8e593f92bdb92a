package cache

import (
	"context"
	"time"
)

const notificationKeyPrefix = "predictions:webhook:payment:"

// NotificationLedger marks payment ids whose notification already reached a
// terminal outcome so redeliveries skip the gateway round trip.
type NotificationLedger struct {
	cache *Client
	ttl   time.Duration
}

func NewNotificationLedger(cache *Client, ttl time.Duration) *NotificationLedger {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &NotificationLedger{cache: cache, ttl: ttl}
}

func (l *NotificationLedger) Seen(ctx context.Context, paymentID string) bool {
	if l == nil {
		return false
	}
	v, _ := l.cache.Get(ctx, notificationKeyPrefix+paymentID)
	return len(v) > 0
}

func (l *NotificationLedger) Remember(ctx context.Context, paymentID, outcome string) {
	if l == nil {
		return
	}
	l.cache.SetNX(ctx, notificationKeyPrefix+paymentID, []byte(outcome), l.ttl)
}
