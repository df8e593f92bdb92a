package prediction

import "time"

const DefaultValidityWindow = 1440 * time.Minute

// IsExpired reports whether now is strictly past expiresAt.
func IsExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// ExpiryPolicy fixes expiresAt at creation; it is never extended.
type ExpiryPolicy struct {
	Window time.Duration
}

func (e ExpiryPolicy) ExpiresAt(createdAt time.Time) time.Time {
	w := e.Window
	if w <= 0 {
		w = DefaultValidityWindow
	}
	return createdAt.Add(w)
}
