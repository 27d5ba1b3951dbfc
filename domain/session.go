package domain

import "time"

// Session is the short-duration interactive credential bound to one identity.
// Expiry is always recomputed from ExpiresAt; it is never stored as a flag.
type Session struct {
	ID        string    `bson:"_id"        json:"id"`
	UserID    string    `bson:"user_id"    json:"user_id"`
	IssuedAt  time.Time `bson:"issued_at"  json:"issued_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}

// Active reports whether the session is still valid at the given instant.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
