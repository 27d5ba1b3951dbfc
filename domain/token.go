package domain

import "time"

// Token is the long-duration renewable credential. Refreshing rotates the ID
// and may move ExpiresAt forward, but never past NotAfter, which is fixed at
// first issuance. A revoked token stays revoked even before its expiry.
type Token struct {
	ID        string    `bson:"_id"        json:"id"`
	UserID    string    `bson:"user_id"    json:"user_id"`
	IssuedAt  time.Time `bson:"issued_at"  json:"issued_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	NotAfter  time.Time `bson:"not_after"  json:"not_after"`
	Revoked   bool      `bson:"revoked"    json:"revoked"`
}

// Active reports whether the token is valid at the given instant. A revoked
// token is never active, regardless of expiry.
func (t *Token) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
