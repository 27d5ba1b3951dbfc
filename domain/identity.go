package domain

import "time"

// Identity is the internal representation of an authenticated user. The ID is
// produced once by the configured encoder and never recomputed; the display
// name comes from the configured generator and may be regenerated by policy.
type Identity struct {
	ID            string    `bson:"_id"            json:"id"`
	DisplayName   string    `bson:"display_name"   json:"display_name"`
	Email         string    `bson:"email,omitempty" json:"email,omitempty"`
	EmailVerified bool      `bson:"email_verified" json:"email_verified"`
	CreatedAt     time.Time `bson:"created_at"     json:"created_at"`
}

// ExternalLink binds one (provider, subject) pair at an external identity
// provider to exactly one internal identity. The pair is unique across the
// system; a user may hold several links, one per provider.
type ExternalLink struct {
	UserID   string    `bson:"user_id"            json:"user_id"`
	Provider string    `bson:"provider"           json:"provider"`
	Subject  string    `bson:"subject"            json:"subject"`
	Email    string    `bson:"email,omitempty"    json:"email,omitempty"`
	Username string    `bson:"username,omitempty" json:"username,omitempty"`
	LinkedAt time.Time `bson:"linked_at"          json:"linked_at"`
}
