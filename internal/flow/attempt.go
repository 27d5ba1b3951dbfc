// Package flow drives the authorization-code login flow: one Attempt per
// initiated login, correlated by a single-use state value, consumed exactly
// once by the provider callback.
package flow

import "time"

// Status is the lifecycle phase of an Attempt.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Attempt is the server-side record of one login attempt. The State value is
// the opaque correlator sent to the provider; everything the callback needs
// to finish the flow (PKCE verifier, nonce, return URL) lives here and never
// leaves the server.
type Attempt struct {
	State     string
	Provider  string
	Verifier  string
	Nonce     string
	ReturnURL string
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the attempt's validity window has passed.
func (a *Attempt) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}
