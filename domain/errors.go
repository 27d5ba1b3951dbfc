package domain

import "errors"

// Credential validation outcomes. These are returned to callers as values,
// never as transport failures escaping the manager.
var (
	ErrNotFound = errors.New("credential not found")
	ErrExpired  = errors.New("credential expired")
	ErrRevoked  = errors.New("credential revoked")
)

// Flow and provider failures. InvalidState and InvalidIdentityToken are
// security relevant and logged as such at the emission site.
var (
	ErrInvalidState         = errors.New("unknown, expired or reused state")
	ErrProviderExchange     = errors.New("provider code or userinfo exchange failed")
	ErrInvalidIdentityToken = errors.New("identity token validation failed")
	ErrProviderUnavailable  = errors.New("provider discovery unavailable")
	ErrProviderNotFound     = errors.New("provider not configured")
)

// Identity store conflicts surfaced by repositories. A link conflict during
// creation means another login won the race; callers re-read the winner.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrLinkConflict     = errors.New("external identity already linked")
	ErrNameConflict     = errors.New("display name already taken")
	ErrIDConflict       = errors.New("user id already taken")
)
