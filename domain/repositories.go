package domain

import "context"

// IdentityRepository persists identities and their external links. CreateWithLink
// must be atomic: either both the identity and the link exist afterwards, or
// neither does. A duplicate (provider, subject) insert returns ErrLinkConflict
// so concurrent first logins converge on the winner's identity.
type IdentityRepository interface {
	// CreateWithLink stores a new identity together with its first external link.
	CreateWithLink(ctx context.Context, identity *Identity, link *ExternalLink) error

	// FindByID returns the identity with the given user id, or ErrIdentityNotFound.
	FindByID(ctx context.Context, userID string) (*Identity, error)

	// FindByLink returns the identity linked to (provider, subject), or
	// ErrIdentityNotFound when no link exists.
	FindByLink(ctx context.Context, provider, subject string) (*Identity, error)

	// AddLink attaches an additional external login to an existing identity.
	// Returns ErrLinkConflict when the (provider, subject) pair is taken.
	AddLink(ctx context.Context, link *ExternalLink) error

	// RemoveLink deletes the link for (provider, subject) owned by userID.
	RemoveLink(ctx context.Context, userID, provider, subject string) error

	// ListLinks returns all external links of an identity.
	ListLinks(ctx context.Context, userID string) ([]*ExternalLink, error)

	// UpdateDisplayName replaces the generated display name. The id is permanent.
	UpdateDisplayName(ctx context.Context, userID, name string) error

	// Delete removes the identity and cascades to its links.
	Delete(ctx context.Context, userID string) error
}
