package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/arcadelab/identity/domain"
)

// IdentityRepository implements domain.IdentityRepository on two collections:
// identities (unique _id, unique display_name) and external_links (unique
// (provider, subject)). The unique link index is what makes first-login
// creation at-most-once across processes.
type IdentityRepository struct {
	identities *mongo.Collection
	links      *mongo.Collection
}

func NewIdentityRepository(ctx context.Context, db *mongo.Database) (*IdentityRepository, error) {
	repo := &IdentityRepository{
		identities: db.Collection(IdentitiesCollection),
		links:      db.Collection(ExternalLinksCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensuring identity indexes: %w", err)
	}
	return repo, nil
}

func (r *IdentityRepository) createIndexes(ctx context.Context) error {
	_, err := r.identities.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "display_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("identities indexes: %w", err)
	}

	_, err = r.links.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// One external account links to exactly one identity.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "subject", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("external_links indexes: %w", err)
	}
	return nil
}

// identityDoc maps domain.Identity onto the collection; the user id is the
// document id.
type identityDoc struct {
	ID            string        `bson:"_id"`
	DisplayName   string        `bson:"display_name"`
	Email         string        `bson:"email,omitempty"`
	EmailVerified bool          `bson:"email_verified"`
	CreatedAt     bson.DateTime `bson:"created_at"`
}

func docFromIdentity(ident *domain.Identity) *identityDoc {
	return &identityDoc{
		ID:            ident.ID,
		DisplayName:   ident.DisplayName,
		Email:         ident.Email,
		EmailVerified: ident.EmailVerified,
		CreatedAt:     bson.NewDateTimeFromTime(ident.CreatedAt),
	}
}

func (d *identityDoc) toIdentity() *domain.Identity {
	return &domain.Identity{
		ID:            d.ID,
		DisplayName:   d.DisplayName,
		Email:         d.Email,
		EmailVerified: d.EmailVerified,
		CreatedAt:     d.CreatedAt.Time().UTC(),
	}
}

func (r *IdentityRepository) CreateWithLink(ctx context.Context, ident *domain.Identity, link *domain.ExternalLink) error {
	if _, err := r.identities.InsertOne(ctx, docFromIdentity(ident)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return classifyIdentityConflict(err)
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	if _, err := r.links.InsertOne(ctx, link); err != nil {
		// Roll the identity back so a lost race leaves nothing behind.
		if _, delErr := r.identities.DeleteOne(ctx, bson.M{"_id": ident.ID}); delErr != nil {
			log.Error().Err(delErr).Str("user_id", ident.ID).Msg("orphaned identity after link conflict")
		}
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("link %s/%s: %w", link.Provider, link.Subject, domain.ErrLinkConflict)
		}
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

// classifyIdentityConflict maps a duplicate-key error on the identities
// collection to the conflicting field. The index name is the only signal the
// server gives.
func classifyIdentityConflict(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "display_name") {
		return domain.ErrNameConflict
	}
	return domain.ErrIDConflict
}

func (r *IdentityRepository) FindByID(ctx context.Context, userID string) (*domain.Identity, error) {
	var doc identityDoc
	err := r.identities.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	return doc.toIdentity(), nil
}

func (r *IdentityRepository) FindByLink(ctx context.Context, provider, subject string) (*domain.Identity, error) {
	var link domain.ExternalLink
	err := r.links.FindOne(ctx, bson.M{"provider": provider, "subject": subject}).Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding link: %w", err)
	}
	return r.FindByID(ctx, link.UserID)
}

func (r *IdentityRepository) AddLink(ctx context.Context, link *domain.ExternalLink) error {
	if _, err := r.links.InsertOne(ctx, link); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("link %s/%s: %w", link.Provider, link.Subject, domain.ErrLinkConflict)
		}
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

func (r *IdentityRepository) RemoveLink(ctx context.Context, userID, provider, subject string) error {
	res, err := r.links.DeleteOne(ctx, bson.M{
		"user_id":  userID,
		"provider": provider,
		"subject":  subject,
	})
	if err != nil {
		return fmt.Errorf("removing link: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func (r *IdentityRepository) ListLinks(ctx context.Context, userID string) ([]*domain.ExternalLink, error) {
	cursor, err := r.links.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer cursor.Close(ctx)

	var links []*domain.ExternalLink
	if err := cursor.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("decoding links: %w", err)
	}
	return links, nil
}

func (r *IdentityRepository) UpdateDisplayName(ctx context.Context, userID, name string) error {
	res, err := r.identities.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"display_name": name}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrNameConflict
		}
		return fmt.Errorf("updating display name: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func (r *IdentityRepository) Delete(ctx context.Context, userID string) error {
	res, err := r.identities.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrIdentityNotFound
	}

	if _, err := r.links.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("cascading link delete: %w", err)
	}
	return nil
}

var _ domain.IdentityRepository = (*IdentityRepository)(nil)
