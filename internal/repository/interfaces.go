package repository

import (
	"context"
	"time"

	"github.com/sachigoyal/echo-auth/internal/domain"
)

// UserRepository exposes persistence for platform users.
type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// AppRepository exposes persistence for registered apps.
type AppRepository interface {
	GetByID(ctx context.Context, appID int64) (domain.App, error)
	ListOwnedBy(ctx context.Context, userID int64) ([]domain.App, error)
	ListMemberAppsByUser(ctx context.Context, userID int64) ([]domain.MemberApp, error)
}

// MembershipRepository manages the (user, app) join records.
type MembershipRepository interface {
	GetActive(ctx context.Context, userID, appID int64) (domain.Membership, error)
	Create(ctx context.Context, membership domain.Membership) (domain.Membership, error)
}

// APIKeyRepository handles hashed static credentials.
type APIKeyRepository interface {
	Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error)
	// FindByHash resolves a key hash to the key and its owning user and app
	// in a single joined lookup.
	FindByHash(ctx context.Context, keyHash string) (domain.APIKey, domain.User, domain.App, error)
	// TouchUsage records last-used metadata. Failures are best effort.
	TouchUsage(ctx context.Context, keyID int64, usage domain.APIKeyUsage) error
}

// RefreshTokenRepository handles the rotating refresh chain.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error)
	// GetActiveByToken returns the non-archived row for an exact value; the
	// row may already be past its expiry.
	GetActiveByToken(ctx context.Context, token string) (domain.RefreshToken, error)
	// ArchiveIfActive atomically archives the row for the value if and only
	// if it is still non-archived, returning the claimed row. This is the
	// compare-and-swap that makes rotation single-use under concurrency.
	ArchiveIfActive(ctx context.Context, token string) (domain.RefreshToken, error)
	Archive(ctx context.Context, tokenID int64) error
	// ArchiveActiveByUserApp retires every active token for the pair before a
	// new chain head is inserted.
	ArchiveActiveByUserApp(ctx context.Context, userID, appID int64) error
}

// CodeConsumer records spent authorization codes for the lifetime of the
// code itself, so a still-unexpired code cannot be exchanged twice.
type CodeConsumer interface {
	// Consume returns true when this call was the first to spend the code.
	Consume(ctx context.Context, code string, ttl time.Duration) (bool, error)
}
