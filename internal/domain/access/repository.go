package access

import "context"

// Repository defines the persistence contract for principals and invites.
type Repository interface {
	// FindPrincipal retrieves a principal by telegram user id.
	FindPrincipal(ctx context.Context, telegramUserID string) (*Principal, error)

	// ListPrincipals returns all principals, oldest first.
	ListPrincipals(ctx context.Context) ([]*Principal, error)

	// UpsertPrincipal inserts or updates a principal keyed by telegram user id.
	UpsertPrincipal(ctx context.Context, p *Principal) error

	// RemovePrincipal deletes a principal row.
	RemovePrincipal(ctx context.Context, telegramUserID string) error

	// SaveInvite persists a new invite.
	SaveInvite(ctx context.Context, inv *Invite) error

	// FindInvite retrieves an invite by token.
	FindInvite(ctx context.Context, token string) (*Invite, error)

	// Redeem atomically marks the invite used and upserts the principal.
	// It fails with a conflict if the invite was concurrently redeemed.
	Redeem(ctx context.Context, inv *Invite, p *Principal) error
}
