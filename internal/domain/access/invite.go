package access

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

// InviteTTL is how long an invite stays redeemable after issuance.
const InviteTTL = 24 * time.Hour

// Distinct redemption failures so callers can tell them apart.
var (
	ErrInviteUsed    = domain.NewConflictError("invite already used")
	ErrInviteExpired = domain.NewValidationError("invite expired")
)

// Invite is a single-use token granting a role on redemption.
type Invite struct {
	token     string
	role      Role
	expiresAt time.Time
	usedAt    *time.Time
	usedBy    string
	createdAt time.Time
}

// NewInvite issues an invite for a grantable role. Only moderator and admin
// can be granted through invites.
func NewInvite(role Role) (*Invite, error) {
	if role != RoleModerator && role != RoleAdmin {
		return nil, domain.NewValidationError("invite role must be moderator or admin")
	}

	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate invite token: %w", err)
	}

	now := time.Now().UTC()
	return &Invite{
		token:     hex.EncodeToString(buf),
		role:      role,
		expiresAt: now.Add(InviteTTL),
		createdAt: now,
	}, nil
}

// ReconstructInvite rebuilds an Invite from persistence.
func ReconstructInvite(token string, role Role, expiresAt time.Time, usedAt *time.Time, usedBy string, createdAt time.Time) *Invite {
	return &Invite{
		token: token, role: role, expiresAt: expiresAt,
		usedAt: usedAt, usedBy: usedBy, createdAt: createdAt,
	}
}

func (i *Invite) Token() string        { return i.token }
func (i *Invite) Role() Role           { return i.role }
func (i *Invite) ExpiresAt() time.Time { return i.expiresAt }
func (i *Invite) UsedAt() *time.Time   { return i.usedAt }
func (i *Invite) UsedBy() string       { return i.usedBy }
func (i *Invite) CreatedAt() time.Time { return i.createdAt }

// Redeemable checks the invite against the single-use and expiry rules at
// the given instant. Used and expired invites fail with distinct errors.
func (i *Invite) Redeemable(now time.Time) error {
	if i.usedAt != nil {
		return ErrInviteUsed
	}
	if !now.Before(i.expiresAt) {
		return ErrInviteExpired
	}
	return nil
}

// MarkUsed records the redeeming principal. Redemption is irreversible.
func (i *Invite) MarkUsed(telegramUserID string, now time.Time) error {
	if err := i.Redeemable(now); err != nil {
		return err
	}
	t := now
	i.usedAt = &t
	i.usedBy = telegramUserID
	return nil
}
