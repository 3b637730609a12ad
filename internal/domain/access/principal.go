package access

import (
	"time"

	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

// Principal is an external identity (telegram user) holding a role.
type Principal struct {
	telegramUserID string
	username       string
	role           Role
	createdAt      time.Time
}

// NewPrincipal creates a principal with the given role.
func NewPrincipal(telegramUserID, username string, role Role) (*Principal, error) {
	if telegramUserID == "" {
		return nil, domain.NewValidationError("telegram user id is required")
	}
	if !role.Valid() {
		return nil, domain.NewValidationError("unknown role " + string(role))
	}
	return &Principal{
		telegramUserID: telegramUserID,
		username:       username,
		role:           role,
		createdAt:      time.Now().UTC(),
	}, nil
}

// ReconstructPrincipal rebuilds a Principal from persistence.
func ReconstructPrincipal(telegramUserID, username string, role Role, createdAt time.Time) *Principal {
	return &Principal{
		telegramUserID: telegramUserID,
		username:       username,
		role:           role,
		createdAt:      createdAt,
	}
}

func (p *Principal) TelegramUserID() string { return p.telegramUserID }
func (p *Principal) Username() string       { return p.username }
func (p *Principal) Role() Role             { return p.role }
func (p *Principal) CreatedAt() time.Time   { return p.createdAt }

// SetRole changes the principal's role.
func (p *Principal) SetRole(role Role) error {
	if !role.Valid() {
		return domain.NewValidationError("unknown role " + string(role))
	}
	p.role = role
	return nil
}
