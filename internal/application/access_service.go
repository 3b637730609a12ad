package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/events"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
	"github.com/rightside-club/service-discount/internal/pkg/kafka"
	"github.com/rightside-club/service-discount/internal/scheduler"
)

// InviteDTO is the API view of an issued invite. The token is returned only
// at creation time.
type InviteDTO struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PrincipalDTO is the API view of a registered principal.
type PrincipalDTO struct {
	TelegramUserID string    `json:"telegram_user_id"`
	Username       string    `json:"username,omitempty"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// RedeemInviteRequest carries the identity claiming an invite.
type RedeemInviteRequest struct {
	Token          string `json:"token" binding:"required"`
	TelegramUserID string `json:"telegram_user_id" binding:"required"`
	Username       string `json:"username"`
}

// AccessService manages principals and invites. Role hierarchy rules live in
// the access domain; this service applies them to commands and publishes the
// resulting events.
type AccessService struct {
	repo      access.Repository
	publisher scheduler.Publisher
	logger    *zap.Logger
}

func NewAccessService(repo access.Repository, publisher scheduler.Publisher, logger *zap.Logger) *AccessService {
	return &AccessService{repo: repo, publisher: publisher, logger: logger}
}

// CreateInvite issues a single-use invite for the given role. The actor must
// outrank the target role per the grant rules.
func (s *AccessService) CreateInvite(ctx context.Context, actorID string, actorRole access.Role, role access.Role) (*InviteDTO, error) {
	if !access.CanGrant(actorRole, role) {
		return nil, domain.NewForbiddenError("role " + string(actorRole) + " cannot grant " + string(role))
	}

	inv, err := access.NewInvite(role)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveInvite(ctx, inv); err != nil {
		return nil, err
	}

	s.publishAccessEvent(ctx, events.InviteCreated, events.AccessEvent{
		Role:       string(role),
		Actor:      actorID,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("invite created",
		zap.String("role", string(role)),
		zap.String("created_by", actorID),
		zap.Time("expires_at", inv.ExpiresAt()),
	)
	return &InviteDTO{
		Token:     inv.Token(),
		Role:      string(inv.Role()),
		ExpiresAt: inv.ExpiresAt(),
	}, nil
}

// RedeemInvite consumes the invite and registers (or re-registers) the
// principal with the invite's role. Used and expired invites fail with
// distinct errors; concurrent redemptions lose with a conflict.
func (s *AccessService) RedeemInvite(ctx context.Context, req RedeemInviteRequest) (*PrincipalDTO, error) {
	inv, err := s.repo.FindInvite(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if err := inv.MarkUsed(req.TelegramUserID, time.Now().UTC()); err != nil {
		return nil, err
	}

	p, err := access.NewPrincipal(req.TelegramUserID, req.Username, inv.Role())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Redeem(ctx, inv, p); err != nil {
		return nil, err
	}

	s.publishAccessEvent(ctx, events.InviteRedeemed, events.AccessEvent{
		Role:       string(inv.Role()),
		Subject:    req.TelegramUserID,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("invite redeemed",
		zap.String("role", string(inv.Role())),
		zap.String("telegram_user_id", req.TelegramUserID),
	)
	return toPrincipalDTO(p), nil
}

// SetRole changes a principal's role. The actor must be able to grant both
// the target's current role and the new one, and cannot change their own.
func (s *AccessService) SetRole(ctx context.Context, actorID string, actorRole access.Role, targetID string, newRole access.Role) (*PrincipalDTO, error) {
	if targetID == actorID {
		return nil, domain.NewForbiddenError("cannot change own role")
	}
	if !newRole.Valid() {
		return nil, domain.NewValidationError("unknown role " + string(newRole))
	}

	p, err := s.repo.FindPrincipal(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !access.CanGrant(actorRole, p.Role()) || !access.CanGrant(actorRole, newRole) {
		return nil, domain.NewForbiddenError("role " + string(actorRole) + " cannot manage this change")
	}

	if err := p.SetRole(newRole); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertPrincipal(ctx, p); err != nil {
		return nil, err
	}

	s.publishAccessEvent(ctx, events.RoleChanged, events.AccessEvent{
		Role:       string(newRole),
		Actor:      actorID,
		Subject:    targetID,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("role changed",
		zap.String("telegram_user_id", targetID),
		zap.String("role", string(newRole)),
		zap.String("changed_by", actorID),
	)
	return toPrincipalDTO(p), nil
}

// RemovePrincipal revokes a principal's access entirely.
func (s *AccessService) RemovePrincipal(ctx context.Context, actorID string, actorRole access.Role, targetID string) error {
	if targetID == actorID {
		return domain.NewForbiddenError("cannot remove own access")
	}

	p, err := s.repo.FindPrincipal(ctx, targetID)
	if err != nil {
		return err
	}
	if !access.CanGrant(actorRole, p.Role()) {
		return domain.NewForbiddenError("role " + string(actorRole) + " cannot remove a " + string(p.Role()))
	}

	if err := s.repo.RemovePrincipal(ctx, targetID); err != nil {
		return err
	}
	s.logger.Info("principal removed",
		zap.String("telegram_user_id", targetID),
		zap.String("removed_by", actorID),
	)
	return nil
}

// ListPrincipals returns every registered principal.
func (s *AccessService) ListPrincipals(ctx context.Context) ([]*PrincipalDTO, error) {
	principals, err := s.repo.ListPrincipals(ctx)
	if err != nil {
		return nil, err
	}
	dtos := make([]*PrincipalDTO, len(principals))
	for i, p := range principals {
		dtos[i] = toPrincipalDTO(p)
	}
	return dtos, nil
}

// FindPrincipal resolves one principal, used by the auth middleware.
func (s *AccessService) FindPrincipal(ctx context.Context, telegramUserID string) (*access.Principal, error) {
	return s.repo.FindPrincipal(ctx, telegramUserID)
}

func (s *AccessService) publishAccessEvent(ctx context.Context, eventType string, payload events.AccessEvent) {
	if s.publisher == nil {
		return
	}
	ce, err := kafka.NewCloudEvent(events.Source, eventType, payload)
	if err != nil {
		s.logger.Error("failed to build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.PublishEvent(ctx, events.TopicDiscountEvents, ce); err != nil {
		s.logger.Error("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func toPrincipalDTO(p *access.Principal) *PrincipalDTO {
	return &PrincipalDTO{
		TelegramUserID: p.TelegramUserID(),
		Username:       p.Username(),
		Role:           string(p.Role()),
		CreatedAt:      p.CreatedAt(),
	}
}
