package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

// PrincipalModel is the GORM model for the principals table.
type PrincipalModel struct {
	TelegramUserID string    `gorm:"primaryKey;type:varchar(64)"`
	Username       string    `gorm:"type:varchar(255)"`
	Role           string    `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (PrincipalModel) TableName() string { return "principals" }

// InviteModel is the GORM model for the invites table.
type InviteModel struct {
	Token     string     `gorm:"primaryKey;type:varchar(64)"`
	Role      string     `gorm:"type:varchar(20);not null"`
	ExpiresAt time.Time  `gorm:"type:timestamptz;not null"`
	UsedAt    *time.Time `gorm:"type:timestamptz"`
	UsedBy    string     `gorm:"type:varchar(64)"`
	CreatedAt time.Time  `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (InviteModel) TableName() string { return "invites" }

// GormAccessRepository implements access.Repository using GORM.
type GormAccessRepository struct {
	db *gorm.DB
}

// NewGormAccessRepository creates a new GormAccessRepository.
func NewGormAccessRepository(db *gorm.DB) *GormAccessRepository {
	return &GormAccessRepository{db: db}
}

// FindPrincipal retrieves a principal by telegram user id.
func (r *GormAccessRepository) FindPrincipal(ctx context.Context, telegramUserID string) (*access.Principal, error) {
	var model PrincipalModel
	if err := r.db.WithContext(ctx).Where("telegram_user_id = ?", telegramUserID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("principal", telegramUserID)
		}
		return nil, err
	}
	return toPrincipalDomain(&model), nil
}

// ListPrincipals returns all principals, oldest first.
func (r *GormAccessRepository) ListPrincipals(ctx context.Context) ([]*access.Principal, error) {
	var models []PrincipalModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	principals := make([]*access.Principal, len(models))
	for i := range models {
		principals[i] = toPrincipalDomain(&models[i])
	}
	return principals, nil
}

// UpsertPrincipal inserts or updates a principal keyed by telegram user id.
func (r *GormAccessRepository) UpsertPrincipal(ctx context.Context, p *access.Principal) error {
	model := toPrincipalModel(p)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "role"}),
		}).
		Create(&model).Error
}

// RemovePrincipal deletes a principal row.
func (r *GormAccessRepository) RemovePrincipal(ctx context.Context, telegramUserID string) error {
	result := r.db.WithContext(ctx).
		Where("telegram_user_id = ?", telegramUserID).
		Delete(&PrincipalModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("principal", telegramUserID)
	}
	return nil
}

// SaveInvite persists a new invite.
func (r *GormAccessRepository) SaveInvite(ctx context.Context, inv *access.Invite) error {
	model := toInviteModel(inv)
	return r.db.WithContext(ctx).Create(&model).Error
}

// FindInvite retrieves an invite by token.
func (r *GormAccessRepository) FindInvite(ctx context.Context, token string) (*access.Invite, error) {
	var model InviteModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("invite", token)
		}
		return nil, err
	}
	return toInviteDomain(&model), nil
}

// Redeem atomically marks the invite used and upserts the principal in one
// transaction. The conditional update on used_at makes a concurrent second
// redemption fail instead of silently re-granting.
func (r *GormAccessRepository) Redeem(ctx context.Context, inv *access.Invite, p *access.Principal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&InviteModel{}).
			Where("token = ? AND used_at IS NULL", inv.Token()).
			Updates(map[string]interface{}{
				"used_at": inv.UsedAt(),
				"used_by": inv.UsedBy(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return access.ErrInviteUsed
		}

		principal := toPrincipalModel(p)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "role"}),
		}).Create(&principal).Error
	})
}

func toPrincipalModel(p *access.Principal) PrincipalModel {
	return PrincipalModel{
		TelegramUserID: p.TelegramUserID(),
		Username:       p.Username(),
		Role:           string(p.Role()),
		CreatedAt:      p.CreatedAt(),
	}
}

func toPrincipalDomain(m *PrincipalModel) *access.Principal {
	return access.ReconstructPrincipal(m.TelegramUserID, m.Username, access.Role(m.Role), m.CreatedAt)
}

func toInviteModel(inv *access.Invite) InviteModel {
	return InviteModel{
		Token:     inv.Token(),
		Role:      string(inv.Role()),
		ExpiresAt: inv.ExpiresAt(),
		UsedAt:    inv.UsedAt(),
		UsedBy:    inv.UsedBy(),
		CreatedAt: inv.CreatedAt(),
	}
}

func toInviteDomain(m *InviteModel) *access.Invite {
	return access.ReconstructInvite(m.Token, access.Role(m.Role), m.ExpiresAt, m.UsedAt, m.UsedBy, m.CreatedAt)
}
