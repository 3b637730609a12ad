package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
	"github.com/rightside-club/service-discount/internal/scheduler"
)

// ClientDTO is the API view of a billing client.
type ClientDTO struct {
	UUID         string  `json:"uuid"`
	Nickname     string  `json:"nickname"`
	Phone        string  `json:"phone"`
	Deposit      float64 `json:"deposit"`
	Bonus        float64 `json:"bonus"`
	UserDiscount int     `json:"user_discount"`
	GroupTitle   string  `json:"group_title,omitempty"`
}

// ClientService exposes direct client operations against the billing system:
// lookups and immediate discount writes that bypass the job lifecycle.
type ClientService struct {
	billing   adapter.BillingAdapter
	scheduler *scheduler.DiscountScheduler
	logger    *zap.Logger
}

func NewClientService(billing adapter.BillingAdapter, sched *scheduler.DiscountScheduler, logger *zap.Logger) *ClientService {
	return &ClientService{billing: billing, scheduler: sched, logger: logger}
}

// Find searches the billing system by free-text query.
func (s *ClientService) Find(ctx context.Context, query string) (*ClientDTO, error) {
	if query == "" {
		return nil, domain.NewValidationError("query is required")
	}
	client, err := s.billing.FindClient(ctx, query)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewNotFoundError("client", query)
	}
	return toClientDTO(client), nil
}

// SetDiscount writes a permanent discount directly, outside any job.
func (s *ClientService) SetDiscount(ctx context.Context, clientUUID string, value int) (*ClientDTO, error) {
	if value < 0 || value > 100 {
		return nil, domain.NewValidationError("discount value must be between 0 and 100")
	}

	client, err := s.billing.SetDiscount(ctx, clientUUID, value)
	if err != nil {
		return nil, err
	}
	s.logger.Info("discount set directly",
		zap.String("client_uuid", clientUUID),
		zap.Int("value", value),
	)
	return toClientDTO(client), nil
}

// RemoveDiscount resets the client's discount to zero and cancels any open
// jobs so the scheduler does not re-apply or re-revert later.
func (s *ClientService) RemoveDiscount(ctx context.Context, clientUUID string) (*ClientDTO, error) {
	client, err := s.billing.SetDiscount(ctx, clientUUID, 0)
	if err != nil {
		return nil, err
	}

	canceled, err := s.scheduler.CancelOpenJobsForClient(ctx, clientUUID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("discount removed",
		zap.String("client_uuid", clientUUID),
		zap.Int("jobs_canceled", canceled),
	)
	return toClientDTO(client), nil
}

// BillingStatus reports recent billing connectivity for readiness checks.
func (s *ClientService) BillingStatus() adapter.Status {
	return s.billing.Status()
}

func toClientDTO(c *adapter.Client) *ClientDTO {
	return &ClientDTO{
		UUID:         c.UUID,
		Nickname:     c.Nickname,
		Phone:        adapter.FormatPhone(adapter.NormalizePhone(c.Phone)),
		Deposit:      c.Deposit,
		Bonus:        c.Bonus,
		UserDiscount: c.UserDiscount,
		GroupTitle:   c.GroupTitle,
	}
}
