package application

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/domain/job"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
	"github.com/rightside-club/service-discount/internal/scheduler"
)

// CreateDiscountRequest is the input for scheduling a discount. Exactly one
// of ClientUUID, Phone or Query identifies the target client.
type CreateDiscountRequest struct {
	ClientUUID string `json:"client_uuid"`
	Phone      string `json:"phone"`
	Query      string `json:"query"`

	Value    int    `json:"value" binding:"required"`
	Duration string `json:"duration" binding:"required"`

	// StartsAt empty means "apply now".
	StartsAt *time.Time `json:"starts_at"`
}

// JobDTO is the API view of a discount job.
type JobDTO struct {
	ID            int64      `json:"id"`
	ClientUUID    string     `json:"client_uuid"`
	ClientLabel   string     `json:"client_label"`
	DiscountValue int        `json:"discount_value"`
	PreviousValue *int       `json:"previous_value,omitempty"`
	StartsAt      time.Time  `json:"starts_at"`
	EndsAt        time.Time  `json:"ends_at"`
	Status        string     `json:"status"`
	CreatedBy     string     `json:"created_by"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DiscountService orchestrates discount job commands. All state transitions
// go through the scheduler; the service only resolves targets and enforces
// per-role visibility.
type DiscountService struct {
	scheduler *scheduler.DiscountScheduler
	jobRepo   job.Repository
	billing   adapter.BillingAdapter
	logger    *zap.Logger
}

func NewDiscountService(
	sched *scheduler.DiscountScheduler,
	jobRepo job.Repository,
	billing adapter.BillingAdapter,
	logger *zap.Logger,
) *DiscountService {
	return &DiscountService{
		scheduler: sched,
		jobRepo:   jobRepo,
		billing:   billing,
		logger:    logger,
	}
}

// Create resolves the target client, schedules a discount job and, when the
// job is already due, the synchronous tick applies it before returning.
func (s *DiscountService) Create(ctx context.Context, actorID string, req CreateDiscountRequest) (*JobDTO, error) {
	duration, err := ParseDuration(req.Duration)
	if err != nil {
		return nil, err
	}

	client, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewNotFoundError("client", targetLabel(req))
	}

	startsAt := time.Now().UTC()
	if req.StartsAt != nil {
		startsAt = req.StartsAt.UTC()
	}
	endsAt := startsAt.Add(duration)

	j, err := job.New(client.UUID, adapter.NormalizePhone(client.Phone), client.Nickname,
		req.Value, startsAt, endsAt, actorID)
	if err != nil {
		return nil, err
	}

	if err := s.scheduler.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	// The synchronous tick re-reads jobs from storage, so refetch to report
	// the post-activation state.
	j, err = s.jobRepo.FindByID(ctx, j.ID())
	if err != nil {
		return nil, err
	}

	s.logger.Info("discount job created",
		zap.Int64("job_id", j.ID()),
		zap.String("client_uuid", j.ClientUUID()),
		zap.Int("value", req.Value),
		zap.String("created_by", actorID),
	)
	return toJobDTO(j), nil
}

// List returns jobs visible to the actor. Admins see only the jobs they
// created; moderators and the owner see everything.
func (s *DiscountService) List(ctx context.Context, actorID string, role access.Role, limit int, statuses []string) ([]*JobDTO, error) {
	f := job.Filter{Limit: limit}
	for _, st := range statuses {
		f.Statuses = append(f.Statuses, job.Status(st))
	}
	if !access.HasRole(role, access.RoleModerator) {
		f.CreatedBy = actorID
	}

	jobs, err := s.jobRepo.List(ctx, f)
	if err != nil {
		return nil, err
	}

	dtos := make([]*JobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = toJobDTO(j)
	}
	return dtos, nil
}

// Cancel reverts and cancels a job. Admins may only cancel their own jobs.
func (s *DiscountService) Cancel(ctx context.Context, actorID string, role access.Role, id int64) (*JobDTO, error) {
	j, err := s.jobRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.HasRole(role, access.RoleModerator) && j.CreatedBy() != actorID {
		return nil, domain.NewForbiddenError("job belongs to another operator")
	}

	j, err = s.scheduler.CancelJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return toJobDTO(j), nil
}

// Get returns a single job with the same visibility rules as List.
func (s *DiscountService) Get(ctx context.Context, actorID string, role access.Role, id int64) (*JobDTO, error) {
	j, err := s.jobRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.HasRole(role, access.RoleModerator) && j.CreatedBy() != actorID {
		return nil, domain.NewForbiddenError("job belongs to another operator")
	}
	return toJobDTO(j), nil
}

// CountByStatus exposes the job counters for the admin stats endpoint.
func (s *DiscountService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := s.jobRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

func (s *DiscountService) resolveTarget(ctx context.Context, req CreateDiscountRequest) (*adapter.Client, error) {
	switch {
	case req.ClientUUID != "":
		return s.billing.FindClientByUUID(ctx, req.ClientUUID)
	case req.Phone != "":
		phone := adapter.NormalizePhone(req.Phone)
		if phone == "" {
			return nil, domain.NewValidationError("unrecognized phone format")
		}
		return s.billing.FindClientByPhone(ctx, phone)
	case req.Query != "":
		return s.billing.FindClient(ctx, req.Query)
	default:
		return nil, domain.NewValidationError("client_uuid, phone or query is required")
	}
}

func targetLabel(req CreateDiscountRequest) string {
	if req.ClientUUID != "" {
		return req.ClientUUID
	}
	if req.Phone != "" {
		return req.Phone
	}
	return req.Query
}

// ParseDuration accepts the operator shorthand: 30m, 2h, 1d, 1w, or a bare
// number meaning hours.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return 0, domain.NewValidationError("duration is required")
	}

	unit := time.Hour
	num := raw
	switch raw[len(raw)-1] {
	case 'm':
		unit, num = time.Minute, raw[:len(raw)-1]
	case 'h':
		unit, num = time.Hour, raw[:len(raw)-1]
	case 'd':
		unit, num = 24*time.Hour, raw[:len(raw)-1]
	case 'w':
		unit, num = 7*24*time.Hour, raw[:len(raw)-1]
	}

	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, domain.NewValidationError("unrecognized duration " + raw)
	}
	return time.Duration(n) * unit, nil
}

func toJobDTO(j *job.Job) *JobDTO {
	label := j.ClientNickname()
	if label == "" {
		label = adapter.FormatPhone(j.ClientPhone())
	}
	return &JobDTO{
		ID:            j.ID(),
		ClientUUID:    j.ClientUUID(),
		ClientLabel:   label,
		DiscountValue: j.DiscountValue(),
		PreviousValue: j.PreviousValue(),
		StartsAt:      j.StartsAt(),
		EndsAt:        j.EndsAt(),
		Status:        string(j.Status()),
		CreatedBy:     j.CreatedBy(),
		LastError:     j.LastError(),
		CreatedAt:     j.CreatedAt(),
		UpdatedAt:     j.UpdatedAt(),
	}
}
