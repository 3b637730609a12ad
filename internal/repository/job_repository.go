package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	jobDomain "github.com/rightside-club/service-discount/internal/domain/job"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

// JobModel is the GORM persistence model for the discount_jobs table.
type JobModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ClientUUID     string    `gorm:"type:uuid;not null;index"`
	ClientPhone    string    `gorm:"type:varchar(20)"`
	ClientNickname string    `gorm:"type:varchar(255)"`
	DiscountValue  int       `gorm:"not null"`
	PreviousValue  *int      `gorm:"column:previous_discount_value"`
	StartsAt       time.Time `gorm:"type:timestamptz;not null;index"`
	EndsAt         time.Time `gorm:"type:timestamptz;not null;index"`
	Status         string    `gorm:"type:varchar(20);not null;default:'scheduled';index"`
	CreatedBy      string    `gorm:"type:varchar(64);not null;index"`
	LastError      string    `gorm:"type:text"`
	Version        int64     `gorm:"not null;default:1"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (JobModel) TableName() string { return "discount_jobs" }

// GormJobRepository is the GORM-based implementation of job.Repository.
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GORM-based job repository.
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Save persists a new job and backfills the generated ID into the aggregate.
func (r *GormJobRepository) Save(ctx context.Context, j *jobDomain.Job) error {
	model := toJobModel(j)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	*j = *toJobDomain(&model)
	return nil
}

// Update persists changes to an existing job with an optimistic version
// check, so a tick transition and an explicit cancel can never silently
// overwrite each other.
func (r *GormJobRepository) Update(ctx context.Context, j *jobDomain.Job) error {
	model := toJobModel(j)
	previousVersion := j.Version() - 1

	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND version = ?", model.ID, previousVersion).
		Select("status", "previous_discount_value", "last_error", "version", "updated_at").
		Updates(map[string]interface{}{
			"status":                  model.Status,
			"previous_discount_value": model.PreviousValue,
			"last_error":              model.LastError,
			"version":                 model.Version,
			"updated_at":              model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError(fmt.Sprintf("job %d was modified by another writer", j.ID()))
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *GormJobRepository) FindByID(ctx context.Context, id int64) (*jobDomain.Job, error) {
	var model JobModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("job", fmt.Sprintf("%d", id))
		}
		return nil, err
	}
	return toJobDomain(&model), nil
}

// DueScheduled returns scheduled jobs with starts_at <= now, oldest first.
func (r *GormJobRepository) DueScheduled(ctx context.Context, now time.Time) ([]*jobDomain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND starts_at <= ?", jobDomain.StatusScheduled, now).
		Order("starts_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toJobDomainList(models), nil
}

// DueActive returns active jobs with ends_at <= now, oldest first.
func (r *GormJobRepository) DueActive(ctx context.Context, now time.Time) ([]*jobDomain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at <= ?", jobDomain.StatusActive, now).
		Order("ends_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toJobDomainList(models), nil
}

// List returns jobs matching the filter, most recent first.
func (r *GormJobRepository) List(ctx context.Context, f jobDomain.Filter) ([]*jobDomain.Job, error) {
	q := r.db.WithContext(ctx).Model(&JobModel{}).Order("created_at DESC")
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var models []JobModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return toJobDomainList(models), nil
}

// OpenByClient returns the client's scheduled and active jobs.
func (r *GormJobRepository) OpenByClient(ctx context.Context, clientUUID string) ([]*jobDomain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("client_uuid = ? AND status IN ?", clientUUID,
			[]jobDomain.Status{jobDomain.StatusScheduled, jobDomain.StatusActive}).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toJobDomainList(models), nil
}

// CountByStatus returns job counts grouped by status.
func (r *GormJobRepository) CountByStatus(ctx context.Context) (map[jobDomain.Status]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[jobDomain.Status]int64, len(results))
	for _, sc := range results {
		counts[jobDomain.Status(sc.Status)] = sc.Count
	}
	return counts, nil
}

func toJobModel(j *jobDomain.Job) JobModel {
	return JobModel{
		ID:             j.ID(),
		ClientUUID:     j.ClientUUID(),
		ClientPhone:    j.ClientPhone(),
		ClientNickname: j.ClientNickname(),
		DiscountValue:  j.DiscountValue(),
		PreviousValue:  j.PreviousValue(),
		StartsAt:       j.StartsAt(),
		EndsAt:         j.EndsAt(),
		Status:         string(j.Status()),
		CreatedBy:      j.CreatedBy(),
		LastError:      j.LastError(),
		Version:        j.Version(),
		CreatedAt:      j.CreatedAt(),
		UpdatedAt:      j.UpdatedAt(),
	}
}

func toJobDomain(m *JobModel) *jobDomain.Job {
	return jobDomain.Reconstruct(
		m.ID, m.ClientUUID, m.ClientPhone, m.ClientNickname,
		m.DiscountValue, m.PreviousValue,
		m.StartsAt, m.EndsAt, jobDomain.Status(m.Status),
		m.CreatedBy, m.LastError, m.Version,
		m.CreatedAt, m.UpdatedAt,
	)
}

func toJobDomainList(models []JobModel) []*jobDomain.Job {
	jobs := make([]*jobDomain.Job, len(models))
	for i := range models {
		jobs[i] = toJobDomain(&models[i])
	}
	return jobs
}
