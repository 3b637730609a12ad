package job

import (
	"context"
	"time"
)

// Filter restricts a job listing.
type Filter struct {
	Limit     int
	CreatedBy string   // empty means any creator
	Statuses  []Status // empty means any status
}

// Repository defines the persistence contract for discount jobs.
type Repository interface {
	// Save persists a new job and assigns its ID.
	Save(ctx context.Context, j *Job) error

	// Update persists changes to an existing job with optimistic locking.
	Update(ctx context.Context, j *Job) error

	// FindByID retrieves a job by its ID.
	FindByID(ctx context.Context, id int64) (*Job, error)

	// DueScheduled returns scheduled jobs with starts_at <= now, oldest first.
	DueScheduled(ctx context.Context, now time.Time) ([]*Job, error)

	// DueActive returns active jobs with ends_at <= now, oldest first.
	DueActive(ctx context.Context, now time.Time) ([]*Job, error)

	// List returns jobs matching the filter, most recent first.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// OpenByClient returns the client's scheduled and active jobs.
	OpenByClient(ctx context.Context, clientUUID string) ([]*Job, error)

	// CountByStatus returns job counts grouped by status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
