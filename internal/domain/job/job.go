package job

import (
	"time"

	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

// Status represents the lifecycle state of a discount job.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCanceled
}

// Job is the aggregate root for one time-bounded discount grant.
type Job struct {
	id             int64
	clientUUID     string
	clientPhone    string
	clientNickname string
	discountValue  int
	previousValue  *int
	startsAt       time.Time
	endsAt         time.Time
	status         Status
	createdBy      string
	lastError      string
	version        int64
	createdAt      time.Time
	updatedAt      time.Time
}

// New creates a scheduled job. startsAt in the past or zero means "due now".
func New(clientUUID, clientPhone, clientNickname string, discountValue int, startsAt, endsAt time.Time, createdBy string) (*Job, error) {
	if clientUUID == "" {
		return nil, domain.NewValidationError("client uuid is required")
	}
	if discountValue < 0 || discountValue > 100 {
		return nil, domain.NewValidationError("discount value must be between 0 and 100")
	}
	if createdBy == "" {
		return nil, domain.NewValidationError("created_by is required")
	}

	now := time.Now().UTC()
	if startsAt.IsZero() {
		startsAt = now
	}
	if !endsAt.After(startsAt) {
		return nil, domain.NewValidationError("ends_at must be after starts_at")
	}

	return &Job{
		clientUUID:     clientUUID,
		clientPhone:    clientPhone,
		clientNickname: clientNickname,
		discountValue:  discountValue,
		startsAt:       startsAt,
		endsAt:         endsAt,
		status:         StatusScheduled,
		createdBy:      createdBy,
		version:        1,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Reconstruct rebuilds a Job from persistence.
func Reconstruct(id int64, clientUUID, clientPhone, clientNickname string, discountValue int, previousValue *int, startsAt, endsAt time.Time, status Status, createdBy, lastError string, version int64, createdAt, updatedAt time.Time) *Job {
	return &Job{
		id: id, clientUUID: clientUUID, clientPhone: clientPhone, clientNickname: clientNickname,
		discountValue: discountValue, previousValue: previousValue,
		startsAt: startsAt, endsAt: endsAt, status: status,
		createdBy: createdBy, lastError: lastError, version: version,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// Getters.
func (j *Job) ID() int64              { return j.id }
func (j *Job) ClientUUID() string     { return j.clientUUID }
func (j *Job) ClientPhone() string    { return j.clientPhone }
func (j *Job) ClientNickname() string { return j.clientNickname }
func (j *Job) DiscountValue() int     { return j.discountValue }
func (j *Job) StartsAt() time.Time    { return j.startsAt }
func (j *Job) EndsAt() time.Time      { return j.endsAt }
func (j *Job) Status() Status         { return j.status }
func (j *Job) CreatedBy() string      { return j.createdBy }
func (j *Job) LastError() string      { return j.lastError }
func (j *Job) Version() int64         { return j.version }
func (j *Job) CreatedAt() time.Time   { return j.createdAt }
func (j *Job) UpdatedAt() time.Time   { return j.updatedAt }

// PreviousValue returns the discount value captured at activation, or nil if
// the job has never been activated.
func (j *Job) PreviousValue() *int { return j.previousValue }

// RevertValue returns the value a revert restores: the captured previous
// value, or zero if none was recorded.
func (j *Job) RevertValue() int {
	if j.previousValue != nil {
		return *j.previousValue
	}
	return 0
}

// DueForActivation reports whether the job should transition to active.
func (j *Job) DueForActivation(now time.Time) bool {
	return j.status == StatusScheduled && !j.startsAt.After(now)
}

// DueForFinish reports whether the job should transition to finished.
func (j *Job) DueForFinish(now time.Time) bool {
	return j.status == StatusActive && !j.endsAt.After(now)
}

// CapturePreviousValue records the client's live discount value. It is set
// exactly once; later calls leave the captured value untouched.
func (j *Job) CapturePreviousValue(value int) {
	if j.previousValue != nil {
		return
	}
	v := value
	j.previousValue = &v
	j.touch()
}

// Activate transitions scheduled -> active.
func (j *Job) Activate() error {
	if j.status != StatusScheduled {
		return domain.NewInvalidStateError(string(j.status), string(StatusActive))
	}
	j.status = StatusActive
	j.lastError = ""
	j.touch()
	return nil
}

// Finish transitions active -> finished.
func (j *Job) Finish() error {
	if j.status != StatusActive {
		return domain.NewInvalidStateError(string(j.status), string(StatusFinished))
	}
	j.status = StatusFinished
	j.lastError = ""
	j.touch()
	return nil
}

// Fail transitions a non-terminal job to failed, recording the diagnostic.
func (j *Job) Fail(reason string) error {
	if j.status.IsTerminal() {
		return domain.NewInvalidStateError(string(j.status), string(StatusFailed))
	}
	j.status = StatusFailed
	j.lastError = reason
	j.touch()
	return nil
}

// Cancel transitions scheduled|active -> canceled.
func (j *Job) Cancel() error {
	if j.status != StatusScheduled && j.status != StatusActive {
		return domain.NewInvalidStateError(string(j.status), string(StatusCanceled))
	}
	j.status = StatusCanceled
	j.lastError = ""
	j.touch()
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (j *Job) IncrementVersion() {
	j.version++
	j.touch()
}

func (j *Job) touch() {
	j.updatedAt = time.Now().UTC()
}
