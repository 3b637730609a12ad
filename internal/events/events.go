// Package events defines the outbound event feed the scheduler and access
// layer publish to. Subscribers (the console feed, external dashboards)
// drain the topic independently of core logic.
package events

import "time"

// TopicDiscountEvents carries every lifecycle event of the service.
const TopicDiscountEvents = "discount.events"

// Source identifies this service in event envelopes.
const Source = "service-discount"

// Event types.
const (
	DiscountJobCreated  = "discount.job.created"
	DiscountJobApplied  = "discount.job.applied"
	DiscountJobFinished = "discount.job.finished"
	DiscountJobFailed   = "discount.job.failed"
	DiscountJobCanceled = "discount.job.canceled"
	InviteCreated       = "access.invite.created"
	InviteRedeemed      = "access.invite.redeemed"
	RoleChanged         = "access.role.changed"
)

// JobEvent is the payload for every discount.job.* event.
type JobEvent struct {
	JobID         int64     `json:"job_id"`
	ClientUUID    string    `json:"client_uuid"`
	ClientLabel   string    `json:"client_label,omitempty"`
	DiscountValue int       `json:"discount_value"`
	RevertValue   *int      `json:"revert_value,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	EndsAt        time.Time `json:"ends_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AccessEvent is the payload for every access.* event.
type AccessEvent struct {
	Role       string    `json:"role"`
	Actor      string    `json:"actor,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
