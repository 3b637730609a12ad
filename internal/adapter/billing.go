package adapter

import (
	"context"
	"time"
)

// Client is the billing system's view of a club customer.
type Client struct {
	ID           int64   `json:"id"`
	UUID         string  `json:"uuid"`
	Nickname     string  `json:"nickname"`
	Phone        string  `json:"phone"`
	Deposit      float64 `json:"deposit"`
	Bonus        float64 `json:"bonus"`
	UserDiscount int     `json:"user_discount"`
	GroupTitle   string  `json:"group_title"`
}

// Status is a cheap connectivity snapshot for health polling. OK is true iff
// the most recent successful remote call happened within the freshness window.
type Status struct {
	OK            bool       `json:"ok"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// BillingAdapter is the anti-corruption layer over the remote billing API.
// Implementations own credential lifecycle; callers never see tokens.
type BillingAdapter interface {
	// FindClient searches by free-text query (phone, nickname, uuid) and
	// returns the best match, or nil when nothing matches.
	FindClient(ctx context.Context, query string) (*Client, error)

	// FindClientByUUID resolves a client by its stable uuid.
	FindClientByUUID(ctx context.Context, uuid string) (*Client, error)

	// FindClientByPhone resolves a client by a normalized phone number.
	FindClientByPhone(ctx context.Context, phone string) (*Client, error)

	// SetDiscount sets the client's personal discount percentage and returns
	// the updated client view.
	SetDiscount(ctx context.Context, clientUUID string, value int) (*Client, error)

	// Status reports recent connectivity without making a remote call.
	Status() Status
}
