package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MockBillingAdapter is a development/testing implementation of
// BillingAdapter. It keeps client discounts in memory and never touches the
// network.
type MockBillingAdapter struct {
	mu      sync.Mutex
	clients map[string]Client // keyed by uuid
	logger  *zap.Logger
}

// NewMockBillingAdapter creates an empty mock billing adapter.
func NewMockBillingAdapter(logger *zap.Logger) *MockBillingAdapter {
	return &MockBillingAdapter{
		clients: make(map[string]Client),
		logger:  logger,
	}
}

// AddClient seeds a client into the mock.
func (m *MockBillingAdapter) AddClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.UUID] = c
}

// FindClient matches the query against uuid, phone and nickname.
func (m *MockBillingAdapter) FindClient(ctx context.Context, query string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	for _, c := range m.clients {
		if strings.ToLower(c.UUID) == q || c.Phone == q || strings.EqualFold(c.Nickname, q) {
			found := c
			m.logger.Debug("[MOCK BILLING] client found", zap.String("uuid", found.UUID))
			return &found, nil
		}
	}
	return nil, nil
}

// FindClientByUUID resolves a seeded client by uuid.
func (m *MockBillingAdapter) FindClientByUUID(ctx context.Context, uuid string) (*Client, error) {
	return m.FindClient(ctx, uuid)
}

// FindClientByPhone resolves a seeded client by normalized phone.
func (m *MockBillingAdapter) FindClientByPhone(ctx context.Context, phone string) (*Client, error) {
	return m.FindClient(ctx, NormalizePhone(phone))
}

// SetDiscount mutates the in-memory discount value.
func (m *MockBillingAdapter) SetDiscount(ctx context.Context, clientUUID string, value int) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[clientUUID]
	if !ok {
		// Unknown clients are created on the fly so development flows work
		// without seeding.
		c = Client{UUID: clientUUID}
	}
	c.UserDiscount = value
	m.clients[clientUUID] = c

	m.logger.Info("[MOCK BILLING] discount set",
		zap.String("uuid", clientUUID),
		zap.Int("value", value),
	)
	found := c
	return &found, nil
}

// Status always reports a healthy connection.
func (m *MockBillingAdapter) Status() Status {
	now := time.Now().UTC()
	return Status{OK: true, LastSuccessAt: &now}
}
