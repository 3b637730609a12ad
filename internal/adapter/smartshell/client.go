// Package smartshell implements the BillingAdapter against the SmartShell
// GraphQL billing API, hiding the credential lifecycle from callers.
package smartshell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

const (
	AuthModeCredentials = "credentials"
	AuthModeBearer      = "bearer"

	// requestTimeout bounds every remote call.
	requestTimeout = 20 * time.Second

	// okTTL is the freshness window for Status reporting.
	okTTL = 90 * time.Second

	// tokenSafetyMargin is shaved off the server-reported expiry so we
	// refresh before the token actually dies.
	tokenSafetyMargin = 20 * time.Second
	minTokenTTL       = 60 * time.Second
)

// Settings are the per-call connection settings, resolved through a provider
// so that settings changes apply without rebuilding the client.
type Settings struct {
	Endpoint    string
	AuthMode    string
	Login       string
	Password    string
	BearerToken string
	CompanyID   int
}

// SettingsFunc supplies the current settings.
type SettingsFunc func() Settings

// Client is the authenticated SmartShell gateway. It caches the access token
// keyed by login identity and transparently re-authenticates once when the
// remote side rejects the credential.
type Client struct {
	settings SettingsFunc
	http     *http.Client
	logger   *zap.Logger

	// token cache; mu is held across a refresh so concurrent callers share
	// a single login exchange.
	mu            sync.Mutex
	cachedToken   string
	cachedExpiry  time.Time
	cachedAuthKey string

	statusMu      sync.Mutex
	lastSuccessAt time.Time
	lastError     string
}

// New creates a SmartShell client with the given settings provider.
func New(settings SettingsFunc, logger *zap.Logger) *Client {
	return &Client{
		settings: settings,
		http:     &http.Client{Timeout: requestTimeout},
		logger:   logger,
	}
}

// --- GraphQL documents ---

const loginMutation = `
mutation login($input: LoginInput!) {
  login(input: $input) {
    access_token
    refresh_token
    expires_in
  }
}`

const clientsQuery = `
query clients($input: ClientsInput, $first: Int, $page: Int) {
  clients(input: $input, first: $first, page: $page) {
    data {
      id
      uuid
      nickname
      phone
      deposit
      bonus
      user_discount
      group {
        uuid
        title
        discount
      }
    }
  }
}`

const setUserDiscountMutation = `
mutation setUserDiscount($input: SetUserDiscountInput!) {
  setUserDiscount(input: $input) {
    uuid
    user_discount
  }
}`

type gqlRequest struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// remoteError carries the HTTP status alongside the remote message so auth
// failures can be told apart from other remote errors.
type remoteError struct {
	status  int
	message string
}

func (e *remoteError) Error() string { return e.message }

// isAuthError reports whether the remote rejected the credential: a 401, or
// an error message matching the known auth-failure markers.
func isAuthError(err error) bool {
	var re *remoteError
	if errors.As(err, &re) && re.status == http.StatusUnauthorized {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "unauthor", "unauthenticated", "jwt", "token"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// --- BillingAdapter implementation ---

type clientPayload struct {
	ID           int64   `json:"id"`
	UUID         string  `json:"uuid"`
	Nickname     string  `json:"nickname"`
	Phone        string  `json:"phone"`
	Deposit      float64 `json:"deposit"`
	Bonus        float64 `json:"bonus"`
	UserDiscount int     `json:"user_discount"`
	Group        struct {
		UUID     string `json:"uuid"`
		Title    string `json:"title"`
		Discount int    `json:"discount"`
	} `json:"group"`
}

func (p clientPayload) toClient() *adapter.Client {
	return &adapter.Client{
		ID:           p.ID,
		UUID:         p.UUID,
		Nickname:     p.Nickname,
		Phone:        p.Phone,
		Deposit:      p.Deposit,
		Bonus:        p.Bonus,
		UserDiscount: p.UserDiscount,
		GroupTitle:   p.Group.Title,
	}
}

// FindClient searches by free-text query and returns the most recently
// active match, or nil when nothing matches.
func (c *Client) FindClient(ctx context.Context, query string) (*adapter.Client, error) {
	list, err := c.searchClients(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0].toClient(), nil
}

// FindClientByUUID resolves a client by uuid, preferring an exact match over
// the search engine's first guess.
func (c *Client) FindClientByUUID(ctx context.Context, uuid string) (*adapter.Client, error) {
	if uuid == "" {
		return nil, domain.NewValidationError("client uuid is required")
	}
	list, err := c.searchClients(ctx, strings.TrimSpace(uuid))
	if err != nil {
		return nil, err
	}
	for _, entry := range list {
		if strings.EqualFold(entry.UUID, uuid) {
			return entry.toClient(), nil
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0].toClient(), nil
}

// FindClientByPhone resolves a client by phone number.
func (c *Client) FindClientByPhone(ctx context.Context, phone string) (*adapter.Client, error) {
	normalized := adapter.NormalizePhone(phone)
	if normalized == "" {
		return nil, domain.NewValidationError("phone number not recognized, expected +79991234567")
	}
	return c.FindClient(ctx, normalized)
}

func (c *Client) searchClients(ctx context.Context, q string) ([]clientPayload, error) {
	raw, err := c.request(ctx, gqlRequest{
		Query: clientsQuery,
		Variables: map[string]interface{}{
			"input": map[string]interface{}{
				"q": q,
				"sort": map[string]interface{}{
					"field":     "last_client_activity",
					"direction": "DESC",
				},
			},
			"first": 1,
			"page":  1,
		},
	}, "clients")
	if err != nil {
		return nil, err
	}

	var result struct {
		Clients struct {
			Data []clientPayload `json:"data"`
		} `json:"clients"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode clients response: %w", err)
	}
	return result.Clients.Data, nil
}

// SetDiscount sets the client's personal discount percentage.
func (c *Client) SetDiscount(ctx context.Context, clientUUID string, value int) (*adapter.Client, error) {
	if clientUUID == "" {
		return nil, domain.NewValidationError("client uuid is required")
	}

	raw, err := c.request(ctx, gqlRequest{
		OperationName: "setUserDiscount",
		Query:         setUserDiscountMutation,
		Variables: map[string]interface{}{
			"input": map[string]interface{}{
				"client_uuid": clientUUID,
				"value":       value,
			},
		},
	}, "setUserDiscount")
	if err != nil {
		return nil, err
	}

	var result struct {
		SetUserDiscount struct {
			UUID         string `json:"uuid"`
			UserDiscount int    `json:"user_discount"`
		} `json:"setUserDiscount"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode setUserDiscount response: %w", err)
	}
	return &adapter.Client{
		UUID:         result.SetUserDiscount.UUID,
		UserDiscount: result.SetUserDiscount.UserDiscount,
	}, nil
}

// Status reports recent connectivity without making a remote call.
func (c *Client) Status() adapter.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	st := adapter.Status{LastError: c.lastError}
	if !c.lastSuccessAt.IsZero() {
		t := c.lastSuccessAt
		st.LastSuccessAt = &t
		st.OK = time.Since(c.lastSuccessAt) <= okTTL
	}
	return st
}

// --- request plumbing ---

// request executes one authenticated GraphQL operation. On an authorization
// failure in credentials mode it refreshes the token and retries the same
// request exactly once; any other remote error propagates immediately.
func (c *Client) request(ctx context.Context, req gqlRequest, label string) (json.RawMessage, error) {
	settings := c.settings()
	return c.execute(ctx, req, settings, label, false)
}

func (c *Client) execute(ctx context.Context, req gqlRequest, settings Settings, label string, retried bool) (json.RawMessage, error) {
	token, err := c.accessToken(ctx, settings, false)
	if err != nil {
		return nil, err
	}

	raw, err := c.post(ctx, settings.Endpoint, req, token)
	if err != nil {
		if !retried && settings.AuthMode == AuthModeCredentials && isAuthError(err) {
			c.logger.Warn("billing request unauthorized, relogin retry",
				zap.String("operation", label),
			)
			if _, err := c.accessToken(ctx, settings, true); err != nil {
				c.recordFailure(err)
				return nil, err
			}
			return c.execute(ctx, req, settings, label, true)
		}
		c.recordFailure(err)
		return nil, err
	}

	c.recordSuccess()
	return raw, nil
}

// post sends one GraphQL payload. A bearer token is attached when non-empty,
// which leaves the login exchange itself unauthenticated.
func (c *Client) post(ctx context.Context, endpoint string, payload gqlRequest, token string) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("billing request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read billing response: %w", err)
	}

	var parsed gqlResponse
	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
			message = joinErrors(parsed)
		}
		return nil, &remoteError{status: resp.StatusCode, message: fmt.Sprintf("billing responded %d: %s", resp.StatusCode, message)}
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode billing response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, &remoteError{message: joinErrors(parsed)}
	}
	return parsed.Data, nil
}

func joinErrors(resp gqlResponse) string {
	messages := make([]string, len(resp.Errors))
	for i, e := range resp.Errors {
		messages[i] = e.Message
	}
	return strings.Join(messages, "; ")
}

// AccessToken resolves a valid credential for the current settings. Exposed
// for health checks and connection tests.
func (c *Client) AccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	return c.accessToken(ctx, c.settings(), forceRefresh)
}

func (c *Client) accessToken(ctx context.Context, settings Settings, forceRefresh bool) (string, error) {
	if settings.AuthMode == AuthModeBearer {
		c.mu.Lock()
		c.cachedToken = ""
		c.cachedExpiry = time.Time{}
		c.cachedAuthKey = ""
		c.mu.Unlock()
		if settings.BearerToken == "" {
			return "", domain.NewValidationError("bearer token is empty")
		}
		return settings.BearerToken, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	authKey := fmt.Sprintf("%s|%d", settings.Login, settings.CompanyID)
	if c.cachedAuthKey != authKey {
		c.cachedToken = ""
		c.cachedExpiry = time.Time{}
	}

	if !forceRefresh && c.cachedToken != "" && time.Now().Before(c.cachedExpiry) {
		return c.cachedToken, nil
	}

	if settings.Login == "" || settings.Password == "" {
		return "", domain.NewValidationError("billing login and password are required in credentials mode")
	}

	c.logger.Info("billing login attempt",
		zap.String("login", settings.Login),
		zap.Int("company_id", settings.CompanyID),
	)

	raw, err := c.post(ctx, settings.Endpoint, gqlRequest{
		Query: loginMutation,
		Variables: map[string]interface{}{
			"input": map[string]interface{}{
				"login":      settings.Login,
				"password":   settings.Password,
				"company_id": settings.CompanyID,
			},
		},
	}, "")
	if err != nil {
		c.recordFailure(err)
		return "", err
	}

	var result struct {
		Login struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		} `json:"login"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if result.Login.AccessToken == "" {
		err := fmt.Errorf("billing login returned no access token")
		c.recordFailure(err)
		return "", err
	}

	expiresIn := time.Duration(result.Login.ExpiresIn) * time.Second
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	ttl := expiresIn - tokenSafetyMargin
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	c.cachedToken = result.Login.AccessToken
	c.cachedExpiry = time.Now().Add(ttl)
	c.cachedAuthKey = authKey
	c.recordSuccess()

	c.logger.Info("billing login ok", zap.String("token", maskSecret(result.Login.AccessToken)))
	return c.cachedToken, nil
}

func (c *Client) recordSuccess() {
	c.statusMu.Lock()
	c.lastSuccessAt = time.Now()
	c.lastError = ""
	c.statusMu.Unlock()
}

func (c *Client) recordFailure(err error) {
	c.statusMu.Lock()
	c.lastError = err.Error()
	c.statusMu.Unlock()
}

// maskSecret keeps the head of a secret for log correlation and hides the rest.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "…" + s[len(s)-2:]
}
