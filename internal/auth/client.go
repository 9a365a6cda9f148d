package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/config"
)

// ErrInvalidToken marks a token the auth service rejected, as opposed to the
// auth service being unreachable.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the caller identity returned by the auth service. Only ID is
// load-bearing; the rest are display attributes.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid bool      `json:"valid"`
	User  *Identity `json:"user,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Client verifies bearer tokens against the external auth service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg *config.AuthConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.ServiceURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// VerifyToken resolves a bearer token into an identity. The verify call is
// an idempotent read, so transient transport errors are retried with
// backoff; a rejected token is permanent and never retried. An unreachable
// auth service yields an error, never a fabricated identity.
func (c *Client) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	operation := func() (*Identity, error) {
		return c.verify(ctx, token)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	identity, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (c *Client) verify(ctx context.Context, token string) (*Identity, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("Auth service unreachable", zap.Error(err))
		return nil, fmt.Errorf("auth service request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, backoff.Permanent(ErrInvalidToken)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("auth service returned %d", resp.StatusCode))
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}

	if !parsed.Valid || parsed.User == nil || parsed.User.ID == "" {
		return nil, backoff.Permanent(ErrInvalidToken)
	}
	return parsed.User, nil
}
