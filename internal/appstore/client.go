package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"subscription-api/internal/apperr"
)

const (
	ProductionURL = "https://api.storekit.itunes.apple.com"
	SandboxURL    = "https://api.storekit-sandbox.itunes.apple.com"
)

// Endpoints holds the base URL of each App Store Server API environment
type Endpoints struct {
	Production string
	Sandbox    string
}

// DefaultEndpoints are Apple's public hosts
var DefaultEndpoints = Endpoints{Production: ProductionURL, Sandbox: SandboxURL}

func (e Endpoints) baseURL(env Environment) string {
	if env == Sandbox {
		return e.Sandbox
	}
	return e.Production
}

// APIError is a non-2xx answer from the App Store Server API
type APIError struct {
	StatusCode   int
	ErrorCode    int64  `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("app store api status %d: %d %s", e.StatusCode, e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("app store api status %d", e.StatusCode)
}

// Client calls the App Store Server API. Calls are single attempt.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	endpoints  Endpoints
}

// NewClient returns a client using DefaultEndpoints
func NewClient(tokens TokenProvider, timeout time.Duration) *Client {
	return NewClientWithEndpoints(tokens, &http.Client{Timeout: timeout}, DefaultEndpoints)
}

func NewClientWithEndpoints(tokens TokenProvider, httpClient *http.Client, endpoints Endpoints) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient, tokens: tokens, endpoints: endpoints}
}

// GetTransactionInfo returns the raw Get Transaction Info body
func (c *Client) GetTransactionInfo(ctx context.Context, env Environment, transactionID string) (json.RawMessage, error) {
	return c.get(ctx, env, "/inApps/v1/transactions/"+url.PathEscape(transactionID))
}

// GetSubscriptionStatuses returns the raw Get All Subscription Statuses body
func (c *Client) GetSubscriptionStatuses(ctx context.Context, env Environment, transactionID string) (json.RawMessage, error) {
	return c.get(ctx, env, "/inApps/v1/subscriptions/"+url.PathEscape(transactionID))
}

func (c *Client) get(ctx context.Context, env Environment, path string) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoints.baseURL(env) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Request, err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Request, err, "GET %s (%s)", path, env)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Request, err, "failed to read response of %s", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Apple usually explains failures in a JSON body
		_ = json.Unmarshal(body, apiErr)
		kind := apperr.Request
		if resp.StatusCode == http.StatusNotFound {
			kind = apperr.NotFound
		}
		return nil, apperr.Wrap(kind, apiErr, "GET %s (%s)", path, env)
	}

	if !json.Valid(body) {
		return nil, apperr.New(apperr.ResponseParse, "response of %s is not valid JSON", path)
	}
	return json.RawMessage(body), nil
}
