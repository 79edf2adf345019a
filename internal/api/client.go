// Package api is the thin REST client for the two backend calls the session
// layer relies on: deployment lookup and per-attempt token issuance.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rileyhilliard/gpuctl/internal/auth"
)

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 15 * time.Second

// Deployment is the display metadata for a remote GPU deployment.
type Deployment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider,omitempty"`
	GPUType   string    `json:"gpu_type,omitempty"`
	GPUCount  int       `json:"gpu_count,omitempty"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DisplayName returns the name, falling back to the ID.
func (d Deployment) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrNotFound is returned when the deployment does not exist.
var ErrNotFound = fmt.Errorf("deployment not found")

// Client talks to the dashboard REST API.
type Client struct {
	BaseURL       string
	TokenEndpoint string // absolute URL or path relative to BaseURL
	APIKey        string
	Tokens        auth.TokenSource // used for GetDeployment; optional
	HTTPClient    *http.Client
}

// New creates a client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// GetDeployment fetches deployment metadata. Unknown IDs yield ErrNotFound and
// rejected credentials yield auth.ErrUnauthorized.
func (c *Client) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("deployment id is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/deployments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var dep Deployment
	if err := c.do(req, &dep); err != nil {
		return nil, err
	}
	if dep.ID == "" {
		dep.ID = id
	}
	return &dep, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

// IssueToken asks the token endpoint for a fresh session token.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	endpoint := c.TokenEndpoint
	if endpoint == "" {
		return "", fmt.Errorf("token endpoint is not configured")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = c.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	var resp tokenResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return "", fmt.Errorf("token endpoint returned no token")
	}
	return token, nil
}

// TokenSource returns a source that issues a new token on every call.
func (c *Client) TokenSource() auth.TokenSource {
	return auth.TokenFunc(c.IssueToken)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", auth.ErrUnauthorized, req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
