package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client is a JSON-over-HTTP RepoHost implementation against a
// Gitea-compatible hosting API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Config holds Git hosting API configuration
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a hosting API client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "scm").Logger(),
	}
}

type createRepoPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

type repoResponse struct {
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// CreateRepository creates an empty repository under the configured org.
func (c *Client) CreateRepository(ctx context.Context, req *CreateRepositoryRequest) (*Repository, error) {
	payload := createRepoPayload{
		Name:        req.Name,
		Description: req.Description,
		Private:     req.Private,
	}

	url := fmt.Sprintf("%s/api/v1/orgs/%s/repos", c.baseURL, req.Owner)

	var created repoResponse
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &created); err != nil {
		return nil, fmt.Errorf("create repository %s/%s: %w", req.Owner, req.Name, err)
	}

	c.logger.Info().
		Str("owner", req.Owner).
		Str("name", req.Name).
		Str("clone_url", created.CloneURL).
		Msg("Repository created")

	return &Repository{
		Owner:    created.Owner.Login,
		Name:     created.Name,
		CloneURL: created.CloneURL,
		HTMLURL:  created.HTMLURL,
	}, nil
}

// DeleteRepository removes a hosted repository. A missing repository is not
// an error: the destroy path is idempotent.
func (c *Client) DeleteRepository(ctx context.Context, owner, name string) error {
	url := fmt.Sprintf("%s/api/v1/repos/%s/%s", c.baseURL, owner, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete repository %s/%s: %w", owner, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Info().
			Str("owner", owner).
			Str("name", name).
			Msg("Repository already absent")
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("delete repository %s/%s returned %d: %s", owner, name, resp.StatusCode, string(body))
	}

	c.logger.Info().
		Str("owner", owner).
		Str("name", name).
		Msg("Repository deleted")

	return nil
}

type createWebhookPayload struct {
	Type   string            `json:"type"`
	Active bool              `json:"active"`
	Events []string          `json:"events"`
	Config map[string]string `json:"config"`
}

// CreateWebhook registers a push/status webhook on a repository.
func (c *Client) CreateWebhook(ctx context.Context, owner, name, targetURL string) error {
	payload := createWebhookPayload{
		Type:   "gitea",
		Active: true,
		Events: []string{"push"},
		Config: map[string]string{
			"url":          targetURL,
			"content_type": "json",
		},
	}

	url := fmt.Sprintf("%s/api/v1/repos/%s/%s/hooks", c.baseURL, owner, name)

	if err := c.doJSON(ctx, http.MethodPost, url, payload, nil); err != nil {
		return fmt.Errorf("create webhook on %s/%s: %w", owner, name, err)
	}

	c.logger.Info().
		Str("owner", owner).
		Str("name", name).
		Str("target", targetURL).
		Msg("Webhook registered")

	return nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
}
