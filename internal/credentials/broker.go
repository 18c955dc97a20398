package credentials

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

// HTTPBroker talks to the platform credential broker, trading an internal
// user identity for short-lived provider-native credentials.
type HTTPBroker struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPBroker creates a broker client
func NewHTTPBroker(baseURL, token string, logger zerolog.Logger) *HTTPBroker {
	return &HTTPBroker{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "credential-broker").Logger(),
	}
}

type exchangeRequest struct {
	Provider string `json:"provider"`
	UserID   string `json:"user_id"`
}

type exchangeResponse struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	AccessToken     string `json:"access_token"`
	AzureToken      string `json:"azure_token"`
	ExpiresIn       int    `json:"expires_in"`
}

// Exchange requests short-lived credentials for the given provider. A
// missing user identity is rejected before any network call.
func (b *HTTPBroker) Exchange(ctx context.Context, provider, userID string) (*Credentials, error) {
	if userID == "" {
		return nil, fmt.Errorf("provider %s requested: %w", provider, ErrNoIdentity)
	}

	body, err := json.Marshal(exchangeRequest{Provider: provider, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("marshal exchange request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/credentials/exchange", b.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	b.logger.Debug().
		Str("provider", provider).
		Str("user_id", userID).
		Msg("Exchanging credentials")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("credential exchange returned %d: %s", resp.StatusCode, string(payload))
	}

	var exchanged exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&exchanged); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}

	creds := &Credentials{
		Provider:         provider,
		AccessKeyID:      exchanged.AccessKeyID,
		SecretAccessKey:  exchanged.SecretAccessKey,
		SessionToken:     exchanged.SessionToken,
		AccessToken:      exchanged.AccessToken,
		AzureToken:       exchanged.AzureToken,
		ExpiresInSeconds: exchanged.ExpiresIn,
	}

	if err := validate(creds); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("provider", provider).
		Int("expires_in", creds.ExpiresInSeconds).
		Msg("Credential exchange succeeded")

	return creds, nil
}

// validate checks the broker actually returned the fields the provider
// needs; an empty grant must not be treated as usable.
func validate(creds *Credentials) error {
	switch creds.Provider {
	case ProviderAWS:
		if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
			return fmt.Errorf("broker returned incomplete aws credentials")
		}
	case ProviderGCP:
		if creds.AccessToken == "" {
			return fmt.Errorf("broker returned empty gcp access token")
		}
	case ProviderAzure:
		if creds.AzureToken == "" {
			return fmt.Errorf("broker returned empty azure token")
		}
	default:
		return fmt.Errorf("unsupported cloud provider: %s", creds.Provider)
	}

	return nil
}
