package notify

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

// Severity levels for user notifications
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notification is one user-facing message about a finished task.
type Notification struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Link     string `json:"link,omitempty"`
}

// Notifier delivers notifications fire-and-forget. Implementations must
// never let a delivery failure propagate into the orchestration task.
type Notifier interface {
	Notify(ctx context.Context, n *Notification)
}

// HTTPNotifier posts notifications to the platform notification service.
type HTTPNotifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPNotifier creates a notification service client
func NewHTTPNotifier(baseURL, token string, logger zerolog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify posts the notification; failures are logged and swallowed.
func (n *HTTPNotifier) Notify(ctx context.Context, notification *Notification) {
	body, err := json.Marshal(notification)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to marshal notification")
		return
	}

	url := fmt.Sprintf("%s/v1/notifications", n.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("user_id", notification.UserID).Msg("Failed to deliver notification")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		n.logger.Warn().
			Int("status", resp.StatusCode).
			Str("user_id", notification.UserID).
			Msg("Notification service rejected notification")
	}
}

// LogNotifier writes notifications to the structured log only. Used when no
// notification service is configured and in tests.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, notification *Notification) {
	n.logger.Info().
		Str("user_id", notification.UserID).
		Str("title", notification.Title).
		Str("severity", notification.Severity).
		Str("link", notification.Link).
		Msg(notification.Message)
}
