package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/config"
	"clinicbook/internal/domain"
	"clinicbook/internal/worker"
)

// sendRequest is the body posted to the messaging gateway.
type sendRequest struct {
	TenantID string `json:"tenant_id"`
	Phone    string `json:"phone"`
	Text     string `json:"text"`
}

// sendResponse is what the gateway answers; a non-empty Error means the
// message was not accepted even on a 2xx status.
type sendResponse struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// errPermanent marks gateway answers that retrying cannot change.
var errPermanent = errors.New("permanent")

// WebhookMessenger delivers text messages through an HTTP messaging gateway.
type WebhookMessenger struct {
	url        string
	authToken  string
	httpClient *http.Client
	limiter    *tenantLimiter
	retry      worker.RetryPolicy
	logger     *zerolog.Logger
}

func NewWebhookMessenger(cfg config.MessagingConfig, logger *zerolog.Logger) *WebhookMessenger {
	return &WebhookMessenger{
		url:        cfg.WebhookURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newTenantLimiter(cfg.RPS, cfg.Burst),
		retry: worker.RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2,
			Jitter:        0.2,
		},
		logger: logger,
	}
}

// Send posts the message, retrying transport errors and 5xx answers with backoff.
// Every failure is reported as domain.ErrMessaging.
func (m *WebhookMessenger) Send(ctx context.Context, tenantID, phone, text string) error {
	if err := m.limiter.get(tenantID).Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %w", domain.ErrMessaging, err)
	}

	body, err := json.Marshal(sendRequest{TenantID: tenantID, Phone: phone, Text: text})
	if err != nil {
		return fmt.Errorf("%w: encode request: %w", domain.ErrMessaging, err)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = m.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || !m.retry.ShouldRetry(attempt) {
			break
		}

		delay := m.retry.NextDelay(attempt)
		m.logger.Warn().Err(lastErr).Str("tenant_id", tenantID).Int("attempt", attempt).
			Dur("retry_in", delay).Msg("Messaging gateway call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", domain.ErrMessaging, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrMessaging, lastErr)
}

func (m *WebhookMessenger) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.authToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: gateway status %d: %s", errPermanent, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out sendResponse
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &out) == nil && out.Error != "" {
		return fmt.Errorf("%w: gateway error: %s", errPermanent, out.Error)
	}
	return nil
}
