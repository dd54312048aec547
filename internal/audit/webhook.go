package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cinebot/attend/internal/config"
)

// SendResult indicates the outcome of a delivery attempt.
type SendResult int

const (
	// SendOK indicates successful delivery.
	SendOK SendResult = iota
	// SendRetryable indicates a transient error (429, network error).
	SendRetryable
	// SendFatal indicates a permanent error (401/403, invalid webhook).
	SendFatal
)

// Sentinel errors for the audit package.
var (
	// ErrSinkDisabled is returned once a fatal delivery error has disabled the sink.
	ErrSinkDisabled = errors.New("audit sink disabled")

	// ErrInBackoff is returned while the sink is waiting out a rate limit.
	ErrInBackoff = errors.New("audit sink in backoff")
)

// webhookPayload is the wire shape posted to the webhook.
type webhookPayload struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// WebhookSink delivers audit entries to a chat webhook.
// Entries that arrive during a backoff window or after a fatal error are
// dropped with an error; audit delivery is best-effort by design and the
// sink never queues.
type WebhookSink struct {
	webhookURL config.Secret
	client     *http.Client
	logger     *slog.Logger
	backoff    *BackoffCalculator

	mu           sync.Mutex
	attempt      int
	backoffUntil time.Time
	disabled     bool
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WebhookOption {
	return func(s *WebhookSink) { s.logger = logger }
}

// WithBackoff sets the backoff calculator (for deterministic tests).
func WithBackoff(b *BackoffCalculator) WebhookOption {
	return func(s *WebhookSink) { s.backoff = b }
}

// NewWebhookSink creates a webhook-backed audit sink.
// The webhookURL is stored as a Secret and will appear as [REDACTED] in logs.
func NewWebhookSink(webhookURL config.Secret, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		backoff:    NewBackoffCalculator(DefaultBackoffConfig),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements Sink.
func (s *WebhookSink) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return ErrSinkDisabled
	}
	if time.Now().Before(s.backoffUntil) {
		s.mu.Unlock()
		return ErrInBackoff
	}
	s.mu.Unlock()

	result, retryAfter := s.send(ctx, e)
	s.handleResult(result, retryAfter)

	switch result {
	case SendOK:
		return nil
	case SendRetryable:
		return fmt.Errorf("deliver audit entry %s: transient failure", e.ID)
	default:
		return fmt.Errorf("deliver audit entry %s: %w", e.ID, ErrSinkDisabled)
	}
}

func (s *WebhookSink) send(ctx context.Context, e Entry) (SendResult, time.Duration) {
	if s.webhookURL.IsEmpty() {
		s.logger.Warn("audit webhook URL not configured")
		return SendFatal, 0
	}

	payload := webhookPayload{
		Username: "attend-audit",
		Content:  formatEntry(e),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal audit payload", "error", err)
		return SendFatal, 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL.Value(), bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to create request", "error", err)
		return SendFatal, 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("audit webhook request failed", "error", err)
		return SendRetryable, 0
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("audit entry delivered", "id", e.ID, "status", resp.StatusCode)
		return SendOK, 0

	case resp.StatusCode == 429:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		s.logger.Warn("audit webhook rate limited", "retry_after", retryAfter)
		return SendRetryable, retryAfter

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// 4xx (except 429) = configuration error; retry won't recover
		s.logger.Error("audit webhook client error",
			"status", resp.StatusCode,
			"webhook_url", s.webhookURL, // logs as [REDACTED]
		)
		return SendFatal, 0

	case resp.StatusCode >= 500:
		s.logger.Warn("audit webhook server error", "status", resp.StatusCode)
		return SendRetryable, 0

	default:
		s.logger.Warn("audit webhook request failed", "status", resp.StatusCode)
		return SendRetryable, 0
	}
}

func (s *WebhookSink) handleResult(result SendResult, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch result {
	case SendOK:
		s.attempt = 0
		s.backoffUntil = time.Time{}

	case SendRetryable:
		delay := retryAfter
		if delay == 0 {
			delay = s.backoff.Calculate(s.attempt)
		}
		s.attempt++
		s.backoffUntil = time.Now().Add(delay)

	case SendFatal:
		s.disabled = true
		s.logger.Error("audit webhook fatal error, sink disabled")
	}
}

// Disabled reports whether a fatal error has permanently disabled the sink.
func (s *WebhookSink) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func formatEntry(e Entry) string {
	msg := fmt.Sprintf("[%s] %s guild=%s", e.At.Format("2006-01-02 15:04"), e.Action, e.GuildID)
	if e.UserID != "" {
		msg += " user=" + e.UserID
	}
	if e.ActorID != "" {
		msg += " by=" + e.ActorID
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	// Webhook providers typically send seconds as an integer
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Some send decimals
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
