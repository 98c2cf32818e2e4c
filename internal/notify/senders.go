package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

// LogSender writes the notification to the log. It is the fallback when no
// real channel is configured or every channel failed.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("notify")}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("booking confirmation",
		zap.Stringer("booking_id", n.BookingID),
		zap.String("code", n.ConfirmationCode),
		zap.String("phone", n.CustomerPhone),
		zap.String("message", n.Message),
	)
	return nil
}

// WebhookSender POSTs the notification as JSON, e.g. to an SMS gateway.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookSender{url: url, client: client}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return apperr.Invariant("encode notification", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return apperr.Dependency("webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.Transient("webhook post", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Transient("webhook post", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return apperr.Dependency("webhook post", fmt.Errorf("status %d", resp.StatusCode))
	}
}
