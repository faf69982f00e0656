// Package notify delivers alert and incident notifications to named
// channels such as chat, paging or email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
)

// Sink delivers one notification.
type Sink interface {
	Send(ctx context.Context, channel string, severity domain.Severity, message string) error
}

// Notification is the wire payload used by the webhook and Redis sinks.
type Notification struct {
	Channel  string          `json:"channel"`
	Severity domain.Severity `json:"severity"`
	Message  string          `json:"message"`
	SentAt   time.Time       `json:"sent_at"`
}

// =============================================================================
// Webhook Sink
// =============================================================================

// WebhookSink posts JSON to a URL configured per channel.
type WebhookSink struct {
	urls       map[string]string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(urls map[string]string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	copied := make(map[string]string, len(urls))
	for k, v := range urls {
		copied[k] = v
	}
	return &WebhookSink{urls: copied, httpClient: &http.Client{Timeout: timeout}}
}

// Send posts the notification.
func (s *WebhookSink) Send(ctx context.Context, channel string, severity domain.Severity, message string) error {
	url, ok := s.urls[channel]
	if !ok {
		return fmt.Errorf("no webhook configured for channel %s", channel)
	}

	body, err := json.Marshal(Notification{Channel: channel, Severity: severity, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// =============================================================================
// Redis Sink
// =============================================================================

// Publisher is the subset of the Redis client used for pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes notifications to "<prefix><channel>".
type RedisSink struct {
	client Publisher
	prefix string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(addr, password string, db int, prefix string) (*RedisSink, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisSinkWithClient(client, prefix), client, nil
}

// NewRedisSinkWithClient wraps an existing publisher.
func NewRedisSinkWithClient(client Publisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "geodeploy:"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Send publishes the notification.
func (s *RedisSink) Send(ctx context.Context, channel string, severity domain.Severity, message string) error {
	payload, err := json.Marshal(Notification{Channel: channel, Severity: severity, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.prefix+channel, err)
	}
	return nil
}

// =============================================================================
// Log Sink
// =============================================================================

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify")}
}

// Send logs the notification at a level matching its severity.
func (s *LogSink) Send(ctx context.Context, channel string, severity domain.Severity, message string) error {
	level := slog.LevelInfo
	switch severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityCritical:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, message, "channel", channel, "severity", severity)
	return nil
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher fans a notification out to every sink of every channel.
// Delivery failures are logged and counted but never returned.
type Dispatcher struct {
	routes   map[string][]Sink
	fallback []Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher. Fallback sinks receive every channel.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics, fallback ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		routes:   make(map[string][]Sink),
		fallback: fallback,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
	}
}

// Route adds a sink for a channel. Not safe to call concurrently with Notify.
func (d *Dispatcher) Route(channel string, sink Sink) {
	d.routes[channel] = append(d.routes[channel], sink)
}

// Notify delivers message to every channel and returns how many deliveries
// succeeded.
func (d *Dispatcher) Notify(ctx context.Context, channels []string, severity domain.Severity, message string) int {
	delivered := 0
	for _, channel := range channels {
		sinks := append(append([]Sink(nil), d.routes[channel]...), d.fallback...)
		for _, sink := range sinks {
			if err := sink.Send(ctx, channel, severity, message); err != nil {
				d.logger.Warn("notification delivery failed",
					"channel", channel,
					"severity", severity,
					"error", err,
				)
				d.metrics.Notification(channel, false)
				continue
			}
			d.metrics.Notification(channel, true)
			delivered++
		}
	}
	return delivered
}
