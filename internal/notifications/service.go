package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"donecast/internal/config"
)

const userAgent = "DoneCast-Go/0.1.0"

// Service defines the notification surface exposed to the build workflow.
type Service interface {
	NotifyBuildCompleted(ctx context.Context, episodeTitle string) error
	NotifyBuildFailed(ctx context.Context, episodeTitle string, cause error) error
	NotifyPublished(ctx context.Context, episodeTitle, downstreamID string) error
	NotifyQuotaBlocked(ctx context.Context, required, remaining float64) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled:  cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  config.Notifications
}

func (n *ntfyService) NotifyBuildCompleted(ctx context.Context, episodeTitle string) error {
	if !n.enabled.BuildCompleted {
		return nil
	}
	return n.send(ctx, payload{
		title:    "DoneCast - Episode Ready",
		message:  fmt.Sprintf("Episode assembled: %s", strings.TrimSpace(episodeTitle)),
		tags:     []string{"donecast", "build", "completed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBuildFailed(ctx context.Context, episodeTitle string, cause error) error {
	if !n.enabled.BuildFailed {
		return nil
	}
	detail := "unknown"
	if cause != nil {
		detail = strings.TrimSpace(cause.Error())
	}
	return n.send(ctx, payload{
		title:    "DoneCast - Build Failed",
		message:  fmt.Sprintf("Build failed for %s: %s", strings.TrimSpace(episodeTitle), detail),
		tags:     []string{"donecast", "build", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyPublished(ctx context.Context, episodeTitle, downstreamID string) error {
	if !n.enabled.Published {
		return nil
	}
	message := fmt.Sprintf("Published: %s", strings.TrimSpace(episodeTitle))
	if downstreamID = strings.TrimSpace(downstreamID); downstreamID != "" {
		message = fmt.Sprintf("%s (id %s)", message, downstreamID)
	}
	return n.send(ctx, payload{
		title:   "DoneCast - Published",
		message: message,
		tags:    []string{"donecast", "publish", "completed"},
	})
}

func (n *ntfyService) NotifyQuotaBlocked(ctx context.Context, required, remaining float64) error {
	if !n.enabled.QuotaBlocked {
		return nil
	}
	return n.send(ctx, payload{
		title:   "DoneCast - Minutes Exhausted",
		message: fmt.Sprintf("Build needs %.0f minutes but only %.0f remain", required, remaining),
		tags:    []string{"donecast", "quota", "blocked"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "DoneCast - Test",
		message:  "Notification system test",
		tags:     []string{"donecast", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBuildCompleted(context.Context, string) error         { return nil }
func (noopService) NotifyBuildFailed(context.Context, string, error) error     { return nil }
func (noopService) NotifyPublished(context.Context, string, string) error      { return nil }
func (noopService) NotifyQuotaBlocked(context.Context, float64, float64) error { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
