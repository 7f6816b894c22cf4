package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"donecast/internal/config"
	"donecast/internal/logging"
	"donecast/internal/services"
	"donecast/internal/session"
)

const userAgent = "DoneCast-Go/0.1.0"

// HTTPDoer describes the HTTP client used by the producer service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the production backend.
type Client struct {
	baseURL       string
	token         string
	client        HTTPDoer
	logger        *slog.Logger
	uploadTimeout func(sizeBytes int64) time.Duration
}

// NewClient builds a backend client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	httpClient := &http.Client{Timeout: time.Duration(cfg.API.RequestTimeout) * time.Second}
	return &Client{
		baseURL:       strings.TrimRight(cfg.API.BaseURL, "/"),
		token:         cfg.API.Token,
		client:        httpClient,
		logger:        logging.NewComponentLogger(logger, "producer"),
		uploadTimeout: cfg.UploadTimeout,
	}
}

// NewClientWithDoer constructs a client with a custom transport (used in tests).
func NewClientWithDoer(baseURL, token string, doer HTTPDoer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  doer,
		logger:  logging.NewComponentLogger(logger, "producer"),
		uploadTimeout: func(int64) time.Duration {
			return 30 * time.Second
		},
	}
}

// TranscriptStatus queries transcript readiness for an audio reference.
func (c *Client) TranscriptStatus(ctx context.Context, audioRef string) (TranscriptStatus, error) {
	var out TranscriptStatus
	path := fmt.Sprintf("/api/v1/audio/%s/transcript", url.PathEscape(audioRef))
	if err := c.getJSON(ctx, "transcript status", path, &out); err != nil {
		return TranscriptStatus{}, err
	}
	return out, nil
}

// DetectIntents queries detected editorial intent counts for an audio
// reference. Returns ErrNotReady while transcript processing is incomplete.
func (c *Client) DetectIntents(ctx context.Context, audioRef string) (map[session.IntentKind]int, error) {
	var resp intentDetectionResponse
	path := fmt.Sprintf("/api/v1/audio/%s/intents", url.PathEscape(audioRef))
	if err := c.getJSON(ctx, "intent detection", path, &resp); err != nil {
		return nil, err
	}
	counts := make(map[session.IntentKind]int, len(resp.Intents))
	for _, kind := range session.AllIntentKinds() {
		counts[kind] = resp.Intents[string(kind)].Count
	}
	return counts, nil
}

// Candidates fetches the ordered candidate edits for a review-capable intent
// kind.
func (c *Client) Candidates(ctx context.Context, audioRef string, kind session.IntentKind) ([]session.ReviewItem, error) {
	var resp candidatesResponse
	path := fmt.Sprintf("/api/v1/audio/%s/intents/%s/candidates",
		url.PathEscape(audioRef), url.PathEscape(string(kind)))
	if err := c.getJSON(ctx, "edit candidates", path, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// MinutesPrecheck asks whether the build fits the remaining processing
// minutes. A 402 rejection surfaces as a *services.QuotaError.
func (c *Client) MinutesPrecheck(ctx context.Context, req PrecheckRequest) (QuotaDecision, error) {
	resp, err := c.postJSON(ctx, "minutes precheck", "/api/v1/builds/precheck", req)
	if err != nil {
		return QuotaDecision{}, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusPaymentRequired {
		return QuotaDecision{}, c.quotaError("minutes precheck", resp)
	}
	if resp.StatusCode != http.StatusOK {
		return QuotaDecision{}, c.classify("minutes precheck", resp)
	}

	var payload quotaPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return QuotaDecision{}, services.Wrap(services.ErrTransient, "producer", "minutes precheck", "decode response", err)
	}
	flat := payload.flatten()
	decision := QuotaDecision{
		Allowed:          flat.Allowed == nil || *flat.Allowed,
		MinutesRequired:  flat.MinutesRequired,
		MinutesRemaining: flat.MinutesRemaining,
		RenewalDate:      parseRenewal(flat.RenewalDate),
	}
	return decision, nil
}

// Assemble submits the assembly request. A 402 rejection surfaces as a
// *services.QuotaError so dispatch-time quota exhaustion produces the same
// blocking outcome as the precheck.
func (c *Client) Assemble(ctx context.Context, req AssembleRequest) (AssembleResult, error) {
	resp, err := c.postJSON(ctx, "assemble", "/api/v1/builds", req)
	if err != nil {
		return AssembleResult{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusPaymentRequired:
		return AssembleResult{}, c.quotaError("assemble", resp)
	default:
		return AssembleResult{}, c.classify("assemble", resp)
	}

	var out AssembleResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AssembleResult{}, services.Wrap(services.ErrFatal, "producer", "assemble", "decode response", err)
	}
	if out.JobID == "" {
		return AssembleResult{}, services.Wrap(services.ErrFatal, "producer", "assemble", "backend returned no job id", nil)
	}
	return out, nil
}

// JobStatus queries the assembly job state.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobState, error) {
	var out JobState
	path := fmt.Sprintf("/api/v1/jobs/%s", url.PathEscape(jobID))
	if err := c.getJSON(ctx, "job status", path, &out); err != nil {
		return JobState{}, err
	}
	return out, nil
}

// Publish pushes a processed episode to the downstream host.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	path := fmt.Sprintf("/api/v1/episodes/%s/publish", url.PathEscape(req.EpisodeID))
	resp, err := c.postJSON(ctx, "publish", path, req)
	if err != nil {
		return PublishResult{}, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		// Unlike detection, a missing episode at publish time never heals.
		return PublishResult{}, services.Wrap(services.ErrNotFound, "producer", "publish",
			fmt.Sprintf("episode %s not found", req.EpisodeID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return PublishResult{}, c.classify("publish", resp)
	}
	var out PublishResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PublishResult{}, services.Wrap(services.ErrFatal, "producer", "publish", "decode response", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return services.Wrap(services.ErrFatal, "producer", operation, "build request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(operation, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return c.classify(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "producer", operation, "decode response", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, operation, path string, body any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, services.Wrap(services.ErrFatal, "producer", operation, "encode request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrFatal, "producer", operation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(operation, err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rid, ok := services.RequestIDFromContext(ctx)
	if !ok {
		rid = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", rid)
	return req, nil
}

func (c *Client) transportError(operation string, err error) error {
	marker := services.ErrTransient
	if errors.Is(err, context.DeadlineExceeded) {
		marker = services.ErrTimeout
	}
	return services.Wrap(marker, "producer", operation, "request failed", err)
}

// classify maps an unexpected HTTP status to the shared error taxonomy.
func (c *Client) classify(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusTooEarly:
		return services.Wrap(services.ErrNotReady, "producer", operation, message, nil)
	case resp.StatusCode == http.StatusPaymentRequired:
		return c.quotaErrorFromBody(operation, body)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return services.Wrap(services.ErrValidation, "producer", operation, message, nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "producer", operation,
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, message), nil)
	default:
		return services.Wrap(services.ErrFatal, "producer", operation,
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, message), nil)
	}
}

func (c *Client) quotaError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return c.quotaErrorFromBody(operation, body)
}

func (c *Client) quotaErrorFromBody(operation string, body []byte) error {
	var payload quotaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Warn("402 response without parseable quota detail",
			logging.String("operation", operation),
			logging.String(logging.FieldEventType, "quota_payload_unparseable"),
			logging.Error(err))
		return &services.QuotaError{}
	}
	flat := payload.flatten()
	return &services.QuotaError{
		MinutesRequired:  flat.MinutesRequired,
		MinutesRemaining: flat.MinutesRemaining,
		RenewalDate:      parseRenewal(flat.RenewalDate),
	}
}

func parseRenewal(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
