// Package workflow implements the workflow engine port over HTTP.
//
// One Trigger call makes up to RetryAttempts POSTs with a delay between
// attempts. This transport-level retry loop is independent of the dispatch
// job's own retry schedule; together they bound total call volume per task.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rewryte/rewryte/internal/config"
	"github.com/rewryte/rewryte/internal/port/workflow"
	"github.com/rewryte/rewryte/internal/resilience"
)

const headerSource = "X-Source"

// defaultRetryDelays is used when the configured schedule is empty or shorter
// than the attempt count.
var defaultRetryDelays = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

// Client delivers trigger requests to the external workflow engine.
type Client struct {
	webhookURL    string
	authHeader    string
	authValue     string
	source        string
	retryAttempts int
	retryDelays   []time.Duration

	httpClient  *http.Client
	probeClient *http.Client
	breaker     *resilience.Breaker
	sleep       func(ctx context.Context, d time.Duration) error // injectable for tests
}

// NewClient validates cfg and builds a Client. Any violation returns a
// *ConfigError; a client is never constructed in a silently degraded state.
func NewClient(cfg config.Workflow) (*Client, error) {
	if cfg.WebhookURL == "" {
		return nil, &ConfigError{Reason: "webhook_url is required"}
	}
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("webhook_url %q is not a valid URL", cfg.WebhookURL)}
	}
	if cfg.AuthHeader == "" || cfg.AuthValue == "" {
		return nil, &ConfigError{Reason: "auth_header and auth_value are required"}
	}
	if cfg.Timeout <= 0 {
		return nil, &ConfigError{Reason: "timeout must be > 0"}
	}
	if cfg.RetryAttempts < 1 {
		return nil, &ConfigError{Reason: "retry_attempts must be >= 1"}
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}

	return &Client{
		webhookURL:    cfg.WebhookURL,
		authHeader:    cfg.AuthHeader,
		authValue:     cfg.AuthValue,
		source:        cfg.Source,
		retryAttempts: cfg.RetryAttempts,
		retryDelays:   cfg.RetryDelays,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		probeClient: &http.Client{
			Timeout:   connectTimeout,
			Transport: transport,
		},
		sleep: sleepCtx,
	}, nil
}

// SetBreaker attaches a circuit breaker around each outgoing attempt.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Trigger sends the request, retrying transient failures up to the configured
// attempt count. Success on any attempt returns the engine's acknowledgement
// body; exhausting all attempts returns the last classified error, never a
// silent success.
func (c *Client) Trigger(ctx context.Context, req workflow.TriggerRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		var result map[string]any
		call := func() error {
			var attemptErr error
			result, attemptErr = c.doAttempt(ctx, body)
			return attemptErr
		}

		if c.breaker != nil {
			err = c.breaker.Execute(call)
		} else {
			err = call()
		}

		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < c.retryAttempts {
			if sleepErr := c.sleep(ctx, c.delayFor(attempt)); sleepErr != nil {
				return nil, lastErr
			}
		}
	}

	return nil, lastErr
}

// doAttempt issues one POST and classifies its outcome.
func (c *Client) doAttempt(ctx context.Context, body []byte) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, &InvalidResponseError{Reason: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.source != "" {
		httpReq.Header.Set(headerSource, c.source)
	}
	httpReq.Header.Set(c.authHeader, c.authValue)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}

	// An empty or unparsable acknowledgement body is not a failure; the
	// engine has accepted the trigger and will report via the callback.
	result := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			result = map[string]any{}
		}
	}
	if _, ok := result["success"]; !ok {
		result["success"] = true
	}
	return result, nil
}

// classifyTransport maps a transport error to the client's error taxonomy.
func (c *Client) classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: c.webhookURL}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: c.webhookURL}
	}
	return &ConnectionError{URL: c.webhookURL, Err: err}
}

// delayFor returns the sleep before the next attempt after attempt n (1-based).
func (c *Client) delayFor(attempt int) time.Duration {
	schedule := c.retryDelays
	if len(schedule) == 0 {
		schedule = defaultRetryDelays
	}
	if attempt-1 < len(schedule) {
		return schedule[attempt-1]
	}
	return schedule[len(schedule)-1]
}

// IsAvailable probes the engine endpoint with a short GET. Any response up to
// 4xx means the endpoint exists and answers; 5xx or a transport failure means
// unavailable. This is a liveness signal only.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.webhookURL, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set(c.authHeader, c.authValue)

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode < 500
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
