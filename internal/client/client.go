package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"videra/pkg/models"
)

// WebhookClient reports finished jobs to an external URL.
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient retries connection errors and 5xx answers up to
// retryMax times with backoff between 1s and 5s.
func NewWebhookClient(url string, retryMax int) *WebhookClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	// Hand back the last response so its status reaches StatusError.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &WebhookClient{
		url:        url,
		httpClient: retryClient.StandardClient(),
	}
}

// doRequest sends payload as JSON and maps error statuses to StatusError.
func (c *WebhookClient) doRequest(ctx context.Context, method string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "videra")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// StatusError is returned when the webhook answered with an error status
// after all retries.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned error status: %d", e.StatusCode)
}

// NotifyJobResult reports a completed or failed job.
func (c *WebhookClient) NotifyJobResult(ctx context.Context, payload models.JobResultPayload) error {
	if err := c.doRequest(ctx, http.MethodPost, payload); err != nil {
		return fmt.Errorf("notify job %s: %w", payload.JobID, err)
	}
	return nil
}
