package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"momo-gateway/internal/config"
	"momo-gateway/internal/logger"
)

// maxBackoff caps the exponential backoff so a retry burst never stalls a
// caller for longer than roughly readTimeout * (maxRetries + 1).
const maxBackoff = 30 * time.Second

// APIError is the structured failure carried back from provider calls:
// the last HTTP status seen and the raw response payload.
type APIError struct {
	Message    string
	StatusCode int
	Payload    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// Response is a fully-read outbound call result.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Client executes outbound provider requests with timeouts, bounded
// retries and capped exponential backoff. Retries fire on connection
// errors, timeouts, HTTP 429 and 5xx; other statuses are returned to the
// caller as-is.
type Client struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	log         *logger.Logger
}

func NewClient(cfg config.TransportConfig, log *logger.Logger) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
				MaxIdleConnsPerHost: 10,
			},
		},
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		log:         log,
	}
}

// Execute performs one logical request, retrying per policy. body, when
// non-nil, is JSON-encoded once and replayed on every attempt.
func (c *Client) Execute(ctx context.Context, method, url string, headers map[string]string, body interface{}) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	var lastResp *Response

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		c.log.Debug("HTTP", fmt.Sprintf("%s %s (attempt %d/%d)", method, url, attempt+1, c.maxRetries+1))

		resp, err := c.do(ctx, method, url, headers, payload)
		if err != nil {
			lastErr = err
			lastResp = nil
			if ctx.Err() != nil {
				break
			}
			c.log.Warn("HTTP", fmt.Sprintf("request to %s failed: %v", url, err))
			if attempt < c.maxRetries {
				if err := c.wait(ctx, c.backoff(attempt, nil)); err != nil {
					break
				}
				continue
			}
			break
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = nil
			lastResp = resp
			if attempt < c.maxRetries {
				wait := c.backoff(attempt, resp.Header)
				c.log.Warn("HTTP", fmt.Sprintf("HTTP %d from %s, retrying in %s", resp.StatusCode, url, wait))
				if err := c.wait(ctx, wait); err != nil {
					break
				}
				continue
			}
			break
		}

		c.log.Debug("HTTP", fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url))
		return resp, nil
	}

	if lastResp != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("request to %s failed after %d retries", url, c.maxRetries),
			StatusCode: lastResp.StatusCode,
			Payload:    string(lastResp.Body),
		}
	}
	return nil, &APIError{Message: fmt.Sprintf("network error calling %s: %v", url, lastErr)}
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, payload []byte) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoff returns baseBackoff * 2^attempt capped at maxBackoff, honoring
// a Retry-After header when the provider sent one.
func (c *Client) backoff(attempt int, header http.Header) time.Duration {
	if header != nil {
		if ra := header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	wait := c.baseBackoff << uint(attempt)
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
