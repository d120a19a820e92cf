package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Static errors for oracle client operations.
var (
	// ErrBaseURLRequired is returned when the service URL is not provided.
	ErrBaseURLRequired = errors.New("oracle: base URL is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("oracle: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("oracle: rate limited")
	// ErrRequestFailed is returned when the service rejects the request
	// with any other non-2xx status code.
	ErrRequestFailed = errors.New("oracle: request failed")
)

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 4 << 10

// Client is an HTTP client for one model service.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// NewClient creates a client for the service at baseURL.
// Requests carry no client-side timeout; callers bound them with ctx.
// Transient failures are not retried unless WithMaxRetries is given.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{},
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the service URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostMultipart sends parts to path and decodes the JSON response into result.
func (c *Client) PostMultipart(ctx context.Context, path string, parts []Part, result any) error {
	resp, err := c.doWithRetry(ctx, path, parts)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("oracle: unmarshal response: %w", err)
	}
	return nil
}

// StreamMultipart sends parts to path and returns the response body
// unread so the caller can decode it incrementally. The caller must
// close the returned body.
func (c *Client) StreamMultipart(ctx context.Context, path string, parts []Part) (io.ReadCloser, error) {
	resp, err := c.doWithRetry(ctx, path, parts)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// doWithRetry performs the request with exponential backoff retry and
// returns a 2xx response whose body the caller owns.
func (c *Client) doWithRetry(ctx context.Context, path string, parts []Part) (*http.Response, error) {
	if err := checkFiles(parts); err != nil {
		return nil, err
	}

	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("oracle: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		resp, err := c.do(ctx, path, parts)
		if err == nil {
			return resp, nil
		}

		// Check if error is retryable
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
	}

	if c.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("oracle: max retries exceeded: %w", lastErr)
}

// do performs a single request. The multipart body is streamed from disk
// so large recordings are never held in memory.
func (c *Client) do(ctx context.Context, path string, parts []Part) (*http.Response, error) {
	body, contentType := multipartBody(parts)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("oracle: create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("oracle: %s: %w", path, ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("oracle: request failed: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(respBody))

	// 5xx errors are retryable
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
	}
	// 429 (rate limit) is retryable
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
	}
	// Other errors are not retryable
	return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
}

// multipartBody streams parts through a pipe. Any error reading a file
// surfaces to the HTTP client as a body read error.
func multipartBody(parts []Part) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, parts))
	}()

	return pr, mw.FormDataContentType()
}

func writeParts(mw *multipart.Writer, parts []Part) error {
	for _, p := range parts {
		if !p.IsFile() {
			if err := mw.WriteField(p.Name, p.Value); err != nil {
				return err
			}
			continue
		}

		fw, err := mw.CreateFormFile(p.Name, filepath.Base(p.FilePath))
		if err != nil {
			return err
		}
		if err := copyFrom(fw, p.FilePath); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFrom(w io.Writer, path string) error {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// checkFiles fails fast on unreadable uploads instead of sending a
// truncated request.
func checkFiles(parts []Part) error {
	for _, p := range parts {
		if !p.IsFile() {
			continue
		}
		if _, err := os.Stat(p.FilePath); err != nil {
			return fmt.Errorf("oracle: %s: %w", p.Name, err)
		}
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
