package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/datasync/internal/value"
)

const maxErrorBody = 512

// HTTPClient posts JSON requests to {baseURL}/{datasetID}.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	logger  *slog.Logger
	timeout time.Duration

	probeURL      string
	probeInterval time.Duration
	online        atomic.Bool
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithTimeout sets the per-request timeout. It applies to a copy of the
// client passed to WithHTTPClient, never to the caller's value.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		h.timeout = d
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, val string) Option {
	return func(h *HTTPClient) {
		h.headers[key] = val
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *HTTPClient) {
		h.logger = logger
	}
}

// WithProbe enables connectivity probing of probeURL every interval.
// Without a probe the client always reports itself online.
func WithProbe(probeURL string, interval time.Duration) Option {
	return func(h *HTTPClient) {
		h.probeURL = probeURL
		h.probeInterval = interval
	}
}

// NewHTTPClient creates a client for the cloud endpoint at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint URL %q: scheme must be http or https", baseURL)
	}

	h := &HTTPClient{
		baseURL:       baseURL,
		http:          &http.Client{Timeout: 30 * time.Second},
		headers:       make(map[string]string),
		logger:        slog.Default(),
		probeInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.timeout > 0 {
		c := *h.http
		c.Timeout = h.timeout
		h.http = &c
	}
	h.online.Store(true)
	return h, nil
}

// IsOnline reports the last known connectivity state.
func (h *HTTPClient) IsOnline() bool {
	return h.online.Load()
}

// SetOnline overrides the connectivity state until the next probe.
func (h *HTTPClient) SetOnline(online bool) {
	h.online.Store(online)
}

// Perform posts params as JSON and decodes the JSON object response.
func (h *HTTPClient) Perform(ctx context.Context, datasetID string, params value.Object) (value.Object, error) {
	fn, _ := params.GetString("fn")
	fail := func(status int, err error) (value.Object, error) {
		return nil, &RequestError{DatasetID: datasetID, Fn: fn, StatusCode: status, Err: err}
	}

	endpoint, err := url.JoinPath(h.baseURL, datasetID)
	if err != nil {
		return fail(0, fmt.Errorf("build request URL: %w", err))
	}

	body, err := value.Marshal(params)
	if err != nil {
		return fail(0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(0, fmt.Errorf("failed to create HTTP request: %w", err))
	}

	requestID := uuid.Must(uuid.NewV7()).String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.http.Do(req)
	if err != nil {
		return fail(0, fmt.Errorf("failed to send HTTP request: %w", err))
	}
	defer resp.Body.Close()

	h.logger.Debug("cloud request",
		"dataset_id", datasetID,
		"fn", fn,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(resp.StatusCode, fmt.Errorf("server returned: %s", bytes.TrimSpace(snippet)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	obj, err := value.ParseObject(data)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return obj, nil
}

// RunProbe checks the probe URL on the configured interval until ctx is
// done, updating IsOnline after every check. It returns immediately when no
// probe URL is configured.
func (h *HTTPClient) RunProbe(ctx context.Context) error {
	if h.probeURL == "" {
		return nil
	}

	h.probe(ctx)
	ticker := time.NewTicker(h.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HTTPClient) probe(ctx context.Context) {
	online := h.check(ctx)
	if previous := h.online.Swap(online); previous != online {
		h.logger.Info("connectivity changed", "online", online, "probe_url", h.probeURL)
	}
}

func (h *HTTPClient) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := h.http.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Debug("probe failed", "error", err)
		}
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
