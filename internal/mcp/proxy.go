package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/bobmcallan/vire-openapi-mcp/internal/tools"
)

// maxResponseSize caps the proxy response body to prevent OOM from unexpectedly large responses.
const maxResponseSize = 50 << 20 // 50MB

// APIProxy sends compiled tool requests to the upstream API. It implements
// tools.RequestInvoker.
type APIProxy struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	headers    http.Header
	limiter    *rate.Limiter
}

// NewAPIProxy creates a proxy targeting baseURL. Static headers and the
// bearer token from cfg are sent on every request; a positive rate limit
// throttles outgoing calls.
func NewAPIProxy(baseURL string, logger *common.Logger, cfg *config.APIConfig) *APIProxy {
	headers := make(http.Header)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	if cfg.BearerToken != "" {
		headers.Set("Authorization", "Bearer "+cfg.BearerToken)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &APIProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.GetTimeout(),
		},
		logger:  logger,
		headers: headers,
		limiter: limiter,
	}
}

// BaseURL returns the configured API base URL.
func (p *APIProxy) BaseURL() string {
	return p.baseURL
}

// Headers returns the static headers sent on every request.
func (p *APIProxy) Headers() http.Header {
	return p.headers
}

// Invoke performs the request. Non-2xx responses are returned as
// *tools.APIError carrying the status and body.
func (p *APIProxy) Invoke(ctx context.Context, r *tools.Request) (*tools.Response, error) {
	target := p.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var bodyReader io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, vals := range p.headers {
		for _, v := range vals {
			req.Header.Set(key, v)
		}
	}
	for key, vals := range r.Header {
		for _, v := range vals {
			req.Header.Set(key, v)
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	p.logger.Debug().Str("method", r.Method).Str("path", r.Path).Msg("proxy request")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		p.logger.Error().Str("method", r.Method).Str("path", r.Path).Int64("duration_ms", duration.Milliseconds()).Str("error", err.Error()).Msg("proxy request failed")
		return nil, fmt.Errorf("server request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	p.logger.Debug().Int("status", resp.StatusCode).Int64("duration_ms", duration.Milliseconds()).Msg("proxy response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &tools.APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return &tools.Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Data:   decodeBody(body),
	}, nil
}

// decodeBody returns the JSON value of body, the raw text when it is not
// JSON, or nil when it is empty.
func decodeBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return string(body)
	}
	return data
}
