// Package tools compiles tool descriptors into callable tools and keeps the
// registry of which resource groups are active.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Request is one outbound API call built from a tool invocation.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is the reconstructed JSON body, or nil.
	Body any
}

// Response is what the invoker returns for a 2xx call.
type Response struct {
	Status int
	Header http.Header
	// Data is the decoded JSON body, the raw text when the body is not
	// JSON, or nil when empty.
	Data any
}

// RequestInvoker sends requests to the upstream API. Implementations return
// an *APIError for non-2xx responses.
type RequestInvoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// RequestInvokerFunc adapts a function to RequestInvoker.
type RequestInvokerFunc func(ctx context.Context, req *Request) (*Response, error)

// Invoke calls f.
func (f RequestInvokerFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// APIError reports a non-2xx response from the upstream API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Body)
}
