package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
)

// StatusHandler reports where the tools came from and whether the upstream
// API answers.
type StatusHandler struct {
	logger     *common.Logger
	specSource string
	specLoaded bool
	apiURL     string
	client     *http.Client
}

// NewStatusHandler creates a new status handler. specSource is empty when no
// document was loaded.
func NewStatusHandler(logger *common.Logger, specSource string, specLoaded bool, apiURL string) *StatusHandler {
	return &StatusHandler{
		logger:     logger,
		specSource: specSource,
		specLoaded: specLoaded,
		apiURL:     apiURL,
		client:     &http.Client{},
	}
}

// ServeHTTP handles GET /api/status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"spec": map[string]interface{}{
			"source": h.specSource,
			"loaded": h.specLoaded,
		},
		"api": map[string]string{
			"url":    h.apiURL,
			"status": h.upstreamStatus(r.Context()),
		},
	})
}

// upstreamStatus is "ok" when the API base URL answers with anything below
// 500, "down" when it does not, and "unknown" when no URL is configured.
func (h *StatusHandler) upstreamStatus(ctx context.Context) string {
	if h.apiURL == "" {
		return "unknown"
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", h.apiURL, nil)
	if err != nil {
		return "down"
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if h.logger != nil {
			h.logger.Debug().Str("url", h.apiURL).Err(err).Msg("upstream API unreachable")
		}
		return "down"
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "down"
	}
	return "ok"
}
