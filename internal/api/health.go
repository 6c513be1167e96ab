package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"research-analyzer/internal/arxiv"
)

const academicProbeTimeout = 3 * time.Second

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "Research Paper Analyzer API",
		"version": version,
		"docs":    "/api/research/catalog",
	})
}

// handleHealth reports service status and a configuration summary.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "research-paper-analyzer-backend",
		"version":   version,
		"timestamp": s.now().Format(time.RFC3339),
		"config": map[string]any{
			"engine":             s.config.Engine,
			"api_key_configured": s.config.APIKey != "",
			"arxiv_configured":   s.config.ArxivServiceURL != "",
			"max_retries":        s.config.MaxRetries,
			"retry_delay":        s.config.RetryDelay.Seconds(),
			"stream_timeout":     s.config.StreamTimeout.Seconds(),
			"history_enabled":    s.history != nil,
			"worker_pool_size":   s.config.WorkerPoolSize,
		},
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

// handleReadiness reports configuration issues and whether the
// academic-search service answers. Only a missing API key is fatal.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	issues, ready := s.config.Issues()

	academic := "disabled"
	if s.academic != nil && s.config.ArxivServiceURL != "" {
		ctx, cancel := context.WithTimeout(r.Context(), academicProbeTimeout)
		defer cancel()
		if err := s.academic.Health(ctx); err != nil {
			academic = "unreachable"
			issues = append(issues, "ArXiv service unreachable: "+err.Error())
		} else {
			academic = "ok"
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"config": map[string]any{
			"engine":             s.config.Engine,
			"api_key_configured": s.config.APIKey != "",
			"arxiv_url":          s.config.ArxivServiceURL,
			"arxiv_status":       academic,
			"max_retries":        s.config.MaxRetries,
			"retry_delay":        s.config.RetryDelay.Seconds(),
			"stream_timeout":     s.config.StreamTimeout.Seconds(),
			"request_timeout":    s.config.RequestTimeout.Seconds(),
		},
		"issues": issues,
	})
}

// handleDebugSchema shows the academic-search tool definition sent to the
// platform.
func (s *Server) handleDebugSchema(w http.ResponseWriter, r *http.Request) {
	tool := map[string]any{"parameters": json.RawMessage(arxiv.ParameterSchema())}
	if s.config.ArxivServiceURL != "" {
		tool["tool"] = arxiv.FunctionTool(s.config.ArxivServiceURL)
	}
	writeJSON(w, http.StatusOK, tool)
}
