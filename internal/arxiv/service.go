package arxiv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	serviceName    = "ArXiv Tool Server"
	serviceVersion = "1.0.0"
	maxBodyBytes   = 1 << 20
	searchTimeout  = 60 * time.Second
)

// SearchRequest is the direct request form. The platform wraps the same
// fields in "parameters".
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// SearchResponse is the body of a search reply.
type SearchResponse struct {
	Papers []Paper `json:"papers"`
	Total  int     `json:"total"`
	Query  string  `json:"query"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Service serves the academic-search tool.
type Service struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewService creates a service backed by searcher.
func NewService(searcher Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{searcher: searcher, logger: logger.With(zap.String("component", "arxiv"))}
}

// Router returns the service's HTTP routes.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/search", s.handleSearch)
	return r
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"search": "POST /search",
			"health": "GET /health",
		},
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "arxiv-tool-server"})
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("Could not read request body: %v", err)})
		return
	}
	logger.Debug("search request", zap.ByteString("body", raw))

	query, maxResults, err := parseSearchRequest(raw)
	if err != nil {
		logger.Warn("rejected search request", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()

	logger.Info("searching arxiv", zap.String("query", query), zap.Int("max_results", maxResults))
	papers, err := s.searcher.Search(ctx, query, maxResults)
	if err != nil {
		logger.Error("arxiv search failed", zap.String("query", query), zap.Error(err))
		papers = []Paper{}
	}
	if papers == nil {
		papers = []Paper{}
	}
	logger.Info("arxiv search finished", zap.String("query", query), zap.Int("papers", len(papers)))
	writeJSON(w, http.StatusOK, SearchResponse{Papers: papers, Total: len(papers), Query: query})
}

// parseSearchRequest accepts the wrapped {"parameters": {...}} form and the
// direct form, coerces max_results and validates the result against the
// tool schema.
func parseSearchRequest(raw []byte) (string, int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return "", 0, fmt.Errorf("Invalid JSON: %v", err)
	}
	if body == nil {
		return "", 0, errors.New("Invalid JSON: expected an object")
	}

	params := body
	if wrapped, ok := body["parameters"].(map[string]any); ok {
		params = wrapped
	}

	query, present := params["query"]
	if !present || query == nil || query == "" {
		return "", 0, errors.New("Missing 'query' parameter")
	}
	maxResults := coerceMaxResults(params["max_results"])

	normalized := map[string]any{
		"query":       query,
		"max_results": json.Number(strconv.Itoa(maxResults)),
	}
	if err := ValidateParameters(normalized); err != nil {
		return "", 0, fmt.Errorf("Invalid parameters: %v", err)
	}
	q := strings.TrimSpace(query.(string))
	if q == "" {
		return "", 0, errors.New("Missing 'query' parameter")
	}
	return q, maxResults, nil
}

func coerceMaxResults(v any) int {
	n := DefaultMaxResults
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = int(i)
		} else if f, err := t.Float64(); err == nil {
			n = int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			n = i
		}
	case float64:
		n = int(t)
	}
	if n == 0 {
		n = DefaultMaxResults
	}
	return max(1, min(MaxResultsLimit, n))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
