package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"research-analyzer/internal/research"
)

const (
	doneSentinel     = "[DONE]"
	maxRequestBytes  = 1 << 20
	wsHandshakeWait  = 30 * time.Second
	wsWriteWait      = 10 * time.Second
	wsCloseGrace     = time.Second
	wsMaxMessageSize = 1 << 20
)

// AnalyzeRequest is the body of an analyze call. "tools" and "tool_ids" are
// aliases, as are "include_academic" and "include_arxiv".
type AnalyzeRequest struct {
	Topic           string   `json:"topic"`
	Engine          string   `json:"engine,omitempty"`
	Tools           []string `json:"tools,omitempty"`
	ToolIDs         []string `json:"tool_ids,omitempty"`
	IncludeAcademic *bool    `json:"include_academic,omitempty"`
	IncludeArxiv    *bool    `json:"include_arxiv,omitempty"`
}

func (r AnalyzeRequest) toService() research.AnalyzeRequest {
	tools := r.Tools
	if tools == nil {
		tools = r.ToolIDs
	}
	include := r.IncludeAcademic
	if include == nil {
		include = r.IncludeArxiv
	}
	return research.AnalyzeRequest{
		Topic:           r.Topic,
		Engine:          r.Engine,
		ToolIDs:         tools,
		IncludeAcademic: include,
	}
}

// handleAnalyzeStream runs a research request and streams its events as
// server-sent events, ending with a [DONE] sentinel.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if err := research.ValidateTopic(req.Topic); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	stream := s.research.Analyze(req.toService())
	logger := s.logger.With(zap.String("stream_id", stream.ID))

	// Set up streaming response
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Stream-Id", stream.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := stream.Relay(r.Context(), func(ev research.StreamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.Info("research stream ended early", zap.Error(err))
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
	flusher.Flush()
}

// handleAnalyzeWebSocket is the WebSocket variant of handleAnalyzeStream. The
// first client message is the request; each event is sent as a text frame.
func (s *Server) handleAnalyzeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	write := func(data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	send := func(ev research.StreamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return write(data)
	}
	finish := func(code int, text string) {
		if code == websocket.CloseNormalClosure {
			write([]byte(doneSentinel))
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsCloseGrace))
	}

	conn.SetReadDeadline(time.Now().Add(wsHandshakeWait))
	var req AnalyzeRequest
	if err := conn.ReadJSON(&req); err != nil {
		send(research.ErrorEvent("Invalid request body"))
		finish(websocket.CloseUnsupportedData, "invalid request")
		return
	}
	conn.SetReadDeadline(time.Time{})

	if err := research.ValidateTopic(req.Topic); err != nil {
		send(research.ErrorEvent(err.Error()))
		finish(websocket.CloseNormalClosure, "")
		return
	}

	stream := s.research.Analyze(req.toService())
	logger := s.logger.With(zap.String("stream_id", stream.ID))

	// The client sends nothing after the request; a read error means it left.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := stream.Relay(ctx, send); err != nil {
		logger.Info("research websocket ended early", zap.Error(err))
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, context.Canceled) {
			return
		}
		finish(websocket.CloseInternalServerErr, "relay failed")
		return
	}
	finish(websocket.CloseNormalClosure, "")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.config.CORSOrigins, "*") || slices.Contains(s.config.CORSOrigins, origin)
}

// handleEngines lists the selectable engines.
func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"engines": s.research.Catalog().Engines()})
}

// handleTools lists the selectable platform tools.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.research.Catalog().Tools()})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.research.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"engines":        cat.Engines(),
		"tools":          cat.Tools(),
		"default_engine": s.config.Engine,
	})
}

func (s *Server) handleResearchHealth(w http.ResponseWriter, r *http.Request) {
	cat := s.research.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"timestamp":        s.now().Format(time.RFC3339),
		"engines":          len(cat.Engines()),
		"tools":            len(cat.Tools()),
		"academic_enabled": s.config.ArxivServiceURL != "",
	})
}
