package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted platform's API root.
const DefaultBaseURL = "https://api.subconscious.dev/v1"

// HTTPClient talks to the platform over HTTPS.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	stream         *http.Client
	requestTimeout time.Duration
}

// NewHTTPClient creates a platform client. requestTimeout bounds each
// non-streaming call; streaming calls are bounded only by their context.
func NewHTTPClient(baseURL, apiKey string, requestTimeout time.Duration) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		stream: &http.Client{
			// Streaming requests must not have a global client timeout.
			Timeout: 0,
		},
		requestTimeout: requestTimeout,
	}
}

type runInput struct {
	Instructions string `json:"instructions"`
	Tools        []Tool `json:"tools"`
}

type streamRunBody struct {
	Engine string   `json:"engine"`
	Input  runInput `json:"input"`
}

// StreamRun starts a run and returns an iterator over its events.
func (c *HTTPClient) StreamRun(ctx context.Context, req RunRequest) (Stream, error) {
	tools := req.Tools
	if tools == nil {
		tools = []Tool{}
	}
	body, err := json.Marshal(streamRunBody{
		Engine: req.Engine,
		Input:  runInput{Instructions: req.Instructions, Tools: tools},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson")
	c.authorize(httpReq)

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, mapStatusError(resp.StatusCode, responseBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	buffer := make([]byte, 0, 64*1024)
	scanner.Buffer(buffer, 4*1024*1024)
	return &lineStream{body: resp.Body, scanner: scanner}, nil
}

// WaitRun polls a run until it is terminal or the attempt bound is reached.
func (c *HTTPClient) WaitRun(ctx context.Context, runID string, opts WaitOptions) (*Run, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		if attempt == opts.MaxAttempts {
			break
		}
		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("run %s still pending after %d attempts: %w", runID, opts.MaxAttempts, ErrWaitTimeout)
}

// GetRun fetches the current state of a run.
func (c *HTTPClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mapStatusError(resp.StatusCode, body)
	}
	return decodeRun(body)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeRun(body []byte) (*Run, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	run := &Run{}
	for _, key := range []string{"runId", "run_id", "id"} {
		if run.RunID = rawText(raw[key]); run.RunID != "" {
			break
		}
	}
	if err := json.Unmarshal(raw["status"], &run.Status); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	if res, ok := raw["result"]; ok && !isNull(res) {
		run.Result = &RunResult{}
		if err := json.Unmarshal(res, run.Result); err != nil {
			return nil, fmt.Errorf("decode run result: %w", err)
		}
	}
	if e, ok := raw["error"]; ok && !isNull(e) {
		run.Error = &RunError{}
		if json.Unmarshal(e, run.Error) != nil {
			run.Error = &RunError{Message: rawText(e)}
		}
	}
	return run, nil
}

// lineStream reads server-sent events or newline-delimited JSON.
type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *lineStream) Next() (RawEvent, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "" || line == "[DONE]" {
			continue
		}
		event, err := decodeEvent([]byte(line))
		if err != nil {
			continue
		}
		return event, nil
	}
	if err := s.scanner.Err(); err != nil {
		return RawEvent{}, mapTransportError(err)
	}
	return RawEvent{}, io.EOF
}

func (s *lineStream) Close() error {
	return s.body.Close()
}

type wireEvent struct {
	Type     string          `json:"type"`
	RunID    string          `json:"runId"`
	RunIDAlt string          `json:"run_id"`
	Content  json.RawMessage `json:"content"`
	Data     json.RawMessage `json:"data"`
	Text     json.RawMessage `json:"text"`
	Error    json.RawMessage `json:"error"`
	Message  json.RawMessage `json:"message"`
}

func decodeEvent(line []byte) (RawEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return RawEvent{}, err
	}
	if w.Type == "" {
		return RawEvent{}, errors.New("event without type")
	}
	ev := RawEvent{
		Type:    w.Type,
		RunID:   w.RunID,
		Content: rawText(w.Content),
		Data:    rawText(w.Data),
		Text:    rawText(w.Text),
		Error:   errorText(w.Error),
		Message: rawText(w.Message),
	}
	if ev.RunID == "" {
		ev.RunID = w.RunIDAlt
	}
	return ev, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// rawText returns a JSON string's value, or the raw JSON text for any other
// value.
func rawText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func errorText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var obj RunError
	if err := json.Unmarshal(raw, &obj); err == nil && obj.String() != "" {
		return obj.String()
	}
	return rawText(raw)
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("platform connection timeout: %w", err)
	}
	return fmt.Errorf("platform connection failed: %w", err)
}
