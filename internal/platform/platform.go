// Package platform is the client for the hosted reasoning-agent platform:
// starting streaming runs, iterating their events, and polling a run until it
// reaches a terminal state.
package platform

import (
	"context"
	"encoding/json"
	"time"
)

// Event kinds produced by a streaming run.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// RawEvent is one event read from a streaming run. Payload fields that were not
// JSON strings on the wire are kept as their raw JSON text.
type RawEvent struct {
	Type    string
	RunID   string
	Content string
	Data    string
	Text    string
	Error   string
	Message string
}

// Payload returns the first non-empty of Content, Data and Text.
func (e RawEvent) Payload() string {
	switch {
	case e.Content != "":
		return e.Content
	case e.Data != "":
		return e.Data
	default:
		return e.Text
	}
}

// ErrorText returns the event's error description, falling back to its message.
func (e RawEvent) ErrorText() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "unknown stream error"
}

// Tool is one entry of the tool configuration sent with a run. Platform tools
// carry only an ID; function tools describe an HTTP endpoint the agent may call.
type Tool struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Method      string          `json:"method,omitempty"`
	Timeout     int             `json:"timeout,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Label is the identifier used when reporting the tool to clients.
func (t Tool) Label() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Name
}

// RunRequest starts one streaming run.
type RunRequest struct {
	Engine       string
	Instructions string
	Tools        []Tool
}

// RunStatus is the platform-side state of a run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
	StatusTimedOut  RunStatus = "timed_out"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusTimedOut:
		return true
	}
	return false
}

// Failed reports whether the run ended without success.
func (s RunStatus) Failed() bool {
	return s == StatusFailed || s == StatusCanceled || s == StatusTimedOut
}

// RunResult is the payload of a succeeded run. Both fields are left undecoded
// in shape: answers may be text or objects, reasoning a list or a single node.
type RunResult struct {
	Answer    any `json:"answer"`
	Reasoning any `json:"reasoning"`
}

// RunError describes why a run failed.
type RunError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Code != "" && e.Message != "" {
		return e.Code + ": " + e.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Run is the observed state of one platform run.
type Run struct {
	RunID  string     `json:"runId"`
	Status RunStatus  `json:"status"`
	Result *RunResult `json:"result,omitempty"`
	Error  *RunError  `json:"error,omitempty"`
}

// WaitOptions bounds polling for a run's completion.
type WaitOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// Stream is a blocking iterator over one run's events. Next returns io.EOF
// once the stream is exhausted.
type Stream interface {
	Next() (RawEvent, error)
	Close() error
}

// Client is the subset of the platform API the research driver depends on.
type Client interface {
	StreamRun(ctx context.Context, req RunRequest) (Stream, error)
	WaitRun(ctx context.Context, runID string, opts WaitOptions) (*Run, error)
}
