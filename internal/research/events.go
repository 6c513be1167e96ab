package research

import (
	"encoding/json"
	"fmt"
)

// EventType tags a StreamEvent variant.
type EventType string

const (
	EventStatus   EventType = "status"
	EventActivity EventType = "activity"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Phase is the lifecycle step reported by a status event.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseConnecting  Phase = "connecting"
	PhaseResearching Phase = "researching"
	PhaseRetry       Phase = "retry"
	PhaseFinalizing  Phase = "finalizing"
	PhaseComplete    Phase = "complete"
)

// ContentType classifies the content of an activity event. ContentDelta is
// only produced by the normalizer when a delta carried nothing usable.
type ContentType string

const (
	ContentTool     ContentType = "tool"
	ContentInfo     ContentType = "info"
	ContentProgress ContentType = "progress"
	ContentDelta    ContentType = "delta"
)

// StreamEvent is one unit relayed to the client. Which fields are meaningful
// depends on Type; JSON encoding emits only the fields of that variant.
type StreamEvent struct {
	Type EventType

	// status
	Phase   Phase
	Message string
	Details map[string]any

	// activity
	DeltaCount     int
	ElapsedSeconds float64
	Content        *string
	ContentType    ContentType

	// done
	RunID     string
	Answer    string
	Reasoning []ReasoningNode

	// error
	Error string
}

// StatusEvent builds a status event.
func StatusEvent(phase Phase, message string, details map[string]any) StreamEvent {
	return StreamEvent{Type: EventStatus, Phase: phase, Message: message, Details: details}
}

// ActivityEvent builds an activity event. Empty content is sent as null.
func ActivityEvent(deltaCount int, elapsedSeconds float64, content string, contentType ContentType) StreamEvent {
	ev := StreamEvent{
		Type:           EventActivity,
		DeltaCount:     deltaCount,
		ElapsedSeconds: elapsedSeconds,
		ContentType:    contentType,
	}
	if content != "" {
		ev.Content = &content
	}
	return ev
}

// DoneEvent builds the success terminal event.
func DoneEvent(runID, answer string, reasoning []ReasoningNode) StreamEvent {
	if reasoning == nil {
		reasoning = []ReasoningNode{}
	}
	return StreamEvent{Type: EventDone, RunID: runID, Answer: answer, Reasoning: reasoning}
}

// ErrorEvent builds the failure terminal event.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: message}
}

// ErrorEventf builds a failure terminal event from a format string.
func ErrorEventf(format string, args ...any) StreamEvent {
	return ErrorEvent(fmt.Sprintf(format, args...))
}

// IsTerminal reports whether no event may follow e.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type statusWire struct {
	Type    EventType      `json:"type"`
	Phase   Phase          `json:"phase"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type activityWire struct {
	Type           EventType   `json:"type"`
	DeltaCount     int         `json:"delta_count"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	Content        *string     `json:"content"`
	ContentType    ContentType `json:"content_type"`
}

type doneWire struct {
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	Answer    string          `json:"answer"`
	Reasoning []ReasoningNode `json:"reasoning"`
}

type errorWire struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// MarshalJSON encodes the event as its tagged variant.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus:
		return json.Marshal(statusWire{Type: e.Type, Phase: e.Phase, Message: e.Message, Details: e.Details})
	case EventActivity:
		return json.Marshal(activityWire{
			Type:           e.Type,
			DeltaCount:     e.DeltaCount,
			ElapsedSeconds: e.ElapsedSeconds,
			Content:        e.Content,
			ContentType:    e.ContentType,
		})
	case EventDone:
		reasoning := e.Reasoning
		if reasoning == nil {
			reasoning = []ReasoningNode{}
		}
		return json.Marshal(doneWire{Type: e.Type, RunID: e.RunID, Answer: e.Answer, Reasoning: reasoning})
	case EventError:
		return json.Marshal(errorWire{Type: e.Type, Error: e.Error})
	}
	return nil, fmt.Errorf("unknown stream event type %q", e.Type)
}

// UnmarshalJSON decodes any variant produced by MarshalJSON.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var w struct {
		Type           EventType       `json:"type"`
		Phase          Phase           `json:"phase"`
		Message        string          `json:"message"`
		Details        map[string]any  `json:"details"`
		DeltaCount     int             `json:"delta_count"`
		ElapsedSeconds float64         `json:"elapsed_seconds"`
		Content        *string         `json:"content"`
		ContentType    ContentType     `json:"content_type"`
		RunID          string          `json:"run_id"`
		Answer         string          `json:"answer"`
		Reasoning      []ReasoningNode `json:"reasoning"`
		Error          string          `json:"error"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = StreamEvent{
		Type:           w.Type,
		Phase:          w.Phase,
		Message:        w.Message,
		Details:        w.Details,
		DeltaCount:     w.DeltaCount,
		ElapsedSeconds: w.ElapsedSeconds,
		Content:        w.Content,
		ContentType:    w.ContentType,
		RunID:          w.RunID,
		Answer:         w.Answer,
		Reasoning:      w.Reasoning,
		Error:          w.Error,
	}
	return nil
}
