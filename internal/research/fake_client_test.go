package research

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"research-analyzer/internal/platform"
)

// scriptedAttempt is what the fake platform does for one StreamRun call.
type scriptedAttempt struct {
	openErr   error
	events    []platform.RawEvent
	streamErr error
	panicMsg  string
}

type fakeClient struct {
	mu        sync.Mutex
	attempts  []scriptedAttempt
	calls     int
	requests  []platform.RunRequest
	run       *platform.Run
	waitErr   error
	waitCalls int
	onNext    func()
}

func (f *fakeClient) StreamRun(ctx context.Context, req platform.RunRequest) (platform.Stream, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if idx >= len(f.attempts) {
		return nil, errors.New("unscripted attempt")
	}
	a := f.attempts[idx]
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.openErr != nil {
		return nil, a.openErr
	}
	return &fakeStream{events: a.events, err: a.streamErr, onNext: f.onNext}, nil
}

func (f *fakeClient) WaitRun(ctx context.Context, runID string, opts platform.WaitOptions) (*platform.Run, error) {
	f.mu.Lock()
	f.waitCalls++
	f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if f.run == nil {
		return nil, errors.New("no run scripted")
	}
	return f.run, nil
}

func (f *fakeClient) streamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStream struct {
	events []platform.RawEvent
	err    error
	pos    int
	onNext func()
	closed bool
}

func (s *fakeStream) Next() (platform.RawEvent, error) {
	if s.onNext != nil {
		s.onNext()
	}
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return platform.RawEvent{}, s.err
	}
	return platform.RawEvent{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// captureSink records events and how often, and when, Close was called.
type captureSink struct {
	mu         sync.Mutex
	events     []StreamEvent
	closes     int
	afterClose int
}

func (c *captureSink) Emit(ev StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		c.afterClose++
	}
	c.events = append(c.events, ev)
}

func (c *captureSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

func delta(content string) platform.RawEvent {
	return platform.RawEvent{Type: platform.EventDelta, Content: content}
}

func done(runID string) platform.RawEvent {
	return platform.RawEvent{Type: platform.EventDone, RunID: runID}
}

func status503() error {
	return &platform.APIError{Status: http.StatusServiceUnavailable, Code: "service_unavailable", Message: "overloaded"}
}

func succeededRun(runID, answer string) *platform.Run {
	return &platform.Run{
		RunID:  runID,
		Status: platform.StatusSucceeded,
		Result: &platform.RunResult{Answer: answer, Reasoning: []any{}},
	}
}

func testDriverConfig() DriverConfig {
	cfg := DefaultDriverConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollMaxAttempts = 3
	return cfg
}

// newTestDriver returns a driver that records backoff delays instead of
// sleeping.
func newTestDriver(client platform.Client, cfg DriverConfig) (*Driver, *[]time.Duration) {
	d := NewDriver(client, cfg, zap.NewNop(), nil)
	var slept []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return ctx.Err()
	}
	return d, &slept
}

func runJob(ctx context.Context, d *Driver) *captureSink {
	sink := &captureSink{}
	d.Run(ctx, Job{StreamID: "s-1", Topic: "quantum error correction", Engine: "tim-gpt", ToolIDs: []string{"web_search"}, IncludeAcademic: true}, sink)
	return sink
}

func eventsOfType(events []StreamEvent, t EventType) []StreamEvent {
	var out []StreamEvent
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func statusPhases(events []StreamEvent) []Phase {
	var out []Phase
	for _, ev := range events {
		if ev.Type == EventStatus {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func countTerminal(events []StreamEvent) int {
	n := 0
	for _, ev := range events {
		if ev.IsTerminal() {
			n++
		}
	}
	return n
}
