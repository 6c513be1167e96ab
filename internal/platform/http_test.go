package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestStreamRunReadsSSEAndNDJSON(t *testing.T) {
	var gotBody streamRunBody
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs/stream" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": keep-alive\n\n"))
		_, _ = w.Write([]byte("event: delta\ndata: {\"type\":\"delta\",\"content\":\"hello\"}\n\n"))
		_, _ = w.Write([]byte(`{"type":"delta","data":{"thought":"plan"}}` + "\n"))
		_, _ = w.Write([]byte("not json\n"))
		_, _ = w.Write([]byte(`{"type":"error","error":{"code":"stream","message":"terminated"}}` + "\n"))
		_, _ = w.Write([]byte(`data: {"type":"done","runId":"run-42"}` + "\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "key-1", time.Second)
	stream, err := client.StreamRun(context.Background(), RunRequest{
		Engine:       "tim-gpt",
		Instructions: "research",
		Tools:        []Tool{{Type: "platform", ID: "web_search"}},
	})
	if err != nil {
		t.Fatalf("stream run failed: %v", err)
	}
	defer stream.Close()

	var events []RawEvent
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		events = append(events, ev)
	}

	if gotAuth != "Bearer key-1" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody.Engine != "tim-gpt" || gotBody.Input.Instructions != "research" || len(gotBody.Input.Tools) != 1 {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if len(events) != 4 {
		t.Fatalf("unexpected event count: %d (%+v)", len(events), events)
	}
	if events[0].Payload() != "hello" {
		t.Fatalf("unexpected first payload: %q", events[0].Payload())
	}
	if events[1].Payload() != `{"thought":"plan"}` {
		t.Fatalf("unexpected object payload: %q", events[1].Payload())
	}
	if events[2].Type != EventError || events[2].ErrorText() != "stream: terminated" {
		t.Fatalf("unexpected error event: %+v", events[2])
	}
	if events[3].Type != EventDone || events[3].RunID != "run-42" {
		t.Fatalf("unexpected done event: %+v", events[3])
	}
}

func TestStreamRunMapsStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"overloaded","message":"try later"}}`))
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, "k", time.Second).StreamRun(context.Background(), RunRequest{Engine: "tim-gpt"})
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Code != "overloaded" || apiErr.Message != "try later" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestStatusErrorDefaultsCodeFromPlainBody(t *testing.T) {
	err := mapStatusError(http.StatusTooManyRequests, []byte("slow down"))
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "rate_limited" || apiErr.Message != "slow down" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in message: %q", err.Error())
	}
}

func TestWaitRunPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/run-1" {
			http.NotFound(w, r)
			return
		}
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			_, _ = w.Write([]byte(`{"runId":"run-1","status":"running"}`))
			return
		}
		_, _ = w.Write([]byte(`{"runId":"run-1","status":"succeeded","result":{"answer":"text","reasoning":[{"title":"t"}]}}`))
	}))
	defer server.Close()

	run, err := NewHTTPClient(server.URL, "k", time.Second).WaitRun(context.Background(), "run-1", WaitOptions{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if run.Status != StatusSucceeded || run.Result == nil || run.Result.Answer != "text" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if calls.Load() != 3 {
		t.Fatalf("unexpected poll count: %d", calls.Load())
	}
}

func TestWaitRunTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"run_id":"run-1","status":"queued"}`))
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, "k", time.Second).WaitRun(context.Background(), "run-1", WaitOptions{
		Interval:    time.Millisecond,
		MaxAttempts: 2,
	})
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected wait timeout, got %v", err)
	}
}

func TestDecodeRunFailedWithStringError(t *testing.T) {
	run, err := decodeRun([]byte(`{"id":"r","status":"failed","error":"agent crashed"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if run.RunID != "r" || !run.Status.Failed() || run.Error.String() != "agent crashed" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestRunStatusPredicates(t *testing.T) {
	for _, status := range []RunStatus{StatusQueued, StatusRunning} {
		if status.Terminal() || status.Failed() {
			t.Fatalf("status %q should be pending", status)
		}
	}
	if !StatusSucceeded.Terminal() || StatusSucceeded.Failed() {
		t.Fatal("succeeded should be terminal and not failed")
	}
	for _, status := range []RunStatus{StatusFailed, StatusCanceled, StatusTimedOut} {
		if !status.Terminal() || !status.Failed() {
			t.Fatalf("status %q should be a terminal failure", status)
		}
	}
}
