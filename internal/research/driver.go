package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"research-analyzer/internal/platform"
)

const (
	minActivityContentLen = 5
	maxBackoffShift       = 30
)

// DriverConfig bounds retries and result polling for one research run.
type DriverConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
	HeartbeatInterval time.Duration
	AcademicSearchURL string
}

// DefaultDriverConfig returns the production retry and polling bounds.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		MaxRetries:        5,
		BaseDelay:         10 * time.Second,
		PollInterval:      2 * time.Second,
		PollMaxAttempts:   30,
		HeartbeatInterval: 1500 * time.Millisecond,
	}
}

// BackoffDelay is the wait before attempt n: base for attempt 2, doubling
// with each later attempt. The first attempt does not wait.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	shift := attempt - 2
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base * time.Duration(1<<shift)
}

// Job is one research request after validation.
type Job struct {
	StreamID        string
	Topic           string
	Engine          string
	ToolIDs         []string
	IncludeAcademic bool
}

// RunAttempt is the state of one pass through the retry loop.
type RunAttempt struct {
	Number     int
	MaxRetries int
	LastError  string
	StartedAt  time.Time
}

func (a RunAttempt) remaining() bool {
	return a.Number < a.MaxRetries
}

// Driver runs the connect, stream, wait and reconstruct cycle against the
// platform, retrying transient failures with exponential backoff.
type Driver struct {
	client  platform.Client
	cfg     DriverConfig
	logger  *zap.Logger
	metrics *Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewDriver creates a driver. A nil logger discards logs.
func NewDriver(client platform.Client, cfg DriverConfig, logger *zap.Logger, metrics *Metrics) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultDriverConfig().HeartbeatInterval
	}
	return &Driver{
		client:  client,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "driver")),
		metrics: metrics,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes job and reports progress to sink. It blocks until the run is
// finished and always ends with exactly one terminal event followed by
// sink.Close, whatever happens upstream.
func (d *Driver) Run(ctx context.Context, job Job, sink EventSink) {
	logger := d.logger.With(zap.String("stream_id", job.StreamID), zap.String("engine", job.Engine))
	em := &emitter{sink: sink, metrics: d.metrics}
	defer em.finish()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("research worker panicked", zap.Any("panic", r), zap.Stack("stack"))
			em.emit(ErrorEventf("Fatal error: %v", r))
		}
	}()

	tools := BuildTools(job.ToolIDs, job.IncludeAcademic, d.cfg.AcademicSearchURL)
	req := platform.RunRequest{
		Engine:       job.Engine,
		Instructions: BuildInstructions(job.Topic),
		Tools:        tools,
	}
	em.emit(StatusEvent(PhaseInit, "Initializing research agent...", map[string]any{
		"engine": job.Engine,
		"tools":  toolLabels(tools),
	}))

	maxRetries := d.cfg.MaxRetries
	var lastErr string
	for n := 1; n <= maxRetries; n++ {
		attempt := RunAttempt{Number: n, MaxRetries: maxRetries, LastError: lastErr}
		if n > 1 {
			delay := BackoffDelay(d.cfg.BaseDelay, n)
			em.emit(StatusEvent(PhaseRetry, fmt.Sprintf("Retrying in %.0fs... (attempt %d/%d)", delay.Seconds(), n, maxRetries), map[string]any{
				"attempt":       n,
				"max_retries":   maxRetries,
				"delay_seconds": delay.Seconds(),
				"last_error":    lastErr,
			}))
			logger.Info("backing off before retry", zap.Int("attempt", n), zap.Duration("delay", delay))
			if err := d.sleep(ctx, delay); err != nil {
				em.emit(cancelledEvent(err))
				return
			}
		}
		if err := ctx.Err(); err != nil {
			em.emit(cancelledEvent(err))
			return
		}

		attempt.StartedAt = d.now()
		logger.Info("starting attempt", zap.Int("attempt", n), zap.Int("max_retries", maxRetries))
		retry, cause, reason := d.runAttempt(ctx, &attempt, req, em, logger)
		if !retry {
			return
		}
		lastErr = cause
		d.metrics.observeRetry(reason)
		logger.Warn("attempt failed with a transient error", zap.Int("attempt", n), zap.String("cause", cause))
		if !attempt.remaining() {
			break
		}
	}

	logger.Error("retries exhausted", zap.String("last_error", lastErr))
	em.emit(ErrorEventf("Failed after %d attempts: %s", maxRetries, lastErr))
}

// runAttempt performs one connect and stream cycle. It either emits a terminal
// event and returns retry=false, or returns retry=true with the transient
// cause and a metrics reason label.
func (d *Driver) runAttempt(ctx context.Context, attempt *RunAttempt, req platform.RunRequest, em *emitter, logger *zap.Logger) (retry bool, cause, reason string) {
	em.emit(StatusEvent(PhaseConnecting, "Connecting to API...", nil))
	stream, err := d.client.StreamRun(ctx, req)
	if err != nil {
		return d.classifyFailure(ctx, attempt, err, em)
	}
	defer stream.Close()

	em.emit(StatusEvent(PhaseResearching, "Research in progress...", nil))

	deltas := 0
	lastActivity := d.now()
	for {
		if err := ctx.Err(); err != nil {
			em.emit(cancelledEvent(err))
			return false, "", ""
		}
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			logger.Warn("stream ended without done event", zap.Int("deltas", deltas))
			em.emit(ErrorEventf("Stream ended unexpectedly (%d deltas received)", deltas))
			return false, "", ""
		}
		if err != nil {
			return d.classifyFailure(ctx, attempt, err, em)
		}

		switch ev.Type {
		case platform.EventDelta:
			deltas++
			content, contentType := NormalizeDelta(ev)
			hasContent := runeLen(strings.TrimSpace(content)) > minActivityContentLen
			now := d.now()
			if hasContent || now.Sub(lastActivity) > d.cfg.HeartbeatInterval {
				if !hasContent {
					contentType = ContentProgress
				}
				elapsed := math.Round(now.Sub(attempt.StartedAt).Seconds()*10) / 10
				em.emit(ActivityEvent(deltas, elapsed, content, contentType))
				lastActivity = now
			}

		case platform.EventDone:
			logger.Info("stream finished", zap.String("run_id", ev.RunID), zap.Int("deltas", deltas),
				zap.Duration("elapsed", d.now().Sub(attempt.StartedAt)))
			d.finalize(ctx, ev.RunID, em, logger)
			return false, "", ""

		case platform.EventError:
			msg := ev.ErrorText()
			if isTerminatedMessage(msg) {
				if attempt.remaining() {
					em.emit(StatusEvent(PhaseRetry, "Connection terminated, preparing to retry...", map[string]any{
						"attempt":     attempt.Number,
						"max_retries": attempt.MaxRetries,
						"reason":      msg,
					}))
				}
				return true, msg, "terminated"
			}
			logger.Error("stream error event", zap.String("error", msg))
			em.emit(ErrorEvent(msg))
			return false, "", ""

		default:
			logger.Debug("ignoring stream event", zap.String("type", ev.Type))
		}
	}
}

// classifyFailure decides whether an error raised by the platform client is
// worth another attempt. Fatal errors are emitted here.
func (d *Driver) classifyFailure(ctx context.Context, attempt *RunAttempt, err error, em *emitter) (bool, string, string) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		em.emit(cancelledEvent(ctxErr))
		return false, "", ""
	}
	if apiErr, ok := platform.AsAPIError(err); ok {
		if retryableStatus(apiErr.Status) {
			return true, apiErr.Error(), fmt.Sprintf("http_%d", apiErr.Status)
		}
		em.emit(ErrorEvent(apiErr.Error()))
		return false, "", ""
	}
	msg := err.Error()
	if isTransientMessage(msg) {
		return true, msg, "transient"
	}
	em.emit(ErrorEvent(msg))
	return false, "", ""
}

func (d *Driver) finalize(ctx context.Context, runID string, em *emitter, logger *zap.Logger) {
	if runID == "" {
		em.emit(ErrorEvent("Stream completed without a run id"))
		return
	}
	em.emit(StatusEvent(PhaseFinalizing, "Fetching results...", map[string]any{"run_id": runID}))

	run, err := d.client.WaitRun(ctx, runID, platform.WaitOptions{
		Interval:    d.cfg.PollInterval,
		MaxAttempts: d.cfg.PollMaxAttempts,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			em.emit(cancelledEvent(ctx.Err()))
		case errors.Is(err, platform.ErrWaitTimeout):
			logger.Error("polling for result timed out", zap.String("run_id", runID), zap.Error(err))
			em.emit(ErrorEvent(platform.ErrWaitTimeout.Error()))
		default:
			logger.Error("failed to fetch result", zap.String("run_id", runID), zap.Error(err))
			em.emit(ErrorEventf("Failed to fetch result: %v", err))
		}
		return
	}

	if run.Status.Failed() {
		msg := "Run " + string(run.Status)
		if detail := run.Error.String(); detail != "" {
			msg += ": " + detail
		}
		logger.Error("run finished without success", zap.String("run_id", runID), zap.String("status", string(run.Status)))
		em.emit(ErrorEvent(msg))
		return
	}
	if run.Result == nil {
		em.emit(ErrorEvent("No result returned from API"))
		return
	}

	answer, reasoning := Reconstruct(run.Result.Answer, run.Result.Reasoning)
	logger.Info("run succeeded", zap.String("run_id", runID), zap.Int("answer_chars", runeLen(answer)),
		zap.Int("reasoning_steps", len(reasoning)))
	em.emit(DoneEvent(runID, answer, reasoning))
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

var transientMarkers = []string{"timeout", "connection", "terminated"}

func isTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isTerminatedMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "terminated")
}

func cancelledEvent(err error) StreamEvent {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorEvent("Research timed out before a result was available")
	}
	return ErrorEvent("Research canceled")
}

// emitter enforces the terminal-event contract on top of a sink.
type emitter struct {
	sink     EventSink
	metrics  *Metrics
	terminal bool
}

func (e *emitter) emit(ev StreamEvent) {
	if e.terminal {
		return
	}
	if ev.IsTerminal() {
		e.terminal = true
	}
	e.metrics.observeEvent(ev)
	e.sink.Emit(ev)
}

func (e *emitter) finish() {
	if !e.terminal {
		e.emit(ErrorEvent("Research ended without a result"))
	}
	e.sink.Close()
}
