// Package research bridges the blocking platform client to streaming HTTP
// clients. Each request runs on its own worker goroutine, bounded by a shared
// pool, and hands normalized events to the request's relay through an
// unbounded queue.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"research-analyzer/internal/catalog"
)

// MaxTopicLength is the longest accepted research topic, in characters.
const MaxTopicLength = 2000

// AnalyzeRequest is one "analyze a topic" call. A nil ToolIDs selects every
// catalog tool; a nil IncludeAcademic means true.
type AnalyzeRequest struct {
	Topic           string
	Engine          string
	ToolIDs         []string
	IncludeAcademic *bool
}

// RunRecord summarizes a finished stream for history.
type RunRecord struct {
	StreamID   string
	RunID      string
	Topic      string
	Engine     string
	Tools      []string
	Status     EventType
	Error      string
	Answer     string
	Reasoning  []ReasoningNode
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// ServiceConfig sizes the worker pool and bounds worker lifetime.
type ServiceConfig struct {
	DefaultEngine string
	PoolSize      int
	StreamTimeout time.Duration
}

// Service validates requests and starts research workers.
type Service struct {
	catalog  *catalog.Catalog
	driver   *Driver
	pool     *semaphore.Weighted
	cfg      ServiceConfig
	recorder Recorder
	metrics  *Metrics
	logger   *zap.Logger
}

// NewService creates a service. recorder and metrics may be nil.
func NewService(cat *catalog.Catalog, driver *Driver, cfg ServiceConfig, recorder Recorder, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	return &Service{
		catalog:  cat,
		driver:   driver,
		pool:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		cfg:      cfg,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "research")),
	}
}

// Catalog returns the engine and tool catalog requests are validated against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// ValidateTopic reports why a topic is unacceptable, or nil.
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("Research topic cannot be empty")
	}
	if n := runeLen(topic); n > MaxTopicLength {
		return fmt.Errorf("Research topic must be at most %d characters (got %d)", MaxTopicLength, n)
	}
	return nil
}

// Analyze validates req and starts a worker for it. Invalid requests yield a
// stream holding a single error event, without contacting the platform.
func (s *Service) Analyze(req AnalyzeRequest) *Stream {
	id := uuid.NewString()
	logger := s.logger.With(zap.String("stream_id", id))

	if err := ValidateTopic(req.Topic); err != nil {
		logger.Warn("rejected research request", zap.Error(err))
		return failedStream(id, err.Error())
	}
	engine := strings.TrimSpace(req.Engine)
	if engine == "" {
		engine = s.cfg.DefaultEngine
	}
	if err := s.catalog.ValidateEngine(engine); err != nil {
		logger.Warn("rejected research request", zap.Error(err))
		return failedStream(id, err.Error())
	}
	toolIDs, dropped := s.catalog.FilterTools(req.ToolIDs)
	if len(dropped) > 0 {
		logger.Warn("ignoring unknown tool ids", zap.Strings("tools", dropped))
	}
	includeAcademic := true
	if req.IncludeAcademic != nil {
		includeAcademic = *req.IncludeAcademic
	}

	job := Job{
		StreamID:        id,
		Topic:           strings.TrimSpace(req.Topic),
		Engine:          engine,
		ToolIDs:         toolIDs,
		IncludeAcademic: includeAcademic,
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.StreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.cfg.StreamTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	stream := newStream(id, cancel)
	logger.Info("starting research", zap.String("engine", engine), zap.Strings("tools", toolIDs),
		zap.Bool("include_academic", includeAcademic), zap.Int("topic_chars", runeLen(job.Topic)))

	go s.work(ctx, job, stream)
	return stream
}

func (s *Service) work(ctx context.Context, job Job, stream *Stream) {
	defer close(stream.workerDone)
	defer stream.cancel()

	sink := s.newRecordingSink(job, stream.handoff)
	if err := s.pool.Acquire(ctx, 1); err != nil {
		em := &emitter{sink: sink, metrics: s.metrics}
		em.emit(cancelledEvent(err))
		em.finish()
		return
	}
	defer s.pool.Release(1)

	s.metrics.workerStarted()
	defer s.metrics.workerStopped()
	s.driver.Run(ctx, job, sink)
}

// recordingSink forwards to the handoff and, on Close, reports the outcome
// to metrics and history.
type recordingSink struct {
	next     EventSink
	svc      *Service
	job      Job
	started  time.Time
	attempts int
	terminal *StreamEvent
	tools    []string
}

func (s *Service) newRecordingSink(job Job, next EventSink) *recordingSink {
	return &recordingSink{next: next, svc: s, job: job, started: time.Now()}
}

func (r *recordingSink) Emit(ev StreamEvent) {
	switch {
	case ev.Type == EventStatus && ev.Phase == PhaseConnecting:
		r.attempts++
	case ev.Type == EventStatus && ev.Phase == PhaseInit:
		if tools, ok := ev.Details["tools"].([]string); ok {
			r.tools = tools
		}
	case ev.IsTerminal():
		copied := ev
		r.terminal = &copied
	}
	r.next.Emit(ev)
}

func (r *recordingSink) Close() {
	r.next.Close()

	finished := time.Now()
	outcome := EventError
	if r.terminal != nil {
		outcome = r.terminal.Type
	}
	r.svc.metrics.observeFinished(outcome, finished.Sub(r.started))

	if r.svc.recorder == nil {
		return
	}
	rec := RunRecord{
		StreamID:   r.job.StreamID,
		Topic:      r.job.Topic,
		Engine:     r.job.Engine,
		Tools:      r.tools,
		Status:     outcome,
		Attempts:   r.attempts,
		StartedAt:  r.started,
		FinishedAt: finished,
	}
	if r.terminal != nil {
		rec.RunID = r.terminal.RunID
		rec.Error = r.terminal.Error
		rec.Answer = r.terminal.Answer
		rec.Reasoning = r.terminal.Reasoning
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.svc.recorder.Record(ctx, rec); err != nil {
		r.svc.logger.Warn("failed to record research run", zap.String("stream_id", r.job.StreamID), zap.Error(err))
	}
}
