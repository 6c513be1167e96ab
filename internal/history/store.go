// Package history keeps a SQLite record of finished research runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"research-analyzer/internal/research"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// Fixed-width UTC timestamps sort correctly as text.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

var ErrNotFound = errors.New("research run not found")

// Record is one stored run. List leaves Answer and Reasoning empty.
type Record struct {
	ID              string          `json:"id"`
	StreamID        string          `json:"stream_id"`
	RunID           string          `json:"run_id,omitempty"`
	Topic           string          `json:"topic"`
	Engine          string          `json:"engine"`
	Tools           []string        `json:"tools"`
	Status          string          `json:"status"`
	Error           string          `json:"error,omitempty"`
	Answer          string          `json:"answer,omitempty"`
	Reasoning       json.RawMessage `json:"reasoning,omitempty"`
	Attempts        int             `json:"attempts"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	DurationSeconds float64         `json:"duration_seconds"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("history db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS research_runs (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL,
			engine TEXT NOT NULL,
			tools TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			answer TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '[]',
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at_utc TEXT NOT NULL,
			finished_at_utc TEXT NOT NULL,
			deleted_at_utc TEXT
		);`,
		"CREATE INDEX IF NOT EXISTS idx_research_runs_active ON research_runs(deleted_at_utc, finished_at_utc);",
		"CREATE INDEX IF NOT EXISTS idx_research_runs_stream ON research_runs(stream_id);",
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record stores a finished run.
func (s *Store) Record(ctx context.Context, rec research.RunRecord) error {
	tools := rec.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	reasoning := rec.Reasoning
	if reasoning == nil {
		reasoning = []research.ReasoningNode{}
	}
	reasoningJSON, err := json.Marshal(reasoning)
	if err != nil {
		return fmt.Errorf("encode reasoning: %w", err)
	}

	started := rec.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_runs (id, stream_id, run_id, topic, engine, tools, status, error, answer, reasoning, attempts, started_at_utc, finished_at_utc, deleted_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		uuid.NewString(), rec.StreamID, rec.RunID, rec.Topic, rec.Engine, string(toolsJSON), string(rec.Status),
		rec.Error, rec.Answer, string(reasoningJSON), rec.Attempts,
		started.UTC().Format(timeLayout), finished.UTC().Format(timeLayout),
	)
	return err
}

// List returns the most recently finished runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, stream_id, run_id, topic, engine, tools, status, error, attempts, started_at_utc, finished_at_utc
		FROM research_runs
		WHERE deleted_at_utc IS NULL
		ORDER BY finished_at_utc DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var tools, started, finished string
		if err := rows.Scan(&r.ID, &r.StreamID, &r.RunID, &r.Topic, &r.Engine, &tools, &r.Status, &r.Error, &r.Attempts, &started, &finished); err != nil {
			return nil, err
		}
		r.fill(tools, started, finished)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns one run by record id or stream id, including its answer and
// reasoning.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	var tools, reasoning, started, finished string
	err := s.db.QueryRowContext(ctx, `SELECT id, stream_id, run_id, topic, engine, tools, status, error, answer, reasoning, attempts, started_at_utc, finished_at_utc
		FROM research_runs
		WHERE (id=? OR stream_id=?) AND deleted_at_utc IS NULL
		LIMIT 1`, id, id).Scan(
		&r.ID, &r.StreamID, &r.RunID, &r.Topic, &r.Engine, &tools, &r.Status, &r.Error, &r.Answer, &reasoning, &r.Attempts, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	r.fill(tools, started, finished)
	r.Reasoning = json.RawMessage(reasoning)
	return r, nil
}

// Delete hides a run from List and Get.
func (s *Store) Delete(ctx context.Context, id string) error {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `UPDATE research_runs SET deleted_at_utc=? WHERE (id=? OR stream_id=?) AND deleted_at_utc IS NULL`, now, id, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Record) fill(tools, started, finished string) {
	r.Tools = []string{}
	_ = json.Unmarshal([]byte(tools), &r.Tools)
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt, _ = time.Parse(timeLayout, finished)
	if !r.StartedAt.IsZero() && r.FinishedAt.After(r.StartedAt) {
		r.DurationSeconds = r.FinishedAt.Sub(r.StartedAt).Seconds()
	}
}
