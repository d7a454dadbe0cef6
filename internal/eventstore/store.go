package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/recapify/internal/config"
	_ "modernc.org/sqlite"
)

// Job statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Job is one pipeline run.
type Job struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Filename        string     `json:"filename"`
	WhisperModel    string     `json:"whisper_model"`
	LLMModel        string     `json:"llm_model"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	TranscriptChars int        `json:"transcript_chars"`
	SummaryChars    int        `json:"summary_chars"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Outcome is recorded when a job stops.
type Outcome struct {
	Status          string
	Error           string
	TranscriptChars int
	SummaryChars    int
}

// Event represents a recorded timeline entry of a job.
type Event struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed job history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    source TEXT,
    filename TEXT,
    whisper_model TEXT,
    llm_model TEXT,
    status TEXT NOT NULL,
    error TEXT,
    transcript_chars INTEGER NOT NULL DEFAULT 0,
    summary_chars INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS job_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    stage TEXT,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether history is kept.
func (s *Store) Persistent() bool {
	return s.db != nil
}

// BeginJob inserts a job row in the running state.
func (s *Store) BeginJob(ctx context.Context, job Job) error {
	if s.db == nil {
		return nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, source, filename, whisper_model, llm_model, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Source, job.Filename, job.WhisperModel, job.LLMModel, StatusRunning, job.CreatedAt.UnixMilli())
	return err
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events(job_id, event_type, stage, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.JobID, evt.Type, evt.Stage, evt.Payload, evt.CreatedAt.UnixMilli())
	return err
}

// FinishJob records the final status of a job.
func (s *Store) FinishJob(ctx context.Context, jobID string, out Outcome) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, transcript_chars = ?, summary_chars = ?, finished_at = ?
		 WHERE job_id = ?`,
		out.Status, out.Error, out.TranscriptChars, out.SummaryChars, s.clock().UnixMilli(), jobID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, source, filename, whisper_model, llm_model, status, error,
		        transcript_chars, summary_chars, created_at, finished_at
		 FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j                        Job
			source, filename, errMsg sql.NullString
			whisperModel, llmModel   sql.NullString
			created                  int64
			finished                 sql.NullInt64
		)
		if err := rows.Scan(&j.ID, &source, &filename, &whisperModel, &llmModel, &j.Status, &errMsg,
			&j.TranscriptChars, &j.SummaryChars, &created, &finished); err != nil {
			return nil, err
		}
		j.Source = source.String
		j.Filename = filename.String
		j.WhisperModel = whisperModel.String
		j.LLMModel = llmModel.String
		j.Error = errMsg.String
		j.CreatedAt = time.UnixMilli(created).UTC()
		if finished.Valid {
			at := time.UnixMilli(finished.Int64).UTC()
			j.FinishedAt = &at
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListJobEvents retrieves up to limit events for a job in insertion order.
func (s *Store) ListJobEvents(ctx context.Context, jobID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, event_type, stage, payload, created_at
		 FROM job_events WHERE job_id = ? ORDER BY id ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			stage   sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Type, &stage, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.Stage = stage.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM job_events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id IN (
			SELECT job_id FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxJobs)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
