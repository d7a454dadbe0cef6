package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/recapify/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "jobs.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "persistent"
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Persistent() {
		t.Fatal("ephemeral store should not be persistent")
	}
	if err := es.BeginJob(ctx, Job{ID: "a"}); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	if err := es.FinishJob(ctx, "a", Outcome{Status: StatusSucceeded}); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	jobs, err := es.ListJobs(ctx, 10)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("jobs = %v, err = %v", jobs, err)
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{})

	job := Job{ID: "job-1", Source: "web", Filename: "standup.m4a", WhisperModel: "small", LLMModel: "llama3.2"}
	if err := es.BeginJob(ctx, job); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	running, err := es.ListJobs(ctx, 10)
	if err != nil || len(running) != 1 {
		t.Fatalf("list running jobs: %v %+v", err, running)
	}
	if running[0].FinishedAt != nil {
		t.Fatalf("running job has finished_at %v", running[0].FinishedAt)
	}
	raw, err := json.Marshal(running[0])
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["finished_at"]; ok {
		t.Fatalf("running job json carries finished_at: %s", raw)
	}
	for _, evt := range []Event{
		{JobID: "job-1", Type: "job.started"},
		{JobID: "job-1", Type: "audio.normalized", Stage: "normalize", Payload: []byte(`{"duration_ms":30000}`)},
		{JobID: "job-1", Type: "transcript.ready", Stage: "transcribe"},
	} {
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := es.FinishJob(ctx, "job-1", Outcome{Status: StatusPartial, Error: "ollama down", TranscriptChars: 120}); err != nil {
		t.Fatalf("finish job: %v", err)
	}

	jobs, err := es.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.Status != StatusPartial || got.Error != "ollama down" || got.TranscriptChars != 120 || got.Filename != "standup.m4a" {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.FinishedAt == nil || got.FinishedAt.IsZero() {
		t.Fatal("expected finished_at to be set")
	}

	events, err := es.ListJobEvents(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 || events[1].Type != "audio.normalized" || string(events[1].Payload) != `{"duration_ms":30000}` {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := es.FinishJob(ctx, "missing", Outcome{Status: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByDaysAndJobs(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionDays: 1, MaxJobs: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginJob(ctx, Job{ID: "old"}); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{JobID: "old", Type: "job.started"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"newer", "newest"} {
		if err := es.BeginJob(ctx, Job{ID: id}); err != nil {
			t.Fatalf("begin job: %v", err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListJobEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old job events pruned")
	}
	jobs, err := es.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "newest" {
		t.Fatalf("expected only newest job to survive, got %+v", jobs)
	}
}
