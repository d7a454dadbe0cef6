package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/llm"
	"github.com/loqalabs/recapify/internal/pipeline"
)

type fakeRunner struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	err := f.err
	f.mu.Unlock()
	res := pipeline.Result{JobID: "job", Transcript: "transcript of " + filepath.Base(job.InputPath)}
	if err != nil {
		return res, err
	}
	res.Summary = "## Summary\n- done"
	return res, nil
}

func newWatcher(t *testing.T, runner Runner) (*Watcher, config.WatcherConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.WatcherConfig{
		Input:         filepath.Join(dir, "inbox"),
		Output:        filepath.Join(dir, "recaps"),
		MaxConcurrent: 2,
		Context:       "weekly sync",
	}
	w, err := New(cfg, []string{".wav", ".mp3"}, runner, "small", "llama3.2", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.settle = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Stop() })
	return w, cfg
}

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
	return nil
}

func startWatcher(t *testing.T, w *Watcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return cancel
}

func TestWatcherProcessesDroppedAudio(t *testing.T) {
	runner := &fakeRunner{}
	w, cfg := newWatcher(t, runner)
	startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(cfg.Input, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Input, "standup.wav"), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := string(waitForFile(t, filepath.Join(cfg.Output, "standup.wav.transcript.txt"))); got != "transcript of standup.wav" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if got := string(waitForFile(t, filepath.Join(cfg.Output, "standup.wav.summary.md"))); got != "## Summary\n- done\n" {
		t.Fatalf("unexpected summary %q", got)
	}
	waitForFile(t, filepath.Join(cfg.Output, "standup.wav.summary.docx"))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(runner.jobs))
	}
	job := runner.jobs[0]
	if job.Source != "watcher" || job.WhisperModel != "small" || job.LLMModel != "llama3.2" || job.Context != "weekly sync" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestWatcherWritesTranscriptWhenSummaryFails(t *testing.T) {
	runner := &fakeRunner{err: &llm.SummarizationError{Model: "llama3.2", Reason: llm.ReasonUnreachable, Err: errors.New("connection refused")}}
	w, cfg := newWatcher(t, runner)
	startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(cfg.Input, "retro.mp3"), []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, filepath.Join(cfg.Output, "retro.mp3.transcript.txt"))
	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(cfg.Output, "retro.mp3.summary.md")); !os.IsNotExist(err) {
		t.Fatal("summary must not be written when summarization fails")
	}
}

func TestWatcherKeepsSameStemRecapsApart(t *testing.T) {
	runner := &fakeRunner{}
	w, cfg := newWatcher(t, runner)
	startWatcher(t, w)

	for _, name := range []string{"standup.mp3", "standup.wav"} {
		if err := os.WriteFile(filepath.Join(cfg.Input, name), []byte("audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"standup.mp3", "standup.wav"} {
		got := string(waitForFile(t, filepath.Join(cfg.Output, name+".transcript.txt")))
		if got != "transcript of "+name {
			t.Fatalf("%s: unexpected transcript %q", name, got)
		}
		waitForFile(t, filepath.Join(cfg.Output, name+".summary.md"))
	}
}

func TestIsAudioFile(t *testing.T) {
	w := &Watcher{allowed: []string{".wav", ".mp3", ".m4a"}}
	tests := []struct {
		path string
		want bool
	}{
		{"/in/standup.wav", true},
		{"/in/Standup.M4A", true},
		{"/in/standup_converted.wav", false},
		{"/in/standup-123456_converted.wav", false},
		{"/in/.partial.mp3", false},
		{"/in/notes.txt", false},
	}
	for _, tt := range tests {
		if got := w.isAudioFile(tt.path); got != tt.want {
			t.Errorf("isAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
