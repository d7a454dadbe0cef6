package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loqalabs/recapify/internal/audio"
	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/export"
	"github.com/loqalabs/recapify/internal/pipeline"
)

// Runner executes one pipeline job. *pipeline.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error)
}

// Watcher runs the pipeline for every audio file dropped into a directory
// and writes the results next to each other in an output directory.
type Watcher struct {
	cfg          config.WatcherConfig
	allowed      []string
	runner       Runner
	whisperModel string
	llmModel     string
	logger       *slog.Logger
	fs           *fsnotify.Watcher
	semaphore    chan struct{}
	wg           sync.WaitGroup
	settle       time.Duration
}

func New(cfg config.WatcherConfig, allowed []string, runner Runner, whisperModel, llmModel string, logger *slog.Logger) (*Watcher, error) {
	for _, dir := range []string{cfg.Input, cfg.Output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(cfg.Input); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Input, err)
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Watcher{
		cfg:          cfg,
		allowed:      allowed,
		runner:       runner,
		whisperModel: whisperModel,
		llmModel:     llmModel,
		logger:       logger.With(slog.String("component", "watcher")),
		fs:           fsw,
		semaphore:    make(chan struct{}, maxConcurrent),
		settle:       500 * time.Millisecond,
	}, nil
}

// Start blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("watching for audio files",
		slog.String("input", w.cfg.Input),
		slog.String("output", w.cfg.Output),
		slog.Int("max_concurrent", cap(w.semaphore)))

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("watcher stopped")
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !w.isAudioFile(event.Name) {
				w.logger.Debug("ignoring file", slog.String("path", event.Name))
				continue
			}
			select {
			case w.semaphore <- struct{}{}:
			case <-ctx.Done():
				continue
			}
			w.wg.Add(1)
			go func(path string) {
				defer w.wg.Done()
				defer func() { <-w.semaphore }()
				if err := w.handle(ctx, path); err != nil {
					w.logger.Error("failed to process file", slog.String("path", path), slog.String("error", err.Error()))
				}
			}(event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

func (w *Watcher) handle(ctx context.Context, path string) error {
	if err := w.waitStable(ctx, path); err != nil {
		return err
	}
	// The extension stays in the output names so standup.mp3 and
	// standup.m4a produce separate recaps.
	base := filepath.Base(path)
	res, runErr := w.runner.Run(ctx, pipeline.Job{
		Source:       "watcher",
		InputPath:    path,
		WhisperModel: w.whisperModel,
		LLMModel:     w.llmModel,
		Context:      w.cfg.Context,
	})
	if res.HasTranscript() {
		out := filepath.Join(w.cfg.Output, base+".transcript.txt")
		if err := os.WriteFile(out, []byte(res.Transcript), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	summaryPath := filepath.Join(w.cfg.Output, base+".summary.md")
	if err := os.WriteFile(summaryPath, []byte(res.Summary+"\n"), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	docxPath := filepath.Join(w.cfg.Output, base+".summary.docx")
	if err := export.SummaryDocx("Meeting summary: "+base, res.Summary, docxPath); err != nil {
		w.logger.Warn("failed to write summary docx", slog.String("path", docxPath), slog.String("error", err.Error()))
	}
	w.logger.Info("recap written", slog.String("job_id", res.JobID), slog.String("summary", summaryPath))
	return nil
}

// waitStable returns once the file size stops changing between two checks.
func (w *Watcher) waitStable(ctx context.Context, path string) error {
	last := int64(-1)
	for i := 0; i < 120; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.settle):
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() > 0 && info.Size() == last {
			return nil
		}
		last = info.Size()
	}
	return fmt.Errorf("%s is still being written", path)
}

// isAudioFile accepts supported uploads but skips the normalizer's own
// output, which lands next to the input when no temp dir is set.
func (w *Watcher) isAudioFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(strings.ToLower(name), "_converted.wav") {
		return false
	}
	return audio.SupportedExtension(name, w.allowed)
}
