package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/recapify/internal/audio"
	"github.com/loqalabs/recapify/internal/eventstore"
	"github.com/loqalabs/recapify/internal/llm"
	"github.com/loqalabs/recapify/internal/protocol"
	"github.com/loqalabs/recapify/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Stage names used in events, metrics and spans.
const (
	StageValidate   = "validate"
	StageNormalize  = "normalize"
	StageTranscribe = "transcribe"
	StagePersist    = "persist"
	StageSummarize  = "summarize"
)

type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

type ModelValidator interface {
	Validate(name string) (stt.Model, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req llm.SummaryRequest) (string, error)
}

// Recorder persists job history. *eventstore.Store satisfies it.
type Recorder interface {
	BeginJob(ctx context.Context, job eventstore.Job) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
	FinishJob(ctx context.Context, jobID string, out eventstore.Outcome) error
}

// Publisher broadcasts job events. *bus.Client satisfies it.
type Publisher interface {
	PublishJobEvent(evt protocol.JobEvent) error
}

// Deps are the collaborators of a Service. Recorder and Publisher are optional.
type Deps struct {
	Normalizer  Normalizer
	Models      ModelValidator
	Transcriber stt.Transcriber
	Summarizer  Summarizer
	Recorder    Recorder
	Publisher   Publisher
}

// Job is one request to summarize an audio file.
type Job struct {
	ID           string
	Source       string
	InputPath    string
	Filename     string
	WhisperModel string
	LLMModel     string
	Context      string
}

// Result is what a job produced. After a summarization failure the
// transcript fields are still populated.
type Result struct {
	JobID          string
	Filename       string
	WhisperModel   stt.Model
	LLMModel       string
	Transcript     string
	TranscriptPath string
	Summary        string
	AudioDuration  time.Duration
	StartedAt      time.Time
	FinishedAt     time.Time
}

// HasTranscript reports whether the transcription stage completed.
func (r Result) HasTranscript() bool { return r.Transcript != "" }

// Service runs normalize, transcribe, persist and summarize in order.
// Concurrent Runs are not coordinated; they share the transcript path.
type Service struct {
	deps           Deps
	transcriptPath string
	defaultLLM     string
	logger         *slog.Logger
	tracer         trace.Tracer
	jobs           metric.Int64Counter
	stageDuration  metric.Float64Histogram
	stageErrors    metric.Int64Counter
	now            func() time.Time
}

func New(deps Deps, transcriptPath, defaultLLM string, logger *slog.Logger) *Service {
	s := &Service{
		deps:           deps,
		transcriptPath: transcriptPath,
		defaultLLM:     defaultLLM,
		logger:         logger.With(slog.String("component", "pipeline")),
		tracer:         otel.Tracer("github.com/loqalabs/recapify/pipeline"),
		now:            time.Now,
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/recapify/pipeline")
	var err error
	if s.jobs, err = meter.Int64Counter("recap.jobs",
		metric.WithDescription("Pipeline jobs by final status")); err != nil {
		return err
	}
	if s.stageDuration, err = meter.Float64Histogram("recap.stage.duration_ms",
		metric.WithDescription("Wall time per pipeline stage"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	if s.stageErrors, err = meter.Int64Counter("recap.stage.errors",
		metric.WithDescription("Pipeline stage failures by reason")); err != nil {
		return err
	}
	return nil
}

// TranscriptPath is the shared transcript file every job overwrites.
func (s *Service) TranscriptPath() string { return s.transcriptPath }

func (s *Service) Run(ctx context.Context, job Job) (Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Filename == "" {
		job.Filename = filepath.Base(job.InputPath)
	}
	if job.LLMModel == "" {
		job.LLMModel = s.defaultLLM
	}
	res := Result{JobID: job.ID, Filename: job.Filename, LLMModel: job.LLMModel, StartedAt: s.now()}
	log := s.logger.With(slog.String("job_id", job.ID))

	ctx, span := s.tracer.Start(ctx, "recap.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.source", job.Source),
		attribute.String("whisper.model", job.WhisperModel),
		attribute.String("llm.model", job.LLMModel),
	))
	defer span.End()

	s.begin(ctx, job)
	log.Info("job started", slog.String("file", job.Filename), slog.String("whisper_model", job.WhisperModel), slog.String("llm_model", job.LLMModel))

	model, err := s.deps.Models.Validate(job.WhisperModel)
	if err != nil {
		return s.fail(ctx, span, log, job, res, StageValidate, err)
	}
	res.WhisperModel = model

	var wavPath string
	err = s.stage(ctx, StageNormalize, func(ctx context.Context) error {
		var err error
		wavPath, err = s.deps.Normalizer.Normalize(ctx, job.InputPath)
		return err
	})
	if wavPath != "" {
		defer func() {
			if err := os.Remove(wavPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("failed to remove normalized audio", slog.String("path", wavPath), slogError(err))
			}
		}()
	}
	if err != nil {
		return s.fail(ctx, span, log, job, res, StageNormalize, err)
	}
	if format, err := audio.Probe(wavPath); err == nil {
		res.AudioDuration = format.Duration
	}
	s.emit(ctx, protocol.JobEvent{JobID: job.ID, Type: protocol.EventAudioNormalized, Stage: StageNormalize, DurationMS: res.AudioDuration.Milliseconds()})

	var transcript stt.Result
	err = s.stage(ctx, StageTranscribe, func(ctx context.Context) error {
		var err error
		transcript, err = s.deps.Transcriber.Transcribe(ctx, wavPath, model)
		return err
	})
	if err != nil {
		return s.fail(ctx, span, log, job, res, StageTranscribe, err)
	}

	err = s.stage(ctx, StagePersist, func(context.Context) error {
		return WriteTranscript(s.transcriptPath, transcript.Text)
	})
	if err != nil {
		return s.fail(ctx, span, log, job, res, StagePersist, err)
	}
	res.Transcript = transcript.Text
	res.TranscriptPath = s.transcriptPath
	s.emit(ctx, protocol.JobEvent{JobID: job.ID, Type: protocol.EventTranscriptReady, Stage: StageTranscribe, TranscriptChars: len(res.Transcript)})
	log.Info("transcript ready", slog.Int("chars", len(res.Transcript)), slog.Duration("latency", transcript.Duration))

	var summary string
	err = s.stage(ctx, StageSummarize, func(ctx context.Context) error {
		var err error
		summary, err = s.deps.Summarizer.Summarize(ctx, llm.SummaryRequest{
			JobID:      job.ID,
			Transcript: res.Transcript,
			Context:    job.Context,
			Model:      job.LLMModel,
		})
		return err
	})
	if err != nil {
		return s.fail(ctx, span, log, job, res, StageSummarize, err)
	}
	res.Summary = summary
	res.FinishedAt = s.now()
	s.emit(ctx, protocol.JobEvent{JobID: job.ID, Type: protocol.EventSummaryReady, Stage: StageSummarize, SummaryChars: len(summary)})
	s.finish(ctx, job.ID, eventstore.Outcome{
		Status:          eventstore.StatusSucceeded,
		TranscriptChars: len(res.Transcript),
		SummaryChars:    len(res.Summary),
	})
	log.Info("job finished", slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// stage times fn under its own span and records its duration.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "recap."+name)
	defer span.End()
	start := s.now()
	err := fn(ctx)
	if s.stageDuration != nil {
		s.stageDuration.Record(ctx, float64(s.now().Sub(start).Milliseconds()), metric.WithAttributes(attribute.String("stage", name)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) fail(ctx context.Context, span trace.Span, log *slog.Logger, job Job, res Result, stage string, err error) (Result, error) {
	kind, reason := Classify(err)
	res.FinishedAt = s.now()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.stageErrors != nil {
		s.stageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage), attribute.String("reason", reason)))
	}
	s.emit(ctx, protocol.JobEvent{JobID: job.ID, Type: protocol.EventJobFailed, Stage: stage, ErrorKind: kind, Error: err.Error()})

	status := eventstore.StatusFailed
	if res.HasTranscript() {
		status = eventstore.StatusPartial
	}
	s.finish(ctx, job.ID, eventstore.Outcome{Status: status, Error: err.Error(), TranscriptChars: len(res.Transcript)})
	log.Warn("job failed", slog.String("stage", stage), slog.String("kind", kind), slog.String("reason", reason), slogError(err))
	return res, err
}

func (s *Service) begin(ctx context.Context, job Job) {
	if s.deps.Recorder != nil {
		err := s.deps.Recorder.BeginJob(ctx, eventstore.Job{
			ID:           job.ID,
			Source:       job.Source,
			Filename:     job.Filename,
			WhisperModel: job.WhisperModel,
			LLMModel:     job.LLMModel,
		})
		if err != nil {
			s.logger.Warn("failed to record job", slog.String("job_id", job.ID), slogError(err))
		}
	}
	s.emit(ctx, protocol.JobEvent{
		JobID:        job.ID,
		Type:         protocol.EventJobStarted,
		Source:       job.Source,
		Filename:     job.Filename,
		WhisperModel: job.WhisperModel,
		LLMModel:     job.LLMModel,
	})
}

func (s *Service) finish(ctx context.Context, jobID string, out eventstore.Outcome) {
	if s.jobs != nil {
		s.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", out.Status)))
	}
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.FinishJob(ctx, jobID, out); err != nil {
		s.logger.Warn("failed to finish job record", slog.String("job_id", jobID), slogError(err))
	}
}

// emit stores evt and publishes it. Neither failure affects the job.
func (s *Service) emit(ctx context.Context, evt protocol.JobEvent) {
	evt.Timestamp = s.now().UTC()
	if s.deps.Recorder != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			err = s.deps.Recorder.AppendEvent(ctx, eventstore.Event{
				JobID:     evt.JobID,
				Type:      evt.Type,
				Stage:     evt.Stage,
				Payload:   payload,
				CreatedAt: evt.Timestamp,
			})
		}
		if err != nil {
			s.logger.Warn("failed to record job event", slog.String("job_id", evt.JobID), slog.String("type", evt.Type), slogError(err))
		}
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishJobEvent(evt); err != nil {
			s.logger.Warn("failed to publish job event", slog.String("job_id", evt.JobID), slog.String("type", evt.Type), slogError(err))
		}
	}
}

// WriteTranscript replaces path with text through a temp file in the same
// directory, so readers see either the old or the new transcript.
func WriteTranscript(path, text string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("create transcript temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
