package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/loqalabs/recapify/internal/config"
)

const noContext = "No additional context provided."

// SummaryRequest is one transcript to summarize.
type SummaryRequest struct {
	JobID      string
	Transcript string
	Context    string
	Model      string
}

// Summarizer turns transcripts into summaries with a single generation call.
type Summarizer struct {
	cfg       config.LLMConfig
	generator Generator
	catalog   *Catalog
	logger    *slog.Logger
}

func NewSummarizer(cfg config.LLMConfig, generator Generator, catalog *Catalog, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		cfg:       cfg,
		generator: generator,
		catalog:   catalog,
		logger:    logger.With(slog.String("component", "summarizer")),
	}
}

// BuildPrompt renders the meeting summary prompt.
func BuildPrompt(transcript, extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		extra = noContext
	}
	return "You are given a transcript from a meeting, along with some optional context.\n\n" +
		"Context: " + extra + "\n\n" +
		"The transcript is as follows:\n\n" + transcript + "\n\n" +
		"Please summarize the transcript."
}

func (s *Summarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	opts := OptionsFromConfig(s.cfg, req.Model)
	opts.JobID = req.JobID
	opts.Prompt = BuildPrompt(req.Transcript, req.Context)
	model := opts.Model

	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	if s.catalog != nil {
		if has, known := s.catalog.Has(ctx, model); known && !has {
			return "", &SummarizationError{Model: model, Reason: ReasonModelNotFound, Err: fmt.Errorf("%w: %s", ErrModelNotFound, model)}
		}
	}

	start := time.Now()
	var out strings.Builder
	var completionTokens int
	err := s.generator.Generate(ctx, opts, func(chunk Chunk) error {
		out.WriteString(chunk.Content)
		completionTokens = chunk.CompletionTokens
		return nil
	})
	if err != nil {
		serr := s.classify(ctx, model, err)
		if serr.Reason == ReasonModelNotFound && s.catalog != nil {
			s.catalog.Invalidate()
		}
		return "", serr
	}

	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", &SummarizationError{Model: model, Reason: ReasonDecode, Err: errors.New("inference server returned an empty summary")}
	}
	s.logger.Info("summary generated",
		slog.String("job_id", req.JobID),
		slog.String("model", model),
		slog.Int("completion_tokens", completionTokens),
		slog.Duration("latency", time.Since(start)),
	)
	return summary, nil
}

func (s *Summarizer) classify(ctx context.Context, model string, err error) *SummarizationError {
	var (
		statusErr *StatusError
		decErr    *decodeError
		netErr    net.Error
	)
	reason := ReasonUnreachable
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = ReasonTimeout
		err = fmt.Errorf("no response within %ds: %w", s.cfg.TimeoutSeconds, err)
	case errors.Is(err, ErrModelNotFound):
		reason = ReasonModelNotFound
	case errors.As(err, &decErr):
		reason = ReasonDecode
	case errors.As(err, &statusErr):
		reason = ReasonStatus
	case errors.Is(err, ErrUnavailable), errors.As(err, &netErr):
		reason = ReasonUnreachable
	}
	return &SummarizationError{Model: model, Reason: reason, Err: err}
}
