package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/recapify/internal/audio"
	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/eventstore"
	"github.com/loqalabs/recapify/internal/llm"
	"github.com/loqalabs/recapify/internal/pipeline"
	"github.com/loqalabs/recapify/internal/stt"
)

// Components are the pipeline collaborators built from one configuration.
// The server and the CLI share them.
type Components struct {
	Normalizer  *audio.Normalizer
	Whisper     *stt.Catalog
	Transcriber stt.Transcriber
	Generator   llm.Generator
	LLMModels   *llm.Catalog
	Summarizer  *llm.Summarizer
	Store       *eventstore.Store
	Pipeline    *pipeline.Service
}

// Build constructs every component. pub may be nil when no bus is configured.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, pub pipeline.Publisher) (*Components, error) {
	normalizer, err := audio.New(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio normalizer: %w", err)
	}

	catalog := stt.NewCatalog(cfg.Whisper.ModelDir, cfg.Whisper.Models)
	var transcriber stt.Transcriber
	switch cfg.Whisper.Mode {
	case "mock":
		transcriber = stt.NewMockTranscriber()
	default:
		inv, err := stt.NewWhisperInvoker(cfg.Whisper, catalog)
		if err != nil {
			return nil, fmt.Errorf("whisper invoker: %w", err)
		}
		transcriber = inv
	}

	generator, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm generator: %w", err)
	}
	models := llm.NewCatalog(generator, time.Duration(cfg.LLM.CatalogTTLSeconds)*time.Second)
	summarizer := llm.NewSummarizer(cfg.LLM, generator, models, logger)

	store, err := eventstore.Open(ctx, cfg.EventStore, logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	deps := pipeline.Deps{
		Normalizer:  normalizer,
		Models:      catalog,
		Transcriber: transcriber,
		Summarizer:  summarizer,
		Recorder:    store,
		Publisher:   pub,
	}

	return &Components{
		Normalizer:  normalizer,
		Whisper:     catalog,
		Transcriber: transcriber,
		Generator:   generator,
		LLMModels:   models,
		Summarizer:  summarizer,
		Store:       store,
		Pipeline:    pipeline.New(deps, cfg.Transcript.Path, cfg.LLM.DefaultModel, logger),
	}, nil
}

// Close releases the event store.
func (c *Components) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
