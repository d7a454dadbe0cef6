package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/recapify/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	JobID       string
	Model       string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	JobID            string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// ModelLister is implemented by generators that can enumerate the models the
// backend currently serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

var (
	ErrModelNotFound = errors.New("model not found on inference server")
	ErrUnavailable   = errors.New("inference server unavailable")
)

// Reasons carried by SummarizationError.
const (
	ReasonUnreachable   = "unreachable"
	ReasonStatus        = "status"
	ReasonModelNotFound = "model_not_found"
	ReasonDecode        = "decode"
	ReasonTimeout       = "timeout"
)

type SummarizationError struct {
	Model  string
	Reason string
	Err    error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarization with %s failed (%s): %v", e.Model, e.Reason, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// StatusError is returned by HTTP backends for non-success responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference server returned status %d", e.Code)
	}
	return fmt.Sprintf("inference server returned status %d: %s", e.Code, e.Body)
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig, model string) Request {
	req := Request{
		Model:       cfg.DefaultModel,
		System:      cfg.System,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	if model != "" {
		req.Model = model
	}
	return req
}

// NewGenerator selects the backend named by cfg.Mode.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "ollama":
		return NewOllamaGenerator(cfg.Endpoint), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "gemini":
		return NewGeminiGenerator(cfg.GeminiAPIKeys)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
