package pipeline

import (
	"errors"

	"github.com/loqalabs/recapify/internal/audio"
	"github.com/loqalabs/recapify/internal/llm"
	"github.com/loqalabs/recapify/internal/stt"
)

// Error kinds surfaced to users.
const (
	KindConversion    = "conversion"
	KindTranscription = "transcription"
	KindSummarization = "summarization"
	KindInternal      = "internal"
)

// Classify returns the user-facing kind of err and a finer reason.
func Classify(err error) (kind, reason string) {
	var (
		convErr *audio.ConversionError
		sttErr  *stt.TranscriptionError
		llmErr  *llm.SummarizationError
	)
	switch {
	case errors.As(err, &convErr):
		return KindConversion, "conversion"
	case errors.As(err, &sttErr):
		return KindTranscription, sttErr.Reason
	case errors.As(err, &llmErr):
		return KindSummarization, llmErr.Reason
	default:
		return KindInternal, "internal"
	}
}
