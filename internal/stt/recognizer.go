package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result captures transcriber output.
type Result struct {
	Text     string
	Model    Model
	Duration time.Duration
}

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, model Model) (Result, error)
}

// ErrUnknownModel is returned for model identifiers outside the configured set.
var ErrUnknownModel = errors.New("unknown whisper model")

// Reasons carried by TranscriptionError.
const (
	ReasonUnknownModel  = "unknown_model"
	ReasonMissingModel  = "missing_model"
	ReasonNotExecutable = "not_executable"
	ReasonExit          = "exit"
	ReasonTimeout       = "timeout"
	ReasonEmptyOutput   = "empty_output"
)

type TranscriptionError struct {
	Model  Model
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("transcription failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription with %s failed (%s): %v", e.Model, e.Reason, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
