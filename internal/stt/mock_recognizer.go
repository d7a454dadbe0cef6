package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type mockTranscriber struct{}

func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, audioPath string, model Model) (Result, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return Result{}, &TranscriptionError{Model: model, Reason: ReasonExit, Err: err}
	}
	return Result{
		Text:  fmt.Sprintf("[mock transcript of %s, %d bytes, model=%s]", filepath.Base(audioPath), info.Size(), model),
		Model: model,
	}, nil
}
