package llm

import (
	"context"
	"strconv"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	words := strings.Fields(req.Prompt)
	content := "- Mock summary (" + req.Model + ") of a " + strconv.Itoa(len(words)) + "-word prompt."
	return consumer(Chunk{
		JobID:   req.JobID,
		Content: content,
		Partial: false,
		Latency: 20 * time.Millisecond,
	})
}
