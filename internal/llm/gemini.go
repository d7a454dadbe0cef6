package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// geminiGenerator calls the hosted Gemini API. Each configured key is tried
// at most once per request; a key that is rate limited hands over to the next.
type geminiGenerator struct {
	keys    []string
	baseURL string
	mu      sync.Mutex
	current int
}

func NewGeminiGenerator(keys []string) (Generator, error) {
	var cleaned []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("gemini requires at least one api key")
	}
	return &geminiGenerator{keys: cleaned}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	var lastErr error
	for range g.keys {
		key := g.key()
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      key,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
		})
		if err != nil {
			lastErr = fmt.Errorf("create gemini client: %w", err)
			g.rotate()
			continue
		}

		result, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if rateLimited(err) {
				lastErr = err
				g.rotate()
				continue
			}
			if mentionsNotFound(err.Error()) {
				return fmt.Errorf("%w: %w", ErrModelNotFound, err)
			}
			return fmt.Errorf("%w: generate content: %w", ErrUnavailable, err)
		}

		var text strings.Builder
		if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
			for _, part := range result.Candidates[0].Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
		}
		if text.Len() == 0 {
			return &decodeError{err: errors.New("empty response from gemini")}
		}
		return consumer(Chunk{
			JobID:   req.JobID,
			Content: text.String(),
			Latency: time.Since(start),
		})
	}
	return fmt.Errorf("%w: all gemini api keys exhausted: %w", ErrUnavailable, lastErr)
}

func (g *geminiGenerator) key() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[g.current]
}

func (g *geminiGenerator) rotate() {
	g.mu.Lock()
	g.current = (g.current + 1) % len(g.keys)
	g.mu.Unlock()
}

func rateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
