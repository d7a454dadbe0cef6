package stt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Model is a whisper model size identifier such as "small" or "large-v3".
type Model string

// Catalog holds the fixed set of selectable models and knows where their
// ggml weight files live.
type Catalog struct {
	dir     string
	models  []Model
	allowed map[Model]struct{}
}

func NewCatalog(modelDir string, names []string) *Catalog {
	c := &Catalog{dir: modelDir, allowed: make(map[Model]struct{}, len(names))}
	for _, n := range names {
		m := Model(strings.ToLower(strings.TrimSpace(n)))
		if m == "" {
			continue
		}
		if _, dup := c.allowed[m]; dup {
			continue
		}
		c.allowed[m] = struct{}{}
		c.models = append(c.models, m)
	}
	return c
}

// Models returns the configured set in configuration order.
func (c *Catalog) Models() []Model {
	return append([]Model(nil), c.models...)
}

// Validate maps a user supplied identifier onto the configured set.
func (c *Catalog) Validate(name string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := c.allowed[m]; !ok {
		return "", &TranscriptionError{
			Model:  Model(name),
			Reason: ReasonUnknownModel,
			Err:    fmt.Errorf("%w %q", ErrUnknownModel, name),
		}
	}
	return m, nil
}

// ModelPath is the ggml weights file for m.
func (c *Catalog) ModelPath(m Model) string {
	return filepath.Join(c.dir, "ggml-"+string(m)+".bin")
}

// Available lists downloaded models. Test fixtures are skipped, as is
// anything not recognisably one of the configured sizes (quantised or
// English-only variants such as "small.en" are kept).
func (c *Catalog) Available() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "ggml-"), ".bin")
		lower := strings.ToLower(name)
		if strings.Contains(lower, "test") || !c.matches(lower) {
			continue
		}
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		names = append(names, lower)
	}
	sort.Strings(names)
	return names, nil
}

// Selectable is the intersection of the configured set and the models on
// disk. When nothing is on disk the configured set is returned unchanged so
// the form stays usable and the missing file surfaces at run time.
func (c *Catalog) Selectable() []Model {
	available, err := c.Available()
	if err != nil || len(available) == 0 {
		return c.Models()
	}
	onDisk := make(map[string]struct{}, len(available))
	for _, a := range available {
		onDisk[a] = struct{}{}
	}
	var out []Model
	for _, m := range c.models {
		if _, ok := onDisk[string(m)]; ok {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return c.Models()
	}
	return out
}

func (c *Catalog) matches(name string) bool {
	for _, m := range c.models {
		if strings.Contains(name, string(m)) {
			return true
		}
	}
	return false
}
