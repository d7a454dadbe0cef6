package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// failureTTL bounds how long a failed listing is remembered, so a hung
// server costs one tags timeout per window instead of one per caller.
const failureTTL = 10 * time.Second

// Catalog caches the model list reported by the inference server.
type Catalog struct {
	lister ModelLister
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu       sync.Mutex
	models   []string
	fetched  time.Time
	lastErr  error
	failedAt time.Time
}

// NewCatalog returns a catalog over g. Generators that cannot enumerate
// models yield a catalog that always reports ErrUnavailable.
func NewCatalog(g Generator, ttl time.Duration) *Catalog {
	lister, _ := g.(ModelLister)
	return &Catalog{lister: lister, ttl: ttl, now: time.Now}
}

// Models returns the cached list, refreshing it once the TTL has elapsed.
// Concurrent callers share one refresh and each stops waiting when its own
// ctx is done. A failure is remembered for failureTTL.
func (c *Catalog) Models(ctx context.Context) ([]string, error) {
	if c.lister == nil {
		return nil, ErrUnavailable
	}
	if models, ok, err := c.cached(); ok {
		return models, err
	}

	ch := c.group.DoChan("models", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return append([]string(nil), r.Val.([]string)...), nil
	}
}

func (c *Catalog) cached() ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.models != nil && now.Sub(c.fetched) < c.ttl {
		return append([]string(nil), c.models...), true, nil
	}
	if c.lastErr != nil && now.Sub(c.failedAt) < min(c.ttl, failureTTL) {
		return nil, true, c.lastErr
	}
	return nil, false, nil
}

func (c *Catalog) refresh(ctx context.Context) ([]string, error) {
	models, err := c.lister.ListModels(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err
		c.failedAt = c.now()
		return nil, err
	}
	sort.Strings(models)
	c.models = models
	c.fetched = c.now()
	c.lastErr = nil
	return models, nil
}

// Has reports whether name is served. The second result is false when the
// server could not be asked, in which case the first result is meaningless.
func (c *Catalog) Has(ctx context.Context, name string) (bool, bool) {
	models, err := c.Models(ctx)
	if err != nil {
		return false, false
	}
	return containsModel(models, name), true
}

// Invalidate drops the cached list.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.models = nil
	c.lastErr = nil
	c.mu.Unlock()
}

// Fallback is the list offered when the server cannot be reached.
func Fallback(models []string, defaultModel string) []string {
	out := append([]string(nil), models...)
	if defaultModel != "" && !containsModel(out, defaultModel) {
		out = append([]string{defaultModel}, out...)
	}
	return out
}

// containsModel matches exact names and names with an implicit ":latest".
func containsModel(models []string, name string) bool {
	name = strings.TrimSpace(name)
	for _, m := range models {
		if m == name || strings.TrimSuffix(m, ":latest") == name || m == strings.TrimSuffix(name, ":latest") {
			return true
		}
	}
	return false
}
