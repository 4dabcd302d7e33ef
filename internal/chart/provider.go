package chart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a provider has no chart for an id
var ErrNotFound = errors.New("chart not found")

// MemoryProvider serves charts from a map
type MemoryProvider struct {
	mu     sync.RWMutex
	charts map[string]Context
}

// NewMemoryProvider creates a provider seeded with charts
func NewMemoryProvider(charts ...Context) *MemoryProvider {
	m := &MemoryProvider{charts: make(map[string]Context)}
	for _, c := range charts {
		m.charts[c.ID] = c
	}
	return m
}

// Add registers or replaces a chart
func (m *MemoryProvider) Add(c Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charts[c.ID] = c
}

// GetChart returns the chart for id
func (m *MemoryProvider) GetChart(ctx context.Context, id string) (Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charts[id]
	if !ok {
		return Context{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// FileProvider reads charts from <dir>/<id>.yaml
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider rooted at dir
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// GetChart loads and decodes the chart file for id
func (f *FileProvider) GetChart(ctx context.Context, id string) (Context, error) {
	if id == "" || filepath.Base(id) != id {
		return Context{}, fmt.Errorf("invalid chart id %q", id)
	}

	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(f.dir, id+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return Context{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Context{}, fmt.Errorf("failed to read chart file: %w", err)
	}

	var c Context
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("failed to decode chart %s: %w", id, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, nil
}

// CachingProvider memoizes another provider. Charts are immutable per id,
// so entries never need invalidation.
type CachingProvider struct {
	next  Provider
	cache *lru.Cache[string, Context]
}

// NewCachingProvider wraps next with an LRU of the given size
func NewCachingProvider(next Provider, size int) (*CachingProvider, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, Context](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create chart cache: %w", err)
	}
	return &CachingProvider{next: next, cache: cache}, nil
}

// GetChart returns the cached chart or fetches and stores it
func (p *CachingProvider) GetChart(ctx context.Context, id string) (Context, error) {
	if c, ok := p.cache.Get(id); ok {
		return c, nil
	}
	c, err := p.next.GetChart(ctx, id)
	if err != nil {
		return Context{}, err
	}
	p.cache.Add(id, c)
	return c, nil
}
