package model

import (
	"path/filepath"
	"sync"
)

// Loader loads the model pair stored in a directory
type Loader func(dir string) (*Pair, error)

// Cache keeps loaded pairs by model directory, so a directory is read at
// most once. It is safe for concurrent use: every Get returns a new pair
// sharing the loaded model, and cached pairs are never modified.
type Cache struct {
	mu    sync.Mutex
	load  Loader
	pairs map[string]*Pair
	loads int
}

// NewCache returns a cache using load, or Load if load is nil
func NewCache(load Loader) *Cache {
	if load == nil {
		load = Load
	}
	return &Cache{load: load, pairs: make(map[string]*Pair)}
}

// Get returns a pair for dir with opts applied, loading the model on first
// use
func (c *Cache) Get(dir string, opts Options) (*Pair, error) {
	if err := CheckDevice(opts.Device); err != nil {
		return nil, err
	}
	key := filepath.Clean(dir)

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[key]
	if !ok {
		var err error
		p, err = c.load(dir)
		if err != nil {
			return nil, err
		}
		c.loads++
		c.pairs[key] = p
	}
	cp := *p
	if err := cp.Apply(opts); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Loads returns how often a model was read from disk
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
