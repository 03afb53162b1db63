package memory

import (
	"context"
	"sync"

	"github.com/whspr/klingfisher/internal/cache"
)

// Provider implements a simple in-memory cache.
// Stored data is copied in and out so callers can never alias the cached bytes.
type Provider struct {
	cache map[string][]byte
	mutex sync.RWMutex
}

// New returns a new Provider instance
func New() *Provider {
	return &Provider{
		cache: make(map[string][]byte),
	}
}

// Get returns an object from the cache if it exists
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	cached, exists := p.cache[key]
	if !exists {
		return nil, cache.ErrNotFound
	}

	return append([]byte(nil), cached...), nil
}

// Set adds an object to the cache
func (p *Provider) Set(ctx context.Context, key string, data []byte) (err error) {
	stored := append([]byte(nil), data...)

	p.mutex.Lock()
	p.cache[key] = stored
	p.mutex.Unlock()

	return nil
}

// Len returns the number of cached objects
func (p *Provider) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return len(p.cache)
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {}
