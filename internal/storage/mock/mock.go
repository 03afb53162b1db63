package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/whspr/klingfisher/internal/storage"
)

// Provider implements an in-memory image storage that counts lookups
type Provider struct {
	Data map[string][]byte

	// Gate, if set, is waited on before every lookup returns
	Gate chan struct{}

	mu   sync.Mutex
	gets map[string]int
}

// Get returns the image data for an image id
func (p *Provider) Get(ctx context.Context, id string) ([]byte, error) {
	p.mu.Lock()
	if p.gets == nil {
		p.gets = make(map[string]int)
	}
	p.gets[id]++
	p.mu.Unlock()

	if p.Gate != nil {
		<-p.Gate
	}

	if id == "error" {
		return nil, fmt.Errorf("storage error")
	}

	data, ok := p.Data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return data, nil
}

// Gets returns how many times id was looked up
func (p *Provider) Gets(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.gets[id]
}
