package redis

import (
	"context"
	"time"

	"github.com/mediocregopher/radix/v4"
	"github.com/whspr/klingfisher/internal/cache"
	"github.com/whspr/klingfisher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// keyPrefix namespaces the raw image data in a shared redis
const keyPrefix = "klingfisher:raw:"

// Provider caches raw image data in redis
type Provider struct {
	client radix.Client
	tracer *tracing.Tracer
	ttl    time.Duration
}

// New connects a pool of poolSize connections to address.
// Entries expire after ttl, a ttl of zero keeps them until redis evicts them.
func New(ctx context.Context, tracer *tracing.Tracer, address string, poolSize int, ttl time.Duration) (*Provider, error) {
	cfg := radix.PoolConfig{
		Size: poolSize,
	}

	client, err := cfg.New(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: client,
		tracer: tracer,
		ttl:    ttl,
	}, nil
}

// Get returns the data cached under key, or cache.ErrNotFound
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	ctx, span := p.tracer.Start(ctx, "redis.Get")
	defer span.End()

	mn := radix.Maybe{Rcv: &data}
	if err = p.client.Do(ctx, radix.Cmd(&mn, "GET", keyPrefix+key)); err != nil {
		return nil, err
	}

	if mn.Null {
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, cache.ErrNotFound
	}

	span.SetAttributes(attribute.Bool("hit", true), attribute.Int("bytes", len(data)))
	return
}

// Set caches data under key
func (p *Provider) Set(ctx context.Context, key string, data []byte) (err error) {
	ctx, span := p.tracer.Start(ctx, "redis.Set")
	span.SetAttributes(attribute.Int("bytes", len(data)))
	defer span.End()

	if p.ttl > 0 {
		return p.client.Do(ctx, radix.FlatCmd(nil, "SET", keyPrefix+key, data, "PX", p.ttl.Milliseconds()))
	}

	return p.client.Do(ctx, radix.FlatCmd(nil, "SET", keyPrefix+key, data))
}

// Shutdown closes the connection pool
func (p *Provider) Shutdown() {
	p.client.Close()
}
