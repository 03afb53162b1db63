package cache

import (
	"context"
	"errors"
	"expvar"

	"github.com/whspr/klingfisher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Provider is a cache of raw image data
type Provider interface {
	Get(ctx context.Context, key string) (data []byte, err error)
	Set(ctx context.Context, key string, data []byte) (err error)
	Shutdown()
}

// LoaderFunc loads the data for a key that is not cached yet
type LoaderFunc func(ctx context.Context, key string) (data []byte, err error)

// Errors
var (
	ErrNotFound = errors.New("not found in cache")
)

var (
	cacheHits   = expvar.NewInt("counter_cache_hits")
	cacheMisses = expvar.NewInt("counter_cache_misses")
	cacheLoads  = expvar.NewInt("counter_cache_loads")
)

// Auto is a read-through cache.
// Concurrent misses for the same key share a single load, whose result is stored before it is returned.
type Auto struct {
	Tracer   *tracing.Tracer
	Provider Provider
	Loader   LoaderFunc

	loads singleflight.Group
}

// Get returns the data for key, loading and caching it on a miss
func (a *Auto) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := a.Tracer.Start(ctx, "cache.Auto.Get")
	defer span.End()

	data, err := a.Provider.Get(ctx, key)
	switch {
	case err == nil:
		cacheHits.Add(1)
		span.SetAttributes(attribute.Bool("hit", true))
		return data, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	cacheMisses.Add(1)
	span.SetAttributes(attribute.Bool("hit", false))

	v, err, shared := a.loads.Do(key, func() (interface{}, error) {
		cacheLoads.Add(1)

		data, err := a.Loader(ctx, key)
		if err != nil {
			return nil, err
		}

		if err := a.Provider.Set(ctx, key, data); err != nil {
			return nil, err
		}

		return data, nil
	})
	span.SetAttributes(attribute.Bool("shared", shared))

	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}
