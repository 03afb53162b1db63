package image

import (
	"context"

	"github.com/whspr/klingfisher/internal/cache"
	"github.com/whspr/klingfisher/internal/storage"
	"github.com/whspr/klingfisher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Cache holds raw image data as stored, before decryption or decoding
type Cache = cache.Auto

// NewCache returns a cache that reads missing image data through from storage
func NewCache(tracer *tracing.Tracer, cacheProvider cache.Provider, storageProvider storage.Provider) *Cache {
	return &Cache{
		Tracer:   tracer,
		Provider: cacheProvider,
		Loader: func(ctx context.Context, id string) ([]byte, error) {
			ctx, span := tracer.Start(ctx, "storage.Get")
			span.SetAttributes(attribute.String("id", id))
			defer span.End()

			data, err := storageProvider.Get(ctx, id)
			if err != nil {
				return nil, err
			}

			span.SetAttributes(attribute.Int("bytes", len(data)))
			return data, nil
		},
	}
}
