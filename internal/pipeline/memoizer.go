package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/whspr/klingfisher/internal/image"
	"github.com/whspr/klingfisher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNoImage is returned when a processor neither produced an image nor an error
var ErrNoImage = errors.New("processor returned no image")

// ProcessingError is the failure of a single processor.
// Every request sharing the processor identifier receives the same ProcessingError.
type ProcessingError struct {
	Identifier string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("error processing image with processor %q: %s", e.Identifier, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

type memoized struct {
	image *image.Image
	err   error
}

// memoizer runs every distinct processor at most once over the same data.
// It belongs to a single run and is not safe for concurrent use.
type memoizer struct {
	tracer      *tracing.Tracer
	data        []byte
	results     map[string]memoized
	invocations int
}

func newMemoizer(tracer *tracing.Tracer, data []byte) *memoizer {
	return &memoizer{
		tracer:  tracer,
		data:    data,
		results: make(map[string]memoized),
	}
}

// resolve returns the image for a request, reusing the result of an earlier
// request with the same processor identifier
func (m *memoizer) resolve(ctx context.Context, req *image.Request) (*image.Image, error) {
	processor := req.Options.ProcessorOrDefault()
	identifier := processor.Identifier()

	result, ok := m.results[identifier]
	if !ok {
		result = m.invoke(ctx, identifier, processor, req.Options)
		m.results[identifier] = result
	}

	if result.err != nil {
		return nil, result.err
	}

	// The shared image is never handed out for modification
	if req.Options.BackgroundDecode {
		return decoded(identifier, result.image)
	}

	return result.image, nil
}

// decoded returns a private copy of img, a failing copy only fails the request asking for it
func decoded(identifier string, img *image.Image) (copied *image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			copied, err = nil, &ProcessingError{identifier, fmt.Errorf("error copying decoded image: panic: %v", r)}
		}
	}()

	return img.Decoded(), nil
}

func (m *memoizer) invoke(ctx context.Context, identifier string, processor image.Processor, opts image.Options) (result memoized) {
	ctx, span := m.tracer.Start(ctx, "pipeline.transform")
	span.SetAttributes(attribute.String("processor", identifier))
	defer span.End()

	m.invocations++
	transformInvocations.Add(1)

	defer func() {
		if r := recover(); r != nil {
			result = memoized{err: &ProcessingError{identifier, fmt.Errorf("panic: %v", r)}}
		}

		if result.err != nil {
			transformFailures.Add(1)
			span.SetStatus(codes.Error, result.err.Error())
		}
	}()

	img, err := processor.Process(ctx, m.data, opts)
	switch {
	case err != nil:
		return memoized{err: &ProcessingError{identifier, err}}
	case img == nil || img.Image == nil:
		return memoized{err: &ProcessingError{identifier, ErrNoImage}}
	}

	return memoized{image: img}
}
