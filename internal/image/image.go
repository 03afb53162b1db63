package image

import (
	"context"
	goimage "image"

	"github.com/disintegration/imaging"
)

// Image is a decoded image.
// A single Image may be handed to many requests, it must be treated as read only.
type Image struct {
	goimage.Image

	// Format is the name of the format the image was decoded from, e.g. "jpeg"
	Format string
}

// Decoded returns a private copy of the image converted to the NRGBA colour space
func (i *Image) Decoded() *Image {
	return &Image{
		Image:  imaging.Clone(i.Image),
		Format: i.Format,
	}
}

// Processor turns raw image data into a decoded image.
// Two processors with the same Identifier are considered interchangeable.
// Implementations must not modify data.
type Processor interface {
	Identifier() string
	Process(ctx context.Context, data []byte, opts Options) (*Image, error)
}

// Options are the per-request processing options
type Options struct {
	Processor Processor

	// BackgroundDecode hands the request its own copy of the image, already
	// converted to the working colour space
	BackgroundDecode bool
}

// Request is a pending consumer of a processed image
type Request struct {
	Options Options
}

// NewRequest creates a request for the given processor
func NewRequest(processor Processor) *Request {
	return &Request{
		Options: Options{
			Processor: processor,
		},
	}
}

// Decode sets the BackgroundDecode option
func (r *Request) Decode() *Request {
	r.Options.BackgroundDecode = true
	return r
}

// ProcessorOrDefault returns the processor of the request, falling back to DefaultProcessor
func (o Options) ProcessorOrDefault() Processor {
	if o.Processor == nil {
		return DefaultProcessor
	}

	return o.Processor
}
