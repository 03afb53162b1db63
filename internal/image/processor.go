package image

import (
	"bytes"
	"context"
	"fmt"
	goimage "image"
	"strings"

	// Formats understood by DefaultProcessor
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/klauspost/compress/zstd"
)

// identifierSeparator joins the identifiers of chained processors
const identifierSeparator = "|>"

// DefaultProcessor decodes the data without changing it
var DefaultProcessor Processor = defaultProcessor{}

type defaultProcessor struct{}

func (defaultProcessor) Identifier() string {
	return ""
}

func (defaultProcessor) Process(ctx context.Context, data []byte, opts Options) (*Image, error) {
	img, format, err := goimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	return &Image{
		Image:  img,
		Format: format,
	}, nil
}

// Filter transforms an already decoded image
type Filter interface {
	Identifier() string
	Filter(img *Image) (*Image, error)
}

// Chain returns a processor that runs base, followed by the given filters in order
func Chain(base Processor, filters ...Filter) Processor {
	if base == nil {
		base = DefaultProcessor
	}

	if c, ok := base.(*chain); ok {
		return &chain{
			base:    c.base,
			filters: append(append([]Filter{}, c.filters...), filters...),
		}
	}

	return &chain{
		base:    base,
		filters: append([]Filter{}, filters...),
	}
}

type chain struct {
	base    Processor
	filters []Filter
}

func (c *chain) Identifier() string {
	identifiers := make([]string, 0, len(c.filters)+1)
	if id := c.base.Identifier(); id != "" {
		identifiers = append(identifiers, id)
	}

	for _, f := range c.filters {
		identifiers = append(identifiers, f.Identifier())
	}

	return strings.Join(identifiers, identifierSeparator)
}

func (c *chain) Process(ctx context.Context, data []byte, opts Options) (*Image, error) {
	img, err := c.base.Process(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	for _, f := range c.filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err = f.Filter(img)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Identifier(), err)
		}
	}

	return img, nil
}

var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// Decompressing returns a processor that inflates zstd compressed data before handing it to next
func Decompressing(next Processor) Processor {
	if next == nil {
		next = DefaultProcessor
	}

	return &decompressing{next}
}

type decompressing struct {
	next Processor
}

func (d *decompressing) Identifier() string {
	if id := d.next.Identifier(); id != "" {
		return "klingfisher.zstd" + identifierSeparator + id
	}

	return "klingfisher.zstd"
}

func (d *decompressing) Process(ctx context.Context, data []byte, opts Options) (*Image, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("error decompressing image data: %w", err)
	}

	return d.next.Process(ctx, raw, opts)
}
