package image

import (
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// Errors
var (
	ErrInvalidSize = errors.New("invalid size")
)

// Resizing scales the image to fill the given size, cropping from the center
type Resizing struct {
	Width  int
	Height int
}

// Identifier returns the identifier of the filter
func (r Resizing) Identifier() string {
	return fmt.Sprintf("klingfisher.resize(%dx%d)", r.Width, r.Height)
}

// Filter resizes the image
func (r Resizing) Filter(img *Image) (*Image, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, ErrInvalidSize
	}

	return &Image{
		Image:  imaging.Fill(img.Image, r.Width, r.Height, imaging.Center, imaging.Lanczos),
		Format: img.Format,
	}, nil
}

// Grayscale turns the image into grayscale
type Grayscale struct{}

// Identifier returns the identifier of the filter
func (Grayscale) Identifier() string {
	return "klingfisher.grayscale"
}

// Filter desaturates the image
func (Grayscale) Filter(img *Image) (*Image, error) {
	return &Image{
		Image:  imaging.Grayscale(img.Image),
		Format: img.Format,
	}, nil
}

// Blur applies a gaussian blur to the image
type Blur struct {
	Sigma float64
}

// Identifier returns the identifier of the filter
func (b Blur) Identifier() string {
	return fmt.Sprintf("klingfisher.blur(%g)", b.Sigma)
}

// Filter blurs the image
func (b Blur) Filter(img *Image) (*Image, error) {
	return &Image{
		Image:  imaging.Blur(img.Image, b.Sigma),
		Format: img.Format,
	}, nil
}
