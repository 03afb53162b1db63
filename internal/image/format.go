package image

import (
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// OutputFormat is the image format to output to
type OutputFormat int

const (
	// JPEG represents the JPEG format
	JPEG OutputFormat = iota
	// PNG represents the PNG format
	PNG
)

const jpegQuality = 80

// Encode writes the image to w in the given format
func (i *Image) Encode(w io.Writer, format OutputFormat) error {
	var err error
	switch format {
	case JPEG:
		err = imaging.Encode(w, i.Image, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case PNG:
		err = imaging.Encode(w, i.Image, imaging.PNG)
	default:
		return fmt.Errorf("unknown output format %d", format)
	}

	if err != nil {
		return fmt.Errorf("error encoding image: %w", err)
	}

	return nil
}
