package imageapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/twmb/murmur3"
	"github.com/whspr/klingfisher/internal/aesgcm"
	"github.com/whspr/klingfisher/internal/handler"
	"github.com/whspr/klingfisher/internal/params"
	"github.com/whspr/klingfisher/internal/storage"
)

func (a *API) imageHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	if a.HMAC.Enabled() {
		valid, err := params.ValidateHMAC(a.HMAC, r)
		if err != nil {
			a.logError(r, "error validating hmac", err)
			return handler.InternalServerError()
		}

		if !valid {
			return handler.BadRequest("Invalid parameters")
		}
	}

	// Get the path and query parameters
	p, err := params.GetParams(r)
	if err != nil {
		return handler.BadRequest(err.Error())
	}

	imageID := mux.Vars(r)["id"]
	opts := p.Options()

	etag := buildETag(imageID, opts.ProcessorOrDefault().Identifier(), p.Extension)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	// Process the image
	processedImage, err := a.Downloader.Download(r.Context(), imageID, opts)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handler.NotFound("Image does not exist")
		}

		var decryptionErr *aesgcm.DecryptionError
		if errors.As(err, &decryptionErr) {
			a.logError(r, "error decrypting image", err)
			return handler.InternalServerError()
		}

		a.logError(r, "error processing image", err)
		return handler.InternalServerError()
	}

	var buf bytes.Buffer
	if err := processedImage.Encode(&buf, p.OutputFormat()); err != nil {
		a.logError(r, "error encoding image", err)
		return handler.InternalServerError()
	}

	// Set the headers
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", buildFilename(imageID, p)))
	w.Header().Set("Content-Type", p.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=2592000") // Cache for a month
	w.Header().Set("ETag", etag)
	w.Header().Set("Image-ID", imageID)

	// Return the image
	w.Write(buf.Bytes())

	return nil
}

// buildETag hashes the source image id together with the processor identifier,
// requests that produce the same image get the same tag
func buildETag(imageID string, identifier string, extension string) string {
	return fmt.Sprintf("\"%016x\"", murmur3.StringSum64(imageID+"\x00"+identifier+"\x00"+extension))
}

func buildFilename(imageID string, p *params.Params) string {
	filename := fmt.Sprintf("%s-%dx%d", imageID, p.Width, p.Height)

	if p.Blur {
		filename += fmt.Sprintf("-blur_%d", p.BlurAmount)
	}

	if p.Grayscale {
		filename += "-grayscale"
	}

	filename += p.Extension

	return filename
}
