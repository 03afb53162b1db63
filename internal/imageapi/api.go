package imageapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/whspr/klingfisher/internal/handler"
	"github.com/whspr/klingfisher/internal/health"
	"github.com/whspr/klingfisher/internal/hmac"
	"github.com/whspr/klingfisher/internal/image"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/tracing"
)

// Downloader returns processed images by id
type Downloader interface {
	Download(ctx context.Context, id string, opts image.Options) (*image.Image, error)
}

// API is a http api
type API struct {
	Downloader     Downloader
	HealthChecker  *health.Checker
	Log            *logger.Logger
	Tracer         *tracing.Tracer
	HandlerTimeout time.Duration

	// HMAC, when it has a key, requires every image request to be signed
	HMAC *hmac.HMAC
}

// Utility methods for logging
func (a *API) logError(r *http.Request, message string, err error) {
	a.Log.Errorw(message, handler.LogFields(r, "error", err)...)
}

// Router returns a http router
func (a *API) Router() http.Handler {
	router := mux.NewRouter()

	router.NotFoundHandler = handler.Handler(a.notFoundHandler)

	// Redirect trailing slashes
	router.StrictSlash(true)

	// Healthcheck
	router.Handle("/health", handler.Health(a.HealthChecker)).Methods("GET")

	// Image by ID routes
	router.Handle("/id/{id}/{size:[0-9]+}{extension:(?:\\.[a-zA-Z]+)?}", handler.Handler(a.imageHandler)).Methods("GET").Name("image.size")
	router.Handle("/id/{id}/{width:[0-9]+}/{height:[0-9]+}{extension:(?:\\.[a-zA-Z]+)?}", handler.Handler(a.imageHandler)).Methods("GET").Name("image.dimensions")

	// Query parameters:
	// ?grayscale - Grayscale the image
	// ?blur - Blur the image
	// ?blur={amount} - Blur the image by {amount}
	// ?decode - Return a private decoded copy of the image, never the shared one

	// ?hmac - HMAC signature of the path and URL parameters

	routeMatcher := &handler.MuxRouteMatcher{Router: router}

	// Set up handlers for adding a request id, tracing, metrics, handling panics, request logging, setting CORS headers, and handler execution timeout
	return handler.AddRequestID(
		handler.Tracer(a.Tracer,
			handler.Metrics(
				handler.Recovery(a.Log,
					handler.Logger(a.Log,
						handler.CORS([]string{"Image-ID"},
							http.TimeoutHandler(router, a.HandlerTimeout, "Something went wrong. Timed out."),
						),
					),
				),
				routeMatcher,
			),
			routeMatcher,
		),
	)
}

// Handle not found errors
var notFoundError = &handler.Error{
	Message: "page not found",
	Code:    http.StatusNotFound,
}

func (a *API) notFoundHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	return notFoundError
}
