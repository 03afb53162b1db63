package handler

import (
	"net/http"
	"runtime/debug"

	"github.com/whspr/klingfisher/internal/logger"
)

// Recovery turns a panicking handler into an internal server error.
// http.ErrAbortHandler is passed on, the server uses it to abort the response silently.
func Recovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}

			if err == http.ErrAbortHandler {
				panic(err)
			}

			log.Errorw("panic handling request", LogFields(r,
				"panic", err,
				"stacktrace", string(debug.Stack()),
			)...)

			internalError := InternalServerError()
			w.Header().Set("Cache-Control", "private, no-cache, no-store, must-revalidate")
			http.Error(w, internalError.Message, internalError.Code)
		}()

		next.ServeHTTP(w, r)
	})
}
