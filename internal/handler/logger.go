package handler

import (
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/tracing"
)

// Logger is a handler that logs requests using Zap
func Logger(log *logger.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respMetrics := httpsnoop.CaptureMetricsFn(w, func(ww http.ResponseWriter) {
			h.ServeHTTP(ww, r)
		})

		logFields := LogFields(r,
			"http-method", r.Method,
			"remote-addr", r.RemoteAddr,
			"user-agent", r.UserAgent(),
			"uri", r.URL.String(),
			"status-code", respMetrics.Code,
			"bytes-written", respMetrics.Written,
			"elapsed", fmt.Sprintf("%.9fs", respMetrics.Duration.Seconds()),
		)

		switch {
		case respMetrics.Code >= 500:
			log.Errorw("Request completed", logFields...)
		default:
			log.Debugw("Request completed", logFields...)
		}
	})
}

// LogFields returns the request and trace ids of a request, followed by the given keys and values
func LogFields(r *http.Request, keysAndValues ...interface{}) []interface{} {
	ctx := r.Context()
	traceID, spanID := tracing.TraceInfo(ctx)

	return append([]interface{}{
		"request-id", GetReqID(ctx),
		"trace-id", traceID,
		"span-id", spanID,
	}, keysAndValues...)
}
