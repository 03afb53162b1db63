package test

import (
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/tracing"
)

// Tracer returns a noop tracer for use in tests
func Tracer(log *logger.Logger) *tracing.Tracer {
	tracer := tracing.Noop(log)
	tracer.ServiceName = "test"
	return tracer
}
