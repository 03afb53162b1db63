package metrics

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/whspr/klingfisher/internal/cmd"
	"github.com/whspr/klingfisher/internal/handler"
	"github.com/whspr/klingfisher/internal/health"
	"github.com/whspr/klingfisher/internal/logger"
)

// Router returns the router for metrics, healthchecks and profiling
func Router(healthChecker *health.Checker) http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("/metrics", handler.VarzHandler)
	router.Handle("/debug/vars", expvar.Handler())
	router.Handle("/health", handler.Health(healthChecker))

	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return router
}

// Serve starts an http server for metrics and healthchecks, and blocks until ctx is done
func Serve(ctx context.Context, log *logger.Logger, healthChecker *health.Checker, listenAddress string) {
	server := &http.Server{
		Addr:              listenAddress,
		Handler:           Router(healthChecker),
		ReadHeaderTimeout: cmd.ReadTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Infof("shutting down the metrics http server: %s", err)
		}
	}()

	log.Infof("metrics http server listening on %s", listenAddress)

	<-ctx.Done()

	if err := server.Close(); err != nil {
		log.Warnf("error shutting down metrics http server: %s", err)
	}
}
