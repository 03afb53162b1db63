package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/whspr/klingfisher/internal/cache"
	"github.com/whspr/klingfisher/internal/cache/memory"
	"github.com/whspr/klingfisher/internal/cache/redis"
	"github.com/whspr/klingfisher/internal/cmd"
	"github.com/whspr/klingfisher/internal/downloader"
	"github.com/whspr/klingfisher/internal/health"
	"github.com/whspr/klingfisher/internal/hmac"
	"github.com/whspr/klingfisher/internal/image"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/metrics"
	"github.com/whspr/klingfisher/internal/queue"
	"github.com/whspr/klingfisher/internal/storage"
	fileStorage "github.com/whspr/klingfisher/internal/storage/file"
	"github.com/whspr/klingfisher/internal/storage/spaces"
	"github.com/whspr/klingfisher/internal/tracing"

	api "github.com/whspr/klingfisher/internal/imageapi"

	"github.com/jamiealquiza/envy"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Comandline flags
var (
	// Global
	listen        = flag.String("listen", ":8081", "listen address")
	metricsListen = flag.String("metrics-listen", "127.0.0.1:8082", "metrics listen address")
	loglevel      = zap.LevelFlag("log-level", zap.InfoLevel, "log level (default \"info\") (debug, info, warn, error, dpanic, panic, fatal)")

	// Tracing
	tracingEnabled     = flag.Bool("tracing", false, "export traces over otlp grpc, configured with the OTEL_EXPORTER_OTLP_* environment variables")
	tracingServiceName = flag.String("tracing-service-name", "klingfisher", "service name to report traces as")

	// Processing
	workers = flag.Int("workers", 1, "number of image processing workers, 0 uses the process wide shared queue")

	// Decryption
	decryptionKey = flag.String("decryption-key", "", "base64 encoded AES-GCM key, when set stored image data is decrypted before processing")
	decryptionIV  = flag.String("decryption-iv", "", "base64 encoded 12 byte AES-GCM iv")

	// Storage
	storageBackend = flag.String("storage", "file", "which storage backend to use (file, spaces)")

	// Storage - File
	storageFilePath = flag.String("storage-file-path", "./images", "path to the file storage")

	// Storage - Spaces
	storageSpacesSpace          = flag.String("storage-spaces-space", "", "space or bucket to use")
	storageSpacesEndpoint       = flag.String("storage-spaces-endpoint", "", "s3 compatible endpoint, e.g. https://ams3.digitaloceanspaces.com")
	storageSpacesAccessKey      = flag.String("storage-spaces-access-key", "", "spaces access key")
	storageSpacesSecretKey      = flag.String("storage-spaces-secret-key", "", "spaces secret key")
	storageSpacesPrefix         = flag.String("storage-spaces-prefix", "", "prefix of the object keys")
	storageSpacesForcePathStyle = flag.Bool("storage-spaces-force-path-style", false, "use path style addressing, needed by e.g. minio")

	// Cache
	cacheBackend = flag.String("cache", "memory", "which cache backend to use (memory, redis)")

	// Cache - Redis
	cacheRedisAddress  = flag.String("cache-redis-address", "redis://127.0.0.1:6379", "redis address, may contain authentication details")
	cacheRedisPoolSize = flag.Int("cache-redis-pool-size", 10, "redis connection pool size")
	cacheRedisTTL      = flag.Duration("cache-redis-ttl", 24*time.Hour, "how long raw image data stays cached, 0 to never expire")

	// Healthcheck
	healthCheckImageID = flag.String("health-check-image-id", "1", "image ID to request from the storage to check storage health")

	// HMAC
	hmacKey = flag.String("hmac-key", "", "hmac key image urls must be signed with, signing is not required when empty")
)

func main() {
	// Parse environment variables
	envy.Parse("IMAGE")

	// Parse commandline flags
	flag.Parse()

	// Initialize the logger
	log := logger.New(*loglevel)
	defer log.Sync()

	// Set GOMAXPROCS
	maxprocs.Set(maxprocs.Logger(log.Infof))

	// Set up context for shutting down
	shutdownCtx, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	// Initialize tracing
	tracer := tracing.Noop(log)
	if *tracingEnabled {
		var err error
		tracer, err = tracing.New(shutdownCtx, log, *tracingServiceName)
		if err != nil {
			log.Fatalf("error initializing tracing: %s", err)
		}
	}
	defer tracer.Shutdown(context.Background())

	// Initialize the storage, cache
	storage, cache, err := setupBackends(shutdownCtx, tracer)
	if err != nil {
		log.Fatalf("error initializing backends: %s", err)
	}
	defer cache.Shutdown()

	// Initialize the processing queue
	workerQueue := queue.Shared()
	if *workers > 0 {
		queueCtx, queueCancel := context.WithCancel(context.Background())
		defer queueCancel()

		workerQueue = queue.New(queueCtx, *workers)
		go workerQueue.Run()
	}

	// Initialize the downloader
	imageDownloader, err := downloader.New(downloader.Config{
		Cache:  image.NewCache(tracer, cache, storage),
		Queue:  workerQueue,
		Log:    log.Named("downloader"),
		Tracer: tracer,
		Key:    *decryptionKey,
		IV:     *decryptionIV,
	})
	if err != nil {
		log.Fatalf("error initializing downloader: %s", err)
	}

	// Initialize and start the health checker
	checkerCtx, checkerCancel := context.WithCancel(context.Background())
	defer checkerCancel()

	checker := &health.Checker{
		Ctx:     checkerCtx,
		Storage: storage,
		ImageID: *healthCheckImageID,
		Cache:   cache,
		Queue:   workerQueue,
		Log:     log.Named("health"),
	}
	go checker.Run()

	// Start the metrics http server
	go metrics.Serve(shutdownCtx, log, checker, *metricsListen)

	// Start and listen on http
	api := &api.API{
		Downloader:     imageDownloader,
		HealthChecker:  checker,
		Log:            log,
		Tracer:         tracer,
		HandlerTimeout: cmd.HandlerTimeout,
		HMAC: &hmac.HMAC{
			Key: []byte(*hmacKey),
		},
	}
	server := &http.Server{
		Addr:         *listen,
		Handler:      api.Router(),
		ReadTimeout:  cmd.ReadTimeout,
		WriteTimeout: cmd.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Infof("shutting down the http server: %s", err)
			shutdown()
		}
	}()

	log.Infof("http server listening on %s", *listen)

	// Wait for shutdown or error
	err = cmd.WaitForInterrupt(shutdownCtx)
	log.Infof("shutting down: %s", err)

	// Shut down http server
	cmd.Shutdown(log, server)
}

func setupBackends(ctx context.Context, tracer *tracing.Tracer) (storage storage.Provider, cache cache.Provider, err error) {
	// Storage
	switch *storageBackend {
	case "file":
		storage, err = fileStorage.New(*storageFilePath)
	case "spaces":
		storage, err = spaces.New(*storageSpacesSpace, *storageSpacesEndpoint, *storageSpacesAccessKey, *storageSpacesSecretKey, *storageSpacesPrefix, *storageSpacesForcePathStyle)
	default:
		err = fmt.Errorf("invalid storage backend")
	}

	if err != nil {
		return
	}

	// Cache
	switch *cacheBackend {
	case "memory":
		cache = memory.New()
	case "redis":
		cache, err = redis.New(ctx, tracer, *cacheRedisAddress, *cacheRedisPoolSize, *cacheRedisTTL)
	default:
		err = fmt.Errorf("invalid cache backend")
	}

	return
}
