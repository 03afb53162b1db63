package health_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/whspr/klingfisher/internal/health"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/queue"
	"go.uber.org/zap"

	mockStorage "github.com/whspr/klingfisher/internal/storage/mock"

	memoryCache "github.com/whspr/klingfisher/internal/cache/memory"
	mockCache "github.com/whspr/klingfisher/internal/cache/mock"
)

func TestHealth(t *testing.T) {
	log := logger.New(zap.ErrorLevel)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage := &mockStorage.Provider{Data: map[string][]byte{"1": []byte("foo")}}
	emptyStorage := &mockStorage.Provider{}
	cache := memoryCache.New()

	checker := &health.Checker{Ctx: ctx, Storage: storage, ImageID: "1", Cache: cache, Log: log}
	brokenStorageChecker := &health.Checker{Ctx: ctx, Storage: emptyStorage, ImageID: "1", Cache: cache, Log: log}
	brokenCacheChecker := &health.Checker{Ctx: ctx, Storage: storage, ImageID: "1", Cache: &mockCache.Broken{}, Log: log}
	mockCacheChecker := &health.Checker{Ctx: ctx, Cache: &mockCache.Provider{}, Log: log}
	storageOnlyChecker := &health.Checker{Ctx: ctx, Storage: storage, ImageID: "1", Log: log}

	runningQueue := queue.New(ctx, 1)
	go runningQueue.Run()

	stoppedCtx, stop := context.WithCancel(context.Background())
	stop()
	stoppedQueue := queue.New(stoppedCtx, 1)

	queueChecker := &health.Checker{Ctx: ctx, Queue: runningQueue, Log: log}
	stoppedQueueChecker := &health.Checker{Ctx: ctx, Storage: storage, ImageID: "1", Queue: stoppedQueue, Log: log}

	tests := []struct {
		Name           string
		ExpectedStatus health.Status
		Checker        *health.Checker
	}{
		{
			Name: "runs checks and returns correct status",
			ExpectedStatus: health.Status{
				Healthy: true,
				Cache:   "healthy",
				Storage: "healthy",
			},
			Checker: checker,
		},
		{
			Name: "runs checks and returns correct status with broken storage",
			ExpectedStatus: health.Status{
				Healthy: false,
				Cache:   "healthy",
				Storage: "unhealthy",
			},
			Checker: brokenStorageChecker,
		},
		{
			Name: "runs checks and returns correct status with broken cache",
			ExpectedStatus: health.Status{
				Healthy: false,
				Cache:   "unhealthy",
				Storage: "healthy",
			},
			Checker: brokenCacheChecker,
		},
		{
			Name: "runs checks and returns correct status with only a cache",
			ExpectedStatus: health.Status{
				Healthy: true,
				Cache:   "healthy",
			},
			Checker: mockCacheChecker,
		},
		{
			Name: "runs checks and returns correct status with only a storage",
			ExpectedStatus: health.Status{
				Healthy: true,
				Storage: "healthy",
			},
			Checker: storageOnlyChecker,
		},
		{
			Name: "runs checks and returns correct status with a queue",
			ExpectedStatus: health.Status{
				Healthy: true,
				Queue:   "healthy",
			},
			Checker: queueChecker,
		},
		{
			Name: "runs checks and returns correct status with a stopped queue",
			ExpectedStatus: health.Status{
				Healthy: false,
				Storage: "healthy",
				Queue:   "unhealthy",
			},
			Checker: stoppedQueueChecker,
		},
	}

	for _, test := range tests {
		test.Checker.Run()
		status := test.Checker.Status()

		if !reflect.DeepEqual(status, test.ExpectedStatus) {
			t.Errorf("%s: wrong status %+v", test.Name, status)
		}
	}
}
