package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/whspr/klingfisher/internal/cache"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/queue"
	"github.com/whspr/klingfisher/internal/storage"
)

const checkInterval = 10 * time.Second
const checkTimeout = 8 * time.Second

// Component states reported in Status
const (
	Healthy   = "healthy"
	Unhealthy = "unhealthy"
	Unknown   = "unknown"
)

// Checker periodically checks the components image processing depends on.
// Components that are nil are not checked.
type Checker struct {
	Ctx     context.Context
	Storage storage.Provider
	ImageID string // Image ID to fetch from storage when checking storage health
	Cache   cache.Provider
	Queue   queue.Executor // Checked by running a no-op unit of work
	Log     *logger.Logger

	status Status
	mutex  sync.RWMutex
}

// Status contains the healtcheck status
type Status struct {
	Healthy bool   `json:"healthy"`
	Cache   string `json:"cache,omitempty"`
	Storage string `json:"storage,omitempty"`
	Queue   string `json:"queue,omitempty"`
}

// Run checks once, then keeps checking every checkInterval until Ctx is done
func (c *Checker) Run() {
	c.runCheck()

	ticker := time.NewTicker(checkInterval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.runCheck()
			case <-c.Ctx.Done():
				return
			}
		}
	}()
}

// Status returns the result of the latest check
func (c *Checker) Status() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.status
}

func (c *Checker) setStatus(status Status) {
	c.mutex.Lock()
	c.status = status
	c.mutex.Unlock()
}

func (c *Checker) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	result := make(chan Status, 1)
	go func() {
		result <- c.check(ctx)
	}()

	select {
	case <-ctx.Done():
		c.setStatus(c.unknownStatus())
		c.Log.Errorw("healthcheck timed out")
	case status := <-result:
		c.setStatus(status)
		if !status.Healthy {
			c.Log.Errorw("healthcheck error",
				"status", status,
			)
		}
	}
}

func (c *Checker) unknownStatus() Status {
	status := Status{}

	if c.Cache != nil {
		status.Cache = Unknown
	}

	if c.Storage != nil {
		status.Storage = Unknown
	}

	if c.Queue != nil {
		status.Queue = Unknown
	}

	return status
}

func (c *Checker) check(ctx context.Context) Status {
	status := c.unknownStatus()
	status.Healthy = true

	record := func(field *string, err error) {
		if err != nil {
			status.Healthy = false
			*field = Unhealthy
			return
		}

		*field = Healthy
	}

	if c.Cache != nil {
		record(&status.Cache, c.checkCache(ctx))
	}

	if c.Storage != nil {
		_, err := c.Storage.Get(ctx, c.ImageID)
		record(&status.Storage, err)
	}

	if c.Queue != nil {
		record(&status.Queue, c.checkQueue(ctx))
	}

	return status
}

var errUnexpectedHit = errors.New("healthcheck key is cached")

// The key is never set, so a healthy cache reports a miss
func (c *Checker) checkCache(ctx context.Context) error {
	_, err := c.Cache.Get(ctx, "healthcheck")
	if err == nil {
		return errUnexpectedHit
	}

	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}

	return err
}

func (c *Checker) checkQueue(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.Queue.Submit(func() { close(done) }); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
