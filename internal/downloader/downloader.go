package downloader

import (
	"context"
	"expvar"
	"fmt"
	"sync"

	"github.com/whspr/klingfisher/internal/aesgcm"
	"github.com/whspr/klingfisher/internal/image"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/pipeline"
	"github.com/whspr/klingfisher/internal/queue"
	"github.com/whspr/klingfisher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	pendingTasks   = expvar.NewInt("gauge_downloader_pending_tasks")
	joinedRequests = expvar.NewInt("counter_downloader_joined_requests")
)

// Config configures a Downloader
type Config struct {
	Cache  *image.Cache
	Queue  queue.Executor
	Log    *logger.Logger
	Tracer *tracing.Tracer

	// Key and IV are the base64 encoded AES-GCM decryption material.
	// When empty, image data is processed as is.
	Key string
	IV  string
}

// Downloader fetches image data and processes it for every request waiting on the same image.
// Requests for an image that is already being fetched join the pending fetch instead of starting a new one.
type Downloader struct {
	cfg Config

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	waiters []*waiter
}

type waiter struct {
	request *image.Request
	result  chan pipeline.Outcome
}

// New creates a Downloader, failing if the decryption material can not be used
func New(cfg Config) (*Downloader, error) {
	if cfg.Key != "" || cfg.IV != "" {
		if _, err := aesgcm.New(cfg.Key, cfg.IV); err != nil {
			return nil, err
		}
	}

	return &Downloader{
		cfg:   cfg,
		tasks: make(map[string]*task),
	}, nil
}

// Download returns the image with the given id, processed according to opts
func (d *Downloader) Download(ctx context.Context, id string, opts image.Options) (*image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &waiter{
		request: &image.Request{Options: opts},
		result:  make(chan pipeline.Outcome, 1),
	}

	d.mu.Lock()
	t, running := d.tasks[id]
	if !running {
		t = &task{}
		d.tasks[id] = t
		pendingTasks.Add(1)
	} else {
		joinedRequests.Add(1)
	}
	t.waiters = append(t.waiters, w)
	d.mu.Unlock()

	// The fetch is shared with other waiters, so it does not inherit this request's context
	if !running {
		go d.fetch(id)
	}

	select {
	case o := <-w.result:
		return o.Image, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Waiting returns the number of requests waiting on the pending fetch of id
func (d *Downloader) Waiting(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tasks[id]; ok {
		return len(t.waiters)
	}

	return 0
}

func (d *Downloader) fetch(id string) {
	ctx, span := d.cfg.Tracer.Start(context.Background(), "downloader.fetch")
	span.SetAttributes(attribute.String("id", id))
	defer span.End()

	data, err := d.cfg.Cache.Get(ctx, id)

	// Requests arriving from here on start a new task
	d.mu.Lock()
	t := d.tasks[id]
	delete(d.tasks, id)
	pendingTasks.Add(-1)
	d.mu.Unlock()

	span.SetAttributes(attribute.Int("requests", len(t.waiters)))

	if err != nil {
		t.fail(fmt.Errorf("error getting image from cache: %w", err))
		return
	}

	requests := make([]*image.Request, len(t.waiters))
	results := make(map[*image.Request]chan pipeline.Outcome, len(t.waiters))
	for i, w := range t.waiters {
		requests[i] = w.request
		results[w.request] = w.result
	}

	cfg := pipeline.Config{
		Queue:  d.cfg.Queue,
		Log:    d.cfg.Log,
		Tracer: d.cfg.Tracer,
		Sink: func(o pipeline.Outcome) {
			results[o.Request] <- o
		},
		OnState: func(state pipeline.State) {
			d.cfg.Log.Debugw("image processing state",
				"id", id,
				"state", state.String(),
			)
		},
	}

	var processor *pipeline.DataProcessor
	if d.cfg.Key != "" {
		processor, err = pipeline.NewEncrypted(data, d.cfg.Key, d.cfg.IV, requests, cfg)
		if err != nil {
			t.fail(err)
			return
		}
	} else {
		processor = pipeline.New(data, requests, cfg)
	}

	if err := processor.Process(); err != nil {
		d.cfg.Log.Errorw("error processing image",
			"id", id,
			"error", err,
		)
		t.fail(err)
	}
}

func (t *task) fail(err error) {
	for _, w := range t.waiters {
		w.result <- pipeline.Outcome{Err: err, Request: w.request}
	}
}
