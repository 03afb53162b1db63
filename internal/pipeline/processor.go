// Package pipeline processes fetched image data for a batch of pending requests.
//
// A DataProcessor optionally decrypts the data, runs every distinct processor
// once, and notifies one Outcome per request, in request order, on an execution
// queue rather than the caller's goroutine.
package pipeline

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/whspr/klingfisher/internal/aesgcm"
	"github.com/whspr/klingfisher/internal/image"
	"github.com/whspr/klingfisher/internal/logger"
	"github.com/whspr/klingfisher/internal/queue"
	"github.com/whspr/klingfisher/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Errors
var (
	ErrAlreadyProcessed = errors.New("data processor has already been started")
	ErrAborted          = errors.New("image processing aborted")
)

var (
	runsInFlight         = expvar.NewInt("gauge_pipeline_runs_in_flight")
	transformInvocations = expvar.NewInt("counter_pipeline_transform_invocations")
	transformFailures    = expvar.NewInt("counter_pipeline_transform_failures")
	decryptionFailures   = expvar.NewInt("counter_pipeline_decryption_failures")
	outcomesDelivered    = expvar.NewInt("counter_pipeline_outcomes_delivered")
)

// State is the lifecycle state of a DataProcessor
type State int32

// States, in the order a run goes through them
const (
	Created State = iota
	Scheduled
	Running
	Decrypting
	Transforming
	Notifying
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Decrypting:
		return "decrypting"
	case Transforming:
		return "transforming"
	case Notifying:
		return "notifying"
	case Done:
		return "done"
	}

	return fmt.Sprintf("state(%d)", int32(s))
}

// Config configures a DataProcessor
type Config struct {
	// Queue runs the processing, defaults to queue.Shared()
	Queue queue.Executor
	// Sink is subscribed to the notifier before anything can be notified
	Sink func(Outcome)
	// OnState, if set, is called with every state the processor enters
	OnState func(State)
	Log     *logger.Logger
	Tracer  *tracing.Tracer
}

// DataProcessor processes the data of one fetch for all of its requests.
// It is single use.
type DataProcessor struct {
	data     []byte
	requests []*image.Request
	cipher   *aesgcm.Cipher

	queue  queue.Executor
	log    *logger.Logger
	tracer *tracing.Tracer

	notifier Notifier
	state    atomic.Int32
	onState  func(State)

	// notified counts the requests that received their outcome, it is only touched by run
	notified int
}

// New creates a processor for unencrypted data
func New(data []byte, requests []*image.Request, cfg Config) *DataProcessor {
	p := &DataProcessor{
		data:     data,
		requests: append([]*image.Request(nil), requests...),
		queue:    cfg.Queue,
		log:      cfg.Log,
		tracer:   cfg.Tracer,
		onState:  cfg.OnState,
	}

	if p.queue == nil {
		p.queue = queue.Shared()
	}

	if p.log == nil {
		p.log = logger.NewNop()
	}

	if p.tracer == nil {
		p.tracer = tracing.Noop(p.log)
	}

	if cfg.Sink != nil {
		p.notifier.Subscribe(cfg.Sink)
	}

	return p
}

// NewEncrypted creates a processor for AES-GCM encrypted data.
// key and iv are base64 encoded, an error is returned if they can not be used.
func NewEncrypted(data []byte, key, iv string, requests []*image.Request, cfg Config) (*DataProcessor, error) {
	c, err := aesgcm.New(key, iv)
	if err != nil {
		return nil, err
	}

	p := New(data, requests, cfg)
	p.cipher = c

	return p, nil
}

// Notifier returns the notifier outcomes are delivered through
func (p *DataProcessor) Notifier() *Notifier {
	return &p.notifier
}

// State returns the current lifecycle state
func (p *DataProcessor) State() State {
	return State(p.state.Load())
}

func (p *DataProcessor) setState(s State) {
	p.state.Store(int32(s))
	p.observe(s)
}

func (p *DataProcessor) observe(s State) {
	if p.onState == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("panic observing state",
				"state", s,
				"panic", r,
			)
		}
	}()

	p.onState(s)
}

// Process schedules the processing on the queue and returns without waiting for it.
// Calling Process more than once returns ErrAlreadyProcessed.
func (p *DataProcessor) Process() error {
	if !p.state.CompareAndSwap(int32(Created), int32(Scheduled)) {
		return ErrAlreadyProcessed
	}
	p.observe(Scheduled)

	runsInFlight.Add(1)
	if err := p.queue.Submit(p.run); err != nil {
		runsInFlight.Add(-1)
		p.wipe()
		p.setState(Done)
		return fmt.Errorf("error scheduling image processing: %w", err)
	}

	return nil
}

func (p *DataProcessor) run() {
	p.setState(Running)
	ctx, span := p.tracer.Start(context.Background(), "pipeline.Process")
	span.SetAttributes(
		attribute.Int("requests", len(p.requests)),
		attribute.Bool("encrypted", p.cipher != nil),
	)

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			p.log.Errorw("panic processing image data",
				"panic", r,
				"notified", p.notified,
				"stacktrace", string(debug.Stack()),
			)

			// Every request still gets exactly one outcome
			err := fmt.Errorf("%w: panic: %v", ErrAborted, r)
			for _, req := range p.requests[p.notified:] {
				p.notify(Outcome{Err: err, Request: req})
			}
		}

		p.wipe()
		p.setState(Done)
		runsInFlight.Add(-1)
		span.End()
	}()

	data := p.data
	if p.cipher != nil {
		plaintext, err := p.decrypt(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			p.log.Warnw("error decrypting image data",
				"requests", len(p.requests),
				"error", err,
			)

			for _, req := range p.requests {
				p.notify(Outcome{Err: err, Request: req})
			}

			return
		}

		data = plaintext
	}

	m := newMemoizer(p.tracer, data)
	for _, req := range p.requests {
		p.setState(Transforming)
		img, err := m.resolve(ctx, req)
		p.notify(Outcome{Image: img, Err: err, Request: req})
	}

	span.SetAttributes(attribute.Int("transforms", m.invocations))
	p.log.Debugw("processed image data",
		"requests", len(p.requests),
		"transforms", m.invocations,
	)
}

func (p *DataProcessor) decrypt(ctx context.Context) ([]byte, error) {
	_, span := p.tracer.Start(ctx, "aesgcm.Decrypt")
	defer span.End()

	p.setState(Decrypting)
	plaintext, err := p.cipher.Decrypt(p.data)
	if err != nil {
		decryptionFailures.Add(1)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return plaintext, nil
}

func (p *DataProcessor) notify(o Outcome) {
	p.setState(Notifying)
	outcomesDelivered.Add(1)

	// Recover per outcome so the remaining requests are still notified
	defer func() {
		p.notified++

		if r := recover(); r != nil {
			p.log.Errorw("panic notifying outcome",
				"panic", r,
				"stacktrace", string(debug.Stack()),
			)
		}
	}()

	p.notifier.Notify(o)
}

func (p *DataProcessor) wipe() {
	if p.cipher != nil {
		p.cipher.Wipe()
	}
}
