// Package engine runs fuzzing scans: one payload list against one target,
// probed sequentially by a single background worker.
//
// The engine is Idle or Running. Start launches a worker and returns at
// once; Stop requests cancellation and waits briefly for the worker to
// notice. Results are appended in probe-issue order (payload order, then
// method order) to both the in-memory list and the dataset recorder.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/metrics"
	"github.com/waftester/webfuzzer/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is the run state.
type State string

const (
	Idle    State = "idle"
	Running State = "running"
)

// Prober sends one payload with every method. *probe.Dispatcher implements it.
type Prober interface {
	Probe(ctx context.Context, target, payload string, cancelled func() bool) []finding.Result
	Reset()
}

// Status is a point-in-time view of the engine.
type Status struct {
	State      State     `json:"state"`
	RunID      string    `json:"runId,omitempty"`
	Target     string    `json:"target,omitempty"`
	Payloads   int       `json:"payloads"`
	Processed  int       `json:"processed"`
	Results    int       `json:"results"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Engine owns the run state. It is safe for concurrent use.
type Engine struct {
	prober      Prober
	recorder    dataset.Recorder
	logger      *slog.Logger
	metrics     *metrics.Collector
	tracer      trace.Tracer
	onResult    func(finding.Result)
	stopTimeout time.Duration

	mu         sync.Mutex
	state      State
	gen        uint64
	runID      string
	target     string
	payloads   int
	processed  int
	startedAt  time.Time
	finishedAt time.Time
	results    []finding.Result
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records run and probe metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithOnResult registers a callback invoked from the worker for every
// Result, after it has been appended.
func WithOnResult(fn func(finding.Result)) Option {
	return func(e *Engine) { e.onResult = fn }
}

// WithStopTimeout bounds how long Stop waits for the worker (default 2s).
func WithStopTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stopTimeout = d }
}

// New creates an idle Engine. A nil recorder discards dataset records.
func New(p Prober, rec dataset.Recorder, opts ...Option) *Engine {
	e := &Engine{
		prober:      p,
		recorder:    rec,
		logger:      slog.Default(),
		tracer:      tracing.Noop(),
		stopTimeout: defaults.StopJoinTimeout,
		state:       Idle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a run against target. An empty payload list is replaced by
// defaults.PayloadSet. Start returns ErrAlreadyRunning, without touching the
// current run, if one is in progress.
func (e *Engine) Start(target string, payloads []string) error {
	if len(payloads) == 0 {
		payloads = defaults.PayloadSet()
	} else {
		payloads = append([]string(nil), payloads...)
	}

	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.gen++
	gen := e.gen
	e.state = Running
	e.runID = uuid.NewString()
	e.target = target
	e.payloads = len(payloads)
	e.processed = 0
	e.startedAt = time.Now()
	e.finishedAt = time.Time{}
	e.results = nil
	e.cancel = cancel
	e.done = done
	runID := e.runID
	e.prober.Reset()
	e.mu.Unlock()

	e.metrics.SetRunning(true)
	go e.run(ctx, gen, runID, target, payloads, done)
	return nil
}

// Stop cancels the current run and waits up to the stop timeout for the
// worker to exit. It returns nil even when the wait times out; the request
// in flight, if any, is left to finish on its own.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.state = Idle
	e.finishedAt = time.Now()
	cancel, done, runID := e.cancel, e.done, e.runID
	e.mu.Unlock()

	e.metrics.SetRunning(false)
	cancel()

	t := time.NewTimer(e.stopTimeout)
	defer t.Stop()
	select {
	case <-done:
		e.logger.Info("fuzzing stopped", slog.String("run_id", runID))
	case <-t.C:
		e.logger.Warn("fuzzing worker still draining after stop",
			slog.String("run_id", runID),
			slog.Duration("waited", e.stopTimeout),
		)
	}
	return nil
}

// Results returns a copy of the current run's results.
func (e *Engine) Results() []finding.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]finding.Result, len(e.results))
	copy(out, e.results)
	return out
}

// Status returns the current state and run counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:      e.state,
		RunID:      e.runID,
		Target:     e.target,
		Payloads:   e.payloads,
		Processed:  e.processed,
		Results:    len(e.results),
		StartedAt:  e.startedAt,
		FinishedAt: e.finishedAt,
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Running
}

// Wait blocks until the most recently started worker has exited.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) run(ctx context.Context, gen uint64, runID, target string, payloads []string, done chan struct{}) {
	defer close(done)

	ctx, span := e.tracer.Start(ctx, "webfuzzer.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("url.full", target),
		attribute.Int("run.payloads", len(payloads)),
	))
	defer span.End()

	logger := e.logger.With(slog.String("run_id", runID))
	logger.Info("fuzzing started",
		slog.String("target", target),
		slog.Int("payloads", len(payloads)),
	)

	cancelled := func() bool {
		return ctx.Err() != nil || !e.current(gen)
	}

	processed := 0
	for _, payload := range payloads {
		if cancelled() {
			break
		}
		for _, r := range e.prober.Probe(ctx, target, payload, cancelled) {
			if !e.appendResult(ctx, gen, r, logger) {
				// A newer run owns the engine.
				return
			}
		}
		processed++
		e.setProcessed(gen, processed)
		if processed%defaults.ProgressEvery == 0 {
			logger.Info("fuzzing progress",
				slog.Int("processed", processed),
				slog.Int("total", len(payloads)),
				slog.Int("percent", processed*100/len(payloads)),
			)
		}
	}

	outcome := metrics.OutcomeCompleted
	if ctx.Err() != nil {
		outcome = metrics.OutcomeStopped
	}
	span.SetAttributes(
		attribute.String("run.outcome", outcome),
		attribute.Int("run.processed", processed),
	)
	e.metrics.RunFinished(outcome)
	logger.Info("fuzzing finished",
		slog.String("outcome", outcome),
		slog.Int("processed", processed),
		slog.Int("total", len(payloads)),
	)
	e.finish(gen)
}

// current reports whether gen is still the active run generation.
func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

// appendResult assigns the next ID, stores r and records it in the dataset.
// It returns false when gen is stale.
func (e *Engine) appendResult(ctx context.Context, gen uint64, r finding.Result, logger *slog.Logger) bool {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return false
	}
	r.ID = len(e.results) + 1
	e.results = append(e.results, r)
	e.mu.Unlock()

	e.metrics.ObserveResult(r)

	if e.recorder != nil {
		// Records for a stopped run's last probe are still written.
		err := e.recorder.Append(context.WithoutCancel(ctx), dataset.Entry{
			Payload:              r.Payload,
			ResponseCode:         r.Status,
			AlertDetected:        r.AlertDetected,
			ErrorDetected:        r.ErrorDetected,
			BodyWordCountChanged: r.BodyWordCountChanged,
			Timestamp:            r.Timestamp,
		})
		if err != nil {
			e.metrics.DatasetError()
			if errors.Is(err, dataset.ErrStorage) {
				logger.Warn("dataset append failed", slog.Int("id", r.ID), slog.String("error", err.Error()))
			} else {
				logger.Error("dataset append failed", slog.Int("id", r.ID), slog.String("error", err.Error()))
			}
		}
	}

	if e.onResult != nil {
		e.onResult(r)
	}
	return true
}

func (e *Engine) setProcessed(gen uint64, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen == gen {
		e.processed = n
	}
}

func (e *Engine) finish(gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.state != Running {
		e.mu.Unlock()
		return
	}
	e.state = Idle
	e.finishedAt = time.Now()
	e.mu.Unlock()
	e.metrics.SetRunning(false)
}
