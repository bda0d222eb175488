// Package probe delivers one payload to a target with every supported HTTP
// method and turns each response into a classified finding.Result.
//
// A Dispatcher holds the previous response body for the whole run, so body
// deltas are measured against whatever the target returned last, regardless
// of method or payload. Call Reset at the start of every run.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"github.com/waftester/webfuzzer/pkg/analyzer"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/httpclient"
	"github.com/waftester/webfuzzer/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Dispatcher sends payloads and classifies the responses.
type Dispatcher struct {
	client   *http.Client
	analyzer *analyzer.Analyzer
	limiter  *rate.Limiter
	delay    time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	prevBody string
	// epoch counts Resets. A Probe that began before the latest Reset
	// belongs to an earlier run and must not touch prevBody.
	epoch uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient sets the HTTP client. Its timeout bounds each request.
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithAnalyzer sets the response analyzer (default: heuristics only).
func WithAnalyzer(a *analyzer.Analyzer) Option {
	return func(d *Dispatcher) { d.analyzer = a }
}

// WithRateLimit caps requests per second. Zero or less means unlimited.
func WithRateLimit(rps float64) Option {
	return func(d *Dispatcher) {
		if rps > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			d.limiter = nil
		}
	}
}

// WithDelay waits between consecutive requests.
func WithDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.delay = delay }
}

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracer sets the tracer used for probe spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a Dispatcher. It fails only when the default HTTP client
// cannot be built.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		logger: slog.Default(),
		tracer: tracing.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		c, err := httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		d.client = c
	}
	if d.analyzer == nil {
		d.analyzer = analyzer.New(nil, analyzer.WithLogger(d.logger))
	}
	return d, nil
}

// Reset forgets the previous response body and detaches any Probe still
// running from an earlier run.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.prevBody = ""
	d.epoch++
	d.mu.Unlock()
}

// Probe sends payload to target with each method in defaults.Methods order.
//
// cancelled is checked before each method; once it reports true, the results
// produced so far are returned. A request already in flight is not aborted:
// ctx supplies trace parentage and bounds only the pacing waits. A transport
// failure yields a degraded Result and the next method is still tried.
func (d *Dispatcher) Probe(ctx context.Context, target, payload string, cancelled func() bool) []finding.Result {
	d.mu.Lock()
	epoch := d.epoch
	d.mu.Unlock()

	results := make([]finding.Result, 0, len(defaults.Methods))
	for i, method := range defaults.Methods {
		if cancelled != nil && cancelled() {
			break
		}
		if err := d.pace(ctx, i > 0); err != nil {
			break
		}
		results = append(results, d.send(ctx, epoch, method, target, payload))
	}
	return results
}

// pace applies the optional inter-request delay and rate limit.
func (d *Dispatcher) pace(ctx context.Context, between bool) error {
	if between && d.delay > 0 {
		t := time.NewTimer(d.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if d.limiter != nil {
		return d.limiter.Wait(ctx)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, epoch uint64, method, target, payload string) finding.Result {
	probeID := uuid.NewString()[:8]

	ctx, span := d.tracer.Start(ctx, "webfuzzer.probe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("probe.id", probeID),
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
			attribute.Int("payload.length", len(payload)),
		),
	)
	defer span.End()

	d.logger.Debug("testing payload",
		slog.String("probe_id", probeID),
		slog.String("method", method),
		slog.String("payload", payload),
	)

	status, body, elapsed, err := d.do(context.WithoutCancel(ctx), method, target, payload)
	if err != nil {
		d.logger.Warn("probe failed",
			slog.String("probe_id", probeID),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		span.SetAttributes(attribute.String("finding.severity", string(finding.Low)))
		return finding.Result{
			ProbeID:   probeID,
			URL:       target,
			Method:    defaults.MethodError,
			Payload:   payload,
			Severity:  finding.Low,
			Finding:   finding.TransportFailure(err),
			Timestamp: time.Now(),
		}
	}

	d.mu.Lock()
	prev := d.prevBody
	if epoch == d.epoch {
		d.prevBody = body
	}
	d.mu.Unlock()

	signals := d.analyzer.Analyze(analyzer.Input{Status: status, Body: body, PrevBody: prev})
	severity, text := finding.Classify(status, signals)

	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.String("finding.severity", string(severity)),
	)

	return finding.Result{
		ProbeID:              probeID,
		URL:                  target,
		Method:               method,
		Payload:              payload,
		Status:               status,
		ResponseTime:         float64(elapsed.Microseconds()) / 1000.0,
		Severity:             severity,
		Finding:              text,
		AlertDetected:        signals.AlertDetected,
		ErrorDetected:        signals.ErrorDetected,
		BodyWordCountChanged: signals.BodyWordCountChanged,
		BodyHash:             BodyHash([]byte(body)),
		Timestamp:            time.Now(),
	}
}

// do performs one request and reads at most defaults.MaxBodySize of the body.
func (d *Dispatcher) do(ctx context.Context, method, target, payload string) (int, string, time.Duration, error) {
	req, err := NewRequest(ctx, method, target, payload)
	if err != nil {
		return 0, "", 0, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaults.MaxBodySize))
	if err != nil {
		return 0, "", 0, fmt.Errorf("read body: %w", err)
	}
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, string(body), time.Since(start), nil
}

// NewRequest builds the request carrying payload in the fuzz field:
// a query parameter for GET and a form field for POST.
func NewRequest(ctx context.Context, method, target, payload string) (*http.Request, error) {
	switch method {
	case http.MethodGet:
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		u := target + sep + defaults.FuzzParam + "=" + url.QueryEscape(payload)
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	case http.MethodPost:
		form := url.Values{defaults.FuzzParam: []string{payload}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", defaults.ContentTypeForm)
		return req, nil
	default:
		return nil, fmt.Errorf("probe: unsupported method %q", method)
	}
}

// BodyHash fingerprints a response body as "mmh3:<signed 32-bit murmur3>".
func BodyHash(body []byte) string {
	return fmt.Sprintf("mmh3:%d", int32(murmur3.Sum32(body)))
}
