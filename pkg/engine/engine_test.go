package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/metrics"
	"github.com/waftester/webfuzzer/pkg/probe"
)

// fakeProber produces one low-severity result per method without I/O.
type fakeProber struct {
	mu      sync.Mutex
	calls   []string
	resets  int
	block   chan struct{}
	entered chan string
	// inFlight ignores cancellation once Probe has begun, like a request
	// that was already sent when Stop arrived.
	inFlight bool
}

func (f *fakeProber) Probe(_ context.Context, target, payload string, cancelled func() bool) []finding.Result {
	f.mu.Lock()
	f.calls = append(f.calls, payload)
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- payload
	}
	if block != nil {
		<-block
	}

	var out []finding.Result
	for _, m := range defaults.Methods {
		if !f.inFlight && cancelled() {
			break
		}
		out = append(out, finding.Result{
			URL:       target,
			Method:    m,
			Payload:   payload,
			Status:    200,
			Severity:  finding.Low,
			Finding:   finding.TextNone,
			Timestamp: time.Now(),
		})
		if f.inFlight {
			break
		}
	}
	return out
}

func (f *fakeProber) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newDispatcher(t *testing.T) *probe.Dispatcher {
	t.Helper()
	d, err := probe.New()
	require.NoError(t, err)
	return d
}

func TestEngine_CompletedRun(t *testing.T) {
	t.Parallel()

	p := &fakeProber{}
	rec := dataset.NewMemoryRecorder()
	e := New(p, rec)

	require.NoError(t, e.Start("http://target", []string{"a", "b", "c"}))
	e.Wait()

	results := e.Results()
	require.Len(t, results, 6)
	wantPayloads := []string{"a", "a", "b", "b", "c", "c"}
	for i, r := range results {
		assert.Equal(t, i+1, r.ID)
		assert.Equal(t, wantPayloads[i], r.Payload)
		assert.Equal(t, defaults.Methods[i%2], r.Method)
	}

	st := e.Status()
	assert.Equal(t, Idle, st.State)
	assert.Equal(t, 3, st.Payloads)
	assert.Equal(t, 3, st.Processed)
	assert.Equal(t, 6, st.Results)
	assert.NotEmpty(t, st.RunID)
	assert.False(t, st.FinishedAt.IsZero())
	assert.Equal(t, 1, p.resets)
}

func TestEngine_DatasetRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		io.WriteString(w, "echo alert(1) here")
	}))
	t.Cleanup(srv.Close)

	rec := dataset.NewMemoryRecorder()
	e := New(newDispatcher(t), rec)
	require.NoError(t, e.Start(srv.URL, []string{"x", "y"}))
	e.Wait()

	results := e.Results()
	records := rec.Records()
	require.Len(t, results, 4)
	require.Len(t, records, 4)
	for i := range results {
		assert.Equal(t, results[i].Payload, records[i].Payload)
		assert.Equal(t, results[i].Status, records[i].ResponseCode)
		assert.Equal(t, results[i].AlertDetected, records[i].AlertDetected)
		assert.Equal(t, results[i].ErrorDetected, records[i].ErrorDetected)
		assert.Equal(t, results[i].BodyWordCountChanged, records[i].BodyWordCountChanged)
	}
	assert.Equal(t, dataset.Suspicious, records[0].Label)
	assert.Equal(t, dataset.Malicious, records[1].Label)
}

func TestEngine_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantSev   finding.Severity
		wantText  string
		wantAlert bool
		wantError bool
		wantLabel dataset.Label
	}{
		{"no markers", 200, "welcome home", finding.Low, finding.TextNone, false, false, dataset.Safe},
		{"reflected alert", 200, "<script>alert(1)</script>", finding.High, finding.TextXSS, true, false, dataset.Suspicious},
		{"service unavailable", 503, "<script>alert(1)</script>", finding.Critical, finding.TextServerError, true, true, dataset.Malicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			t.Cleanup(srv.Close)

			rec := dataset.NewMemoryRecorder()
			e := New(newDispatcher(t), rec)
			require.NoError(t, e.Start(srv.URL, []string{"p1", "p2", "p3"}))
			e.Wait()

			results := e.Results()
			require.Len(t, results, 6)
			for _, r := range results {
				assert.Equal(t, tt.wantSev, r.Severity)
				assert.Equal(t, tt.wantText, r.Finding)
				assert.Equal(t, tt.wantAlert, r.AlertDetected)
				assert.Equal(t, tt.wantError, r.ErrorDetected)
			}
			for _, rec := range rec.Records() {
				assert.Equal(t, tt.wantLabel, rec.Label)
			}
		})
	}
}

func TestEngine_EmptyPayloadsUseDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	e := New(newDispatcher(t), nil)
	require.NoError(t, e.Start(srv.URL, nil))
	e.Wait()

	results := e.Results()
	require.Len(t, results, 8)
	assert.Equal(t, defaults.PayloadSet()[0], results[0].Payload)
	assert.Equal(t, defaults.PayloadSet()[3], results[7].Payload)
}

func TestEngine_StartWhileRunning(t *testing.T) {
	t.Parallel()

	p := &fakeProber{block: make(chan struct{}), entered: make(chan string, 10)}
	e := New(p, nil)

	require.NoError(t, e.Start("http://target", []string{"a", "b"}))
	<-p.entered

	err := e.Start("http://other", []string{"z"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, err, ErrLifecycle)

	st := e.Status()
	assert.Equal(t, Running, st.State)
	assert.Equal(t, "http://target", st.Target)

	close(p.block)
	e.Wait()
	assert.Len(t, e.Results(), 4, "rejected Start must not reset the run")
	assert.Equal(t, 1, p.resets)
}

func TestEngine_StopWhileIdle(t *testing.T) {
	t.Parallel()

	e := New(&fakeProber{}, nil)
	err := e.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, err, ErrLifecycle)

	require.NoError(t, e.Start("http://target", []string{"a"}))
	e.Wait()
	before := e.Results()

	assert.ErrorIs(t, e.Stop(), ErrNotRunning)
	assert.Equal(t, before, e.Results())
}

func TestEngine_StopMidScan(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)

	payloads := make([]string, 50)
	for i := range payloads {
		payloads[i] = fmt.Sprintf("p%d", i)
	}

	rec := dataset.NewMemoryRecorder()
	e := New(newDispatcher(t), rec)
	require.NoError(t, e.Start(srv.URL, payloads))

	require.Eventually(t, func() bool { return len(e.Results()) >= 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop())
	assert.False(t, e.Running())
	e.Wait()

	n := len(e.Results())
	assert.Less(t, n, 2*len(payloads))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, len(e.Results()), "no probes after stop")
	assert.Len(t, rec.Records(), n)
}

func TestEngine_StopTimeoutAndStaleWorker(t *testing.T) {
	t.Parallel()

	p := &fakeProber{block: make(chan struct{}), entered: make(chan string, 10), inFlight: true}
	e := New(p, nil, WithStopTimeout(20*time.Millisecond))

	require.NoError(t, e.Start("http://first", []string{"old1", "old2"}))
	<-p.entered
	e.mu.Lock()
	oldDone := e.done
	e.mu.Unlock()

	start := time.Now()
	require.NoError(t, e.Stop(), "stop succeeds even if the worker is stuck")
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, e.Running())

	require.NoError(t, e.Start("http://second", []string{"new"}))
	<-p.entered
	close(p.block)

	<-oldDone
	e.Wait()

	results := e.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Payload)
	assert.Equal(t, 1, results[0].ID)
	assert.Equal(t, "http://second", e.Status().Target)
	assert.Equal(t, 2, p.callCount(), "stale worker probes nothing after its in-flight call")
}

func TestEngine_StaleResponseDoesNotLeakIntoNextRun(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	newGate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue(defaults.FuzzParam) {
		case "old":
			entered <- struct{}{}
			<-release
			io.WriteString(w, "one two three four five")
		default:
			<-newGate
			io.WriteString(w, "x")
		}
	}))
	t.Cleanup(srv.Close)
	open := func(c chan struct{}) {
		select {
		case <-c:
		default:
			close(c)
		}
	}
	t.Cleanup(func() {
		open(release)
		open(newGate)
	})

	e := New(newDispatcher(t), nil, WithStopTimeout(10*time.Millisecond))

	require.NoError(t, e.Start(srv.URL, []string{"old"}))
	<-entered
	e.mu.Lock()
	oldDone := e.done
	e.mu.Unlock()

	require.NoError(t, e.Stop())
	require.NoError(t, e.Start(srv.URL, []string{"new"}))

	// The old response lands after the new run has started but before the
	// new run's first response.
	open(release)
	<-oldDone
	open(newGate)
	e.Wait()

	results := e.Results()
	require.Len(t, results, len(defaults.Methods))
	assert.Equal(t, "new", results[0].Payload)
	assert.Equal(t, defaults.Methods[0], results[0].Method)
	require.False(t, results[0].BodyWordCountChanged)
	for _, r := range results {
		assert.Equal(t, finding.Low, r.Severity, r.Method)
	}
}

func TestEngine_StorageErrorDoesNotStopRun(t *testing.T) {
	t.Parallel()

	rec := dataset.NewMemoryRecorder()
	rec.Fail = errors.New("disk full")
	m, err := metrics.New()
	require.NoError(t, err)

	e := New(&fakeProber{}, rec, WithMetrics(m))
	require.NoError(t, e.Start("http://target", []string{"a", "b"}))
	e.Wait()

	assert.Len(t, e.Results(), 4)
	assert.Empty(t, rec.Records())

	const want = `
# HELP webfuzzer_dataset_errors_total Total number of dataset records that could not be persisted
# TYPE webfuzzer_dataset_errors_total counter
webfuzzer_dataset_errors_total 4
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "webfuzzer_dataset_errors_total"))
}

func TestEngine_ResultsSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	e := New(&fakeProber{}, nil)
	require.NoError(t, e.Start("http://target", []string{"a"}))
	e.Wait()

	snap := e.Results()
	snap[0].Payload = "mutated"
	assert.Equal(t, "a", e.Results()[0].Payload)
}

func TestEngine_NewRunClearsResults(t *testing.T) {
	t.Parallel()

	e := New(&fakeProber{}, nil)
	require.NoError(t, e.Start("http://target", []string{"a", "b"}))
	e.Wait()
	firstID := e.Status().RunID
	require.Len(t, e.Results(), 4)

	require.NoError(t, e.Start("http://target", []string{"c"}))
	e.Wait()
	assert.Len(t, e.Results(), 2)
	assert.NotEqual(t, firstID, e.Status().RunID)
}

func TestEngine_OnResult(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ids []int
	e := New(&fakeProber{}, nil, WithOnResult(func(r finding.Result) {
		mu.Lock()
		ids = append(ids, r.ID)
		mu.Unlock()
	}))
	require.NoError(t, e.Start("http://target", []string{"a", "b"}))
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4}, ids)
}

func TestEngine_Metrics(t *testing.T) {
	t.Parallel()

	m, err := metrics.New()
	require.NoError(t, err)

	e := New(&fakeProber{}, nil, WithMetrics(m))
	require.NoError(t, e.Start("http://target", []string{"a", "b", "c"}))
	e.Wait()

	count, err := testutil.GatherAndCount(m.Registry(), "webfuzzer_probes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per method")
	count, err = testutil.GatherAndCount(m.Registry(), "webfuzzer_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
