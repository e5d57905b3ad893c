// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package analysisapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
	"github.com/ManuGH/auravision/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEnv(t *testing.T, opts MockOptions, copts Options) (*MockServer, *Client) {
	t.Helper()
	mock := NewMockServer(opts)
	srv := httptest.NewServer(mock)
	copts.BaseURL = srv.URL
	if copts.Timeout == 0 {
		copts.Timeout = 2 * time.Second
	}
	c, err := New(copts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		mock.Close()
		srv.Close()
	})
	return mock, c
}

func writeVideo(t *testing.T, size int) model.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	src, err := model.FileSourceFromPath(path)
	require.NoError(t, err)
	return src
}

type collector struct {
	mu     sync.Mutex
	events []ports.PushEvent
	done   chan struct{}
	once   sync.Once
}

func newCollector() *collector { return &collector{done: make(chan struct{})} }

func (c *collector) on(ev ports.PushEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	if ev.Type == ports.PushComplete {
		c.once.Do(func() { close(c.done) })
	}
}

func (c *collector) snapshot() []ports.PushEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.PushEvent(nil), c.events...)
}

func TestNew_ValidatesURLs(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	require.Error(t, err)
	_, err = New(Options{BaseURL: "http://"})
	require.Error(t, err)
	_, err = New(Options{BaseURL: "http://localhost:8000", PushURL: "http://localhost:8000"})
	require.Error(t, err)

	c, err := New(Options{BaseURL: "https://analysis.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "wss", c.push.Scheme)
	assert.Equal(t, "https://analysis.example.com/api/status/v1", c.endpoint("api", "status", "v1"))
}

func TestClient_UploadReportsProgress(t *testing.T) {
	mock, c := newEnv(t, MockOptions{}, Options{})
	src := writeVideo(t, 256<<10)

	var mu sync.Mutex
	var seen []float64
	res, err := c.Upload(context.Background(), src, func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	assert.True(t, model.IsSafeSessionID(res.SessionID))

	status, ok := mock.VideoStatus(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, "uploaded", status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100.0, seen[len(seen)-1])
	assert.IsNonDecreasing(t, seen)
}

func TestClient_UploadWithoutPath(t *testing.T) {
	_, c := newEnv(t, MockOptions{}, Options{})
	src := model.NewFileSource(model.FileSource{Name: "a.mp4", SizeBytes: 10, MIMEType: "video/mp4"})
	_, err := c.Upload(context.Background(), src, nil)
	require.ErrorIs(t, err, lifecycle.ErrInvalidMedia)
}

func TestClient_RegisterLive(t *testing.T) {
	mock, c := newEnv(t, MockOptions{}, Options{})
	res, err := c.Upload(context.Background(), model.NewLiveSource(1280, 720), nil)
	require.NoError(t, err)
	_, ok := mock.VideoStatus(res.SessionID)
	assert.True(t, ok)
}

func TestClient_AnalysisOverPush(t *testing.T) {
	mock, c := newEnv(t, MockOptions{Step: 5 * time.Millisecond, Increment: 0.25}, Options{})
	ctx := context.Background()

	up, err := c.Upload(ctx, writeVideo(t, 1024), nil)
	require.NoError(t, err)

	col := newCollector()
	h, err := c.OpenPushChannel(ctx, up.SessionID, col.on)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mock.Subscribers(up.SessionID) == 1 }, 2*time.Second, time.Millisecond)

	res, err := c.StartAnalyze(ctx, up.SessionID, "standard", map[string]string{"sensitivity": "high"})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	select {
	case <-col.done:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis never completed")
	}
	require.NoError(t, c.ClosePushChannel(ctx, h))

	events := col.snapshot()
	require.Len(t, events, 5)
	results := 0
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		results += len(ev.Payload.Results)
	}
	assert.Equal(t, 4, results)

	last := events[3]
	require.NotNil(t, last.Payload.Progress)
	assert.Equal(t, 100.0, *last.Payload.Progress)
	assert.Equal(t, ports.ServiceCompleted, events[4].Payload.Status)
	assert.InDelta(t, 0.825, events[4].Payload.Statistics[model.MetricAvgConfidence], 0.001)

	poll, err := c.PollStatus(ctx, up.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ports.ServiceCompleted, poll.Status)
	assert.Equal(t, 100.0, poll.Progress)
	assert.Equal(t, 120.0, poll.Statistics[model.MetricProcessedFrames])
}

func TestClient_PushSeqFallback(t *testing.T) {
	mock, c := newEnv(t, MockOptions{Step: 5 * time.Millisecond, Increment: 0.5, OmitSeq: true}, Options{})
	ctx := context.Background()

	up, err := c.Upload(ctx, model.NewLiveSource(640, 480), nil)
	require.NoError(t, err)
	col := newCollector()
	_, err = c.OpenPushChannel(ctx, up.SessionID, col.on)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mock.Subscribers(up.SessionID) == 1 }, 2*time.Second, time.Millisecond)
	_, err = c.StartAnalyze(ctx, up.SessionID, "fast", nil)
	require.NoError(t, err)

	select {
	case <-col.done:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis never completed")
	}
	for i, ev := range col.snapshot() {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestClient_ClosePushChannel(t *testing.T) {
	mock, c := newEnv(t, MockOptions{}, Options{})
	ctx := context.Background()
	up, err := c.Upload(ctx, model.NewLiveSource(640, 480), nil)
	require.NoError(t, err)

	h, err := c.OpenPushChannel(ctx, up.SessionID, func(ports.PushEvent) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mock.Subscribers(up.SessionID) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.ClosePushChannel(ctx, h))
	require.Eventually(t, func() bool { return mock.Subscribers(up.SessionID) == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.ClosePushChannel(ctx, h), "closing twice is not an error")
	require.NoError(t, c.ClosePushChannel(ctx, "ws-unknown"))
}

func TestClient_OpenPushUnknownVideo(t *testing.T) {
	_, c := newEnv(t, MockOptions{}, Options{})
	_, err := c.OpenPushChannel(context.Background(), "missing", func(ports.PushEvent) {})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, lifecycle.ErrTransport)
}

func TestClient_StartAnalyzeNotAccepted(t *testing.T) {
	_, c := newEnv(t, MockOptions{Step: time.Hour}, Options{})
	ctx := context.Background()
	up, err := c.Upload(ctx, model.NewLiveSource(640, 480), nil)
	require.NoError(t, err)

	res, err := c.StartAnalyze(ctx, up.SessionID, "standard", nil)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = c.StartAnalyze(ctx, up.SessionID, "standard", nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "video already processing", res.Detail)

	res, err = c.StartAnalyze(ctx, up.SessionID, "turbo", nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestClient_StartAnalyzeUnknownVideo(t *testing.T) {
	_, c := newEnv(t, MockOptions{}, Options{})
	_, err := c.StartAnalyze(context.Background(), "missing", "standard", nil)
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, opAnalyze, apiErr.Operation)
}

func TestClient_StopAnalysis(t *testing.T) {
	mock, c := newEnv(t, MockOptions{Step: time.Hour}, Options{})
	ctx := context.Background()
	up, err := c.Upload(ctx, model.NewLiveSource(640, 480), nil)
	require.NoError(t, err)
	_, err = c.StartAnalyze(ctx, up.SessionID, "standard", nil)
	require.NoError(t, err)

	require.NoError(t, c.StopAnalysis(ctx, up.SessionID))
	status, _ := mock.VideoStatus(up.SessionID)
	assert.Equal(t, "stopped", status)
	assert.Equal(t, []string{up.SessionID}, mock.StopRequests())

	poll, err := c.PollStatus(ctx, up.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ports.ServiceStopped, poll.Status)
	assert.True(t, poll.Status.IsFailure())
}

func TestClient_PauseResumeRestart(t *testing.T) {
	mock, c := newEnv(t, MockOptions{Step: 10 * time.Millisecond, Increment: 0.1}, Options{})
	ctx := context.Background()
	up, err := c.Upload(ctx, model.NewLiveSource(640, 480), nil)
	require.NoError(t, err)
	_, err = c.StartAnalyze(ctx, up.SessionID, "standard", nil)
	require.NoError(t, err)

	st, err := c.Control(ctx, up.SessionID, ActionPause)
	require.NoError(t, err)
	assert.Equal(t, ports.ServicePaused, st)

	paused, err := c.PollStatus(ctx, up.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ports.ServicePaused, paused.Status)
	time.Sleep(50 * time.Millisecond)
	still, err := c.PollStatus(ctx, up.SessionID)
	require.NoError(t, err)
	assert.Equal(t, paused.Progress, still.Progress, "a paused analysis must not advance")

	st, err = c.Control(ctx, up.SessionID, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, ports.ServiceProcessing, st)
	require.Eventually(t, func() bool {
		s, _ := mock.VideoStatus(up.SessionID)
		return s == "completed"
	}, 5*time.Second, 5*time.Millisecond)

	_, err = c.Control(ctx, up.SessionID, ActionPause)
	require.ErrorIs(t, err, lifecycle.ErrTransport)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "control_pause", apiErr.Operation)

	st, err = c.Control(ctx, up.SessionID, ActionRestart)
	require.NoError(t, err)
	assert.Equal(t, ports.ServiceProcessing, st)
	restarted, err := c.PollStatus(ctx, up.SessionID)
	require.NoError(t, err)
	assert.Less(t, restarted.Progress, 100.0)
	require.Eventually(t, func() bool {
		s, _ := mock.VideoStatus(up.SessionID)
		return s == "completed"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestClient_ControlRejectsUnknownAction(t *testing.T) {
	_, c := newEnv(t, MockOptions{Step: time.Hour}, Options{})
	ctx := context.Background()
	up, err := c.Upload(ctx, model.NewLiveSource(640, 480), nil)
	require.NoError(t, err)

	_, err = c.Control(ctx, up.SessionID, ControlAction("rewind"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = c.Control(ctx, "missing", ActionStop)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ResultsPages(t *testing.T) {
	mock, c := newEnv(t, MockOptions{Step: 2 * time.Millisecond, Increment: 0.25}, Options{})
	ctx := context.Background()
	up, err := c.Upload(ctx, writeVideo(t, 1024), nil)
	require.NoError(t, err)
	_, err = c.StartAnalyze(ctx, up.SessionID, "standard", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := mock.VideoStatus(up.SessionID)
		return s == "completed"
	}, 5*time.Second, 2*time.Millisecond)

	first, err := c.Results(ctx, up.SessionID, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Total)
	assert.Equal(t, 3, first.Limit)
	require.Len(t, first.Results, 3)
	assert.Equal(t, 0, first.Results[0].FrameNumber)
	assert.Equal(t, 30, first.Results[1].FrameNumber)
	assert.InDelta(t, 0.80, first.Results[1].Confidence, 0.001)
	assert.Equal(t, 120.0, first.Summary[model.MetricProcessedFrames])

	rest, err := c.Results(ctx, up.SessionID, 3, 3)
	require.NoError(t, err)
	require.Len(t, rest.Results, 1)
	assert.Equal(t, 90, rest.Results[0].FrameNumber)

	past, err := c.Results(ctx, up.SessionID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, past.Results)
	assert.Equal(t, 100, past.Limit)

	_, err = c.Results(ctx, up.SessionID, -1, 0)
	require.Error(t, err)
	_, err = c.Results(ctx, "missing", 0, 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ErrorsAreTransportErrors(t *testing.T) {
	mock, c := newEnv(t, MockOptions{}, Options{})
	mock.FailNext(EndpointStatus, 1)

	_, err := c.PollStatus(context.Background(), "whatever")
	require.ErrorIs(t, err, ErrUpstreamError)
	require.ErrorIs(t, err, lifecycle.ErrTransport)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Contains(t, apiErr.Body, "injected failure")
}

func TestClient_Timeout(t *testing.T) {
	mock, c := newEnv(t, MockOptions{}, Options{Timeout: 20 * time.Millisecond})
	mock.SetDelay(EndpointSystem, 500*time.Millisecond)

	_, err := c.SystemStatus(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, lifecycle.ErrTransport)
}

func TestClient_CallerCancelIsNotUpstreamFailure(t *testing.T) {
	mock, c := newEnv(t, MockOptions{}, Options{})
	mock.SetDelay(EndpointSystem, 500*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.SystemStatus(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, lifecycle.ErrTransport)
}

func TestClient_BreakerOpensOnUpstreamFailures(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("test-analysisapi", 2, time.Hour,
		resilience.WithFailurePredicate(tripsBreaker))
	mock, c := newEnv(t, MockOptions{}, Options{Breaker: breaker})
	mock.FailNext(EndpointSystem, 10)

	for range 2 {
		_, err := c.SystemStatus(context.Background())
		require.ErrorIs(t, err, ErrUpstreamError)
	}
	assert.Equal(t, "open", breaker.State())

	_, err := c.SystemStatus(context.Background())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.ErrorIs(t, err, lifecycle.ErrTransport)
}

func TestClient_SystemStatus(t *testing.T) {
	_, c := newEnv(t, MockOptions{}, Options{})
	st, err := c.SystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Contains(t, st.SupportedModes, "standard")
}

func TestClient_PollNormalizesServiceFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "processing",
			"progress": 0.873,
			"statistics": {
				"confidence_score": "87.3%",
				"detection_count": 12,
				"processing_fps": "24.5",
				"behavior_count": "n/a",
				"student_count": 30
			}
		}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	st, err := c.PollStatus(context.Background(), "v1")
	require.NoError(t, err)

	assert.Equal(t, ports.ServiceProcessing, st.Status)
	assert.InDelta(t, 87.3, st.Progress, 1e-9)
	assert.InDelta(t, 0.873, st.Statistics[model.MetricAvgConfidence], 1e-9)
	assert.Equal(t, 12.0, st.Statistics[model.MetricDetectionCount])
	assert.Equal(t, 24.5, st.Statistics[model.MetricProcessingRate])
	assert.NotContains(t, st.Statistics, model.MetricBehaviorCount)
	assert.Len(t, st.Statistics, 3)
}

func TestClient_PollRejectsUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"melting","progress":0.1}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.PollStatus(context.Background(), "v1")
	require.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestDecodeUpdate(t *testing.T) {
	u, err := decodeUpdate([]byte(`{"status":"error","progress":1.7,"error":"model crashed",
		"results":[{"timestamp":1.5,"frame_number":45,"behaviors":["writing","reading","writing"],"confidence":1.2,"object_count":2}]}`))
	require.NoError(t, err)
	assert.Equal(t, ports.ServiceError, u.Status)
	require.NotNil(t, u.Progress)
	assert.Equal(t, 100.0, *u.Progress)
	assert.Equal(t, "model crashed", u.Error)
	require.Len(t, u.Results, 1)
	assert.Equal(t, []string{"reading", "writing"}, u.Results[0].Behaviors)
	assert.Equal(t, 1.0, u.Results[0].Confidence)

	u, err = decodeUpdate(nil)
	require.NoError(t, err)
	assert.Nil(t, u.Progress)

	_, err = decodeUpdate([]byte(`{"status":"melting"}`))
	require.Error(t, err)
}
