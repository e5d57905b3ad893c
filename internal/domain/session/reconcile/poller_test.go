// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type lostRecorder struct {
	mu   sync.Mutex
	errs []error
	done chan struct{}
}

func newLostRecorder() *lostRecorder { return &lostRecorder{done: make(chan struct{})} }

func (l *lostRecorder) onLost(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
	if len(l.errs) == 1 {
		close(l.done)
	}
}

func runPoller(t *testing.T, p *Poller) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return cancel, done
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPoller_ConnectivityLostAfterMaxMisses(t *testing.T) {
	var calls atomic.Int32
	lost := newLostRecorder()
	p := NewPoller(PollerConfig{
		Interval:  10 * time.Millisecond,
		MaxMisses: 5,
		Fetch: func(context.Context) (ports.PollStatus, error) {
			calls.Add(1)
			return ports.PollStatus{}, errors.New("connection refused")
		},
		Rec:    New(Config{SessionID: "vid"}),
		OnLost: lost.onLost,
	})

	cancel, done := runPoller(t, p)
	defer cancel()

	waitClosed(t, lost.done, "connectivity lost")
	waitClosed(t, done, "poller exit")

	lost.mu.Lock()
	defer lost.mu.Unlock()
	require.Len(t, lost.errs, 1)
	assert.ErrorIs(t, lost.errs[0], lifecycle.ErrConnectivityLost)
	// Skipped ticks count as misses too, so at most one request per miss.
	assert.LessOrEqual(t, calls.Load(), int32(5))
}

func TestPoller_SlowRequestsNeverOverlap(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	lost := newLostRecorder()
	p := NewPoller(PollerConfig{
		Interval:  10 * time.Millisecond,
		MaxMisses: 4,
		Fetch: func(ctx context.Context) (ports.PollStatus, error) {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				cur := maxInflight.Load()
				if n <= cur || maxInflight.CompareAndSwap(cur, n) {
					break
				}
			}
			<-ctx.Done()
			return ports.PollStatus{}, ctx.Err()
		},
		Rec:    New(Config{SessionID: "vid"}),
		OnLost: lost.onLost,
	})

	cancel, done := runPoller(t, p)
	defer cancel()

	waitClosed(t, lost.done, "connectivity lost")
	waitClosed(t, done, "poller exit")
	assert.Equal(t, int32(1), maxInflight.Load())
}

// A service that never answers costs one interval per miss: the deadline of
// a stalled request must not push the next request out by a further tick.
func TestPoller_StalledServiceFailsWithinMissBudget(t *testing.T) {
	const (
		interval  = 50 * time.Millisecond
		maxMisses = 4
	)
	lost := newLostRecorder()
	p := NewPoller(PollerConfig{
		Interval:  interval,
		MaxMisses: maxMisses,
		Fetch: func(ctx context.Context) (ports.PollStatus, error) {
			<-ctx.Done()
			return ports.PollStatus{}, ctx.Err()
		},
		Rec:    New(Config{SessionID: "vid"}),
		OnLost: lost.onLost,
	})

	start := time.Now()
	cancel, done := runPoller(t, p)
	defer cancel()

	waitClosed(t, lost.done, "connectivity lost")
	elapsed := time.Since(start)
	waitClosed(t, done, "poller exit")

	assert.GreaterOrEqual(t, elapsed, (maxMisses-1)*interval)
	assert.Less(t, elapsed, (maxMisses+2)*interval, "lost after %s", elapsed)
}

// Pushes merged before the poller's first request belong to the same tick
// as that request, so their values win over the first poll.
func TestPoller_FirstPollSharesTickWithEarlierPush(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	p := NewPoller(PollerConfig{
		Interval: time.Hour,
		Fetch: func(context.Context) (ports.PollStatus, error) {
			calls.Add(1)
			return ports.PollStatus{
				Status:   ports.ServiceProcessing,
				Progress: 30,
				Statistics: model.Statistics{
					model.MetricDetectionCount: 7,
					model.MetricProcessingRate: 24,
				},
			}, nil
		},
		Rec: h.rec,
	})

	h.rec.HandlePush(ports.PushEvent{Type: ports.PushUpdate, Seq: 1, Payload: ports.Update{
		Status:     ports.ServiceProcessing,
		Progress:   lifecycle.Percent(40),
		Statistics: model.Statistics{model.MetricDetectionCount: 12},
	}})

	cancel, done := runPoller(t, p)
	require.Eventually(t, func() bool {
		s, _ := h.store.Snapshot()
		return s.Statistics[model.MetricProcessingRate] == 24
	}, 5*time.Second, time.Millisecond)
	cancel()
	waitClosed(t, done, "poller exit")

	s := h.snapshot(t)
	assert.Equal(t, 12.0, s.Statistics[model.MetricDetectionCount])
	assert.Equal(t, 40.0, s.AnalysisProgress)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoller_SuccessResetsMisses(t *testing.T) {
	var calls atomic.Int32
	lost := newLostRecorder()
	p := NewPoller(PollerConfig{
		Interval:  20 * time.Millisecond,
		MaxMisses: 4,
		Fetch: func(context.Context) (ports.PollStatus, error) {
			n := calls.Add(1)
			// Two failures, one success, repeating: never three in a row.
			if n%3 == 0 {
				return ports.PollStatus{Status: ports.ServiceProcessing, Progress: float64(n)}, nil
			}
			return ports.PollStatus{}, errors.New("flaky")
		},
		Rec:    New(Config{SessionID: "vid"}),
		OnLost: lost.onLost,
	})

	cancel, done := runPoller(t, p)
	require.Eventually(t, func() bool { return calls.Load() >= 12 }, 5*time.Second, time.Millisecond)
	cancel()
	waitClosed(t, done, "poller exit")

	lost.mu.Lock()
	defer lost.mu.Unlock()
	assert.Empty(t, lost.errs)
}

func TestPoller_StopsWhenTerminal(t *testing.T) {
	var emitted []lifecycle.Event
	var mu sync.Mutex
	rec := New(Config{SessionID: "vid", Emit: func(ev lifecycle.Event) error {
		mu.Lock()
		emitted = append(emitted, ev)
		mu.Unlock()
		return nil
	}})
	p := NewPoller(PollerConfig{
		Interval: 5 * time.Millisecond,
		Fetch: func(context.Context) (ports.PollStatus, error) {
			return ports.PollStatus{Status: ports.ServiceCompleted, Progress: 100}, nil
		},
		Rec: rec,
	})

	cancel, done := runPoller(t, p)
	defer cancel()
	waitClosed(t, done, "poller exit")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, emitted, 1)
	assert.Equal(t, lifecycle.EvAnalysisCompleted, emitted[0].Kind)
	assert.True(t, rec.Terminal())
}

func TestPoller_ExitsOnCancel(t *testing.T) {
	p := NewPoller(PollerConfig{
		Interval: time.Hour,
		Fetch: func(ctx context.Context) (ports.PollStatus, error) {
			<-ctx.Done()
			return ports.PollStatus{}, ctx.Err()
		},
		Rec: New(Config{SessionID: "vid"}),
	})
	cancel, done := runPoller(t, p)
	cancel()
	waitClosed(t, done, "poller exit")
}
