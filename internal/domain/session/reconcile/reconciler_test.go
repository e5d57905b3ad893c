// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
	"github.com/ManuGH/auravision/internal/domain/session/store"
)

// harness wires a reconciler to a real store holding an analyzing session.
type harness struct {
	store     *store.Store
	rec       *Reconciler
	emitted   []lifecycle.Event
	terminals []model.Status
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: store.New()}
	h.store.Begin(model.NewFileSource(model.FileSource{Name: "a.mp4", SizeBytes: 1, MIMEType: "video/mp4"}), "corr")
	for _, ev := range []lifecycle.Event{
		{Kind: lifecycle.EvUploadStarted},
		{Kind: lifecycle.EvUploadSucceeded, SessionID: "vid-1"},
		{Kind: lifecycle.EvAnalyzeStarted, Mode: "standard"},
	} {
		_, err := h.store.Apply(ev)
		require.NoError(t, err)
	}
	h.rec = New(Config{
		SessionID: "vid-1",
		Emit: func(ev lifecycle.Event) error {
			h.emitted = append(h.emitted, ev)
			_, err := h.store.Apply(ev)
			return err
		},
		OnTerminal: func(s model.Status) { h.terminals = append(h.terminals, s) },
	})
	return h
}

func (h *harness) snapshot(t *testing.T) model.Session {
	t.Helper()
	s, ok := h.store.Snapshot()
	require.True(t, ok)
	return s
}

func push(seq uint64, progress float64) ports.PushEvent {
	return ports.PushEvent{
		Type:    ports.PushUpdate,
		Seq:     seq,
		Payload: ports.Update{Status: ports.ServiceProcessing, Progress: lifecycle.Percent(progress)},
	}
}

func TestReconciler_PushWinsWithinTick(t *testing.T) {
	h := newHarness(t)
	tick := h.rec.BeginTick()

	h.rec.HandlePush(push(1, 40))
	h.rec.HandlePoll(tick, ports.PollStatus{Status: ports.ServiceProcessing, Progress: 30})

	s := h.snapshot(t)
	assert.Equal(t, 40.0, s.AnalysisProgress)
	assert.Len(t, h.emitted, 1, "a poll that changes nothing must not emit")
}

func TestReconciler_LaterTickPollOutranksEarlierPush(t *testing.T) {
	h := newHarness(t)
	h.rec.BeginTick()
	h.rec.HandlePush(ports.PushEvent{Type: ports.PushUpdate, Seq: 1, Payload: ports.Update{
		Statistics: model.Statistics{model.MetricDetectionCount: 5},
	}})

	tick := h.rec.BeginTick()
	h.rec.HandlePoll(tick, ports.PollStatus{Status: ports.ServiceProcessing, Progress: 10,
		Statistics: model.Statistics{model.MetricDetectionCount: 3}})

	s := h.snapshot(t)
	assert.Equal(t, 3.0, s.Statistics[model.MetricDetectionCount])
	assert.Equal(t, 10.0, s.AnalysisProgress)
}

func TestReconciler_StalePollFromEarlierTickIsDropped(t *testing.T) {
	h := newHarness(t)
	early := h.rec.BeginTick()
	late := h.rec.BeginTick()

	h.rec.HandlePoll(late, ports.PollStatus{Status: ports.ServiceProcessing,
		Statistics: model.Statistics{model.MetricProcessingRate: 24}})
	h.rec.HandlePoll(early, ports.PollStatus{Status: ports.ServiceProcessing,
		Statistics: model.Statistics{model.MetricProcessingRate: 12}})

	assert.Equal(t, 24.0, h.snapshot(t).Statistics[model.MetricProcessingRate])
}

func TestReconciler_DuplicatePushIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.rec.BeginTick()
	h.rec.HandlePush(push(2, 50))
	before := h.snapshot(t)

	h.rec.HandlePush(push(2, 90), push(1, 99))

	after := h.snapshot(t)
	assert.Equal(t, before, after)
	assert.Len(t, h.emitted, 1)
}

func TestReconciler_BatchCoalescesToOneUpdate(t *testing.T) {
	h := newHarness(t)
	h.rec.BeginTick()

	h.rec.HandlePush(
		ports.PushEvent{Type: ports.PushUpdate, Seq: 1, Payload: ports.Update{
			Progress:   lifecycle.Percent(20),
			Statistics: model.Statistics{model.MetricBehaviorCount: 1},
			Results:    []model.Result{model.NewResult(1, 30, []string{"walking"}, 0.8, 1)},
		}},
		ports.PushEvent{Type: ports.PushUpdate, Seq: 2, Payload: ports.Update{
			Progress: lifecycle.Percent(25),
			Results: []model.Result{
				model.NewResult(1, 30, []string{"walking"}, 0.8, 1),
				model.NewResult(2, 60, []string{"running"}, 0.7, 2),
			},
		}},
	)

	require.Len(t, h.emitted, 1)
	ev := h.emitted[0]
	assert.Equal(t, lifecycle.EvAnalysisUpdate, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, 25.0, *ev.Progress)

	s := h.snapshot(t)
	require.Len(t, s.Results, 2)
	assert.Equal(t, []int{30, 60}, []int{s.Results[0].FrameNumber, s.Results[1].FrameNumber})
	assert.Equal(t, 1.0, s.Statistics[model.MetricBehaviorCount])
}

func TestReconciler_LocalSeqStartsAboveStoreSeq(t *testing.T) {
	var got []uint64
	rec := New(Config{
		SessionID: "vid",
		StartSeq:  41,
		Emit: func(ev lifecycle.Event) error {
			got = append(got, ev.Seq)
			return nil
		},
	})
	rec.BeginTick()
	rec.HandlePush(push(1, 10))
	rec.HandlePush(push(2, 20))
	assert.Equal(t, []uint64{42, 43}, got)
}

func TestReconciler_CompletedIsTerminal(t *testing.T) {
	h := newHarness(t)
	tick := h.rec.BeginTick()
	h.rec.HandlePush(push(1, 60))
	h.rec.HandlePoll(tick, ports.PollStatus{Status: ports.ServiceCompleted, Progress: 100})

	assert.True(t, h.rec.Terminal())
	assert.Equal(t, []model.Status{model.StatusCompleted}, h.terminals)
	s := h.snapshot(t)
	assert.Equal(t, model.StatusCompleted, s.Status)
	assert.Equal(t, 100.0, s.AnalysisProgress)

	emitted := len(h.emitted)
	h.rec.HandlePush(push(5, 10))
	h.rec.HandlePoll(h.rec.BeginTick(), ports.PollStatus{Status: ports.ServiceProcessing})
	assert.Len(t, h.emitted, emitted, "inputs after terminal are discarded")
	assert.Len(t, h.terminals, 1)
}

func TestReconciler_PushCompleteWithoutStatus(t *testing.T) {
	h := newHarness(t)
	h.rec.BeginTick()
	h.rec.HandlePush(ports.PushEvent{Type: ports.PushComplete, Seq: 7})

	assert.Equal(t, model.StatusCompleted, h.snapshot(t).Status)
}

func TestReconciler_ServiceErrorFailsSession(t *testing.T) {
	h := newHarness(t)
	h.rec.BeginTick()
	h.rec.HandlePush(ports.PushEvent{Type: ports.PushUpdate, Seq: 1, Payload: ports.Update{
		Status: ports.ServiceError, Error: "decoder crashed",
	}})

	s := h.snapshot(t)
	assert.Equal(t, model.StatusFailed, s.Status)
	assert.Equal(t, model.RAnalysisFailed, s.Reason)
	assert.Equal(t, "decoder crashed", s.Cause)
	assert.Equal(t, []model.Status{model.StatusFailed}, h.terminals)
}

func TestReconciler_StoppedByServiceHasDefaultCause(t *testing.T) {
	h := newHarness(t)
	h.rec.HandlePoll(h.rec.BeginTick(), ports.PollStatus{Status: ports.ServiceStopped})

	s := h.snapshot(t)
	assert.Equal(t, model.StatusFailed, s.Status)
	assert.Equal(t, "analysis service reported stopped", s.Cause)
}
