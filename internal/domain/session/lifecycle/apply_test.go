// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func analyzingSession(t *testing.T) model.Session {
	t.Helper()
	s := model.Session{CorrelationID: "c1", Status: model.StatusIdle}
	steps := []Event{
		{Kind: EvUploadStarted},
		{Kind: EvUploadProgress, Progress: Percent(50)},
		{Kind: EvUploadSucceeded, SessionID: "vid-1"},
		{Kind: EvAnalyzeStarted, Mode: "standard", Config: map[string]string{"sensitivity": "high"}},
	}
	for _, ev := range steps {
		var err error
		s, _, err = Apply(s, ev, t0)
		require.NoError(t, err)
	}
	require.Equal(t, model.StatusAnalyzing, s.Status)
	return s
}

func TestApply_HappyPath(t *testing.T) {
	s := analyzingSession(t)
	assert.Equal(t, "vid-1", s.SessionID)
	assert.Equal(t, 100.0, s.UploadProgress)
	assert.Equal(t, "standard", s.Mode)
	assert.Equal(t, "high", s.Config["sensitivity"])

	s, tr, err := Apply(s, Event{
		Kind:       EvAnalysisUpdate,
		Seq:        1,
		Progress:   Percent(40),
		Statistics: model.Statistics{model.MetricDetectionCount: 3},
		Results:    []model.Result{model.NewResult(0.5, 15, []string{"walking"}, 0.9, 2)},
	}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnalyzing, tr.To)
	assert.Equal(t, 40.0, s.AnalysisProgress)
	assert.Equal(t, uint64(1), s.LastUpdateSeq)
	require.Len(t, s.Results, 1)

	s, tr, err = Apply(s, Event{Kind: EvAnalysisCompleted, Seq: 2}, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, tr.To)
	assert.Equal(t, 100.0, s.AnalysisProgress)
	assert.Equal(t, t0.Add(2*time.Second), s.CompletedAt)
	assert.Equal(t, 3.0, s.Statistics[model.MetricDetectionCount])
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := analyzingSession(t)
	before := s.Clone()

	_, _, err := Apply(s, Event{
		Kind:       EvAnalysisUpdate,
		Seq:        5,
		Progress:   Percent(70),
		Statistics: model.Statistics{model.MetricBehaviorCount: 4},
		Results:    []model.Result{model.NewResult(1, 30, nil, 0.5, 1)},
	}, t0)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(before, s))
}

func TestApply_StaleUpdateIsDiscarded(t *testing.T) {
	s := analyzingSession(t)
	s, _, err := Apply(s, Event{Kind: EvAnalysisUpdate, Seq: 3, Progress: Percent(60)}, t0)
	require.NoError(t, err)

	for _, seq := range []uint64{1, 2, 3} {
		got, _, err := Apply(s, Event{Kind: EvAnalysisUpdate, Seq: seq, Progress: Percent(90)}, t0.Add(time.Minute))
		require.ErrorIs(t, err, ErrStaleUpdate)
		require.Empty(t, cmp.Diff(s, got), "seq %d must not change the session", seq)
	}
}

func TestApply_ProgressIsNonDecreasing(t *testing.T) {
	s := analyzingSession(t)
	s, _, err := Apply(s, Event{Kind: EvAnalysisUpdate, Seq: 1, Progress: Percent(40)}, t0)
	require.NoError(t, err)
	s, _, err = Apply(s, Event{Kind: EvAnalysisUpdate, Seq: 2, Progress: Percent(30)}, t0)
	require.NoError(t, err)
	assert.Equal(t, 40.0, s.AnalysisProgress)
	assert.Equal(t, uint64(2), s.LastUpdateSeq)
}

func TestApply_ResultsAppendOnlyPastLastFrame(t *testing.T) {
	s := analyzingSession(t)
	s, _, err := Apply(s, Event{Kind: EvAnalysisUpdate, Seq: 1, Results: []model.Result{
		model.NewResult(1, 30, nil, 0.5, 1),
		model.NewResult(2, 60, nil, 0.5, 1),
	}}, t0)
	require.NoError(t, err)
	s, _, err = Apply(s, Event{Kind: EvAnalysisUpdate, Seq: 2, Results: []model.Result{
		model.NewResult(2, 60, nil, 0.9, 9),
		model.NewResult(3, 90, nil, 0.5, 1),
	}}, t0)
	require.NoError(t, err)

	require.Len(t, s.Results, 3)
	assert.Equal(t, 1, s.Results[1].ObjectCount)
	assert.Equal(t, 90, s.Results[2].FrameNumber)
}

func TestApply_StaleSessionIsDiscarded(t *testing.T) {
	s := analyzingSession(t)
	got, _, err := Apply(s, Event{Kind: EvAnalysisUpdate, SessionID: "vid-old", Seq: 9, Progress: Percent(99)}, t0)
	require.ErrorIs(t, err, ErrStaleSession)
	require.Empty(t, cmp.Diff(s, got))
}

func TestApply_IllegalTransitionIsDiscarded(t *testing.T) {
	s := model.Session{Status: model.StatusReady, SessionID: "vid-1"}
	got, _, err := Apply(s, Event{Kind: EvAnalysisUpdate, Seq: 1}, t0)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.True(t, IsRejection(err))
	assert.Equal(t, s, got)
}

func TestApply_UploadSucceededRequiresID(t *testing.T) {
	s := model.Session{Status: model.StatusUploading}
	_, _, err := Apply(s, Event{Kind: EvUploadSucceeded}, t0)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestApply_FailureReasons(t *testing.T) {
	s := analyzingSession(t)

	failed, tr, err := Apply(s, Event{Kind: EvFailed, Cause: "connection reset"}, t0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, model.RTransport, failed.Reason)
	assert.Equal(t, model.RTransport, tr.Reason)
	assert.Equal(t, "connection reset", failed.Cause)

	cancelled, _, err := Apply(s, Event{Kind: EvCancelRequested}, t0)
	require.NoError(t, err)
	assert.Equal(t, model.RCancelled, cancelled.Reason)
	assert.Equal(t, defaultCancelCause, cancelled.Cause)

	lost, _, err := Apply(s, Event{Kind: EvFailed, Reason: model.RConnectivityLost}, t0)
	require.NoError(t, err)
	assert.Equal(t, model.RConnectivityLost, lost.Reason)

	_, _, err = Apply(cancelled, Event{Kind: EvCancelRequested}, t0)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestReasonErrorClass(t *testing.T) {
	assert.NoError(t, ReasonErrorClass(model.RNone))
	assert.ErrorIs(t, ReasonErrorClass(model.RCancelled), ErrCancelled)
	assert.ErrorIs(t, ReasonErrorClass(model.RConnectivityLost), ErrConnectivityLost)
	assert.ErrorIs(t, ReasonErrorClass(model.RAnalyzeRejected), ErrAnalyzeRejected)
	assert.ErrorIs(t, ReasonErrorClass(model.RInvariantBreach), ErrInvariantViolation)
}

func TestClassifyReason(t *testing.T) {
	reason, cause := ClassifyReason(NewReasonError(model.RAnalyzeRejected, "video already processed", nil))
	assert.Equal(t, model.RAnalyzeRejected, reason)
	assert.Equal(t, "video already processed", cause)

	reason, _ = ClassifyReason(errors.New("dial tcp: refused"))
	assert.Equal(t, model.RTransport, reason)

	reason, _ = ClassifyReason(ErrConnectivityLost)
	assert.Equal(t, model.RConnectivityLost, reason)

	err := NewReasonError(model.RConnectivityLost, "", ErrConnectivityLost)
	assert.ErrorIs(t, err, ErrConnectivityLost)
}
