// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func mp4() model.Source {
	return model.NewFileSource(model.FileSource{Name: "a.mp4", SizeBytes: 10 << 20, MIMEType: "video/mp4"})
}

func analyzing(t *testing.T, s *Store) {
	t.Helper()
	s.Begin(mp4(), "corr-1")
	for _, ev := range []lifecycle.Event{
		{Kind: lifecycle.EvUploadStarted},
		{Kind: lifecycle.EvUploadSucceeded, SessionID: "vid-1"},
		{Kind: lifecycle.EvAnalyzeStarted, Mode: "standard"},
	} {
		_, err := s.Apply(ev)
		require.NoError(t, err)
	}
}

func TestStore_EmptySnapshot(t *testing.T) {
	s := New()
	_, ok := s.Snapshot()
	assert.False(t, ok)

	_, err := s.Apply(lifecycle.Event{Kind: lifecycle.EvUploadStarted})
	require.ErrorIs(t, err, lifecycle.ErrNoSession)
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := New(WithClock(fixedClock()))
	analyzing(t, s)
	_, err := s.Apply(lifecycle.Event{Kind: lifecycle.EvAnalysisUpdate, Seq: 1,
		Results: []model.Result{model.NewResult(1, 30, []string{"walking"}, 0.9, 1)}})
	require.NoError(t, err)

	snap, ok := s.Snapshot()
	require.True(t, ok)
	snap.Results[0].Behaviors[0] = "mutated"
	snap.Source.File.Name = "mutated"

	again, _ := s.Snapshot()
	assert.Equal(t, "walking", again.Results[0].Behaviors[0])
	assert.Equal(t, "a.mp4", again.Source.File.Name)
}

func TestStore_NotifiesInAcceptanceOrder(t *testing.T) {
	s := New(WithClock(fixedClock()))
	var got []model.Status
	unsubscribe := s.Subscribe(func(snap model.Session) {
		got = append(got, snap.Status)
	})
	defer unsubscribe()

	analyzing(t, s)
	_, err := s.Apply(lifecycle.Event{Kind: lifecycle.EvAnalysisCompleted, Seq: 1})
	require.NoError(t, err)

	assert.Equal(t, []model.Status{
		model.StatusIdle,
		model.StatusUploading,
		model.StatusReady,
		model.StatusAnalyzing,
		model.StatusCompleted,
	}, got)
}

func TestStore_RejectionsDoNotNotify(t *testing.T) {
	s := New()
	analyzing(t, s)
	_, err := s.Apply(lifecycle.Event{Kind: lifecycle.EvAnalysisUpdate, Seq: 4, Progress: lifecycle.Percent(50)})
	require.NoError(t, err)
	before, _ := s.Snapshot()

	calls := 0
	defer s.Subscribe(func(model.Session) { calls++ })()

	_, err = s.Apply(lifecycle.Event{Kind: lifecycle.EvAnalysisUpdate, Seq: 4, Progress: lifecycle.Percent(90)})
	require.ErrorIs(t, err, lifecycle.ErrStaleUpdate)
	_, err = s.Apply(lifecycle.Event{Kind: lifecycle.EvAnalysisUpdate, SessionID: "other", Seq: 9})
	require.ErrorIs(t, err, lifecycle.ErrStaleSession)
	_, err = s.Apply(lifecycle.Event{Kind: lifecycle.EvUploadStarted})
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	after, _ := s.Snapshot()
	assert.Zero(t, calls)
	assert.Empty(t, cmp.Diff(before, after))
}

func TestStore_ClearNotifiesZeroSession(t *testing.T) {
	s := New()
	s.Begin(mp4(), "corr-1")

	var last model.Session
	seen := false
	defer s.Subscribe(func(snap model.Session) { last, seen = snap, true })()

	s.Clear()
	require.True(t, seen)
	assert.True(t, last.IsZero())
	_, ok := s.Snapshot()
	assert.False(t, ok)
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	calls := 0
	unsubscribe := s.Subscribe(func(model.Session) { calls++ })
	s.Begin(mp4(), "a")
	unsubscribe()
	unsubscribe()
	s.Begin(mp4(), "b")
	assert.Equal(t, 1, calls)
}

func TestStore_ListenerMayReadSnapshot(t *testing.T) {
	s := New()
	var observed []model.Status
	defer s.Subscribe(func(model.Session) {
		cur, _ := s.Snapshot()
		observed = append(observed, cur.Status)
	})()

	s.Begin(mp4(), "a")
	_, err := s.Apply(lifecycle.Event{Kind: lifecycle.EvUploadStarted})
	require.NoError(t, err)
	assert.Equal(t, []model.Status{model.StatusIdle, model.StatusUploading}, observed)
}

func TestStore_ConcurrentUpdatesDeliverMonotonicSeq(t *testing.T) {
	s := New()
	analyzing(t, s)

	var mu sync.Mutex
	var seqs []uint64
	defer s.Subscribe(func(snap model.Session) {
		mu.Lock()
		seqs = append(seqs, snap.LastUpdateSeq)
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			_, _ = s.Apply(lifecycle.Event{Kind: lifecycle.EvAnalysisUpdate, Seq: seq})
		}(uint64(i))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}
