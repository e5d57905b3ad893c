// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reconcile folds the push channel and the poll loop into a single
// ordered stream of lifecycle events.
package reconcile

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
	avlog "github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/metrics"
)

const (
	ChannelPush = "push"
	ChannelPoll = "poll"

	fieldProgress = "progress"
	statPrefix    = "stat:"
)

const (
	prioPoll uint8 = iota
	prioPush
)

// key orders inputs: tick first, then channel priority, then server seq.
type key struct {
	tick uint64
	prio uint8
	seq  uint64
}

func (a key) less(b key) bool {
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	if a.prio != b.prio {
		return a.prio < b.prio
	}
	return a.seq < b.seq
}

// Config wires a Reconciler to one analysis run.
type Config struct {
	SessionID string

	// StartSeq seeds local sequence numbers; emitted updates start above it.
	StartSeq uint64

	// Emit hands a merged event to the store. Rejections are logged and ignored.
	Emit func(lifecycle.Event) error

	// OnTerminal is called once, outside the reconciler lock, after the
	// terminal event has been emitted.
	OnTerminal func(model.Status)

	Logger *zerolog.Logger
}

// Reconciler merges push events and poll snapshots for one analysis run.
// It is safe for concurrent use.
type Reconciler struct {
	mu sync.Mutex

	sessionID  string
	emit       func(lifecycle.Event) error
	onTerminal func(model.Status)
	logger     zerolog.Logger

	tick          uint64
	lastServerSeq uint64
	nextSeq       uint64
	lastFrame     int
	applied       map[string]key
	terminal      bool
}

// New creates a reconciler for one analysis run.
func New(cfg Config) *Reconciler {
	logger := avlog.WithComponent("reconciler")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	emit := cfg.Emit
	if emit == nil {
		emit = func(lifecycle.Event) error { return nil }
	}
	return &Reconciler{
		sessionID:  cfg.SessionID,
		emit:       emit,
		onTerminal: cfg.OnTerminal,
		logger:     logger.With().Str(avlog.FieldSessionID, cfg.SessionID).Logger(),
		nextSeq:    cfg.StartSeq,
		lastFrame:  -1,
		applied:    make(map[string]key),
	}
}

// BeginTick opens a new poll tick and returns its number.
func (r *Reconciler) BeginTick() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	return r.tick
}

// Terminal reports whether a terminal status has been observed.
func (r *Reconciler) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// input is one push event or poll snapshot normalized for merging.
type input struct {
	channel  string
	k        key
	status   ports.ServiceStatus
	progress *float64
	stats    model.Statistics
	results  []model.Result
	errText  string
}

// HandlePush merges a batch of push events in one pass. Events with a
// server seq at or below the highest one seen are dropped.
func (r *Reconciler) HandlePush(events ...ports.PushEvent) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		for range events {
			metrics.RecordReconcilerDrop(ChannelPush, "after_terminal")
		}
		return
	}

	pass := make([]input, 0, len(events))
	for _, ev := range events {
		if ev.Seq <= r.lastServerSeq {
			metrics.RecordReconcilerDrop(ChannelPush, "duplicate_seq")
			r.logger.Debug().
				Str(avlog.FieldEvent, "reconcile.drop").
				Str(avlog.FieldChannel, ChannelPush).
				Uint64(avlog.FieldSeq, ev.Seq).
				Uint64("last_seq", r.lastServerSeq).
				Msg("duplicate or out-of-order push dropped")
			continue
		}
		r.lastServerSeq = ev.Seq

		status := ev.Payload.Status
		if ev.Type == ports.PushComplete && !status.IsTerminal() {
			status = ports.ServiceCompleted
		}
		pass = append(pass, input{
			channel:  ChannelPush,
			k:        key{tick: r.tick, prio: prioPush, seq: ev.Seq},
			status:   status,
			progress: ev.Payload.Progress,
			stats:    ev.Payload.Statistics,
			results:  ev.Payload.Results,
			errText:  ev.Payload.Error,
		})
	}
	r.mergeAndUnlock(pass)
}

// HandlePoll merges a poll snapshot fetched during tick.
func (r *Reconciler) HandlePoll(tick uint64, st ports.PollStatus) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		metrics.RecordReconcilerDrop(ChannelPoll, "after_terminal")
		return
	}
	progress := st.Progress
	r.mergeAndUnlock([]input{{
		channel:  ChannelPoll,
		k:        key{tick: tick, prio: prioPoll},
		status:   st.Status,
		progress: &progress,
		stats:    st.Statistics,
	}})
}

type candidate struct {
	k       key
	v       float64
	channel string
}

// mergeAndUnlock runs one merge pass over pass. It must be called with r.mu
// held and releases it before invoking OnTerminal.
func (r *Reconciler) mergeAndUnlock(pass []input) {
	if len(pass) == 0 {
		r.mu.Unlock()
		return
	}

	// Coalesce by field: only the highest key per field survives the pass.
	best := make(map[string]candidate)
	offer := func(field string, c candidate) {
		if cur, ok := best[field]; ok && !cur.k.less(c.k) {
			metrics.RecordReconcilerDrop(c.channel, "superseded")
			return
		}
		if cur, ok := best[field]; ok {
			metrics.RecordReconcilerDrop(cur.channel, "superseded")
		}
		best[field] = c
	}

	var term *input
	var results []model.Result
	for i := range pass {
		in := &pass[i]
		if in.progress != nil {
			offer(fieldProgress, candidate{k: in.k, v: *in.progress, channel: in.channel})
		}
		for m, v := range in.stats {
			offer(statPrefix+string(m), candidate{k: in.k, v: v, channel: in.channel})
		}
		if in.status.IsTerminal() && (term == nil || term.k.less(in.k)) {
			term = in
		}
		results = append(results, in.results...)
	}

	ev := lifecycle.Event{SessionID: r.sessionID}
	changed := false
	for field, c := range best {
		if prev, ok := r.applied[field]; ok && !prev.less(c.k) {
			metrics.RecordReconcilerDrop(c.channel, "superseded")
			continue
		}
		r.applied[field] = c.k
		changed = true
		if field == fieldProgress {
			ev.Progress = lifecycle.Percent(c.v)
			continue
		}
		if ev.Statistics == nil {
			ev.Statistics = model.Statistics{}
		}
		ev.Statistics[model.Metric(field[len(statPrefix):])] = c.v
	}

	slices.SortStableFunc(results, func(a, b model.Result) int { return a.FrameNumber - b.FrameNumber })
	for _, res := range results {
		if res.FrameNumber <= r.lastFrame {
			continue
		}
		ev.Results = append(ev.Results, res)
		r.lastFrame = res.FrameNumber
		changed = true
	}

	if term == nil && !changed {
		r.mu.Unlock()
		return
	}

	var terminalStatus model.Status
	switch {
	case term == nil:
		ev.Kind = lifecycle.EvAnalysisUpdate
		r.nextSeq++
		ev.Seq = r.nextSeq
	case term.status == ports.ServiceCompleted:
		ev.Kind = lifecycle.EvAnalysisCompleted
		r.nextSeq++
		ev.Seq = r.nextSeq
		terminalStatus = model.StatusCompleted
	default:
		ev.Kind = lifecycle.EvFailed
		ev.Reason = model.RAnalysisFailed
		ev.Cause = term.errText
		if ev.Cause == "" {
			ev.Cause = fmt.Sprintf("analysis service reported %s", term.status)
		}
		terminalStatus = model.StatusFailed
	}
	if term != nil {
		r.terminal = true
	}

	metrics.IncReconcilerMerge()
	if err := r.emit(ev); err != nil {
		r.logger.Debug().
			Str(avlog.FieldEvent, "reconcile.emit_rejected").
			Stringer("trigger", ev.Kind).
			Uint64(avlog.FieldSeq, ev.Seq).
			Err(err).
			Msg("merged event not applied")
	}
	r.mu.Unlock()

	if terminalStatus != "" {
		r.logger.Info().
			Str(avlog.FieldEvent, "reconcile.terminal").
			Str(avlog.FieldNewState, string(terminalStatus)).
			Msg("terminal status observed")
		if r.onTerminal != nil {
			r.onTerminal(terminalStatus)
		}
	}
}
