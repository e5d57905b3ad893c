// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store holds the single in-memory analysis session and fans out
// snapshots to read-only subscribers.
package store

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	avlog "github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/metrics"
)

// Listener receives a full snapshot after every accepted transition. A zero
// Session means the session was cleared. Listeners must not call back into
// the store or the controller synchronously.
type Listener func(model.Session)

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the single source of truth for the active session.
type Store struct {
	mu  sync.RWMutex
	cur *model.Session

	// emitMu is taken before mu is released so deliveries follow acceptance order.
	emitMu sync.Mutex

	lmu       sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64

	logger zerolog.Logger
	now    func() time.Time
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		listeners: make(map[uint64]Listener),
		logger:    avlog.WithComponent("store"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current session, if any.
func (s *Store) Snapshot() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return model.Session{}, false
	}
	return s.cur.Clone(), true
}

// Begin replaces any existing session with a fresh idle one.
func (s *Store) Begin(src model.Source, correlationID string) model.Session {
	s.mu.Lock()
	now := s.now()
	next := model.Session{
		CorrelationID: correlationID,
		Source:        src.Clone(),
		Status:        model.StatusIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.cur = &next
	out := next.Clone()
	s.emitMu.Lock()
	s.mu.Unlock()

	s.logger.Debug().
		Str(avlog.FieldEvent, "session.begin").
		Str(avlog.FieldCorrelationID, correlationID).
		Str(avlog.FieldSource, src.String()).
		Msg("session created")
	s.deliver(out)
	s.emitMu.Unlock()
	return out
}

// Clear discards the current session and notifies subscribers with a zero Session.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.emitMu.Lock()
	s.mu.Unlock()

	s.deliver(model.Session{})
	s.emitMu.Unlock()
}

// Apply runs ev through the lifecycle rules. Rejected events leave the
// session untouched and return an error matching lifecycle.IsRejection.
func (s *Store) Apply(ev lifecycle.Event) (model.Session, error) {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		metrics.RecordTransition(ev.Kind.String(), "no_session")
		return model.Session{}, lifecycle.ErrNoSession
	}

	next, tr, err := lifecycle.Apply(*s.cur, ev, s.now())
	if err != nil {
		cur := s.cur.Clone()
		s.mu.Unlock()
		s.logRejection(cur, ev, err)
		return cur, err
	}

	s.cur = &next
	out := next.Clone()
	s.emitMu.Lock()
	s.mu.Unlock()

	metrics.RecordTransition(ev.Kind.String(), "accepted")
	if tr.From != tr.To {
		s.logger.Info().
			Str(avlog.FieldEvent, "session.transition").
			Str(avlog.FieldSessionID, out.SessionID).
			Str(avlog.FieldCorrelationID, out.CorrelationID).
			Str(avlog.FieldOldState, string(tr.From)).
			Str(avlog.FieldNewState, string(tr.To)).
			Str(avlog.FieldReason, string(tr.Reason)).
			Stringer("trigger", ev.Kind).
			Msg("session transition")
		if tr.To.IsTerminal() {
			metrics.RecordTerminal(string(tr.To), string(out.Reason))
		}
	}

	s.deliver(out)
	s.emitMu.Unlock()
	return out, nil
}

func (s *Store) logRejection(cur model.Session, ev lifecycle.Event, err error) {
	outcome := "invalid"
	switch {
	case errors.Is(err, lifecycle.ErrStaleUpdate):
		outcome = "stale_seq"
	case errors.Is(err, lifecycle.ErrStaleSession):
		outcome = "stale_session"
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		outcome = "illegal"
	}
	metrics.RecordTransition(ev.Kind.String(), outcome)

	evt := s.logger.Debug()
	if outcome == "invalid" || (outcome == "illegal" && !cur.Status.IsTerminal()) {
		evt = s.logger.Warn()
	}
	evt.Str(avlog.FieldEvent, "session.rejected").
		Str(avlog.FieldSessionID, cur.SessionID).
		Str(avlog.FieldOldState, string(cur.Status)).
		Stringer("trigger", ev.Kind).
		Uint64(avlog.FieldSeq, ev.Seq).
		Err(err).
		Msg("event discarded")
}

// Subscribe registers l and returns a function that removes it. The returned
// function is safe to call more than once.
func (s *Store) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

// deliver must be called with emitMu held.
func (s *Store) deliver(snap model.Session) {
	s.lmu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	s.lmu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		s.lmu.Lock()
		l, ok := s.listeners[id]
		s.lmu.Unlock()
		if !ok {
			continue
		}
		// Each listener gets its own copy so none can affect another.
		l(snap.Clone())
	}
}
