// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"fmt"
	"time"

	"github.com/ManuGH/auravision/internal/domain/session/model"
)

const defaultCancelCause = "cancelled by user"

// Apply computes the session that results from ev. It is pure: s is never
// mutated and, on error, s is returned unchanged and the event is discarded.
func Apply(s model.Session, ev Event, now time.Time) (model.Session, Transition, error) {
	if ev.SessionID != "" && s.SessionID != "" && ev.SessionID != s.SessionID {
		return s, Transition{From: s.Status, To: s.Status, Event: ev.Kind},
			fmt.Errorf("%w: event for %q, current %q", ErrStaleSession, ev.SessionID, s.SessionID)
	}

	decision, ok := DecisionFor(s.Status, ev.Kind)
	if !ok || !decision.Allowed {
		return illegalTransition(s, ev.Kind)
	}
	tr, ok := TransitionFor(s.Status, ev.Kind)
	if !ok {
		return illegalTransition(s, ev.Kind)
	}

	if carriesSeq(ev.Kind) && ev.Seq != 0 && ev.Seq <= s.LastUpdateSeq {
		return s, Transition{From: s.Status, To: s.Status, Event: ev.Kind},
			fmt.Errorf("%w: seq %d <= %d", ErrStaleUpdate, ev.Seq, s.LastUpdateSeq)
	}

	next := s.Clone()
	switch ev.Kind {
	case EvUploadStarted:
		next.UploadProgress = 0

	case EvUploadProgress:
		if ev.Progress != nil {
			next.UploadProgress = maxPercent(next.UploadProgress, *ev.Progress)
		}

	case EvUploadSucceeded:
		if ev.SessionID == "" {
			return s, tr, fmt.Errorf("%w: upload succeeded without session id", ErrInvariantViolation)
		}
		next.SessionID = ev.SessionID
		next.UploadProgress = 100

	case EvAnalyzeStarted:
		next.Mode = ev.Mode
		next.Config = copyConfig(ev.Config)
		next.AnalysisProgress = 0
		next.Statistics = model.Statistics{}
		next.Results = []model.Result{}

	case EvAnalysisUpdate:
		mergeUpdate(&next, ev)

	case EvAnalysisCompleted:
		mergeUpdate(&next, ev)
		next.AnalysisProgress = 100
		next.CompletedAt = now

	case EvFailed, EvCancelRequested:
		reason := ev.Reason
		if reason == "" || reason == model.RNone {
			reason = tr.Reason
		}
		next.Reason = reason
		next.Cause = ev.Cause
		if next.Cause == "" && ev.Kind == EvCancelRequested {
			next.Cause = defaultCancelCause
		}
		tr.Reason = reason
	}

	next.Status = tr.To
	next.UpdatedAt = now
	return next, tr, nil
}

func carriesSeq(k EventKind) bool {
	return k == EvAnalysisUpdate || k == EvAnalysisCompleted
}

// mergeUpdate folds an analysis payload into s. Progress never goes backwards
// and results are appended only past the newest known frame.
func mergeUpdate(s *model.Session, ev Event) {
	if ev.Progress != nil {
		s.AnalysisProgress = maxPercent(s.AnalysisProgress, *ev.Progress)
	}
	if len(ev.Statistics) > 0 {
		if s.Statistics == nil {
			s.Statistics = make(model.Statistics, len(ev.Statistics))
		}
		for k, v := range ev.Statistics {
			s.Statistics[k] = v
		}
	}
	last := s.LastFrame()
	for _, r := range ev.Results {
		if r.FrameNumber <= last {
			continue
		}
		s.Results = append(s.Results, model.NewResult(r.TimestampSeconds, r.FrameNumber, r.Behaviors, r.Confidence, r.ObjectCount))
		last = r.FrameNumber
	}
	if ev.Seq > s.LastUpdateSeq {
		s.LastUpdateSeq = ev.Seq
	}
}

func maxPercent(cur, in float64) float64 {
	if in < 0 {
		in = 0
	}
	if in > 100 {
		in = 100
	}
	if in > cur {
		return in
	}
	return cur
}

func copyConfig(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
