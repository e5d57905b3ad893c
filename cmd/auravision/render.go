// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/ManuGH/auravision/internal/domain/session/model"
)

type snapshotter interface {
	Snapshot() (model.Session, bool)
}

// renderer is a read-only session subscriber that prints status changes and
// progress in 10% steps.
type renderer struct {
	out     io.Writer
	changed chan struct{}

	mu           sync.Mutex
	status       model.Status
	uploadStep   int
	analysisStep int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:          out,
		changed:      make(chan struct{}, 1),
		uploadStep:   -1,
		analysisStep: -1,
	}
}

func (r *renderer) observe(s model.Session) {
	r.mu.Lock()
	r.render(s)
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *renderer) render(s model.Session) {
	if s.IsZero() {
		r.status = ""
		r.uploadStep, r.analysisStep = -1, -1
		return
	}
	if s.Status != r.status {
		r.status = s.Status
		fmt.Fprintf(r.out, "%-10s %s\n", s.Status, describe(s))
	}

	switch s.Status {
	case model.StatusUploading:
		if step := int(s.UploadProgress) / 10; step > r.uploadStep {
			r.uploadStep = step
			fmt.Fprintf(r.out, "  upload   %3d%%\n", step*10)
		}
	case model.StatusAnalyzing:
		if step := int(s.AnalysisProgress) / 10; step > r.analysisStep {
			r.analysisStep = step
			fmt.Fprintf(r.out, "  analysis %3d%%  results=%d detections=%.0f\n",
				step*10, len(s.Results), s.Statistics[model.MetricDetectionCount])
		}
	}
}

func describe(s model.Session) string {
	switch s.Status {
	case model.StatusUploading:
		return s.Source.String()
	case model.StatusReady:
		return "session " + s.SessionID
	case model.StatusAnalyzing:
		return "mode " + s.Mode
	case model.StatusCompleted:
		return fmt.Sprintf("%d results", len(s.Results))
	case model.StatusFailed:
		if s.Cause != "" {
			return fmt.Sprintf("%s: %s", s.Reason, s.Cause)
		}
		return string(s.Reason)
	}
	return ""
}

// summary prints the final statistics of a terminal session.
func (r *renderer) summary(s model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Status != model.StatusCompleted {
		return
	}
	fmt.Fprintf(r.out, "session %s completed: %d results\n", s.SessionID, len(s.Results))
	keys := make([]string, 0, len(s.Statistics))
	for k := range s.Statistics {
		keys = append(keys, string(k))
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "  %-18s %g\n", k, s.Statistics[model.Metric(k)])
	}
}

func (r *renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// await blocks until done accepts the current snapshot or ctx ends.
func (r *renderer) await(ctx context.Context, src snapshotter, done func(model.Session) bool) (model.Session, error) {
	for {
		if s, ok := src.Snapshot(); ok && done(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return model.Session{}, ctx.Err()
		case <-r.changed:
		}
	}
}
