// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"sort"
)

// Result is one detection/behavior record produced by the analysis service.
type Result struct {
	TimestampSeconds float64  `json:"timestampSeconds"`
	FrameNumber      int      `json:"frameNumber"`
	Behaviors        []string `json:"behaviors"`
	Confidence       float64  `json:"confidence"`
	ObjectCount      int      `json:"objectCount"`
}

// NewResult normalizes behaviors into a sorted set and clamps confidence to [0,1].
func NewResult(ts float64, frame int, behaviors []string, confidence float64, objects int) Result {
	return Result{
		TimestampSeconds: ts,
		FrameNumber:      frame,
		Behaviors:        behaviorSet(behaviors),
		Confidence:       clamp(confidence, 0, 1),
		ObjectCount:      objects,
	}
}

// Timecode formats the timestamp as HH:MM:SS.mmm.
func (r Result) Timecode() string {
	ms := int64(r.TimestampSeconds*1000 + 0.5)
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

func (r Result) clone() Result {
	out := r
	if r.Behaviors != nil {
		out.Behaviors = append([]string(nil), r.Behaviors...)
	}
	return out
}

func behaviorSet(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, b := range in {
		if b == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
