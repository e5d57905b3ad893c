// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// TimelineSampleEvery is the stride used to sample results into the export timeline.
const TimelineSampleEvery = 30

// ExportedResult is a result annotated with its rendered timecode.
type ExportedResult struct {
	Result
	Timecode string `json:"timecode"`
}

// TimelinePoint is a sampled view of the results for charting.
type TimelinePoint struct {
	TimestampSeconds float64 `json:"timestampSeconds"`
	ObjectCount      int     `json:"objectCount"`
	BehaviorCount    int     `json:"behaviorCount"`
	Confidence       float64 `json:"confidence"`
}

// Export is the serializable document produced for a completed session.
type Export struct {
	SessionID     string            `json:"sessionId"`
	CorrelationID string            `json:"correlationId"`
	Source        Source            `json:"source"`
	Status        Status            `json:"status"`
	Mode          string            `json:"mode,omitempty"`
	Config        map[string]string `json:"config,omitempty"`
	Statistics    Statistics        `json:"statistics"`
	Results       []ExportedResult  `json:"results"`
	Timeline      []TimelinePoint   `json:"timeline"`
	LastUpdateSeq uint64            `json:"lastUpdateSeq"`
	CompletedAt   time.Time         `json:"completedAt"`
}

// NewExport builds the export document from a session snapshot.
func NewExport(s Session) Export {
	s = s.Clone()
	stats := s.Statistics
	if stats == nil {
		stats = Statistics{}
	}

	results := make([]ExportedResult, 0, len(s.Results))
	timeline := make([]TimelinePoint, 0, len(s.Results)/TimelineSampleEvery+1)
	for i, r := range s.Results {
		results = append(results, ExportedResult{Result: r, Timecode: r.Timecode()})
		if i%TimelineSampleEvery == 0 {
			timeline = append(timeline, TimelinePoint{
				TimestampSeconds: r.TimestampSeconds,
				ObjectCount:      r.ObjectCount,
				BehaviorCount:    len(r.Behaviors),
				Confidence:       r.Confidence,
			})
		}
	}

	return Export{
		SessionID:     s.SessionID,
		CorrelationID: s.CorrelationID,
		Source:        s.Source,
		Status:        s.Status,
		Mode:          s.Mode,
		Config:        s.Config,
		Statistics:    stats,
		Results:       results,
		Timeline:      timeline,
		LastUpdateSeq: s.LastUpdateSeq,
		CompletedAt:   s.CompletedAt,
	}
}
