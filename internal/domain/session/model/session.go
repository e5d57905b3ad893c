// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// Session is the lifecycle record for one video's upload-through-analysis
// journey. Values handed out by the store are deep copies and may be kept.
type Session struct {
	SessionID     string `json:"sessionId,omitempty"`
	CorrelationID string `json:"correlationId"`
	Source        Source `json:"source"`
	Status        Status `json:"status"`

	UploadProgress   float64 `json:"uploadProgress"`
	AnalysisProgress float64 `json:"analysisProgress"`

	Mode   string            `json:"mode,omitempty"`
	Config map[string]string `json:"config,omitempty"`

	Statistics    Statistics `json:"statistics,omitempty"`
	Results       []Result   `json:"results"`
	LastUpdateSeq uint64     `json:"lastUpdateSeq"`

	Reason ReasonCode `json:"reason,omitempty"`
	Cause  string     `json:"cause,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// IsZero reports whether s is the empty value delivered when no session exists.
func (s Session) IsZero() bool {
	return s.Status == "" && s.CorrelationID == ""
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Source = s.Source.Clone()
	if s.Config != nil {
		out.Config = make(map[string]string, len(s.Config))
		for k, v := range s.Config {
			out.Config[k] = v
		}
	}
	out.Statistics = s.Statistics.Clone()
	if s.Results != nil {
		out.Results = make([]Result, len(s.Results))
		for i, r := range s.Results {
			out.Results[i] = r.clone()
		}
	}
	return out
}

// LastFrame returns the frame number of the newest result, or -1.
func (s Session) LastFrame() int {
	if len(s.Results) == 0 {
		return -1
	}
	return s.Results[len(s.Results)-1].FrameNumber
}
