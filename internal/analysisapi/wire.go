// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package analysisapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
)

// Push message types on the wire.
const (
	MsgRealtimeUpdate   = "realtime_update"
	MsgAnalysisComplete = "analysis_complete"
	MsgHeartbeat        = "heartbeat"
)

type uploadResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"video_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type liveRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type analyzeRequest struct {
	VideoID string            `json:"video_id"`
	Mode    string            `json:"mode"`
	Config  map[string]string `json:"config,omitempty"`
}

type analyzeResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status     string                     `json:"status"`
	Progress   float64                    `json:"progress"`
	Statistics map[string]json.RawMessage `json:"statistics,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

type wireResult struct {
	Timestamp   float64  `json:"timestamp"`
	FrameNumber int      `json:"frame_number"`
	Behaviors   []string `json:"behaviors"`
	Confidence  float64  `json:"confidence"`
	ObjectCount int      `json:"object_count"`
}

type updateData struct {
	Status     string                     `json:"status,omitempty"`
	Progress   *float64                   `json:"progress,omitempty"`
	Statistics map[string]json.RawMessage `json:"statistics,omitempty"`
	Results    []wireResult               `json:"results,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

type pushMessage struct {
	Type      string          `json:"type"`
	Seq       *uint64         `json:"seq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type resultsResponse struct {
	Success      bool                       `json:"success"`
	TotalResults int                        `json:"total_results"`
	Showing      int                        `json:"showing"`
	Offset       int                        `json:"offset"`
	Limit        int                        `json:"limit"`
	Results      []pagedResult              `json:"results"`
	Summary      map[string]json.RawMessage `json:"summary,omitempty"`
	Error        string                     `json:"error,omitempty"`
}

// pagedResult is a result as /api/results formats it: confidence is a
// percent string and objects is a count.
type pagedResult struct {
	Timestamp   float64         `json:"timestamp"`
	Timecode    string          `json:"timecode,omitempty"`
	Objects     int             `json:"objects"`
	Behaviors   []string        `json:"behaviors"`
	Confidence  json.RawMessage `json:"confidence"`
	FrameNumber int             `json:"frame_number"`
}

// SystemStatus is the service health summary.
type SystemStatus struct {
	Status         string   `json:"status"`
	Version        string   `json:"version,omitempty"`
	ActiveAnalyses int      `json:"active_analyses"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	MaxUploadBytes int64    `json:"max_upload_bytes,omitempty"`
	SupportedModes []string `json:"supported_modes,omitempty"`
}

var serviceStatuses = map[string]ports.ServiceStatus{
	"uploaded":   ports.ServiceUploaded,
	"processing": ports.ServiceProcessing,
	"analyzing":  ports.ServiceProcessing,
	"paused":     ports.ServicePaused,
	"completed":  ports.ServiceCompleted,
	"error":      ports.ServiceError,
	"failed":     ports.ServiceError,
	"stopped":    ports.ServiceStopped,
}

func parseServiceStatus(s string) (ports.ServiceStatus, error) {
	st, ok := serviceStatuses[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown service status %q", s)
	}
	return st, nil
}

var statKeys = map[string]model.Metric{
	"detection_count":  model.MetricDetectionCount,
	"behavior_count":   model.MetricBehaviorCount,
	"confidence_score": model.MetricAvgConfidence,
	"avg_confidence":   model.MetricAvgConfidence,
	"processed_frames": model.MetricProcessedFrames,
	"total_frames":     model.MetricTotalFrames,
	"processing_fps":   model.MetricProcessingRate,
}

// normalizeStatistics keeps known metrics. Values may be numbers or strings;
// a trailing "%" turns the value into a fraction. Unparseable values are
// dropped.
func normalizeStatistics(in map[string]json.RawMessage) model.Statistics {
	if len(in) == 0 {
		return nil
	}
	out := make(model.Statistics, len(in))
	for k, raw := range in {
		metric, ok := statKeys[k]
		if !ok {
			continue
		}
		if v, ok := parseStat(raw); ok {
			out[metric] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseStat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	if pct {
		v /= 100
	}
	return v, true
}

// fractionToPercent converts the service's [0,1] progress to [0,100].
func fractionToPercent(f float64) float64 {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 100
	}
	return f * 100
}

func toResults(in []wireResult) []model.Result {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Result, 0, len(in))
	for _, r := range in {
		out = append(out, model.NewResult(r.Timestamp, r.FrameNumber, r.Behaviors, r.Confidence, r.ObjectCount))
	}
	return out
}

// decodeUpdate turns a push message's data into an update payload.
func decodeUpdate(data json.RawMessage) (ports.Update, error) {
	if len(data) == 0 || string(data) == "null" {
		return ports.Update{}, nil
	}
	var d updateData
	if err := json.Unmarshal(data, &d); err != nil {
		return ports.Update{}, err
	}
	u := ports.Update{
		Statistics: normalizeStatistics(d.Statistics),
		Results:    toResults(d.Results),
		Error:      d.Error,
	}
	if d.Status != "" {
		st, err := parseServiceStatus(d.Status)
		if err != nil {
			return ports.Update{}, err
		}
		u.Status = st
	}
	if d.Progress != nil {
		pct := fractionToPercent(*d.Progress)
		u.Progress = &pct
	}
	return u, nil
}

func pagedResults(in []pagedResult) ([]model.Result, error) {
	out := make([]model.Result, 0, len(in))
	for _, r := range in {
		conf, ok := parseStat(r.Confidence)
		if !ok {
			return nil, fmt.Errorf("frame %d: invalid confidence %s", r.FrameNumber, string(r.Confidence))
		}
		out = append(out, model.NewResult(r.Timestamp, r.FrameNumber, r.Behaviors, conf, r.Objects))
	}
	return out, nil
}
