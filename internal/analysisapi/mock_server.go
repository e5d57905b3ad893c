// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package analysisapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/auravision/internal/domain/session/model"
	avlog "github.com/ManuGH/auravision/internal/log"
)

// Endpoint keys for SetDelay and FailNext.
const (
	EndpointUpload  = "upload"
	EndpointLive    = "live"
	EndpointAnalyze = "analyze"
	EndpointStatus  = "status"
	EndpointControl = "control"
	EndpointResults = "results"
	EndpointSystem  = "system"
	EndpointPush    = "push"
)

var mockModes = []string{"standard", "fast", "detailed"}

var mockBehaviors = [][]string{
	{"hand_raising"},
	{"reading", "writing"},
	{"looking_around"},
	{"writing"},
	{"hand_raising", "reading"},
}

// MockOptions tunes the simulated analysis.
type MockOptions struct {
	// Step is the simulated processing tick. Default 100ms.
	Step time.Duration
	// Increment is the progress fraction gained per step. Default 0.1.
	Increment float64
	// FramesPerStep is how many frames a step processes. Default 30.
	FramesPerStep int
	// OmitSeq drops the seq field from push messages.
	OmitSeq bool
	// UploadLimit caps uploads per minute per client IP. Default 60.
	UploadLimit int
	Logger      *zerolog.Logger
}

func (o MockOptions) withDefaults() MockOptions {
	if o.Step <= 0 {
		o.Step = 100 * time.Millisecond
	}
	if o.Increment <= 0 || o.Increment > 1 {
		o.Increment = 0.1
	}
	if o.FramesPerStep <= 0 {
		o.FramesPerStep = 30
	}
	if o.UploadLimit <= 0 {
		o.UploadLimit = 60
	}
	return o
}

// MockServer simulates the analysis service: uploads, a stepped analysis,
// status polling and a WebSocket push channel per video.
type MockServer struct {
	opts     MockOptions
	router   chi.Router
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	videos   map[string]*mockVideo
	delay    map[string]time.Duration
	failures map[string]int
	stops    []string
}

type mockVideo struct {
	id       string
	name     string
	size     int64
	status   string
	progress float64
	frames   int
	total    int
	results  []wireResult
	objects  int
	seq      uint64
	started  time.Time
	errText  string
	gen      uint64 // current simulation; restart bumps it
	stop     context.CancelFunc
	subs     map[*mockSub]struct{}
}

type mockSub struct {
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
}

// NewMockServer builds the mock. Serve it with httptest.NewServer or any
// http.Server; call Close to stop simulations and push connections.
func NewMockServer(opts MockOptions) *MockServer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	logger := avlog.WithComponent("mockapi")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	m := &MockServer{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		videos:   make(map[string]*mockVideo),
		delay:    make(map[string]time.Duration),
		failures: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, requestIDContext, chimw.Recoverer)
	r.With(uploadLimit(opts.UploadLimit), m.inject(EndpointUpload)).Post("/api/upload", m.handleUpload)
	r.With(m.inject(EndpointLive)).Post("/api/live", m.handleLive)
	r.With(m.inject(EndpointAnalyze)).Post("/api/analyze", m.handleAnalyze)
	r.With(m.inject(EndpointStatus)).Get("/api/status/{id}", m.handleStatus)
	r.With(m.inject(EndpointControl)).Post("/api/control", m.handleControl)
	r.With(m.inject(EndpointResults)).Get("/api/results/{id}", m.handleResults)
	r.With(m.inject(EndpointSystem)).Get("/api/system/status", m.handleSystem)
	r.With(m.inject(EndpointPush)).Get("/ws/realtime/{id}", m.handlePush)
	m.router = r
	return m
}

func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := avlog.ContextWithRequestID(r.Context(), chimw.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func uploadLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, uploadResponse{Error: "rate_limit_exceeded"})
		}),
	)
}

// SetDelay sets an artificial delay for an endpoint.
func (m *MockServer) SetDelay(endpoint string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[endpoint] = d
}

// FailNext makes the next n requests to endpoint answer 500.
func (m *MockServer) FailNext(endpoint string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint] = n
}

// VideoStatus returns the service-side status of a video.
func (m *MockServer) VideoStatus(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return "", false
	}
	return v.status, true
}

// Subscribers returns the number of open push connections for a video.
func (m *MockServer) Subscribers(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.videos[id]; ok {
		return len(v.subs)
	}
	return 0
}

// StopRequests returns the video ids stopped through /api/control.
func (m *MockServer) StopRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.stops)
}

// Close stops every simulation and push connection and waits for them.
func (m *MockServer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.closed = true
	m.cancel()
	for _, v := range m.videos {
		for sub := range v.subs {
			_ = sub.conn.Close()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// inject applies configured delays and failures.
func (m *MockServer) inject(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.mu.Lock()
			d := m.delay[endpoint]
			fail := m.failures[endpoint] > 0
			if fail {
				m.failures[endpoint]--
			}
			m.mu.Unlock()

			if d > 0 {
				t := time.NewTimer(d)
				select {
				case <-t.C:
				case <-r.Context().Done():
					t.Stop()
					return
				}
			}
			if fail {
				writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "injected failure"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (m *MockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "expected multipart form"})
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, uploadResponse{Error: err.Error()})
			return
		}
		if part.FormName() != "file" {
			continue
		}
		n, err := io.Copy(io.Discard, part)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, uploadResponse{Error: err.Error()})
			return
		}
		id := m.addVideo(part.FileName(), n)
		logger := avlog.WithContext(r.Context(), m.logger)
		logger.Info().
			Str(avlog.FieldEvent, "mock.uploaded").
			Str(avlog.FieldSessionID, id).
			Int64(avlog.FieldSizeBytes, n).
			Msg("video received")
		writeJSON(w, http.StatusOK, uploadResponse{Success: true, VideoID: id})
		return
	}
	writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "no video uploaded"})
}

func (m *MockServer) handleLive(w http.ResponseWriter, r *http.Request) {
	var req liveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Width <= 0 || req.Height <= 0 {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "width and height must be positive"})
		return
	}
	id := m.addVideo(fmt.Sprintf("live-%dx%d", req.Width, req.Height), 0)
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, VideoID: id})
}

func (m *MockServer) addVideo(name string, size int64) string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[id] = &mockVideo{
		id:     id,
		name:   name,
		size:   size,
		status: "uploaded",
		total:  int(float64(m.opts.FramesPerStep) / m.opts.Increment),
		subs:   make(map[*mockSub]struct{}),
	}
	return id
}

func (m *MockServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, analyzeResponse{Error: "malformed request"})
		return
	}
	if req.Mode == "" {
		req.Mode = mockModes[0]
	}
	if !slices.Contains(mockModes, req.Mode) {
		writeJSON(w, http.StatusBadRequest, analyzeResponse{Error: fmt.Sprintf("unsupported mode %q", req.Mode)})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[req.VideoID]
	switch {
	case !ok:
		writeJSON(w, http.StatusNotFound, analyzeResponse{Error: "video not found"})
		return
	case v.status != "uploaded":
		writeJSON(w, http.StatusBadRequest, analyzeResponse{Error: "video already " + v.status})
		return
	case m.closed:
		writeJSON(w, http.StatusServiceUnavailable, analyzeResponse{Error: "shutting down"})
		return
	}

	m.startLocked(v)

	logger := avlog.WithContext(r.Context(), m.logger)
	logger.Info().
		Str(avlog.FieldEvent, "mock.analysis_started").
		Str(avlog.FieldSessionID, v.id).
		Str("mode", req.Mode).
		Msg("simulated analysis started")
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Status: v.status})
}

// startLocked launches a fresh simulation for v, replacing any running one.
func (m *MockServer) startLocked(v *mockVideo) {
	if v.stop != nil {
		v.stop()
	}
	ctx, stop := context.WithCancel(m.ctx)
	v.gen++
	v.status = "processing"
	v.started = time.Now()
	v.stop = stop
	m.wg.Add(1)
	go m.simulate(ctx, v.id, v.gen)
}

func (m *MockServer) simulate(ctx context.Context, id string, gen uint64) {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.Step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.advance(id, gen) {
				return
			}
		}
	}
}

// advance runs one processing step and reports whether the simulation is
// over. A paused video keeps its simulation without progressing.
func (m *MockServer) advance(id string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	switch {
	case !ok || v.gen != gen:
		return true
	case v.status == "paused":
		return false
	case v.status != "processing":
		return true
	}

	step := len(v.results)
	res := wireResult{
		Timestamp:   float64(v.frames) / 30,
		FrameNumber: v.frames,
		Behaviors:   mockBehaviors[step%len(mockBehaviors)],
		Confidence:  0.75 + float64(step%5)*0.05,
		ObjectCount: 1 + step%4,
	}
	v.results = append(v.results, res)
	v.objects += res.ObjectCount
	v.frames = min(v.total, v.frames+m.opts.FramesPerStep)
	v.progress = min(1, v.progress+m.opts.Increment)
	if v.frames >= v.total || v.progress >= 1 {
		v.progress = 1
		v.status = "completed"
	}

	m.broadcastLocked(v, MsgRealtimeUpdate, m.updateLocked(v, []wireResult{res}))
	if v.status == "completed" {
		m.broadcastLocked(v, MsgAnalysisComplete, m.updateLocked(v, nil))
		return true
	}
	return false
}

type mockUpdate struct {
	Status     string         `json:"status"`
	Progress   float64        `json:"progress"`
	Statistics map[string]any `json:"statistics"`
	Results    []wireResult   `json:"results,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func (m *MockServer) statisticsLocked(v *mockVideo) map[string]any {
	behaviors := 0
	conf := 0.0
	for _, r := range v.results {
		behaviors += len(r.Behaviors)
		conf += r.Confidence
	}
	if len(v.results) > 0 {
		conf /= float64(len(v.results))
	}
	fps := 0.0
	if elapsed := time.Since(v.started).Seconds(); elapsed > 0 && !v.started.IsZero() {
		fps = float64(v.frames) / elapsed
	}
	return map[string]any{
		"detection_count":  v.objects,
		"behavior_count":   behaviors,
		"confidence_score": fmt.Sprintf("%.1f%%", conf*100),
		"processed_frames": v.frames,
		"total_frames":     v.total,
		"processing_fps":   fps,
	}
}

func (m *MockServer) updateLocked(v *mockVideo, results []wireResult) mockUpdate {
	return mockUpdate{
		Status:     v.status,
		Progress:   v.progress,
		Statistics: m.statisticsLocked(v),
		Results:    results,
		Error:      v.errText,
	}
}

func (m *MockServer) broadcastLocked(v *mockVideo, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	v.seq++
	msg := pushMessage{Type: msgType, Data: raw, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	if !m.opts.OmitSeq {
		seq := v.seq
		msg.Seq = &seq
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for sub := range v.subs {
		select {
		case sub.send <- buf:
		default:
			// Slow consumer; the client will resync from polling.
			m.logger.Warn().
				Str(avlog.FieldEvent, "mock.push_dropped").
				Str(avlog.FieldSessionID, v.id).
				Msg("subscriber buffer full")
		}
	}
}

func (m *MockServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m.mu.Lock()
	v, ok := m.videos[id]
	var body mockUpdate
	if ok {
		body = m.updateLocked(v, nil)
	}
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, statusResponse{Error: "video not found"})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (m *MockServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, analyzeResponse{Error: "malformed form"})
		return
	}
	action := r.PostForm.Get("action")
	id := r.PostForm.Get("video_id")

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, analyzeResponse{Error: "video not found"})
		return
	}

	conflict := func() {
		writeJSON(w, http.StatusConflict, analyzeResponse{Error: fmt.Sprintf("cannot %s a video that is %s", action, v.status)})
	}
	switch action {
	case string(ActionStop):
		m.stops = append(m.stops, id)
		if v.status == "processing" || v.status == "paused" {
			v.status = "stopped"
			v.stop()
		}
	case string(ActionPause):
		if v.status != "processing" {
			conflict()
			return
		}
		v.status = "paused"
	case string(ActionResume):
		if v.status != "paused" {
			conflict()
			return
		}
		v.status = "processing"
	case string(ActionRestart):
		if v.status == "uploaded" {
			conflict()
			return
		}
		if m.closed {
			writeJSON(w, http.StatusServiceUnavailable, analyzeResponse{Error: "shutting down"})
			return
		}
		v.results = nil
		v.frames = 0
		v.objects = 0
		v.progress = 0
		v.errText = ""
		m.startLocked(v)
	default:
		writeJSON(w, http.StatusBadRequest, analyzeResponse{Error: fmt.Sprintf("unsupported action %q", action)})
		return
	}

	m.broadcastLocked(v, MsgRealtimeUpdate, m.updateLocked(v, nil))
	m.logger.Info().
		Str(avlog.FieldEvent, "mock.control").
		Str(avlog.FieldSessionID, id).
		Str("action", action).
		Str(avlog.FieldNewState, v.status).
		Msg("analysis control applied")
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Status: v.status})
}

const (
	defaultResultsLimit = 100
	maxResultsLimit     = 1000
)

// handleResults serves stored results a page at a time.
func (m *MockServer) handleResults(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, resultsResponse{Error: "offset must be a non-negative integer"})
		return
	}
	limit, err := queryInt(r, "limit", defaultResultsLimit)
	if err != nil || limit <= 0 || limit > maxResultsLimit {
		writeJSON(w, http.StatusBadRequest, resultsResponse{Error: fmt.Sprintf("limit must be between 1 and %d", maxResultsLimit)})
		return
	}

	id := chi.URLParam(r, "id")
	m.mu.Lock()
	v, ok := m.videos[id]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, resultsResponse{Error: "video not found"})
		return
	}
	total := len(v.results)
	page := v.results[min(offset, total):min(offset+limit, total)]
	summary := m.statisticsLocked(v)

	out := make([]map[string]any, 0, len(page))
	for _, res := range page {
		out = append(out, map[string]any{
			"timestamp":    res.Timestamp,
			"timecode":     model.NewResult(res.Timestamp, res.FrameNumber, nil, 0, 0).Timecode(),
			"objects":      res.ObjectCount,
			"behaviors":    res.Behaviors,
			"confidence":   fmt.Sprintf("%.1f%%", res.Confidence*100),
			"frame_number": res.FrameNumber,
		})
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"total_results": total,
		"showing":       len(out),
		"offset":        offset,
		"limit":         limit,
		"results":       out,
		"summary":       summary,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (m *MockServer) handleSystem(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	active := 0
	for _, v := range m.videos {
		if v.status == "processing" || v.status == "paused" {
			active++
		}
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, SystemStatus{
		Status:         "running",
		Version:        "mock",
		ActiveAnalyses: active,
		UptimeSeconds:  time.Since(m.started).Seconds(),
		SupportedModes: mockModes,
	})
}

func (m *MockServer) handlePush(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m.mu.Lock()
	_, ok := m.videos[id]
	closed := m.closed
	m.mu.Unlock()
	if !ok {
		http.Error(w, "video not found", http.StatusNotFound)
		return
	}
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &mockSub{conn: conn, send: make(chan []byte, 64), quit: make(chan struct{})}

	m.mu.Lock()
	v, ok := m.videos[id]
	if m.closed || !ok {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	v.subs[sub] = struct{}{}
	m.wg.Add(2)
	if hb, err := json.Marshal(pushMessage{Type: MsgHeartbeat}); err == nil {
		sub.send <- hb
	}
	m.mu.Unlock()

	go m.writePush(sub)
	go m.readPush(id, sub)
}

func (m *MockServer) writePush(sub *mockSub) {
	defer m.wg.Done()
	defer sub.conn.Close()
	for {
		select {
		case <-sub.quit:
			return
		case <-m.ctx.Done():
			return
		case msg := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// readPush consumes client frames until the connection ends.
func (m *MockServer) readPush(id string, sub *mockSub) {
	defer m.wg.Done()
	defer close(sub.quit)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			break
		}
	}
	m.mu.Lock()
	if v, ok := m.videos[id]; ok {
		delete(v.subs, sub)
	}
	m.mu.Unlock()
}
