// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package analysisapi is the HTTP and WebSocket client of the video analysis
// service, plus an in-process mock of that service.
package analysisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
	avlog "github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/metrics"
	"github.com/ManuGH/auravision/internal/resilience"
)

const (
	DefaultTimeout = 10 * time.Second

	maxResponseBody = 4 << 20
	maxPushMessage  = 1 << 20
	pushWriteWait   = 2 * time.Second
)

const (
	opUpload   = "upload"
	opLive     = "register_live"
	opAnalyze  = "analyze"
	opPoll     = "poll"
	opPushOpen = "push_open"
	opControl  = "control"
	opResults  = "results"
	opSystem   = "system_status"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// PushURL overrides the WebSocket base. Defaults to BaseURL with a ws scheme.
	PushURL string
	// Timeout bounds every request except uploads, which run until ctx ends.
	Timeout time.Duration

	Breaker    *resilience.CircuitBreaker
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zerolog.Logger
}

// Client talks to the analysis service. It implements ports.Transport and
// ports.AnalysisStopper.
type Client struct {
	base    *url.URL
	push    *url.URL
	timeout time.Duration
	http    *http.Client
	dialer  *websocket.Dialer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[ports.PushHandle]*pushConn
	next  uint64
}

var (
	_ ports.Transport       = (*Client)(nil)
	_ ports.AnalysisStopper = (*Client)(nil)
)

type pushConn struct {
	conn      *websocket.Conn
	sessionID string
	closing   atomic.Bool
	done      chan struct{}
}

// New validates opts and builds a client.
func New(opts Options) (*Client, error) {
	base, err := parseBase(opts.BaseURL, "http", "https")
	if err != nil {
		return nil, err
	}

	var push *url.URL
	if opts.PushURL != "" {
		if push, err = parseBase(opts.PushURL, "ws", "wss"); err != nil {
			return nil, err
		}
	} else {
		p := *base
		p.Scheme = "ws"
		if base.Scheme == "https" {
			p.Scheme = "wss"
		}
		push = &p
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "analysisapi " + r.Method + " " + r.URL.Path
				}),
			),
		}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		}
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = NewBreaker(5, 30*time.Second)
	}

	logger := avlog.WithComponent("analysisapi")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		base:    base,
		push:    push,
		timeout: timeout,
		http:    hc,
		dialer:  dialer,
		breaker: breaker,
		logger:  logger.With().Str(avlog.FieldBaseURL, base.String()).Logger(),
		conns:   make(map[ports.PushHandle]*pushConn),
	}, nil
}

// NewBreaker returns a circuit breaker that counts only upstream health
// failures. Not-found, bad responses and caller cancellation never trip it.
func NewBreaker(threshold int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker("analysisapi", threshold, resetTimeout,
		resilience.WithFailurePredicate(tripsBreaker))
}

func parseBase(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, fmt.Errorf("analysisapi: invalid URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("analysisapi: URL %q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return u, nil
		}
	}
	return nil, fmt.Errorf("analysisapi: URL %q must use one of %v", raw, schemes)
}

func (c *Client) endpoint(elem ...string) string {
	return c.base.JoinPath(elem...).String()
}

// do runs one request through the breaker. newReq may return a cleanup
// func, which runs after the response has been handled.
func (c *Client) do(
	ctx context.Context,
	op string,
	bounded bool,
	newReq func(context.Context) (*http.Request, func(), error),
	handle func(*http.Response) error,
) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTransportRequest(op, outcome(err), time.Since(start)) }()

	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var buildErr error
	err = c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		req, cleanup, err := newReq(ctx)
		if err != nil {
			buildErr = err
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
		res, err := c.http.Do(req)
		if err != nil {
			return wrapErr(op, err)
		}
		defer res.Body.Close()
		return handle(res)
	})
	if buildErr != nil {
		return buildErr
	}
	if err != nil {
		logger := avlog.WithContext(ctx, c.logger)
		logger.Debug().
			Str(avlog.FieldEvent, "analysisapi.request_failed").
			Str(avlog.FieldOperation, op).
			Err(err).
			Msg("request failed")
	}
	return wrapErr(op, err)
}

func jsonRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, func(), error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil, nil
}

func decodeJSON(op string, res *http.Response, out any) error {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return statusErr(op, res)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBody)).Decode(out); err != nil {
		return badResponse(op, err)
	}
	return nil
}

// Upload sends a file as multipart form data, or registers a live source.
func (c *Client) Upload(ctx context.Context, src model.Source, progress func(float64)) (ports.UploadResult, error) {
	switch {
	case src.Kind == model.SourceFile && src.File != nil:
		return c.uploadFile(ctx, *src.File, progress)
	case src.Kind == model.SourceLive && src.Live != nil:
		return c.registerLive(ctx, *src.Live)
	}
	return ports.UploadResult{}, fmt.Errorf("%w: unsupported source %s", lifecycle.ErrInvalidMedia, src)
}

func (c *Client) uploadFile(ctx context.Context, f model.FileSource, progress func(float64)) (ports.UploadResult, error) {
	if f.Path == "" {
		return ports.UploadResult{}, fmt.Errorf("%w: %s has no local path", lifecycle.ErrInvalidMedia, f.Name)
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return ports.UploadResult{}, fmt.Errorf("%w: %w", lifecycle.ErrInvalidMedia, err)
	}
	defer file.Close()

	total := f.SizeBytes
	if total <= 0 {
		if st, err := file.Stat(); err == nil {
			total = st.Size()
		}
	}
	if progress == nil {
		progress = func(float64) {}
	}

	var out uploadResponse
	err = c.do(ctx, opUpload, false, func(ctx context.Context) (*http.Request, func(), error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		done := make(chan struct{})
		go func() {
			defer close(done)
			body := &progressReader{r: file, total: total, report: progress}
			pw.CloseWithError(writeMultipart(mw, f.Name, body))
		}()
		cleanup := func() {
			_ = pr.Close()
			<-done
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "upload"), pr)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		return req, cleanup, nil
	}, func(res *http.Response) error {
		return decodeJSON(opUpload, res, &out)
	})
	if err != nil {
		return ports.UploadResult{}, err
	}
	if !out.Success || out.VideoID == "" {
		return ports.UploadResult{}, &APIError{Sentinel: ErrUpstreamBadResponse, Operation: opUpload, Body: out.Error}
	}
	return ports.UploadResult{SessionID: out.VideoID}, nil
}

func writeMultipart(mw *multipart.Writer, name string, body io.Reader) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		metrics.AddUploadBytes(int64(n))
		if p.total > 0 {
			p.report(min(100, float64(p.read)*100/float64(p.total)))
		}
	}
	return n, err
}

func (c *Client) registerLive(ctx context.Context, l model.LiveSource) (ports.UploadResult, error) {
	var out uploadResponse
	err := c.do(ctx, opLive, true, func(ctx context.Context) (*http.Request, func(), error) {
		return jsonRequest(ctx, http.MethodPost, c.endpoint("api", "live"), liveRequest{Width: l.Width, Height: l.Height})
	}, func(res *http.Response) error {
		return decodeJSON(opLive, res, &out)
	})
	if err != nil {
		return ports.UploadResult{}, err
	}
	if !out.Success || out.VideoID == "" {
		return ports.UploadResult{}, &APIError{Sentinel: ErrUpstreamBadResponse, Operation: opLive, Body: out.Error}
	}
	return ports.UploadResult{SessionID: out.VideoID}, nil
}

// StartAnalyze requests analysis. HTTP 400 means the service declined the
// request and is reported as not accepted rather than as an error.
func (c *Client) StartAnalyze(ctx context.Context, sessionID, mode string, config map[string]string) (ports.AnalyzeResult, error) {
	var result ports.AnalyzeResult
	err := c.do(ctx, opAnalyze, true, func(ctx context.Context) (*http.Request, func(), error) {
		return jsonRequest(ctx, http.MethodPost, c.endpoint("api", "analyze"), analyzeRequest{
			VideoID: sessionID,
			Mode:    mode,
			Config:  config,
		})
	}, func(res *http.Response) error {
		var out analyzeResponse
		if res.StatusCode == http.StatusBadRequest {
			_ = json.NewDecoder(io.LimitReader(res.Body, maxErrorBody)).Decode(&out)
			result = ports.AnalyzeResult{Accepted: false, Detail: out.Error}
			return nil
		}
		if err := decodeJSON(opAnalyze, res, &out); err != nil {
			return err
		}
		result = ports.AnalyzeResult{Accepted: out.Success, Detail: out.Error}
		return nil
	})
	return result, err
}

// PollStatus fetches the service view of a session, normalized to percent
// progress and fractional confidence.
func (c *Client) PollStatus(ctx context.Context, sessionID string) (ports.PollStatus, error) {
	var out statusResponse
	err := c.do(ctx, opPoll, true, func(ctx context.Context) (*http.Request, func(), error) {
		return jsonRequest(ctx, http.MethodGet, c.endpoint("api", "status", sessionID), nil)
	}, func(res *http.Response) error {
		return decodeJSON(opPoll, res, &out)
	})
	if err != nil {
		return ports.PollStatus{}, err
	}
	status, err := parseServiceStatus(out.Status)
	if err != nil {
		return ports.PollStatus{}, badResponse(opPoll, err)
	}
	return ports.PollStatus{
		Status:     status,
		Progress:   fractionToPercent(out.Progress),
		Statistics: normalizeStatistics(out.Statistics),
	}, nil
}

// ControlAction is an analysis control command understood by /api/control.
type ControlAction string

const (
	ActionPause   ControlAction = "pause"
	ActionResume  ControlAction = "resume"
	ActionStop    ControlAction = "stop"
	ActionRestart ControlAction = "restart"
)

// Control sends action for a video and returns the service status that
// results from it.
func (c *Client) Control(ctx context.Context, sessionID string, action ControlAction) (ports.ServiceStatus, error) {
	op := opControl + "_" + string(action)
	var out analyzeResponse
	err := c.do(ctx, op, true, func(ctx context.Context) (*http.Request, func(), error) {
		form := url.Values{"action": {string(action)}, "video_id": {sessionID}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "control"), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil, nil
	}, func(res *http.Response) error {
		return decodeJSON(op, res, &out)
	})
	if err != nil {
		return "", err
	}
	if !out.Success {
		return "", &APIError{Sentinel: ErrUpstreamBadResponse, Operation: op, Body: out.Error}
	}
	if out.Status == "" {
		return "", nil
	}
	st, err := parseServiceStatus(out.Status)
	if err != nil {
		return "", badResponse(op, err)
	}
	return st, nil
}

// StopAnalysis asks the service to abandon a running analysis.
func (c *Client) StopAnalysis(ctx context.Context, sessionID string) error {
	_, err := c.Control(ctx, sessionID, ActionStop)
	return err
}

// ResultsPage is one page of a video's stored results.
type ResultsPage struct {
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
	Results []model.Result   `json:"results"`
	Summary model.Statistics `json:"summary,omitempty"`
}

// Results fetches up to limit results starting at offset. A limit of zero
// leaves the page size to the service.
func (c *Client) Results(ctx context.Context, sessionID string, offset, limit int) (ResultsPage, error) {
	if offset < 0 || limit < 0 {
		return ResultsPage{}, fmt.Errorf("analysisapi: invalid results page offset=%d limit=%d", offset, limit)
	}
	var out resultsResponse
	err := c.do(ctx, opResults, true, func(ctx context.Context) (*http.Request, func(), error) {
		u := c.base.JoinPath("api", "results", sessionID)
		q := url.Values{"offset": {strconv.Itoa(offset)}}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		u.RawQuery = q.Encode()
		return jsonRequest(ctx, http.MethodGet, u.String(), nil)
	}, func(res *http.Response) error {
		return decodeJSON(opResults, res, &out)
	})
	if err != nil {
		return ResultsPage{}, err
	}
	if !out.Success {
		return ResultsPage{}, &APIError{Sentinel: ErrUpstreamBadResponse, Operation: opResults, Body: out.Error}
	}
	results, err := pagedResults(out.Results)
	if err != nil {
		return ResultsPage{}, badResponse(opResults, err)
	}
	return ResultsPage{
		Total:   out.TotalResults,
		Offset:  out.Offset,
		Limit:   out.Limit,
		Results: results,
		Summary: normalizeStatistics(out.Summary),
	}, nil
}

// SystemStatus returns the service health summary.
func (c *Client) SystemStatus(ctx context.Context) (SystemStatus, error) {
	var out SystemStatus
	err := c.do(ctx, opSystem, true, func(ctx context.Context) (*http.Request, func(), error) {
		return jsonRequest(ctx, http.MethodGet, c.endpoint("api", "system", "status"), nil)
	}, func(res *http.Response) error {
		return decodeJSON(opSystem, res, &out)
	})
	return out, err
}

// OpenPushChannel dials the session's WebSocket. onEvent runs on the
// connection's read goroutine in server send order. Messages without a seq
// are numbered by a per-connection counter.
func (c *Client) OpenPushChannel(ctx context.Context, sessionID string, onEvent func(ports.PushEvent)) (ports.PushHandle, error) {
	start := time.Now()
	target := c.push.JoinPath("ws", "realtime", sessionID).String()

	conn, res, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if res != nil {
			err = &APIError{Sentinel: sentinelForStatus(res.StatusCode), Operation: opPushOpen, Status: res.StatusCode, Err: err}
		} else {
			err = wrapErr(opPushOpen, err)
		}
		metrics.ObserveTransportRequest(opPushOpen, outcome(err), time.Since(start))
		return "", err
	}
	metrics.ObserveTransportRequest(opPushOpen, "ok", time.Since(start))
	conn.SetReadLimit(maxPushMessage)

	pc := &pushConn{conn: conn, sessionID: sessionID, done: make(chan struct{})}
	c.mu.Lock()
	c.next++
	handle := ports.PushHandle(fmt.Sprintf("ws-%d", c.next))
	c.conns[handle] = pc
	c.mu.Unlock()
	metrics.PushChannelOpened()

	c.logger.Debug().
		Str(avlog.FieldEvent, "push.opened").
		Str(avlog.FieldSessionID, sessionID).
		Str(avlog.FieldHandle, string(handle)).
		Msg("push channel opened")

	go c.readPush(pc, onEvent)
	return handle, nil
}

func (c *Client) readPush(pc *pushConn, onEvent func(ports.PushEvent)) {
	defer close(pc.done)

	var last uint64
	for {
		_, data, err := pc.conn.ReadMessage()
		if err != nil {
			if !pc.closing.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().
					Str(avlog.FieldEvent, "push.read_failed").
					Str(avlog.FieldSessionID, pc.sessionID).
					Err(err).
					Msg("push channel dropped")
			}
			return
		}

		var msg pushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.RecordPushMessage("malformed")
			continue
		}
		metrics.RecordPushMessage(msg.Type)

		var kind ports.PushEventType
		switch msg.Type {
		case MsgRealtimeUpdate:
			kind = ports.PushUpdate
		case MsgAnalysisComplete:
			kind = ports.PushComplete
		default:
			continue
		}

		seq := last + 1
		if msg.Seq != nil {
			seq = *msg.Seq
		}
		last = max(last, seq)

		payload, err := decodeUpdate(msg.Data)
		if err != nil {
			c.logger.Debug().
				Str(avlog.FieldEvent, "push.decode_failed").
				Str(avlog.FieldSessionID, pc.sessionID).
				Uint64(avlog.FieldSeq, seq).
				Err(err).
				Msg("dropping undecodable push payload")
			continue
		}
		if pc.closing.Load() {
			return
		}
		onEvent(ports.PushEvent{Type: kind, Seq: seq, Payload: payload})
	}
}

// ClosePushChannel closes the connection and waits for its reader, so
// onEvent is not called after it returns (unless ctx ends first).
func (c *Client) ClosePushChannel(ctx context.Context, handle ports.PushHandle) error {
	c.mu.Lock()
	pc, ok := c.conns[handle]
	delete(c.conns, handle)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.closeConn(ctx, handle, pc)
}

func (c *Client) closeConn(ctx context.Context, handle ports.PushHandle, pc *pushConn) error {
	pc.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = pc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(pushWriteWait))
	err := pc.conn.Close()
	metrics.PushChannelClosed()

	select {
	case <-pc.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Debug().
		Str(avlog.FieldEvent, "push.closed").
		Str(avlog.FieldSessionID, pc.sessionID).
		Str(avlog.FieldHandle, string(handle)).
		Msg("push channel closed")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close closes every open push channel and idle HTTP connection.
func (c *Client) Close() error {
	defer c.http.CloseIdleConnections()

	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[ports.PushHandle]*pushConn)
	c.mu.Unlock()

	var errs []error
	for h, pc := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), pushWriteWait)
		errs = append(errs, c.closeConn(ctx, h, pc))
		cancel()
	}
	return errors.Join(errs...)
}
