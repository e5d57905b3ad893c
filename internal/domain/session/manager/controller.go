// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
	"github.com/ManuGH/auravision/internal/domain/session/reconcile"
	"github.com/ManuGH/auravision/internal/domain/session/store"
	"github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/metrics"
	"github.com/ManuGH/auravision/internal/telemetry"
)

const (
	DefaultMaxUploadBytes     int64 = 4 << 30
	DefaultUploadProgressRate       = rate.Limit(10)
	DefaultControlTimeout           = 5 * time.Second
	defaultPushBuffer               = 64
)

// Config tunes the controller. Zero values take the defaults.
type Config struct {
	MaxUploadBytes int64
	PollInterval   time.Duration
	MaxPollMisses  int

	// UploadProgressRate caps forwarded upload progress events per second.
	// Completion (100%) is always forwarded.
	UploadProgressRate rate.Limit

	// ControlTimeout bounds push channel teardown and stop requests.
	ControlTimeout time.Duration

	PushBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = reconcile.DefaultPollInterval
	}
	if c.MaxPollMisses <= 0 {
		c.MaxPollMisses = reconcile.DefaultMaxPollMisses
	}
	if c.UploadProgressRate <= 0 {
		c.UploadProgressRate = DefaultUploadProgressRate
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = DefaultControlTimeout
	}
	if c.PushBuffer <= 0 {
		c.PushBuffer = defaultPushBuffer
	}
	return c
}

// run owns the transport resources of one selected source. It is replaced
// on every epoch change.
type run struct {
	epoch         uint64
	correlationID string
	ctx           context.Context
	cancel        context.CancelFunc

	sessionID       string
	analyzeInFlight bool
	analysisStarted time.Time
	push            ports.PushHandle
	rec             *reconcile.Reconciler
}

// Controller orchestrates select → upload → analyze → reconcile → complete
// for a single session. Every store mutation from background work is
// checked against the epoch it was started under.
type Controller struct {
	cfg       Config
	transport ports.Transport
	store     *store.Store
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu     sync.Mutex
	epoch  uint64
	run    *run
	closed bool

	wg sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore injects the state store, mainly for tests that observe it directly.
func WithStore(s *store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller bound to transport.
func New(transport ports.Transport, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg.withDefaults(),
		transport: transport,
		logger:    log.WithComponent("controller"),
		tracer:    telemetry.Tracer("auravision/session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.New()
	}
	return c
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() (model.Session, bool) {
	return c.store.Snapshot()
}

// Subscribe registers a read-only snapshot listener.
func (c *Controller) Subscribe(l store.Listener) (unsubscribe func()) {
	return c.store.Subscribe(l)
}

func validateSource(src model.Source, maxBytes int64) error {
	switch src.Kind {
	case model.SourceFile:
		if src.File == nil {
			return fmt.Errorf("%w: missing file details", ErrInvalidMedia)
		}
		if !strings.HasPrefix(strings.ToLower(src.File.MIMEType), "video/") {
			return fmt.Errorf("%w: %q", ErrInvalidMedia, src.File.MIMEType)
		}
		if src.File.SizeBytes < 0 {
			return fmt.Errorf("%w: negative size", ErrInvalidMedia)
		}
		if src.File.SizeBytes > maxBytes {
			return fmt.Errorf("%w: %d bytes > %d", ErrOversize, src.File.SizeBytes, maxBytes)
		}
		return nil
	case model.SourceLive:
		if src.Live == nil || src.Live.Width <= 0 || src.Live.Height <= 0 {
			return fmt.Errorf("%w: live source needs positive dimensions", ErrInvalidMedia)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidMedia, src.Kind)
	}
}

// SelectSource validates src, replaces any prior session and starts the
// upload in the background. Validation failures leave the current session
// untouched.
func (c *Controller) SelectSource(ctx context.Context, src model.Source) (err error) {
	defer func() { recordCommand("select_source", err) }()

	if err := validateSource(src, c.cfg.MaxUploadBytes); err != nil {
		outcome := "invalid_media"
		if errors.Is(err, ErrOversize) {
			outcome = "oversize"
		}
		metrics.RecordSelection(string(src.Kind), outcome)
		c.logger.Info().
			Str(log.FieldEvent, "session.select_rejected").
			Str(log.FieldSource, src.String()).
			Err(err).
			Msg("source rejected")
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	closer := c.teardownLocked()

	c.epoch++
	correlationID := uuid.NewString()
	runCtx, cancel := context.WithCancel(log.ContextWithCorrelationID(context.WithoutCancel(ctx), correlationID))
	r := &run{
		epoch:         c.epoch,
		correlationID: correlationID,
		ctx:           runCtx,
		cancel:        cancel,
	}
	c.run = r

	c.store.Begin(src, correlationID)
	if _, err := c.store.Apply(lifecycle.Event{Kind: lifecycle.EvUploadStarted}); err != nil {
		c.mu.Unlock()
		c.detach(closer)
		return err
	}

	c.wg.Add(1)
	go c.upload(r, src)
	c.mu.Unlock()
	c.detach(closer)

	metrics.RecordSelection(string(src.Kind), "accepted")
	c.logger.Info().
		Str(log.FieldEvent, "session.selected").
		Str(log.FieldCorrelationID, correlationID).
		Uint64(log.FieldEpoch, r.epoch).
		Str(log.FieldSource, src.String()).
		Msg("source selected, upload started")
	return nil
}

func (c *Controller) upload(r *run, src model.Source) {
	defer c.wg.Done()
	started := time.Now()

	ctx, span := c.tracer.Start(r.ctx, "session.upload", trace.WithAttributes(
		append(telemetry.SessionAttributes("", r.correlationID, ""), sourceAttributes(src)...)...,
	))

	limiter := rate.NewLimiter(c.cfg.UploadProgressRate, 1)
	progress := func(pct float64) {
		if pct < 100 && !limiter.Allow() {
			return
		}
		_ = c.applyIfCurrent(r.epoch, lifecycle.Event{Kind: lifecycle.EvUploadProgress, Progress: lifecycle.Percent(pct)})
	}

	res, err := c.transport.Upload(ctx, src, progress)
	if err == nil && !model.IsSafeSessionID(res.SessionID) {
		err = fmt.Errorf("%w: upload returned unusable session id %q", ErrTransport, res.SessionID)
	}
	telemetry.EndSpan(span, err)

	if err != nil {
		if r.ctx.Err() != nil {
			observeUpload("cancelled", time.Since(started))
			return
		}
		observeUpload("error", time.Since(started))
		c.failIfCurrent(r, model.RTransport, err)
		return
	}

	c.mu.Lock()
	if c.epoch != r.epoch {
		c.mu.Unlock()
		staleEpochDrops.Inc()
		return
	}
	r.sessionID = res.SessionID
	_, err = c.store.Apply(lifecycle.Event{Kind: lifecycle.EvUploadSucceeded, SessionID: res.SessionID})
	c.mu.Unlock()

	observeUpload("ok", time.Since(started))
	c.logger.Info().
		Str(log.FieldEvent, "session.uploaded").
		Str(log.FieldCorrelationID, r.correlationID).
		Str(log.FieldSessionID, res.SessionID).
		Dur("duration", time.Since(started)).
		Err(err).
		Msg("upload finished")
}

// StartAnalysis asks the service to analyze the ready session, then starts
// the push channel and the poll loop.
func (c *Controller) StartAnalysis(ctx context.Context, mode string, config map[string]string) (err error) {
	defer func() { recordCommand("start_analysis", err) }()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	snap, ok := c.store.Snapshot()
	r := c.run
	switch {
	case ok && snap.Status == model.StatusAnalyzing, r != nil && r.analyzeInFlight:
		c.mu.Unlock()
		return ErrAlreadyAnalyzing
	case !ok || r == nil || snap.Status != model.StatusReady:
		c.mu.Unlock()
		return ErrNoSession
	}
	r.analyzeInFlight = true
	sessionID := r.sessionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		r.analyzeInFlight = false
		c.mu.Unlock()
	}()

	ctx, span := c.tracer.Start(ctx, "session.analyze", trace.WithAttributes(
		telemetry.SessionAttributes(sessionID, r.correlationID, string(snap.Status))...,
	))
	defer func() { telemetry.EndSpan(span, err) }()

	// The request dies with either the caller or the session.
	reqCtx, cancel := context.WithCancel(log.ContextWithSessionID(trace.ContextWithSpan(r.ctx, span), sessionID))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	res, err := c.transport.StartAnalyze(reqCtx, sessionID, mode, config)
	if err != nil {
		switch {
		case r.ctx.Err() != nil:
			return fmt.Errorf("start analysis: %w", errSuperseded)
		case ctx.Err() != nil:
			return fmt.Errorf("start analysis: %w", ctx.Err())
		}
		c.failIfCurrent(r, model.RTransport, err)
		return fmt.Errorf("start analysis: %w: %w", ErrTransport, err)
	}
	if !res.Accepted {
		detail := res.Detail
		if detail == "" {
			detail = "service did not accept the request"
		}
		c.failIfCurrent(r, model.RAnalyzeRejected, lifecycle.NewReasonError(model.RAnalyzeRejected, detail, nil))
		return fmt.Errorf("%w: %s", ErrAnalyzeRejected, detail)
	}

	c.mu.Lock()
	if c.epoch != r.epoch {
		c.mu.Unlock()
		staleEpochDrops.Inc()
		return fmt.Errorf("start analysis: %w", errSuperseded)
	}
	started, err := c.store.Apply(lifecycle.Event{
		Kind:      lifecycle.EvAnalyzeStarted,
		SessionID: sessionID,
		Mode:      mode,
		Config:    config,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	r.analysisStarted = time.Now()
	r.rec = reconcile.New(reconcile.Config{
		SessionID: sessionID,
		StartSeq:  started.LastUpdateSeq,
		Emit: func(ev lifecycle.Event) error {
			return c.applyIfCurrent(r.epoch, ev)
		},
		OnTerminal: func(status model.Status) {
			c.finishRun(r, status)
		},
	})

	pushCh := make(chan ports.PushEvent, c.cfg.PushBuffer)
	poller := reconcile.NewPoller(reconcile.PollerConfig{
		Interval:  c.cfg.PollInterval,
		MaxMisses: c.cfg.MaxPollMisses,
		Fetch: func(ctx context.Context) (ports.PollStatus, error) {
			return c.transport.PollStatus(ctx, sessionID)
		},
		Rec: r.rec,
		OnLost: func(err error) {
			c.failIfCurrent(r, model.RConnectivityLost, err)
		},
	})
	c.wg.Add(2)
	go c.pump(r, pushCh)
	go func() {
		defer c.wg.Done()
		poller.Run(r.ctx)
	}()
	c.mu.Unlock()

	c.logger.Info().
		Str(log.FieldEvent, "session.analysis_started").
		Str(log.FieldCorrelationID, r.correlationID).
		Str(log.FieldSessionID, sessionID).
		Str("mode", mode).
		Msg("analysis started")

	c.openPush(r, sessionID, pushCh)
	return nil
}

// openPush subscribes to the push channel. Failure is tolerated: the poll
// loop still drives the session.
func (c *Controller) openPush(r *run, sessionID string, pushCh chan<- ports.PushEvent) {
	onEvent := func(ev ports.PushEvent) {
		select {
		case pushCh <- ev:
		case <-r.ctx.Done():
		}
	}
	handle, err := c.transport.OpenPushChannel(r.ctx, sessionID, onEvent)
	if err != nil {
		if r.ctx.Err() == nil {
			c.logger.Warn().
				Str(log.FieldEvent, "push.open_failed").
				Str(log.FieldSessionID, sessionID).
				Err(err).
				Msg("push channel unavailable, relying on polling")
		}
		return
	}

	c.mu.Lock()
	if c.run == r && r.ctx.Err() == nil {
		r.push = handle
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	// The run ended while the channel was opening.
	c.closePush(handle)
}

// pump drains the push buffer, handing everything queued so far to the
// reconciler as one merge pass.
func (c *Controller) pump(r *run, ch <-chan ports.PushEvent) {
	defer c.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-ch:
			batch := []ports.PushEvent{ev}
		drain:
			for {
				select {
				case more := <-ch:
					batch = append(batch, more)
				default:
					break drain
				}
			}
			r.rec.HandlePush(batch...)
		}
	}
}

// Cancel aborts the in-flight upload or analysis and fails the session with
// a cancellation cause. No store mutation happens after it returns.
func (c *Controller) Cancel() (err error) {
	defer func() { recordCommand("cancel", err) }()

	c.mu.Lock()
	snap, ok := c.store.Snapshot()
	if !ok {
		c.mu.Unlock()
		return ErrNotCancellable
	}
	if snap.Status.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	if !snap.Status.HasWorkInFlight() {
		c.mu.Unlock()
		return ErrNotCancellable
	}

	c.epoch++
	_, err = c.store.Apply(lifecycle.Event{Kind: lifecycle.EvCancelRequested, SessionID: snap.SessionID})
	closer := c.teardownLocked()
	c.mu.Unlock()

	if closer != nil {
		closer()
	}
	if snap.Status == model.StatusAnalyzing {
		c.requestStop(snap.SessionID)
	}

	c.logger.Info().
		Str(log.FieldEvent, "session.cancelled").
		Str(log.FieldCorrelationID, snap.CorrelationID).
		Str(log.FieldSessionID, snap.SessionID).
		Str(log.FieldOldState, string(snap.Status)).
		Msg("session cancelled")
	return err
}

// requestStop asks the service to abandon the analysis, if the transport can.
func (c *Controller) requestStop(sessionID string) {
	stopper, ok := c.transport.(ports.AnalysisStopper)
	if !ok || sessionID == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ControlTimeout)
		defer cancel()
		if err := stopper.StopAnalysis(ctx, sessionID); err != nil {
			c.logger.Warn().
				Str(log.FieldEvent, "session.stop_failed").
				Str(log.FieldSessionID, sessionID).
				Err(err).
				Msg("service stop request failed")
		}
	}()
}

// ExportSnapshot returns the export document of a completed session.
func (c *Controller) ExportSnapshot() (model.Export, error) {
	snap, ok := c.store.Snapshot()
	if !ok || snap.Status != model.StatusCompleted {
		return model.Export{}, ErrNotComplete
	}
	return model.NewExport(snap), nil
}

// Reset discards the current session, aborting any work in flight without
// a failure transition.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.epoch++
	closer := c.teardownLocked()
	c.store.Clear()
	c.mu.Unlock()
	c.detach(closer)
}

// Close cancels in-flight work and waits for every background goroutine.
// The final snapshot stays readable.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return nil
	}
	c.closed = true
	c.epoch++
	if snap, ok := c.store.Snapshot(); ok && snap.Status.HasWorkInFlight() {
		_, _ = c.store.Apply(lifecycle.Event{Kind: lifecycle.EvCancelRequested, Cause: "controller closed"})
	}
	closer := c.teardownLocked()
	c.mu.Unlock()

	if closer != nil {
		closer()
	}
	c.wg.Wait()
	return nil
}

// applyIfCurrent applies ev only if epoch is still current.
func (c *Controller) applyIfCurrent(epoch uint64, ev lifecycle.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		staleEpochDrops.Inc()
		return errSuperseded
	}
	_, err := c.store.Apply(ev)
	return err
}

// failIfCurrent moves the session of r to failed and releases its resources.
func (c *Controller) failIfCurrent(r *run, reason model.ReasonCode, cause error) {
	_, detail := lifecycle.ClassifyReason(cause)

	c.mu.Lock()
	if c.epoch != r.epoch {
		c.mu.Unlock()
		staleEpochDrops.Inc()
		return
	}
	snap, err := c.store.Apply(lifecycle.Event{
		Kind:      lifecycle.EvFailed,
		SessionID: r.sessionID,
		Reason:    reason,
		Cause:     detail,
	})
	if err != nil {
		c.mu.Unlock()
		return
	}
	var closer func()
	if snap.Status.IsTerminal() {
		closer = c.teardownLocked()
	}
	c.mu.Unlock()
	c.detach(closer)

	c.logger.Warn().
		Str(log.FieldEvent, "session.failed").
		Str(log.FieldCorrelationID, r.correlationID).
		Str(log.FieldSessionID, r.sessionID).
		Str(log.FieldReason, string(reason)).
		Err(cause).
		Msg("session failed")
}

// finishRun releases the resources of a run whose analysis reached a
// terminal status through the reconciler.
func (c *Controller) finishRun(r *run, status model.Status) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	if !r.analysisStarted.IsZero() {
		observeAnalysis(string(status), time.Since(r.analysisStarted))
	}
	closer := c.teardownLocked()
	c.mu.Unlock()
	c.detach(closer)
}

// teardownLocked cancels the current run. The returned func closes the push
// channel and must be called without c.mu held; it is nil if there is
// nothing to close.
func (c *Controller) teardownLocked() func() {
	r := c.run
	if r == nil {
		return nil
	}
	c.run = nil
	r.cancel()
	if r.push == "" {
		return nil
	}
	handle := r.push
	r.push = ""
	return func() { c.closePush(handle) }
}

func (c *Controller) closePush(handle ports.PushHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ControlTimeout)
	defer cancel()
	if err := c.transport.ClosePushChannel(ctx, handle); err != nil {
		c.logger.Debug().
			Str(log.FieldEvent, "push.close_failed").
			Str(log.FieldHandle, string(handle)).
			Err(err).
			Msg("closing push channel failed")
	}
}

// detach runs fn on a tracked goroutine so callers holding no lock need not
// wait for network teardown.
func (c *Controller) detach(fn func()) {
	if fn == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func sourceAttributes(src model.Source) []attribute.KeyValue {
	if src.Kind == model.SourceFile && src.File != nil {
		return telemetry.SourceAttributes(string(src.Kind), src.File.MIMEType, src.File.SizeBytes)
	}
	return telemetry.SourceAttributes(string(src.Kind), "", 0)
}
