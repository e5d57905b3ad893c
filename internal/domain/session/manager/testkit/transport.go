// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testkit provides a scriptable in-memory transport for controller tests.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
)

// ErrPushClosed is returned by Push when no channel is open for the session.
var ErrPushClosed = errors.New("push channel not open")

type (
	UploadFunc  func(ctx context.Context, src model.Source, progress func(float64)) (ports.UploadResult, error)
	AnalyzeFunc func(ctx context.Context, sessionID, mode string, config map[string]string) (ports.AnalyzeResult, error)
	PollFunc    func(ctx context.Context, sessionID string) (ports.PollStatus, error)
)

type subscription struct {
	sessionID string
	onEvent   func(ports.PushEvent)
}

// Transport implements ports.Transport and ports.AnalysisStopper with
// scriptable behaviour. The zero configuration uploads instantly, accepts
// every analysis and reports "processing" on every poll.
type Transport struct {
	mu        sync.Mutex
	upload    UploadFunc
	analyze   AnalyzeFunc
	poll      PollFunc
	openErr   error
	subs      map[ports.PushHandle]subscription
	nextSub   int
	closed    []ports.PushHandle
	stopCalls []string

	uploadCalls  atomic.Int32
	analyzeCalls atomic.Int32
	pollCalls    atomic.Int32
	opened       chan ports.PushHandle
}

var (
	_ ports.Transport       = (*Transport)(nil)
	_ ports.AnalysisStopper = (*Transport)(nil)
)

func NewTransport() *Transport {
	t := &Transport{
		subs:   make(map[ports.PushHandle]subscription),
		opened: make(chan ports.PushHandle, 16),
	}
	t.upload = func(_ context.Context, _ model.Source, progress func(float64)) (ports.UploadResult, error) {
		progress(50)
		progress(100)
		return ports.UploadResult{SessionID: fmt.Sprintf("vid-%d", t.uploadCalls.Load())}, nil
	}
	t.analyze = func(context.Context, string, string, map[string]string) (ports.AnalyzeResult, error) {
		return ports.AnalyzeResult{Accepted: true}, nil
	}
	t.poll = func(context.Context, string) (ports.PollStatus, error) {
		return ports.PollStatus{Status: ports.ServiceProcessing}, nil
	}
	return t
}

func (t *Transport) SetUpload(fn UploadFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upload = fn
}

func (t *Transport) SetAnalyze(fn AnalyzeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.analyze = fn
}

func (t *Transport) SetPoll(fn PollFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.poll = fn
}

// SetOpenError makes OpenPushChannel fail with err.
func (t *Transport) SetOpenError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

func (t *Transport) Upload(ctx context.Context, src model.Source, progress func(float64)) (ports.UploadResult, error) {
	t.uploadCalls.Add(1)
	t.mu.Lock()
	fn := t.upload
	t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ports.UploadResult{}, err
	}
	return fn(ctx, src, progress)
}

func (t *Transport) StartAnalyze(ctx context.Context, sessionID, mode string, config map[string]string) (ports.AnalyzeResult, error) {
	t.analyzeCalls.Add(1)
	t.mu.Lock()
	fn := t.analyze
	t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ports.AnalyzeResult{}, err
	}
	return fn(ctx, sessionID, mode, config)
}

func (t *Transport) PollStatus(ctx context.Context, sessionID string) (ports.PollStatus, error) {
	t.pollCalls.Add(1)
	t.mu.Lock()
	fn := t.poll
	t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ports.PollStatus{}, err
	}
	return fn(ctx, sessionID)
}

func (t *Transport) OpenPushChannel(ctx context.Context, sessionID string, onEvent func(ports.PushEvent)) (ports.PushHandle, error) {
	t.mu.Lock()
	if t.openErr != nil {
		err := t.openErr
		t.mu.Unlock()
		return "", err
	}
	t.nextSub++
	h := ports.PushHandle(fmt.Sprintf("push-%d", t.nextSub))
	t.subs[h] = subscription{sessionID: sessionID, onEvent: onEvent}
	t.mu.Unlock()

	select {
	case t.opened <- h:
	default:
	}
	return h, nil
}

func (t *Transport) ClosePushChannel(_ context.Context, h ports.PushHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[h]; ok {
		delete(t.subs, h)
		t.closed = append(t.closed, h)
	}
	return nil
}

func (t *Transport) StopAnalysis(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCalls = append(t.stopCalls, sessionID)
	return nil
}

// Push delivers ev to every open channel for sessionID, as the server would.
func (t *Transport) Push(sessionID string, ev ports.PushEvent) error {
	t.mu.Lock()
	var targets []func(ports.PushEvent)
	for _, s := range t.subs {
		if s.sessionID == sessionID {
			targets = append(targets, s.onEvent)
		}
	}
	t.mu.Unlock()

	if len(targets) == 0 {
		return ErrPushClosed
	}
	for _, fn := range targets {
		fn(ev)
	}
	return nil
}

// Opened receives the handle of every opened push channel.
func (t *Transport) Opened() <-chan ports.PushHandle {
	return t.opened
}

// OpenChannels returns the number of push channels still open.
func (t *Transport) OpenChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Closed returns the handles closed so far.
func (t *Transport) Closed() []ports.PushHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ports.PushHandle(nil), t.closed...)
}

// StopCalls returns the session ids passed to StopAnalysis.
func (t *Transport) StopCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.stopCalls...)
}

func (t *Transport) UploadCalls() int  { return int(t.uploadCalls.Load()) }
func (t *Transport) AnalyzeCalls() int { return int(t.analyzeCalls.Load()) }
func (t *Transport) PollCalls() int    { return int(t.pollCalls.Load()) }
