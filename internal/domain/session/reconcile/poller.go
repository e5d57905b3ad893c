// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/domain/session/ports"
	avlog "github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/metrics"
)

const (
	DefaultPollInterval  = time.Second
	DefaultMaxPollMisses = 5
)

// FetchFunc performs one poll request.
type FetchFunc func(ctx context.Context) (ports.PollStatus, error)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval  time.Duration
	MaxMisses int
	Fetch     FetchFunc
	Rec       *Reconciler

	// OnLost is called once when consecutive misses reach MaxMisses. The
	// error wraps lifecycle.ErrConnectivityLost.
	OnLost func(error)

	Logger *zerolog.Logger
}

// Poller drives the fixed-interval status poll with at most one request in flight.
type Poller struct {
	interval  time.Duration
	maxMisses int
	fetch     FetchFunc
	rec       *Reconciler
	onLost    func(error)
	logger    zerolog.Logger

	firstTick uint64
}

// NewPoller applies defaults to cfg and opens the first tick on cfg.Rec, so
// pushes merged before Run share that tick with the first poll.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = DefaultMaxPollMisses
	}
	logger := avlog.WithComponent("poller")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Poller{
		interval:  cfg.Interval,
		maxMisses: cfg.MaxMisses,
		fetch:     cfg.Fetch,
		rec:       cfg.Rec,
		onLost:    cfg.OnLost,
		logger:    logger,
		firstTick: cfg.Rec.BeginTick(),
	}
}

type pollResult struct {
	tick   uint64
	status ports.PollStatus
	err    error
}

// Run polls until ctx is done, the reconciler turns terminal, or the miss
// limit is reached. It returns only after its request goroutine has exited.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	results := make(chan pollResult, 1)
	inflight := false
	// inflightMissed marks a request already charged as a miss by a skipped tick.
	inflightMissed := false
	misses := 0

	fire := func(tick uint64) {
		inflight = true
		inflightMissed = false

		reqCtx, cancel := context.WithTimeout(ctx, p.interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			st, err := p.fetch(reqCtx)
			select {
			case results <- pollResult{tick: tick, status: st, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	// miss returns true when the limit has been reached.
	miss := func(cause string, err error) bool {
		misses++
		metrics.RecordPollMiss(cause)
		evt := p.logger.Debug()
		if misses > 1 {
			evt = p.logger.Warn()
		}
		evt.Str(avlog.FieldEvent, "poll.miss").
			Str("cause", cause).
			Int(avlog.FieldMisses, misses).
			Err(err).
			Msg("poll tick missed")
		if misses < p.maxMisses {
			return false
		}
		metrics.IncPollConnectivityLost()
		lost := fmt.Errorf("%w: %d consecutive poll misses", lifecycle.ErrConnectivityLost, misses)
		p.logger.Warn().
			Str(avlog.FieldEvent, "poll.connectivity_lost").
			Int(avlog.FieldMisses, misses).
			Msg("giving up on status polling")
		if p.onLost != nil {
			p.onLost(lost)
		}
		return true
	}

	fire(p.firstTick)
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if p.rec.Terminal() {
				return
			}
			if inflight {
				inflightMissed = true
				if miss("skipped", nil) {
					return
				}
				continue
			}
			fire(p.rec.BeginTick())

		case res := <-results:
			inflight = false
			if res.err != nil {
				if ctx.Err() != nil {
					return
				}
				if inflightMissed {
					// Already charged by the skipped tick; retry without
					// waiting for the next one.
					if p.rec.Terminal() {
						return
					}
					fire(p.rec.BeginTick())
					continue
				}
				cause := "error"
				if errors.Is(res.err, context.DeadlineExceeded) {
					cause = "timeout"
				}
				if miss(cause, res.err) {
					return
				}
				continue
			}
			misses = 0
			p.rec.HandlePoll(res.tick, res.status)
			if p.rec.Terminal() {
				return
			}
		}
	}
}
