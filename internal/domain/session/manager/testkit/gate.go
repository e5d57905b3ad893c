// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package testkit

import (
	"context"
	"sync"
)

// Gate blocks a fake transport call until the test releases it.
type Gate struct {
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func NewGate() *Gate {
	return &Gate{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// Wait marks the gate as entered and blocks until Release or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.enterOnce.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entered is closed once a caller reaches Wait.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

func (g *Gate) Release() {
	g.releaseOnce.Do(func() { close(g.release) })
}
