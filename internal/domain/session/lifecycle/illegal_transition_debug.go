// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build debug

package lifecycle

import (
	"fmt"

	"github.com/ManuGH/auravision/internal/domain/session/model"
)

func illegalTransition(s model.Session, ev EventKind) (model.Session, Transition, error) {
	reason := ForbiddenTransitionReason(s.Status, ev)
	if reason == ForbiddenTerminalAbsorbing {
		// Late events after a terminal state are expected traffic.
		return s, Transition{From: s.Status, To: s.Status, Event: ev}, fmt.Errorf("%w: %s + %s (%s)", ErrIllegalTransition, s.Status, ev, reason)
	}
	panic(fmt.Sprintf("illegal transition: %s + %s (%s)", s.Status, ev, reason))
}
