package timer

import (
	"context"

	logx "tajmer/pkg/logx"
)

// Notifier delivers the one user-visible alert for a fired timer.
// Implementations must dedupe by id: the expiry path may run more than
// once for the same timer (duplicate facility callbacks, reconcile sweep).
type Notifier interface {
	Notify(ctx context.Context, id, description string) error
}

// ExpiryHandler is the single entry point invoked when a timer's durable
// job fires. Both steps run regardless of the other's outcome:
//
//  1. Registry-only cancel. Finding nothing is fine: after a process
//     restart the registry is empty while the job still fires.
//  2. Notify. A delivery failure is logged, never escalated; the timer's
//     lifecycle already completed.
//
// HandleExpiry is idempotent for a given id.
type ExpiryHandler struct {
	reg    *Registry
	notify Notifier
	log    logx.Logger
}

func NewExpiryHandler(reg *Registry, notify Notifier, log logx.Logger) *ExpiryHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExpiryHandler{reg: reg, notify: notify, log: log}
}

func (h *ExpiryHandler) HandleExpiry(ctx context.Context, p Payload) {
	h.reg.Expire(p.TimerID)

	if h.notify == nil {
		return
	}
	if err := h.notify.Notify(ctx, p.TimerID, p.Description); err != nil {
		h.log.Warn("timer notification failed",
			logx.String("id", p.TimerID), logx.Err(err))
	}
}
