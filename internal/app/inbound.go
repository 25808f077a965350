package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tajmer/internal/timer"
	"tajmer/internal/transport"
	logx "tajmer/pkg/logx"
)

// inboundLoop runs command detection on every inbound message. Scheduling
// can block on storage I/O, so each update is handled off the receive loop.
func (a *App) inboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			go a.handleUpdate(ctx, up)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up transport.Update) {
	text := strings.TrimSpace(up.Text)
	if text == "" {
		return
	}

	if reply, handled := a.handleCommand(ctx, text); handled {
		a.reply(ctx, up.ChatID, reply)
		return
	}

	cmd, ok := timer.Detect(text)
	if !ok {
		// Not a timer request; nothing to do.
		return
	}

	id, err := a.reg.Start(ctx, cmd)
	if err != nil {
		// An unscheduled timer is a silent feature failure otherwise.
		a.reply(ctx, up.ChatID, "Couldn't start the timer, try again: "+err.Error())
		return
	}
	a.reply(ctx, up.ChatID, fmt.Sprintf("Timer started: %d min (id %s)", cmd.DurationMinutes, id))
}

// handleCommand serves the explicit registry operations: listing active
// timers and cancelling one by id.
func (a *App) handleCommand(ctx context.Context, text string) (string, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", false
	}

	switch strings.TrimPrefix(fields[0], "/") {
	case "timers", "tajmeri":
		return a.formatActive(), true
	case "cancel", "otkazi":
		if len(fields) < 2 {
			return "Usage: cancel <id>", true
		}
		id := fields[1]
		a.reg.Cancel(ctx, id)
		return "Timer " + id + " cancelled.", true
	}
	return "", false
}

func (a *App) formatActive() string {
	active := a.reg.Active()
	if len(active) == 0 {
		return "No active timers."
	}
	var b strings.Builder
	now := time.Now()
	for i, rec := range active {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s — %d min, %s left", rec.ID, rec.DurationMinutes,
			rec.Remaining(now).Round(time.Second))
	}
	return b.String()
}

func (a *App) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.adapter.SendText(sctx, chatID, text); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
