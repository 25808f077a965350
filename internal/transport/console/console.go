// Package console is a stdin/stdout chat surface for local runs: every
// line typed becomes an inbound update, replies and notifications print to
// stdout.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"tajmer/internal/transport"
	logx "tajmer/pkg/logx"
)

type Adapter struct {
	log logx.Logger
	in  io.Reader
	w   io.Writer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func New(log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log, in: os.Stdin, w: os.Stdout}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	go func() {
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			select {
			case out <- transport.Update{Text: text}:
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.running = false
	return nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	_ = chatID
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.w, text)
	return err
}
