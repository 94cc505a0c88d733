package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ErrReadTimeout is returned when a body produced no data within the read timeout
var ErrReadTimeout = errors.New("read timeout")

// idleTimeoutBody cancels the request when no Read completes within timeout.
type idleTimeoutBody struct {
	body     io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	cancel   context.CancelFunc
	timedOut atomic.Bool
}

// WrapIdleTimeout bounds every read on body by timeout. cancel must cancel
// the context the request was issued with; it is also called on Close.
func WrapIdleTimeout(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	b := &idleTimeoutBody{
		body:    body,
		timeout: timeout,
		cancel:  cancel,
	}
	b.timer = time.AfterFunc(timeout, func() {
		b.timedOut.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.timedOut.Load() && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("no data for %s: %w", b.timeout, ErrReadTimeout)
	}
	if err == nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel()
	return err
}
