// Package ratelimit throttles data connections with a token bucket.
//
// A Limiter may be shared by several readers and writers; they then split
// its rate between them. Waiting honours context cancellation so a session
// that is shut down does not stay parked in a throttled transfer.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// Limiter is a token bucket measured in bytes.
type Limiter struct {
	mu     sync.Mutex
	rate   float64 // bytes per second
	burst  float64
	tokens float64
	last   time.Time
}

// New returns a limiter for bytesPerSecond with a one second burst.
// It returns nil, meaning unlimited, when bytesPerSecond is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	r := float64(bytesPerSecond)
	return &Limiter{rate: r, burst: r, tokens: r, last: time.Now()}
}

// reserve takes n tokens, going into debt if needed, and returns how long
// the caller must wait for the debt to clear.
func (l *Limiter) reserve(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	l.tokens -= float64(n)
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

// Wait blocks until n bytes may pass. A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if limit := int(l.burst); chunk > limit {
			chunk = limit
		}
		n -= chunk

		d := l.reserve(chunk)
		if d <= 0 {
			continue
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return nil
}

type reader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

// NewReader charges every read from r against l.
// With a nil limiter r is returned unchanged.
func NewReader(ctx context.Context, r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.l.Wait(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type writer struct {
	ctx context.Context
	w   io.Writer
	l   *Limiter
}

// NewWriter charges every write to w against l before it happens.
// With a nil limiter w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	if err := w.l.Wait(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}
