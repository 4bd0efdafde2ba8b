// Package ratelimit throttles data connection throughput with a token
// bucket shared by every reader and writer wrapped with the same Limiter.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// chunk bounds how many bytes one Read or Write may move before the bucket
// is consulted again.
const chunk = 16 * 1024

// Limiter is a token bucket holding at most one second of traffic.
// A nil *Limiter imposes no limit.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	tokens float64
	last   time.Time

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New returns a limiter for bytesPerSecond, or nil when the rate is not
// positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:   rate,
		tokens: rate,
		last:   time.Now(),
		sleep:  time.Sleep,
	}
}

// Rate returns the configured bytes per second, 0 for a nil limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

// Wait blocks until n bytes may pass.
func (l *Limiter) Wait(n int) {
	if l == nil || n <= 0 {
		return
	}
	if d := l.reserve(n); d > 0 {
		l.sleep(d)
	}
}

// reserve takes n tokens, letting the balance go negative, and returns how
// long the caller must wait for the debt to be repaid.
func (l *Limiter) reserve(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.last = now

	l.tokens -= float64(n)
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader wraps r so reads draw from l. It returns r itself when l is nil.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) > chunk {
		p = p[:chunk]
	}
	n, err := r.r.Read(p)
	r.l.Wait(n)
	return n, err
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter wraps w so writes draw from l. It returns w itself when l is nil.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		n := min(len(p), chunk)
		w.l.Wait(n)
		m, err := w.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
