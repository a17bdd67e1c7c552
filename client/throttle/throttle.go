package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/adamwoolhether/fetchq/request"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config holds the limiter's requests per second and burst size.
type Config struct {
	RPS   int
	Burst int
}

// RoundTripper admits outbound requests through a token bucket before
// handing them to the next transport. Requests whose context carries
// request.Immediate priority are admitted without a token.
type RoundTripper struct {
	limiter *rate.Limiter
	cfg     Config
	next    http.RoundTripper
	logFn   func() *slog.Logger

	// logEvery keeps a saturated limiter from logging every request.
	logEvery rate.Sometimes
}

// NewRoundTripper returns a RoundTripper allowing rps requests per second
// with bursts of up to burst. logFn resolves the logger at request time so
// option ordering does not matter; nil or nil-returning disables logging.
func NewRoundTripper(rps, burst int, logFn func() *slog.Logger, next http.RoundTripper) (*RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	rt := RoundTripper{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		cfg:      Config{RPS: rps, Burst: burst},
		next:     next,
		logFn:    logFn,
		logEvery: rate.Sometimes{Interval: time.Second},
	}

	return &rt, nil
}

func (t *RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	if p, ok := request.PriorityFromContext(ctx); !ok || p != request.Immediate {
		if err := t.admit(ctx, r); err != nil {
			return nil, err
		}
	}

	return t.next.RoundTrip(r)
}

// admit blocks until a token is available for r. The reservation is
// returned to the bucket when ctx ends first, or up front when ctx's
// deadline falls before the token would be ready.
func (t *RoundTripper) admit(ctx context.Context, r *http.Request) error {
	res := t.limiter.Reserve()
	delay := res.Delay()
	if delay == 0 {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		res.Cancel()
		return fmt.Errorf("%w: delay %v exceeds deadline: %w", ErrWaitingFailed, delay, context.DeadlineExceeded)
	}

	if logger := t.logFn(); logger != nil {
		t.logEvery.Do(func() {
			logger.Info("throttling request", "delay", delay.String(), "rate", t.cfg.RPS, "burst", t.cfg.Burst, "path", r.URL.Path)
		})
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		res.Cancel()
		return fmt.Errorf("%w: %w", ErrWaitingFailed, ctx.Err())
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return nil
}
