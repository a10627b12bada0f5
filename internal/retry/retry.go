// File: internal/retry/retry.go
// Brief: Retry classification and backoff for provider calls.

package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

type Class string

const (
	RateLimit   Class = "RATE_LIMIT"
	Timeout     Class = "TIMEOUT"
	Transport   Class = "TRANSPORT"
	Unavailable Class = "UNAVAILABLE"
	Server5xx   Class = "SERVER_5XX"
	Other       Class = "OTHER"
)

// Classify buckets an error by how it should be retried.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException", "SlowDown":
			return RateLimit
		case "ServiceUnavailable", "InternalFailure", "InternalError":
			return Server5xx
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate exceeded"):
		return RateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "context deadline exceeded"):
		return Timeout
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof"):
		return Transport
	case strings.Contains(msg, "temporarily unavailable"):
		return Unavailable
	case strings.Contains(msg, "internal error") || strings.Contains(msg, "server error"):
		return Server5xx
	default:
		return Other
	}
}

func Retryable(c Class) bool {
	switch c {
	case RateLimit, Timeout, Transport, Unavailable, Server5xx:
		return true
	default:
		return false
	}
}

// Backoff returns the jittered delay before attempt (1-based).
func Backoff(attempt int) time.Duration {
	base := 800 * time.Millisecond
	if attempt <= 1 {
		return jitter(base)
	}
	d := base * time.Duration(1<<uint(min(attempt-1, 6)))
	if d > 20*time.Second {
		d = 20 * time.Second
	}
	return jitter(d)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/- 20%
	f := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * f)
}

// Policy controls Do. Zero MaxAttempts means a single attempt.
type Policy struct {
	MaxAttempts int
	// Sleep defaults to a context-aware timer; tests swap it out.
	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(attempt int, class Class, err error, delay time.Duration)
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts
// run out. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		class := Classify(err)
		if !Retryable(class) || attempt == attempts {
			return err
		}
		delay := Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, class, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
