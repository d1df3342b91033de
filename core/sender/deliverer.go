// Package sender delivers outbound game messages through a platform client
// with bounded retries and records messages that could not be delivered.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/goodcleanfun/plqbot/core/game"
	"github.com/goodcleanfun/plqbot/core/logger"
	"github.com/goodcleanfun/plqbot/core/netutil"
)

// ErrDeliveryFailed wraps the last error of a message that exhausted its retries.
var ErrDeliveryFailed = errors.New("sender: delivery failed")

var tokenRes = []*regexp.Regexp{
	regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`),
	regexp.MustCompile(`access_token=[^&\s"]+`),
}

// Client sends one message to one platform recipient.
type Client interface {
	Send(ctx context.Context, recipientID string, m game.Message) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, recipientID string, m game.Message) error

// Send calls f.
func (f ClientFunc) Send(ctx context.Context, recipientID string, m game.Message) error {
	return f(ctx, recipientID, m)
}

// Failure describes a message that was not delivered.
type Failure struct {
	RID         string
	UserID      string
	EventID     string
	MessageKind string
	Summary     string
	Attempts    int
	ErrorKind   string
	Error       string
	FailedAt    time.Time
}

// FailureRecorder persists delivery failures.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f Failure) error
}

// LogRecorder is the recorder used when no ledger is configured; the failure
// is already logged by the Deliverer so it keeps nothing.
type LogRecorder struct{}

// RecordFailure does nothing.
func (LogRecorder) RecordFailure(context.Context, Failure) error { return nil }

// Options controls retries.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on one message including retries.
	MaxDuration time.Duration
	// AttemptTimeout bounds a single Send call.
	AttemptTimeout time.Duration
}

// Deliverer sends messages synchronously so callers control ordering.
type Deliverer struct {
	client   Client
	recorder FailureRecorder
	opts     Options
	errs     atomic.Uint64
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDeliverer applies defaults for zeroed options. A nil recorder logs only.
func NewDeliverer(client Client, recorder FailureRecorder, opts Options) *Deliverer {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = LogRecorder{}
	}
	return &Deliverer{client: client, recorder: recorder, opts: opts, sleep: sleepCtx}
}

// ErrorCount returns the number of messages that failed for good.
func (d *Deliverer) ErrorCount() uint64 {
	return d.errs.Load()
}

// Deliver sends m to userID, retrying transient errors with linear backoff.
// The returned error wraps ErrDeliveryFailed.
func (d *Deliverer) Deliver(ctx context.Context, userID string, m game.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var (
		lastErr error
		tried   int
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		tried = attempt

		attemptCtx, cancelAttempt := context.WithTimeout(deadlineCtx, d.opts.AttemptTimeout)
		err := d.client.Send(attemptCtx, userID, m)
		cancelAttempt()
		if err == nil {
			if attempt > 1 {
				logger.Info(ctx, "sender", "send.retry.success",
					slog.String("kind", string(m.Kind)),
					slog.Int("attempt", attempt),
					slog.Duration("duration", logger.Took(start)),
				)
			} else if logger.ShouldSampleDebug() {
				logger.Debug(ctx, "sender", "send.success",
					slog.String("kind", string(m.Kind)),
					slog.Duration("duration", logger.Took(start)),
				)
			}
			return nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := d.opts.RetryBackoff * time.Duration(attempt)
		logger.Debug(ctx, "sender", "send.retry.backoff",
			slog.String("kind", string(m.Kind)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("err", sanitizeErrorMessage(err)),
		)
		if err := d.sleep(deadlineCtx, delay); err != nil {
			lastErr = err
			break
		}
	}

	d.errs.Add(1)
	f := Failure{
		RID:         logger.RIDFrom(ctx),
		UserID:      userID,
		EventID:     logger.EventIDFrom(ctx),
		MessageKind: string(m.Kind),
		Summary:     logger.SanitizeLimit(m.Summary(), 256),
		Attempts:    tried,
		ErrorKind:   classifyError(lastErr),
		Error:       sanitizeErrorMessage(lastErr),
		FailedAt:    time.Now().UTC(),
	}
	logger.Error(ctx, "sender", "send.fail",
		slog.String("status", "fail"),
		slog.String("kind", f.MessageKind),
		slog.Int("attempts", f.Attempts),
		slog.Duration("duration", logger.Took(start)),
		slog.String("error_kind", f.ErrorKind),
		slog.String("err", f.Error),
	)
	// Recording must outlive a cancelled turn context.
	recCtx, cancelRec := context.WithTimeout(context.WithoutCancel(ctx), d.opts.AttemptTimeout)
	defer cancelRec()
	if err := d.recorder.RecordFailure(recCtx, f); err != nil {
		logger.Warn(ctx, "sender", "send.fail.record",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return fmt.Errorf("%w: %s", ErrDeliveryFailed, f.Error)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sanitizeErrorMessage prevents accidental leakage of platform tokens in logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, re := range tokenRes {
		msg = re.ReplaceAllStringFunc(msg, redact)
	}
	return msg
}

func redact(s string) string {
	if len(s) > 3 && s[:3] == "bot" {
		return "bot<redacted>"
	}
	return "access_token=<redacted>"
}
