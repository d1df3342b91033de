package sender

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodcleanfun/plqbot/core/game"
	"github.com/goodcleanfun/plqbot/core/logger"
)

type statusErr struct {
	code int
}

func (e statusErr) Error() string   { return "api error access_token=SECRET123 status" }
func (e statusErr) HTTPStatus() int { return e.code }
func (e statusErr) Retryable() bool { return e.code >= 500 || e.code == 429 }

type memRecorder struct {
	mu       sync.Mutex
	failures []Failure
}

func (r *memRecorder) RecordFailure(_ context.Context, f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

func newTestDeliverer(c Client, rec FailureRecorder, retries int) *Deliverer {
	d := NewDeliverer(c, rec, Options{MaxRetries: retries, RetryBackoff: time.Millisecond, MaxDuration: time.Second})
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestDeliverRetriesTransient(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, id string, m game.Message) error {
		calls++
		if calls < 3 {
			return statusErr{code: 503}
		}
		return nil
	})
	d := newTestDeliverer(client, nil, 2)
	if err := d.Deliver(context.Background(), "u1", game.Text("hi")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if calls != 3 || d.ErrorCount() != 0 {
		t.Fatalf("calls=%d errs=%d", calls, d.ErrorCount())
	}
}

func TestDeliverStopsOnPermanentError(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, id string, m game.Message) error {
		calls++
		return statusErr{code: 400}
	})
	rec := &memRecorder{}
	d := newTestDeliverer(client, rec, 5)
	ctx := logger.WithTurn(logger.WithRID(context.Background(), "rid-1"), "u1", "mid.9")
	err := d.Deliver(ctx, "u1", game.Image("https://img/x.png"))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(rec.failures) != 1 {
		t.Fatalf("recorded %d failures", len(rec.failures))
	}
	f := rec.failures[0]
	if f.RID != "rid-1" || f.EventID != "mid.9" || f.UserID != "u1" || f.MessageKind != "image" || f.ErrorKind != "http_4xx" || f.Attempts != 1 {
		t.Fatalf("failure = %+v", f)
	}
	if strings.Contains(f.Error, "SECRET123") || strings.Contains(err.Error(), "SECRET123") {
		t.Fatalf("token leaked: %q", f.Error)
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("error count = %d", d.ErrorCount())
	}
}

func TestDeliverExhaustsRetries(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, id string, m game.Message) error {
		calls++
		return &net.OpError{Op: "dial", Err: errors.New("refused")}
	})
	rec := &memRecorder{}
	d := newTestDeliverer(client, rec, 2)
	if err := d.Deliver(context.Background(), "u1", game.Text("x")); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 || rec.failures[0].Attempts != 3 || rec.failures[0].ErrorKind != "dial" {
		t.Fatalf("calls=%d failure=%+v", calls, rec.failures[0])
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{statusErr{code: 429}, "rate_limited"},
		{statusErr{code: 502}, "http_5xx"},
		{errors.New("telegram: chat not found (400)"), "http_4xx"},
		{errors.New("weird"), "unknown"},
	}
	for _, tt := range tests {
		if got := classifyError(tt.err); got != tt.want {
			t.Fatalf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123:ABC-def/sendMessage?access_token=xyz": EOF`)
	got := sanitizeErrorMessage(err)
	if strings.Contains(got, "ABC-def") || strings.Contains(got, "xyz") {
		t.Fatalf("not redacted: %s", got)
	}
	if !strings.Contains(got, "bot<redacted>") || !strings.Contains(got, "access_token=<redacted>") {
		t.Fatalf("unexpected redaction: %s", got)
	}
}
