// Package dispatch turns inbound batches into per-user turns: read the
// session, apply the game transition, commit, then send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/goodcleanfun/plqbot/core/game"
	"github.com/goodcleanfun/plqbot/core/logger"
	"github.com/goodcleanfun/plqbot/core/state"
)

// Sender delivers one message to a user.
type Sender interface {
	Deliver(ctx context.Context, userID string, m game.Message) error
}

// Options tunes a Dispatcher. Zero fields take defaults.
type Options struct {
	StoreTimeout     time.Duration
	MaxParallelUsers int
}

// Dispatcher serializes turns per user and runs different users in parallel.
type Dispatcher struct {
	engine *game.Engine
	store  state.Store
	dedupe state.Deduper
	out    Sender
	opts   Options

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// lane is the FIFO of pending jobs for one user. Exactly one goroutine drains
// it; the lane is removed from the map once empty.
type lane struct {
	queue []*job
}

type job struct {
	ctx    context.Context
	events []Event
	done   chan []Result
}

// New builds a Dispatcher. A nil deduper disables de-duplication.
func New(engine *game.Engine, store state.Store, dedupe state.Deduper, out Sender, opts Options) *Dispatcher {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.MaxParallelUsers <= 0 {
		opts.MaxParallelUsers = 16
	}
	if dedupe == nil {
		dedupe = state.NopDeduper{}
	}
	return &Dispatcher{
		engine: engine,
		store:  store,
		dedupe: dedupe,
		out:    out,
		opts:   opts,
		lanes:  make(map[string]*lane),
	}
}

// Dispatch processes a batch. Events of one user are applied in input order;
// users are processed concurrently up to MaxParallelUsers.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Event) BatchResult {
	rid := logger.RIDFrom(ctx)
	if rid == "" {
		rid = uuid.NewString()
		ctx = logger.WithRID(ctx, rid)
	}
	start := time.Now()
	res := BatchResult{RID: rid, Results: make([]Result, len(batch))}

	var (
		order   []string
		byUser  = make(map[string][]int)
		invalid int
	)
	for i, ev := range batch {
		if ev.UserID == "" {
			res.Results[i] = Result{Event: ev, Err: fmt.Errorf("%w: missing user id", ErrMalformedEvent)}
			invalid++
			continue
		}
		if _, ok := byUser[ev.UserID]; !ok {
			order = append(order, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], i)
	}

	var g errgroup.Group
	g.SetLimit(d.opts.MaxParallelUsers)
	for _, user := range order {
		idx := byUser[user]
		events := make([]Event, len(idx))
		for j, i := range idx {
			events[j] = batch[i]
		}
		g.Go(func() error {
			results := <-d.Submit(ctx, events)
			for j, i := range idx {
				res.Results[i] = results[j]
			}
			return nil
		})
	}
	_ = g.Wait()

	level := slog.LevelInfo
	if res.Redeliver() {
		level = slog.LevelWarn
	}
	logger.LogEvent(ctx, logger.Dispatch, level, "batch.done",
		slog.String("status", logger.Status(res.Err())),
		slog.Int("events", len(batch)),
		slog.Int("users", len(order)),
		slog.Int("invalid", invalid),
		slog.Bool("redeliver", res.Redeliver()),
		slog.Duration("duration", logger.Took(start)),
	)
	return res
}

// Submit queues events of a single user behind any earlier submissions for
// that user and returns a channel receiving one Result per event. Processing
// is detached from ctx cancellation so a started turn always finishes.
func (d *Dispatcher) Submit(ctx context.Context, events []Event) <-chan []Result {
	done := make(chan []Result, 1)
	if len(events) == 0 {
		done <- nil
		return done
	}
	user := events[0].UserID
	j := &job{ctx: context.WithoutCancel(ctx), events: events, done: done}

	d.mu.Lock()
	l, running := d.lanes[user]
	if !running {
		l = &lane{}
		d.lanes[user] = l
	}
	l.queue = append(l.queue, j)
	if !running {
		d.wg.Add(1)
		go d.drain(user, l)
	}
	d.mu.Unlock()
	return done
}

// Wait blocks until every lane is drained.
func (d *Dispatcher) Wait() {
	start := time.Now()
	pending := d.ActiveLanes()
	d.wg.Wait()
	logger.Dispatch.Info("lanes drained",
		slog.String("event", "lanes.drain"),
		slog.Int("active_lanes", pending),
		slog.Duration("duration", logger.Took(start)),
	)
}

// ActiveLanes returns the number of users with queued or running work.
func (d *Dispatcher) ActiveLanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

func (d *Dispatcher) drain(user string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, user)
			d.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		d.mu.Unlock()

		j.done <- d.runJob(j)
	}
}

func (d *Dispatcher) runJob(j *job) []Result {
	results := make([]Result, len(j.events))
	for i, ev := range j.events {
		results[i] = d.turn(j.ctx, ev)
		if isStoreFailure(results[i].Err) {
			for k := i + 1; k < len(j.events); k++ {
				results[k] = Result{Event: j.events[k], Err: ErrTurnAborted}
			}
			break
		}
	}
	return results
}

// turn applies one event: de-dup check, read, transition, commit, mark, send.
func (d *Dispatcher) turn(ctx context.Context, ev Event) (res Result) {
	ctx = logger.WithTurn(ctx, ev.UserID, ev.EventID)
	start := time.Now()
	res.Event = ev
	defer func() { d.logTurn(ctx, res, start) }()

	if ev.EventID != "" {
		dctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
		seen, err := d.dedupe.Seen(dctx, ev.EventID)
		cancel()
		if err != nil {
			res.Err = err
			return res
		}
		if seen {
			res.Duplicate = true
			return res
		}
	}

	sctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	sess, err := d.store.Read(sctx, ev.UserID)
	cancel()
	switch {
	case errors.Is(err, state.ErrMalformedSession):
		logger.Warn(ctx, "dispatch", "session.malformed",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		sess = state.Idle()
	case err != nil:
		res.Err = err
		return res
	}

	next, msgs, outcome := d.engine.Transition(sess, ev.gameEvent())
	res.Outcome = outcome.Kind
	if outcome.Err != nil {
		logger.Warn(ctx, "game", "transition.rejected",
			slog.String("status", "fail"),
			slog.String("level_id", sess.LevelID),
			slog.String("err", outcome.Err.Error()),
		)
	}
	if sess.IsIdle() && outcome.Kind == game.OutcomeIgnored {
		msgs = append(msgs, d.engine.Welcome())
	}

	sctx, cancel = context.WithTimeout(ctx, d.opts.StoreTimeout)
	err = d.store.Commit(sctx, ev.UserID, next)
	cancel()
	if err != nil {
		res.Err = err
		return res
	}

	if ev.EventID != "" {
		mctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
		if err := d.dedupe.Mark(mctx, ev.EventID); err != nil {
			logger.Warn(ctx, "dispatch", "dedupe.mark",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		cancel()
	}

	for _, m := range msgs {
		if err := d.out.Deliver(ctx, ev.UserID, m); err != nil {
			res.Err = err
			return res
		}
		res.Sent++
	}
	return res
}

func (d *Dispatcher) logTurn(ctx context.Context, res Result, start time.Time) {
	attrs := []slog.Attr{
		slog.String("status", logger.Status(res.Err)),
		slog.Int("messages", res.Sent),
		slog.Duration("duration", logger.Took(start)),
	}
	if res.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", string(res.Outcome)))
	}
	if res.Duplicate {
		attrs = append(attrs, slog.Bool("duplicate", true))
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("err", res.Err.Error()))
		logger.LogEvent(ctx, logger.Dispatch, slog.LevelError, "turn.done", attrs...)
		return
	}
	logger.LogEvent(ctx, logger.Dispatch, slog.LevelInfo, "turn.done", attrs...)
}

// isStoreFailure reports errors that leave the user's session in an unknown
// state. Context errors from the store timeout arrive wrapped as well.
func isStoreFailure(err error) bool {
	return errors.Is(err, state.ErrStoreUnavailable)
}
