package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodcleanfun/plqbot/core/game"
	"github.com/goodcleanfun/plqbot/core/levels"
	"github.com/goodcleanfun/plqbot/core/state"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]game.Message
	fail func(game.Message) error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]game.Message)}
}

func (s *recordingSender) Deliver(_ context.Context, userID string, m game.Message) error {
	if s.fail != nil {
		if err := s.fail(m); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[userID] = append(s.sent[userID], m)
	return nil
}

func (s *recordingSender) texts(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent[userID] {
		out = append(out, m.Summary())
	}
	return out
}

// hookStore wraps a MemoryStore with failure injection and overlap detection.
type hookStore struct {
	*state.MemoryStore
	readErr   error
	commitErr error
	delay     time.Duration

	inflight atomic.Int32
	overlap  atomic.Bool
	commits  atomic.Int32
}

func (h *hookStore) Read(ctx context.Context, userID string) (state.Session, error) {
	if h.inflight.Add(1) > 1 {
		h.overlap.Store(true)
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.readErr != nil {
		h.inflight.Add(-1)
		return state.Idle(), h.readErr
	}
	return h.MemoryStore.Read(ctx, userID)
}

func (h *hookStore) Commit(ctx context.Context, userID string, s state.Session) error {
	defer h.inflight.Add(-1)
	if h.commitErr != nil {
		return h.commitErr
	}
	h.commits.Add(1)
	return h.MemoryStore.Commit(ctx, userID, s)
}

func newEngine(t *testing.T) *game.Engine {
	t.Helper()
	repo, err := levels.NewRepository(levels.Definition{
		ID:   "level-1",
		Name: "Level 1",
		Questions: []levels.Question{
			{Key: "k1", Answers: []string{"x"}},
			{Key: "k2", Answers: []string{"x"}},
		},
	})
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	return game.New(repo, game.Options{
		ImageBaseURL: "https://img.example",
		DefaultLevel: "level-1",
		Rand:         rand.New(rand.NewSource(1)),
	})
}

func newDispatcher(t *testing.T, store state.Store, dedupe state.Deduper, out Sender) *Dispatcher {
	t.Helper()
	return New(newEngine(t), store, dedupe, out, Options{StoreTimeout: time.Second, MaxParallelUsers: 4})
}

func start(user, id string) Event {
	return Event{UserID: user, EventID: id, QuickReplyPayload: "start:level-1"}
}

func answer(user, id, text string) Event {
	return Event{UserID: user, EventID: id, Text: text}
}

func TestDispatchScenario(t *testing.T) {
	store := state.NewMemoryStore()
	out := newRecordingSender()
	d := newDispatcher(t, store, nil, out)

	res := d.Dispatch(context.Background(), []Event{
		start("u1", "m1"),
		answer("u1", "m2", "X"),
		answer("u1", "m3", "x"),
	})
	if err := res.Err(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	kinds := []game.OutcomeKind{game.OutcomeStarted, game.OutcomeCorrect, game.OutcomeFinished}
	for i, want := range kinds {
		if res.Results[i].Outcome != want {
			t.Fatalf("result %d outcome = %s, want %s", i, res.Results[i].Outcome, want)
		}
	}
	got := out.texts("u1")
	if len(got) != 6 || got[0] != "text:Level 1" || got[len(got)-1] != "text:Game Over" {
		t.Fatalf("messages = %v", got)
	}
	if s, _ := store.Read(context.Background(), "u1"); !s.IsIdle() {
		t.Fatalf("session should be idle after finishing, got %+v", s)
	}
	if res.RID == "" {
		t.Fatal("expected a generated rid")
	}
}

func TestDispatchWelcomesIdleUser(t *testing.T) {
	out := newRecordingSender()
	d := newDispatcher(t, state.NewMemoryStore(), nil, out)

	res := d.Dispatch(context.Background(), []Event{
		answer("u1", "m1", "hello"),
		{UserID: "u2", EventID: "m2", QuickReplyPayload: "unknown"},
	})
	for _, r := range res.Results {
		if r.Outcome != game.OutcomeIgnored || r.Err != nil || r.Sent != 1 {
			t.Fatalf("result = %+v", r)
		}
	}
	for _, u := range []string{"u1", "u2"} {
		got := out.texts(u)
		if len(got) != 1 || got[0] != "choice:"+game.TextWelcome {
			t.Fatalf("%s messages = %v", u, got)
		}
	}
}

func TestDispatchNoWelcomeWhilePlaying(t *testing.T) {
	out := newRecordingSender()
	d := newDispatcher(t, state.NewMemoryStore(), nil, out)
	d.Dispatch(context.Background(), []Event{start("u1", "m1"), answer("u1", "m2", "nope")})
	got := out.texts("u1")
	if got[len(got)-1] != "text:Wrong!" {
		t.Fatalf("messages = %v", got)
	}
	for _, m := range got {
		if m == "choice:"+game.TextWelcome {
			t.Fatalf("welcome shown during a game: %v", got)
		}
	}
}

func TestDispatchFailClosedOnCommit(t *testing.T) {
	store := &hookStore{
		MemoryStore: state.NewMemoryStore(),
		commitErr:   fmt.Errorf("%w: commit: connection refused", state.ErrStoreUnavailable),
	}
	out := newRecordingSender()
	d := newDispatcher(t, store, nil, out)

	res := d.Dispatch(context.Background(), []Event{
		start("u1", "m1"),
		answer("u1", "m2", "x"),
		answer("u2", "m3", "hi"),
	})
	if !errors.Is(res.Results[0].Err, state.ErrStoreUnavailable) {
		t.Fatalf("first result err = %v", res.Results[0].Err)
	}
	if !errors.Is(res.Results[1].Err, ErrTurnAborted) {
		t.Fatalf("second result err = %v", res.Results[1].Err)
	}
	if !res.Redeliver() {
		t.Fatal("store failure should request redelivery")
	}
	for _, u := range []string{"u1", "u2"} {
		if got := out.texts(u); len(got) != 0 {
			t.Fatalf("%s received messages despite failed commit: %v", u, got)
		}
	}
}

func TestDispatchReadFailure(t *testing.T) {
	store := &hookStore{
		MemoryStore: state.NewMemoryStore(),
		readErr:     fmt.Errorf("%w: read: timeout", state.ErrStoreUnavailable),
	}
	out := newRecordingSender()
	d := newDispatcher(t, store, nil, out)
	res := d.Dispatch(context.Background(), []Event{answer("u1", "m1", "hi")})
	if !errors.Is(res.Results[0].Err, state.ErrStoreUnavailable) || len(out.texts("u1")) != 0 {
		t.Fatalf("result = %+v sent=%v", res.Results[0], out.texts("u1"))
	}
}

func TestDispatchMalformedSessionReadsIdle(t *testing.T) {
	store := &hookStore{
		MemoryStore: state.NewMemoryStore(),
		readErr:     fmt.Errorf("%w: sequence: bad json", state.ErrMalformedSession),
	}
	out := newRecordingSender()
	d := newDispatcher(t, store, nil, out)
	res := d.Dispatch(context.Background(), []Event{start("u1", "m1")})
	if res.Results[0].Err != nil || res.Results[0].Outcome != game.OutcomeStarted {
		t.Fatalf("result = %+v", res.Results[0])
	}
}

func TestDispatchDeduplicates(t *testing.T) {
	out := newRecordingSender()
	store := state.NewMemoryStore()
	d := newDispatcher(t, store, state.NewMemoryDeduper(time.Minute), out)

	first := d.Dispatch(context.Background(), []Event{start("u1", "m1"), answer("u1", "m2", "x")})
	if err := first.Err(); err != nil {
		t.Fatalf("first: %v", err)
	}
	before := len(out.texts("u1"))

	again := d.Dispatch(context.Background(), []Event{start("u1", "m1"), answer("u1", "m2", "x")})
	for _, r := range again.Results {
		if !r.Duplicate {
			t.Fatalf("expected duplicate, got %+v", r)
		}
	}
	if after := len(out.texts("u1")); after != before {
		t.Fatalf("redelivery sent %d extra messages", after-before)
	}
	s, _ := store.Read(context.Background(), "u1")
	if s.Position != 1 {
		t.Fatalf("redelivery changed session: %+v", s)
	}
}

func TestDispatchDeliveryFailureKeepsCommit(t *testing.T) {
	out := newRecordingSender()
	out.fail = func(m game.Message) error {
		if m.Kind == game.KindImage {
			return errors.New("send: 400")
		}
		return nil
	}
	store := state.NewMemoryStore()
	d := newDispatcher(t, store, nil, out)
	res := d.Dispatch(context.Background(), []Event{start("u1", "m1")})
	if res.Results[0].Err == nil || res.Results[0].Sent != 1 {
		t.Fatalf("result = %+v", res.Results[0])
	}
	if res.Redeliver() {
		t.Fatal("delivery failure must not request redelivery")
	}
	if s, _ := store.Read(context.Background(), "u1"); s.IsIdle() {
		t.Fatal("session must stay committed after a delivery failure")
	}
}

func TestDispatchMalformedEvent(t *testing.T) {
	d := newDispatcher(t, state.NewMemoryStore(), nil, newRecordingSender())
	res := d.Dispatch(context.Background(), []Event{{EventID: "m1", Text: "hi"}})
	if !errors.Is(res.Results[0].Err, ErrMalformedEvent) {
		t.Fatalf("err = %v", res.Results[0].Err)
	}
}

func TestSubmitOrdersSameUser(t *testing.T) {
	store := state.NewMemoryStore()
	out := newRecordingSender()
	d := newDispatcher(t, store, nil, out)

	a := d.Submit(context.Background(), []Event{start("u1", "a")})
	b := d.Submit(context.Background(), []Event{answer("u1", "b", "x")})
	ra, rb := <-a, <-b
	if ra[0].Outcome != game.OutcomeStarted || rb[0].Outcome != game.OutcomeCorrect {
		t.Fatalf("A=%s B=%s", ra[0].Outcome, rb[0].Outcome)
	}
	d.Wait()
	if n := d.ActiveLanes(); n != 0 {
		t.Fatalf("lanes not released: %d", n)
	}
}

func TestSubmitNeverOverlapsSameUser(t *testing.T) {
	store := &hookStore{MemoryStore: state.NewMemoryStore(), delay: 2 * time.Millisecond}
	d := newDispatcher(t, store, nil, newRecordingSender())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-d.Submit(context.Background(), []Event{answer("u1", fmt.Sprintf("m%d", i), "x")})
		}(i)
	}
	wg.Wait()
	d.Wait()
	if store.overlap.Load() {
		t.Fatal("two turns of the same user overlapped")
	}
	if store.commits.Load() != 20 {
		t.Fatalf("commits = %d", store.commits.Load())
	}
}

func TestDispatchUsersRunInParallel(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	out := newRecordingSender()
	out.fail = func(game.Message) error {
		started.Add(1)
		<-release
		return nil
	}
	d := newDispatcher(t, state.NewMemoryStore(), nil, out)

	done := make(chan BatchResult, 1)
	go func() {
		done <- d.Dispatch(context.Background(), []Event{answer("u1", "m1", "hi"), answer("u2", "m2", "hi")})
	}()
	deadline := time.After(2 * time.Second)
	for started.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("users were not processed concurrently")
		case <-time.After(time.Millisecond):
		}
	}
	close(release)
	if res := <-done; res.Err() != nil {
		t.Fatalf("dispatch: %v", res.Err())
	}
}
