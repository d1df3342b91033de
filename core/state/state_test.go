package state

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func playing() Session {
	return Session{
		Game:       GamePinoyLogosQuiz,
		LevelID:    "level-1",
		Sequence:   []string{"k2", "k1", "k3"},
		Position:   1,
		CurrentKey: "k1",
		Lives:      2,
	}
}

func TestSessionValidate(t *testing.T) {
	if err := Idle().Validate(); err != nil {
		t.Fatalf("idle should be valid: %v", err)
	}
	if err := (Session{}).Validate(); err != nil {
		t.Fatalf("zero session should be idle: %v", err)
	}
	bad := []Session{
		{Game: "chess", LevelID: "l", Sequence: []string{"a"}, CurrentKey: "a"},
		{Game: GamePinoyLogosQuiz, Sequence: []string{"a"}, CurrentKey: "a"},
		{Game: GamePinoyLogosQuiz, LevelID: "l", Sequence: []string{"a"}, Position: 1, CurrentKey: "a"},
		{Game: GamePinoyLogosQuiz, LevelID: "l", Sequence: []string{"a", "b"}, Position: 1, CurrentKey: "a"},
		{Game: GamePinoyLogosQuiz, LevelID: "l", Sequence: []string{"a"}, CurrentKey: "a", Lives: -1},
	}
	for i, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("case %d: expected ErrInvalidSession, got %v", i, err)
		}
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb, "")
	ctx := context.Background()

	got, err := store.Read(ctx, "u1")
	if err != nil || !got.IsIdle() {
		t.Fatalf("missing user should read idle, got %+v err=%v", got, err)
	}

	want := playing()
	if err := store.Commit(ctx, "u1", want); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !mr.Exists("plq:states:u1") {
		t.Fatal("expected hash at default prefix")
	}
	if v := mr.HGet("plq:states:u1", "sequence"); v != `["k2","k1","k3"]` {
		t.Fatalf("sequence field = %s", v)
	}
	got, err = store.Read(ctx, "u1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("read = %+v, want %+v", got, want)
	}

	if err := store.Commit(ctx, "u1", Idle()); err != nil {
		t.Fatalf("idle commit: %v", err)
	}
	if mr.Exists("plq:states:u1") {
		t.Fatal("idle commit should delete the hash")
	}
}

func TestRedisStoreCommitIdempotent(t *testing.T) {
	_, rdb := newRedis(t)
	store := NewRedisStore(rdb, "test:")
	ctx := context.Background()
	s := playing()
	for i := 0; i < 2; i++ {
		if err := store.Commit(ctx, "u1", s); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	got, err := store.Read(ctx, "u1")
	if err != nil || !reflect.DeepEqual(got, s) {
		t.Fatalf("read after double commit = %+v err=%v", got, err)
	}
}

func TestRedisStoreCommitReplacesWholeRecord(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb, "")
	mr.HSet("plq:states:u1", "stale", "yes")
	if err := store.Commit(context.Background(), "u1", playing()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if v := mr.HGet("plq:states:u1", "stale"); v != "" {
		t.Fatalf("stale field survived commit: %q", v)
	}
}

func TestRedisStoreRejectsInvalidSession(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb, "")
	s := playing()
	s.CurrentKey = "k3"
	if err := store.Commit(context.Background(), "u1", s); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if mr.Exists("plq:states:u1") {
		t.Fatal("invalid session must not be written")
	}
}

func TestRedisStoreMalformed(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb, "")
	mr.HSet("plq:states:u1", "game", "pinoy_logos_quiz", "sequence", "not-json", "position", "0")
	s, err := store.Read(context.Background(), "u1")
	if !errors.Is(err, ErrMalformedSession) {
		t.Fatalf("expected ErrMalformedSession, got %v", err)
	}
	if !s.IsIdle() {
		t.Fatalf("malformed record should read as idle, got %+v", s)
	}

	mr.HSet("plq:states:u2", "game", "none", "level_id", "leftover")
	if s, err := store.Read(context.Background(), "u2"); err != nil || !s.IsIdle() {
		t.Fatalf("game=none should read idle, got %+v err=%v", s, err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb, "")
	mr.SetError("LOADING redis is loading")
	ctx := context.Background()
	if _, err := store.Read(ctx, "u1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("read: expected ErrStoreUnavailable, got %v", err)
	}
	if err := store.Commit(ctx, "u1", playing()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("commit: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisDeduper(t *testing.T) {
	mr, rdb := newRedis(t)
	d := NewRedisDeduper(rdb, "", time.Minute)
	ctx := context.Background()

	if seen, err := d.Seen(ctx, "mid.1"); err != nil || seen {
		t.Fatalf("fresh id seen=%v err=%v", seen, err)
	}
	if err := d.Mark(ctx, "mid.1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := d.Mark(ctx, "mid.1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if seen, _ := d.Seen(ctx, "mid.1"); !seen {
		t.Fatal("marked id should be seen")
	}
	mr.FastForward(2 * time.Minute)
	if seen, _ := d.Seen(ctx, "mid.1"); seen {
		t.Fatal("id should expire after ttl")
	}
	if seen, _ := d.Seen(ctx, ""); seen {
		t.Fatal("empty id is never seen")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := playing()
	if err := store.Commit(ctx, "u1", s); err != nil {
		t.Fatalf("commit: %v", err)
	}
	s.Sequence[0] = "mutated"
	got, _ := store.Read(ctx, "u1")
	if got.Sequence[0] != "k2" {
		t.Fatal("store must not alias caller slices")
	}
	if err := store.Commit(ctx, "u1", Idle()); err != nil {
		t.Fatalf("idle commit: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("len = %d after idle commit", store.Len())
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Read(cctx, "u1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("cancelled read: %v", err)
	}
}

func TestMemoryDeduperExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()
	_ = d.Mark(ctx, "e1")
	if seen, _ := d.Seen(ctx, "e1"); !seen {
		t.Fatal("expected e1 seen")
	}
	now = now.Add(61 * time.Second)
	if seen, _ := d.Seen(ctx, "e1"); seen {
		t.Fatal("expected e1 forgotten")
	}
}
