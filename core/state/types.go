package state

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every failure to reach the backing store.
	ErrStoreUnavailable = errors.New("state: store unavailable")
	// ErrMalformedSession is returned when a stored record cannot be decoded.
	ErrMalformedSession = errors.New("state: malformed session")
	// ErrInvalidSession is returned when committing a session that breaks its invariants.
	ErrInvalidSession = errors.New("state: invalid session")
)

// Game identifies the game a session is playing.
type Game string

const (
	// GameNone marks the Idle session.
	GameNone Game = "none"
	// GamePinoyLogosQuiz is the image-guessing quiz.
	GamePinoyLogosQuiz Game = "pinoy_logos_quiz"
)

// StartingLives is the number of lives granted for every new question.
const StartingLives = 3

// Session is the per-user game state. The zero value is Idle.
type Session struct {
	Game       Game
	LevelID    string
	Sequence   []string
	Position   int
	CurrentKey string
	Lives      int
}

// Idle returns the session of a user with no active game.
func Idle() Session { return Session{Game: GameNone} }

// IsIdle reports whether no game is active.
func (s Session) IsIdle() bool { return s.Game == "" || s.Game == GameNone }

// Validate checks the invariants of a playing session. Idle sessions are always valid.
func (s Session) Validate() error {
	if s.IsIdle() {
		return nil
	}
	if s.Game != GamePinoyLogosQuiz {
		return fmt.Errorf("%w: unknown game %q", ErrInvalidSession, s.Game)
	}
	if s.LevelID == "" {
		return fmt.Errorf("%w: empty level id", ErrInvalidSession)
	}
	if s.Position < 0 || s.Position >= len(s.Sequence) {
		return fmt.Errorf("%w: position %d out of range [0,%d)", ErrInvalidSession, s.Position, len(s.Sequence))
	}
	if s.CurrentKey != s.Sequence[s.Position] {
		return fmt.Errorf("%w: current key %q does not match sequence", ErrInvalidSession, s.CurrentKey)
	}
	if s.Lives < 0 {
		return fmt.Errorf("%w: negative lives", ErrInvalidSession)
	}
	return nil
}

// Clone returns a deep copy so callers never share the sequence slice.
func (s Session) Clone() Session {
	if s.Sequence != nil {
		s.Sequence = append([]string(nil), s.Sequence...)
	}
	return s
}

// Store persists one Session per user. Read of a missing user yields Idle;
// Commit replaces the whole record atomically and Idle deletes it.
type Store interface {
	Read(ctx context.Context, userID string) (Session, error)
	Commit(ctx context.Context, userID string, s Session) error
}

// Deduper remembers inbound event ids that were already applied.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// NopDeduper never reports an event as seen.
type NopDeduper struct{}

// Seen always returns false.
func (NopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }

// Mark does nothing.
func (NopDeduper) Mark(context.Context, string) error { return nil }
