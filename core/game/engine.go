// Package game implements the quiz state machine. Transition is pure: it
// never touches the store or the network.
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/goodcleanfun/plqbot/core/levels"
	"github.com/goodcleanfun/plqbot/core/state"
)

var (
	// ErrUnknownLevel is reported when an event names a level that is not loaded.
	ErrUnknownLevel = errors.New("game: unknown level")
	// ErrUnknownQuestionKey is reported when a session points at a key its level does not have.
	ErrUnknownQuestionKey = errors.New("game: unknown question key")
)

// LivesPolicy decides what happens when lives reach zero.
type LivesPolicy string

const (
	// LivesContinue keeps playing the same question.
	LivesContinue LivesPolicy = "continue"
	// LivesEnd ends the game.
	LivesEnd LivesPolicy = "end"
)

// Event is an input to Transition.
type Event interface{ isEvent() }

// StartGame starts or restarts a level.
type StartGame struct{ LevelID string }

// Answer is a free-text guess.
type Answer struct{ Text string }

// QuickReplySelect is a tapped quick reply.
type QuickReplySelect struct{ Payload string }

// Quit abandons the current game.
type Quit struct{}

func (StartGame) isEvent()        {}
func (Answer) isEvent()           {}
func (QuickReplySelect) isEvent() {}
func (Quit) isEvent()             {}

// OutcomeKind classifies what a transition did.
type OutcomeKind string

const (
	OutcomeStarted  OutcomeKind = "started"
	OutcomeCorrect  OutcomeKind = "correct"
	OutcomeWrong    OutcomeKind = "wrong"
	OutcomeFinished OutcomeKind = "finished"
	OutcomeQuit     OutcomeKind = "quit"
	OutcomeIgnored  OutcomeKind = "ignored"
)

// Outcome describes a transition. Err is set for unknown level or key, in
// which case Kind is OutcomeIgnored and no messages are emitted.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Options configures an Engine.
type Options struct {
	ImageBaseURL string
	DefaultLevel string
	LivesPolicy  LivesPolicy
	// Rand drives shuffling. Nil seeds from the clock.
	Rand *rand.Rand
}

// Engine applies events to sessions using a level repository.
type Engine struct {
	repo         *levels.Repository
	imageBaseURL string
	defaultLevel string
	policy       LivesPolicy

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs an Engine.
func New(repo *levels.Repository, opts Options) *Engine {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	policy := opts.LivesPolicy
	if policy != LivesEnd {
		policy = LivesContinue
	}
	return &Engine{
		repo:         repo,
		imageBaseURL: strings.TrimRight(opts.ImageBaseURL, "/"),
		defaultLevel: opts.DefaultLevel,
		policy:       policy,
		rng:          rng,
	}
}

// Transition applies ev to s and returns the next session, the messages to
// send in order, and what happened.
func (e *Engine) Transition(s state.Session, ev Event) (state.Session, []Message, Outcome) {
	switch ev := ev.(type) {
	case StartGame:
		return e.start(s, ev.LevelID)
	case Answer:
		return e.answer(s, ev.Text)
	case QuickReplySelect:
		return e.quickReply(s, ev.Payload)
	case Quit:
		if s.IsIdle() {
			return s, nil, Outcome{Kind: OutcomeIgnored}
		}
		return state.Idle(), []Message{Text(TextGameOver)}, Outcome{Kind: OutcomeQuit}
	}
	return s, nil, Outcome{Kind: OutcomeIgnored}
}

func (e *Engine) start(s state.Session, levelID string) (state.Session, []Message, Outcome) {
	lvl, err := e.repo.Get(levelID)
	if err != nil {
		return s, nil, Outcome{Kind: OutcomeIgnored, Err: fmt.Errorf("%w: %q", ErrUnknownLevel, levelID)}
	}
	seq := e.shuffle(lvl.Keys())
	next := state.Session{
		Game:       state.GamePinoyLogosQuiz,
		LevelID:    lvl.ID(),
		Sequence:   seq,
		Position:   0,
		CurrentKey: seq[0],
		Lives:      state.StartingLives,
	}
	msgs := []Message{Text(lvl.Name()), e.imageMessage(lvl, seq[0])}
	return next, msgs, Outcome{Kind: OutcomeStarted}
}

func (e *Engine) answer(s state.Session, text string) (state.Session, []Message, Outcome) {
	// Stickers and attachments arrive without text and cost no life.
	if s.IsIdle() || strings.TrimSpace(text) == "" {
		return s, nil, Outcome{Kind: OutcomeIgnored}
	}
	lvl, err := e.repo.Get(s.LevelID)
	if err != nil {
		return s, nil, Outcome{Kind: OutcomeIgnored, Err: fmt.Errorf("%w: %q", ErrUnknownLevel, s.LevelID)}
	}
	if !lvl.Has(s.CurrentKey) {
		return s, nil, Outcome{Kind: OutcomeIgnored, Err: fmt.Errorf("%w: %q in %s", ErrUnknownQuestionKey, s.CurrentKey, s.LevelID)}
	}

	if !lvl.Accepts(s.CurrentKey, text) {
		next := s.Clone()
		if next.Lives > 0 {
			next.Lives--
		}
		msgs := []Message{Text(TextWrong)}
		if next.Lives == 0 && e.policy == LivesEnd {
			return state.Idle(), append(msgs, Text(TextGameOver)), Outcome{Kind: OutcomeFinished}
		}
		return next, msgs, Outcome{Kind: OutcomeWrong}
	}

	msgs := []Message{Text(TextCorrect)}
	if s.Position+1 >= len(s.Sequence) {
		return state.Idle(), append(msgs, Text(TextGameOver)), Outcome{Kind: OutcomeFinished}
	}
	next := s.Clone()
	next.Position++
	next.CurrentKey = next.Sequence[next.Position]
	next.Lives = state.StartingLives
	return next, append(msgs, e.imageMessage(lvl, next.CurrentKey)), Outcome{Kind: OutcomeCorrect}
}

func (e *Engine) quickReply(s state.Session, payload string) (state.Session, []Message, Outcome) {
	payload = strings.TrimSpace(payload)
	switch {
	case payload == PayloadQuit:
		return e.Transition(s, Quit{})
	case payload == PayloadLegacyStart && e.defaultLevel != "":
		return e.start(s, e.defaultLevel)
	case strings.HasPrefix(payload, PayloadStartPrefix):
		return e.start(s, strings.TrimPrefix(payload, PayloadStartPrefix))
	}
	return s, nil, Outcome{Kind: OutcomeIgnored}
}

// Welcome builds the game chooser shown to idle users.
func (e *Engine) Welcome() Message {
	all := e.repo.All()
	options := make([]QuickReply, 0, len(all))
	for _, lvl := range all {
		options = append(options, QuickReply{
			ContentType: "text",
			Title:       lvl.Name(),
			Payload:     PayloadStartPrefix + lvl.ID(),
		})
	}
	return Choice(TextWelcome, options...)
}

// ImageURL returns the public URL of a question image.
func (e *Engine) ImageURL(levelID, image string) string {
	return e.imageBaseURL + "/" + levelID + "/" + image
}

func (e *Engine) imageMessage(lvl *levels.Level, key string) Message {
	img, ok := lvl.Image(key)
	if !ok {
		img = key
	}
	return Image(e.ImageURL(lvl.ID(), img))
}

// shuffle permutes keys in place with Fisher-Yates.
func (e *Engine) shuffle(keys []string) []string {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	for i := len(keys) - 1; i > 0; i-- {
		j := e.rng.Intn(i + 1)
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}
