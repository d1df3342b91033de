package game

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/goodcleanfun/plqbot/core/levels"
	"github.com/goodcleanfun/plqbot/core/state"
)

const testBaseURL = "https://img.example/quiz"

func newRepo(t *testing.T) *levels.Repository {
	t.Helper()
	repo, err := levels.NewRepository(
		levels.Definition{ID: "level-1", Name: "Level 1", Questions: []levels.Question{
			{Key: "k1", Answers: []string{"x"}},
			{Key: "k2", Image: "k2.png", Answers: []string{"y"}},
		}},
		levels.Definition{ID: "level-2", Name: "Level 2", Questions: []levels.Question{
			{Key: "a", Answers: []string{"Jollibee"}},
			{Key: "b", Answers: []string{"b"}},
			{Key: "c", Answers: []string{"c"}},
			{Key: "d", Answers: []string{"d"}},
		}},
	)
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	return repo
}

func newEngine(t *testing.T, policy LivesPolicy) *Engine {
	t.Helper()
	return New(newRepo(t), Options{
		ImageBaseURL: testBaseURL + "/",
		DefaultLevel: "level-1",
		LivesPolicy:  policy,
		Rand:         rand.New(rand.NewSource(7)),
	})
}

func texts(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Summary())
	}
	return out
}

// playingAt returns a session of level-2 with a fixed sequence.
func playingAt(pos, lives int) state.Session {
	seq := []string{"a", "b", "c", "d"}
	return state.Session{
		Game:       state.GamePinoyLogosQuiz,
		LevelID:    "level-2",
		Sequence:   seq,
		Position:   pos,
		CurrentKey: seq[pos],
		Lives:      lives,
	}
}

func TestStartGamePostconditions(t *testing.T) {
	e := newEngine(t, LivesContinue)
	for i := 0; i < 20; i++ {
		s, msgs, out := e.Transition(state.Idle(), StartGame{LevelID: "level-2"})
		if out.Kind != OutcomeStarted || out.Err != nil {
			t.Fatalf("outcome = %+v", out)
		}
		if s.Position != 0 || s.Lives != 3 || s.CurrentKey != s.Sequence[0] {
			t.Fatalf("bad start session %+v", s)
		}
		if err := s.Validate(); err != nil {
			t.Fatalf("invalid session: %v", err)
		}
		got := append([]string(nil), s.Sequence...)
		sort.Strings(got)
		if !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
			t.Fatalf("sequence is not a permutation: %v", s.Sequence)
		}
		if len(msgs) != 2 || msgs[0].Kind != KindText || msgs[0].Text != "Level 2" {
			t.Fatalf("unexpected intro %v", texts(msgs))
		}
		if want := testBaseURL + "/level-2/" + s.Sequence[0]; msgs[1].Kind != KindImage || msgs[1].ImageURL != want {
			t.Fatalf("image = %+v, want %s", msgs[1], want)
		}
	}
}

func TestStartGameShufflesUniformlyEnough(t *testing.T) {
	e := newEngine(t, LivesContinue)
	firsts := map[string]int{}
	for i := 0; i < 400; i++ {
		s, _, _ := e.Transition(state.Idle(), StartGame{LevelID: "level-2"})
		firsts[s.Sequence[0]]++
	}
	for _, k := range []string{"a", "b", "c", "d"} {
		if firsts[k] < 50 {
			t.Fatalf("key %s first only %d/400 times: %v", k, firsts[k], firsts)
		}
	}
}

func TestStartGameRestartsInProgress(t *testing.T) {
	e := newEngine(t, LivesContinue)
	s, _, out := e.Transition(playingAt(2, 1), StartGame{LevelID: "level-1"})
	if out.Kind != OutcomeStarted || s.LevelID != "level-1" || s.Position != 0 || s.Lives != 3 {
		t.Fatalf("restart = %+v %+v", s, out)
	}
}

func TestStartUnknownLevel(t *testing.T) {
	e := newEngine(t, LivesContinue)
	in := playingAt(1, 2)
	s, msgs, out := e.Transition(in, StartGame{LevelID: "nope"})
	if !errors.Is(out.Err, ErrUnknownLevel) || out.Kind != OutcomeIgnored {
		t.Fatalf("outcome = %+v", out)
	}
	if len(msgs) != 0 || !reflect.DeepEqual(s, in) {
		t.Fatalf("unknown level must be a no-op, got %+v %v", s, texts(msgs))
	}
}

func TestCorrectAnswerNotLast(t *testing.T) {
	e := newEngine(t, LivesContinue)
	in := playingAt(1, 1)
	s, msgs, out := e.Transition(in, Answer{Text: "b"})
	if out.Kind != OutcomeCorrect {
		t.Fatalf("outcome = %+v", out)
	}
	want := playingAt(2, 3)
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("session = %+v, want %+v", s, want)
	}
	if len(msgs) != 2 || msgs[0].Text != TextCorrect || msgs[1].ImageURL != testBaseURL+"/level-2/c" {
		t.Fatalf("messages = %v", texts(msgs))
	}
	if in.Position != 1 {
		t.Fatal("input session must not be mutated")
	}
}

func TestCorrectAnswerLast(t *testing.T) {
	e := newEngine(t, LivesContinue)
	s, msgs, out := e.Transition(playingAt(3, 2), Answer{Text: "d"})
	if out.Kind != OutcomeFinished || !s.IsIdle() {
		t.Fatalf("expected idle finish, got %+v %+v", s, out)
	}
	if got := texts(msgs); !reflect.DeepEqual(got, []string{"text:Correct!", "text:Game Over"}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestWrongAnswerDecrementsLives(t *testing.T) {
	e := newEngine(t, LivesContinue)
	s := playingAt(0, 3)
	for _, wantLives := range []int{2, 1, 0, 0} {
		var msgs []Message
		var out Outcome
		s, msgs, out = e.Transition(s, Answer{Text: "wrong"})
		if out.Kind != OutcomeWrong || s.Lives != wantLives {
			t.Fatalf("lives = %d (%s), want %d", s.Lives, out.Kind, wantLives)
		}
		if s.Position != 0 || s.CurrentKey != "a" || len(s.Sequence) != 4 {
			t.Fatalf("wrong answer moved the game: %+v", s)
		}
		if len(msgs) != 1 || msgs[0].Text != TextWrong {
			t.Fatalf("messages = %v", texts(msgs))
		}
	}
}

func TestWrongAnswerEndPolicy(t *testing.T) {
	e := newEngine(t, LivesEnd)
	s, msgs, out := e.Transition(playingAt(0, 2), Answer{Text: "wrong"})
	if out.Kind != OutcomeWrong || s.Lives != 1 {
		t.Fatalf("first wrong: %+v %+v", s, out)
	}
	s, msgs, out = e.Transition(s, Answer{Text: "wrong"})
	if out.Kind != OutcomeFinished || !s.IsIdle() {
		t.Fatalf("expected game over at zero lives, got %+v %+v", s, out)
	}
	if got := texts(msgs); !reflect.DeepEqual(got, []string{"text:Wrong!", "text:Game Over"}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestAnswerCaseInsensitive(t *testing.T) {
	e := newEngine(t, LivesContinue)
	for _, in := range []string{"jollibee", "JOLLIBEE", "Jollibee", " jollibee\n"} {
		_, _, out := e.Transition(playingAt(0, 3), Answer{Text: in})
		if out.Kind != OutcomeCorrect {
			t.Fatalf("%q: outcome %s", in, out.Kind)
		}
	}
}

func TestAnswerWhileIdleIgnored(t *testing.T) {
	e := newEngine(t, LivesContinue)
	s, msgs, out := e.Transition(state.Idle(), Answer{Text: "hello"})
	if !s.IsIdle() || len(msgs) != 0 || out.Kind != OutcomeIgnored || out.Err != nil {
		t.Fatalf("got %+v %v %+v", s, texts(msgs), out)
	}
}

func TestBlankAnswerIgnored(t *testing.T) {
	e := newEngine(t, LivesContinue)
	in := playingAt(0, 3)
	s, msgs, out := e.Transition(in, Answer{Text: "  "})
	if out.Kind != OutcomeIgnored || len(msgs) != 0 || !reflect.DeepEqual(s, in) {
		t.Fatalf("got %+v %v %+v", s, texts(msgs), out)
	}
}

func TestAnswerUnknownKey(t *testing.T) {
	e := newEngine(t, LivesContinue)
	in := state.Session{Game: state.GamePinoyLogosQuiz, LevelID: "level-2", Sequence: []string{"zzz"}, CurrentKey: "zzz", Lives: 3}
	_, msgs, out := e.Transition(in, Answer{Text: "zzz"})
	if !errors.Is(out.Err, ErrUnknownQuestionKey) || len(msgs) != 0 {
		t.Fatalf("got %v %+v", texts(msgs), out)
	}
	in.LevelID = "gone"
	_, _, out = e.Transition(in, Answer{Text: "zzz"})
	if !errors.Is(out.Err, ErrUnknownLevel) {
		t.Fatalf("got %+v", out)
	}
}

func TestQuickReplies(t *testing.T) {
	e := newEngine(t, LivesContinue)
	tests := []struct {
		payload string
		in      state.Session
		kind    OutcomeKind
		level   string
	}{
		{"start:level-2", state.Idle(), OutcomeStarted, "level-2"},
		{"start:plq", state.Idle(), OutcomeStarted, "level-1"},
		{"quit", playingAt(1, 3), OutcomeQuit, ""},
		{"quit", state.Idle(), OutcomeIgnored, ""},
		{"dance", state.Idle(), OutcomeIgnored, ""},
	}
	for _, tt := range tests {
		s, _, out := e.Transition(tt.in, QuickReplySelect{Payload: tt.payload})
		if out.Kind != tt.kind || s.LevelID != tt.level {
			t.Fatalf("%s: got %s level=%q", tt.payload, out.Kind, s.LevelID)
		}
	}
}

func TestWelcomeListsLevels(t *testing.T) {
	e := newEngine(t, LivesContinue)
	m := e.Welcome()
	if m.Kind != KindQuickReplies || m.Text != TextWelcome {
		t.Fatalf("welcome = %+v", m)
	}
	want := []QuickReply{
		{ContentType: "text", Title: "Level 1", Payload: "start:level-1"},
		{ContentType: "text", Title: "Level 2", Payload: "start:level-2"},
	}
	if !reflect.DeepEqual(m.QuickReplies, want) {
		t.Fatalf("quick replies = %+v", m.QuickReplies)
	}
}

func TestTwoQuestionScenario(t *testing.T) {
	e := newEngine(t, LivesContinue)
	s, _, _ := e.Transition(state.Idle(), StartGame{LevelID: "level-1"})
	if s.Position != 0 || s.Lives != 3 {
		t.Fatalf("start = %+v", s)
	}
	answers := map[string]string{"k1": "x", "k2": "y"}

	s, _, out := e.Transition(s, Answer{Text: answers[s.CurrentKey]})
	if out.Kind != OutcomeCorrect || s.Position != 1 || s.Lives != 3 {
		t.Fatalf("after first answer = %+v %s", s, out.Kind)
	}
	s, msgs, out := e.Transition(s, Answer{Text: answers[s.CurrentKey]})
	if out.Kind != OutcomeFinished || !s.IsIdle() {
		t.Fatalf("after last answer = %+v %s", s, out.Kind)
	}
	if last := msgs[len(msgs)-1]; last.Text != TextGameOver {
		t.Fatalf("last message = %+v", last)
	}
}
