package dispatch

import (
	"errors"

	"github.com/goodcleanfun/plqbot/core/game"
)

var (
	// ErrMalformedEvent marks inbound input that cannot be turned into a turn.
	ErrMalformedEvent = errors.New("dispatch: malformed event")
	// ErrTurnAborted is reported for events not applied because an earlier
	// event of the same user in the same job hit a store failure.
	ErrTurnAborted = errors.New("dispatch: turn aborted after store failure")
)

// Event is one inbound user action in platform-neutral form.
type Event struct {
	UserID  string
	EventID string
	Text    string
	// QuickReplyPayload is set when the user tapped a quick reply.
	QuickReplyPayload string
}

// gameEvent routes quick replies to QuickReplySelect and everything else to Answer.
func (e Event) gameEvent() game.Event {
	if e.QuickReplyPayload != "" {
		return game.QuickReplySelect{Payload: e.QuickReplyPayload}
	}
	return game.Answer{Text: e.Text}
}

// Result reports what happened to one Event.
type Result struct {
	Event     Event
	Outcome   game.OutcomeKind
	Duplicate bool
	Sent      int
	Err       error
}

// BatchResult is the outcome of a Dispatch call, in input order.
type BatchResult struct {
	RID     string
	Results []Result
}

// Redeliver reports whether any event was left unapplied because the store
// was unavailable, so the platform should deliver the batch again.
func (b BatchResult) Redeliver() bool {
	for _, r := range b.Results {
		if isStoreFailure(r.Err) || errors.Is(r.Err, ErrTurnAborted) {
			return true
		}
	}
	return false
}

// Err joins the errors of all results.
func (b BatchResult) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
