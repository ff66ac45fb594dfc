package automailer

import (
	"context"
	"sync"
)

// State is a step of a mailing Flow.
type State string

// Flow states
const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateConfirming State = "confirming"
	StateSending    State = "sending"
	StateDone       State = "done"
	StateError      State = "error"
)

// Checker verifies the confirmation passcode locally.
type Checker interface {
	Check(passcode string) error
}

// Flow walks one mailing run through
// idle → fetching → confirming → sending → done, with error reachable from
// fetching and sending. A wrong passcode keeps the flow in confirming and
// never reaches the server.
type Flow struct {
	client *Client
	gate   Checker

	// OnTransition, when set, is called after every state change. It runs
	// under the flow lock and must not call back into the Flow.
	OnTransition func(from, to State)

	mu            sync.Mutex
	state         State
	spreadsheetID string
	processed     *ProcessResponse
	result        *SendResult
	err           error
}

// NewFlow creates a Flow in the idle state.
func NewFlow(client *Client, gate Checker) *Flow {
	return &Flow{client: client, gate: gate, state: StateIdle}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error that moved the flow into the error state.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Recipients returns the recipients awaiting confirmation.
func (f *Flow) Recipients() []Recipient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed == nil {
		return nil
	}
	return f.processed.Recipients
}

// Result returns the outcome of a completed run.
func (f *Flow) Result() *SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Fetch reads the sheet and moves to confirming. A sheet without eligible
// recipients ends in the error state with ErrNoEligibleRecipients. Fetch may
// start over from idle, done or error.
func (f *Flow) Fetch(ctx context.Context, spreadsheetID string) (*ProcessResponse, error) {
	f.mu.Lock()
	switch f.state {
	case StateIdle, StateDone, StateError:
	default:
		f.mu.Unlock()
		return nil, ErrInvalidState
	}
	f.spreadsheetID = spreadsheetID
	f.processed, f.result, f.err = nil, nil, nil
	f.transition(StateFetching)
	f.mu.Unlock()

	resp, err := f.client.ProcessSpreadsheet(ctx, spreadsheetID)
	if err == nil && len(resp.Recipients) == 0 {
		err = ErrNoEligibleRecipients
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.fail(err)
		return nil, err
	}
	f.processed = resp
	f.transition(StateConfirming)
	return resp, nil
}

// Confirm checks passcode and, when it matches, sends the emails. A failed
// check returns the Checker's error as is and leaves the flow in confirming.
func (f *Flow) Confirm(ctx context.Context, passcode string) (*SendResult, error) {
	f.mu.Lock()
	if f.state != StateConfirming {
		f.mu.Unlock()
		return nil, ErrInvalidState
	}
	if err := f.gate.Check(passcode); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	req := SendRequest{
		Recipients:     f.processed.Recipients,
		SpreadsheetID:  f.spreadsheetID,
		UniqueIDColumn: f.processed.UniqueIDColumn,
	}
	f.transition(StateSending)
	f.mu.Unlock()

	result, err := f.client.SendEmails(ctx, req, passcode)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.fail(err)
		return nil, err
	}
	f.result = result
	f.transition(StateDone)
	return result, nil
}

// Cancel abandons a pending confirmation.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConfirming {
		return ErrInvalidState
	}
	f.processed = nil
	f.transition(StateIdle)
	return nil
}

// transition and fail must be called with mu held.
func (f *Flow) transition(to State) {
	from := f.state
	f.state = to
	if f.OnTransition != nil {
		f.OnTransition(from, to)
	}
}

func (f *Flow) fail(err error) {
	f.err = err
	f.transition(StateError)
}
