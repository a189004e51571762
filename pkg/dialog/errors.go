package dialog

import (
	"errors"
	"fmt"
)

// ErrIdleTimeout is returned by Run when the caller stays silent too long.
var ErrIdleTimeout = errors.New("caller idle timeout")

// Rejection reasons reported by validators.
const (
	ReasonEmpty        = "empty"
	ReasonNotANumber   = "not_a_number"
	ReasonOutOfRange   = "out_of_range"
	ReasonWrongFormat  = "wrong_format"
	ReasonUnresolvable = "unresolvable"
)

// ValidationError rejects a slot answer. It is recovered by re-prompting.
type ValidationError struct {
	Slot    string
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("slot %s: %s: %s", e.Slot, e.Reason, e.Message)
}

// ResolutionError reports a catalog or FAQ lookup that matched nothing.
type ResolutionError struct {
	Source string // "menu" or "faq"
	Query  string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s lookup %q: %v", e.Source, e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed gateway submission. The draft is not
// retried by the dialogue.
type PersistenceError struct {
	Flow FlowKind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Flow, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UnhandledIntentError records a turn no handler could make sense of.
type UnhandledIntentError struct {
	Intent Intent
	Text   string
}

func (e *UnhandledIntentError) Error() string {
	return fmt.Sprintf("unhandled intent %q (text %q)", e.Intent, e.Text)
}
