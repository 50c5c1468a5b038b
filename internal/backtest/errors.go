package backtest

import (
	"errors"
	"fmt"
	"runtime/debug"

	pkgerrors "github.com/pkg/errors"

	"github.com/newthinker/barsim/internal/core"
)

// RunError is a run-level failure: a fault during the loop that aborts the
// run. It matches core.ErrRunFailed and the underlying cause with errors.Is.
type RunError struct {
	// Bar is the index of the bar being processed, -1 outside the loop.
	Bar     int
	Message string
	// Trace is a stack trace captured where the fault surfaced.
	Trace string
	Err   error
}

func (e *RunError) Error() string {
	if e.Bar >= 0 {
		return fmt.Sprintf("%s at bar %d: %s", core.ErrRunFailed.Message, e.Bar, e.Message)
	}
	return fmt.Sprintf("%s: %s", core.ErrRunFailed.Message, e.Message)
}

func (e *RunError) Unwrap() []error {
	return []error{core.ErrRunFailed, e.Err}
}

func newRunError(bar int, err error) *RunError {
	traced := pkgerrors.WithStack(err)
	return &RunError{
		Bar:     bar,
		Message: err.Error(),
		Trace:   fmt.Sprintf("%+v", traced),
		Err:     err,
	}
}

func newPanicError(bar int, recovered any) *RunError {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	return &RunError{
		Bar:     bar,
		Message: err.Error(),
		Trace:   string(debug.Stack()),
		Err:     err,
	}
}

// Failure is the record emitted instead of a Report when a run fails.
type Failure struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Bar       *int   `json:"bar,omitempty"`
	Traceback string `json:"traceback"`
}

// NewFailure builds a failure record for err. Codes come from core.Error;
// anything else is reported as RUN_FAILED.
func NewFailure(err error) Failure {
	f := Failure{
		Status: "error",
		Error:  err.Error(),
		Code:   core.ErrRunFailed.Code,
	}

	var cerr *core.Error
	if errors.As(err, &cerr) {
		f.Code = cerr.Code
	}

	var rerr *RunError
	if errors.As(err, &rerr) {
		f.Code = core.ErrRunFailed.Code
		f.Traceback = rerr.Trace
		if rerr.Bar >= 0 {
			bar := rerr.Bar
			f.Bar = &bar
		}
		return f
	}

	f.Traceback = fmt.Sprintf("%+v", pkgerrors.WithStack(err))
	return f
}
