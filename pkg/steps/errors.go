package steps

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a step failed.
type ErrorKind string

const (
	BuildFailure     ErrorKind = "BuildFailure"
	PushFailure      ErrorKind = "PushFailure"
	ImagePullFailure ErrorKind = "ImagePullFailure"
	ScriptFailure    ErrorKind = "ScriptFailure"
	ProvisionFailure ErrorKind = "ProvisionFailure"
)

// StepError is returned by every step failure.
type StepError struct {
	Kind     ErrorKind
	Step     string
	ExitCode int // ScriptFailure only
	Err      error
}

func (e *StepError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s in step %q: %v", e.Kind, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func failure(kind ErrorKind, step string, err error) *StepError {
	return &StepError{Kind: kind, Step: step, Err: err}
}

// ProvisionError reports that the environment a job runs in could not be
// prepared. It is not tied to a step.
func ProvisionError(err error) *StepError {
	return &StepError{Kind: ProvisionFailure, Err: err}
}

// KindOf returns the kind of the first StepError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
