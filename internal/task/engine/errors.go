package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPriority    = errors.New("job priority must be greater than zero")
	ErrInvalidDescription = errors.New("job description is required")
	ErrNegativeDelay      = errors.New("start delay amount must not be negative")
	ErrInvalidDelayUnit   = errors.New("start delay unit must be positive")
	ErrNilRunner          = errors.New("job runner is nil")

	ErrNilJob           = errors.New("job is nil")
	ErrAlreadySubmitted = errors.New("job already submitted")
	ErrRunning          = errors.New("scheduler already running")
	ErrStopped          = errors.New("scheduler stopped")
	ErrInterrupted      = errors.New("scheduler interrupted while waiting for tier")
)

// Failure is the uniform failure kind of a job execution.
//
// Runners may return any error from Execute; the scheduler normalizes it into
// a *Failure so callers only ever deal with one kind. Use errors.As (or
// AsFailure) to inspect it and errors.Unwrap to reach the cause.
type Failure struct {
	JobID       string
	Description string
	Err         error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("job %q failed", f.Description)
	}
	return fmt.Sprintf("job %q failed: %v", f.Description, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a Failure for j with a formatted cause. Runners that hold their
// *Job can use it to report a descriptive failure.
//
// Example:
//
//	return engine.Fail(j, "write %s: %w", path, err)
func Fail(j *Job, format string, args ...any) error {
	f := &Failure{Err: fmt.Errorf(format, args...)}
	if j != nil {
		f.JobID = j.ID()
		f.Description = j.Description()
	}
	return f
}

// AsFailure reports whether err is (or wraps) a *Failure.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// asFailure normalizes any execution error into a *Failure owned by j.
func asFailure(j *Job, err error) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := AsFailure(err); ok {
		// Runners may return a shared *Failure; fill in a copy.
		cp := *f
		if cp.JobID == "" {
			cp.JobID = j.ID()
		}
		if cp.Description == "" {
			cp.Description = j.Description()
		}
		return &cp
	}
	return &Failure{JobID: j.ID(), Description: j.Description(), Err: err}
}
