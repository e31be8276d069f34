package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Runner is the polymorphic part of a job: what it does and how it undoes it.
//
// Execute returns a non-nil error when the work could not complete; the
// scheduler wraps it into a *Failure. Rollback is called exactly once, and
// only after Execute failed. It must tolerate partial effects. Errors it
// returns are logged and otherwise ignored.
type Runner interface {
	Execute(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Job carries scheduling metadata around a Runner and owns its lifecycle state.
//
// Only the scheduler moves a job between states; callers may read State for
// post-hoc inspection.
type Job struct {
	id          string
	priority    int
	description string
	delay       StartTime
	runner      Runner

	mu    sync.RWMutex
	state State
}

// Option customizes a Job at construction.
type Option func(*Job)

// WithStartDelay delays execution by st after the job's tier is dispatched.
func WithStartDelay(st StartTime) Option {
	return func(j *Job) { j.delay = st }
}

// WithID overrides the generated job ID.
func WithID(id string) Option {
	return func(j *Job) {
		if s := strings.TrimSpace(id); s != "" {
			j.id = s
		}
	}
}

type jobParams struct {
	Priority    int    `validate:"gt=0"`
	Description string `validate:"required"`
}

var validate = validator.New()

// NewJob builds a job. Invalid metadata is a construction error and never
// reaches the scheduler.
func NewJob(priority int, description string, r Runner, opts ...Option) (*Job, error) {
	if r == nil {
		return nil, ErrNilRunner
	}
	j := &Job{
		id:          uuid.NewString(),
		priority:    priority,
		description: strings.TrimSpace(description),
		runner:      r,
	}
	for _, o := range opts {
		if o != nil {
			o(j)
		}
	}
	if err := validateJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

func validateJob(j *Job) error {
	err := validate.Struct(jobParams{Priority: j.priority, Description: j.description})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Priority":
		return fmt.Errorf("%w: %d", ErrInvalidPriority, j.priority)
	case "Description":
		return ErrInvalidDescription
	default:
		return err
	}
}

func (j *Job) ID() string            { return j.id }
func (j *Job) Priority() int         { return j.priority }
func (j *Job) Description() string   { return j.description }
func (j *Job) StartDelay() StartTime { return j.delay }
func (j *Job) Runner() Runner        { return j.runner }

func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// markQueued moves an unsubmitted job to Queued. It fails if the job has
// already been submitted to any scheduler.
func (j *Job) markQueued() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != 0 {
		return false
	}
	j.state = Queued
	return true
}

func (j *Job) String() string {
	return fmt.Sprintf("%s(p=%d)", j.description, j.priority)
}

// Before is the natural job order: higher priority first.
//
// It is a package-level comparator so no Runner can change it.
func Before(a, b *Job) bool {
	return a.priority > b.priority
}
