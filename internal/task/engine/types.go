package engine

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a submitted job.
//
// The zero value means "not submitted yet" and is not part of the lifecycle.
// Transitions are linear: Queued -> Running -> Success|Failed.
type State int

const (
	Queued State = iota + 1
	Running
	Success
	Failed
)

// Message returns the fixed status message used verbatim in the outcome log.
func (s State) Message() string {
	switch s {
	case Queued:
		return "The job is the queue"
	case Running:
		return "The job is running"
	case Success:
		return "The job completed successfully"
	case Failed:
		return "The job failed"
	default:
		return ""
	}
}

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unsubmitted"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s == Success || s == Failed }

// StartTime is how long after being picked up a job waits before running.
// The zero value means no delay.
type StartTime struct {
	amount int
	unit   time.Duration
}

// NewStartTime returns a delay of amount*unit.
func NewStartTime(amount int, unit time.Duration) (StartTime, error) {
	if amount < 0 {
		return StartTime{}, fmt.Errorf("%w: %d", ErrNegativeDelay, amount)
	}
	if unit <= 0 {
		return StartTime{}, fmt.Errorf("%w: %s", ErrInvalidDelayUnit, unit)
	}
	return StartTime{amount: amount, unit: unit}, nil
}

// MustStartTime is NewStartTime for constant inputs; it panics on error.
func MustStartTime(amount int, unit time.Duration) StartTime {
	st, err := NewStartTime(amount, unit)
	if err != nil {
		panic(err)
	}
	return st
}

func (t StartTime) Amount() int         { return t.amount }
func (t StartTime) Unit() time.Duration { return t.unit }
func (t StartTime) IsZero() bool        { return t.amount == 0 }

func (t StartTime) Duration() time.Duration {
	if t.unit <= 0 {
		return 0
	}
	return time.Duration(t.amount) * t.unit
}

func (t StartTime) String() string { return t.Duration().String() }

// Config controls the scheduler.
type Config struct {
	// InitialCapacity pre-sizes the priority queue. 0 uses a small default.
	InitialCapacity int
}

// Outcome is one entry of the outcome log.
type Outcome struct {
	JobID       string
	Description string
	Priority    int
	State       State
	// Err is the failure cause, empty on success.
	Err      string
	Started  time.Time
	Finished time.Time
}

// String renders the outcome log line: "{description} -> {state message}".
func (o Outcome) String() string {
	return o.Description + " -> " + o.State.Message()
}

// Phase is the scheduler's own lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Phase        Phase
	Queued       int
	InFlight     int
	TiersDrained int
	Outcomes     int
	Succeeded    int
	Failed       int
}

// Event types published on the event bus.
const (
	EventJobQueued         = "job.queued"
	EventJobRunning        = "job.running"
	EventJobSucceeded      = "job.succeeded"
	EventJobFailed         = "job.failed"
	EventJobRollbackFailed = "job.rollback_failed"
	EventTierStarted       = "tier.started"
	EventTierFinished      = "tier.finished"
)

// JobEvent is emitted on the event bus for job lifecycle events.
type JobEvent struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Priority    int           `json:"priority"`
	State       string        `json:"state"`
	Delay       time.Duration `json:"delay,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// TierEvent is emitted when a tier is dispatched and when it drains.
type TierEvent struct {
	Priority int           `json:"priority"`
	Size     int           `json:"size"`
	Duration time.Duration `json:"duration,omitempty"`
	Failed   int           `json:"failed,omitempty"`
}
