package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "tiersched/pkg/logx"
)

// perform runs one tier member to a terminal state: wait the start delay,
// execute, roll back on failure, record the outcome.
func (s *Scheduler) perform(ctx context.Context, j *Job) Outcome {
	atomic.AddInt32(&s.inFlight, 1)
	s.metrics.JobStarted()
	defer func() {
		atomic.AddInt32(&s.inFlight, -1)
		s.metrics.JobDone()
	}()

	o := Outcome{JobID: j.id, Description: j.description, Priority: j.priority}

	if d := j.delay.Duration(); d > 0 {
		tmr := time.NewTimer(d)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			// Never executed, so there is nothing to roll back.
			j.setState(Failed)
			o.State = Failed
			o.Err = fmt.Sprintf("cancelled during start delay: %v", context.Cause(ctx))
			o.Started = time.Now()
			o.Finished = o.Started
			s.finish(ctx, j, o)
			return o
		case <-tmr.C:
		}
	}

	o.Started = time.Now()
	j.setState(Running)
	s.log.Debug(j.description+" -> "+Running.Message(), logx.String("job", j.id), logx.Int("priority", j.priority))
	s.publish(EventJobRunning, jobEvent(j, Running))

	if f := s.execute(ctx, j); f != nil {
		j.setState(Failed)
		o.State = Failed
		o.Err = f.Error()
		s.log.Warn(j.description+" -> "+Failed.Message(), logx.String("job", j.id), logx.Int("priority", j.priority), logx.Err(f.Err))
		s.rollback(ctx, j)
	} else {
		j.setState(Success)
		o.State = Success
		s.log.Debug(j.description+" -> "+Success.Message(), logx.String("job", j.id), logx.Int("priority", j.priority))
	}
	o.Finished = time.Now()
	s.finish(ctx, j, o)
	return o
}

// execute calls the runner, turning panics and errors into a *Failure.
func (s *Scheduler) execute(ctx context.Context, j *Job) (f *Failure) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("job", j.id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			f = asFailure(j, fmt.Errorf("panic: %v", r))
		}
	}()
	return asFailure(j, j.runner.Execute(ctx))
}

// rollback is best-effort: errors and panics are logged, never propagated.
func (s *Scheduler) rollback(ctx context.Context, j *Job) {
	s.log.Debug("rolling back job", logx.String("job", j.id), logx.String("description", j.description))
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.runner.Rollback(ctx)
	}()
	if err == nil {
		return
	}
	s.metrics.RollbackFailed()
	ev := jobEvent(j, Failed)
	ev.Error = err.Error()
	s.publish(EventJobRollbackFailed, ev)
	if s.rollbackWarn.Allow() {
		s.log.Warn("rollback failed", logx.String("job", j.id), logx.String("description", j.description), logx.Err(err))
	} else {
		s.log.Debug("rollback failed", logx.String("job", j.id), logx.Err(err))
	}
}

// finish appends the outcome and reports it to metrics, the bus and the
// recorder.
func (s *Scheduler) finish(ctx context.Context, j *Job, o Outcome) {
	s.outcomes.append(o)
	s.metrics.JobFinished(o.State.String(), o.Finished.Sub(o.Started))

	ev := jobEvent(j, o.State)
	ev.Duration = o.Finished.Sub(o.Started)
	ev.Error = o.Err
	if o.State == Success {
		s.publish(EventJobSucceeded, ev)
	} else {
		s.publish(EventJobFailed, ev)
	}

	if s.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.Record(rctx, o); err != nil {
		s.log.Warn("outcome record failed", logx.String("job", o.JobID), logx.Err(err))
	}
}

// abandon fails jobs that will never be dispatched.
func (s *Scheduler) abandon(jobs []*Job, cause error) {
	if len(jobs) == 0 {
		return
	}
	s.log.Warn("abandoning queued jobs", logx.Int("count", len(jobs)), logx.Err(cause))
	now := time.Now()
	for _, j := range jobs {
		j.setState(Failed)
		o := Outcome{
			JobID:       j.id,
			Description: j.description,
			Priority:    j.priority,
			State:       Failed,
			Err:         fmt.Sprintf("not dispatched: %v", cause),
			Started:     now,
			Finished:    now,
		}
		s.finish(s.base, j, o)
	}
}
