package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tiersched/internal/eventbus"
	"tiersched/internal/metrics"
	rtsup "tiersched/internal/runtime/supervisor"
	logx "tiersched/pkg/logx"
)

const (
	warnThrottleEvery = 5 * time.Second
	recordTimeout     = 5 * time.Second
)

// Recorder receives every outcome as soon as it is appended to the outcome
// log. Errors are logged and never fail the job.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, o Outcome) error

func (f RecorderFunc) Record(ctx context.Context, o Outcome) error { return f(ctx, o) }

// SchedulerOption configures optional collaborators.
type SchedulerOption func(*Scheduler)

func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithRecorder(r Recorder) SchedulerOption {
	return func(s *Scheduler) { s.recorder = r }
}

// WithBaseContext sets the parent of the context handed to Execute and
// Rollback. Start's own context does not reach running jobs.
func WithBaseContext(ctx context.Context) SchedulerOption {
	return func(s *Scheduler) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// Scheduler drains submitted jobs tier by tier: all jobs at the current
// highest priority run concurrently, and the next tier starts only after
// every member of the current one is terminal.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	metrics  *metrics.Metrics
	recorder Recorder
	base     context.Context

	// guarded by mu
	phase     Phase
	queue     *jobQueue
	seq       uint64
	draining  chan struct{} // closed when the running drain loop returns
	stopAsked bool
	sup       *rtsup.Supervisor

	// unfinished is the barrier of a tier whose wait was interrupted; the
	// next drain waits on it before dispatching anything else. Guarded by mu.
	unfinished <-chan struct{}

	outcomes outcomeLog
	inFlight int32
	tiers    uint64

	rollbackWarn *rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...SchedulerOption) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		base:         context.Background(),
		queue:        newJobQueue(cfg.InitialCapacity),
		rollbackWarn: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Submit marks j Queued and inserts it into the priority queue.
// It is valid until Stop is called, including while a drain is running.
func (s *Scheduler) Submit(j *Job) error {
	if j == nil {
		return ErrNilJob
	}
	s.mu.Lock()
	if s.phase == PhaseStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if !j.markQueued() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, j.description)
	}
	s.seq++
	s.queue.push(j, s.seq)
	s.mu.Unlock()

	s.metrics.JobQueued()
	s.log.Debug(j.description+" -> "+Queued.Message(), logx.String("job", j.id), logx.Int("priority", j.priority))
	s.publish(EventJobQueued, jobEvent(j, Queued))
	return nil
}

// Start drains the queue and returns once it is empty.
//
// Cancelling ctx interrupts the barrier wait: Start then marks every job
// still queued as Failed and returns an error wrapping ErrInterrupted. Members
// of the interrupted tier keep running to completion; Stop waits for them,
// and a later Start dispatches nothing until they are terminal.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.phase == PhaseStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.draining != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	s.phase = PhaseRunning
	if s.sup == nil {
		s.sup = rtsup.NewSupervisor(s.base,
			rtsup.WithLogger(s.log.With(logx.String("comp", "tierpool"))),
			// One job's panic must not take its siblings down.
			rtsup.WithCancelOnError(false),
		)
	}
	sup := s.sup
	done := make(chan struct{})
	s.draining = done
	queued := s.queue.Len()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = nil
		s.mu.Unlock()
		close(done)
	}()

	start := time.Now()
	s.log.Info("scheduler started", logx.Int("queued", queued))

	for {
		s.mu.Lock()
		if s.stopAsked {
			rest := s.queue.drain()
			s.mu.Unlock()
			s.abandon(rest, ErrStopped)
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			rest := s.queue.drain()
			s.mu.Unlock()
			ierr := fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
			s.abandon(rest, ierr)
			return ierr
		}
		if pending := s.unfinished; pending != nil {
			s.mu.Unlock()
			select {
			case <-pending:
				s.mu.Lock()
				if s.unfinished == pending {
					s.unfinished = nil
				}
				s.mu.Unlock()
			case <-ctx.Done():
			}
			continue
		}
		p, tier := s.queue.popTier()
		s.mu.Unlock()

		if len(tier) == 0 {
			s.log.Info("scheduler drained", logx.Duration("took", time.Since(start)), logx.Int("outcomes", s.outcomes.len()))
			return nil
		}

		if err := s.runTier(ctx, sup, p, tier); err != nil {
			s.mu.Lock()
			rest := s.queue.drain()
			s.mu.Unlock()
			s.abandon(rest, err)
			return err
		}
	}
}

// runTier dispatches every member of a tier and waits for all of them.
func (s *Scheduler) runTier(ctx context.Context, sup *rtsup.Supervisor, p int, tier []*Job) error {
	start := time.Now()
	atomic.AddUint64(&s.tiers, 1)
	s.metrics.TierDispatched(len(tier))
	s.log.Debug("tier dispatched", logx.Int("priority", p), logx.Int("size", len(tier)))
	s.publish(EventTierStarted, TierEvent{Priority: p, Size: len(tier)})

	var (
		barrier sync.WaitGroup
		failed  atomic.Int32
	)
	barrier.Add(len(tier))
	name := fmt.Sprintf("tier.p%d", p)
	for _, j := range tier {
		sup.Go(name, func(c context.Context) error {
			defer barrier.Done()
			if o := s.perform(c, j); o.State == Failed {
				failed.Add(1)
			}
			return nil
		})
	}

	drained := make(chan struct{})
	go func() {
		barrier.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.mu.Lock()
		s.unfinished = drained
		s.mu.Unlock()
		s.log.Warn("tier wait interrupted", logx.Int("priority", p), logx.Int("size", len(tier)), logx.Err(context.Cause(ctx)))
		return fmt.Errorf("%w: priority %d: %w", ErrInterrupted, p, context.Cause(ctx))
	}

	dur := time.Since(start)
	s.metrics.TierDrained(dur)
	s.log.Debug("tier drained", logx.Int("priority", p), logx.Int("size", len(tier)), logx.Int("failed", int(failed.Load())), logx.Duration("took", dur))
	s.publish(EventTierFinished, TierEvent{Priority: p, Size: len(tier), Duration: dur, Failed: int(failed.Load())})
	return nil
}

// Stop ends the scheduler's life and releases the worker pool.
//
// A drain in progress stops after its current tier; jobs still queued are
// marked Failed without running. Stop then waits for in-flight jobs. If ctx
// expires first, running jobs see their context cancelled and Stop returns
// ctx's error. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	s.phase = PhaseStopped
	s.stopAsked = true
	done := s.draining
	sup := s.sup
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			if sup != nil {
				sup.Cancel()
			}
			s.log.Warn("scheduler stop timed out waiting for drain", logx.Err(ctx.Err()))
			return ctx.Err()
		}
	}

	s.mu.Lock()
	rest := s.queue.drain()
	s.mu.Unlock()
	s.abandon(rest, ErrStopped)

	if sup == nil {
		return nil
	}
	err := sup.Wait(ctx)
	sup.Cancel()
	if ctx.Err() != nil {
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
	if err != nil {
		s.log.Warn("worker pool reported an error", logx.Err(err))
	}

	s.mu.Lock()
	if s.sup == sup {
		s.sup = nil
	}
	s.mu.Unlock()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Outcomes returns the outcome log lines sorted lexicographically.
// The slice is a copy.
func (s *Scheduler) Outcomes() []string { return s.outcomes.lines() }

// Results returns the structured outcome log in the same order as Outcomes.
func (s *Scheduler) Results() []Outcome { return s.outcomes.snapshot() }

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	phase := s.phase
	queued := s.queue.Len()
	s.mu.Unlock()

	ok, failed := s.outcomes.counts()
	return Snapshot{
		Phase:        phase,
		Queued:       queued,
		InFlight:     int(atomic.LoadInt32(&s.inFlight)),
		TiersDrained: int(atomic.LoadUint64(&s.tiers)),
		Outcomes:     ok + failed,
		Succeeded:    ok,
		Failed:       failed,
	}
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func jobEvent(j *Job, st State) JobEvent {
	return JobEvent{
		ID:          j.id,
		Description: j.description,
		Priority:    j.priority,
		State:       st.String(),
		Delay:       j.delay.Duration(),
	}
}
