package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tiersched/internal/config"
	"tiersched/internal/eventbus"
	"tiersched/internal/metrics"
	rtsup "tiersched/internal/runtime/supervisor"
	"tiersched/internal/storage"
	"tiersched/internal/task/engine"
	"tiersched/internal/task/jobs"
	logx "tiersched/pkg/logx"
)

var ErrNoManifest = errors.New("no job manifest configured (set manifest in config or pass -manifest)")

// Options are the process-level inputs that do not live in the config file.
type Options struct {
	ConfigPath string
	// Manifest overrides config.manifest when set.
	Manifest string
	// Once runs the manifest a single time even if a trigger is configured.
	Once bool
	// Out receives the sorted outcome log of every run. Defaults to stdout.
	Out io.Writer
	// Registry collects metrics. A fresh registry is created when nil.
	Registry *prometheus.Registry
}

// RunReport summarizes one drain of the manifest.
type RunReport struct {
	RunID    string
	Outcomes []string
	Snapshot engine.Snapshot
}

type App struct {
	opts Options

	cfgm *config.ConfigManager

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	msrv    *metrics.Server
	store   storage.Store

	sup *rtsup.Supervisor

	outMu    sync.Mutex
	stopOnce sync.Once
}

func NewApp(opts Options) (*App, error) {
	if opts.Out == nil {
		opts.Out = logx.Stdout()
	}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		reg:     reg,
		metrics: metrics.New(reg),
		store:   store,
	}
	if cfg.Metrics.Enabled {
		a.msrv = metrics.NewServer(cfg.Metrics.Addr, reg, log.With(logx.String("comp", "metrics")))
	}
	return a, nil
}

// Config returns the currently committed config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Store returns the outcome store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// MetricsServer returns the metrics endpoint, or nil when disabled.
func (a *App) MetricsServer() *metrics.Server { return a.msrv }

// Start launches background loops: config watch + reload, event logging and
// the metrics endpoint. They stop when ctx is cancelled or Stop is called.
func (a *App) Start(ctx context.Context) {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	a.sup.Go("eventbus.log", func(c context.Context) error {
		logEvents(c, a.bus, a.log.With(logx.String("comp", "events")))
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	if a.msrv != nil {
		a.sup.GoRestart("metrics.serve", func(c context.Context) error {
			return a.msrv.Serve(c)
		}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}
	a.log.Info("app started")
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}

			a.logs.Apply(mapLogConfig(newCfg))
			for _, s := range sections {
				switch s {
				case "storage", "metrics", "trigger":
					a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
				}
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// Run starts the app and runs the manifest once, or on every trigger firing
// until ctx is done. It stops the app before returning.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	var runErr error
	cfg := a.cfgm.Get()
	if a.opts.Once || cfg.Trigger.Schedule == "" {
		_, runErr = a.RunOnce(ctx)
	} else {
		trig, err := NewTrigger(cfg.Trigger.Schedule, cfg.Trigger.Timezone, a.log.With(logx.String("comp", "trigger")))
		if err != nil {
			runErr = err
		} else {
			runErr = trig.Run(ctx, func(c context.Context) {
				if _, err := a.RunOnce(c); err != nil {
					a.log.Warn("run finished with error", logx.Err(err))
				}
			})
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// RunOnce loads the manifest, drains it on a fresh scheduler and prints the
// sorted outcome log.
func (a *App) RunOnce(ctx context.Context) (RunReport, error) {
	cfg := a.cfgm.Get()
	path := strings.TrimSpace(a.opts.Manifest)
	if path == "" {
		path = cfg.Manifest
	}
	if path == "" {
		return RunReport{}, ErrNoManifest
	}

	m, err := jobs.LoadManifest(path)
	if err != nil {
		return RunReport{}, err
	}
	built, err := m.Build()
	if err != nil {
		return RunReport{}, fmt.Errorf("manifest %s: %w", path, err)
	}

	runID := uuid.NewString()
	log := a.log.With(logx.String("run", runID))
	stopTimeout, err := cfg.Scheduler.StopTimeoutDuration()
	if err != nil {
		return RunReport{}, err
	}

	opts := []engine.SchedulerOption{engine.WithMetrics(a.metrics)}
	if a.store != nil {
		opts = append(opts, engine.WithRecorder(storeRecorder{store: a.store, runID: runID}))
	}
	s := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "scheduler")), a.bus, opts...)

	for _, j := range built {
		if err := s.Submit(j); err != nil {
			return RunReport{}, err
		}
	}

	start := time.Now()
	log.Info("run started", logx.String("manifest", path), logx.Int("jobs", len(built)))
	startErr := s.Start(ctx)

	// Stop gets its own budget: an interrupted drain still waits for the
	// members already in flight.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	stopErr := s.Stop(stopCtx)
	cancel()

	rep := RunReport{RunID: runID, Outcomes: s.Outcomes(), Snapshot: s.Snapshot()}
	if err := a.printOutcomes(rep.Outcomes); err != nil {
		log.Warn("writing outcome log failed", logx.Err(err))
	}
	log.Info("run finished",
		logx.Int("succeeded", rep.Snapshot.Succeeded),
		logx.Int("failed", rep.Snapshot.Failed),
		logx.Int("tiers", rep.Snapshot.TiersDrained),
		logx.Duration("took", time.Since(start)),
	)
	return rep, errors.Join(startErr, stopErr)
}

func (a *App) printOutcomes(lines []string) error {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	for _, l := range lines {
		if _, err := fmt.Fprintln(a.opts.Out, l); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels background loops and releases storage and log sinks.
// It is idempotent.
func (a *App) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("stopping")
		if a.sup != nil {
			if serr := a.sup.Stop(ctx); serr != nil {
				a.log.Warn("supervisor stop", logx.Err(serr))
				if ctx.Err() != nil {
					err = serr
				}
			}
		}
		if a.store != nil {
			if cerr := a.store.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		a.log.Info("stopped")
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
	return err
}
