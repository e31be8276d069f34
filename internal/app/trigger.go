package app

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "tiersched/pkg/logx"
)

// Supported trigger forms:
//   - Cron (optional seconds field): "*/5 * * * *", "0 30 2 * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseTrigger parses a trigger spec into a cron schedule.
func ParseTrigger(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("trigger schedule required")
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		sched, err := cronParser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return sched, nil
	}

	if m := reHHMM.FindStringSubmatch(s); len(m) == 3 {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return cron.Every(d), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
			raw,
		)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return cron.Every(d), nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// cronLogger adapts logx to cron.Logger so skipped firings are visible.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Warn("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// Trigger fires fn on a schedule. A firing that arrives while the previous
// run is still going is skipped.
type Trigger struct {
	spec  string
	sched cron.Schedule
	loc   *time.Location
	log   logx.Logger
}

func NewTrigger(spec, timezone string, log logx.Logger) (*Trigger, error) {
	sched, err := ParseTrigger(spec)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("trigger.timezone: invalid %q: %w", timezone, err)
	}
	return &Trigger{spec: spec, sched: sched, loc: loc, log: log}, nil
}

// Next reports the next firing after t.
func (t *Trigger) Next(after time.Time) time.Time { return t.sched.Next(after.In(t.loc)) }

// Run blocks until ctx is done, calling fn on every firing, then waits for a
// firing in progress to return.
func (t *Trigger) Run(ctx context.Context, fn func(ctx context.Context)) error {
	cl := cronLogger{log: t.log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(t.sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}))
	c.Start()
	t.log.Info("trigger started", logx.String("schedule", t.spec), logx.String("tz", t.loc.String()),
		logx.Time("next", t.Next(time.Now())))

	<-ctx.Done()
	<-c.Stop().Done()
	t.log.Info("trigger stopped")
	return nil
}
