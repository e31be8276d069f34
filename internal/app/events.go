package app

import (
	"context"

	"tiersched/internal/eventbus"
	"tiersched/internal/task/engine"
	logx "tiersched/pkg/logx"
)

// logEvents mirrors scheduler events into debug logs until ctx is done.
func logEvents(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	events, unsub := eventbus.SubscribePrefix(bus, 256, "job.", "tier.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Keep this debug-level to avoid noise for frequent triggers.
			if !log.Enabled(logx.LevelDebug) {
				continue
			}
			fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
			switch d := e.Data.(type) {
			case engine.JobEvent:
				fields = append(fields, logx.String("job", d.ID), logx.String("description", d.Description), logx.Int("priority", d.Priority), logx.String("state", d.State))
				if d.Error != "" {
					fields = append(fields, logx.String("err", d.Error))
				}
			case engine.TierEvent:
				fields = append(fields, logx.Int("priority", d.Priority), logx.Int("size", d.Size), logx.Int("failed", d.Failed), logx.Duration("took", d.Duration))
			}
			log.Debug("event", fields...)
		}
	}
}
