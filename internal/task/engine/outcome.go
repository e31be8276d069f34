package engine

import (
	"sort"
	"sync"
)

// outcomeLog is the append-only record of finished jobs. Tier members append
// to it concurrently.
type outcomeLog struct {
	mu      sync.Mutex
	entries []Outcome
}

func (l *outcomeLog) append(o Outcome) {
	l.mu.Lock()
	l.entries = append(l.entries, o)
	l.mu.Unlock()
}

func (l *outcomeLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *outcomeLog) counts() (succeeded, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.entries {
		switch o.State {
		case Success:
			succeeded++
		case Failed:
			failed++
		}
	}
	return succeeded, failed
}

// snapshot returns a sorted copy. Entries sort by their log line, then by
// job ID so equal lines have a stable order.
func (l *outcomeLog) snapshot() []Outcome {
	l.mu.Lock()
	out := make([]Outcome, len(l.entries))
	copy(out, l.entries)
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].String(), out[j].String()
		if a != b {
			return a < b
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}

func (l *outcomeLog) lines() []string {
	snap := l.snapshot()
	out := make([]string, len(snap))
	for i, o := range snap {
		out[i] = o.String()
	}
	return out
}
