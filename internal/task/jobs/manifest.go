package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tiersched/internal/config"
	"tiersched/internal/task/engine"
)

// Manifest declares the jobs of one run.
//
// Example (YAML):
//
//	jobs:
//	  - kind: file
//	    priority: 4
//	    description: Write brokers to file
//	    delay: 5s
//	    path: ./out/brokers
//	    lines: [ActiveMQ, Kafka]
//	  - kind: sleep
//	    priority: 3
//	    description: Nap
//	    duration: 200ms
//	    fail: true
type Manifest struct {
	Jobs []Spec `json:"jobs" validate:"dive"`

	// BaseDir resolves relative file paths. LoadManifest sets it to the
	// manifest's directory.
	BaseDir string `json:"-"`
}

// Spec is one manifest entry.
type Spec struct {
	ID          string   `json:"id,omitempty"`
	Kind        string   `json:"kind" validate:"required"`
	Priority    int      `json:"priority" validate:"gt=0"`
	Description string   `json:"description" validate:"required"`
	Delay       Delay    `json:"delay,omitempty"`
	Fail        bool     `json:"fail,omitempty"`
	Path        string   `json:"path,omitempty" validate:"required_if=Kind file"`
	Lines       []string `json:"lines,omitempty"`
	Duration    string   `json:"duration,omitempty"`
}

// Delay is a start delay written either as a Go duration string ("5s") or as
// an {amount, unit} object ({amount: 5, unit: s}).
type Delay struct {
	Amount int
	Unit   time.Duration
}

var delayUnits = map[string]time.Duration{
	"ns": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

func (d *Delay) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = Delay{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := config.ParseDurationField("delay", s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDelay, err)
		}
		*d = Delay{Amount: int(v), Unit: time.Nanosecond}
		if v == 0 {
			*d = Delay{}
		}
		return nil
	}

	var obj struct {
		Amount int    `json:"amount"`
		Unit   string `json:"unit"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, err)
	}
	unit, ok := delayUnits[strings.ToLower(strings.TrimSpace(obj.Unit))]
	if !ok {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidDelay, obj.Unit)
	}
	*d = Delay{Amount: obj.Amount, Unit: unit}
	return nil
}

// MarshalJSON writes the delay as a Go duration string, the form
// UnmarshalJSON reads back.
func (d Delay) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration is Amount*Unit.
func (d Delay) Duration() time.Duration { return time.Duration(d.Amount) * d.Unit }

// StartTime converts the delay, reporting the engine's construction errors
// (negative amount).
func (d Delay) StartTime() (engine.StartTime, error) {
	if d.Amount == 0 && d.Unit == 0 {
		return engine.StartTime{}, nil
	}
	return engine.NewStartTime(d.Amount, d.Unit)
}

var validate = validator.New()

// LoadManifest reads a JSON or YAML manifest (by extension) and validates it.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(path, b)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.BaseDir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes data; name only selects the format.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := config.DecodeStrict(name, data, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Jobs) == 0 {
		return ErrEmptyManifest
	}
	for i := range m.Jobs {
		m.Jobs[i].Kind = strings.ToLower(strings.TrimSpace(m.Jobs[i].Kind))
	}
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Manifest."), fe.Tag())
		}
		return err
	}
	for i, s := range m.Jobs {
		switch s.Kind {
		case "file", "sleep":
		default:
			return fmt.Errorf("jobs[%d]: %w: %q", i, ErrUnknownKind, s.Kind)
		}
		if _, err := config.ParseDurationField(fmt.Sprintf("jobs[%d].duration", i), s.Duration); err != nil {
			return err
		}
		if _, err := s.Delay.StartTime(); err != nil {
			return fmt.Errorf("jobs[%d].delay: %w", i, err)
		}
	}
	return nil
}

// Build constructs one engine job per manifest entry, in manifest order.
func (m *Manifest) Build() ([]*engine.Job, error) {
	out := make([]*engine.Job, 0, len(m.Jobs))
	for i, s := range m.Jobs {
		j, err := m.build(s)
		if err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (m *Manifest) build(s Spec) (*engine.Job, error) {
	var r engine.Runner
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "file":
		path := s.Path
		if m.BaseDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(m.BaseDir, path)
		}
		r = &FileWriter{Path: path, Lines: append([]string(nil), s.Lines...), Fail: s.Fail}
	case "sleep":
		d, err := config.ParseDurationField("duration", s.Duration)
		if err != nil {
			return nil, err
		}
		r = &Sleep{Duration: d, Fail: s.Fail}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}

	st, err := s.Delay.StartTime()
	if err != nil {
		return nil, err
	}
	return engine.NewJob(s.Priority, s.Description, r, engine.WithStartDelay(st), engine.WithID(s.ID))
}
