package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiersched/internal/task/engine"
	logx "tiersched/pkg/logx"
)

func TestFileWriter_WritesLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "brokers")
	w := &FileWriter{Path: path, Lines: []string{"ActiveMQ", "Kafka"}}
	require.NoError(t, w.Execute(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ActiveMQ\nKafka\n", string(b))
}

func TestFileWriter_ForcedFailureLeavesFileForRollback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "frameworks")
	w := &FileWriter{Path: path, Lines: []string{"Spring Boot"}, Fail: true}

	err := w.Execute(context.Background())
	require.ErrorIs(t, err, ErrForcedFailure)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "file is created before the failure")

	require.NoError(t, w.Rollback(context.Background()))
	_, statErr = os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	// Missing file is fine.
	require.NoError(t, w.Rollback(context.Background()))
	assert.Equal(t, 2, w.Rollbacks())
}

func TestFileWriter_CancelledContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "never")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &FileWriter{Path: path}
	assert.ErrorIs(t, w.Execute(ctx), context.Canceled)
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSleep(t *testing.T) {
	t.Parallel()

	s := &Sleep{Duration: 10 * time.Millisecond}
	require.NoError(t, s.Execute(context.Background()))

	s = &Sleep{Fail: true}
	require.ErrorIs(t, s.Execute(context.Background()), ErrForcedFailure)
	require.NoError(t, s.Rollback(context.Background()))
	assert.Equal(t, 1, s.Rollbacks())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s = &Sleep{Duration: time.Minute}
	start := time.Now()
	assert.ErrorIs(t, s.Execute(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

const manifestYAML = `
jobs:
  - kind: file
    id: brokers
    priority: 4
    description: Write brokers to file
    delay: 5s
    path: out/brokers
    lines: [ActiveMQ, Kafka]
  - kind: FILE
    priority: 1
    description: Write frameworks to file
    delay: {amount: 2, unit: minutes}
    path: /abs/frameworks
  - kind: sleep
    priority: 3
    description: Nap
    duration: 200ms
    fail: true
`

func TestLoadManifest_Build(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, dir, m.BaseDir)

	got, err := m.Build()
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "brokers", got[0].ID())
	assert.Equal(t, 4, got[0].Priority())
	assert.Equal(t, 5*time.Second, got[0].StartDelay().Duration())
	fw, ok := got[0].Runner().(*FileWriter)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "out", "brokers"), fw.Path)
	assert.Equal(t, []string{"ActiveMQ", "Kafka"}, fw.Lines)

	assert.Equal(t, 2, got[1].StartDelay().Amount())
	assert.Equal(t, time.Minute, got[1].StartDelay().Unit())
	assert.Equal(t, "/abs/frameworks", got[1].Runner().(*FileWriter).Path)

	sl, ok := got[2].Runner().(*Sleep)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, sl.Duration)
	assert.True(t, sl.Fail)
	assert.True(t, got[2].StartDelay().IsZero())

	for _, j := range got {
		assert.Equal(t, engine.State(0), j.State())
	}
}

func TestParseManifest_JSON(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest("jobs.json", []byte(`{"jobs":[{"kind":"sleep","priority":2,"description":"x"}]}`))
	require.NoError(t, err)
	got, err := m.Build()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Description())
}

func TestDelay_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []Delay{{}, {Amount: 5, Unit: time.Second}, {Amount: 3, Unit: 24 * time.Hour}, {Amount: 250, Unit: time.Millisecond}} {
		b, err := json.Marshal(in)
		require.NoError(t, err)

		var out Delay
		require.NoError(t, json.Unmarshal(b, &out), "marshalled %s", b)
		assert.Equal(t, in.Duration(), out.Duration(), "marshalled %s", b)
	}

	b, err := json.Marshal(Delay{Amount: 5, Unit: time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"5s"`, string(b))

	// A whole spec survives re-encoding.
	spec := Spec{Kind: "sleep", Priority: 2, Description: "nap", Delay: Delay{Amount: 2, Unit: time.Minute}}
	b, err = json.Marshal(Manifest{Jobs: []Spec{spec}})
	require.NoError(t, err)
	m, err := ParseManifest("jobs.json", b)
	require.NoError(t, err)
	st, err := m.Jobs[0].Delay.StartTime()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, st.Duration())
}

func TestParseManifest_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want error
	}{
		{name: "empty", body: `{"jobs":[]}`, want: ErrEmptyManifest},
		{name: "unknown field", body: `{"jobs":[{"kind":"sleep","priority":1,"description":"x","color":"red"}]}`},
		{name: "zero priority", body: `{"jobs":[{"kind":"sleep","priority":0,"description":"x"}]}`},
		{name: "no description", body: `{"jobs":[{"kind":"sleep","priority":1}]}`},
		{name: "file without path", body: `{"jobs":[{"kind":"file","priority":1,"description":"x"}]}`},
		{name: "unknown kind", body: `{"jobs":[{"kind":"http","priority":1,"description":"x"}]}`, want: ErrUnknownKind},
		{name: "bad duration", body: `{"jobs":[{"kind":"sleep","priority":1,"description":"x","duration":"long"}]}`},
		{name: "bad delay string", body: `{"jobs":[{"kind":"sleep","priority":1,"description":"x","delay":"soon"}]}`, want: ErrInvalidDelay},
		{name: "bad delay unit", body: `{"jobs":[{"kind":"sleep","priority":1,"description":"x","delay":{"amount":1,"unit":"fortnight"}}]}`, want: ErrInvalidDelay},
		{name: "negative delay", body: `{"jobs":[{"kind":"sleep","priority":1,"description":"x","delay":{"amount":-1,"unit":"s"}}]}`, want: engine.ErrNegativeDelay},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseManifest("jobs.json", []byte(tc.body))
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestFileJobs_RunThroughScheduler(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := ParseManifest("jobs.json", []byte(`{"jobs":[
		{"kind":"file","priority":3,"description":"Write frameworks to file","path":"frameworks","lines":["Spring Boot","Jersey"],"fail":true},
		{"kind":"file","priority":3,"description":"Write brokers to file","path":"brokers","lines":["ActiveMQ","Kafka"],"fail":true},
		{"kind":"file","priority":3,"description":"Write template engines to file","path":"template_engines","lines":["Thymeleaf","Freemarker"],"fail":true}
	]}`))
	require.NoError(t, err)
	m.BaseDir = dir
	built, err := m.Build()
	require.NoError(t, err)

	s := engine.New(engine.Config{}, logx.Nop(), nil)
	for _, j := range built {
		require.NoError(t, s.Submit(j))
	}
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []string{
		"Write brokers to file -> The job failed",
		"Write frameworks to file -> The job failed",
		"Write template engines to file -> The job failed",
	}, s.Outcomes())

	for _, j := range built {
		fw := j.Runner().(*FileWriter)
		assert.Equal(t, 1, fw.Rollbacks(), j.Description())
		_, err := os.Stat(fw.Path)
		assert.True(t, errors.Is(err, os.ErrNotExist), "rollback removed %s", fw.Path)
	}
}
