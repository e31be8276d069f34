package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tiersched/pkg/logx"
)

func sampleRecords() []Record {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []Record{
		{RunID: "run-1", JobID: "a", Description: "A", Priority: 3, State: "success", Line: "A -> The job completed successfully", StartedAt: at, FinishedAt: at.Add(time.Second)},
		{RunID: "run-1", JobID: "b", Description: "B", Priority: 3, State: "failed", Line: "B -> The job failed", Error: "disk full", FinishedAt: at.Add(2 * time.Second)},
		{RunID: "run-2", JobID: "c", Description: "C", Priority: 1, State: "success", Line: "C -> The job completed successfully", StartedAt: at, FinishedAt: at.Add(3 * time.Second)},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "outcomes.db")

			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)

			for _, r := range sampleRecords() {
				require.NoError(t, st.AppendOutcome(ctx, r))
			}

			all, err := st.ListOutcomes(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 3)

			run1, err := st.ListOutcomes(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, run1, 2)
			assert.Equal(t, "a", run1[0].JobID)
			assert.Equal(t, "B -> The job failed", run1[1].Line)
			assert.Equal(t, "disk full", run1[1].Error)
			assert.True(t, run1[1].StartedAt.IsZero())
			assert.True(t, sampleRecords()[0].FinishedAt.Equal(run1[0].FinishedAt))

			require.NoError(t, st.Close())

			// Reopen: history survives.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			run2, err := st.ListOutcomes(ctx, "run-2")
			require.NoError(t, err)
			require.Len(t, run2, 1)
			assert.Equal(t, 1, run2[0].Priority)
		})
	}
}

func TestOpen_Disabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Logger{})
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStore_ClosedAndCancelled(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h")}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, st.AppendOutcome(ctx, sampleRecords()[0]), context.Canceled)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendOutcome(context.Background(), sampleRecords()[0]), ErrClosed)
	_, err = st.ListOutcomes(context.Background(), "")
	assert.ErrorIs(t, err, ErrClosed)
}
