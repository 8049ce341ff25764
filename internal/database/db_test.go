package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/types"
)

func finishedCase(t *testing.T, name string, fail bool) *types.Case {
	t.Helper()
	c := types.NewCase(name, "check out a mug")
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tap := types.NewStep(0, action.TapAction{Locate: "checkout button"}, `aiTap: checkout button`)
	require.NoError(t, tap.Start(start))
	require.NoError(t, tap.Succeed(start.Add(time.Second), map[string]any{"ok": true}))

	assertStep := types.NewStep(1, action.AssertAction{Condition: "order placed"}, `aiAssert: order placed`)
	require.NoError(t, assertStep.Start(start.Add(time.Second)))
	if fail {
		require.NoError(t, assertStep.Fail(start.Add(3*time.Second), "order not placed"))
		c.Status = types.CaseFailed
		c.Error = "step 2 failed"
	} else {
		require.NoError(t, assertStep.Succeed(start.Add(3*time.Second), nil))
		c.Status = types.CaseCompleted
	}
	end := start.Add(3 * time.Second)
	c.Steps = []types.Step{tap, assertStep}
	c.StartedAt, c.EndedAt = &start, &end
	return c
}

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadRun(t *testing.T) {
	db := openDB(t)
	c := finishedCase(t, "checkout", true)

	id, err := db.SaveRun(c, "cases/checkout.yaml", Usage{Tokens: 1200, Cost: 0.01})
	require.NoError(t, err)

	run, err := db.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, c.ID, run.CaseID)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "step 2 failed", run.Error)
	assert.Equal(t, "cases/checkout.yaml", run.Source)
	assert.Equal(t, 3*time.Second, run.Duration)
	assert.Equal(t, 2, run.TotalSteps)
	assert.Equal(t, 1, run.PassedSteps)
	assert.Equal(t, 1, run.FailedSteps)
	assert.Equal(t, int64(1200), run.Usage.Tokens)
	require.NotNil(t, run.StartedAt)
	assert.True(t, run.StartedAt.Equal(*c.StartedAt))

	steps, err := db.RunSteps(id)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, `{"ok":true}`, steps[0].Result)
	assert.Equal(t, time.Second, steps[0].Duration)
	assert.Equal(t, "failed", steps[1].Status)
	assert.Equal(t, "order not placed", steps[1].Error)
	assert.Empty(t, steps[1].Result)
}

func TestGetRunNotFound(t *testing.T) {
	db := openDB(t)
	_, err := db.GetRun(42)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsAndStatistics(t *testing.T) {
	db := openDB(t)
	for _, tc := range []struct {
		name string
		fail bool
	}{{"login", false}, {"checkout", true}, {"checkout", false}} {
		_, err := db.SaveRun(finishedCase(t, tc.name, tc.fail), "", Usage{Tokens: 100, Cost: 0.5})
		require.NoError(t, err)
	}

	runs, err := db.ListRuns(10, "")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "checkout", runs[0].Name)
	assert.Equal(t, "completed", runs[0].Status, "newest first")

	runs, err = db.ListRuns(10, "checkout")
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = db.ListRuns(1, "")
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	st, err := db.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalRuns)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, int64(300), st.Tokens)
	assert.InDelta(t, 1.5, st.Cost, 1e-9)

	n, err := db.DeleteRunsBefore(time.Now().Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
