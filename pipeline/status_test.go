package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreInit(t *testing.T) {
	t.Run("creates a fresh status with all steps pending", func(t *testing.T) {
		store := NewStore(t.TempDir())

		status, err := store.Init("AI 부업", "job-1", "20260101_120000", false, ModeAuto)
		require.NoError(t, err)

		assert.Equal(t, "job-1", status.JobID)
		assert.Equal(t, StageScript, status.Stage)
		assert.Equal(t, ModeAuto, status.Mode)
		require.Len(t, status.Steps, len(StepOrder))
		for _, step := range StepOrder {
			assert.Equal(t, StepPending, status.Steps[step].State)
		}
		assert.NotEmpty(t, status.CreatedAt)
	})

	t.Run("re-init loads the existing document unchanged", func(t *testing.T) {
		store := NewStore(t.TempDir())

		first, err := store.Init("원래 주제", "job-1", "20260101_120000", true, ModeStep)
		require.NoError(t, err)
		require.NoError(t, store.Update(first, func(st *RunStatus) {
			st.Stage = StageImages
		}))

		second, err := store.Init("다른 주제", "job-2", "20260101_120000", false, ModeAuto)
		require.NoError(t, err)

		assert.Equal(t, "원래 주제", second.Topic)
		assert.Equal(t, "job-1", second.JobID)
		assert.Equal(t, StageImages, second.Stage)
		assert.Equal(t, ModeStep, second.Mode)
		assert.True(t, second.ConfirmBeforeRender)
	})
}

func TestStoreMarkStep(t *testing.T) {
	store := NewStore(t.TempDir())
	status, err := store.Init("주제", "job-1", "20260101_120000", false, ModeAuto)
	require.NoError(t, err)

	t.Run("running records a start timestamp", func(t *testing.T) {
		require.NoError(t, store.MarkStep(status, StepScript, StepRunning, nil))
		entry := status.Steps[StepScript]
		assert.Equal(t, StepRunning, entry.State)
		assert.NotEmpty(t, entry.StartedAt)
		assert.Empty(t, entry.EndedAt)
	})

	t.Run("done records end time and duration", func(t *testing.T) {
		require.NoError(t, store.MarkStep(status, StepScript, StepDone, nil))
		entry := status.Steps[StepScript]
		assert.Equal(t, StepDone, entry.State)
		assert.NotEmpty(t, entry.EndedAt)
		assert.GreaterOrEqual(t, entry.DurationMs, int64(0))

		started, err := time.Parse(time.RFC3339, entry.StartedAt)
		require.NoError(t, err)
		ended, err := time.Parse(time.RFC3339, entry.EndedAt)
		require.NoError(t, err)
		assert.False(t, ended.Before(started))
	})

	t.Run("finishing render completes the run", func(t *testing.T) {
		require.NoError(t, store.MarkStep(status, StepRender, StepRunning, nil))
		require.NoError(t, store.MarkStep(status, StepRender, StepDone, func(st *RunStatus) {
			st.VideoURL = "/runs/20260101_120000/output/final.mp4"
		}))
		assert.Equal(t, StageDone, status.Stage)
		assert.NotEmpty(t, status.VideoURL)
	})

	t.Run("changes survive a reload", func(t *testing.T) {
		loaded, err := store.Load("20260101_120000")
		require.NoError(t, err)
		assert.Equal(t, StageDone, loaded.Stage)
		assert.Equal(t, StepDone, loaded.Steps[StepRender].State)
	})
}

func TestStatusDocumentFieldNames(t *testing.T) {
	dataDir := t.TempDir()
	store := NewStore(dataDir)
	status, err := store.Init("주제", "job-1", "20260101_120000", false, ModeAuto)
	require.NoError(t, err)

	raw := &RawScript{Hook: "훅 문장입니다"}
	require.NoError(t, store.Update(status, func(st *RunStatus) {
		st.RawScript = raw
	}))

	// Polling clients consume this file directly, so the field names are a
	// wire contract.
	data, err := os.ReadFile(NewPaths(dataDir, status.RunID).StatusJSON)
	require.NoError(t, err)
	doc := string(data)
	assert.Contains(t, doc, `"geminiScript"`)
	assert.NotContains(t, doc, `"rawScript"`)
	assert.Contains(t, doc, `"jobId"`)
	assert.Contains(t, doc, `"confirmBeforeRender"`)
}

func TestStoreListRunIDs(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, id := range []string{"20260101_090000", "20260102_090000", "20260101_150000"} {
		_, err := store.Init("주제", "job", id, false, ModeAuto)
		require.NoError(t, err)
	}

	ids, err := store.ListRunIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"20260102_090000", "20260101_150000", "20260101_090000"}, ids)
}

func TestStoreListRunIDsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	ids, err := store.ListRunIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWriteJSONAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "status.json")

	require.NoError(t, writeJSONAtomic(path, map[string]string{"k": "v"}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status.json", entries[0].Name())
}

func TestResetFromStep(t *testing.T) {
	dataDir := t.TempDir()
	store := NewStore(dataDir)
	status, err := store.Init("주제", "job-1", "20260101_120000", false, ModeAuto)
	require.NoError(t, err)

	paths := NewPaths(dataDir, status.RunID)
	require.NoError(t, os.MkdirAll(paths.ImagesDir, 0o755))
	require.NoError(t, os.MkdirAll(paths.AudioDir, 0o755))
	require.NoError(t, os.WriteFile(paths.ScriptJSON, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ImagesDir, "scene-1.png"), []byte("img"), 0o644))
	require.NoError(t, os.WriteFile(paths.Thumbnail, []byte("thumb"), 0o644))
	require.NoError(t, os.WriteFile(paths.FinalVideo, []byte("vid"), 0o644))

	for _, step := range StepOrder {
		require.NoError(t, store.MarkStep(status, step, StepDone, nil))
	}

	require.NoError(t, store.ResetFromStep(status, StepImages))

	assert.Equal(t, StageAwaitingStep, status.Stage)
	assert.Equal(t, StepImages, status.WaitingStep)

	// script survives, downstream artifacts are gone
	assert.FileExists(t, paths.ScriptJSON)
	assert.NoFileExists(t, filepath.Join(paths.ImagesDir, "scene-1.png"))
	assert.NoDirExists(t, paths.ImagesDir)
	assert.NoFileExists(t, paths.Thumbnail)
	assert.NoFileExists(t, paths.FinalVideo)

	assert.Equal(t, StepDone, status.Steps[StepScript].State)
	for _, step := range From(StepImages) {
		assert.Equal(t, StepPending, status.Steps[step].State)
	}

	t.Run("unknown step is rejected", func(t *testing.T) {
		assert.Error(t, store.ResetFromStep(status, Step("publish")))
	})
}
