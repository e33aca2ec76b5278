// clipforge/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/config"
	"clipforge/pipeline"
	"clipforge/uploader"
)

type fakeScripter struct{}

func (fakeScripter) GenerateScript(ctx context.Context, topic string) (*pipeline.RawScript, error) {
	scenes := make([]pipeline.RawScene, pipeline.SceneCount)
	for i := range scenes {
		scenes[i] = pipeline.RawScene{
			Text:        "장면 대사입니다. 시청자를 붙잡는 문장.",
			ImagePrompt: "A person working late at a desk in an office",
		}
	}
	return &pipeline.RawScript{
		Hook:       "3초 안에 끝나는 이야기",
		FullScript: "전체 대본입니다. 충분히 긴 구어체 문장으로 작성되어 있습니다.",
		Scenes:     scenes,
		VideoTitle: "AI로 하루 아끼는 법 #shorts",
	}, nil
}

type fakeMedia struct{}

func (fakeMedia) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func (fakeMedia) GenerateSpeech(ctx context.Context, text string) ([]byte, error) {
	return []byte("mp3-bytes"), nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(ctx context.Context, job pipeline.RenderJob) error {
	return os.WriteFile(job.OutputPath, []byte("mp4-bytes"), 0o644)
}

type fakeProber struct{}

func (fakeProber) Duration(path string) (float64, error) { return 2.0, nil }

type fakeUploader struct{}

func (fakeUploader) Upload(ctx context.Context, filePath string) uploader.Result {
	return uploader.Result{Success: true}
}

func setupTestAPI(t *testing.T) (*gin.Engine, *config.Config, *pipeline.Store, uploader.Dirs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	cfg := &config.Config{
		DataDir:          filepath.Join(root, "data"),
		VideoRoot:        filepath.Join(root, "videos"),
		LogDir:           filepath.Join(root, "logs"),
		BackoffRetries:   1,
		BackoffBaseDelay: time.Millisecond,
		BackoffMaxDelay:  time.Millisecond,
	}

	store := pipeline.NewStore(cfg.DataDir)
	orch := pipeline.NewOrchestrator(cfg, store,
		fakeScripter{}, fakeScripter{}, fakeMedia{}, fakeMedia{}, fakeRenderer{}, fakeProber{})

	dirs := uploader.NewDirs(cfg.VideoRoot)
	require.NoError(t, dirs.EnsureAll())
	worker := uploader.NewWorker(dirs, fakeUploader{}, uploader.NewLog(cfg.LogDir), 1, time.Millisecond)

	h := NewHandler(cfg, store, orch, worker)
	return SetupRouter(h, cfg), cfg, store, dirs
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleStartRun(t *testing.T) {
	t.Run("rejects a blank topic", func(t *testing.T) {
		router, _, _, _ := setupTestAPI(t)
		w := postJSON(router, "/api/v1/runs", `{"topic": "   "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts and runs the pipeline in the background", func(t *testing.T) {
		router, _, store, _ := setupTestAPI(t)
		w := postJSON(router, "/api/v1/runs", `{"topic": "AI 부업"}`)
		assert.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["jobId"])
		assert.NotEmpty(t, resp["runId"])
		assert.Equal(t, "/runs/"+resp["runId"], resp["runDir"])

		require.Eventually(t, func() bool {
			status, err := store.Load(resp["runId"])
			return err == nil && status.Stage == pipeline.StageDone
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestHandleGetRun(t *testing.T) {
	router, _, store, _ := setupTestAPI(t)

	t.Run("unknown run is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs/nonexistent", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("existing run returns the status document", func(t *testing.T) {
		_, err := store.Init("AI 부업", "job-1", "20260101_120000", false, pipeline.ModeAuto)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs/20260101_120000", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var status pipeline.RunStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, "AI 부업", status.Topic)
		assert.Equal(t, pipeline.StageScript, status.Stage)
		assert.Len(t, status.Steps, len(pipeline.StepOrder))
	})
}

func TestHandleListRuns(t *testing.T) {
	router, _, store, _ := setupTestAPI(t)
	_, err := store.Init("첫 주제", "job-1", "20260101_090000", false, pipeline.ModeAuto)
	require.NoError(t, err)
	_, err = store.Init("둘째 주제", "job-2", "20260102_090000", false, pipeline.ModeAuto)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var summaries []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	// newest first
	assert.Equal(t, "20260102_090000", summaries[0]["runId"])
	assert.Equal(t, "둘째 주제", summaries[0]["topic"])
}

func TestHandleStepRun(t *testing.T) {
	router, _, store, _ := setupTestAPI(t)

	t.Run("unknown run is 404", func(t *testing.T) {
		w := postJSON(router, "/api/v1/runs/nonexistent/step", `{}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("rerun requires a known step", func(t *testing.T) {
		_, err := store.Init("AI 부업", "job-1", "20260101_120000", false, pipeline.ModeStep)
		require.NoError(t, err)

		w := postJSON(router, "/api/v1/runs/20260101_120000/step", `{"action": "rerun", "step": "publish"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("continues a step-mode run", func(t *testing.T) {
		_, err := store.Init("AI 부업", "job-2", "20260103_120000", false, pipeline.ModeStep)
		require.NoError(t, err)

		w := postJSON(router, "/api/v1/runs/20260103_120000/step", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)

		require.Eventually(t, func() bool {
			status, err := store.Load("20260103_120000")
			return err == nil && status.Stage == pipeline.StageAwaitingStep
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestHandleConfirmRun(t *testing.T) {
	router, _, _, _ := setupTestAPI(t)
	w := postJSON(router, "/api/v1/runs/nonexistent/confirm", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetRunFile(t *testing.T) {
	router, cfg, store, _ := setupTestAPI(t)
	_, err := store.Init("AI 부업", "job-1", "20260101_120000", false, pipeline.ModeAuto)
	require.NoError(t, err)

	paths := pipeline.NewPaths(cfg.DataDir, "20260101_120000")
	require.NoError(t, os.MkdirAll(paths.OutputDir, 0o755))
	require.NoError(t, os.WriteFile(paths.ScriptJSON, []byte(`{"hook":"x"}`), 0o644))

	t.Run("serves an artifact", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs/20260101_120000/files/output/script.json", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"hook":"x"}`, w.Body.String())
	})

	t.Run("missing artifact is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs/20260101_120000/files/output/missing.png", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleUpload(t *testing.T) {
	router, _, _, dirs := setupTestAPI(t)
	require.NoError(t, os.WriteFile(filepath.Join(dirs.Processed, "a.mp4"), []byte("mp4"), 0o644))

	w := postJSON(router, "/api/v1/upload/run", `{}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dirs.Done, "a.mp4"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("status reflects the outcome", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/upload/status", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(1), resp["successCount"])
	})

	t.Run("logs are exposed", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/upload/logs?limit=5", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "a.mp4")
	})
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _, _ := setupTestAPI(t)

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong scheme", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Basic secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, lowercase scheme", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/runs", nil)
		req.Header.Set("Authorization", "bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
