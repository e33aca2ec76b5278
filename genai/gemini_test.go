package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/apierr"
	"clipforge/pipeline"
)

func TestExtractJSON(t *testing.T) {
	t.Run("passes plain JSON through", func(t *testing.T) {
		assert.Equal(t, `{"hook":"x"}`, ExtractJSON(`{"hook":"x"}`))
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		raw := "```json\n{\"hook\":\"x\"}\n```"
		assert.Equal(t, `{"hook":"x"}`, ExtractJSON(raw))
	})

	t.Run("strips bare fences", func(t *testing.T) {
		raw := "```\n{\"hook\":\"x\"}\n```"
		assert.Equal(t, `{"hook":"x"}`, ExtractJSON(raw))
	})

	t.Run("cuts surrounding prose", func(t *testing.T) {
		raw := "물론입니다! 요청하신 JSON입니다:\n{\"hook\":\"x\"}\n도움이 되었길 바랍니다."
		assert.Equal(t, `{"hook":"x"}`, ExtractJSON(raw))
	})

	t.Run("leaves hopeless input alone", func(t *testing.T) {
		assert.Equal(t, "no json here", ExtractJSON("no json here"))
	})
}

func sampleRawScriptJSON(t *testing.T) string {
	t.Helper()
	scenes := make([]map[string]string, 5)
	for i := range scenes {
		scenes[i] = map[string]string{
			"text":         "장면 대사입니다. 시청자를 붙잡는 문장.",
			"image_prompt": "A person working late at a desk in an office",
		}
	}
	payload, err := json.Marshal(map[string]any{
		"hook":        "3초 안에 끝나는 이야기",
		"full_script": "전체 대본입니다. 충분히 긴 구어체 문장으로 작성되어 있습니다.",
		"scenes":      scenes,
		"video_title": "AI로 하루 아끼는 법 #shorts",
	})
	require.NoError(t, err)
	return string(payload)
}

func testGemini(serverURL string) *Gemini {
	return &Gemini{
		apiKey:     "test-key",
		apiBase:    serverURL,
		models:     []string{"model-a", "model-b"},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		pause:      0,
	}
}

func geminiBody(text string) string {
	data, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]string{"text": text}}}},
		},
	})
	return string(data)
}

func TestGeminiGenerateScript(t *testing.T) {
	t.Run("parses a fenced response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(geminiBody("```json\n" + sampleRawScriptJSON(t) + "\n```")))
		}))
		defer server.Close()

		raw, err := testGemini(server.URL).GenerateScript(context.Background(), "AI 부업")
		require.NoError(t, err)
		assert.Len(t, raw.Scenes, pipeline.SceneCount)
		assert.Equal(t, "AI로 하루 아끼는 법 #shorts", raw.VideoTitle)
	})

	t.Run("falls through to the next model on server errors", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(geminiBody(sampleRawScriptJSON(t))))
		}))
		defer server.Close()

		raw, err := testGemini(server.URL).GenerateScript(context.Background(), "AI 부업")
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.NotNil(t, raw)
	})

	t.Run("quota responses are tagged", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
		}))
		defer server.Close()

		_, err := testGemini(server.URL).GenerateScript(context.Background(), "AI 부업")
		require.Error(t, err)
		assert.True(t, apierr.IsQuotaExhausted(err))
	})

	t.Run("stops trying models on auth failures", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		_, err := testGemini(server.URL).GenerateScript(context.Background(), "AI 부업")
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("invalid script payloads are rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(geminiBody(`{"hook":"짧","scenes":[]}`)))
		}))
		defer server.Close()

		_, err := testGemini(server.URL).GenerateScript(context.Background(), "AI 부업")
		require.Error(t, err)
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	})

	t.Run("missing api key fails fast", func(t *testing.T) {
		g := NewGemini("")
		_, err := g.GenerateScript(context.Background(), "AI 부업")
		assert.Error(t, err)
	})
}
