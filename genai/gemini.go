// Package genai holds the clients for the external generation APIs. Errors
// are classified into apierr kinds here, at the boundary, so the pipeline
// never inspects provider message text.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipforge/apierr"
	"clipforge/pipeline"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1/models"

// DefaultGeminiModels is tried in order; the first model that answers wins.
var DefaultGeminiModels = []string{
	"gemini-flash-latest",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
}

const geminiSystemPrompt = "너는 숏폼 알고리즘을 지배하는 콘텐츠 디렉터다. 10~40대 시청자에게 확 꽂히는 톤으로 빠르고 임팩트 있게 전달한다."

// Gemini is the primary script generator.
type Gemini struct {
	apiKey     string
	apiBase    string
	models     []string
	httpClient *http.Client
	pause      time.Duration
}

func NewGemini(apiKey string) *Gemini {
	return &Gemini{
		apiKey:     apiKey,
		apiBase:    geminiAPIBase,
		models:     DefaultGeminiModels,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pause:      600 * time.Millisecond,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) GenerateScript(ctx context.Context, topic string) (*pipeline.RawScript, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	g.wait(ctx)

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: geminiSystemPrompt}}},
			{Role: "user", Parts: []geminiPart{{Text: buildScriptPrompt(topic)}}},
		},
	}
	reqBody.GenerationConfig.Temperature = 0.7
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for _, model := range g.models {
		endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", g.apiBase, url.PathEscape(model), url.QueryEscape(g.apiKey))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("gemini request: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = apierr.FromResponse(resp.StatusCode, string(body))
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				break
			}
			log.Printf("[genai] gemini %s failed (%d), trying next model", model, resp.StatusCode)
			continue
		}

		var parsed geminiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("parse gemini response: %w", err)
		}
		if len(parsed.Candidates) == 0 {
			lastErr = apierr.New(apierr.KindValidation, "gemini returned no candidates")
			continue
		}
		var sb strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		g.wait(ctx)
		return parseRawScript(sb.String())
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no gemini models configured")
	}
	return nil, lastErr
}

func (g *Gemini) wait(ctx context.Context) {
	if g.pause <= 0 {
		return
	}
	d := g.pause + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func parseRawScript(text string) (*pipeline.RawScript, error) {
	var raw pipeline.RawScript
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &raw); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "script response is not valid JSON")
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return &raw, nil
}

// ExtractJSON unwraps markdown fences or surrounding prose from a model
// response that should be a single JSON object.
func ExtractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end != -1 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// buildScriptPrompt is shared by both script generators so their outputs are
// interchangeable.
func buildScriptPrompt(topic string) string {
	return `다음 형식으로만 JSON을 출력해줘.
{
  "hook": "첫 3초 자극적인 멘트",
  "full_script": "TTS용 전체 대본 (구어체)",
  "scenes": [
    {"text": "장면1 대사", "image_prompt": "DALL-E용 영어 묘사"}
  ],
  "video_title": "유튜브 업로드용 제목 (해시태그 포함)"
}

조건:
- [후킹 - 본론1,2,3 - 반전/결론 - CTA] 구조를 강제.
- 시청자가 중간에 이탈할 틈이 없도록 문장 사이 연결을 긴박하게.
- scenes는 5개.
- image_prompt는 영어로 작성하고 끝에 "Cinematic, High Quality, Vibrant"를 반드시 포함.
- image_prompt에 "3D Render, Pixar Style, High-tech and Minimalist"를 반드시 포함.

주제: ` + topic
}
