package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clipforge/apierr"
	"clipforge/pipeline"
)

const openAIBase = "https://api.openai.com/v1"

// OpenAI backs three concerns: the fallback script generator, image
// generation, and text-to-speech.
type OpenAI struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		apiKey:     apiKey,
		apiBase:    openAIBase,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAI) GenerateScript(ctx context.Context, topic string) (*pipeline.RawScript, error) {
	reqBody := chatRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		Messages: []chatMessage{
			{Role: "system", Content: "너는 숏폼 알고리즘을 지배하는 콘텐츠 디렉터다. 반드시 JSON만 출력한다."},
			{Role: "user", Content: buildScriptPrompt(topic)},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	body, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, apierr.New(apierr.KindValidation, "chat completion returned no choices")
	}
	return parseRawScript(parsed.Choices[0].Message.Content)
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	Quality        string `json:"quality"`
	Style          string `json:"style"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *OpenAI) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	body, err := c.post(ctx, "/images/generations", imageRequest{
		Model:          "dall-e-3",
		Prompt:         prompt,
		Size:           "1024x1024",
		Quality:        "standard",
		Style:          "natural",
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}
	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse image response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, apierr.New(apierr.KindValidation, "image generation returned no data")
	}
	decoded, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return decoded, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
	Input          string `json:"input"`
}

func (c *OpenAI) GenerateSpeech(ctx context.Context, text string) ([]byte, error) {
	// The speech endpoint streams raw MP3, not JSON.
	return c.post(ctx, "/audio/speech", speechRequest{
		Model:          "tts-1",
		Voice:          "alloy",
		ResponseFormat: "mp3",
		Input:          text,
	})
}

func (c *OpenAI) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.FromResponse(resp.StatusCode, string(body))
	}
	return body, nil
}
