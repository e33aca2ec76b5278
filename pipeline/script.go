package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"clipforge/apierr"
)

// SceneCount is the fixed number of scenes in a short-form script.
const SceneCount = 5

// RawScript is the payload the script generators must produce.
type RawScript struct {
	Hook       string     `json:"hook"`
	FullScript string     `json:"full_script"`
	Scenes     []RawScene `json:"scenes"`
	VideoTitle string     `json:"video_title"`
}

type RawScene struct {
	Text        string `json:"text"`
	ImagePrompt string `json:"image_prompt"`
}

// Validate enforces the generator contract. Short or malformed outputs are
// rejected whole, never partially accepted.
func (r *RawScript) Validate() error {
	if len(r.Hook) < 5 {
		return apierr.New(apierr.KindValidation, "script hook too short")
	}
	if len(r.FullScript) < 20 {
		return apierr.New(apierr.KindValidation, "full_script too short")
	}
	if len(r.VideoTitle) < 5 {
		return apierr.New(apierr.KindValidation, "video_title too short")
	}
	if len(r.Scenes) != SceneCount {
		return apierr.New(apierr.KindValidation,
			fmt.Sprintf("expected %d scenes, got %d", SceneCount, len(r.Scenes)))
	}
	for i, scene := range r.Scenes {
		if len(scene.Text) < 5 {
			return apierr.New(apierr.KindValidation, fmt.Sprintf("scene %d text too short", i+1))
		}
		if len(scene.ImagePrompt) < 10 {
			return apierr.New(apierr.KindValidation, fmt.Sprintf("scene %d image_prompt too short", i+1))
		}
	}
	return nil
}

// Script is the canonical creative payload for one run.
type Script struct {
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

type Scene struct {
	Narration   string `json:"narration"`
	ImagePrompt string `json:"imagePrompt"`
	Subtitle    string `json:"subtitle"`
}

// Normalize converts a raw generator payload into the canonical script:
// style prefix on every image prompt, derived subtitles, and a forced scene
// count of five. Short outputs are padded with a fallback scene built from
// the hook (or full script) rather than rejected here; Validate is the
// gate, this is the shaper.
func Normalize(raw *RawScript) *Script {
	scenes := raw.Scenes
	if len(scenes) > SceneCount {
		scenes = scenes[:SceneCount]
	}

	out := make([]Scene, 0, SceneCount)
	for _, s := range scenes {
		out = append(out, Scene{
			Narration:   s.Text,
			ImagePrompt: ensureImageStyle(s.ImagePrompt),
			Subtitle:    makeSubtitle(s.Text),
		})
	}

	if len(out) < SceneCount {
		fallbackText := raw.Hook
		if fallbackText == "" {
			fallbackText = raw.FullScript
		}
		fallbackPrompt := "Cinematic, High Quality, Vibrant portrait of a modern creator studio"
		if len(raw.Scenes) > 0 {
			fallbackPrompt = raw.Scenes[0].ImagePrompt
		}
		for len(out) < SceneCount {
			out = append(out, Scene{
				Narration:   fallbackText,
				ImagePrompt: ensureImageStyle(fallbackPrompt),
				Subtitle:    makeSubtitle(fallbackText),
			})
		}
	}

	return &Script{Title: raw.VideoTitle, Scenes: out}
}

const subtitleMaxRunes = 24

var subtitleMarker = regexp.MustCompile(`\[자막:[^\]]+\]`)

// makeSubtitle derives a short on-screen subtitle from narration text: strip
// inline subtitle markers, take the first sentence, cap at 24 runes.
func makeSubtitle(text string) string {
	cleaned := strings.TrimSpace(subtitleMarker.ReplaceAllString(text, ""))
	first := cleaned
	if idx := strings.IndexAny(cleaned, "\n.!?"); idx >= 0 {
		first = strings.TrimSpace(cleaned[:idx])
	}
	if first == "" {
		first = cleaned
	}
	runes := []rune(first)
	if len(runes) > subtitleMaxRunes {
		first = string(runes[:subtitleMaxRunes])
	}
	if first == "" {
		return "핵심 포인트"
	}
	return first
}

var (
	stylePrefix = "Modern Korean webtoon art style, vibrant and warm colors, set in Seoul South Korea, " +
		"East Asian characters with trendy Korean fashion, highly detailed, urban Korean background " +
		"with Hangul signage visible, K-drama cinematography, 8k resolution"
	stylePersona   = "Korean webtoon artist and trendy K-drama cinematographer vibe"
	styleRender    = "3D Render, Pixar Style, High-tech and Minimalist"
	styleCinematic = "Cinematic, High Quality, Vibrant"
	styleCyberpunk = "Cyberpunk, Cinematic Lighting, 8k Resolution, Unreal Engine 5 Render"

	clockRe  = regexp.MustCompile(`(?i)clock|watch|시계`)
	officeRe = regexp.MustCompile(`(?i)office|사무실|desk|work`)
	personRe = regexp.MustCompile(`(?i)person|people|man|woman|character|인물|사람`)
	seoulRe  = regexp.MustCompile(`(?i)Korean office worker|Seoulite`)
)

// ensureImageStyle injects the deterministic house style into an image
// prompt. The output depends only on the input prompt.
func ensureImageStyle(prompt string) string {
	base := strings.TrimSpace(prompt)
	parts := []string{stylePrefix, stylePersona, base}

	if personRe.MatchString(base) && !seoulRe.MatchString(base) {
		parts = append(parts, "Korean office worker or Seoulite")
	}
	if officeRe.MatchString(base) {
		parts = append(parts,
			"office interior with Namsan Tower visible through the window",
			"computer monitor showing Hangul text")
	}
	if clockRe.MatchString(base) {
		parts = append(parts, "Detailed Clock Face with clear hands")
	}
	parts = append(parts, styleRender, styleCinematic, styleCyberpunk)
	return strings.Join(parts, ", ")
}

// BuildThumbnailPrompt derives the thumbnail generation prompt from the
// script title.
func BuildThumbnailPrompt(title string) string {
	return title + ". 자극적인 대형 텍스트 포함, 선명한 색감, 숏폼 클릭률을 높이는 디자인, thumbnail, high contrast, clean composition."
}
