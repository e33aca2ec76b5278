package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipforge/config"
)

// ScriptGenerator produces the raw script payload for a topic.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string) (*RawScript, error)
}

// ImageGenerator returns decoded PNG bytes for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// SpeechGenerator returns MP3 bytes for narration text.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text string) ([]byte, error)
}

// Renderer composites scene assets into the final video.
type Renderer interface {
	Render(ctx context.Context, job RenderJob) error
}

// AudioProber reports an audio file's duration in seconds.
type AudioProber interface {
	Duration(path string) (float64, error)
}

type SceneAsset struct {
	Narration         string  `json:"narration"`
	Subtitle          string  `json:"subtitle"`
	ImagePath         string  `json:"imagePath"`
	AudioPath         string  `json:"audioPath"`
	DurationInSeconds float64 `json:"durationInSeconds"`
}

type RenderJob struct {
	JobID         string       `json:"jobId"`
	Scenes        []SceneAsset `json:"scenes"`
	OutputPath    string       `json:"-"`
	Title         string       `json:"title,omitempty"`
	BGMPath       string       `json:"bgmPath,omitempty"`
	CommentPrompt string       `json:"commentPrompt,omitempty"`
}

type RunOptions struct {
	JobID               string
	RunID               string
	ConfirmBeforeRender bool
	Mode                Mode
}

type Result struct {
	JobID    string  `json:"jobId"`
	RunID    string  `json:"runId"`
	VideoURL string  `json:"videoUrl,omitempty"`
	Script   *Script `json:"script"`
	RunDir   string  `json:"runDir"`
}

// commentPrompt is the fixed closing caption baked into every render.
const commentPrompt = "이거 말고 더 좋은 AI 아는 사람?"

// Orchestrator drives the five pipeline steps for a run. Every external
// collaborator sits behind an interface so runs can execute against fakes.
type Orchestrator struct {
	cfg      *config.Config
	store    *Store
	primary  ScriptGenerator
	fallback ScriptGenerator
	images   ImageGenerator
	speech   SpeechGenerator
	renderer Renderer
	prober   AudioProber
}

func NewOrchestrator(
	cfg *config.Config,
	store *Store,
	primary, fallback ScriptGenerator,
	images ImageGenerator,
	speech SpeechGenerator,
	renderer Renderer,
	prober AudioProber,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		primary:  primary,
		fallback: fallback,
		images:   images,
		speech:   speech,
		renderer: renderer,
		prober:   prober,
	}
}

// NewRunID derives a run id from the wall clock at second granularity. Two
// runs started in the same second share an id and the second invocation
// resumes the first one's documents.
func NewRunID() string {
	return time.Now().Format("20060102_150405")
}

// Run executes the pipeline for a topic, resuming from whatever artifacts
// already exist in the run directory. Failures are durably recorded as
// stage=error before returning.
func (o *Orchestrator) Run(ctx context.Context, topic string, opts RunOptions) (*Result, error) {
	jobID := opts.JobID
	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}
	paths := NewPaths(o.cfg.DataDir, runID)

	for _, dir := range []string{paths.ImagesDir, paths.AudioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run dir %s: %w", dir, err)
		}
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeAuto
	}
	status, err := o.store.Init(topic, jobID, runID, opts.ConfirmBeforeRender, mode)
	if err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		mode = status.Mode
	}

	result, err := o.run(ctx, status, paths, mode, opts.ConfirmBeforeRender)
	if err != nil {
		msg := err.Error()
		if updateErr := o.store.Update(status, func(st *RunStatus) {
			st.Stage = StageError
			st.Error = msg
		}); updateErr != nil {
			log.Printf("[pipeline] run %s: could not record error: %v", runID, updateErr)
		}
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, status *RunStatus, paths Paths, mode Mode, confirmBeforeRender bool) (*Result, error) {
	jobID := status.JobID
	runID := status.RunID
	runDir := "/runs/" + runID

	startStep := StepScript
	if status.Stage == StageAwaitingStep && status.WaitingStep != "" {
		startStep = status.WaitingStep
	}
	shouldRun := func(step Step) bool { return runsAtOrAfter(step, startStep) }

	// pauseAfter records the awaiting_step gate and tells the caller to
	// stop; a later invocation resumes at the recorded step.
	pauseAfter := func(step Step) (bool, error) {
		if mode != ModeStep {
			return false, nil
		}
		next := step.Next()
		if next == "" {
			return false, nil
		}
		err := o.store.Update(status, func(st *RunStatus) {
			st.Stage = StageAwaitingStep
			st.WaitingStep = next
		})
		return true, err
	}

	// Step 1: script.
	o.delayAPI(ctx)
	var raw *RawScript
	if fileExists(paths.ScriptJSON) {
		cached, err := loadRawScript(paths.ScriptJSON)
		if err != nil {
			return nil, err
		}
		raw = cached
		if err := o.store.MarkStep(status, StepScript, StepDone, func(st *RunStatus) {
			st.RawScript = raw
		}); err != nil {
			return nil, err
		}
	} else if shouldRun(StepScript) {
		if err := o.store.MarkStep(status, StepScript, StepRunning, nil); err != nil {
			return nil, err
		}
		generated, err := WithQuotaFallback(
			func() (*RawScript, error) { return o.primary.GenerateScript(ctx, status.Topic) },
			func() (*RawScript, error) {
				return WithBackoff(ctx, o.backoffOptions(), func() (*RawScript, error) {
					return o.fallback.GenerateScript(ctx, status.Topic)
				})
			},
		)
		if err != nil {
			return nil, err
		}
		if err := generated.Validate(); err != nil {
			return nil, err
		}
		raw = generated
		if err := writeJSONAtomic(paths.ScriptJSON, raw); err != nil {
			return nil, err
		}
		if err := o.store.MarkStep(status, StepScript, StepDone, func(st *RunStatus) {
			st.RawScript = raw
		}); err != nil {
			return nil, err
		}
		if paused, err := pauseAfter(StepScript); err != nil {
			return nil, err
		} else if paused {
			return &Result{JobID: jobID, RunID: runID, Script: Normalize(raw), RunDir: runDir}, nil
		}
	} else {
		cached, err := loadRawScript(paths.ScriptJSON)
		if err != nil {
			return nil, err
		}
		raw = cached
	}

	script := Normalize(raw)
	if err := o.store.Update(status, func(st *RunStatus) {
		st.Script = script
		st.RawScript = raw
		st.Stage = StageImages
	}); err != nil {
		return nil, err
	}

	// Step 2: images, one scene at a time. Existing files are reused.
	images := make([]string, 0, len(script.Scenes))
	if shouldRun(StepImages) {
		if err := o.store.MarkStep(status, StepImages, StepRunning, nil); err != nil {
			return nil, err
		}
		for i, scene := range script.Scenes {
			imagePath := filepath.Join(paths.ImagesDir, fmt.Sprintf("scene-%d.png", i+1))
			if !fileExists(imagePath) {
				o.delayAPI(ctx)
				o.sleep(ctx, o.cfg.ImageThinkTime)
				prompt := scene.ImagePrompt
				data, err := WithBackoff(ctx, o.backoffOptions(), func() ([]byte, error) {
					return o.images.GenerateImage(ctx, prompt)
				})
				if err != nil {
					return nil, fmt.Errorf("generate image for scene %d: %w", i+1, err)
				}
				if err := os.WriteFile(imagePath, data, 0o644); err != nil {
					return nil, err
				}
			}
			images = append(images, o.publicPath(imagePath))
			snapshot := append([]string(nil), images...)
			if err := o.store.Update(status, func(st *RunStatus) {
				st.Images = snapshot
			}); err != nil {
				return nil, err
			}
		}
		if err := o.store.MarkStep(status, StepImages, StepDone, nil); err != nil {
			return nil, err
		}
		if paused, err := pauseAfter(StepImages); err != nil {
			return nil, err
		} else if paused {
			return &Result{JobID: jobID, RunID: runID, Script: script, RunDir: runDir}, nil
		}
	}

	// Step 3: narration.
	audio := make([]string, 0, len(script.Scenes))
	if shouldRun(StepNarration) {
		if err := o.store.MarkStep(status, StepNarration, StepRunning, nil); err != nil {
			return nil, err
		}
		for i, scene := range script.Scenes {
			audioPath := filepath.Join(paths.AudioDir, fmt.Sprintf("scene-%d.mp3", i+1))
			if !fileExists(audioPath) {
				o.delayAPI(ctx)
				narration := scene.Narration
				data, err := WithBackoff(ctx, o.backoffOptions(), func() ([]byte, error) {
					return o.speech.GenerateSpeech(ctx, narration)
				})
				if err != nil {
					return nil, fmt.Errorf("generate narration for scene %d: %w", i+1, err)
				}
				if err := os.WriteFile(audioPath, data, 0o644); err != nil {
					return nil, err
				}
			}
			audio = append(audio, o.publicPath(audioPath))
			snapshot := append([]string(nil), audio...)
			if err := o.store.Update(status, func(st *RunStatus) {
				st.Audio = snapshot
			}); err != nil {
				return nil, err
			}
		}
		if err := o.store.MarkStep(status, StepNarration, StepDone, nil); err != nil {
			return nil, err
		}
		if paused, err := pauseAfter(StepNarration); err != nil {
			return nil, err
		} else if paused {
			return &Result{JobID: jobID, RunID: runID, Script: script, RunDir: runDir}, nil
		}
	}

	// Step 4: thumbnail.
	if shouldRun(StepThumbnail) {
		if err := o.store.MarkStep(status, StepThumbnail, StepRunning, nil); err != nil {
			return nil, err
		}
		if !fileExists(paths.Thumbnail) {
			o.delayAPI(ctx)
			o.sleep(ctx, o.cfg.ImageThinkTime)
			prompt := BuildThumbnailPrompt(script.Title)
			data, err := WithBackoff(ctx, o.backoffOptions(), func() ([]byte, error) {
				return o.images.GenerateImage(ctx, prompt)
			})
			if err != nil {
				return nil, fmt.Errorf("generate thumbnail: %w", err)
			}
			if err := os.WriteFile(paths.Thumbnail, data, 0o644); err != nil {
				return nil, err
			}
		}
		thumb := o.publicPath(paths.Thumbnail)
		if err := o.store.MarkStep(status, StepThumbnail, StepDone, func(st *RunStatus) {
			st.Thumbnail = thumb
		}); err != nil {
			return nil, err
		}
		if paused, err := pauseAfter(StepThumbnail); err != nil {
			return nil, err
		} else if paused {
			return &Result{JobID: jobID, RunID: runID, Script: script, RunDir: runDir}, nil
		}
	}

	// Assemble render inputs. Duration comes from the audio file itself,
	// floored at one second.
	sceneAssets := make([]SceneAsset, 0, len(script.Scenes))
	for i, scene := range script.Scenes {
		imagePath := filepath.Join(paths.ImagesDir, fmt.Sprintf("scene-%d.png", i+1))
		audioPath := filepath.Join(paths.AudioDir, fmt.Sprintf("scene-%d.mp3", i+1))
		duration, err := o.prober.Duration(audioPath)
		if err != nil {
			log.Printf("[pipeline] run %s: probe scene %d audio: %v", runID, i+1, err)
			duration = 1
		}
		if duration < 1 {
			duration = 1
		}
		sceneAssets = append(sceneAssets, SceneAsset{
			Narration:         scene.Narration,
			Subtitle:          scene.Subtitle,
			ImagePath:         o.publicPath(imagePath),
			AudioPath:         o.publicPath(audioPath),
			DurationInSeconds: duration,
		})
	}

	if confirmBeforeRender && mode != ModeStep {
		thumb := o.publicPath(paths.Thumbnail)
		if err := o.store.Update(status, func(st *RunStatus) {
			st.Stage = StageAwaitingConfirm
			st.Images = images
			st.Audio = audio
			st.Script = script
			st.Thumbnail = thumb
		}); err != nil {
			return nil, err
		}
		return &Result{JobID: jobID, RunID: runID, Script: script, RunDir: runDir}, nil
	}

	// Step 5: render.
	videoURL := runDir + "/output/final.mp4"
	if shouldRun(StepRender) {
		if err := o.store.MarkStep(status, StepRender, StepRunning, nil); err != nil {
			return nil, err
		}
		job := RenderJob{
			JobID:         jobID,
			Scenes:        sceneAssets,
			OutputPath:    paths.FinalVideo,
			Title:         script.Title,
			BGMPath:       o.resolveBGMPath(),
			CommentPrompt: commentPrompt,
		}
		if err := o.renderer.Render(ctx, job); err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		if err := o.store.MarkStep(status, StepRender, StepDone, func(st *RunStatus) {
			st.VideoURL = videoURL
		}); err != nil {
			return nil, err
		}
	}

	return &Result{JobID: jobID, RunID: runID, VideoURL: videoURL, Script: script, RunDir: runDir}, nil
}

func (o *Orchestrator) backoffOptions() BackoffOptions {
	opts := DefaultBackoff()
	if o.cfg.BackoffRetries > 0 {
		opts.Retries = o.cfg.BackoffRetries
	}
	if o.cfg.BackoffBaseDelay > 0 {
		opts.BaseDelay = o.cfg.BackoffBaseDelay
	}
	if o.cfg.BackoffMaxDelay > 0 {
		opts.MaxDelay = o.cfg.BackoffMaxDelay
	}
	return opts
}

// delayAPI paces calls to external APIs: the configured delay plus up to the
// same amount of jitter.
func (o *Orchestrator) delayAPI(ctx context.Context) {
	base := o.cfg.APIDelay
	if base <= 0 {
		return
	}
	o.sleep(ctx, base+time.Duration(rand.Int63n(int64(base))))
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// publicPath converts an absolute artifact path into the run-relative URL
// path served to clients.
func (o *Orchestrator) publicPath(abs string) string {
	rel, err := filepath.Rel(o.cfg.DataDir, abs)
	if err != nil {
		return abs
	}
	return "/" + strings.Join(strings.Split(rel, string(filepath.Separator)), "/")
}

// resolveBGMPath includes background music only when the file exists.
func (o *Orchestrator) resolveBGMPath() string {
	if o.cfg.BGMPath == "" {
		return ""
	}
	abs := o.cfg.BGMPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(o.cfg.DataDir, o.cfg.BGMPath)
	}
	if !fileExists(abs) {
		return ""
	}
	return abs
}

func loadRawScript(path string) (*RawScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw RawScript
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return &raw, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
