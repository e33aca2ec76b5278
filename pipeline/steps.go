package pipeline

import "path/filepath"

// Step is one phase of the run pipeline. The order below is the single
// definition of the step sequence; gating and cleanup derive from it.
type Step string

const (
	StepScript    Step = "script"
	StepImages    Step = "images"
	StepNarration Step = "narration"
	StepThumbnail Step = "thumbnail"
	StepRender    Step = "render"
)

var StepOrder = []Step{StepScript, StepImages, StepNarration, StepThumbnail, StepRender}

func IsValidStep(s string) bool {
	for _, step := range StepOrder {
		if string(step) == s {
			return true
		}
	}
	return false
}

func stepIndex(s Step) int {
	for i, step := range StepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the step after s, or "" if s is the last step.
func (s Step) Next() Step {
	i := stepIndex(s)
	if i < 0 || i+1 >= len(StepOrder) {
		return ""
	}
	return StepOrder[i+1]
}

// From returns s and every step after it in pipeline order.
func From(s Step) []Step {
	i := stepIndex(s)
	if i < 0 {
		return nil
	}
	return StepOrder[i:]
}

// runsAtOrAfter reports whether step runs when execution starts at start.
func runsAtOrAfter(step, start Step) bool {
	return stepIndex(step) >= stepIndex(start)
}

// Paths locates every artifact inside one run directory.
type Paths struct {
	RunDir     string
	OutputDir  string
	ImagesDir  string
	AudioDir   string
	ScriptJSON string
	Thumbnail  string
	FinalVideo string
	StatusJSON string
}

func NewPaths(dataDir, runID string) Paths {
	runDir := filepath.Join(dataDir, "runs", runID)
	outputDir := filepath.Join(runDir, "output")
	return Paths{
		RunDir:     runDir,
		OutputDir:  outputDir,
		ImagesDir:  filepath.Join(outputDir, "images"),
		AudioDir:   filepath.Join(outputDir, "audio"),
		ScriptJSON: filepath.Join(outputDir, "script.json"),
		Thumbnail:  filepath.Join(outputDir, "thumbnail.png"),
		FinalVideo: filepath.Join(outputDir, "final.mp4"),
		StatusJSON: filepath.Join(runDir, "status.json"),
	}
}

// CleanupTargets returns the artifacts owned by a step.
func (p Paths) CleanupTargets(step Step) []string {
	switch step {
	case StepScript:
		return []string{p.ScriptJSON}
	case StepImages:
		return []string{p.ImagesDir}
	case StepNarration:
		return []string{p.AudioDir}
	case StepThumbnail:
		return []string{p.Thumbnail}
	case StepRender:
		return []string{p.FinalVideo}
	}
	return nil
}
