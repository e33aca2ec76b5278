package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepDone    StepState = "done"
	StepError   StepState = "error"
)

type Stage string

const (
	StageScript          Stage = "script"
	StageImages          Stage = "images"
	StageNarration       Stage = "narration"
	StageThumbnail       Stage = "thumbnail"
	StageRender          Stage = "render"
	StageAwaitingStep    Stage = "awaiting_step"
	StageAwaitingConfirm Stage = "awaiting_confirm"
	StageDone            Stage = "done"
	StageError           Stage = "error"
)

type Mode string

const (
	ModeAuto Mode = "auto"
	ModeStep Mode = "step"
)

type StepStatus struct {
	State      StepState `json:"state"`
	StartedAt  string    `json:"startedAt,omitempty"`
	EndedAt    string    `json:"endedAt,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
}

// RunStatus is the per-run status document. It is the sole source of run
// progress for polling clients.
type RunStatus struct {
	JobID               string                 `json:"jobId"`
	RunID               string                 `json:"runId"`
	Topic               string                 `json:"topic"`
	Stage               Stage                  `json:"stage"`
	Mode                Mode                   `json:"mode"`
	WaitingStep         Step                   `json:"waitingStep,omitempty"`
	Steps               map[Step]*StepStatus   `json:"steps"`
	CreatedAt           string                 `json:"createdAt"`
	UpdatedAt           string                 `json:"updatedAt"`
	ConfirmBeforeRender bool                   `json:"confirmBeforeRender"`
	RawScript           *RawScript             `json:"geminiScript,omitempty"`
	Script              *Script                `json:"script,omitempty"`
	Images              []string               `json:"images,omitempty"`
	Audio               []string               `json:"audio,omitempty"`
	Thumbnail           string                 `json:"thumbnail,omitempty"`
	VideoURL            string                 `json:"videoUrl,omitempty"`
	Error               string                 `json:"error,omitempty"`
}

// Store persists run status documents, one JSON file per run. All mutations
// for a run are serialized through a per-run lock, and every write replaces
// the whole document via temp-file-then-rename so pollers never observe a
// torn file.
type Store struct {
	dataDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[runID] = lock
	}
	return lock
}

// Init creates the status document for a run, or loads the existing one
// unchanged so re-invocation resumes instead of restarting.
func (s *Store) Init(topic, jobID, runID string, confirmBeforeRender bool, mode Mode) (*RunStatus, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	paths := NewPaths(s.dataDir, runID)
	if _, err := os.Stat(paths.StatusJSON); err == nil {
		var status RunStatus
		if err := readJSON(paths.StatusJSON, &status); err != nil {
			return nil, fmt.Errorf("load status for run %s: %w", runID, err)
		}
		return &status, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	status := &RunStatus{
		JobID:               jobID,
		RunID:               runID,
		Topic:               topic,
		Stage:               StageScript,
		Mode:                mode,
		CreatedAt:           now,
		UpdatedAt:           now,
		ConfirmBeforeRender: confirmBeforeRender,
		Steps:               make(map[Step]*StepStatus, len(StepOrder)),
	}
	for _, step := range StepOrder {
		status.Steps[step] = &StepStatus{State: StepPending}
	}

	if err := writeJSONAtomic(paths.StatusJSON, status); err != nil {
		return nil, fmt.Errorf("init status for run %s: %w", runID, err)
	}
	return status, nil
}

// Load reads the status document for a run without creating it.
func (s *Store) Load(runID string) (*RunStatus, error) {
	paths := NewPaths(s.dataDir, runID)
	var status RunStatus
	if err := readJSON(paths.StatusJSON, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Exists reports whether a run has a status document.
func (s *Store) Exists(runID string) bool {
	_, err := os.Stat(NewPaths(s.dataDir, runID).StatusJSON)
	return err == nil
}

// ListRunIDs returns all run ids, newest first. RunIds sort
// chronologically because they are timestamp-derived.
func (s *Store) ListRunIDs() ([]string, error) {
	runsDir := filepath.Join(s.dataDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read runs directory %s: %w", runsDir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Update applies mutate to the in-memory document, stamps updatedAt and
// persists the result.
func (s *Store) Update(status *RunStatus, mutate func(*RunStatus)) error {
	lock := s.runLock(status.RunID)
	lock.Lock()
	defer lock.Unlock()

	if mutate != nil {
		mutate(status)
	}
	status.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	paths := NewPaths(s.dataDir, status.RunID)
	if err := writeJSONAtomic(paths.StatusJSON, status); err != nil {
		return fmt.Errorf("update status for run %s: %w", status.RunID, err)
	}
	return nil
}

// MarkStep transitions one step's state and records timing. Marking render
// as done completes the whole run.
func (s *Store) MarkStep(status *RunStatus, step Step, state StepState, extra func(*RunStatus)) error {
	return s.Update(status, func(st *RunStatus) {
		now := time.Now().UTC()
		entry, ok := st.Steps[step]
		if !ok {
			entry = &StepStatus{State: StepPending}
			st.Steps[step] = entry
		}

		switch state {
		case StepRunning:
			*entry = StepStatus{State: StepRunning, StartedAt: now.Format(time.RFC3339)}
		case StepDone, StepError:
			started := now
			if entry.StartedAt != "" {
				if t, err := time.Parse(time.RFC3339, entry.StartedAt); err == nil {
					started = t
				}
			}
			entry.State = state
			entry.EndedAt = now.Format(time.RFC3339)
			entry.DurationMs = now.Sub(started).Milliseconds()
		default:
			entry.State = state
		}

		if step == StepRender && state == StepDone {
			st.Stage = StageDone
		}
		if extra != nil {
			extra(st)
		}
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".clipforge-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
