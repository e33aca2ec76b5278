package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clipforge/apierr"
)

// Result is the outcome of one upload attempt against the platform.
type Result struct {
	Success bool
	Message string
}

// Uploader publishes a single video file.
type Uploader interface {
	Upload(ctx context.Context, filePath string) Result
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeLimitReached
)

// Worker scans the processed directory and drives each file through the
// upload state machine. One worker run is strictly sequential.
type Worker struct {
	dirs       Dirs
	uploader   Uploader
	log        *Log
	maxRetries int
	retryDelay time.Duration
}

func NewWorker(dirs Dirs, up Uploader, log *Log, maxRetries int, retryDelay time.Duration) *Worker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Worker{
		dirs:       dirs,
		uploader:   up,
		log:        log,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Run processes every file currently in processed. A platform daily limit
// stops the whole run; there is no point burning the rest of the queue
// against a hard ceiling.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.dirs.EnsureAll(); err != nil {
		return err
	}

	files, err := listFiles(w.dirs.Processed)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		w.log.Step("IDLE", "no videos in processed")
		return nil
	}

	for _, filePath := range files {
		result, err := w.handleOne(ctx, filePath)
		if err != nil {
			w.log.Step("ERROR", fmt.Sprintf("%s worker error: %v", filepath.Base(filePath), err))
			continue
		}
		if result == outcomeLimitReached {
			w.log.Step("STOP", "daily limit reached, stopping worker")
			return nil
		}
	}
	return nil
}

func (w *Worker) handleOne(ctx context.Context, filePath string) (outcome, error) {
	fileName := filepath.Base(filePath)
	uploadingPath := filepath.Join(w.dirs.Uploading, fileName)
	donePath := filepath.Join(w.dirs.Done, fileName)
	failedPath := filepath.Join(w.dirs.Failed, fileName)

	w.log.Step("START", fileName)

	if fileExists(uploadingPath) || fileExists(donePath) {
		w.log.Step("SKIP", fileName+" already uploading/done")
		return outcomeDone, nil
	}
	if !fileExists(filePath) {
		w.log.Step("SKIP", fileName+" missing in processed")
		return outcomeDone, nil
	}

	w.log.Step("MOVE", fileName+" processed -> uploading")
	if err := safeMove(filePath, uploadingPath); err != nil {
		return outcomeDone, err
	}

	// The sidecar keeps the attempt count across worker crashes so a
	// restart does not reset the retry budget.
	retryPath := filepath.Join(w.dirs.Uploading, fileName+".retry.json")
	current := readRetryCount(retryPath)

	for attempt := current + 1; attempt <= w.maxRetries; attempt++ {
		w.log.Step("UPLOADING", fmt.Sprintf("%s attempt %d/%d", fileName, attempt, w.maxRetries))
		result := w.uploader.Upload(ctx, uploadingPath)
		if result.Success {
			w.log.Result(fileName, attempt, "SUCCESS", "")
			w.log.Step("MOVE", fileName+" uploading -> done")
			if err := safeMove(uploadingPath, donePath); err != nil {
				return outcomeDone, err
			}
			removeRetryFile(retryPath)
			return outcomeDone, nil
		}

		if apierr.IsPlatformLimit(apierr.FromUploadMessage(result.Message)) {
			w.log.Result(fileName, attempt, "LIMIT_REACHED", "daily limit reached")
			w.log.Step("MOVE", fileName+" uploading -> processed (limit reached)")
			if err := safeMove(uploadingPath, filePath); err != nil {
				return outcomeDone, err
			}
			return outcomeLimitReached, nil
		}

		if err := writeRetryCount(retryPath, attempt); err != nil {
			w.log.Step("WARN", fmt.Sprintf("%s retry file: %v", fileName, err))
		}
		w.log.Result(fileName, attempt, "FAILED", result.Message)
		if attempt < w.maxRetries {
			w.log.Step("WAIT", fmt.Sprintf("%s retry in %s", fileName, w.retryDelay))
			select {
			case <-time.After(w.retryDelay):
			case <-ctx.Done():
				return outcomeDone, ctx.Err()
			}
		}
	}

	w.log.Step("MOVE", fileName+" uploading -> failed")
	if err := safeMove(uploadingPath, failedPath); err != nil {
		return outcomeDone, err
	}
	removeRetryFile(retryPath)
	return outcomeDone, nil
}

type retryRecord struct {
	Count int `json:"count"`
}

func readRetryCount(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var record retryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return 0
	}
	return record.Count
}

func writeRetryCount(path string, count int) error {
	data, err := json.MarshalIndent(retryRecord{Count: count}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func removeRetryFile(path string) {
	_ = os.Remove(path)
}
