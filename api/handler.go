package api

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"

	"clipforge/config"
	"clipforge/pipeline"
	"clipforge/uploader"
)

type Handler struct {
	cfg   *config.Config
	store *pipeline.Store
	orch  *pipeline.Orchestrator

	worker        *uploader.Worker
	workerRunning chan struct{}
}

func NewHandler(cfg *config.Config, store *pipeline.Store, orch *pipeline.Orchestrator, worker *uploader.Worker) *Handler {
	return &Handler{
		cfg:           cfg,
		store:         store,
		orch:          orch,
		worker:        worker,
		workerRunning: make(chan struct{}, 1),
	}
}

type StartRunRequest struct {
	Topic               string `json:"topic"`
	ConfirmBeforeRender bool   `json:"confirmBeforeRender"`
	Mode                string `json:"mode"`
}

// handleStartRun kicks off a new pipeline run. The run executes in the
// background; clients poll the status document for progress.
func (h *Handler) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}

	mode := pipeline.ModeAuto
	if req.Mode == string(pipeline.ModeStep) {
		mode = pipeline.ModeStep
	}

	jobID := shortuuid.New()
	runID := pipeline.NewRunID()

	go func() {
		if _, err := h.orch.Run(context.Background(), topic, pipeline.RunOptions{
			JobID:               jobID,
			RunID:               runID,
			ConfirmBeforeRender: req.ConfirmBeforeRender,
			Mode:                mode,
		}); err != nil {
			log.Printf("[api] run %s failed: %v", runID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  jobID,
		"runId":  runID,
		"runDir": "/runs/" + runID,
	})
}

// handleGetRun returns the status document for one run.
func (h *Handler) handleGetRun(c *gin.Context) {
	runID := c.Param("runId")
	status, err := h.store.Load(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type runSummary struct {
	RunID     string         `json:"runId"`
	Topic     string         `json:"topic"`
	Stage     pipeline.Stage `json:"stage"`
	CreatedAt string         `json:"createdAt"`
	UpdatedAt string         `json:"updatedAt"`
	VideoURL  string         `json:"videoUrl,omitempty"`
}

// handleListRuns lists run summaries, newest first.
func (h *Handler) handleListRuns(c *gin.Context) {
	ids, err := h.store.ListRunIDs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summaries := make([]runSummary, 0, len(ids))
	for _, id := range ids {
		status, err := h.store.Load(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, runSummary{
			RunID:     status.RunID,
			Topic:     status.Topic,
			Stage:     status.Stage,
			CreatedAt: status.CreatedAt,
			UpdatedAt: status.UpdatedAt,
			VideoURL:  status.VideoURL,
		})
	}
	c.JSON(http.StatusOK, summaries)
}

type StepRequest struct {
	Action string `json:"action"`
	Step   string `json:"step"`
}

// handleStepRun continues a step-mode run. action=rerun resets the chosen
// step and everything after it before continuing.
func (h *Handler) handleStepRun(c *gin.Context) {
	runID := c.Param("runId")
	status, err := h.store.Load(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if status.Topic == "" || status.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run status is incomplete"})
		return
	}

	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Action == "rerun" {
		if !pipeline.IsValidStep(req.Step) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "step is required"})
			return
		}
		if err := h.store.ResetFromStep(status, pipeline.Step(req.Step)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	topic, jobID := status.Topic, status.JobID
	go func() {
		if _, err := h.orch.Run(context.Background(), topic, pipeline.RunOptions{
			JobID: jobID,
			RunID: runID,
			Mode:  pipeline.ModeStep,
		}); err != nil {
			log.Printf("[api] step run %s failed: %v", runID, err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"ok": true, "runId": runID})
}

// handleConfirmRun pushes a run waiting at awaiting_confirm through to
// render by re-invoking the pipeline with the confirm gate disabled.
func (h *Handler) handleConfirmRun(c *gin.Context) {
	runID := c.Param("runId")
	status, err := h.store.Load(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if status.Topic == "" || status.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run status is incomplete"})
		return
	}

	topic, jobID := status.Topic, status.JobID
	go func() {
		if _, err := h.orch.Run(context.Background(), topic, pipeline.RunOptions{
			JobID: jobID,
			RunID: runID,
		}); err != nil {
			log.Printf("[api] confirm run %s failed: %v", runID, err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"ok": true, "runId": runID})
}

// handleGetRunFile serves an artifact out of a run directory.
func (h *Handler) handleGetRunFile(c *gin.Context) {
	runID := c.Param("runId")
	requested := c.Param("filepath")

	paths := pipeline.NewPaths(h.cfg.DataDir, runID)
	full := filepath.Join(paths.RunDir, filepath.Clean("/"+requested))
	if !strings.HasPrefix(full, paths.RunDir+string(filepath.Separator)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
		return
	}
	c.File(full)
}

// handleUploadRun triggers one upload worker pass. Only one pass runs at a
// time; a second trigger while busy is rejected.
func (h *Handler) handleUploadRun(c *gin.Context) {
	select {
	case h.workerRunning <- struct{}{}:
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "upload worker already running"})
		return
	}

	go func() {
		defer func() { <-h.workerRunning }()
		if err := h.worker.Run(context.Background()); err != nil {
			log.Printf("[api] upload worker failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "started": true})
}

func (h *Handler) handleUploadStatus(c *gin.Context) {
	status, err := uploader.ReadStatus(h.cfg.LogDir, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"successCount": status.SuccessCount,
		"failedCount":  status.FailedCount,
		"totalCount":   status.TotalCount,
	})
}

func (h *Handler) handleUploadLogs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	logs, err := uploader.ReadRecent(h.cfg.LogDir, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "logs": logs})
}
