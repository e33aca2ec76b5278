// clipforge/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clipforge/api"
	"clipforge/config"
	"clipforge/genai"
	"clipforge/pipeline"
	"clipforge/render"
	"clipforge/uploader"
)

func main() {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.VideoRoot, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	// 2. Initialize the external collaborators
	gemini := genai.NewGemini(os.Getenv("GEMINI_API_KEY"))
	openai := genai.NewOpenAI(os.Getenv("OPENAI_API_KEY"))

	compositor, err := render.NewCompositor(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize compositor: %v", err)
	}

	// 3. Wire the pipeline orchestrator
	store := pipeline.NewStore(cfg.DataDir)
	orch := pipeline.NewOrchestrator(cfg, store, gemini, openai, openai, openai, compositor, render.NewFFProbe())

	// 4. Wire the upload worker
	dirs := uploader.NewDirs(cfg.VideoRoot)
	if err := dirs.EnsureAll(); err != nil {
		log.Fatalf("Failed to create upload directories: %v", err)
	}
	worker := uploader.NewWorker(dirs, uploader.NewYouTube(cfg), uploader.NewLog(cfg.LogDir), cfg.UploadMaxRetries, cfg.UploadRetryDelay)

	// 5. Set up router and server
	handler := api.NewHandler(cfg, store, orch, worker)
	router := api.SetupRouter(handler, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
