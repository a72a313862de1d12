// Real-time trigger surface: runs the target in-process for a single
// schema+record pair per request, mirroring how the connector is invoked
// from serverless pipelines.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/crmsync/target-salesforce/internal/application"
	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// syncRequest carries one real-time sync: the full connector config plus
// the raw Singer schema and record lines for a single stream.
type syncRequest struct {
	Config     map[string]interface{} `json:"config" binding:"required"`
	StreamName string                 `json:"stream_name" binding:"required"`
	SchemaLine string                 `json:"schema_line" binding:"required"`
	RecordLine string                 `json:"record_line" binding:"required"`
}

type syncResult struct {
	ID         string            `json:"id"`
	State      interface{}       `json:"state"`
	Metrics    models.RunSummary `json:"metrics"`
	Error      string            `json:"error,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// runRegistry keeps finished run results in memory so callers can poll
// them by id. A cron job purges entries past their retention window.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*syncResult
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*syncResult)}
}

func (r *runRegistry) put(result *syncResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[result.ID] = result
}

func (r *runRegistry) get(id string) (*syncResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.runs[id]
	return result, ok
}

func (r *runRegistry) purge(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, result := range r.runs {
		if result.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
			purged++
		}
	}
	return purged
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	registry := newRunRegistry()

	// Purge finished runs on a schedule, default hourly
	purgeSpec := os.Getenv("RUN_PURGE_CRON")
	if purgeSpec == "" {
		purgeSpec = "@hourly"
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(purgeSpec, func() {
		if n := registry.purge(time.Hour); n > 0 {
			log.Printf("🗑️ Purged %d finished runs", n)
		}
	}); err != nil {
		log.Fatalf("Invalid RUN_PURGE_CRON %q: %v", purgeSpec, err)
	}
	scheduler.Start()
	log.Printf("⏰ Run purge scheduled (%s)", purgeSpec)

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/sync", func(c *gin.Context) {
		var req syncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result := runSync(c.Request.Context(), &req)
		registry.put(result)

		status := http.StatusOK
		if result.Error != "" {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, result)
	})

	router.GET("/runs/:id", func(c *gin.Context) {
		result, ok := registry.get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Sync trigger listening on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	log.Println("Server exiting")
}

// runSync executes one in-process target run over the submitted lines and
// captures the emitted state.
func runSync(ctx context.Context, req *syncRequest) *syncResult {
	result := &syncResult{ID: utils.GenerateID()}
	defer func() { result.FinishedAt = time.Now() }()

	log.Printf("Starting sync %s for stream %s", result.ID, req.StreamName)

	cfg, err := bootstrap.FromMap(req.Config)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	target, err := application.NewTarget(cfg)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	input := strings.NewReader(req.SchemaLine + "\n" + req.RecordLine + "\n")
	var state strings.Builder
	summary, err := target.Run(ctx, input, &state)
	result.Metrics = summary
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.State = strings.TrimSpace(state.String())
	return result
}
