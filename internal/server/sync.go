package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/campusops/facsync/internal/pipeline"
)

// lockTTL caps how long a stale trigger lock can block re-runs.
const lockTTL = 10 * time.Minute

// Pipeline is the slice of the sync service the trigger surface needs.
type Pipeline interface {
	SyncFaculty(ctx context.Context) (int, error)
	SyncCourses(ctx context.Context) (pipeline.CoursesResult, error)
	Reconcile(ctx context.Context) (pipeline.ReconcileResult, error)
	RunAll(ctx context.Context) (pipeline.RunAllResult, error)
}

// SyncHandler serves the per-stage trigger endpoints. A Redis SetNX lock
// keeps concurrent triggers of the same stage from overlapping; with no
// Redis configured the lock is skipped.
type SyncHandler struct {
	Pipeline Pipeline
	Rdb      *redis.Client
	Logger   *log.Logger
}

// Register mounts the trigger routes on g.
func (h *SyncHandler) Register(g *echo.Group) {
	g.POST("/faculty", h.faculty)
	g.POST("/courses", h.courses)
	g.POST("/reconcile", h.reconcile)
	g.POST("/all", h.all)
}

func (h *SyncHandler) faculty(c echo.Context) error {
	return h.run(c, "faculty", func(ctx context.Context) (any, error) {
		n, err := h.Pipeline.SyncFaculty(ctx)
		return map[string]any{"updated": n}, err
	})
}

func (h *SyncHandler) courses(c echo.Context) error {
	return h.run(c, "courses", func(ctx context.Context) (any, error) {
		res, err := h.Pipeline.SyncCourses(ctx)
		return res, err
	})
}

func (h *SyncHandler) reconcile(c echo.Context) error {
	return h.run(c, "reconcile", func(ctx context.Context) (any, error) {
		res, err := h.Pipeline.Reconcile(ctx)
		return res, err
	})
}

func (h *SyncHandler) all(c echo.Context) error {
	return h.run(c, "all", func(ctx context.Context) (any, error) {
		res, err := h.Pipeline.RunAll(ctx)
		return res, err
	})
}

// run executes one stage under its lock and renders the structured
// success/failure result. Stage failures become an explicit non-success
// payload with a server-error status; they never crash the process.
func (h *SyncHandler) run(c echo.Context, stage string, fn func(ctx context.Context) (any, error)) error {
	ctx := c.Request().Context()
	release, ok := h.acquire(ctx, stage)
	if !ok {
		return c.JSON(http.StatusLocked, map[string]any{"ok": false, "error": stage + " sync already running"})
	}
	defer release()

	runID := uuid.NewString()
	h.Logger.Printf("sync %s started (run %s)", stage, runID)
	result, err := fn(ctx)
	if err != nil {
		h.Logger.Printf("sync %s failed (run %s): %v", stage, runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"ok":     false,
			"run_id": runID,
			"error":  err.Error(),
		})
	}
	h.Logger.Printf("sync %s finished (run %s)", stage, runID)
	return c.JSON(http.StatusOK, map[string]any{
		"ok":     true,
		"run_id": runID,
		"result": result,
	})
}

// acquire takes the per-stage lock. Lock errors degrade to running
// unlocked rather than blocking the trigger.
func (h *SyncHandler) acquire(ctx context.Context, stage string) (func(), bool) {
	if h.Rdb == nil {
		return func() {}, true
	}
	key := "facsync:lock:" + stage
	ok, err := h.Rdb.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		h.Logger.Printf("lock %s: %v", stage, err)
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() { h.Rdb.Del(context.Background(), key) }, true
}
