package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/campusops/facsync/internal/pipeline"
)

// stubPipeline records which stage ran and returns canned results.
type stubPipeline struct {
	ran string
	err error
}

func (s *stubPipeline) SyncFaculty(ctx context.Context) (int, error) {
	s.ran = "faculty"
	return 7, s.err
}

func (s *stubPipeline) SyncCourses(ctx context.Context) (pipeline.CoursesResult, error) {
	s.ran = "courses"
	return pipeline.CoursesResult{Sessions: 12, Courses: 4, Batches: 2}, s.err
}

func (s *stubPipeline) Reconcile(ctx context.Context) (pipeline.ReconcileResult, error) {
	s.ran = "reconcile"
	return pipeline.ReconcileResult{Teachers: 3, Assignments: 9}, s.err
}

func (s *stubPipeline) RunAll(ctx context.Context) (pipeline.RunAllResult, error) {
	s.ran = "all"
	return pipeline.RunAllResult{Faculty: 7}, s.err
}

func newTestServer(stub *stubPipeline) *echo.Echo {
	e := echo.New()
	h := &SyncHandler{
		Pipeline: stub,
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e.Group("/api/sync"))
	return e
}

func doPost(t *testing.T, e *echo.Echo, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestTriggerRoutes(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		path  string
		stage string
	}{
		{"/api/sync/faculty", "faculty"},
		{"/api/sync/courses", "courses"},
		{"/api/sync/reconcile", "reconcile"},
		{"/api/sync/all", "all"},
	} {
		stub := &stubPipeline{}
		code, body := doPost(t, newTestServer(stub), tc.path)
		if code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.path, code)
		}
		if stub.ran != tc.stage {
			t.Fatalf("%s: ran %q, want %q", tc.path, stub.ran, tc.stage)
		}
		if body["ok"] != true {
			t.Fatalf("%s: body %+v", tc.path, body)
		}
		if body["run_id"] == "" || body["run_id"] == nil {
			t.Fatalf("%s: missing run_id: %+v", tc.path, body)
		}
	}
}

func TestTriggerSuccessPayload(t *testing.T) {
	t.Parallel()
	code, body := doPost(t, newTestServer(&stubPipeline{}), "/api/sync/faculty")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("missing result object: %+v", body)
	}
	if result["updated"] != float64(7) {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTriggerStageFailure(t *testing.T) {
	t.Parallel()
	stub := &stubPipeline{err: errors.New("directory unreachable")}
	code, body := doPost(t, newTestServer(stub), "/api/sync/faculty")
	if code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", code)
	}
	if body["ok"] != false {
		t.Fatalf("expected ok=false: %+v", body)
	}
	if body["error"] != "directory unreachable" {
		t.Fatalf("unexpected error field: %+v", body)
	}
	// a run id is attached even to failures so logs can be correlated
	if body["run_id"] == "" || body["run_id"] == nil {
		t.Fatalf("missing run_id: %+v", body)
	}
}

func TestTriggerRunsUnlockedWithoutRedis(t *testing.T) {
	t.Parallel()
	// Rdb nil: two sequential triggers both run, neither sees 423
	stub := &stubPipeline{}
	e := newTestServer(stub)
	for i := 0; i < 2; i++ {
		if code, _ := doPost(t, e, "/api/sync/reconcile"); code != http.StatusOK {
			t.Fatalf("trigger %d: status %d", i, code)
		}
	}
}
