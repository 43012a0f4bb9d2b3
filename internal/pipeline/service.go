// Package pipeline sequences the sync stages: faculty extraction, course
// extraction and the reconciliation join. Stages run to completion one at
// a time within an invocation; every run re-reads its inputs fresh.
package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/campusops/facsync/config"
	"github.com/campusops/facsync/internal/courses"
	"github.com/campusops/facsync/internal/directory"
	"github.com/campusops/facsync/internal/docid"
	"github.com/campusops/facsync/internal/store"
)

// Service wires the extractors to the store.
type Service struct {
	cfg       *config.Config
	store     *store.Store
	directory *directory.Extractor
	courses   *courses.Client
	logger    *log.Logger
}

// New builds a Service. All collaborators are passed in; the service holds
// no process-wide state.
func New(cfg *config.Config, st *store.Store, dir *directory.Extractor, cli *courses.Client) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		directory: dir,
		courses:   cli,
		logger:    log.New(log.Writer(), "[SYNC] ", log.LstdFlags),
	}
}

// teacherDoc is the persisted shape of a faculty record.
type teacherDoc struct {
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	Department string `json:"department"`
	School     string `json:"school"`
	Source     string `json:"source"`
}

// SyncFaculty extracts the directory and upserts one teacher record at a
// time, pausing between writes as a rate-limiting courtesy. Returns the
// number of records written.
func (s *Service) SyncFaculty(ctx context.Context) (int, error) {
	recs, err := s.directory.Fetch(ctx)
	if err != nil {
		stageFailures.WithLabelValues("faculty").Inc()
		return 0, err
	}

	count := 0
	for _, rec := range recs {
		if count > 0 {
			if err := pause(ctx, s.cfg.Sync.WriteDelay); err != nil {
				return count, err
			}
		}
		doc := teacherDoc{
			Email:      rec.Email,
			FullName:   rec.FullName,
			Department: rec.Department,
			School:     s.cfg.Sync.School,
			Source:     "scrape",
		}
		if err := s.store.Upsert(ctx, store.CollectionTeachers, docid.Teacher(rec.Email), doc); err != nil {
			stageFailures.WithLabelValues("faculty").Inc()
			return count, err
		}
		count++
		facultyWritten.Inc()
	}
	s.logger.Printf("faculty sync complete: %d records", count)
	return count, nil
}

// CoursesResult reports what a course sync wrote.
type CoursesResult struct {
	Sessions int `json:"sessions"`
	Courses  int `json:"courses"`
	Batches  int `json:"batches"`
}

// SyncCourses pulls the full catalog from the search API, upserts session
// records batch-wise, then folds and upserts the deduplicated catalog.
// Zero results from the API is reported as empty, never as an error.
func (s *Service) SyncCourses(ctx context.Context) (CoursesResult, error) {
	sessions := s.courses.FetchSessions(ctx, nil)
	if len(sessions) == 0 {
		s.logger.Printf("course sync: no session data returned")
		return CoursesResult{}, nil
	}

	sessionDocs := make([]store.Document, 0, len(sessions))
	for _, sess := range sessions {
		sessionDocs = append(sessionDocs, store.Document{
			ID:   docid.Session(sess.CourseCode, sess.Section, sess.CRN),
			Data: sess,
		})
	}
	res := CoursesResult{Sessions: len(sessions)}
	b, err := s.store.UpsertBatch(ctx, store.CollectionSessions, sessionDocs, s.cfg.Sync.BatchSize)
	res.Batches += b
	if err != nil {
		stageFailures.WithLabelValues("courses").Inc()
		return res, err
	}
	sessionsWritten.Add(float64(len(sessionDocs)))

	catalog := courses.FoldCatalog(sessions, s.cfg.Sync.School)
	catalogDocs := make([]store.Document, 0, len(catalog))
	for _, c := range catalog {
		catalogDocs = append(catalogDocs, store.Document{
			ID:   docid.CatalogCourse(c.Code, c.Title),
			Data: c,
		})
	}
	res.Courses = len(catalog)
	b, err = s.store.UpsertBatch(ctx, store.CollectionCatalog, catalogDocs, s.cfg.Sync.BatchSize)
	res.Batches += b
	if err != nil {
		stageFailures.WithLabelValues("courses").Inc()
		return res, err
	}
	catalogWritten.Add(float64(len(catalogDocs)))

	s.logger.Printf("course sync complete: %d sessions, %d catalog courses, %d batches", res.Sessions, res.Courses, res.Batches)
	return res, nil
}

// Assignment is one session summary attached to a teacher record.
type Assignment struct {
	CourseCode   string `json:"courseCode"`
	CourseTitle  string `json:"courseTitle"`
	Section      string `json:"section"`
	CRN          string `json:"crn"`
	Term         string `json:"term"`
	MeetingTimes string `json:"meetingTimes"`
	Capacity     int    `json:"capacity"`
}

type assignmentsDoc struct {
	TeachingSessions []Assignment `json:"teachingSessions"`
	TotalSessions    int          `json:"totalSessions"`
}

// ReconcileResult reports the outcome of a reconciliation run.
type ReconcileResult struct {
	Teachers    int `json:"teachers"`
	Assignments int `json:"assignments"`
	Cleared     int `json:"cleared"`
	Batches     int `json:"batches"`
}

// Reconcile joins stored faculty with stored sessions by inferred email
// and writes a teaching-load summary onto each matched teacher record.
// The email is a soft foreign key: sessions with an empty or unknown email
// contribute to no teacher. Re-running over unchanged data writes
// identical output. Teachers with zero matched sessions are left untouched
// unless clear_assignments_before_write is set, in which case their
// teachingSessions are wiped.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	teachers, err := s.store.List(ctx, store.CollectionTeachers)
	if err != nil {
		stageFailures.WithLabelValues("reconcile").Inc()
		return ReconcileResult{}, err
	}
	sessions, err := s.store.List(ctx, store.CollectionSessions)
	if err != nil {
		stageFailures.WithLabelValues("reconcile").Inc()
		return ReconcileResult{}, err
	}

	type accumulator struct {
		docID       string
		assignments []Assignment
	}
	var accs []*accumulator
	byEmail := make(map[string]*accumulator, len(teachers))
	for _, t := range teachers {
		var doc struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(t.Data, &doc); err != nil || doc.Email == "" {
			continue
		}
		acc := &accumulator{docID: t.ID}
		accs = append(accs, acc)
		byEmail[strings.ToLower(doc.Email)] = acc
	}

	for _, raw := range sessions {
		var sess courses.Session
		if err := json.Unmarshal(raw.Data, &sess); err != nil {
			continue
		}
		if sess.InstructorEmail == "" {
			continue
		}
		acc, ok := byEmail[strings.ToLower(sess.InstructorEmail)]
		if !ok {
			continue
		}
		acc.assignments = append(acc.assignments, Assignment{
			CourseCode:   sess.CourseCode,
			CourseTitle:  sess.CourseTitle,
			Section:      sess.Section,
			CRN:          sess.CRN,
			Term:         sess.Term,
			MeetingTimes: sess.MeetingTimes,
			Capacity:     sess.Capacity,
		})
	}

	var res ReconcileResult
	var writes []store.Document
	for _, acc := range accs {
		switch {
		case len(acc.assignments) > 0:
			writes = append(writes, store.Document{
				ID:   acc.docID,
				Data: assignmentsDoc{TeachingSessions: acc.assignments, TotalSessions: len(acc.assignments)},
			})
			res.Teachers++
			res.Assignments += len(acc.assignments)
		case s.cfg.Sync.ClearAssignmentsBeforeWrite:
			writes = append(writes, store.Document{
				ID:   acc.docID,
				Data: assignmentsDoc{TeachingSessions: []Assignment{}, TotalSessions: 0},
			})
			res.Cleared++
		}
	}

	b, err := s.store.UpsertBatch(ctx, store.CollectionTeachers, writes, s.cfg.Sync.BatchSize)
	res.Batches = b
	if err != nil {
		stageFailures.WithLabelValues("reconcile").Inc()
		return res, err
	}
	assignmentsWritten.Add(float64(res.Assignments))

	s.logger.Printf("reconcile complete: %d teachers, %d assignments, %d cleared", res.Teachers, res.Assignments, res.Cleared)
	return res, nil
}

// RunAllResult aggregates a full pipeline run.
type RunAllResult struct {
	Faculty   int             `json:"faculty"`
	Courses   CoursesResult   `json:"courses"`
	Reconcile ReconcileResult `json:"reconcile"`
}

// RunAll runs faculty sync, course sync and reconciliation in sequence,
// stopping at the first stage error.
func (s *Service) RunAll(ctx context.Context) (RunAllResult, error) {
	var res RunAllResult
	var err error
	if res.Faculty, err = s.SyncFaculty(ctx); err != nil {
		return res, err
	}
	if res.Courses, err = s.SyncCourses(ctx); err != nil {
		return res, err
	}
	if res.Reconcile, err = s.Reconcile(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
