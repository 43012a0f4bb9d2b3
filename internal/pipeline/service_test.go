package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/campusops/facsync/config"
	"github.com/campusops/facsync/internal/courses"
	"github.com/campusops/facsync/internal/directory"
	"github.com/campusops/facsync/internal/identity"
	"github.com/campusops/facsync/internal/store"
)

func testService(t *testing.T, db *sqlmock.Sqlmock, facultyURL, coursesURL string) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Sync = config.SyncConfig{BatchSize: 400, WriteDelay: 0, School: "SLU Business"}
	cfg.Sources.Faculty = config.FacultySourceConfig{
		URL:                  facultyURL,
		SectionSelector:      "a.accordion__toggle",
		SectionTitleSelector: "span.accordion__toggle__text",
		ProfilePattern:       `/business/about/faculty/.*\.php$`,
		IndexLinkMarker:      "directory.php",
		DefaultDepartment:    "SLU Business",
	}
	cfg.Sources.Courses = config.CourseSourceConfig{APIURL: coursesURL}

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	*db = mock

	resolver := identity.NewResolver("slu.edu", []string{"Dr.", "Ph.D."})
	dir, err := directory.New(cfg.Sources.Faculty, resolver)
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}
	return New(cfg, store.New(sqlDB), dir, courses.NewClient(cfg.Sources.Courses, resolver))
}

func expectCollections(mock sqlmock.Sqlmock, teachers, sessions [][2]string) {
	listSQL := regexp.QuoteMeta("SELECT doc_id, data FROM documents WHERE collection=$1 ORDER BY doc_id")

	tRows := sqlmock.NewRows([]string{"doc_id", "data"})
	for _, r := range teachers {
		tRows.AddRow(r[0], []byte(r[1]))
	}
	mock.ExpectQuery(listSQL).WithArgs(store.CollectionTeachers).WillReturnRows(tRows)

	sRows := sqlmock.NewRows([]string{"doc_id", "data"})
	for _, r := range sessions {
		sRows.AddRow(r[0], []byte(r[1]))
	}
	mock.ExpectQuery(listSQL).WithArgs(store.CollectionSessions).WillReturnRows(sRows)
}

var (
	reconcileTeachers = [][2]string{
		{"bob_green_slu_edu", `{"email":"bob.green@slu.edu","fullName":"Bob Green"}`},
		{"maria_lopez_chen_slu_edu", `{"email":"maria.lopez-chen@slu.edu","fullName":"Dr. Maria A. Lopez-Chen"}`},
		{"no_email", `{"fullName":"Broken Record"}`},
	}
	reconcileSessions = [][2]string{
		{"ACCT_1220_01_10001", `{"courseCode":"ACCT 1220","courseTitle":"Intro to Accounting","section":"01","crn":"10001","instructorEmail":"maria.lopez-chen@slu.edu","term":"5243","capacity":30}`},
		{"FINC_3010_02_10002", `{"courseCode":"FINC 3010","courseTitle":"Principles of Finance","section":"02","crn":"10002","instructorEmail":"maria.lopez-chen@slu.edu"}`},
		{"MGMT_2000_03_10003", `{"courseCode":"MGMT 2000","courseTitle":"Management Basics","section":"03","crn":"10003","instructorEmail":"ghost@slu.edu"}`},
		{"ECON_1900_04_10004", `{"courseCode":"ECON 1900","courseTitle":"Micro","section":"04","crn":"10004","instructorEmail":""}`},
	}
)

func expectedAssignmentsPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(assignmentsDoc{
		TeachingSessions: []Assignment{
			{CourseCode: "ACCT 1220", CourseTitle: "Intro to Accounting", Section: "01", CRN: "10001", Term: "5243", Capacity: 30},
			{CourseCode: "FINC 3010", CourseTitle: "Principles of Finance", Section: "02", CRN: "10002"},
		},
		TotalSessions: 2,
	})
	if err != nil {
		t.Fatalf("marshal expected payload: %v", err)
	}
	return payload
}

func TestReconcile(t *testing.T) {
	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, "", "")

	expectCollections(mock, reconcileTeachers, reconcileSessions)
	// only the matched teacher is written: the unknown email (ghost) and
	// the empty email contribute nothing and create no faculty record
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(store.CollectionTeachers, "maria_lopez_chen_slu_edu", expectedAssignmentsPayload(t)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Teachers != 1 || res.Assignments != 2 || res.Cleared != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, "", "")

	// two runs over unchanged inputs produce byte-identical writes
	for i := 0; i < 2; i++ {
		expectCollections(mock, reconcileTeachers, reconcileSessions)
		mock.ExpectExec("INSERT INTO documents").
			WithArgs(store.CollectionTeachers, "maria_lopez_chen_slu_edu", expectedAssignmentsPayload(t)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Reconcile(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReconcileClearsWhenConfigured(t *testing.T) {
	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, "", "")
	svc.cfg.Sync.ClearAssignmentsBeforeWrite = true

	expectCollections(mock,
		[][2]string{{"bob_green_slu_edu", `{"email":"bob.green@slu.edu"}`}},
		nil)

	emptyPayload, _ := json.Marshal(assignmentsDoc{TeachingSessions: []Assignment{}, TotalSessions: 0})
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(store.CollectionTeachers, "bob_green_slu_edu", emptyPayload).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Cleared != 1 || res.Teachers != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

const facultyPage = `<html><body>
<div class="accordion__item">
  <a class="accordion__toggle" href="#"><span class="accordion__toggle__text">Accounting</span></a>
  <div><a href="/business/about/faculty/jdoe.php">Jane Doe</a>
       <a href="/business/about/faculty/bgreen.php">Bob Green</a></div>
</div>
</body></html>`

func TestSyncFaculty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(facultyPage))
	}))
	defer srv.Close()

	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, srv.URL, "")

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(store.CollectionTeachers, "jane_doe_slu_edu", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(store.CollectionTeachers, "bob_green_slu_edu", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := svc.SyncFaculty(context.Background())
	if err != nil {
		t.Fatalf("SyncFaculty: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSyncFacultyMissingURL(t *testing.T) {
	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, "", "")

	if _, err := svc.SyncFaculty(context.Background()); err != directory.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSyncCoursesNoDataIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, "", srv.URL)

	res, err := svc.SyncCourses(context.Background())
	if err != nil {
		t.Fatalf("SyncCourses: %v", err)
	}
	if res.Sessions != 0 || res.Courses != 0 || res.Batches != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSyncCoursesWritesSessionsAndCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"code":"ACCT 1220","title":"Intro to Accounting","instr":"Jane Doe","section":"01","crn":"10001"},
			{"code":"ACCT 1220","title":"Intro to Accounting","instr":"Bob Green","section":"02","crn":"10002"}
		]}`))
	}))
	defer srv.Close()

	var mock sqlmock.Sqlmock
	svc := testService(t, &mock, "", srv.URL)

	// one batch of sessions, one batch with the single folded catalog course
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.SyncCourses(context.Background())
	if err != nil {
		t.Fatalf("SyncCourses: %v", err)
	}
	if res.Sessions != 2 || res.Courses != 1 || res.Batches != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
