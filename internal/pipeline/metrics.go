package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	facultyWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facsync_faculty_records_total",
		Help: "Faculty records written to the store.",
	})
	sessionsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facsync_course_sessions_total",
		Help: "Course sessions written to the store.",
	})
	catalogWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facsync_catalog_courses_total",
		Help: "Catalog courses written to the store.",
	})
	assignmentsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facsync_teaching_assignments_total",
		Help: "Teaching assignments written during reconciliation.",
	})
	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facsync_stage_failures_total",
		Help: "Pipeline stage failures by stage.",
	}, []string{"stage"})
)
