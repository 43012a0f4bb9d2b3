// Package docid encodes deterministic document ids for the store
// collections. The encoding rules live here once, not per collection:
// ids are restricted to [A-Za-z0-9_-], everything else becomes "_", and
// ids are truncated to MaxLen bytes.
package docid

import (
	"regexp"
	"strings"
)

// MaxLen bounds every generated id.
const MaxLen = 500

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]`)
	unsafe   = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)
)

// Teacher derives the teachers_dir id from an email address: lower-cased
// with every non-alphanumeric character replaced by "_".
func Teacher(email string) string {
	return truncate(nonAlnum.ReplaceAllString(strings.ToLower(email), "_"))
}

// CatalogCourse derives the courses_catalog id, e.g. "ACCT_1220__Intro_to_Accounting".
func CatalogCourse(code, title string) string {
	raw := strings.ReplaceAll(code, " ", "_") + "__" + title
	return truncate(unsafe.ReplaceAllString(raw, "_"))
}

// Session derives the course_sessions id from the session identity key.
func Session(code, section, crn string) string {
	raw := strings.ReplaceAll(code, " ", "_") + "_" + section + "_" + crn
	return truncate(unsafe.ReplaceAllString(raw, "_"))
}

func truncate(s string) string {
	if len(s) > MaxLen {
		return s[:MaxLen]
	}
	return s
}
