package courses

// CatalogCourse is a section-agnostic course identity: many sessions fold
// into one catalog entry keyed by (code, title).
type CatalogCourse struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	Department string `json:"dept"`
	School     string `json:"school"`
	Source     string `json:"source"`
}

// FoldCatalog reduces sessions to unique catalog courses, first seen wins,
// preserving encounter order. Idempotent: folding an already-unique list
// changes nothing.
func FoldCatalog(sessions []Session, school string) []CatalogCourse {
	seen := make(map[string]struct{}, len(sessions))
	var catalog []CatalogCourse
	for _, s := range sessions {
		key := s.CourseCode + "|" + s.CourseTitle
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		catalog = append(catalog, CatalogCourse{
			Code:       s.CourseCode,
			Title:      s.CourseTitle,
			Department: s.Department,
			School:     school,
			Source:     "catalog",
		})
	}
	return catalog
}
