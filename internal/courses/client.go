// Package courses pulls course sessions from the university course-search
// API and folds them into a deduplicated catalog. The API is uncontrolled:
// fetch or parse failures degrade to an empty result set, never an error,
// so callers can fall back to a narrower query or report no data.
package courses

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/campusops/facsync/config"
	"github.com/campusops/facsync/internal/identity"
)

// Session is one (course, section, instructor) teaching assignment. A
// result with several instructors yields one Session per instructor.
// Fields absent from the source payload stay empty so the record shape is
// uniform across terms.
type Session struct {
	CourseCode      string `json:"courseCode"`
	CourseTitle     string `json:"courseTitle"`
	Department      string `json:"department"`
	Section         string `json:"section"`
	CRN             string `json:"crn"`
	InstructorName  string `json:"instructorName"`
	InstructorEmail string `json:"instructorEmail"`
	MeetingTimes    string `json:"meetingTimes"`
	Capacity        int    `json:"capacity"`
	Status          string `json:"status"`
	Term            string `json:"term"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	ScheduleType    string `json:"scheduleType"`
	Campus          string `json:"campus"`
}

// Criterion is one search filter; an empty criteria list requests the full
// catalog.
type Criterion struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type searchRequest struct {
	Other    searchOther `json:"other"`
	Criteria []Criterion `json:"criteria"`
}

type searchOther struct {
	SrcDB string `json:"srcdb"`
}

type searchResponse struct {
	Results []result `json:"results"`
}

// result mirrors the API's per-session record. Section number arrives as
// either "section" or "no" depending on term database.
type result struct {
	Code         string  `json:"code"`
	Title        string  `json:"title"`
	Instr        string  `json:"instr"`
	Section      string  `json:"section"`
	No           string  `json:"no"`
	CRN          string  `json:"crn"`
	MeetingTimes string  `json:"meetingTimes"`
	Total        flexInt `json:"total"`
	Stat         string  `json:"stat"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	Schd         string  `json:"schd"`
	CampusCode   string  `json:"campus_code"`
}

// flexInt tolerates the API emitting counts as numbers, quoted numbers or
// empty strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

var deptRe = regexp.MustCompile(`^[A-Z]+`)

// Client queries the course-search API.
type Client struct {
	cfg      config.CourseSourceConfig
	resolver *identity.Resolver
	client   *http.Client
	logger   *log.Logger
}

// NewClient builds a Client using the configured endpoint and timeout.
func NewClient(cfg config.CourseSourceConfig, resolver *identity.Resolver) *Client {
	return &Client{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   log.New(log.Writer(), "[COURSES] ", log.LstdFlags),
	}
}

// FetchSessions POSTs a search and extracts one session per (result,
// instructor) pair. Any failure is logged and yields an empty list; zero
// results is a valid steady state, not an error.
func (c *Client) FetchSessions(ctx context.Context, criteria []Criterion) []Session {
	if criteria == nil {
		criteria = []Criterion{}
	}
	payload, err := json.Marshal(searchRequest{Other: searchOther{SrcDB: c.cfg.SrcDB}, Criteria: criteria})
	if err != nil {
		c.logger.Printf("marshal search request: %v", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		c.logger.Printf("build search request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Printf("course search failed: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("course search failed: unexpected status %s", resp.Status)
		return nil
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		c.logger.Printf("decode course search response: %v", err)
		return nil
	}

	sessions := c.extract(sr.Results)
	c.logger.Printf("extracted %d sessions from %d results", len(sessions), len(sr.Results))
	return sessions
}

// extract normalizes raw results into Sessions.
func (c *Client) extract(results []result) []Session {
	var sessions []Session
	for _, r := range results {
		base := Session{
			CourseCode:   r.Code,
			CourseTitle:  r.Title,
			Department:   department(r.Code),
			Section:      section(r),
			CRN:          r.CRN,
			MeetingTimes: r.MeetingTimes,
			Capacity:     int(r.Total),
			Status:       r.Stat,
			Term:         c.cfg.SrcDB,
			StartDate:    r.StartDate,
			EndDate:      r.EndDate,
			ScheduleType: r.Schd,
			Campus:       r.CampusCode,
		}

		names := instructors(r.Instr)
		if len(names) == 0 {
			// no named instructor: keep the session under a synthetic
			// "Staff" entry, no email resolution attempted
			s := base
			s.InstructorName = "Staff"
			sessions = append(sessions, s)
			continue
		}
		for _, name := range names {
			s := base
			s.InstructorName = name
			if email, ok := c.resolver.Resolve(name); ok {
				s.InstructorEmail = email
			}
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// department is the leading run of uppercase letters in the course code.
func department(code string) string {
	if m := deptRe.FindString(code); m != "" {
		return m
	}
	return "UNKNOWN"
}

func section(r result) string {
	if r.Section != "" {
		return r.Section
	}
	return r.No
}

// instructors splits the raw instr field on "/" and drops sentinel values.
func instructors(raw string) []string {
	var names []string
	for _, piece := range strings.Split(raw, "/") {
		piece = strings.TrimSpace(piece)
		if piece == "" || identity.IsSentinel(piece) {
			continue
		}
		names = append(names, piece)
	}
	return names
}
