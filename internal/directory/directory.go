// Package directory extracts faculty records from the institution's
// directory page. The markup is uncontrolled, so extraction runs an
// ordered list of strategies and keeps the first non-empty result:
// department-section parsing first, then a whole-document link scan with a
// default department.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/campusops/facsync/config"
	"github.com/campusops/facsync/internal/identity"
)

// ErrNotConfigured is returned before any network call when the directory
// URL is missing.
var ErrNotConfigured = errors.New("faculty directory url not configured")

// Record is one extracted faculty member. Email is inferred from the
// visible name, not read from the page.
type Record struct {
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	Department string `json:"department"`
}

// Strategy turns a parsed document into faculty records. Strategies are
// pure with respect to the document and safe to test in isolation.
type Strategy func(doc *goquery.Document) []Record

// Extractor fetches and parses the faculty directory.
type Extractor struct {
	cfg       config.FacultySourceConfig
	resolver  *identity.Resolver
	client    *http.Client
	logger    *log.Logger
	profileRe *regexp.Regexp
}

// New builds an Extractor. The profile pattern from config is compiled
// once here; an invalid pattern is a configuration error.
func New(cfg config.FacultySourceConfig, resolver *identity.Resolver) (*Extractor, error) {
	profileRe, err := regexp.Compile(cfg.ProfilePattern)
	if err != nil {
		return nil, fmt.Errorf("compile profile pattern: %w", err)
	}
	return &Extractor{
		cfg:       cfg,
		resolver:  resolver,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    log.New(log.Writer(), "[FACULTY] ", log.LstdFlags),
		profileRe: profileRe,
	}, nil
}

// Fetch downloads the directory page and extracts faculty records. A
// missing URL fails before any network call; a fetch error or non-2xx
// response propagates to the caller.
func (e *Extractor) Fetch(ctx context.Context) ([]Record, error) {
	if strings.TrimSpace(e.cfg.URL) == "" {
		return nil, ErrNotConfigured
	}
	e.logger.Printf("fetching faculty directory from %s", e.cfg.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch faculty directory: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch faculty directory: unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse faculty directory: %w", err)
	}
	recs := e.Extract(doc)
	e.logger.Printf("extracted %d faculty with emails", len(recs))
	return recs, nil
}

// Extract runs the strategies in order and returns the first non-empty
// result set.
func (e *Extractor) Extract(doc *goquery.Document) []Record {
	for _, s := range e.Strategies() {
		if recs := s(doc); len(recs) > 0 {
			return recs
		}
	}
	return nil
}

// Strategies returns the extraction strategies in priority order.
func (e *Extractor) Strategies() []Strategy {
	return []Strategy{e.extractBySection, e.extractAnywhere}
}

// extractBySection walks collapsible department sections and collects the
// person-profile links inside each one.
func (e *Extractor) extractBySection(doc *goquery.Document) []Record {
	c := newCollector(e.resolver)
	doc.Find(e.cfg.SectionSelector).Each(func(_ int, toggle *goquery.Selection) {
		dept := cleanText(toggle.Find(e.cfg.SectionTitleSelector).Text())
		if dept == "" {
			return
		}
		section := toggle.Parent()
		before := len(c.records)
		section.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			e.collectLink(c, a, dept)
		})
		e.logger.Printf("department %q: %d faculty", dept, len(c.records)-before)
	})
	return c.records
}

// extractAnywhere scans the whole document for profile links, ignoring
// department grouping. Only used when section parsing found nothing.
func (e *Extractor) extractAnywhere(doc *goquery.Document) []Record {
	e.logger.Printf("section parsing found nothing, falling back to whole-document scan")
	c := newCollector(e.resolver)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		e.collectLink(c, a, e.cfg.DefaultDepartment)
	})
	return c.records
}

func (e *Extractor) collectLink(c *collector, a *goquery.Selection, dept string) {
	href, _ := a.Attr("href")
	if href == "" || !e.profileRe.MatchString(href) {
		return
	}
	if e.cfg.IndexLinkMarker != "" && strings.Contains(href, e.cfg.IndexLinkMarker) {
		return
	}
	c.add(cleanText(a.Text()), dept)
}

// collector deduplicates records by inferred email, first seen wins, and
// preserves insertion order.
type collector struct {
	resolver *identity.Resolver
	seen     map[string]struct{}
	records  []Record
}

func newCollector(resolver *identity.Resolver) *collector {
	return &collector{resolver: resolver, seen: map[string]struct{}{}}
}

func (c *collector) add(fullName, dept string) {
	if fullName == "" || identity.IsSentinel(fullName) {
		return
	}
	email, ok := c.resolver.Resolve(fullName)
	if !ok {
		return
	}
	if _, dup := c.seen[email]; dup {
		return
	}
	c.seen[email] = struct{}{}
	c.records = append(c.records, Record{Email: email, FullName: fullName, Department: dept})
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
