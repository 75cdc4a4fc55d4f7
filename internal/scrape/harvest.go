package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	appLog "coursecal/internal/log"
)

const (
	// DefaultCourseTimeout bounds one course page harvest. The remote
	// site can take tens of seconds to settle.
	DefaultCourseTimeout = 45 * time.Second
)

// RemoteCourse is a course as enumerated on the remote site.
type RemoteCourse struct {
	ID   string
	Name string
	URL  string
}

// HarvestOptions configures the chromedp-backed harvester.
type HarvestOptions struct {
	// BaseURL is the remote site root, e.g. "https://lms.example.edu".
	BaseURL string
	// CourseTimeout bounds each per-course harvest. Zero means
	// DefaultCourseTimeout.
	CourseTimeout time.Duration
}

// Harvester drives a headless browser over the remote course site and
// extracts raw event tuples. Selector-based extraction is brittle by
// nature; a site-structure change surfaces as zero tuples, which the
// sync layer treats as ambiguous rather than as deletion intent.
type Harvester struct {
	opts HarvestOptions
}

func NewHarvester(opts HarvestOptions) *Harvester {
	if opts.CourseTimeout <= 0 {
		opts.CourseTimeout = DefaultCourseTimeout
	}
	return &Harvester{opts: opts}
}

// scrapedCourse mirrors the JS extraction shape for the course list.
type scrapedCourse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// scrapedItem mirrors the JS extraction shape for one event row.
type scrapedItem struct {
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	DueText  string `json:"dueText"`
	DueStamp string `json:"dueStamp"`
}

const extractCoursesJS = `
Array.from(document.querySelectorAll('[data-course-id], .course-card, .course-list-item')).map(el => ({
  id: el.getAttribute('data-course-id') || '',
  name: (el.querySelector('.course-name, h3, a') || el).textContent.trim(),
  url: (el.querySelector('a') || {href: ''}).href
})).filter(c => c.id !== '' || c.url !== '')
`

const extractEventsJS = `
Array.from(document.querySelectorAll('.assignment, .event, [data-due-date], .todo-item')).map(el => ({
  title: (el.querySelector('.title, .name, a, h4') || el).textContent.trim(),
  desc: (el.querySelector('.description, .details') || {textContent: ''}).textContent.trim(),
  dueText: (el.querySelector('.due-date, .due, time') || {textContent: ''}).textContent.trim(),
  dueStamp: el.getAttribute('data-due-date') || ((el.querySelector('time') || {getAttribute: () => ''}).getAttribute('datetime') || '')
})).filter(i => i.title !== '')
`

// Courses navigates to the dashboard and enumerates the user's courses.
// credentialsOpaque is an opaque session token applied as a cookie; the
// credential protocol itself is not this package's concern.
func (h *Harvester) Courses(ctx context.Context, credentialsOpaque string) ([]RemoteCourse, error) {
	if h.opts.BaseURL == "" {
		return nil, fmt.Errorf("harvest: BaseURL is required")
	}

	cctx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, h.opts.CourseTimeout)
	defer timeoutCancel()

	var raw []scrapedCourse
	tasks := chromedp.Tasks{
		chromedp.Navigate(h.opts.BaseURL),
		applySession(credentialsOpaque),
		chromedp.Navigate(h.opts.BaseURL + "/courses"),
		chromedp.WaitReady("body"),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(extractCoursesJS, &raw),
	}
	if err := chromedp.Run(cctx, tasks); err != nil {
		return nil, fmt.Errorf("harvest: course enumeration failed: %w", err)
	}

	out := make([]RemoteCourse, 0, len(raw))
	for _, c := range raw {
		id := c.ID
		if id == "" {
			id = courseIDFromURL(c.URL)
		}
		if id == "" || c.Name == "" {
			continue
		}
		out = append(out, RemoteCourse{ID: id, Name: c.Name, URL: c.URL})
	}

	appLog.Info("harvest courses completed", "count", len(out))
	return out, nil
}

// Events harvests all live event tuples for one course. The caller
// wraps this in a per-course timeout; a timeout or navigation failure
// returns an error and no tuples.
func (h *Harvester) Events(ctx context.Context, course RemoteCourse) ([]RawTuple, error) {
	url := course.URL
	if url == "" {
		url = h.opts.BaseURL + "/courses/" + course.ID
	}

	cctx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, h.opts.CourseTimeout)
	defer timeoutCancel()

	var raw []scrapedItem
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(extractEventsJS, &raw),
	}
	if err := chromedp.Run(cctx, tasks); err != nil {
		return nil, fmt.Errorf("harvest: course %s failed: %w", course.ID, err)
	}

	tuples := make([]RawTuple, 0, len(raw))
	for _, item := range raw {
		tuple := RawTuple{
			Title:       item.Title,
			Description: item.Desc,
			DueDateText: item.DueText,
			CourseID:    course.ID,
			CourseName:  course.Name,
		}
		if item.DueStamp != "" {
			if t, err := time.Parse(time.RFC3339, item.DueStamp); err == nil {
				tuple.DueDateStamp = &t
			}
		}
		tuples = append(tuples, tuple)
	}

	appLog.Info("harvest events completed", "course", course.ID, "count", len(tuples))
	return tuples, nil
}

// applySession installs the opaque session credential as a cookie on
// the current origin.
func applySession(credentialsOpaque string) chromedp.Action {
	if strings.TrimSpace(credentialsOpaque) == "" {
		return chromedp.Sleep(0)
	}
	script := fmt.Sprintf("document.cookie = %q", "session="+credentialsOpaque)
	return chromedp.Evaluate(script, nil)
}

func courseIDFromURL(url string) string {
	i := strings.LastIndex(url, "/courses/")
	if i == -1 {
		return ""
	}
	id := url[i+len("/courses/"):]
	if j := strings.IndexAny(id, "/?#"); j != -1 {
		id = id[:j]
	}
	return id
}
