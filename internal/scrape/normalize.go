// Package scrape converts what the remote-site harvester extracts into
// canonical event drafts. The harvester side (chromedp) is deliberately
// thin and swappable; everything reconciliation relies on lives in the
// normalizer contract.
package scrape

import (
	"strings"
	"time"

	"coursecal/internal/classify"
	appLog "coursecal/internal/log"
	"coursecal/internal/model"
)

// RawTuple is one harvested entry. Nothing beyond Title is guaranteed:
// the remote markup is heterogeneous and selector extraction is
// best-effort.
type RawTuple struct {
	Title       string
	Description string
	// DueDateText is free-form date text scraped from the page.
	DueDateText string
	// DueDateStamp is set when the markup carried a machine-readable
	// timestamp attribute; it is preferred over DueDateText.
	DueDateStamp *time.Time
	CourseID     string
	CourseName   string
}

// Normalize converts a harvested tuple into an event draft.
//
// Scraped events are always all-day (the source exposes no reliable
// time-of-day), carry no document identifier (identity is computed by
// the reconcile engine from content), and never fail on a bad date:
// an unparsable date falls back to now, a known-degraded case.
func Normalize(tuple RawTuple, now time.Time) model.EventDraft {
	due := resolveDueDate(tuple, now)

	return model.EventDraft{
		Title:         strings.TrimSpace(tuple.Title),
		Description:   strings.TrimSpace(tuple.Description),
		StartDate:     due,
		EndDate:       due,
		EventType:     classify.Type(tuple.Title, tuple.Description),
		IsAllDay:      true,
		RawSourceData: "TITLE=" + tuple.Title + " DUE=" + tuple.DueDateText,
	}
}

func resolveDueDate(tuple RawTuple, now time.Time) time.Time {
	if tuple.DueDateStamp != nil && !tuple.DueDateStamp.IsZero() {
		return *tuple.DueDateStamp
	}
	if due, ok := parseFreeTextDate(tuple.DueDateText, now); ok {
		return due
	}
	appLog.Warn("unparsable scrape date, falling back to now",
		"course", tuple.CourseID, "title", tuple.Title, "due_text", tuple.DueDateText)
	return now
}

// dateLayouts is tried in order against the cleaned-up date text.
// Year-less layouts come last; their result gets the current year.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2, 2006 3:04pm",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"Monday, January 2, 2006",
	"2 Jan 2006",
	"01/02/2006",
	"Jan 2 3:04pm",
	"Jan 2",
	"January 2",
}

// parseFreeTextDate attempts a best-effort parse of scraped date text
// such as "Due: Mar 15 at 11:59pm".
func parseFreeTextDate(text string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}

	// Strip common prefixes and connective words the site decorates
	// dates with.
	lower := strings.ToLower(s)
	for _, prefix := range []string{"due:", "due ", "deadline:", "closes:"} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	s = strings.ReplaceAll(s, " at ", " ")
	s = strings.ReplaceAll(s, " AT ", " ")

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			// Year-less layout: pin to the current year.
			t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
		}
		return t, true
	}
	return time.Time{}, false
}
