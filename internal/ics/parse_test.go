package ics

import (
	"strings"
	"testing"
	"time"

	"coursecal/internal/model"
)

// lines joins ICS content lines with CRLF as the format requires.
func lines(l ...string) string {
	return strings.Join(l, "\r\n") + "\r\n"
}

func vevent(body ...string) []string {
	out := []string{"BEGIN:VEVENT"}
	out = append(out, body...)
	out = append(out, "END:VEVENT")
	return out
}

func calendar(events ...[]string) string {
	l := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//coursecal//test//EN"}
	for _, ev := range events {
		l = append(l, ev...)
	}
	l = append(l, "END:VCALENDAR")
	return lines(l...)
}

func TestParseBasicDocument(t *testing.T) {
	doc := calendar(
		vevent(
			"UID:ev-1@school.edu",
			"SUMMARY:Homework 3",
			"DESCRIPTION:Submit via portal",
			"LOCATION:Room 204",
			"DTSTART:20240310T120000Z",
			"DTEND:20240310T130000Z",
		),
		vevent(
			"UID:ev-2@school.edu",
			"SUMMARY:Midterm Exam",
			"DTSTART:20240315T090000Z",
			"DTEND:20240315T110000Z",
		),
	)

	res := Parse(doc, "course-1", "Math 101", "math.ics")
	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Events))
	}

	first := res.Events[0]
	if first.ID != "ev-1@school.edu" {
		t.Errorf("unexpected id %q", first.ID)
	}
	if first.Title != "Homework 3" || first.Location != "Room 204" {
		t.Errorf("unexpected fields: %+v", first)
	}
	if first.EventType != model.TypeAssignment {
		t.Errorf("expected assignment, got %s", first.EventType)
	}
	wantStart := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	if !first.StartDate.Equal(wantStart) {
		t.Errorf("start = %v, want %v", first.StartDate, wantStart)
	}
	if first.IsAllDay {
		t.Error("timed event wrongly detected as all-day")
	}

	if res.Events[1].EventType != model.TypeExam {
		t.Errorf("expected exam, got %s", res.Events[1].EventType)
	}
}

func TestParseUnreadableDocument(t *testing.T) {
	res := Parse("this is not a calendar", "course-1", "Math", "junk.txt")
	if res.Success {
		t.Fatal("expected failure for unreadable document")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly one document-level error, got %v", res.Errors)
	}
	if len(res.Events) != 0 {
		t.Fatalf("no events expected, got %d", len(res.Events))
	}
}

func TestParseEmptyDocumentIsWarning(t *testing.T) {
	res := Parse(calendar(), "course-1", "Math", "empty.ics")
	if res.Success {
		t.Fatal("success must be false when nothing was imported")
	}
	if len(res.Errors) != 0 {
		t.Fatalf("empty document is not an error: %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", res.Warnings)
	}
}

func TestParseSkipsMalformedEntry(t *testing.T) {
	good := func(uid string) []string {
		return vevent(
			"UID:"+uid,
			"SUMMARY:Quiz",
			"DTSTART:20240310T120000Z",
			"DTEND:20240310T130000Z",
		)
	}
	// Entry 3 has no DTSTART at all.
	bad := vevent("UID:broken", "SUMMARY:Mystery")

	doc := calendar(good("a"), good("b"), bad, good("c"), good("d"))
	res := Parse(doc, "course-1", "Math", "mixed.ics")

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if len(res.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(res.Events))
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly one entry error, got %v", res.Errors)
	}
	if !strings.Contains(res.Errors[0], "entry 3") {
		t.Errorf("error should reference ordinal 3: %q", res.Errors[0])
	}
}

func TestParseMintsIDWhenUIDMissing(t *testing.T) {
	doc := calendar(vevent(
		"SUMMARY:Orphan",
		"DTSTART:20240310T120000Z",
		"DTEND:20240310T130000Z",
	))
	res := Parse(doc, "course-1", "Math", "a.ics")
	if !res.Success || len(res.Events) != 1 {
		t.Fatalf("parse failed: %+v", res)
	}
	if res.Events[0].ID == "" {
		t.Error("expected a minted id for UID-less entry")
	}
}

func TestParseAllDayDetection(t *testing.T) {
	doc := calendar(vevent(
		"UID:ad-1",
		"SUMMARY:Project Due",
		"DTSTART;VALUE=DATE:20240310",
		"DTEND;VALUE=DATE:20240311",
	))
	res := Parse(doc, "course-1", "Math", "a.ics")
	if !res.Success || len(res.Events) != 1 {
		t.Fatalf("parse failed: %+v", res)
	}
	if !res.Events[0].IsAllDay {
		t.Error("DATE-valued entry should be all-day")
	}
}

func TestParseEndBeforeStartDegrades(t *testing.T) {
	doc := calendar(vevent(
		"UID:rev-1",
		"SUMMARY:Weird",
		"DTSTART:20240310T120000Z",
		"DTEND:20240310T090000Z",
	))
	res := Parse(doc, "course-1", "Math", "a.ics")
	if !res.Success || len(res.Events) != 1 {
		t.Fatalf("parse failed: %+v", res)
	}
	ev := res.Events[0]
	if !ev.EndDate.Equal(ev.StartDate) {
		t.Errorf("end before start should collapse to start; start=%v end=%v", ev.StartDate, ev.EndDate)
	}
}

func TestParseRecurrence(t *testing.T) {
	doc := calendar(vevent(
		"UID:rec-1",
		"SUMMARY:Weekly Quiz",
		"DTSTART:20240310T120000Z",
		"DTEND:20240310T130000Z",
		"RRULE:FREQ=WEEKLY;INTERVAL=2;UNTIL=20240601T000000Z",
	))
	res := Parse(doc, "course-1", "Math", "a.ics")
	if !res.Success || len(res.Events) != 1 {
		t.Fatalf("parse failed: %+v", res)
	}
	rec := res.Events[0].Recurrence
	if rec == nil {
		t.Fatal("expected recurrence")
	}
	if rec.Frequency != model.FreqWeekly || rec.Interval != 2 {
		t.Errorf("unexpected recurrence %+v", rec)
	}
	if rec.Until == nil {
		t.Error("expected until to be set")
	}
}

func TestParseRecurrenceDefaultsIntervalToOne(t *testing.T) {
	doc := calendar(vevent(
		"UID:rec-2",
		"SUMMARY:Daily Standup",
		"DTSTART:20240310T120000Z",
		"DTEND:20240310T130000Z",
		"RRULE:FREQ=DAILY",
	))
	res := Parse(doc, "course-1", "Math", "a.ics")
	rec := res.Events[0].Recurrence
	if rec == nil || rec.Frequency != model.FreqDaily || rec.Interval != 1 {
		t.Fatalf("unexpected recurrence %+v", rec)
	}
	if rec.Until != nil {
		t.Error("expected no until")
	}
}

func TestCourseNameFallbackChain(t *testing.T) {
	named := lines(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//coursecal//test//EN",
		"X-WR-CALNAME:Linear Algebra",
		"END:VCALENDAR",
	)
	if got := CourseName(named, "whatever.ics"); got != "Linear Algebra" {
		t.Errorf("calendar-level name wins: got %q", got)
	}

	anon := calendar()
	if got := CourseName(anon, "math-101-calendar.ics"); got != "Math 101" {
		t.Errorf("filename-derived name: got %q", got)
	}
	if got := CourseName(anon, "intro_to_cs.ical"); got != "Intro To Cs" {
		t.Errorf("filename-derived name: got %q", got)
	}
	if got := CourseName(anon, ""); got != "Unnamed Course" {
		t.Errorf("final fallback: got %q", got)
	}
}
