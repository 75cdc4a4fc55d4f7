// Package classify holds the pure classification functions shared by the
// ICS parser and the scrape normalizer.
package classify

import (
	"strings"
	"time"

	"coursecal/internal/model"
)

// typeKeywords is checked in order; the first category with a matching
// keyword wins. Exam keywords are deliberately ahead of assignment
// keywords: "Homework 4 Exam Prep" is an exam, not an assignment.
var typeKeywords = []struct {
	eventType model.EventType
	keywords  []string
}{
	{model.TypeExam, []string{"exam", "test", "midterm", "final"}},
	{model.TypeQuiz, []string{"quiz"}},
	{model.TypeProject, []string{"project"}},
	{model.TypeAssignment, []string{"assignment", "homework", "hw"}},
}

// Type derives the event type from title and description text.
func Type(title, description string) model.EventType {
	text := strings.ToLower(title + " " + description)
	for _, cat := range typeKeywords {
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				return cat.eventType
			}
		}
	}
	return model.TypeOther
}

// Status derives the temporal status of an event. A completed flag is
// sticky and overrides the date comparison entirely.
func Status(endDate, now time.Time, isCompleted bool) model.EventStatus {
	if isCompleted {
		return model.StatusCompleted
	}
	if endDate.Before(now) {
		return model.StatusOverdue
	}
	return model.StatusUpcoming
}
