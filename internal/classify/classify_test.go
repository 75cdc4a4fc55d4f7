package classify

import (
	"testing"
	"time"

	"coursecal/internal/model"
)

func TestTypeKeywordPriority(t *testing.T) {
	cases := []struct {
		title string
		desc  string
		want  model.EventType
	}{
		{"Unit 3 Exam Review", "", model.TypeExam},
		// Exam keywords are checked before assignment keywords.
		{"Homework 4 Exam Prep", "", model.TypeExam},
		{"Chapter Quiz", "", model.TypeQuiz},
		{"Final Project Milestone", "", model.TypeProject},
		{"HW 2", "", model.TypeAssignment},
		{"Reading", "complete assignment 3", model.TypeAssignment},
		{"Midterm", "", model.TypeExam},
		{"Lecture 12", "bring notes", model.TypeOther},
		{"", "", model.TypeOther},
	}

	for _, tc := range cases {
		got := Type(tc.title, tc.desc)
		if got != tc.want {
			t.Errorf("Type(%q, %q) = %s, want %s", tc.title, tc.desc, got, tc.want)
		}
	}
}

func TestTypeIsCaseInsensitive(t *testing.T) {
	if got := Type("FINAL EXAM", ""); got != model.TypeExam {
		t.Fatalf("expected exam, got %s", got)
	}
}

func TestStatusBoundaries(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	before := time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC)
	if got := Status(before, now, false); got != model.StatusOverdue {
		t.Errorf("endDate just before now: got %s, want overdue", got)
	}

	after := time.Date(2024, 3, 10, 0, 0, 1, 0, time.UTC)
	if got := Status(after, now, false); got != model.StatusUpcoming {
		t.Errorf("endDate just after now: got %s, want upcoming", got)
	}

	// endDate == now is not before now, so it is still upcoming.
	if got := Status(now, now, false); got != model.StatusUpcoming {
		t.Errorf("endDate == now: got %s, want upcoming", got)
	}
}

func TestStatusCompletedIsSticky(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	if got := Status(past, now, true); got != model.StatusCompleted {
		t.Errorf("completed past event: got %s, want completed", got)
	}
	if got := Status(future, now, true); got != model.StatusCompleted {
		t.Errorf("completed future event: got %s, want completed", got)
	}
}
