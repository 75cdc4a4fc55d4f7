// Package reconcile merges freshly parsed or scraped event drafts with
// previously stored state. Identity and deletion policy depend on the
// source kind: file imports are purely additive upserts keyed by
// document UID, scrape syncs are authoritative per course and keyed by
// a content composite.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"coursecal/internal/classify"
	"coursecal/internal/model"
)

// Palette is the fixed set of course colors. A course keeps its color
// for life once one is assigned; reconciliation never rewrites it.
var Palette = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12",
	"#9b59b6", "#1abc9c", "#e67e22", "#34495e",
}

// Params are the inputs to one course's reconciliation step.
type Params struct {
	SourceKind model.SourceKind

	CourseID    string
	CourseName  string
	CourseColor string // used only when the course is new
	SourceLabel string

	Drafts []model.EventDraft

	CurrentEvents  []model.Event
	CurrentCourses []model.Course

	// Now is captured once per batch by the caller so every status
	// derivation within the batch uses the same boundary.
	Now time.Time
}

// Diff is the computed set of writes for one course. Course upserts are
// applied before event writes; events reference courses by id.
type Diff struct {
	CourseUpsert model.Course
	EventInserts []model.Event
	EventUpdates []model.Event
	EventDeletes []string
}

// Reconcile computes the idempotent diff for one course's drafts.
//
// File import: drafts match stored events by id; matches refresh content
// fields, non-matches insert. Absence never deletes; a single file is
// not assumed to enumerate the whole course.
//
// Scrape sync: drafts match stored course events by the composite key
// (courseId, title, due instant); matches update in place keeping their
// id, non-matches insert with a minted id, and stored events whose key
// is absent from the batch are deleted; the remote source enumerates
// all live events on every sync.
//
// A stored completed status always survives; it is a user action.
func Reconcile(p Params) Diff {
	var diff Diff

	courseEvents := make([]model.Event, 0)
	byID := make(map[string]model.Event, len(p.CurrentEvents))
	for _, ev := range p.CurrentEvents {
		byID[ev.ID] = ev
		if ev.CourseID == p.CourseID {
			courseEvents = append(courseEvents, ev)
		}
	}

	course, courseExists := findCourse(p.CurrentCourses, p.CourseID)
	if courseExists && course.Color != "" {
		// Color stability: an existing course's color always wins over
		// whatever the caller picked for this batch.
		p.CourseColor = course.Color
	}

	switch p.SourceKind {
	case model.SourceScrape:
		diff = reconcileScrape(p, courseEvents)
	default:
		diff = reconcileFile(p, byID)
	}

	diff.CourseUpsert = upsertCourse(p, course, courseExists, len(courseEvents), &diff)
	return diff
}

func reconcileFile(p Params, byID map[string]model.Event) Diff {
	var diff Diff
	for _, draft := range p.Drafts {
		if existing, ok := byID[draft.ID]; ok {
			diff.EventUpdates = append(diff.EventUpdates, refresh(existing, draft, p))
			continue
		}
		diff.EventInserts = append(diff.EventInserts, materialize(draft, draft.ID, p))
	}
	return diff
}

func reconcileScrape(p Params, courseEvents []model.Event) Diff {
	var diff Diff

	byKey := make(map[string]model.Event, len(courseEvents))
	for _, ev := range courseEvents {
		byKey[compositeKey(ev.CourseID, ev.Title, ev.EndDate)] = ev
	}

	seen := make(map[string]bool, len(p.Drafts))
	for _, draft := range p.Drafts {
		key := compositeKey(p.CourseID, draft.Title, draft.EndDate)
		if seen[key] {
			// Duplicate tuple within one harvest; first one wins.
			continue
		}
		seen[key] = true

		if existing, ok := byKey[key]; ok {
			diff.EventUpdates = append(diff.EventUpdates, refresh(existing, draft, p))
			continue
		}
		diff.EventInserts = append(diff.EventInserts, materialize(draft, uuid.NewString(), p))
	}

	// Authoritative completeness: stored events not re-observed are gone
	// upstream. Callers must not reach this path for a failed fetch.
	for key, ev := range byKey {
		if !seen[key] {
			diff.EventDeletes = append(diff.EventDeletes, ev.ID)
		}
	}
	return diff
}

// refresh updates a stored event's content fields from a draft while
// preserving its identity and any sticky completed status.
func refresh(existing model.Event, draft model.EventDraft, p Params) model.Event {
	out := existing
	out.Title = draft.Title
	out.Description = draft.Description
	out.StartDate = draft.StartDate
	out.EndDate = draft.EndDate
	out.EventType = draft.EventType
	out.Location = draft.Location
	out.IsAllDay = draft.IsAllDay
	out.Recurrence = draft.Recurrence
	out.RawSourceData = draft.RawSourceData
	// A file draft can match a UID stored under another course (same
	// document re-imported under a name that derives a different course
	// id). The match still refreshes content, but the event keeps the
	// denormalized fields of the course it belongs to.
	if existing.CourseID == p.CourseID {
		out.CourseName = p.CourseName
		if out.CourseColor == "" {
			out.CourseColor = p.CourseColor
		}
	}
	out.Status = classify.Status(out.EndDate, p.Now, existing.Status == model.StatusCompleted)
	return out
}

func materialize(draft model.EventDraft, id string, p Params) model.Event {
	return model.Event{
		ID:            id,
		Title:         draft.Title,
		Description:   draft.Description,
		StartDate:     draft.StartDate,
		EndDate:       draft.EndDate,
		EventType:     draft.EventType,
		CourseID:      p.CourseID,
		CourseName:    p.CourseName,
		CourseColor:   p.CourseColor,
		Location:      draft.Location,
		Status:        classify.Status(draft.EndDate, p.Now, false),
		IsAllDay:      draft.IsAllDay,
		Recurrence:    draft.Recurrence,
		RawSourceData: draft.RawSourceData,
	}
}

// upsertCourse builds the course record for the diff. A new course gets
// the caller-chosen color and starts active; an existing course keeps
// color and active flag and only refreshes name, label and count.
func upsertCourse(p Params, course model.Course, exists bool, priorCount int, diff *Diff) model.Course {
	finalCount := priorCount + len(diff.EventInserts) - len(diff.EventDeletes)

	if !exists {
		return model.Course{
			ID:           p.CourseID,
			Name:         p.CourseName,
			Color:        p.CourseColor,
			IsActive:     true,
			ImportedDate: p.Now,
			EventCount:   finalCount,
			SourceLabel:  p.SourceLabel,
		}
	}

	course.Name = p.CourseName
	course.EventCount = finalCount
	course.SourceLabel = p.SourceLabel
	return course
}

func findCourse(courses []model.Course, id string) (model.Course, bool) {
	for _, c := range courses {
		if c.ID == id {
			return c, true
		}
	}
	return model.Course{}, false
}

// compositeKey is the content identity for scrape-sourced events. The
// remote site exposes no stable id, so (course, title, due instant)
// stands in for one. Titles are compared trimmed, instants in UTC.
func compositeKey(courseID, title string, due time.Time) string {
	return courseID + "\x1f" + strings.TrimSpace(title) + "\x1f" + due.UTC().Format(time.RFC3339)
}

// FileCourseID derives a stable course id from a course name so that
// re-importing a file for the same course lands on the same record.
func FileCourseID(courseName string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(courseName))))
	return "file-" + hex.EncodeToString(sum[:6])
}

// ScrapeCourseID namespaces remote course ids away from file-derived ones.
func ScrapeCourseID(remoteID string) string {
	return "remote-" + remoteID
}
