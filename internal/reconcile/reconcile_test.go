package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"coursecal/internal/model"
	"coursecal/internal/store"
)

var testNow = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func draft(id, title string, due time.Time) model.EventDraft {
	return model.EventDraft{
		ID:        id,
		Title:     title,
		StartDate: due,
		EndDate:   due,
		EventType: model.TypeAssignment,
		IsAllDay:  true,
	}
}

func fileParams(drafts []model.EventDraft, events []model.Event, courses []model.Course) Params {
	return Params{
		SourceKind:     model.SourceFile,
		CourseID:       "file-abc",
		CourseName:     "Math 101",
		CourseColor:    Palette[0],
		SourceLabel:    "math.ics",
		Drafts:         drafts,
		CurrentEvents:  events,
		CurrentCourses: courses,
		Now:            testNow,
	}
}

func scrapeParams(drafts []model.EventDraft, events []model.Event, courses []model.Course) Params {
	p := fileParams(drafts, events, courses)
	p.SourceKind = model.SourceScrape
	p.CourseID = "remote-9"
	p.SourceLabel = "auto-sync"
	return p
}

func TestFileImportInsertsNewEvents(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	diff := Reconcile(fileParams(
		[]model.EventDraft{draft("uid-1", "HW 1", due), draft("uid-2", "HW 2", due)},
		nil, nil,
	))

	if len(diff.EventInserts) != 2 || len(diff.EventUpdates) != 0 || len(diff.EventDeletes) != 0 {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if diff.EventInserts[0].ID != "uid-1" {
		t.Errorf("file import must keep document ids, got %q", diff.EventInserts[0].ID)
	}
	if diff.EventInserts[0].Status != model.StatusUpcoming {
		t.Errorf("future event should be upcoming, got %s", diff.EventInserts[0].Status)
	}
	c := diff.CourseUpsert
	if c.ID != "file-abc" || !c.IsActive || c.EventCount != 2 || c.Color != Palette[0] {
		t.Errorf("unexpected course upsert: %+v", c)
	}
}

func TestFileImportIsIdempotentUpsert(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	first := Reconcile(fileParams([]model.EventDraft{draft("uid-1", "HW 1", due)}, nil, nil))

	stored := append(first.EventInserts, first.EventUpdates...)
	second := Reconcile(fileParams(
		[]model.EventDraft{draft("uid-1", "HW 1 renamed", due)},
		stored,
		[]model.Course{first.CourseUpsert},
	))

	if len(second.EventInserts) != 0 {
		t.Fatalf("re-import must not insert duplicates: %+v", second.EventInserts)
	}
	if len(second.EventUpdates) != 1 || second.EventUpdates[0].ID != "uid-1" {
		t.Fatalf("expected in-place update of uid-1: %+v", second.EventUpdates)
	}
	if second.EventUpdates[0].Title != "HW 1 renamed" {
		t.Error("content fields must refresh on re-import")
	}
	if second.CourseUpsert.EventCount != 1 {
		t.Errorf("eventCount = %d, want 1", second.CourseUpsert.EventCount)
	}
}

func TestFileImportNeverDeletes(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	stored := []model.Event{
		{ID: "uid-a", Title: "A", CourseID: "file-abc", EndDate: due},
		{ID: "uid-b", Title: "B", CourseID: "file-abc", EndDate: due},
	}
	course := model.Course{ID: "file-abc", Name: "Math 101", Color: Palette[0], EventCount: 2}

	// New file only contains A; B must survive.
	diff := Reconcile(fileParams(
		[]model.EventDraft{draft("uid-a", "A", due)},
		stored, []model.Course{course},
	))

	if len(diff.EventDeletes) != 0 {
		t.Fatalf("file import produced deletions: %v", diff.EventDeletes)
	}
	if diff.CourseUpsert.EventCount != 2 {
		t.Errorf("eventCount = %d, want 2", diff.CourseUpsert.EventCount)
	}
}

func TestCompletedStatusIsStickyAcrossReimport(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	stored := []model.Event{{
		ID: "uid-1", Title: "HW 1", CourseID: "file-abc",
		EndDate: due, Status: model.StatusCompleted,
	}}

	diff := Reconcile(fileParams([]model.EventDraft{draft("uid-1", "HW 1", due)}, stored, nil))
	if len(diff.EventUpdates) != 1 {
		t.Fatalf("expected one update, got %+v", diff)
	}
	if diff.EventUpdates[0].Status != model.StatusCompleted {
		t.Errorf("completed must survive re-import, got %s", diff.EventUpdates[0].Status)
	}
}

func TestCrossCourseUIDMatchKeepsDenormalizedFields(t *testing.T) {
	// The same document imported under a file name that derives a
	// different course id. The UID match updates content but must not
	// relabel the event with the new course's name or color.
	due := testNow.Add(24 * time.Hour)
	stored := []model.Event{{
		ID: "uid-1", Title: "HW 1", CourseID: "file-other",
		CourseName: "Algebra", CourseColor: "#123456", EndDate: due,
	}}
	courses := []model.Course{{ID: "file-other", Name: "Algebra", Color: "#123456"}}

	diff := Reconcile(fileParams(
		[]model.EventDraft{draft("uid-1", "HW 1 renamed", due)},
		stored, courses,
	))

	if len(diff.EventInserts) != 0 || len(diff.EventUpdates) != 1 {
		t.Fatalf("expected one update, got %+v", diff)
	}
	up := diff.EventUpdates[0]
	if up.Title != "HW 1 renamed" {
		t.Error("content fields must still refresh on a cross-course match")
	}
	if up.CourseID != "file-other" || up.CourseName != "Algebra" || up.CourseColor != "#123456" {
		t.Fatalf("denormalized course fields rewritten on cross-course match: %+v", up)
	}
}

func TestScrapeSyncMatchesByCompositeKey(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	stored := []model.Event{{
		ID: "existing-id", Title: "Essay", CourseID: "remote-9",
		StartDate: due, EndDate: due,
	}}

	d := draft("", "Essay", due)
	diff := Reconcile(scrapeParams([]model.EventDraft{d}, stored, nil))

	if len(diff.EventInserts) != 0 {
		t.Fatalf("matching draft must not insert: %+v", diff.EventInserts)
	}
	if len(diff.EventUpdates) != 1 || diff.EventUpdates[0].ID != "existing-id" {
		t.Fatalf("expected update preserving id, got %+v", diff.EventUpdates)
	}
}

func TestScrapeSyncRemovesStaleEvents(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	stored := []model.Event{
		{ID: "id-a", Title: "A", CourseID: "remote-9", EndDate: due},
		{ID: "id-b", Title: "B", CourseID: "remote-9", EndDate: due},
		{ID: "id-c", Title: "C", CourseID: "remote-9", EndDate: due},
	}

	diff := Reconcile(scrapeParams(
		[]model.EventDraft{draft("", "A", due), draft("", "C", due)},
		stored, nil,
	))

	if len(diff.EventDeletes) != 1 || diff.EventDeletes[0] != "id-b" {
		t.Fatalf("expected only B deleted, got %v", diff.EventDeletes)
	}
	if len(diff.EventUpdates) != 2 {
		t.Fatalf("A and C must update in place: %+v", diff.EventUpdates)
	}
	for _, ev := range diff.EventUpdates {
		if ev.ID != "id-a" && ev.ID != "id-c" {
			t.Errorf("unexpected id churn: %q", ev.ID)
		}
	}
	if diff.CourseUpsert.EventCount != 2 {
		t.Errorf("eventCount = %d, want 2", diff.CourseUpsert.EventCount)
	}
}

func TestScrapeSyncDoesNotTouchOtherCourses(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	stored := []model.Event{
		{ID: "mine", Title: "A", CourseID: "remote-9", EndDate: due},
		{ID: "theirs", Title: "A", CourseID: "other-course", EndDate: due},
	}

	diff := Reconcile(scrapeParams(nil, stored, nil))
	if len(diff.EventDeletes) != 1 || diff.EventDeletes[0] != "mine" {
		t.Fatalf("stale removal must be scoped to the course: %v", diff.EventDeletes)
	}
}

func TestScrapeSyncIsIdempotent(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	drafts := []model.EventDraft{draft("", "Essay", due), draft("", "Quiz 1", due)}

	first := Reconcile(scrapeParams(drafts, nil, nil))
	if len(first.EventInserts) != 2 {
		t.Fatalf("expected 2 inserts, got %+v", first)
	}

	stored := first.EventInserts
	second := Reconcile(scrapeParams(drafts, stored, []model.Course{first.CourseUpsert}))

	if len(second.EventInserts) != 0 || len(second.EventDeletes) != 0 {
		t.Fatalf("second sync must be a no-op diff: %+v", second)
	}
	ids := map[string]bool{stored[0].ID: true, stored[1].ID: true}
	for _, ev := range second.EventUpdates {
		if !ids[ev.ID] {
			t.Errorf("id churn on re-sync: %q", ev.ID)
		}
	}
}

func TestColorStabilityForExistingCourse(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	course := model.Course{ID: "file-abc", Name: "Math 101", Color: "#123456", IsActive: false}

	p := fileParams([]model.EventDraft{draft("uid-1", "HW", due)}, nil, []model.Course{course})
	p.CourseColor = "#ffffff" // a new pick that must lose
	diff := Reconcile(p)

	if diff.CourseUpsert.Color != "#123456" {
		t.Errorf("color changed on re-import: %q", diff.CourseUpsert.Color)
	}
	if diff.CourseUpsert.IsActive {
		t.Error("isActive is UI state and must not be reset by reconciliation")
	}
	if diff.EventInserts[0].CourseColor != "#123456" {
		t.Errorf("denormalized event color must match the course: %q", diff.EventInserts[0].CourseColor)
	}
}

func TestOverdueDerivation(t *testing.T) {
	past := testNow.Add(-time.Second)
	diff := Reconcile(fileParams([]model.EventDraft{draft("uid-1", "Old HW", past)}, nil, nil))
	if diff.EventInserts[0].Status != model.StatusOverdue {
		t.Errorf("past event should be overdue, got %s", diff.EventInserts[0].Status)
	}
}

// orderStore records the sequence of write calls to verify ordering.
// Embedding the interface hides Memory's ApplyBatch, so the engine takes
// the separate-calls fallback path here.
type orderStore struct {
	store.Store
	calls []string
}

func (o *orderStore) BulkUpsertCourses(ctx context.Context, courses []model.Course) error {
	o.calls = append(o.calls, "courses")
	return o.Store.BulkUpsertCourses(ctx, courses)
}

func (o *orderStore) BulkUpsertEvents(ctx context.Context, events []model.Event) error {
	o.calls = append(o.calls, "events")
	return o.Store.BulkUpsertEvents(ctx, events)
}

func TestApplyWritesCoursesBeforeEvents(t *testing.T) {
	os := &orderStore{Store: store.NewMemory()}
	eng := NewEngine(os)

	due := testNow.Add(24 * time.Hour)
	err := eng.ApplyBatches(context.Background(), []CourseBatch{{
		SourceKind: model.SourceFile,
		CourseID:   "file-abc",
		CourseName: "Math 101",
		Drafts:     []model.EventDraft{draft("uid-1", "HW", due)},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(os.calls) < 2 || os.calls[0] != "courses" || os.calls[1] != "events" {
		t.Fatalf("write order wrong: %v", os.calls)
	}
}

// batchStore counts atomic batch writes and rejects split ones.
type batchStore struct {
	*store.Memory
	batches int
}

func (b *batchStore) ApplyBatch(ctx context.Context, courses []model.Course, upserts []model.Event, deletes []string) error {
	b.batches++
	return b.Memory.ApplyBatch(ctx, courses, upserts, deletes)
}

func (b *batchStore) BulkUpsertCourses(context.Context, []model.Course) error {
	return errors.New("split write on a batch-capable store")
}

func (b *batchStore) BulkUpsertEvents(context.Context, []model.Event) error {
	return errors.New("split write on a batch-capable store")
}

func (b *batchStore) BulkDeleteEvents(context.Context, []string) error {
	return errors.New("split write on a batch-capable store")
}

func TestApplyUsesAtomicBatchWhenAvailable(t *testing.T) {
	bs := &batchStore{Memory: store.NewMemory()}
	eng := NewEngine(bs)
	ctx := context.Background()

	due := testNow.Add(24 * time.Hour)
	err := eng.ApplyBatches(ctx, []CourseBatch{{
		SourceKind: model.SourceFile,
		CourseID:   "file-abc",
		CourseName: "Math 101",
		Drafts:     []model.EventDraft{draft("uid-1", "HW", due)},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if bs.batches != 1 {
		t.Fatalf("expected one atomic batch write, got %d", bs.batches)
	}
	events, _ := bs.GetAllEvents(ctx)
	if len(events) != 1 || events[0].ID != "uid-1" {
		t.Fatalf("batch write not applied: %+v", events)
	}
}

func TestImportFilesEndToEnd(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem)
	ctx := context.Background()

	good := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//coursecal//test//EN",
		"BEGIN:VEVENT",
		"UID:hw-1",
		"SUMMARY:Homework 1",
		"DTSTART:20990310T120000Z",
		"DTEND:20990310T130000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	reports, err := eng.ImportFiles(ctx, []FileSource{
		{FileName: "math-101-calendar.ics", Content: good},
		{FileName: "broken.ics", Content: "not a calendar"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if !reports[0].Success || reports[0].CourseName != "Math 101" || reports[0].EventCount != 1 {
		t.Errorf("unexpected report for good file: %+v", reports[0])
	}
	if reports[1].Success || reports[1].Error == "" {
		t.Errorf("broken file must fail with a message: %+v", reports[1])
	}

	// One file's failure must not block the other's persistence.
	events, _ := mem.GetAllEvents(ctx)
	if len(events) != 1 || events[0].ID != "hw-1" {
		t.Fatalf("expected hw-1 stored, got %+v", events)
	}

	// Re-import: no duplicates, same ids, counts unchanged.
	if _, err := eng.ImportFiles(ctx, []FileSource{{FileName: "math-101-calendar.ics", Content: good}}); err != nil {
		t.Fatal(err)
	}
	events, _ = mem.GetAllEvents(ctx)
	if len(events) != 1 {
		t.Fatalf("re-import duplicated events: %d", len(events))
	}
	courses, _ := mem.GetAllCourses(ctx)
	if len(courses) != 1 || courses[0].EventCount != 1 {
		t.Fatalf("unexpected courses after re-import: %+v", courses)
	}
}

func TestImportFilesCompletedSurvivesReimport(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem)
	ctx := context.Background()

	doc := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//coursecal//test//EN",
		"BEGIN:VEVENT",
		"UID:hw-1",
		"SUMMARY:Homework 1",
		"DTSTART:20990310T120000Z",
		"DTEND:20990310T130000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	if _, err := eng.ImportFiles(ctx, []FileSource{{FileName: "m.ics", Content: doc}}); err != nil {
		t.Fatal(err)
	}

	// User marks it completed.
	events, _ := mem.GetAllEvents(ctx)
	events[0].Status = model.StatusCompleted
	if err := mem.BulkUpsertEvents(ctx, events); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.ImportFiles(ctx, []FileSource{{FileName: "m.ics", Content: doc}}); err != nil {
		t.Fatal(err)
	}
	events, _ = mem.GetAllEvents(ctx)
	if events[0].Status != model.StatusCompleted {
		t.Fatalf("completed lost on re-import: %s", events[0].Status)
	}
}

func TestNewCourseColorsAreDeterministicWithinBatch(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem)
	ctx := context.Background()

	batches := []CourseBatch{
		{SourceKind: model.SourceScrape, CourseID: "remote-1", CourseName: "One"},
		{SourceKind: model.SourceScrape, CourseID: "remote-2", CourseName: "Two"},
	}
	if err := eng.ApplyBatches(ctx, batches); err != nil {
		t.Fatal(err)
	}

	courses, _ := mem.GetAllCourses(ctx)
	colors := map[string]string{}
	for _, c := range courses {
		colors[c.ID] = c.Color
	}
	if colors["remote-1"] != Palette[0] || colors["remote-2"] != Palette[1] {
		t.Fatalf("ordinal color assignment wrong: %v", colors)
	}
}

func TestFileCourseIDIsStable(t *testing.T) {
	a := FileCourseID("Math 101")
	b := FileCourseID("  math 101 ")
	if a != b {
		t.Errorf("course id must be stable under case/space noise: %q vs %q", a, b)
	}
	if a == FileCourseID("Physics 201") {
		t.Error("different names must not collide")
	}
}
