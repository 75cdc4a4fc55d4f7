package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursecal/internal/ics"
	appLog "coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/store"
)

// maxParallelParses bounds concurrent file parsing. Parsing is pure CPU
// work; store writes are always serialized into one apply phase.
const maxParallelParses = 4

// Engine owns diff application against the store. Reconcile itself is a
// pure function; the engine adds state reads, color assignment and the
// single serialized write phase per batch.
type Engine struct {
	st store.Store
}

func NewEngine(st store.Store) *Engine {
	return &Engine{st: st}
}

// CourseBatch is one course's drafts awaiting reconciliation.
type CourseBatch struct {
	SourceKind  model.SourceKind
	CourseID    string
	CourseName  string
	SourceLabel string
	Drafts      []model.EventDraft
}

// ApplyBatches reconciles every batch against current stored state and
// applies the combined diff as one logical write: all course upserts,
// then all event upserts, then all deletions. Any store failure fails
// the whole call; nothing is reported as a partial success.
//
// Batches for the same course within one call are processed in order
// against working state carried forward, so a later batch observes an
// earlier one's inserts.
func (e *Engine) ApplyBatches(ctx context.Context, batches []CourseBatch) error {
	if len(batches) == 0 {
		return nil
	}

	now := time.Now().UTC()

	currentEvents, err := e.st.GetAllEvents(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: read events: %w", err)
	}
	currentCourses, err := e.st.GetAllCourses(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: read courses: %w", err)
	}

	working := newWorkingState(currentEvents, currentCourses)

	var diffs []Diff
	newCourseOrdinal := 0
	for _, batch := range batches {
		color := ""
		if _, exists := working.courses[batch.CourseID]; !exists {
			// Deterministic by ordinal among courses first seen in this
			// batch; stable for the course's lifetime afterwards.
			color = Palette[newCourseOrdinal%len(Palette)]
			newCourseOrdinal++
		}

		diff := Reconcile(Params{
			SourceKind:     batch.SourceKind,
			CourseID:       batch.CourseID,
			CourseName:     batch.CourseName,
			CourseColor:    color,
			SourceLabel:    batch.SourceLabel,
			Drafts:         batch.Drafts,
			CurrentEvents:  working.eventList(),
			CurrentCourses: working.courseList(),
			Now:            now,
		})
		working.apply(diff)
		diffs = append(diffs, diff)
	}

	return e.apply(ctx, diffs)
}

// apply issues the whole-batch store calls, course upserts strictly
// before event writes. Stores implementing BatchWriter get the batch as
// one atomic call; others get the three Store calls in order.
func (e *Engine) apply(ctx context.Context, diffs []Diff) error {
	var courses []model.Course
	var upserts []model.Event
	var deletes []string
	for _, d := range diffs {
		courses = append(courses, d.CourseUpsert)
		upserts = append(upserts, d.EventInserts...)
		upserts = append(upserts, d.EventUpdates...)
		deletes = append(deletes, d.EventDeletes...)
	}

	if bw, ok := e.st.(store.BatchWriter); ok {
		if err := bw.ApplyBatch(ctx, courses, upserts, deletes); err != nil {
			return fmt.Errorf("reconcile: apply batch: %w", err)
		}
	} else {
		if err := e.st.BulkUpsertCourses(ctx, courses); err != nil {
			return fmt.Errorf("reconcile: write courses: %w", err)
		}
		if err := e.st.BulkUpsertEvents(ctx, upserts); err != nil {
			return fmt.Errorf("reconcile: write events: %w", err)
		}
		if err := e.st.BulkDeleteEvents(ctx, deletes); err != nil {
			return fmt.Errorf("reconcile: delete events: %w", err)
		}
	}

	appLog.Info("reconcile batch applied",
		"courses", len(courses),
		"event_upserts", len(upserts),
		"event_deletes", len(deletes),
	)
	return nil
}

// FileSource is one uploaded calendar document.
type FileSource struct {
	FileName string
	Content  string
}

// ImportFiles parses the given documents with bounded concurrency, then
// reconciles and persists every successful parse in a single write
// batch. One file's parse failure never blocks the others; the returned
// reports carry the per-source outcome for user display. A store
// failure fails the whole call.
func (e *Engine) ImportFiles(ctx context.Context, files []FileSource) ([]model.SourceReport, error) {
	names := make([]string, len(files))
	results := make([]ics.ParseResult, len(files))

	sem := make(chan struct{}, maxParallelParses)
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f FileSource) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			name := ics.CourseName(f.Content, f.FileName)
			names[i] = name
			results[i] = ics.Parse(f.Content, FileCourseID(name), name, f.FileName)
		}(i, f)
	}
	wg.Wait()

	reports := make([]model.SourceReport, len(files))
	var batches []CourseBatch
	for i, f := range files {
		res := results[i]
		reports[i] = model.SourceReport{
			SourceLabel: f.FileName,
			Success:     res.Success,
			CourseName:  names[i],
			EventCount:  len(res.Events),
		}
		if !res.Success {
			reports[i].Error = firstDiagnostic(res)
			continue
		}
		if len(res.Errors) > 0 {
			// Partial parse: still imported, but surface the entry errors.
			reports[i].Error = fmt.Sprintf("%d entries skipped: %s", len(res.Errors), res.Errors[0])
		}
		batches = append(batches, CourseBatch{
			SourceKind:  model.SourceFile,
			CourseID:    FileCourseID(names[i]),
			CourseName:  names[i],
			SourceLabel: f.FileName,
			Drafts:      res.Events,
		})
	}

	if err := e.ApplyBatches(ctx, batches); err != nil {
		return reports, err
	}
	return reports, nil
}

func firstDiagnostic(res ics.ParseResult) string {
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	if len(res.Warnings) > 0 {
		return res.Warnings[0]
	}
	return "nothing imported"
}

// workingState carries reconciled state forward between batches within
// one ApplyBatches call.
type workingState struct {
	events  map[string]model.Event
	courses map[string]model.Course
}

func newWorkingState(events []model.Event, courses []model.Course) *workingState {
	ws := &workingState{
		events:  make(map[string]model.Event, len(events)),
		courses: make(map[string]model.Course, len(courses)),
	}
	for _, ev := range events {
		ws.events[ev.ID] = ev
	}
	for _, c := range courses {
		ws.courses[c.ID] = c
	}
	return ws
}

func (ws *workingState) apply(d Diff) {
	ws.courses[d.CourseUpsert.ID] = d.CourseUpsert
	for _, ev := range d.EventInserts {
		ws.events[ev.ID] = ev
	}
	for _, ev := range d.EventUpdates {
		ws.events[ev.ID] = ev
	}
	for _, id := range d.EventDeletes {
		delete(ws.events, id)
	}
}

func (ws *workingState) eventList() []model.Event {
	out := make([]model.Event, 0, len(ws.events))
	for _, ev := range ws.events {
		out = append(out, ev)
	}
	return out
}

func (ws *workingState) courseList() []model.Course {
	out := make([]model.Course, 0, len(ws.courses))
	for _, c := range ws.courses {
		out = append(out, c)
	}
	return out
}
