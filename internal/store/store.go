// Package store defines the narrow persistence surface the reconcile
// engine writes through. The engine computes full diffs itself and
// issues whole-batch calls; no partial-success row reporting is assumed
// from any implementation.
package store

import (
	"context"

	"coursecal/internal/model"
)

// Store is the adapter over the durable Course/Event tables.
type Store interface {
	GetAllEvents(ctx context.Context) ([]model.Event, error)
	GetAllCourses(ctx context.Context) ([]model.Course, error)

	// BulkUpsertEvents / BulkUpsertCourses insert-or-replace by primary
	// key, atomically for the whole slice.
	BulkUpsertEvents(ctx context.Context, events []model.Event) error
	BulkUpsertCourses(ctx context.Context, courses []model.Course) error

	BulkDeleteEvents(ctx context.Context, ids []string) error

	// DeleteCourse removes a course; with cascade it also removes every
	// event whose CourseID matches, never leaving orphans.
	DeleteCourse(ctx context.Context, id string, cascade bool) error

	ClearAll(ctx context.Context) error
}

// BatchWriter is an optional Store extension. Implementations apply one
// reconciliation batch as a single atomic write (course upserts, then
// event upserts, then event deletions) so a crash mid-batch cannot leave
// a half-applied state on disk. Callers fall back to the three separate
// Store calls when the extension is absent.
type BatchWriter interface {
	ApplyBatch(ctx context.Context, courses []model.Course, eventUpserts []model.Event, eventDeletes []string) error
}
