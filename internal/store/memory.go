package store

import (
	"context"
	"sync"

	"coursecal/internal/model"
)

// Memory is a map-backed Store. It backs tests and -memory dev runs;
// production uses the postgres-backed implementation in gormstore.
type Memory struct {
	mu      sync.RWMutex
	events  map[string]model.Event
	courses map[string]model.Course
}

func NewMemory() *Memory {
	return &Memory{
		events:  make(map[string]model.Event),
		courses: make(map[string]model.Course),
	}
}

func (m *Memory) GetAllEvents(_ context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out, nil
}

func (m *Memory) GetAllCourses(_ context.Context) ([]model.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) BulkUpsertEvents(_ context.Context, events []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *Memory) BulkUpsertCourses(_ context.Context, courses []model.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range courses {
		m.courses[c.ID] = c
	}
	return nil
}

func (m *Memory) BulkDeleteEvents(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.events, id)
	}
	return nil
}

// ApplyBatch performs the whole batch under one lock hold.
func (m *Memory) ApplyBatch(_ context.Context, courses []model.Course, eventUpserts []model.Event, eventDeletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range courses {
		m.courses[c.ID] = c
	}
	for _, ev := range eventUpserts {
		m.events[ev.ID] = ev
	}
	for _, id := range eventDeletes {
		delete(m.events, id)
	}
	return nil
}

func (m *Memory) DeleteCourse(_ context.Context, id string, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.courses, id)
	if cascade {
		for evID, ev := range m.events {
			if ev.CourseID == id {
				delete(m.events, evID)
			}
		}
	}
	return nil
}

func (m *Memory) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string]model.Event)
	m.courses = make(map[string]model.Course)
	return nil
}

var (
	_ Store       = (*Memory)(nil)
	_ BatchWriter = (*Memory)(nil)
)
