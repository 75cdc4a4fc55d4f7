// Package view maintains the in-memory projection the presentation
// layer reads: current events, courses and the active-course filter.
// Consumers only ever observe snapshots taken after a fully applied
// batch, never half-updated state.
package view

import (
	"sort"
	"sync"
	"time"

	"coursecal/internal/classify"
	"coursecal/internal/model"
)

// Snapshot is the derived, filtered projection handed to consumers.
type Snapshot struct {
	Events          []model.Event  `json:"events"`
	Courses         []model.Course `json:"courses"`
	ActiveCourseIDs []string       `json:"activeCourseIds"`
}

// View holds the reactive state. All mutation entry points notify
// subscribers exactly once per change.
type View struct {
	mu        sync.RWMutex
	events    []model.Event
	courses   []model.Course
	activeIDs map[string]bool
	// hidden distinguishes "empty active set = unfiltered" from an
	// explicit HideAll.
	hidden  bool
	subs    map[int]chan struct{}
	nextSub int

	// now is injectable for deterministic status recomputation in tests.
	now func() time.Time
}

func New() *View {
	return &View{
		activeIDs: make(map[string]bool),
		subs:      make(map[int]chan struct{}),
		now:       time.Now,
	}
}

// NewAt builds a view with a fixed clock, for tests.
func NewAt(now func() time.Time) *View {
	v := New()
	v.now = now
	return v
}

// Update replaces the event and course sets in one step. Active ids for
// courses that no longer exist are pruned; the persisted IsActive flag
// of each course seeds the filter for ids the view has not seen yet, so
// a course hidden before a restart stays hidden and a freshly imported
// course joins a materialized filter.
func (v *View) Update(events []model.Event, courses []model.Course) {
	v.mu.Lock()
	prev := make(map[string]bool, len(v.courses))
	for _, c := range v.courses {
		prev[c.ID] = true
	}
	known := make(map[string]bool, len(courses))
	for _, c := range courses {
		known[c.ID] = true
	}
	for id := range v.activeIDs {
		if !known[id] {
			delete(v.activeIDs, id)
		}
	}

	filtered := len(v.activeIDs) > 0 || v.hidden
	if !filtered && len(prev) == 0 {
		// First load after a restart: unfiltered only holds if every
		// stored course is active.
		for _, c := range courses {
			if !c.IsActive {
				filtered = true
				break
			}
		}
	}
	if filtered {
		for _, c := range courses {
			if !prev[c.ID] && c.IsActive {
				v.activeIDs[c.ID] = true
			}
		}
		v.hidden = len(v.activeIDs) == 0
	}

	v.events = append([]model.Event(nil), events...)
	v.courses = append([]model.Course(nil), courses...)
	v.mu.Unlock()

	v.notify()
}

// SetActive replaces the visible-course id set. An empty set means "no
// filter applied", matching first-load behavior, not "hide everything";
// use HideAll for the latter. HideAll is modeled as every id off via a
// sentinel (see hideAll flag).
func (v *View) SetActive(ids []string) {
	v.mu.Lock()
	v.activeIDs = make(map[string]bool, len(ids))
	for _, id := range ids {
		v.activeIDs[id] = true
	}
	v.hidden = false
	v.mu.Unlock()
	v.notify()
}

// Toggle flips one course's visibility. Toggling while unfiltered first
// materializes the full active set so the toggle hides just that course.
func (v *View) Toggle(id string) {
	v.mu.Lock()
	if len(v.activeIDs) == 0 && !v.hidden {
		for _, c := range v.courses {
			v.activeIDs[c.ID] = true
		}
	}
	if v.activeIDs[id] {
		delete(v.activeIDs, id)
		if len(v.activeIDs) == 0 {
			// Last course toggled off means hide everything, not unfilter.
			v.hidden = true
		}
	} else {
		v.activeIDs[id] = true
		v.hidden = false
	}
	v.mu.Unlock()
	v.notify()
}

// ShowAll marks every known course visible.
func (v *View) ShowAll() {
	v.mu.Lock()
	v.activeIDs = make(map[string]bool, len(v.courses))
	for _, c := range v.courses {
		v.activeIDs[c.ID] = true
	}
	v.hidden = false
	v.mu.Unlock()
	v.notify()
}

// HideAll hides every course.
func (v *View) HideAll() {
	v.mu.Lock()
	v.activeIDs = make(map[string]bool)
	v.hidden = true
	v.mu.Unlock()
	v.notify()
}

// Snapshot derives the filtered, sorted projection. Time-based statuses
// are recomputed against the current clock so an event can turn overdue
// without any new input; completed stays completed.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now := v.now()

	filtered := make([]model.Event, 0, len(v.events))
	if !v.hidden {
		for _, ev := range v.events {
			if len(v.activeIDs) > 0 && !v.activeIDs[ev.CourseID] {
				continue
			}
			ev.Status = classify.Status(ev.EndDate, now, ev.Status == model.StatusCompleted)
			filtered = append(filtered, ev)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].StartDate.Equal(filtered[j].StartDate) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].StartDate.Before(filtered[j].StartDate)
	})

	courses := append([]model.Course(nil), v.courses...)
	sort.Slice(courses, func(i, j int) bool { return courses[i].Name < courses[j].Name })

	active := make([]string, 0, len(v.activeIDs))
	for id := range v.activeIDs {
		active = append(active, id)
	}
	sort.Strings(active)

	return Snapshot{Events: filtered, Courses: courses, ActiveCourseIDs: active}
}

// Subscribe registers an onChange listener. The returned channel gets a
// (coalesced) signal after every applied change; the caller re-reads
// Snapshot. Cancel with the returned func.
func (v *View) Subscribe() (<-chan struct{}, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextSub
	v.nextSub++
	ch := make(chan struct{}, 1)
	v.subs[id] = ch

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

func (v *View) notify() {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, ch := range v.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Listener is behind; it will re-read on the pending signal.
		}
	}
}
