package model

import "time"

// EventType categorizes an academic calendar entry by what kind of work
// it represents. Classification is keyword-driven (internal/classify).
type EventType string

const (
	TypeAssignment EventType = "assignment"
	TypeExam       EventType = "exam"
	TypeQuiz       EventType = "quiz"
	TypeProject    EventType = "project"
	TypeOther      EventType = "other"
)

// EventStatus is the temporal state of an event. Completed is sticky:
// it is set by user action and survives re-imports and re-syncs.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusOverdue   EventStatus = "overdue"
	StatusCompleted EventStatus = "completed"
)

// Frequency is a recurrence frequency as extracted from an RRULE.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Recurrence is the normalized recurrence rule carried on an Event.
// Interval is always >= 1; Until is optional.
type Recurrence struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	Until     *time.Time `json:"until,omitempty"`
}

// SourceKind distinguishes the two producers feeding reconciliation.
// The identity policy and the deletion policy both depend on it.
type SourceKind string

const (
	// SourceFile is an uploaded or URL-fetched calendar export. Identity
	// is the document UID; reconciliation is purely additive.
	SourceFile SourceKind = "file"
	// SourceScrape is the periodically scraped remote site. Identity is
	// content-derived; a sync is authoritative for course completeness.
	SourceScrape SourceKind = "scrape"
)

// Course groups events imported or synced under one course identity.
type Course struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	IsActive     bool      `json:"isActive"`
	ImportedDate time.Time `json:"importedDate"`
	// EventCount is derived; recomputed on every reconciliation.
	EventCount  int    `json:"eventCount"`
	SourceLabel string `json:"sourceLabel"`
}

// Event is the canonical stored representation of a calendar entry.
// CourseName and CourseColor are denormalized from the owning Course so
// a renderer never needs a join.
type Event struct {
	ID          string      `json:"id" gorm:"primaryKey"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	StartDate   time.Time   `json:"startDate"`
	EndDate     time.Time   `json:"endDate"`
	EventType   EventType   `json:"eventType"`
	CourseID    string      `json:"courseId" gorm:"index"`
	CourseName  string      `json:"courseName"`
	CourseColor string      `json:"courseColor"`
	Location    string      `json:"location,omitempty"`
	Status      EventStatus `json:"status"`
	IsAllDay    bool        `json:"isAllDay"`
	Recurrence  *Recurrence `json:"recurrence,omitempty" gorm:"serializer:json"`
	// RawSourceData keeps the original payload line for debugging.
	RawSourceData string `json:"rawSourceData,omitempty"`
}

// EventDraft is an event as produced by the parser or the scrape
// normalizer, before reconciliation against stored state.
type EventDraft struct {
	// ID is the document-provided UID for file sources (or a minted one
	// when the document has none). Scraped drafts carry no ID; identity
	// for those is computed by the reconcile engine from content.
	ID            string
	Title         string
	Description   string
	StartDate     time.Time
	EndDate       time.Time
	EventType     EventType
	Location      string
	IsAllDay      bool
	Recurrence    *Recurrence
	RawSourceData string
}

// SourceReport is the per-source outcome of an import or sync batch,
// rendered to the user as a summary line.
type SourceReport struct {
	SourceLabel string `json:"sourceLabel"`
	Success     bool   `json:"success"`
	CourseName  string `json:"courseName,omitempty"`
	EventCount  int    `json:"eventCount"`
	Error       string `json:"error,omitempty"`
}

// SyncResult is the aggregate outcome of one syncNow call.
type SyncResult struct {
	Success      bool           `json:"success"`
	CoursesCount int            `json:"coursesCount"`
	EventsCount  int            `json:"eventsCount"`
	Error        string         `json:"error,omitempty"`
	Reports      []SourceReport `json:"reports,omitempty"`
}

// SyncStatus describes the sync control plane state.
type SyncStatus struct {
	IsSyncing       bool       `json:"isSyncing"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
	IntervalMinutes int        `json:"intervalMinutes"`
	AutoSyncEnabled bool       `json:"autoSyncEnabled"`
}
