// Package syncer drives scrape syncs: single-flight guard, per-course
// timeouts, batch reconciliation and the periodic auto-sync schedule.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/reconcile"
	"coursecal/internal/scrape"
	"coursecal/internal/store"
	"coursecal/internal/view"
)

// ErrSyncInFlight is returned when a sync is requested while one is
// already running. The new request is rejected, not queued.
var ErrSyncInFlight = errors.New("a sync is already in progress")

// Transport supplies remote course and event data. The chromedp
// harvester implements it; tests substitute fakes.
type Transport interface {
	Courses(ctx context.Context, credentialsOpaque string) ([]scrape.RemoteCourse, error)
	Events(ctx context.Context, course scrape.RemoteCourse) ([]scrape.RawTuple, error)
}

// Options configure a Syncer.
type Options struct {
	Transport Transport
	Engine    *reconcile.Engine
	Store     store.Store
	View      *view.View

	// CourseTimeout bounds each per-course fetch. Zero means the
	// harvester default.
	CourseTimeout   time.Duration
	IntervalMinutes int
	AutoSyncEnabled bool
	// Credentials is the opaque session credential used by scheduled
	// syncs; manual syncs may pass their own.
	Credentials string
}

// Syncer owns the scrape sync control plane.
type Syncer struct {
	transport Transport
	engine    *reconcile.Engine
	st        store.Store
	vw        *view.View

	courseTimeout time.Duration
	creds         string

	mu              sync.Mutex
	syncing         bool
	lastSync        *time.Time
	intervalMinutes int
	autoEnabled     bool

	cron    *cron.Cron
	entryID cron.EntryID
}

func New(opts Options) *Syncer {
	if opts.CourseTimeout <= 0 {
		opts.CourseTimeout = scrape.DefaultCourseTimeout
	}
	if opts.IntervalMinutes <= 0 {
		opts.IntervalMinutes = 60
	}
	return &Syncer{
		transport:       opts.Transport,
		engine:          opts.Engine,
		st:              opts.Store,
		vw:              opts.View,
		courseTimeout:   opts.CourseTimeout,
		creds:           opts.Credentials,
		intervalMinutes: opts.IntervalMinutes,
		autoEnabled:     opts.AutoSyncEnabled,
		cron:            cron.New(),
	}
}

// SyncNow runs one full scrape sync. Course enumeration failure fails
// the whole call; a single course's fetch failure or timeout skips that
// course entirely for this batch: no insertions and, critically, no
// stale-removal, since a failed fetch is not evidence of upstream
// removal.
func (s *Syncer) SyncNow(ctx context.Context, credentialsOpaque string) (model.SyncResult, error) {
	if !s.begin() {
		return model.SyncResult{Success: false, Error: ErrSyncInFlight.Error()}, ErrSyncInFlight
	}
	defer s.end()

	creds := credentialsOpaque
	if creds == "" {
		creds = s.creds
	}

	now := time.Now().UTC()

	courses, err := s.transport.Courses(ctx, creds)
	if err != nil {
		appLog.Error("sync: course enumeration failed", err)
		return model.SyncResult{Success: false, Error: err.Error()}, fmt.Errorf("sync: %w", err)
	}

	var (
		batches     []reconcile.CourseBatch
		reports     []model.SourceReport
		eventsTotal int
	)
	for _, course := range courses {
		cctx, cancel := context.WithTimeout(ctx, s.courseTimeout)
		tuples, err := s.transport.Events(cctx, course)
		cancel()

		if err != nil {
			// Skip the course for this batch: its stored events stay.
			appLog.Error("sync: course fetch failed, skipping", err, "course", course.ID)
			reports = append(reports, model.SourceReport{
				SourceLabel: "auto-sync",
				CourseName:  course.Name,
				Success:     false,
				Error:       err.Error(),
			})
			continue
		}

		drafts := make([]model.EventDraft, 0, len(tuples))
		for _, tuple := range tuples {
			drafts = append(drafts, scrape.Normalize(tuple, now))
		}

		batches = append(batches, reconcile.CourseBatch{
			SourceKind:  model.SourceScrape,
			CourseID:    reconcile.ScrapeCourseID(course.ID),
			CourseName:  course.Name,
			SourceLabel: "auto-sync",
			Drafts:      drafts,
		})
		reports = append(reports, model.SourceReport{
			SourceLabel: "auto-sync",
			CourseName:  course.Name,
			Success:     true,
			EventCount:  len(drafts),
		})
		eventsTotal += len(drafts)
	}

	if err := s.engine.ApplyBatches(ctx, batches); err != nil {
		return model.SyncResult{Success: false, Error: err.Error(), Reports: reports},
			fmt.Errorf("sync: %w", err)
	}

	if err := s.Refresh(ctx); err != nil {
		return model.SyncResult{Success: false, Error: err.Error(), Reports: reports},
			fmt.Errorf("sync: %w", err)
	}

	s.mu.Lock()
	s.lastSync = &now
	s.mu.Unlock()

	appLog.Info("sync completed", "courses", len(batches), "events", eventsTotal)
	return model.SyncResult{
		Success:      true,
		CoursesCount: len(batches),
		EventsCount:  eventsTotal,
		Reports:      reports,
	}, nil
}

// Refresh reloads the reactive view from the store in one step.
func (s *Syncer) Refresh(ctx context.Context) error {
	events, err := s.st.GetAllEvents(ctx)
	if err != nil {
		return err
	}
	courses, err := s.st.GetAllCourses(ctx)
	if err != nil {
		return err
	}
	s.vw.Update(events, courses)
	return nil
}

// Status reports the control-plane state.
func (s *Syncer) Status() model.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SyncStatus{
		IsSyncing:       s.syncing,
		LastSyncTime:    s.lastSync,
		IntervalMinutes: s.intervalMinutes,
		AutoSyncEnabled: s.autoEnabled,
	}
}

// SetInterval changes the auto-sync period and reschedules the cron
// entry when auto-sync is running.
func (s *Syncer) SetInterval(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("sync interval must be at least 1 minute, got %d", minutes)
	}
	s.mu.Lock()
	s.intervalMinutes = minutes
	running := s.autoEnabled && s.entryID != 0
	s.mu.Unlock()

	if running {
		return s.reschedule(minutes)
	}
	return nil
}

// Start begins the auto-sync schedule when enabled. Safe to call with
// auto-sync disabled; it is then a no-op.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.autoEnabled
	minutes := s.intervalMinutes
	s.mu.Unlock()

	if !enabled {
		appLog.Info("auto-sync disabled")
		return nil
	}
	if err := s.reschedule(minutes); err != nil {
		return err
	}
	s.cron.Start()
	appLog.Info("auto-sync started", "interval_minutes", minutes)
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Syncer) Stop() {
	done := s.cron.Stop()
	<-done.Done()
}

func (s *Syncer) reschedule(minutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", minutes), func() {
		if _, err := s.SyncNow(context.Background(), ""); err != nil {
			if errors.Is(err, ErrSyncInFlight) {
				appLog.Warn("scheduled sync skipped, one already running")
				return
			}
			appLog.Error("scheduled sync failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("sync: schedule: %w", err)
	}
	s.entryID = id
	return nil
}

func (s *Syncer) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false
	}
	s.syncing = true
	return true
}

func (s *Syncer) end() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}
