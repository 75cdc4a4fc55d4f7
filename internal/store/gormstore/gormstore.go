// Package gormstore is the postgres-backed Store implementation.
package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	appLog "coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/store"
)

// Options describe the postgres connection.
type Options struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Gorm wraps a pooled gorm connection and implements store.Store.
type Gorm struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the course/event tables.
func Open(opts Options) (*Gorm, error) {
	if opts.SSLMode == "" {
		opts.SSLMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		opts.Host, opts.User, opts.Password, opts.DBName, opts.Port, opts.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Error),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: connect failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Course{}, &model.Event{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate failed: %w", err)
	}

	appLog.Info("postgres store ready", "host", opts.Host, "db", opts.DBName)
	return &Gorm{db: db}, nil
}

func (g *Gorm) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	if err := g.db.WithContext(ctx).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("gormstore: get events: %w", err)
	}
	return events, nil
}

func (g *Gorm) GetAllCourses(ctx context.Context) ([]model.Course, error) {
	var courses []model.Course
	if err := g.db.WithContext(ctx).Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("gormstore: get courses: %w", err)
	}
	return courses, nil
}

func upsertEvents(db *gorm.DB, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&events).Error
}

func upsertCourses(db *gorm.DB, courses []model.Course) error {
	if len(courses) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&courses).Error
}

func deleteEvents(db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.Delete(&model.Event{}, "id IN ?", ids).Error
}

func (g *Gorm) BulkUpsertEvents(ctx context.Context, events []model.Event) error {
	if err := upsertEvents(g.db.WithContext(ctx), events); err != nil {
		return fmt.Errorf("gormstore: upsert events: %w", err)
	}
	return nil
}

func (g *Gorm) BulkUpsertCourses(ctx context.Context, courses []model.Course) error {
	if err := upsertCourses(g.db.WithContext(ctx), courses); err != nil {
		return fmt.Errorf("gormstore: upsert courses: %w", err)
	}
	return nil
}

func (g *Gorm) BulkDeleteEvents(ctx context.Context, ids []string) error {
	if err := deleteEvents(g.db.WithContext(ctx), ids); err != nil {
		return fmt.Errorf("gormstore: delete events: %w", err)
	}
	return nil
}

// ApplyBatch writes one reconciliation batch in a single transaction so
// a crash cannot leave the course and event tables half-applied.
func (g *Gorm) ApplyBatch(ctx context.Context, courses []model.Course, eventUpserts []model.Event, eventDeletes []string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertCourses(tx, courses); err != nil {
			return err
		}
		if err := upsertEvents(tx, eventUpserts); err != nil {
			return err
		}
		return deleteEvents(tx, eventDeletes)
	})
	if err != nil {
		return fmt.Errorf("gormstore: apply batch: %w", err)
	}
	return nil
}

func (g *Gorm) DeleteCourse(ctx context.Context, id string, cascade bool) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cascade {
			if err := tx.Delete(&model.Event{}, "course_id = ?", id).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Course{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("gormstore: delete course %s: %w", id, err)
	}
	return nil
}

func (g *Gorm) ClearAll(ctx context.Context) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.Event{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&model.Course{}).Error
	})
	if err != nil {
		return fmt.Errorf("gormstore: clear all: %w", err)
	}
	return nil
}

var (
	_ store.Store       = (*Gorm)(nil)
	_ store.BatchWriter = (*Gorm)(nil)
)
