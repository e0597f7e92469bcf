package service

import (
	"context"
	"sync"
	"testing"

	"github.com/medreminder/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupEngineTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.Open(sqlite.Open("file::memory:"), logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return gdb
}

func seedReminder(t *testing.T, gdb *gorm.DB, patientID uint, hhmm, start, end string) db.Reminder {
	t.Helper()

	reminder := db.Reminder{
		MedicationID: 1,
		PatientID:    patientID,
		ScheduleTime: hhmm,
		Frequency:    FrequencyOnceDaily,
		StartDate:    start,
		EndDate:      end,
	}
	if err := gdb.Create(&reminder).Error; err != nil {
		t.Fatalf("failed to seed reminder: %v", err)
	}
	return reminder
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
