package service

import (
	"errors"
	"time"

	"github.com/medreminder/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DoseResult 是一次服药打卡的结果
type DoseResult struct {
	Record       *db.AdherenceRecord
	AlreadyTaken bool
	Awarded      int
	Tracker      *db.PointsTracker
}

// DoseService 串联服药打卡与积分发放：两者在同一事务内完成，保证只发放一次积分
type DoseService struct {
	db         *gorm.DB
	dosePoints int
	logger     *zap.Logger
	now        func() time.Time
}

// NewDoseService 构造 DoseService，dosePoints 为每次服药的基础积分
func NewDoseService(gdb *gorm.DB, dosePoints int, logger *zap.Logger) *DoseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DoseService{db: gdb, dosePoints: dosePoints, logger: logger, now: time.Now}
}

// Take 标记提醒在 at 当天已服用并发放积分。at 不能晚于今天；并发冲突时自动重试一次。
func (s *DoseService) Take(reminderID, patientID uint, at time.Time) (*DoseResult, error) {
	if IsFutureDay(at, s.now()) {
		return nil, invalid(ReasonBadDate, "cannot take dose scheduled for %s before that day", dateKey(at))
	}

	result, err := s.take(reminderID, patientID, at)
	if errors.Is(err, ErrConcurrencyConflict) {
		s.logger.Warn("retrying dose after conflict",
			zap.Uint("reminder_id", reminderID),
			zap.Uint("patient_id", patientID),
			zap.Error(err))
		result, err = s.take(reminderID, patientID, at)
	}
	return result, err
}

func (s *DoseService) take(reminderID, patientID uint, at time.Time) (*DoseResult, error) {
	var result DoseResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		taken, err := markTaken(tx, reminderID, patientID, at)
		if err != nil {
			return err
		}

		result.Record = taken.Record
		if taken.AlreadyTaken {
			result.AlreadyTaken = true
			return nil
		}

		tracker, awarded, err := awardPoints(tx, patientID, s.dosePoints, s.now())
		if err != nil {
			return err
		}
		if err := recordAward(tx, taken.Record, awarded); err != nil {
			return err
		}

		result.Tracker = tracker
		result.Awarded = awarded
		return nil
	})
	if err != nil {
		return nil, storageError("take dose", err)
	}

	if result.AlreadyTaken {
		tracker, err := loadTracker(s.db, patientID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		result.Tracker = tracker
	}

	return &result, nil
}

// IsFutureDay 判断 at 所在日期是否晚于 now 所在日期
func IsFutureDay(at, now time.Time) bool {
	return dateKey(at) > dateKey(now.In(at.Location()))
}
