package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/medreminder/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdherenceLedger 负责服药记录：按天登记 PENDING，并保证每个提醒每天只会 TAKEN 一次
type AdherenceLedger struct {
	db *gorm.DB
}

// TakeResult 是 MarkTaken 的结果；AlreadyTaken 为 true 时调用方不得再次发放积分
type TakeResult struct {
	Record       *db.AdherenceRecord
	AlreadyTaken bool
}

// NewAdherenceLedger 构造 AdherenceLedger
func NewAdherenceLedger(gdb *gorm.DB) *AdherenceLedger {
	return &AdherenceLedger{db: gdb}
}

// ScheduleOccurrence 为提醒在指定日期创建 PENDING 记录
func (l *AdherenceLedger) ScheduleOccurrence(reminder db.Reminder, day time.Time) (*db.AdherenceRecord, error) {
	return scheduleOccurrence(l.db, reminder, day)
}

func scheduleOccurrence(tx *gorm.DB, reminder db.Reminder, day time.Time) (*db.AdherenceRecord, error) {
	key := dateKey(day)
	if key < reminder.StartDate || key > reminder.EndDate {
		return nil, invalid(ReasonBadDate, "%s outside reminder window %s..%s", key, reminder.StartDate, reminder.EndDate)
	}

	at, err := scheduledFor(day, reminder.ScheduleTime)
	if err != nil {
		return nil, err
	}

	record := db.AdherenceRecord{
		ReminderID:    reminder.ID,
		PatientID:     reminder.PatientID,
		ScheduledFor:  at,
		ScheduledDate: key,
		Status:        db.AdherencePending,
	}

	if err := tx.Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: reminder %d on %s", ErrDuplicateSchedule, reminder.ID, key)
		}
		return nil, storageError("schedule occurrence", err)
	}

	return &record, nil
}

// ensureBatchSize 控制单条 INSERT 的行数，避免超出 SQLite 绑定变量上限
const ensureBatchSize = 500

// EnsureDay 幂等地为患者当天所有有效提醒补齐 PENDING 记录，返回新建数量
func (l *AdherenceLedger) EnsureDay(patientID uint, day time.Time) (int, error) {
	return l.ensure(l.db.Where("patient_id = ?", patientID), day)
}

// MaterializeDay 为所有患者补齐当天的 PENDING 记录
func (l *AdherenceLedger) MaterializeDay(day time.Time) (int, error) {
	return l.ensure(l.db, day)
}

func (l *AdherenceLedger) ensure(scope *gorm.DB, day time.Time) (int, error) {
	reminders, err := activeReminders(scope, day)
	if err != nil {
		return 0, err
	}
	if len(reminders) == 0 {
		return 0, nil
	}

	key := dateKey(day)
	records := make([]db.AdherenceRecord, 0, len(reminders))
	for _, reminder := range reminders {
		at, err := scheduledFor(day, reminder.ScheduleTime)
		if err != nil {
			return 0, err
		}
		records = append(records, db.AdherenceRecord{
			ReminderID:    reminder.ID,
			PatientID:     reminder.PatientID,
			ScheduledFor:  at,
			ScheduledDate: key,
			Status:        db.AdherencePending,
		})
	}

	result := l.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&records, ensureBatchSize)
	if result.Error != nil {
		return 0, storageError("ensure occurrences", result.Error)
	}

	return int(result.RowsAffected), nil
}

// MarkTaken 将提醒在 at 当天的记录由 PENDING 置为 TAKEN。
// 已 TAKEN 时返回 AlreadyTaken 而非错误；记录不存在或不属于该患者时返回 ErrNotFound。
func (l *AdherenceLedger) MarkTaken(reminderID, patientID uint, at time.Time) (*TakeResult, error) {
	var result *TakeResult
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = markTaken(tx, reminderID, patientID, at)
		return err
	})
	if err != nil {
		return nil, storageError("mark taken", err)
	}
	return result, nil
}

func markTaken(tx *gorm.DB, reminderID, patientID uint, at time.Time) (*TakeResult, error) {
	key := dateKey(at)

	var record db.AdherenceRecord
	if err := tx.Where("reminder_id = ? AND scheduled_date = ?", reminderID, key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no occurrence for reminder %d on %s", ErrNotFound, reminderID, key)
		}
		return nil, storageError("find occurrence", err)
	}

	if record.PatientID != patientID {
		return nil, fmt.Errorf("%w: no occurrence for reminder %d on %s", ErrNotFound, reminderID, key)
	}

	if record.Status == db.AdherenceTaken {
		return &TakeResult{Record: &record, AlreadyTaken: true}, nil
	}

	takenAt := at
	update := tx.Model(&db.AdherenceRecord{}).
		Where("id = ? AND status = ?", record.ID, db.AdherencePending).
		Updates(map[string]any{
			"status":   db.AdherenceTaken,
			"taken":    true,
			"taken_at": takenAt,
		})
	if update.Error != nil {
		return nil, storageError("mark taken", update.Error)
	}

	if update.RowsAffected == 0 {
		if err := tx.First(&record, record.ID).Error; err != nil {
			return nil, storageError("reload occurrence", err)
		}
		return &TakeResult{Record: &record, AlreadyTaken: true}, nil
	}

	record.Status = db.AdherenceTaken
	record.Taken = true
	record.TakenAt = &takenAt
	return &TakeResult{Record: &record}, nil
}

func recordAward(tx *gorm.DB, record *db.AdherenceRecord, points int) error {
	if err := tx.Model(&db.AdherenceRecord{}).Where("id = ?", record.ID).Update("points_awarded", points).Error; err != nil {
		return storageError("record award", err)
	}
	record.PointsAwarded = points
	return nil
}

// TodayOccurrences 返回有效期包含 today 的提醒，按 HH:mm 升序
func (l *AdherenceLedger) TodayOccurrences(patientID uint, today time.Time) ([]db.Reminder, error) {
	reminders, err := activeReminders(l.db.Where("patient_id = ?", patientID), today)
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func activeReminders(scope *gorm.DB, day time.Time) ([]db.Reminder, error) {
	key := dateKey(day)

	var reminders []db.Reminder
	if err := scope.Model(&db.Reminder{}).
		Where("start_date <= ? AND end_date >= ?", key, key).
		Order("schedule_time ASC, id ASC").
		Find(&reminders).Error; err != nil {
		return nil, storageError("list active reminders", err)
	}

	return reminders, nil
}

// TakenSet 返回至少有一条 TAKEN 记录的提醒 ID。
// 无法区分当天与历史，只适合当天界面勾选；按天查询请使用 TakenOn。
func (l *AdherenceLedger) TakenSet(patientID uint) (map[uint]struct{}, error) {
	return l.takenIDs(l.db.Where("patient_id = ?", patientID))
}

// TakenOn 返回指定日期已服用的提醒 ID
func (l *AdherenceLedger) TakenOn(patientID uint, day time.Time) (map[uint]struct{}, error) {
	return l.takenIDs(l.db.Where("patient_id = ? AND scheduled_date = ?", patientID, dateKey(day)))
}

func (l *AdherenceLedger) takenIDs(scope *gorm.DB) (map[uint]struct{}, error) {
	var ids []uint
	if err := scope.Model(&db.AdherenceRecord{}).
		Where("status = ?", db.AdherenceTaken).
		Distinct().
		Pluck("reminder_id", &ids).Error; err != nil {
		return nil, storageError("list taken reminders", err)
	}

	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// DayStatus 统计患者某天的计划次数与已服用次数
func (l *AdherenceLedger) DayStatus(patientID uint, day time.Time) (scheduled, taken int64, err error) {
	return dayStatus(l.db, patientID, day)
}

func dayStatus(tx *gorm.DB, patientID uint, day time.Time) (scheduled, taken int64, err error) {
	var row struct {
		Scheduled int64
		Taken     int64
	}

	if err := tx.Model(&db.AdherenceRecord{}).
		Select("COUNT(*) AS scheduled, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS taken", db.AdherenceTaken).
		Where("patient_id = ? AND scheduled_date = ?", patientID, dateKey(day)).
		Scan(&row).Error; err != nil {
		return 0, 0, storageError("day status", err)
	}

	return row.Scheduled, row.Taken, nil
}

// PatientsOn 返回某天存在服药记录的患者
func (l *AdherenceLedger) PatientsOn(day time.Time) ([]uint, error) {
	return l.PatientsBetween(day, day)
}

// PatientsBetween 返回 [from, to] 日期范围内存在服药记录的患者
func (l *AdherenceLedger) PatientsBetween(from, to time.Time) ([]uint, error) {
	var ids []uint
	if err := l.db.Model(&db.AdherenceRecord{}).
		Where("scheduled_date BETWEEN ? AND ?", dateKey(from), dateKey(to)).
		Distinct().
		Order("patient_id ASC").
		Pluck("patient_id", &ids).Error; err != nil {
		return nil, storageError("list patients", err)
	}
	return ids, nil
}
