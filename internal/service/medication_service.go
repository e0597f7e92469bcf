package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medreminder/internal/db"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
)

// MedicationInput 定义创建/更新药物时可配置字段
type MedicationInput struct {
	PatientID uint
	Name      string
	Dosage    string
	Route     string
	Frequency string
	StartDate string
}

// ReminderInput 定义为药物生成提醒的请求；Frequency 为空时沿用药物本身的频率
type ReminderInput struct {
	MedicationID uint
	Frequency    string
	Times        []ClockTime
	StartDate    string
}

// ReminderBatch 是一次创建请求的结果
type ReminderBatch struct {
	BatchID    string
	Medication db.Medication
	Reminders  []db.Reminder
	Scheduled  []db.AdherenceRecord
}

// occurrenceScheduler 为提醒登记某天的服药记录
type occurrenceScheduler interface {
	ScheduleOccurrence(reminder db.Reminder, day time.Time) (*db.AdherenceRecord, error)
}

// MedicationService 负责药物的增删改查以及提醒的持久化
type MedicationService struct {
	db        *gorm.DB
	scheduler occurrenceScheduler
	generator ScheduleGenerator
	policy    *bluemonday.Policy
}

// NewMedicationService 构造 MedicationService
func NewMedicationService(gdb *gorm.DB, ledger *AdherenceLedger) *MedicationService {
	return &MedicationService{
		db:        gdb,
		scheduler: ledger,
		policy:    bluemonday.StrictPolicy(),
	}
}

// Create 新建药物
func (s *MedicationService) Create(input MedicationInput) (*db.Medication, error) {
	medication, err := s.build(input)
	if err != nil {
		return nil, err
	}

	if err := s.db.Create(medication).Error; err != nil {
		return nil, storageError("create medication", err)
	}
	return medication, nil
}

// Get 根据 ID 获取药物
func (s *MedicationService) Get(id uint) (*db.Medication, error) {
	var medication db.Medication
	if err := s.db.First(&medication, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: medication %d", ErrNotFound, id)
		}
		return nil, storageError("get medication", err)
	}
	return &medication, nil
}

// ListByPatient 返回患者的全部药物
func (s *MedicationService) ListByPatient(patientID uint) ([]db.Medication, error) {
	var medications []db.Medication
	if err := s.db.Where("patient_id = ?", patientID).Order("created_at DESC, id DESC").Find(&medications).Error; err != nil {
		return nil, storageError("list medications", err)
	}
	return medications, nil
}

// Update 管理员编辑药物信息，已生成的提醒保持不变
func (s *MedicationService) Update(id uint, input MedicationInput) (*db.Medication, error) {
	existing, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if input.PatientID == 0 {
		input.PatientID = existing.PatientID
	}
	updated, err := s.build(input)
	if err != nil {
		return nil, err
	}

	existing.PatientID = updated.PatientID
	existing.Name = updated.Name
	existing.Dosage = updated.Dosage
	existing.Route = updated.Route
	existing.Frequency = updated.Frequency
	existing.StartDate = updated.StartDate

	if err := s.db.Save(existing).Error; err != nil {
		return nil, storageError("update medication", err)
	}
	return existing, nil
}

// Delete 删除药物及其提醒；历史服药记录保留
func (s *MedicationService) Delete(id uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.Medication{}, id)
		if result.Error != nil {
			return storageError("delete medication", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: medication %d", ErrNotFound, id)
		}
		if err := tx.Where("medication_id = ?", id).Delete(&db.Reminder{}).Error; err != nil {
			return storageError("delete reminders", err)
		}
		return nil
	})
	return storageError("delete medication", err)
}

func (s *MedicationService) build(input MedicationInput) (*db.Medication, error) {
	if input.PatientID == 0 {
		return nil, invalid(ReasonBadInput, "patient id is required")
	}

	name := s.clean(input.Name)
	if name == "" {
		return nil, invalid(ReasonBadInput, "medication name is required")
	}

	frequency := normalizeFrequency(input.Frequency)
	if _, ok := frequencyCounts[frequency]; !ok {
		return nil, invalid(ReasonBadFrequency, "unsupported frequency %q", input.Frequency)
	}

	startDate := strings.TrimSpace(input.StartDate)
	if _, err := time.Parse(dateLayout, startDate); err != nil {
		return nil, invalid(ReasonBadDate, "start date %q is not a calendar date", input.StartDate)
	}

	return &db.Medication{
		PatientID: input.PatientID,
		Name:      name,
		Dosage:    s.clean(input.Dosage),
		Route:     s.clean(input.Route),
		Frequency: frequency,
		StartDate: startDate,
	}, nil
}

func (s *MedicationService) clean(value string) string {
	return strings.TrimSpace(s.policy.Sanitize(strings.TrimSpace(value)))
}

// CreateReminders 生成并保存提醒，然后为起始日登记服药记录。
// 提醒已写入但登记失败时返回 *PartialScheduleError，绝不当作成功。
func (s *MedicationService) CreateReminders(input ReminderInput, now time.Time) (*ReminderBatch, error) {
	medication, err := s.Get(input.MedicationID)
	if err != nil {
		return nil, err
	}

	frequency := input.Frequency
	if strings.TrimSpace(frequency) == "" {
		frequency = medication.Frequency
	}

	reminders, err := s.generator.Generate(ScheduleRequest{
		MedicationID: medication.ID,
		PatientID:    medication.PatientID,
		Frequency:    frequency,
		Times:        input.Times,
		StartDate:    input.StartDate,
	}, now)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	for i := range reminders {
		reminders[i].BatchID = batchID
	}

	if err := s.db.Create(&reminders).Error; err != nil {
		return nil, storageError("create reminders", err)
	}

	batch := &ReminderBatch{BatchID: batchID, Medication: *medication, Reminders: reminders}

	startDay, err := time.ParseInLocation(dateLayout, reminders[0].StartDate, now.Location())
	if err != nil {
		return nil, invalid(ReasonBadDate, "start date %q", reminders[0].StartDate)
	}

	var (
		failed []uint
		errs   []error
	)
	for _, reminder := range reminders {
		record, err := s.scheduler.ScheduleOccurrence(reminder, startDay)
		if err != nil {
			failed = append(failed, reminder.ID)
			errs = append(errs, err)
			continue
		}
		batch.Scheduled = append(batch.Scheduled, *record)
	}

	if len(failed) > 0 {
		return batch, &PartialScheduleError{Batch: batch, Failed: failed, Err: errors.Join(errs...)}
	}

	return batch, nil
}
