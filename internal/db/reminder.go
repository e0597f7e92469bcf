package db

import (
	"time"

	"gorm.io/gorm"
)

// 服药记录状态
const (
	AdherencePending = "PENDING"
	AdherenceTaken   = "TAKEN"
)

// Reminder 是一次具体的提醒安排（某药物在有效期内每天的某个时间点）
// ScheduleTime 为 24 小时制 HH:mm，补零后可直接按字符串排序
// StartDate/EndDate 为 YYYY-MM-DD，EndDate 固定为 StartDate + 30 天
// BatchID 标记同一次创建请求生成的提醒
type Reminder struct {
	gorm.Model
	MedicationID uint   `gorm:"index;not null"`
	PatientID    uint   `gorm:"index;not null"`
	ScheduleTime string `gorm:"size:5;not null"`
	Frequency    string
	StartDate    string `gorm:"size:10;index;not null"`
	EndDate      string `gorm:"size:10;index;not null"`
	BatchID      string `gorm:"size:36;index"`
}

// AdherenceRecord 记录某个提醒在某一天是否已服用
// (reminder_id, scheduled_for) 与 (reminder_id, scheduled_date) 均为唯一索引，
// 保证每个提醒每天至多一条记录，也就至多一次 TAKEN
type AdherenceRecord struct {
	ID            uint      `gorm:"primaryKey"`
	ReminderID    uint      `gorm:"not null;index:idx_adherence_slot,unique;index:idx_adherence_day,unique"`
	PatientID     uint      `gorm:"index;not null"`
	ScheduledFor  time.Time `gorm:"not null;index:idx_adherence_slot,unique"`
	ScheduledDate string    `gorm:"size:10;not null;index;index:idx_adherence_day,unique"`
	Taken         bool
	TakenAt       *time.Time
	PointsAwarded int
	Status        string `gorm:"size:16;not null;default:PENDING"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 固定表名，唯一索引依赖该表
func (AdherenceRecord) TableName() string {
	return "adherence_records"
}
