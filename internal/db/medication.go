package db

import "gorm.io/gorm"

// Medication 描述患者登记的一种药物
// Frequency 使用 ONCE_DAILY/TWICE_DAILY 等频率编码
// StartDate 统一存储为 YYYY-MM-DD 字符串，避免时区换算
type Medication struct {
	gorm.Model
	PatientID uint `gorm:"index;not null"`
	Name      string
	Dosage    string
	Route     string
	Frequency string
	StartDate string
}
